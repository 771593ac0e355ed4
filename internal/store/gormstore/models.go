package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. Credits is the cached balance and
// is only ever written in the same transaction as its ledger row.
type Account struct {
	AccountID string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index:uniq_accounts_user,unique"`
	Credits   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// CreditTransaction mirrors the credit_transactions table. Rows are
// append-only; the unique index on external_reference is the idempotency
// guard for settlements.
type CreditTransaction struct {
	TransactionID     string         `gorm:"type:uuid;primaryKey"`
	UserID            string         `gorm:"not null;index:idx_credit_transactions_user_created,priority:1"`
	Type              string         `gorm:"not null"`
	Amount            int64          `gorm:"not null"`
	CreditsAfter      int64          `gorm:"not null"`
	ExternalReference *string        `gorm:"index:uniq_credit_transactions_reference,unique"`
	PackageName       string         `gorm:""`
	PriceCents        int64          `gorm:"not null;default:0"`
	Currency          string         `gorm:""`
	Status            string         `gorm:"not null"`
	Metadata          datatypes.JSON `gorm:"not null"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_credit_transactions_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}
