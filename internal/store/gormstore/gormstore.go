package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/speakspace/credits/pkg/credits"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionReference = "uniq_credit_transactions_reference"
	defaultMetadataJSON            = "{}"
	pgUniqueViolationCode          = "23505"
	sqliteConstraintCode           = 19
	errorOperationStore            = "store"
	errorSubjectAccount            = "account"
	errorSubjectTransaction        = "transaction"
	errorCodeCreate                = "create"
	errorCodeDebit                 = "debit"
	errorCodeDuplicate             = "duplicate"
	errorCodeGet                   = "get"
	errorCodeInsert                = "insert"
	errorCodeInvalid               = "invalid"
	errorCodeList                  = "list"
	errorCodeLookup                = "lookup"
	errorCodeReload                = "reload"
)

// Store implements credits.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema on backends without managed migrations.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &CreditTransaction{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// EnsureAccount provisions the zero-balance row for a new user.
func (store *Store) EnsureAccount(ctx context.Context, userID credits.UserID) error {
	account := Account{UserID: userID.String()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&account).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

// GetAccountCredits reads the cached balance. Absent accounts read as not
// found rather than failing, so page gates can treat them as zero.
func (store *Store) GetAccountCredits(ctx context.Context, userID credits.UserID) (int64, bool, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account.Credits, true, nil
}

// HasExternalReference reports whether a settlement reference was already
// recorded. Callers must not rely on it for correctness; the unique index
// enforced in AppendTransaction is the source of truth.
func (store *Store) HasExternalReference(ctx context.Context, reference credits.ExternalReference) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Where("external_reference = ?", reference.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return count > 0, nil
}

// AppendTransaction updates the cached balance and inserts the ledger row as
// one atomic unit. The balance update carries the non-negativity guard in
// its predicate, so a rejected debit touches nothing.
func (store *Store) AppendTransaction(ctx context.Context, input credits.TransactionInput) (credits.Transaction, error) {
	var appended credits.Transaction
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		result := transaction.
			Model(&Account{}).
			Where("user_id = ? AND credits + ? >= 0", input.UserID.String(), input.Amount).
			Update("credits", gorm.Expr("credits + ?", input.Amount))
		if result.Error != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeDebit, result.Error)
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := transaction.Model(&Account{}).Where("user_id = ?", input.UserID.String()).Count(&count).Error; err != nil {
				return wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
			}
			if count == 0 {
				return wrapStoreError(errorSubjectAccount, errorCodeLookup, credits.ErrUserNotFound)
			}
			return wrapStoreError(errorSubjectAccount, errorCodeDebit, credits.ErrInsufficientBalance)
		}

		var account Account
		if err := transaction.Where("user_id = ?", input.UserID.String()).Take(&account).Error; err != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeReload, err)
		}

		var reference *string
		if input.ExternalReference != nil {
			value := input.ExternalReference.String()
			reference = &value
		}
		createdAt := time.Unix(input.CreatedUnixUTC, 0).UTC()
		if input.CreatedUnixUTC == 0 {
			createdAt = time.Now().UTC()
		}
		row := CreditTransaction{
			UserID:            input.UserID.String(),
			Type:              input.Type.String(),
			Amount:            input.Amount,
			CreditsAfter:      account.Credits,
			ExternalReference: reference,
			PackageName:       input.PackageName,
			PriceCents:        input.PriceCents,
			Currency:          input.Currency,
			Status:            input.Status.String(),
			Metadata:          datatypesJSON(input.Metadata.String()),
			CreatedAt:         createdAt,
		}
		if err := transaction.Create(&row).Error; err != nil {
			if isReferenceConflict(err) {
				return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, credits.ErrDuplicateReference)
			}
			return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
		}
		appended = mapTransaction(row)
		return nil
	})
	if err != nil {
		return credits.Transaction{}, err
	}
	return appended, nil
}

// ListTransactions lists ledger rows for a user before a cutoff time.
func (store *Store) ListTransactions(ctx context.Context, userID credits.UserID, beforeUnixUTC int64, limit int) ([]credits.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND created_at < ?", userID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}

	transactions := make([]credits.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, mapTransaction(row))
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func mapTransaction(row CreditTransaction) credits.Transaction {
	reference := ""
	if row.ExternalReference != nil {
		reference = *row.ExternalReference
	}
	return credits.Transaction{
		TransactionID:     row.TransactionID,
		UserID:            row.UserID,
		Type:              credits.TransactionType(row.Type),
		Amount:            row.Amount,
		CreditsAfter:      row.CreditsAfter,
		ExternalReference: reference,
		PackageName:       row.PackageName,
		PriceCents:        row.PriceCents,
		Currency:          row.Currency,
		Status:            credits.TransactionStatus(row.Status),
		MetadataJSON:      string(row.Metadata),
		CreatedUnixUTC:    row.CreatedAt.Unix(),
	}
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isReferenceConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionReference
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
