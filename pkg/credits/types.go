package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UserID identifies an account owner.
type UserID struct {
	value string
}

// ExternalReference is the payment provider's id for a completed checkout,
// used as the settlement idempotency key.
type ExternalReference struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// CreditAmount is a strictly positive number of credits.
type CreditAmount int64

// TransactionType enumerates ledger row kinds.
type TransactionType string

const (
	TransactionPurchase    TransactionType = "PURCHASE"
	TransactionConsumption TransactionType = "CONSUMPTION"
	TransactionRefund      TransactionType = "REFUND"
	TransactionAdjustment  TransactionType = "ADJUSTMENT"
)

// TransactionStatus defines the lifecycle state recorded on a ledger row.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewExternalReference validates and normalizes a provider reference.
func NewExternalReference(raw string) (ExternalReference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ExternalReference{}, fmt.Errorf("%w: empty value", ErrInvalidExternalReference)
	}
	return ExternalReference{value: trimmed}, nil
}

// String returns the normalized reference.
func (reference ExternalReference) String() string {
	return reference.value
}

// Derive appends a suffix so follow-up rows (refunds) carry their own key.
func (reference ExternalReference) Derive(suffix string) (ExternalReference, error) {
	return NewExternalReference(reference.value + referenceDelimiter + suffix)
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewCreditAmount validates an amount and ensures it is strictly positive.
func NewCreditAmount(raw int64) (CreditAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return CreditAmount(raw), nil
}

// Int64 returns the raw credit count.
func (amount CreditAmount) Int64() int64 {
	return int64(amount)
}

// ParseTransactionType validates a stored transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionPurchase, TransactionConsumption, TransactionRefund, TransactionAdjustment:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the stored enum value.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// ParseTransactionStatus validates a stored transaction status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case StatusPending, StatusCompleted, StatusFailed:
		return TransactionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
}

// String returns the stored enum value.
func (status TransactionStatus) String() string {
	return string(status)
}

// Transaction is a single immutable line in the ledger.
type Transaction struct {
	TransactionID     string
	UserID            string
	Type              TransactionType
	Amount            int64
	CreditsAfter      int64
	ExternalReference string
	PackageName       string
	PriceCents        int64
	Currency          string
	Status            TransactionStatus
	MetadataJSON      string
	CreatedUnixUTC    int64
}

// Balance is the read view exposed to page gates.
type Balance struct {
	Credits int64
	Minutes int64
}

// SettlementEvent carries the verified payload of a completed checkout.
type SettlementEvent struct {
	ExternalReference ExternalReference
	UserID            UserID
	Credits           CreditAmount
	PackageName       string
	PriceCents        int64
	Currency          string
	Metadata          MetadataJSON
}

// SettlementResult reports the outcome of processing a settlement event.
type SettlementResult struct {
	Applied          bool
	AlreadyProcessed bool
	CreditsAfter     int64
}

// TransactionInput describes a row to append; amount is signed and the
// snapshot is computed by the store under the account row lock.
type TransactionInput struct {
	UserID            UserID
	Type              TransactionType
	Amount            int64
	ExternalReference *ExternalReference
	PackageName       string
	PriceCents        int64
	Currency          string
	Status            TransactionStatus
	Metadata          MetadataJSON
	CreatedUnixUTC    int64
}

// NewTransactionInput validates a ledger row before it reaches the store.
func NewTransactionInput(
	userID UserID,
	transactionType TransactionType,
	amount int64,
	externalReference *ExternalReference,
	packageName string,
	priceCents int64,
	currency string,
	status TransactionStatus,
	metadata MetadataJSON,
	createdUnixUTC int64,
) (TransactionInput, error) {
	if _, err := ParseTransactionType(transactionType.String()); err != nil {
		return TransactionInput{}, err
	}
	if _, err := ParseTransactionStatus(status.String()); err != nil {
		return TransactionInput{}, err
	}
	if amount == 0 {
		return TransactionInput{}, fmt.Errorf("%w: amount must be non-zero", ErrInvalidAmount)
	}
	switch transactionType {
	case TransactionPurchase:
		if amount < 0 {
			return TransactionInput{}, fmt.Errorf("%w: purchase amount must be positive", ErrInvalidAmount)
		}
	case TransactionConsumption, TransactionRefund:
		if amount > 0 {
			return TransactionInput{}, fmt.Errorf("%w: %s amount must be negative", ErrInvalidAmount, strings.ToLower(transactionType.String()))
		}
	}
	return TransactionInput{
		UserID:            userID,
		Type:              transactionType,
		Amount:            amount,
		ExternalReference: externalReference,
		PackageName:       packageName,
		PriceCents:        priceCents,
		Currency:          currency,
		Status:            status,
		Metadata:          metadata,
		CreatedUnixUTC:    createdUnixUTC,
	}, nil
}

// Store is the persistence contract used by Service. Implementations must
// enforce the unique constraint on external references inside the same
// transaction as the balance write.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	EnsureAccount(ctx context.Context, userID UserID) error
	GetAccountCredits(ctx context.Context, userID UserID) (credits int64, found bool, err error)
	HasExternalReference(ctx context.Context, reference ExternalReference) (bool, error)
	AppendTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	ListTransactions(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Transaction, error)
}
