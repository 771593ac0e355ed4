package credits

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
	policy EligibilityPolicy
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, policy: DefaultEligibilityPolicy()}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Settle credits a user's balance for a completed checkout exactly once.
// Redelivery of an already-settled reference is reported as success with
// AlreadyProcessed set; the unique constraint in the store, not the
// fast-path check, is the source of truth under concurrent duplicates.
func (service *Service) Settle(ctx context.Context, event SettlementEvent) (SettlementResult, error) {
	var result SettlementResult
	operationError := func() error {
		if validationError := validateSettlementEvent(event); validationError != nil {
			return validationError
		}

		// Fast path: skip the write when the reference is already settled.
		seen, err := service.store.HasExternalReference(ctx, event.ExternalReference)
		if err != nil {
			return err
		}
		if seen {
			duplicate, duplicateErr := service.duplicateResult(ctx, event.UserID)
			if duplicateErr != nil {
				return duplicateErr
			}
			result = duplicate
			return nil
		}

		transactionError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			reference := event.ExternalReference
			input, err := NewTransactionInput(
				event.UserID,
				TransactionPurchase,
				event.Credits.Int64(),
				&reference,
				event.PackageName,
				event.PriceCents,
				event.Currency,
				StatusCompleted,
				event.Metadata,
				service.nowFn(),
			)
			if err != nil {
				return err
			}
			transaction, err := transactionStore.AppendTransaction(ctx, input)
			if err != nil {
				return err
			}
			result = SettlementResult{Applied: true, CreditsAfter: transaction.CreditsAfter}
			return nil
		})
		if errors.Is(transactionError, ErrDuplicateReference) {
			duplicate, duplicateErr := service.duplicateResult(ctx, event.UserID)
			if duplicateErr != nil {
				return duplicateErr
			}
			result = duplicate
			return nil
		}
		return transactionError
	}()

	logStatus := ""
	if operationError == nil && result.AlreadyProcessed {
		logStatus = operationStatusDuplicate
	}
	service.logOperation(ctx, OperationLog{
		Operation:         operationSettle,
		UserID:            event.UserID,
		Amount:            event.Credits.Int64(),
		CreditsAfter:      result.CreditsAfter,
		ExternalReference: event.ExternalReference,
		Metadata:          event.Metadata,
		Status:            logStatus,
		Error:             operationError,
	})
	if operationError != nil {
		return SettlementResult{}, operationError
	}
	return result, nil
}

// Consume debits the balance for elapsed activity time. A debit that would
// drive the balance negative fails with ErrInsufficientBalance and writes
// nothing.
func (service *Service) Consume(ctx context.Context, userID UserID, amount CreditAmount, metadata MetadataJSON) (int64, error) {
	var creditsAfter int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		input, err := NewTransactionInput(
			userID,
			TransactionConsumption,
			-amount.Int64(),
			nil,
			"",
			0,
			"",
			StatusCompleted,
			metadata,
			service.nowFn(),
		)
		if err != nil {
			return err
		}
		transaction, err := transactionStore.AppendTransaction(ctx, input)
		if err != nil {
			return err
		}
		creditsAfter = transaction.CreditsAfter
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationConsume,
		UserID:       userID,
		Amount:       -amount.Int64(),
		CreditsAfter: creditsAfter,
		Metadata:     metadata,
		Error:        operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return creditsAfter, nil
}

// Refund reverses a settled purchase. The row carries a reference derived
// from the original one, so provider-side refund retries stay idempotent.
func (service *Service) Refund(ctx context.Context, userID UserID, purchaseReference ExternalReference, amount CreditAmount, metadata MetadataJSON) (int64, error) {
	var creditsAfter int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		refundReference, err := purchaseReference.Derive(referenceSuffixRefund)
		if err != nil {
			return err
		}
		input, err := NewTransactionInput(
			userID,
			TransactionRefund,
			-amount.Int64(),
			&refundReference,
			"",
			0,
			"",
			StatusCompleted,
			metadata,
			service.nowFn(),
		)
		if err != nil {
			return err
		}
		transaction, err := transactionStore.AppendTransaction(ctx, input)
		if err != nil {
			return err
		}
		creditsAfter = transaction.CreditsAfter
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:         operationRefund,
		UserID:            userID,
		Amount:            -amount.Int64(),
		CreditsAfter:      creditsAfter,
		ExternalReference: purchaseReference,
		Metadata:          metadata,
		Error:             operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return creditsAfter, nil
}

// Adjust applies a signed operator correction.
func (service *Service) Adjust(ctx context.Context, userID UserID, signedAmount int64, metadata MetadataJSON) (int64, error) {
	var creditsAfter int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		input, err := NewTransactionInput(
			userID,
			TransactionAdjustment,
			signedAmount,
			nil,
			"",
			0,
			"",
			StatusCompleted,
			metadata,
			service.nowFn(),
		)
		if err != nil {
			return err
		}
		transaction, err := transactionStore.AppendTransaction(ctx, input)
		if err != nil {
			return err
		}
		creditsAfter = transaction.CreditsAfter
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationAdjust,
		UserID:       userID,
		Amount:       signedAmount,
		CreditsAfter: creditsAfter,
		Metadata:     metadata,
		Error:        operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return creditsAfter, nil
}

// Balance returns the cached credits and derived minutes. A user with no
// account yet reads as zero.
func (service *Service) Balance(ctx context.Context, userID UserID) (Balance, error) {
	current, found, err := service.store.GetAccountCredits(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	if !found {
		return Balance{}, nil
	}
	return Balance{Credits: current, Minutes: MinutesForCredits(current)}, nil
}

// Minutes returns the speaking minutes the user's balance converts to.
func (service *Service) Minutes(ctx context.Context, userID UserID) (int64, error) {
	balance, err := service.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return balance.Minutes, nil
}

// CanStart applies the eligibility policy to the user's current balance.
func (service *Service) CanStart(ctx context.Context, userID UserID, kind ActivityKind) (bool, error) {
	if _, err := service.policy.Threshold(kind); err != nil {
		return false, err
	}
	balance, err := service.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return service.policy.CanStart(kind, balance.Credits), nil
}

// Policy exposes the active eligibility thresholds.
func (service *Service) Policy() EligibilityPolicy {
	return service.policy
}

// History lists ledger rows for a user before a cutoff time.
func (service *Service) History(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	return service.store.ListTransactions(ctx, userID, beforeUnixUTC, limit)
}

func (service *Service) duplicateResult(ctx context.Context, userID UserID) (SettlementResult, error) {
	current, _, err := service.store.GetAccountCredits(ctx, userID)
	if err != nil {
		return SettlementResult{}, err
	}
	return SettlementResult{Applied: false, AlreadyProcessed: true, CreditsAfter: current}, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func validateSettlementEvent(event SettlementEvent) error {
	if event.UserID.String() == "" {
		return fmt.Errorf("%w: missing user id", ErrMalformedEvent)
	}
	if event.ExternalReference.String() == "" {
		return fmt.Errorf("%w: missing external reference", ErrMalformedEvent)
	}
	if event.Credits.Int64() <= 0 {
		return fmt.Errorf("%w: credits must be greater than zero", ErrMalformedEvent)
	}
	return nil
}
