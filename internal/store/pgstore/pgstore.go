// Package pgstore implements the credits store over raw pgx SQL for
// deployments that run against PostgreSQL without the ORM layer.
package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/speakspace/credits/pkg/credits"
)

const (
	constraintTransactionReference = "uniq_credit_transactions_reference"
	pgUniqueViolationCode          = "23505"
	errorOperationStore            = "store"
	errorSubjectAccount            = "account"
	errorSubjectTransaction        = "transaction"
	errorCodeBegin                 = "begin"
	errorCodeCommit                = "commit"
	errorCodeCreate                = "create"
	errorCodeDebit                 = "debit"
	errorCodeDuplicate             = "duplicate"
	errorCodeInsert                = "insert"
	errorCodeList                  = "list"
	errorCodeLookup                = "lookup"
	errorCodeReload                = "reload"

	sqlEnsureAccount = `
		insert into accounts(account_id, user_id, credits, created_at, updated_at)
		values (gen_random_uuid(), $1, 0, now(), now())
		on conflict (user_id) do nothing
	`

	sqlSelectCredits = `
		select credits from accounts where user_id = $1
	`

	sqlCountReference = `
		select count(*) from credit_transactions where external_reference = $1
	`

	sqlApplyBalanceDelta = `
		update accounts
		set credits = credits + $2, updated_at = now()
		where user_id = $1 and credits + $2 >= 0
		returning credits
	`

	sqlCountAccount = `
		select count(*) from accounts where user_id = $1
	`

	sqlInsertTransaction = `
		insert into credit_transactions(
			transaction_id, user_id, type, amount, credits_after,
			external_reference, package_name, price_cents, currency, status, metadata, created_at
		)
		values (
			gen_random_uuid(), $1, $2, $3, $4,
			nullif($5,''), $6, $7, $8, $9,
			coalesce(nullif($10,''),'{}')::jsonb,
			case when $11 = 0 then now() else to_timestamp($11) end
		)
		returning transaction_id, extract(epoch from created_at)::bigint
	`

	sqlListTransactionsBefore = `
		select
			transaction_id::text,
			user_id,
			type,
			amount,
			credits_after,
			coalesce(external_reference,''),
			coalesce(package_name,''),
			price_cents,
			coalesce(currency,''),
			status,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from credit_transactions
		where user_id = $1 and created_at < case when $2 = 0 then now() + interval '1 second' else to_timestamp($2) end
		order by created_at desc
		limit $3
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements credits.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements credits.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) EnsureAccount(ctx context.Context, userID credits.UserID) error {
	return ensureAccount(ctx, store.pool, userID)
}

func (store *Store) GetAccountCredits(ctx context.Context, userID credits.UserID) (int64, bool, error) {
	return getAccountCredits(ctx, store.pool, userID)
}

func (store *Store) HasExternalReference(ctx context.Context, reference credits.ExternalReference) (bool, error) {
	return hasExternalReference(ctx, store.pool, reference)
}

// AppendTransaction on the pool store opens its own transaction so the
// balance update and the log insert stay atomic for direct callers.
func (store *Store) AppendTransaction(ctx context.Context, input credits.TransactionInput) (credits.Transaction, error) {
	var appended credits.Transaction
	err := store.WithTx(ctx, func(ctx context.Context, txStore credits.Store) error {
		transaction, err := txStore.AppendTransaction(ctx, input)
		if err != nil {
			return err
		}
		appended = transaction
		return nil
	})
	if err != nil {
		return credits.Transaction{}, err
	}
	return appended, nil
}

func (store *Store) ListTransactions(ctx context.Context, userID credits.UserID, beforeUnixUTC int64, limit int) ([]credits.Transaction, error) {
	return listTransactions(ctx, store.pool, userID, beforeUnixUTC, limit)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) EnsureAccount(ctx context.Context, userID credits.UserID) error {
	return ensureAccount(ctx, store.tx, userID)
}

func (store *TxStore) GetAccountCredits(ctx context.Context, userID credits.UserID) (int64, bool, error) {
	return getAccountCredits(ctx, store.tx, userID)
}

func (store *TxStore) HasExternalReference(ctx context.Context, reference credits.ExternalReference) (bool, error) {
	return hasExternalReference(ctx, store.tx, reference)
}

func (store *TxStore) AppendTransaction(ctx context.Context, input credits.TransactionInput) (credits.Transaction, error) {
	var creditsAfter int64
	err := store.tx.QueryRow(ctx, sqlApplyBalanceDelta, input.UserID.String(), input.Amount).Scan(&creditsAfter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var count int64
			if countErr := store.tx.QueryRow(ctx, sqlCountAccount, input.UserID.String()).Scan(&count); countErr != nil {
				return credits.Transaction{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, countErr)
			}
			if count == 0 {
				return credits.Transaction{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, credits.ErrUserNotFound)
			}
			return credits.Transaction{}, wrapStoreError(errorSubjectAccount, errorCodeDebit, credits.ErrInsufficientBalance)
		}
		return credits.Transaction{}, wrapStoreError(errorSubjectAccount, errorCodeDebit, err)
	}

	reference := ""
	if input.ExternalReference != nil {
		reference = input.ExternalReference.String()
	}
	var (
		transactionID  string
		createdUnixUTC int64
	)
	err = store.tx.QueryRow(ctx, sqlInsertTransaction,
		input.UserID.String(),
		input.Type.String(),
		input.Amount,
		creditsAfter,
		reference,
		input.PackageName,
		input.PriceCents,
		input.Currency,
		input.Status.String(),
		input.Metadata.String(),
		input.CreatedUnixUTC,
	).Scan(&transactionID, &createdUnixUTC)
	if isReferenceConflict(err) {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, credits.ErrDuplicateReference)
	}
	if err != nil {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return credits.Transaction{
		TransactionID:     transactionID,
		UserID:            input.UserID.String(),
		Type:              input.Type,
		Amount:            input.Amount,
		CreditsAfter:      creditsAfter,
		ExternalReference: reference,
		PackageName:       input.PackageName,
		PriceCents:        input.PriceCents,
		Currency:          input.Currency,
		Status:            input.Status,
		MetadataJSON:      input.Metadata.String(),
		CreatedUnixUTC:    createdUnixUTC,
	}, nil
}

func (store *TxStore) ListTransactions(ctx context.Context, userID credits.UserID, beforeUnixUTC int64, limit int) ([]credits.Transaction, error) {
	return listTransactions(ctx, store.tx, userID, beforeUnixUTC, limit)
}

func ensureAccount(ctx context.Context, database querier, userID credits.UserID) error {
	if _, err := database.Exec(ctx, sqlEnsureAccount, userID.String()); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func getAccountCredits(ctx context.Context, database querier, userID credits.UserID) (int64, bool, error) {
	var current int64
	err := database.QueryRow(ctx, sqlSelectCredits, userID.String()).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return current, true, nil
}

func hasExternalReference(ctx context.Context, database querier, reference credits.ExternalReference) (bool, error) {
	var count int64
	err := database.QueryRow(ctx, sqlCountReference, reference.String()).Scan(&count)
	if err != nil {
		return false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return count > 0, nil
}

func listTransactions(ctx context.Context, database querier, userID credits.UserID, beforeUnixUTC int64, limit int) ([]credits.Transaction, error) {
	rows, err := database.Query(ctx, sqlListTransactionsBefore, userID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()

	var transactions []credits.Transaction
	for rows.Next() {
		var (
			transaction credits.Transaction
			typeValue   string
			statusValue string
		)
		err := rows.Scan(
			&transaction.TransactionID,
			&transaction.UserID,
			&typeValue,
			&transaction.Amount,
			&transaction.CreditsAfter,
			&transaction.ExternalReference,
			&transaction.PackageName,
			&transaction.PriceCents,
			&transaction.Currency,
			&statusValue,
			&transaction.MetadataJSON,
			&transaction.CreatedUnixUTC,
		)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
		}
		transaction.Type = credits.TransactionType(typeValue)
		transaction.Status = credits.TransactionStatus(statusValue)
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isReferenceConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionReference
	}
	return false
}
