package credits

import (
	"errors"
	"testing"
)

func TestNewUserID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " user-123 ", wantVal: "user-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidUserID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := NewUserID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				t.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestNewExternalReference(t *testing.T) {
	t.Parallel()
	_, err := NewExternalReference("  ")
	if !errors.Is(err, ErrInvalidExternalReference) {
		t.Fatalf("expected ErrInvalidExternalReference, got %v", err)
	}
	reference, err := NewExternalReference("cs_test_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	derived, err := reference.Derive("refund")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if derived.String() != "cs_test_1:refund" {
		t.Fatalf("expected derived key, got %q", derived.String())
	}
}

func TestNewCreditAmount(t *testing.T) {
	t.Parallel()
	for _, raw := range []int64{0, -5} {
		if _, err := NewCreditAmount(raw); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %d, got %v", raw, err)
		}
	}
	amount, err := NewCreditAmount(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount.Int64() != 10 {
		t.Fatalf("expected 10, got %d", amount.Int64())
	}
}

func TestNewMetadataJSON(t *testing.T) {
	t.Parallel()
	metadata, err := NewMetadataJSON("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metadata.String() != "{}" {
		t.Fatalf("expected empty metadata to default to {}, got %q", metadata.String())
	}
	if _, err := NewMetadataJSON("{not json"); !errors.Is(err, ErrInvalidMetadataJSON) {
		t.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}

func TestParseTransactionType(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"PURCHASE", "CONSUMPTION", "REFUND", "ADJUSTMENT"} {
		if _, err := ParseTransactionType(raw); err != nil {
			t.Fatalf("expected %q to parse, got %v", raw, err)
		}
	}
	if _, err := ParseTransactionType("purchase"); !errors.Is(err, ErrInvalidTransactionType) {
		t.Fatalf("expected ErrInvalidTransactionType, got %v", err)
	}
}

func TestParseTransactionStatus(t *testing.T) {
	t.Parallel()
	if _, err := ParseTransactionStatus("COMPLETED"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseTransactionStatus("done"); !errors.Is(err, ErrInvalidTransactionStatus) {
		t.Fatalf("expected ErrInvalidTransactionStatus, got %v", err)
	}
}

func TestNewTransactionInputEnforcesAmountSign(t *testing.T) {
	t.Parallel()
	userID := mustUserID(t, "user-1")
	metadata := mustMetadata(t, "{}")
	cases := []struct {
		name            string
		transactionType TransactionType
		amount          int64
		wantErr         error
	}{
		{name: "zero amount", transactionType: TransactionAdjustment, amount: 0, wantErr: ErrInvalidAmount},
		{name: "negative purchase", transactionType: TransactionPurchase, amount: -5, wantErr: ErrInvalidAmount},
		{name: "positive consumption", transactionType: TransactionConsumption, amount: 5, wantErr: ErrInvalidAmount},
		{name: "positive refund", transactionType: TransactionRefund, amount: 5, wantErr: ErrInvalidAmount},
		{name: "negative adjustment", transactionType: TransactionAdjustment, amount: -5},
		{name: "purchase", transactionType: TransactionPurchase, amount: 10},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewTransactionInput(userID, tc.transactionType, tc.amount, nil, "", 0, "", StatusCompleted, metadata, 0)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewTransactionInputRejectsBadEnums(t *testing.T) {
	t.Parallel()
	userID := mustUserID(t, "user-1")
	metadata := mustMetadata(t, "{}")
	if _, err := NewTransactionInput(userID, TransactionType("GIFT"), 1, nil, "", 0, "", StatusCompleted, metadata, 0); !errors.Is(err, ErrInvalidTransactionType) {
		t.Fatalf("expected ErrInvalidTransactionType, got %v", err)
	}
	if _, err := NewTransactionInput(userID, TransactionPurchase, 1, nil, "", 0, "", TransactionStatus("OK"), metadata, 0); !errors.Is(err, ErrInvalidTransactionStatus) {
		t.Fatalf("expected ErrInvalidTransactionStatus, got %v", err)
	}
}
