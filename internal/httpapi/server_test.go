package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/speakspace/credits/pkg/credits"
	"go.uber.org/zap"
)

const testSigningKey = "unit-test-signing-key"

type stubLedger struct {
	balance      credits.Balance
	balanceErr   error
	eligible     bool
	eligibleErr  error
	history      []credits.Transaction
	historyErr   error
	historyLimit int
	historyFrom  int64
}

func (stub *stubLedger) Balance(_ context.Context, _ credits.UserID) (credits.Balance, error) {
	return stub.balance, stub.balanceErr
}

func (stub *stubLedger) CanStart(_ context.Context, _ credits.UserID, _ credits.ActivityKind) (bool, error) {
	return stub.eligible, stub.eligibleErr
}

func (stub *stubLedger) History(_ context.Context, _ credits.UserID, beforeUnixUTC int64, limit int) ([]credits.Transaction, error) {
	stub.historyFrom = beforeUnixUTC
	stub.historyLimit = limit
	return stub.history, stub.historyErr
}

func (stub *stubLedger) Policy() credits.EligibilityPolicy {
	return credits.DefaultEligibilityPolicy()
}

func newTestAPI(test *testing.T, ledger LedgerService) http.Handler {
	test.Helper()
	cfg := Config{
		JWTSigningKey:       testSigningKey,
		StripeWebhookSecret: "whsec_test",
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate config: %v", err)
	}
	handler := &httpHandler{logger: zap.NewNop(), service: ledger, cfg: cfg}
	return setupRouter(cfg, handler, nil)
}

func signedToken(test *testing.T, subject string) string {
	test.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	return signed
}

func getJSON(test *testing.T, router http.Handler, path string, token string) (*httptest.ResponseRecorder, map[string]any) {
	test.Helper()
	request := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	body := map[string]any{}
	if recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
			test.Fatalf("decode body %q: %v", recorder.Body.String(), err)
		}
	}
	return recorder, body
}

func TestHealthzNeedsNoToken(test *testing.T) {
	test.Parallel()
	router := newTestAPI(test, &stubLedger{})
	recorder, body := getJSON(test, router, "/healthz", "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	if body["status"] != "ok" {
		test.Fatalf("body = %v", body)
	}
}

func TestCreditsRequiresBearerToken(test *testing.T) {
	test.Parallel()
	router := newTestAPI(test, &stubLedger{})

	recorder, _ := getJSON(test, router, "/api/credits", "")
	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("missing token status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}

	recorder, _ = getJSON(test, router, "/api/credits", "not-a-jwt")
	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("garbage token status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}

func TestCreditsRejectsTokenSignedWithWrongKey(test *testing.T) {
	test.Parallel()
	router := newTestAPI(test, &stubLedger{})
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"})
	signed, err := token.SignedString([]byte("some-other-key"))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	recorder, _ := getJSON(test, router, "/api/credits", signed)
	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}

func TestCreditsReturnsBalance(test *testing.T) {
	test.Parallel()
	router := newTestAPI(test, &stubLedger{balance: credits.Balance{Credits: 42, Minutes: 42}})
	recorder, body := getJSON(test, router, "/api/credits", signedToken(test, "user-1"))
	if recorder.Code != http.StatusOK {
		test.Fatalf("status = %d, body = %v", recorder.Code, body)
	}
	if body["credits"] != float64(42) {
		test.Fatalf("credits = %v, want 42", body["credits"])
	}
}

func TestMinutesReturnsDerivedMinutes(test *testing.T) {
	test.Parallel()
	router := newTestAPI(test, &stubLedger{balance: credits.Balance{Credits: 7, Minutes: 7}})
	recorder, body := getJSON(test, router, "/api/minutes", signedToken(test, "user-1"))
	if recorder.Code != http.StatusOK {
		test.Fatalf("status = %d, body = %v", recorder.Code, body)
	}
	if body["minutes"] != float64(7) {
		test.Fatalf("minutes = %v, want 7", body["minutes"])
	}
}

func TestBalanceFailureIsBadGateway(test *testing.T) {
	test.Parallel()
	router := newTestAPI(test, &stubLedger{balanceErr: credits.WrapError("store", "account", "unavailable", context.DeadlineExceeded)})
	recorder, _ := getJSON(test, router, "/api/credits", signedToken(test, "user-1"))
	if recorder.Code != http.StatusBadGateway {
		test.Fatalf("status = %d, want %d", recorder.Code, http.StatusBadGateway)
	}
}

func TestEligibilityReportsThresholdAndVerdict(test *testing.T) {
	test.Parallel()
	router := newTestAPI(test, &stubLedger{eligible: true, balance: credits.Balance{Credits: 20, Minutes: 20}})
	recorder, body := getJSON(test, router, "/api/eligibility?kind=mock-test", signedToken(test, "user-1"))
	if recorder.Code != http.StatusOK {
		test.Fatalf("status = %d, body = %v", recorder.Code, body)
	}
	if body["eligible"] != true {
		test.Fatalf("eligible = %v, want true", body["eligible"])
	}
	if body["threshold_minutes"] != float64(15) {
		test.Fatalf("threshold_minutes = %v, want 15", body["threshold_minutes"])
	}
}

func TestEligibilityRejectsUnknownKind(test *testing.T) {
	test.Parallel()
	router := newTestAPI(test, &stubLedger{})
	recorder, _ := getJSON(test, router, "/api/eligibility?kind=karaoke", signedToken(test, "user-1"))
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestTransactionsListsHistory(test *testing.T) {
	test.Parallel()
	ledger := &stubLedger{history: []credits.Transaction{
		{
			TransactionID:  "tx-2",
			Type:           credits.TransactionConsumption,
			Amount:         -5,
			CreditsAfter:   5,
			Status:         credits.StatusCompleted,
			CreatedUnixUTC: 1700000100,
		},
		{
			TransactionID:     "tx-1",
			Type:              credits.TransactionPurchase,
			Amount:            10,
			CreditsAfter:      10,
			ExternalReference: "cs_test_1",
			PackageName:       "starter",
			Status:            credits.StatusCompleted,
			CreatedUnixUTC:    1700000000,
		},
	}}
	router := newTestAPI(test, ledger)
	recorder, body := getJSON(test, router, "/api/transactions", signedToken(test, "user-1"))
	if recorder.Code != http.StatusOK {
		test.Fatalf("status = %d, body = %v", recorder.Code, body)
	}
	rows, ok := body["transactions"].([]any)
	if !ok || len(rows) != 2 {
		test.Fatalf("transactions = %v, want 2 rows", body["transactions"])
	}
	first, ok := rows[0].(map[string]any)
	if !ok || first["transaction_id"] != "tx-2" {
		test.Fatalf("first row = %v, want tx-2", rows[0])
	}
	if ledger.historyLimit != defaultHistoryLimit {
		test.Fatalf("limit = %d, want default %d", ledger.historyLimit, defaultHistoryLimit)
	}
}

func TestTransactionsClampsLimit(test *testing.T) {
	test.Parallel()
	ledger := &stubLedger{}
	router := newTestAPI(test, ledger)
	recorder, _ := getJSON(test, router, "/api/transactions?limit=5000&before=1700000000", signedToken(test, "user-1"))
	if recorder.Code != http.StatusOK {
		test.Fatalf("status = %d", recorder.Code)
	}
	if ledger.historyLimit != maxHistoryLimit {
		test.Fatalf("limit = %d, want clamp to %d", ledger.historyLimit, maxHistoryLimit)
	}
	if ledger.historyFrom != 1700000000 {
		test.Fatalf("before = %d, want 1700000000", ledger.historyFrom)
	}
}

func TestTransactionsRejectsBadQueryValues(test *testing.T) {
	test.Parallel()
	router := newTestAPI(test, &stubLedger{})
	token := signedToken(test, "user-1")

	recorder, _ := getJSON(test, router, "/api/transactions?limit=zero", token)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("bad limit status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
	recorder, _ = getJSON(test, router, "/api/transactions?before=-5", token)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("bad before status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}
