package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wallet-engine/pkg/engine"
	"wallet-engine/pkg/wallet"
)

// fakeEngine records the last call and answers with canned results.
type fakeEngine struct {
	depositResult  engine.Result
	transferResult engine.Result

	lastAccountID int64
	lastPayerID   int64
	lastPayeeID   int64
	lastAmount    int64
}

func (f *fakeEngine) Deposit(ctx context.Context, accountID int64, amount int64) engine.Result {
	f.lastAccountID = accountID
	f.lastAmount = amount
	return f.depositResult
}

func (f *fakeEngine) Transfer(ctx context.Context, payerID, payeeID int64, amount int64) engine.Result {
	f.lastPayerID = payerID
	f.lastPayeeID = payeeID
	f.lastAmount = amount
	return f.transferResult
}

func setupTestServer(t *testing.T, e *fakeEngine) *Server {
	t.Helper()
	return NewServer(e, nil, nil, DefaultServerConfig())
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s := setupTestServer(t, &fakeEngine{})

	w := doRequest(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}
}

func TestServer_Deposit(t *testing.T) {
	e := &fakeEngine{
		depositResult: engine.Result{
			Status:      http.StatusOK,
			Message:     "Deposit completed successfully.",
			Transaction: &wallet.LedgerRecord{ID: 7, Kind: wallet.KindDeposit, Amount: 10050},
			Wallet:      &wallet.Wallet{ID: 3, AccountID: 1, Balance: 10050},
		},
	}
	s := setupTestServer(t, e)

	w := doRequest(t, s, http.MethodPost, "/deposit", `{"account_id":1,"value":"100.50"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if e.lastAccountID != 1 || e.lastAmount != 10050 {
		t.Errorf("engine called with account %d amount %d", e.lastAccountID, e.lastAmount)
	}

	var resp operationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Wallet == nil || resp.Wallet.BalanceDecimal != "100.50" {
		t.Errorf("wallet view = %+v", resp.Wallet)
	}
	if resp.Transaction == nil || resp.Transaction.ID != 7 {
		t.Errorf("transaction = %+v", resp.Transaction)
	}
}

// Bare JSON numbers must work alongside quoted decimal strings.
func TestServer_DepositUnquotedValue(t *testing.T) {
	e := &fakeEngine{depositResult: engine.Result{Status: http.StatusOK, Message: "ok"}}
	s := setupTestServer(t, e)

	w := doRequest(t, s, http.MethodPost, "/deposit", `{"account_id":1,"value":25.5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if e.lastAmount != 2550 {
		t.Errorf("amount = %d, want 2550", e.lastAmount)
	}
}

func TestServer_DepositInvalidValue(t *testing.T) {
	cases := []string{
		`{"account_id":1,"value":"abc"}`,
		`{"account_id":1,"value":"10.123"}`,
		`{"account_id":1,"value":"184467440737095517"}`,
		`{"account_id":1}`,
	}

	for _, body := range cases {
		e := &fakeEngine{}
		s := setupTestServer(t, e)

		w := doRequest(t, s, http.MethodPost, "/deposit", body)
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("body %q: status = %d, want 422", body, w.Code)
		}
		if e.lastAccountID != 0 {
			t.Errorf("body %q: engine was called", body)
		}

		var resp operationResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("body %q: decode response: %v", body, err)
		}
		if resp.Message != "Value must be a number with at most 2 decimal places." {
			t.Errorf("body %q: message = %q", body, resp.Message)
		}
	}
}

func TestServer_DepositMalformedBody(t *testing.T) {
	e := &fakeEngine{}
	s := setupTestServer(t, e)

	w := doRequest(t, s, http.MethodPost, "/deposit", `not json`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}

	var resp operationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "Malformed request body." {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestServer_Transfer(t *testing.T) {
	e := &fakeEngine{
		transferResult: engine.Result{
			Status:      http.StatusOK,
			Message:     "Transfer completed successfully.",
			Transaction: &wallet.LedgerRecord{ID: 9, Kind: wallet.KindTransfer, Amount: 10000},
			Wallet:      &wallet.Wallet{ID: 1, AccountID: 1, Balance: 5000},
		},
	}
	s := setupTestServer(t, e)

	w := doRequest(t, s, http.MethodPost, "/transfer", `{"payer_id":1,"payee_id":2,"value":"100.00"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if e.lastPayerID != 1 || e.lastPayeeID != 2 || e.lastAmount != 10000 {
		t.Errorf("engine called with payer %d payee %d amount %d", e.lastPayerID, e.lastPayeeID, e.lastAmount)
	}
}

// Engine failures map straight onto the response status.
func TestServer_TransferFailureStatus(t *testing.T) {
	cases := []struct {
		result engine.Result
		status int
	}{
		{engine.Result{Status: http.StatusUnprocessableEntity, Message: "Insufficient balance."}, http.StatusUnprocessableEntity},
		{engine.Result{Status: http.StatusNotFound, Message: "Payee account not found."}, http.StatusNotFound},
		{engine.Result{Status: http.StatusForbidden, Message: "Transfer denied by authorization service."}, http.StatusForbidden},
		{engine.Result{Status: http.StatusBadGateway, Message: "Authorization service unavailable."}, http.StatusBadGateway},
		{engine.Result{Status: http.StatusInternalServerError, Message: "Unexpected error."}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		s := setupTestServer(t, &fakeEngine{transferResult: tc.result})

		w := doRequest(t, s, http.MethodPost, "/transfer", `{"payer_id":1,"payee_id":2,"value":"10.00"}`)
		if w.Code != tc.status {
			t.Errorf("result %+v: status = %d, want %d", tc.result, w.Code, tc.status)
		}

		var resp operationResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if resp.Message != tc.result.Message {
			t.Errorf("message = %q, want %q", resp.Message, tc.result.Message)
		}
		if resp.Wallet != nil || resp.Transaction != nil {
			t.Errorf("failure response carries success fields: %+v", resp)
		}
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := setupTestServer(t, &fakeEngine{})

	w := doRequest(t, s, http.MethodGet, "/transfer", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
