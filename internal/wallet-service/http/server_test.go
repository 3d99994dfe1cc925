package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/wallet-service/dto"
	"github.com/radieske/period-bet-engine/internal/wallet-service/ledger"
	"github.com/radieske/period-bet-engine/internal/wallet-service/repo"
)

type fakeWallet struct {
	balance int64
	err     error
	last    repo.Request
}

func (f *fakeWallet) Credit(_ context.Context, userID string, amount int64, kind, source, ref string) (repo.Transaction, error) {
	if f.err != nil {
		return repo.Transaction{}, f.err
	}
	f.last = repo.Request{UserID: userID, Amount: amount, Kind: kind, Source: source, ReferenceID: ref}
	f.balance += amount
	return repo.Transaction{UserID: userID, Amount: amount, Kind: kind, Balance: f.balance}, nil
}

func (f *fakeWallet) Debit(_ context.Context, userID string, amount int64, kind, source, ref string) (repo.Transaction, error) {
	if f.err != nil {
		return repo.Transaction{}, f.err
	}
	f.last = repo.Request{UserID: userID, Amount: -amount, Kind: kind, Source: source, ReferenceID: ref}
	f.balance -= amount
	return repo.Transaction{UserID: userID, Amount: -amount, Kind: kind, Balance: f.balance}, nil
}

func (f *fakeWallet) Balance(context.Context, string) (int64, error) { return f.balance, f.err }

func (f *fakeWallet) Reconcile(context.Context, string) (int64, int64, error) {
	return f.balance, f.balance, f.err
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNegativeAmountIsDebit(t *testing.T) {
	w := &fakeWallet{balance: 500}
	h := NewServer(zap.NewNop(), w, nil).Router()

	rec := do(t, h, http.MethodPost, "/v1/wallet/transactions",
		`{"userId":"u1","amount_cents":-120,"kind":"bet","source":"game-server","reference_id":"w1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if w.last.Amount != -120 || w.last.ReferenceID != "w1" {
		t.Errorf("applied = %+v", w.last)
	}
	var out dto.TransactionResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.BalanceCents != 380 {
		t.Errorf("BalanceCents = %d, want 380", out.BalanceCents)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ledger.ErrInsufficientFunds, http.StatusConflict, CodeInsufficientFunds},
		{ledger.ErrRequestTimeout, http.StatusGatewayTimeout, CodeRequestTimeout},
		{fmt.Errorf("%w: %w", ledger.ErrCreditFailed, errors.New("lock")), http.StatusServiceUnavailable, CodeCreditFailed},
		{ledger.ErrQueueFull, http.StatusTooManyRequests, CodeQueueFull},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, c := range cases {
		h := NewServer(zap.NewNop(), &fakeWallet{err: c.err}, nil).Router()
		rec := do(t, h, http.MethodPost, "/v1/wallet/transactions",
			`{"userId":"u1","amount_cents":-1,"kind":"bet"}`)
		if rec.Code != c.status {
			t.Errorf("%v: status = %d, want %d", c.err, rec.Code, c.status)
		}
		var out dto.ErrorResponse
		_ = json.NewDecoder(rec.Body).Decode(&out)
		if out.Code != c.code {
			t.Errorf("%v: code = %q, want %q", c.err, out.Code, c.code)
		}
	}
}

func TestDepositAndBalance(t *testing.T) {
	w := &fakeWallet{}
	h := NewServer(zap.NewNop(), w, nil).Router()

	if rec := do(t, h, http.MethodPost, "/v1/wallet/deposit", `{"userId":"u1","amount_cents":0}`); rec.Code != http.StatusBadRequest {
		t.Errorf("zero deposit status = %d, want 400", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/wallet/deposit", `{"userId":"u1","amount_cents":1000}`); rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d", rec.Code)
	}
	if w.last.Kind != dto.KindDeposit || w.last.Source != dto.SourceAPI {
		t.Errorf("deposit applied as %s/%s", w.last.Kind, w.last.Source)
	}

	rec := do(t, h, http.MethodGet, "/v1/wallet/u1", "")
	var out dto.WalletResponse
	_ = json.NewDecoder(rec.Body).Decode(&out)
	if out.BalanceCents != 1000 {
		t.Errorf("BalanceCents = %d, want 1000", out.BalanceCents)
	}

	rec = do(t, h, http.MethodGet, "/v1/wallet/u1/reconcile", "")
	var rc dto.ReconcileResponse
	_ = json.NewDecoder(rec.Body).Decode(&rc)
	if !rc.Consistent {
		t.Errorf("reconcile = %+v, want consistent", rc)
	}
}
