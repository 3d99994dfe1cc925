package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db, 2*time.Second), mock
}

func TestApplyCreditCreatesWallet(t *testing.T) {
	p, mock := newMock(t)
	created := time.Date(2025, 7, 6, 14, 38, 40, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout = '2000ms'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO wallets`).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO credit_transactions`).
		WithArgs(sqlmock.AnyArg(), "u1", int64(900), "payout", "settlement", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectQuery(`UPDATE wallets SET balance_cents = balance_cents \+ \$1`).WithArgs(int64(900), "u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(int64(900)))
	mock.ExpectCommit()

	tx, err := p.Apply(context.Background(), Request{UserID: "u1", Amount: 900, Kind: "payout", Source: "settlement", ReferenceID: "w1"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tx.Balance != 900 || tx.Duplicate || !tx.CreatedAt.Equal(created) {
		t.Errorf("Apply = %+v", tx)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApplyDebitInsufficientRollsBack(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO credit_transactions`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery(`UPDATE wallets`).WithArgs(int64(-500), "u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}))
	mock.ExpectRollback()

	_, err := p.Apply(context.Background(), Request{UserID: "u1", Amount: -500, Kind: "bet", Source: "game-server", ReferenceID: "w9"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApplyDebitWithoutWallet(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := p.Apply(context.Background(), Request{UserID: "ghost", Amount: -1, Kind: "bet", Source: "game-server"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestApplyDuplicateReference(t *testing.T) {
	p, mock := newMock(t)
	created := time.Date(2025, 7, 6, 14, 38, 40, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO credit_transactions`).WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectQuery(`SELECT id, user_id, amount_cents, source, created_at`).WithArgs("payout", "w1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount_cents", "source", "created_at"}).
			AddRow("tx-1", "u1", int64(900), "settlement", created))
	mock.ExpectQuery(`SELECT balance_cents FROM wallets`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(int64(900)))
	mock.ExpectCommit()

	tx, err := p.Apply(context.Background(), Request{UserID: "u1", Amount: 900, Kind: "payout", Source: "settlement", ReferenceID: "w1"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !tx.Duplicate || tx.ID != "tx-1" || tx.Balance != 900 {
		t.Errorf("Apply = %+v, want duplicate tx-1", tx)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApplyPropagatesLockTimeout(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO credit_transactions`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery(`UPDATE wallets`).WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	_, err := p.Apply(context.Background(), Request{UserID: "u1", Amount: 100, Kind: "deposit", Source: "api"})
	if !IsRetryable(err) {
		t.Errorf("err = %v, want retryable", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"lock timeout": {&pq.Error{Code: "55P03"}, true},
		"deadlock":     {&pq.Error{Code: "40P01"}, true},
		"unique":       {&pq.Error{Code: "23505"}, false},
		"plain":        {errors.New("boom"), false},
		"insufficient": {ErrInsufficientFunds, false},
	}
	for name, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Errorf("%s: IsRetryable = %v, want %v", name, got, c.want)
		}
	}
}

func TestBalanceMissingWalletIsZero(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(`SELECT balance_cents FROM wallets`).WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}))
	bal, err := p.Balance(context.Background(), "nobody")
	if err != nil || bal != 0 {
		t.Errorf("Balance = %d, %v, want 0", bal, err)
	}
}
