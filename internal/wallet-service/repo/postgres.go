package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres implementa operações de carteira em banco
type Postgres struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPostgres(db *sql.DB, lockTimeout time.Duration) *Postgres {
	return &Postgres{db: db, lockTimeout: lockTimeout}
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must not be zero")
)

// Request é uma movimentação; Amount negativo é débito
type Request struct {
	UserID      string
	Amount      int64
	Kind        string
	Source      string
	ReferenceID string
}

// Transaction é a linha do ledger aplicada e o saldo resultante
type Transaction struct {
	ID          string
	UserID      string
	Amount      int64
	Kind        string
	Source      string
	ReferenceID string
	CreatedAt   time.Time
	Balance     int64
	Duplicate   bool // a referência já tinha sido aplicada; nada mudou
}

// IsRetryable identifica contenção no banco: lock_not_available e deadlock_detected
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "55P03" || pqErr.Code == "40P01"
	}
	return false
}

// Apply executa uma movimentação numa transação curta.
// O saldo só muda via incremento atômico; débito sem saldo desfaz tudo.
func (p *Postgres) Apply(ctx context.Context, req Request) (Transaction, error) {
	if req.Amount == 0 {
		return Transaction{}, ErrInvalidAmount
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback()

	// SET não aceita parâmetros; o valor vem da configuração, nunca do usuário
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL lock_timeout = '%dms'`, p.lockTimeout.Milliseconds())); err != nil {
		return Transaction{}, err
	}

	var exists bool
	if err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM wallets WHERE user_id=$1)`, req.UserID).Scan(&exists); err != nil {
		return Transaction{}, err
	}
	if !exists {
		if req.Amount < 0 {
			return Transaction{}, ErrInsufficientFunds
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO wallets(user_id, balance_cents, version) VALUES($1,0,1) ON CONFLICT (user_id) DO NOTHING`,
			req.UserID); err != nil {
			return Transaction{}, err
		}
	}

	out := Transaction{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Amount:      req.Amount,
		Kind:        req.Kind,
		Source:      req.Source,
		ReferenceID: req.ReferenceID,
	}

	// Idempotência: (kind, reference_id) único; conflito não devolve linha
	err = tx.QueryRowContext(ctx, `
		INSERT INTO credit_transactions(id, user_id, amount_cents, kind, source, reference_id)
		VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT (kind, reference_id) WHERE reference_id IS NOT NULL DO NOTHING
		RETURNING created_at`,
		out.ID, req.UserID, req.Amount, req.Kind, req.Source, nullable(req.ReferenceID)).Scan(&out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p.existing(ctx, tx, req)
	}
	if err != nil {
		return Transaction{}, err
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE wallets SET balance_cents = balance_cents + $1, version = version + 1, updated_at = NOW()
		WHERE user_id=$2 AND balance_cents + $1 >= 0
		RETURNING balance_cents`, req.Amount, req.UserID).Scan(&out.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrInsufficientFunds
	}
	if err != nil {
		return Transaction{}, err
	}

	if err = tx.Commit(); err != nil {
		return Transaction{}, err
	}
	return out, nil
}

// existing devolve a linha já gravada para a mesma referência
func (p *Postgres) existing(ctx context.Context, tx *sql.Tx, req Request) (Transaction, error) {
	out := Transaction{Kind: req.Kind, ReferenceID: req.ReferenceID, Duplicate: true}
	if err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, amount_cents, source, created_at
		FROM credit_transactions WHERE kind=$1 AND reference_id=$2`,
		req.Kind, req.ReferenceID).Scan(&out.ID, &out.UserID, &out.Amount, &out.Source, &out.CreatedAt); err != nil {
		return Transaction{}, err
	}
	if out.UserID != req.UserID {
		return Transaction{}, fmt.Errorf("reference %s/%s belongs to another user", req.Kind, req.ReferenceID)
	}
	if err := tx.QueryRowContext(ctx, `SELECT balance_cents FROM wallets WHERE user_id=$1`, req.UserID).Scan(&out.Balance); err != nil {
		return Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return Transaction{}, err
	}
	return out, nil
}

// Balance devolve o saldo; carteira inexistente vale zero
func (p *Postgres) Balance(ctx context.Context, userID string) (int64, error) {
	var bal int64
	err := p.db.QueryRowContext(ctx, `SELECT balance_cents FROM wallets WHERE user_id=$1`, userID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

// LedgerSum soma todas as linhas do ledger do usuário (reconciliação)
func (p *Postgres) LedgerSum(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM credit_transactions WHERE user_id=$1`, userID).Scan(&sum)
	return sum, err
}

// Transactions lista as movimentações mais recentes do usuário
func (p *Postgres) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, amount_cents, kind, source, COALESCE(reference_id, ''), created_at
		FROM credit_transactions WHERE user_id=$1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t := Transaction{UserID: userID}
		if err := rows.Scan(&t.ID, &t.Amount, &t.Kind, &t.Source, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
