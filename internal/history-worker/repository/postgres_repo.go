package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/radieske/period-bet-engine/pkg/contracts/events"
)

// PostgresRepo arquiva apostas e resultados de rodada no Postgres.
// Os dois tópicos não têm ordem entre si: round_settled pode chegar antes do
// wager_placed de alguma aposta da rodada.
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{DB: db}
}

// InsertWager grava a aposta (idempotente por wager_id) e aplica o resultado
// que já tenha chegado antes dela
func (r *PostgresRepo) InsertWager(ctx context.Context, e events.WagerPlaced) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const ins = `
		INSERT INTO wagers
		  (wager_id, user_id, round_id, game_type, duration_sec, selector, gross_cents, fee_cents, net_cents, odds, placed_at)
		VALUES
		  ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (wager_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, ins,
		e.WagerID, e.UserID, e.RoundID, e.GameType, e.Duration, e.Selector,
		e.GrossCents, e.FeeCents, e.NetCents, e.Odds, e.PlacedAt,
	); err != nil {
		return fmt.Errorf("insert wager: %w", err)
	}

	const apply = `
		UPDATE wagers w SET
		  status       = s.status,
		  payout_cents = s.payout_cents,
		  settled_at   = s.settled_at
		FROM wager_settlements s
		WHERE w.wager_id = s.wager_id AND w.wager_id = $1 AND w.status = 'pending'
	`
	if _, err := tx.ExecContext(ctx, apply, e.WagerID); err != nil {
		return fmt.Errorf("apply early settlement: %w", err)
	}
	return tx.Commit()
}

// SaveRound grava o resultado da rodada e o desfecho de cada aposta numa transação
func (r *PostgresRepo) SaveRound(ctx context.Context, e events.RoundSettled) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const round = `
		INSERT INTO round_results
		  (game_type, duration_sec, round_id, outcome, mode, wager_count, total_stake, total_payout, resolved_at)
		VALUES
		  ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (game_type, duration_sec, round_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, round,
		e.GameType, e.Duration, e.RoundID, e.Outcome, e.Mode,
		e.WagerCount, e.TotalStake, e.TotalPayout, e.ResolvedAt,
	); err != nil {
		return fmt.Errorf("insert round result: %w", err)
	}

	const outcome = `
		INSERT INTO wager_settlements (wager_id, status, payout_cents, settled_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (wager_id) DO NOTHING
	`
	const settle = `
		UPDATE wagers SET status = $2, payout_cents = $3, settled_at = $4
		WHERE wager_id = $1 AND status = 'pending'
	`
	for _, w := range e.Wagers {
		if _, err := tx.ExecContext(ctx, outcome, w.WagerID, w.Status, w.PayoutCents, e.ResolvedAt); err != nil {
			return fmt.Errorf("insert wager settlement %s: %w", w.WagerID, err)
		}
		if _, err := tx.ExecContext(ctx, settle, w.WagerID, w.Status, w.PayoutCents, e.ResolvedAt); err != nil {
			return fmt.Errorf("settle wager %s: %w", w.WagerID, err)
		}
	}
	return tx.Commit()
}
