package repo

import (
	"context"
	"database/sql"
	"time"
)

// RoundResult é uma linha de round_results (arquivo escrito pelo history-worker)
type RoundResult struct {
	GameType    string    `json:"gameType"`
	Duration    int       `json:"duration"`
	RoundID     string    `json:"roundId"`
	Outcome     string    `json:"outcome"`
	Mode        string    `json:"mode"`
	WagerCount  int64     `json:"wagerCount"`
	TotalStake  int64     `json:"totalStake"`
	TotalPayout int64     `json:"totalPayout"`
	ResolvedAt  time.Time `json:"resolvedAt"`
}

// UserWager é uma aposta já arquivada de um usuário
type UserWager struct {
	WagerID     string     `json:"wagerId"`
	RoundID     string     `json:"roundId"`
	GameType    string     `json:"gameType"`
	Duration    int        `json:"duration"`
	Selector    string     `json:"selector"`
	GrossCents  int64      `json:"grossCents"`
	NetCents    int64      `json:"netCents"`
	Status      string     `json:"status"`
	PayoutCents int64      `json:"payoutCents"`
	PlacedAt    time.Time  `json:"placedAt"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
}

type ReadRepo struct {
	DB *sql.DB
}

func (r *ReadRepo) RecentResults(ctx context.Context, gameType string, durationSec, limit int) ([]RoundResult, error) {
	const q = `
		SELECT game_type, duration_sec, round_id, outcome, mode, wager_count, total_stake, total_payout, resolved_at
		FROM round_results
		WHERE game_type = $1 AND duration_sec = $2
		ORDER BY round_id DESC
		LIMIT $3;
	`
	rows, err := r.DB.QueryContext(ctx, q, gameType, durationSec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RoundResult{}
	for rows.Next() {
		var rr RoundResult
		if err := rows.Scan(&rr.GameType, &rr.Duration, &rr.RoundID, &rr.Outcome, &rr.Mode,
			&rr.WagerCount, &rr.TotalStake, &rr.TotalPayout, &rr.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

func (r *ReadRepo) UserWagers(ctx context.Context, userID string, limit int) ([]UserWager, error) {
	const q = `
		SELECT wager_id, round_id, game_type, duration_sec, selector, gross_cents, net_cents, status, payout_cents, placed_at, settled_at
		FROM wagers
		WHERE user_id = $1
		ORDER BY placed_at DESC
		LIMIT $2;
	`
	rows, err := r.DB.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []UserWager{}
	for rows.Next() {
		var w UserWager
		var settled sql.NullTime
		if err := rows.Scan(&w.WagerID, &w.RoundID, &w.GameType, &w.Duration, &w.Selector,
			&w.GrossCents, &w.NetCents, &w.Status, &w.PayoutCents, &w.PlacedAt, &settled); err != nil {
			return nil, err
		}
		if settled.Valid {
			w.SettledAt = &settled.Time
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
