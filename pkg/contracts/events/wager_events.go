package events

import "time"

// Evento publicado no tópico "wager_placed" após o registro no ledger
type WagerPlaced struct {
	WagerID    string    `json:"wager_id"`
	UserID     string    `json:"user_id"`
	GameType   string    `json:"game_type"`
	Duration   int       `json:"duration"`
	RoundID    string    `json:"round_id"`
	Selector   string    `json:"selector"`
	GrossCents int64     `json:"gross_cents"`
	FeeCents   int64     `json:"fee_cents"`
	NetCents   int64     `json:"net_cents"`
	Odds       float64   `json:"odds"`
	PlacedAt   time.Time `json:"placed_at"`
}

// Evento publicado no tópico "round_settled" ao fim da liquidação
type RoundSettled struct {
	GameType    string         `json:"game_type"`
	Duration    int            `json:"duration"`
	RoundID     string         `json:"round_id"`
	Outcome     string         `json:"outcome"`
	Mode        string         `json:"mode"`
	WagerCount  int64          `json:"wager_count"`
	TotalStake  int64          `json:"total_stake"`
	TotalPayout int64          `json:"total_payout"`
	Wagers      []WagerOutcome `json:"wagers"`
	ResolvedAt  time.Time      `json:"resolved_at"`
}

// WagerOutcome é o resultado individual dentro de RoundSettled
type WagerOutcome struct {
	WagerID     string `json:"wager_id"`
	UserID      string `json:"user_id"`
	Status      string `json:"status"` // won | lost
	PayoutCents int64  `json:"payout_cents"`
}
