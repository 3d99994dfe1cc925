package dto

import "time"

type WalletResponse struct {
	UserID       string `json:"userId"`
	BalanceCents int64  `json:"balance_cents"`
}

type TransactionResponse struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	AmountCents  int64     `json:"amount_cents"`
	Kind         string    `json:"kind"`
	Source       string    `json:"source"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	BalanceCents int64     `json:"balance_cents"`
	Duplicate    bool      `json:"duplicate,omitempty"` // referência já aplicada antes
}

type ReconcileResponse struct {
	UserID       string `json:"userId"`
	BalanceCents int64  `json:"balance_cents"`
	LedgerCents  int64  `json:"ledger_cents"`
	Consistent   bool   `json:"consistent"`
}

// ErrorResponse carrega o código legível por máquina (ex.: INSUFFICIENT_FUNDS)
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
