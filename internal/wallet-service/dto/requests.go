package dto

// Tipos de movimentação do ledger de créditos
const (
	KindDeposit = "deposit"
	KindBet     = "bet"
	KindPayout  = "payout"
	KindRefund  = "refund"
)

// Origens conhecidas de uma movimentação
const (
	SourceAPI        = "api"
	SourceGameServer = "game-server"
	SourceSettlement = "settlement"
)

// CreditRequest altera o saldo; AmountCents negativo é débito
type CreditRequest struct {
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amount_cents"`
	Kind        string `json:"kind"`
	Source      string `json:"source"`
	ReferenceID string `json:"reference_id,omitempty"` // ex: wagerId; garante idempotência
}

type DepositRequest struct {
	UserID      string `json:"userId"`
	AmountCents int64  `json:"amount_cents"`
	ExternalRef string `json:"external_ref,omitempty"` // opcional p/ idempotência simples
}
