// Package records define o formato versionado de tudo que é gravado no store
// compartilhado. Processos em versões diferentes rejeitam registros que não entendem
// em vez de interpretá-los silenciosamente.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version do envelope de registros
const Version = 1

type Kind string

const (
	KindWager        Kind = "wager"
	KindRoundPointer Kind = "round_pointer"
	KindResult       Kind = "result"
	KindSettlement   Kind = "settlement"
	KindCreditRetry  Kind = "credit_retry"
)

var ErrSchema = errors.New("record schema mismatch")

// Validator é implementado por todo registro persistido
type Validator interface {
	Validate() error
}

type envelope struct {
	V int             `json:"v"`
	K Kind            `json:"k"`
	D json.RawMessage `json:"d"`
}

// Encode valida e serializa o registro dentro do envelope
func Encode(kind Kind, v Validator) (string, error) {
	if err := v.Validate(); err != nil {
		return "", fmt.Errorf("encode %s: %w", kind, err)
	}
	d, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", kind, err)
	}
	b, err := json.Marshal(envelope{V: Version, K: kind, D: d})
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", kind, err)
	}
	return string(b), nil
}

// Decode lê o envelope, confere versão/tipo e valida o conteúdo
func Decode[T any, P interface {
	*T
	Validator
}](kind Kind, raw string) (T, error) {
	var out T
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return out, fmt.Errorf("decode %s: %w", kind, err)
	}
	if env.V != Version {
		return out, fmt.Errorf("decode %s: version %d: %w", kind, env.V, ErrSchema)
	}
	if env.K != kind {
		return out, fmt.Errorf("decode %s: got kind %q: %w", kind, env.K, ErrSchema)
	}
	if err := json.Unmarshal(env.D, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", kind, err)
	}
	if err := P(&out).Validate(); err != nil {
		return out, fmt.Errorf("decode %s: %w", kind, err)
	}
	return out, nil
}

// Wager é o registro imutável de uma aposta (status fica em hash separado)
type Wager struct {
	WagerID     string    `json:"wagerId"`
	UserID      string    `json:"userId"`
	RoundID     string    `json:"roundId"`
	GameType    string    `json:"gameType"`
	Duration    int       `json:"duration"`
	Selector    string    `json:"selector"`
	GrossStake  int64     `json:"grossStake"`
	PlatformFee int64     `json:"platformFee"`
	NetStake    int64     `json:"netStake"`
	Odds        float64   `json:"odds"`
	PlacedAt    time.Time `json:"placedAt"`
}

func (w *Wager) Validate() error {
	switch {
	case w.WagerID == "" || w.UserID == "" || w.RoundID == "":
		return fmt.Errorf("wager ids required: %w", ErrSchema)
	case w.GameType == "" || w.Duration <= 0 || w.Selector == "":
		return fmt.Errorf("wager game fields required: %w", ErrSchema)
	case w.NetStake <= 0 || w.GrossStake != w.NetStake+w.PlatformFee:
		return fmt.Errorf("wager stake inconsistent: %w", ErrSchema)
	case w.Odds <= 0:
		return fmt.Errorf("wager odds must be positive: %w", ErrSchema)
	}
	return nil
}

// RoundPointer é o "current round" publicado por (gameType, duration)
type RoundPointer struct {
	GameType  string    `json:"gameType"`
	Duration  int       `json:"duration"`
	RoundID   string    `json:"roundId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

func (p *RoundPointer) Validate() error {
	if p.RoundID == "" || p.GameType == "" || p.Duration <= 0 || !p.EndTime.After(p.StartTime) {
		return fmt.Errorf("round pointer incomplete: %w", ErrSchema)
	}
	return nil
}

// Result é o resultado comprometido de uma rodada. Um override do operador
// é gravado no mesmo formato (Mode "override") e copiado verbatim no commit.
type Result struct {
	Outcome     string    `json:"outcome"`
	Mode        string    `json:"mode"`
	Proof       string    `json:"proof,omitempty"`
	Operator    string    `json:"operator,omitempty"`
	CommittedAt time.Time `json:"committedAt"`
}

func (r *Result) Validate() error {
	if r.Outcome == "" || r.Mode == "" {
		return fmt.Errorf("result incomplete: %w", ErrSchema)
	}
	return nil
}

// SettlementSummary é gravado quando a liquidação de uma rodada termina
type SettlementSummary struct {
	RoundID     string        `json:"roundId"`
	Outcome     string        `json:"outcome"`
	WagerCount  int64         `json:"wagerCount"`
	Winners     int           `json:"winners"`
	TotalPayout int64         `json:"totalPayout"`
	Failed      []CreditRetry `json:"failed,omitempty"`
	CompletedAt time.Time     `json:"completedAt"`
}

func (s *SettlementSummary) Validate() error {
	if s.RoundID == "" || s.Outcome == "" {
		return fmt.Errorf("settlement summary incomplete: %w", ErrSchema)
	}
	return nil
}

// CreditRetry é um pagamento que falhou e aguarda nova tentativa
type CreditRetry struct {
	WagerID  string `json:"wagerId"`
	UserID   string `json:"userId"`
	Amount   int64  `json:"amount"`
	RoundID  string `json:"roundId"`
	Attempts int    `json:"attempts"`
	LastErr  string `json:"lastErr,omitempty"`
}

func (c *CreditRetry) Validate() error {
	if c.WagerID == "" || c.UserID == "" || c.Amount <= 0 {
		return fmt.Errorf("credit retry incomplete: %w", ErrSchema)
	}
	return nil
}
