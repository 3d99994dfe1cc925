package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifica um evento do ciclo de rodada
type Kind string

const (
	KindRoundOpened   Kind = "roundOpened"
	KindBettingClosed Kind = "bettingClosed"
	KindRoundResolved Kind = "roundResolved"
	KindRoundError    Kind = "roundError"
)

// EnvelopeVersion muda quando o formato do payload muda de forma incompatível
const EnvelopeVersion = 1

// Envelope é o que trafega nos canais scheduler:*
type Envelope struct {
	Version   int             `json:"v"`
	Kind      Kind            `json:"kind"`
	GameType  string          `json:"gameType"`
	Duration  int             `json:"duration"`
	RoundID   string          `json:"roundId"`
	Origin    string          `json:"origin"` // instância que publicou
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// RoundOpened: nova rodada aberta para apostas
type RoundOpened struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	CloseAt   time.Time `json:"closeAt"`
}

// BettingClosed: corte de apostas atingido (endTime - closeMargin)
type BettingClosed struct {
	EndTime time.Time `json:"endTime"`
}

// RoundResolved: resultado comprometido + estatísticas agregadas (sem dados por usuário)
type RoundResolved struct {
	Outcome     string            `json:"outcome"`
	Details     map[string]string `json:"details,omitempty"` // cor, tamanho, soma...
	Mode        string            `json:"mode"`              // protected | random | hash | override
	Proof       string            `json:"proof,omitempty"`   // hash verificável (variante trx)
	WagerCount  int64             `json:"wagerCount"`
	UniqueUsers int64             `json:"uniqueUsers"`
	TotalStake  int64             `json:"totalStake"`
	TotalPayout int64             `json:"totalPayout"`
	Winners     int               `json:"winners"`
}

// RoundError: falha ao resolver/liquidar; clientes apenas aguardam o próximo heartbeat
type RoundError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Wrap monta um envelope versionado
func Wrap(kind Kind, gameType string, duration int, roundID, origin string, now time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{
		Version:   EnvelopeVersion,
		Kind:      kind,
		GameType:  gameType,
		Duration:  duration,
		RoundID:   roundID,
		Origin:    origin,
		Timestamp: now,
		Payload:   b,
	}, nil
}

// Decode valida versão e campos obrigatórios do envelope
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if env.GameType == "" || env.Duration <= 0 || env.RoundID == "" {
		return Envelope{}, fmt.Errorf("envelope %s missing room/round", env.Kind)
	}
	switch env.Kind {
	case KindRoundOpened, KindBettingClosed, KindRoundResolved, KindRoundError:
	default:
		return Envelope{}, fmt.Errorf("unknown event kind %q", env.Kind)
	}
	return env, nil
}

// Into desserializa o payload no tipo concreto
func (e Envelope) Into(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}
