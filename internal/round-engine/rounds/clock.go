// Package rounds deriva a rodada aberta a partir do relógio de parede.
// Nenhum processo é dono de uma rodada: qualquer um recalcula o mesmo roundId
// para o mesmo instante, e é isso que dispensa um líder.
package rounds

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrInvalidRoundID = errors.New("invalid round id")

const (
	dateLayout = "20060102"
	seqDigits  = 9
	idLength   = len(dateLayout) + seqDigits
)

// Status observado de uma rodada; não é gravado em lugar nenhum
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosing  Status = "closing"
	StatusResolved Status = "resolved"
)

// Round é uma janela de apostas para (GameType, Duration)
type Round struct {
	GameType string
	Duration time.Duration
	ID       string
	Seq      int64
	Start    time.Time
	End      time.Time
}

// CloseAt é o instante em que as apostas fecham
func (r Round) CloseAt(margin time.Duration) time.Time {
	return r.End.Add(-margin)
}

// BettingOpen informa se uma aposta feita em now ainda entra na rodada
func (r Round) BettingOpen(now time.Time, margin time.Duration) bool {
	return now.Before(r.CloseAt(margin))
}

// StatusAt deriva open/closing; "resolved" depende do resultado comprometido
func (r Round) StatusAt(now time.Time, margin time.Duration, resolved bool) Status {
	switch {
	case resolved:
		return StatusResolved
	case r.BettingOpen(now, margin):
		return StatusOpen
	default:
		return StatusClosing
	}
}

// Remaining até o fim natural da rodada (nunca negativo)
func (r Round) Remaining(now time.Time) time.Duration {
	if d := r.End.Sub(now); d > 0 {
		return d
	}
	return 0
}

// BettingRemaining até o corte de apostas (nunca negativo)
func (r Round) BettingRemaining(now time.Time, margin time.Duration) time.Duration {
	if d := r.CloseAt(margin).Sub(now); d > 0 {
		return d
	}
	return 0
}

// DurationSeconds é a forma usada em chaves, canais e payloads
func (r Round) DurationSeconds() int {
	return int(r.Duration / time.Second)
}

// Clock calcula rodadas a partir da âncora diária (meia-noite em loc)
type Clock struct {
	loc     *time.Location
	history time.Duration
}

// NewClock cria o relógio de rodadas. history limita quão antigo um roundId
// recebido de fora ainda é aceito por Validate.
func NewClock(loc *time.Location, history time.Duration) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, history: history}
}

// LoadClock resolve o fuso pelo nome (ex.: "Asia/Kolkata")
func LoadClock(tz string, history time.Duration) (*Clock, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return NewClock(loc, history), nil
}

func (c *Clock) anchor(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// Current devolve a rodada que contém now. Função pura do tempo.
func (c *Clock) Current(gameType string, duration time.Duration, now time.Time) Round {
	anchor := c.anchor(now)
	elapsed := int64(now.Sub(anchor) / time.Second)
	step := int64(duration / time.Second)
	seq := elapsed / step
	return c.build(gameType, duration, anchor, seq)
}

// Next devolve a rodada seguinte a r
func (c *Clock) Next(r Round) Round {
	return c.Current(r.GameType, r.Duration, r.End)
}

// Previous devolve a rodada anterior a r
func (c *Clock) Previous(r Round) Round {
	return c.Current(r.GameType, r.Duration, r.Start.Add(-time.Nanosecond))
}

func (c *Clock) build(gameType string, duration time.Duration, anchor time.Time, seq int64) Round {
	start := anchor.Add(time.Duration(seq) * duration)
	return Round{
		GameType: gameType,
		Duration: duration,
		ID:       fmt.Sprintf("%s%0*d", anchor.Format(dateLayout), seqDigits, seq),
		Seq:      seq,
		Start:    start,
		End:      start.Add(duration),
	}
}

// Parse reconstrói a rodada a partir de um roundId
func (c *Clock) Parse(gameType string, duration time.Duration, id string) (Round, error) {
	if len(id) != idLength || duration < time.Second || !allDigits(id) {
		return Round{}, fmt.Errorf("%w: %q", ErrInvalidRoundID, id)
	}
	day, err := time.ParseInLocation(dateLayout, id[:len(dateLayout)], c.loc)
	if err != nil {
		return Round{}, fmt.Errorf("%w: %q: bad date", ErrInvalidRoundID, id)
	}
	seq, err := strconv.ParseInt(id[len(dateLayout):], 10, 64)
	if err != nil || seq < 0 {
		return Round{}, fmt.Errorf("%w: %q: bad sequence", ErrInvalidRoundID, id)
	}
	r := c.build(gameType, duration, day, seq)
	// a rodada precisa começar dentro do mesmo dia
	if !r.Start.Before(day.AddDate(0, 0, 1)) {
		return Round{}, fmt.Errorf("%w: %q: sequence out of day", ErrInvalidRoundID, id)
	}
	return r, nil
}

// Validate aceita apenas ids cuja janela é a atual ou está dentro do histórico
func (c *Clock) Validate(gameType string, duration time.Duration, id string, now time.Time) (Round, error) {
	r, err := c.Parse(gameType, duration, id)
	if err != nil {
		return Round{}, err
	}
	if r.Start.After(now) {
		return Round{}, fmt.Errorf("%w: %q starts in the future", ErrInvalidRoundID, id)
	}
	if c.history > 0 && r.End.Before(now.Add(-c.history)) {
		return Round{}, fmt.Errorf("%w: %q is too old", ErrInvalidRoundID, id)
	}
	return r, nil
}

// ParseInt aceitaria sinal; um id emitido por Current só tem dígitos
func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
