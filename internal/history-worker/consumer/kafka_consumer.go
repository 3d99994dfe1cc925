package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/pkg/contracts/events"
)

// Store é onde o histórico é gravado
type Store interface {
	InsertWager(ctx context.Context, e events.WagerPlaced) error
	SaveRound(ctx context.Context, e events.RoundSettled) error
}

// Archiver consome wager_placed e round_settled e persiste o histórico.
// O commit do offset só acontece depois da escrita no banco.
type Archiver struct {
	Log    *zap.Logger
	Reader *kafka.Reader
	Store  Store

	TopicWagerPlaced  string
	TopicRoundSettled string

	OnConsumed func(topic string) // métricas
	OnPersist  func(topic string) // métricas
	OnError    func(string)       // métricas por fase
}

// Run inicia o loop de consumo; bloqueia até ctx terminar
func (a *Archiver) Run(ctx context.Context) error {
	for {
		m, err := a.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.Log.Warn("kafka read failed", zap.Error(err))
			a.fail("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if a.OnConsumed != nil {
			a.OnConsumed(m.Topic)
		}

		// erro de banco: não comita e tenta a mesma mensagem de novo
		for {
			err := a.Handle(ctx, m)
			if err == nil || !retryable(err) {
				break
			}
			a.Log.Warn("db write failed, retrying", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
			a.fail("db")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}

		if err := a.Reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			a.Log.Warn("kafka commit failed", zap.Error(err))
			a.fail("commit")
		}
	}
}

// decodeError marca mensagens que nunca vão ser gravadas
type decodeError struct{ err error }

func (e decodeError) Error() string { return e.err.Error() }
func (e decodeError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var de decodeError
	return !errors.As(err, &de)
}

// Handle grava uma mensagem conforme o tópico.
// Mensagem ilegível é descartada (logada) para não travar a partição.
func (a *Archiver) Handle(ctx context.Context, m kafka.Message) error {
	switch m.Topic {
	case a.TopicWagerPlaced:
		var ev events.WagerPlaced
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.WagerID == "" {
			return a.discard(m, err)
		}
		if err := a.Store.InsertWager(ctx, ev); err != nil {
			return err
		}
	case a.TopicRoundSettled:
		var ev events.RoundSettled
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.RoundID == "" {
			return a.discard(m, err)
		}
		if err := a.Store.SaveRound(ctx, ev); err != nil {
			return err
		}
		a.Log.Debug("round archived",
			zap.String("game", ev.GameType),
			zap.Int("duration", ev.Duration),
			zap.String("round_id", ev.RoundID),
			zap.Int("wagers", len(ev.Wagers)),
		)
	default:
		return a.discard(m, fmt.Errorf("unexpected topic %q", m.Topic))
	}
	if a.OnPersist != nil {
		a.OnPersist(m.Topic)
	}
	return nil
}

func (a *Archiver) discard(m kafka.Message, err error) error {
	if err == nil {
		err = errors.New("missing id")
	}
	a.Log.Warn("invalid message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
	a.fail("decode")
	return decodeError{err: err}
}

func (a *Archiver) fail(stage string) {
	if a.OnError != nil {
		a.OnError(stage)
	}
}
