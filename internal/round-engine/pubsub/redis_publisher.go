package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
	"github.com/radieske/period-bet-engine/pkg/contracts/topics"
)

// ChannelFor mapeia o tipo de evento no canal Redis correspondente
func ChannelFor(kind events.Kind) (string, error) {
	switch kind {
	case events.KindRoundOpened:
		return topics.ChannelPeriodStart, nil
	case events.KindBettingClosed:
		return topics.ChannelBettingClosed, nil
	case events.KindRoundResolved:
		return topics.ChannelPeriodResult, nil
	case events.KindRoundError:
		return topics.ChannelPeriodError, nil
	}
	return "", fmt.Errorf("no channel for event kind %q", kind)
}

// RedisBroadcaster publica eventos do ciclo de rodadas para todos os game-servers
type RedisBroadcaster struct {
	r      *redis.Client
	origin string
	clock  clockwork.Clock
}

func NewRedisBroadcaster(r *redis.Client, origin string, clock clockwork.Clock) *RedisBroadcaster {
	return &RedisBroadcaster{r: r, origin: origin, clock: clock}
}

// Publish embrulha o payload no envelope versionado e publica no canal do tipo
func (b *RedisBroadcaster) Publish(ctx context.Context, kind events.Kind, key rounds.Key, payload any) error {
	channel, err := ChannelFor(kind)
	if err != nil {
		return err
	}
	env, err := events.Wrap(kind, key.GameType, key.Duration, key.RoundID, b.origin, b.clock.Now(), payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.r.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}
