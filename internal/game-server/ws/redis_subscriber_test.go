package ws

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/round-engine/pubsub"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
	"github.com/radieske/period-bet-engine/pkg/contracts/topics"
)

func TestSubscriberDeliversLifecycleEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	r := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan events.Envelope, 4)
	if err := StartRedisSubscriber(ctx, r, zap.NewNop(), func(e events.Envelope) { got <- e }); err != nil {
		t.Fatalf("StartRedisSubscriber: %v", err)
	}

	// lixo no canal é descartado sem derrubar o assinante
	mr.Publish(topics.ChannelPeriodStart, "not json")

	now := time.Date(2025, 7, 6, 14, 38, 0, 0, time.UTC)
	rc := rounds.NewClock(time.UTC, time.Hour)
	key := rc.Current("wingo", 30*time.Second, now).Key("default")
	bus := pubsub.NewRedisBroadcaster(r, "node-a", clockwork.NewFakeClockAt(now))
	if err := bus.Publish(ctx, events.KindBettingClosed, key, events.BettingClosed{EndTime: now.Add(30 * time.Second)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-got:
		if env.Kind != events.KindBettingClosed || env.RoundID != key.RoundID || env.Origin != "node-a" {
			t.Errorf("envelope = %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}
