package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
	"github.com/radieske/period-bet-engine/pkg/contracts/topics"
)

func TestPublishWrapsEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, topics.ChannelPeriodResult)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	now := time.Date(2025, 7, 6, 14, 38, 33, 0, time.UTC)
	b := NewRedisBroadcaster(rdb, "gs-1", clockwork.NewFakeClockAt(now))
	key := rounds.Key{GameType: "wingo", Duration: 30, Timeline: "default", RoundID: "20250706000001756"}
	if err := b.Publish(ctx, events.KindRoundResolved, key, events.RoundResolved{Outcome: "3", Mode: "protected"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		env, err := events.Decode([]byte(msg.Payload))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if env.Origin != "gs-1" || env.RoundID != key.RoundID || env.Kind != events.KindRoundResolved {
			t.Errorf("envelope = %+v", env)
		}
		var p events.RoundResolved
		if err := env.Into(&p); err != nil || p.Outcome != "3" {
			t.Errorf("payload = %+v, %v", p, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestChannelForUnknownKind(t *testing.T) {
	if _, err := ChannelFor("weird"); err == nil {
		t.Error("unknown kind accepted")
	}
}
