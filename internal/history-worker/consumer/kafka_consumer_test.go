package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/pkg/contracts/events"
)

type fakeStore struct {
	wagers []events.WagerPlaced
	rounds []events.RoundSettled
	err    error
}

func (f *fakeStore) InsertWager(_ context.Context, e events.WagerPlaced) error {
	if f.err != nil {
		return f.err
	}
	f.wagers = append(f.wagers, e)
	return nil
}

func (f *fakeStore) SaveRound(_ context.Context, e events.RoundSettled) error {
	if f.err != nil {
		return f.err
	}
	f.rounds = append(f.rounds, e)
	return nil
}

func newArchiver(store Store) (*Archiver, map[string]int) {
	errs := map[string]int{}
	return &Archiver{
		Log:               zap.NewNop(),
		Store:             store,
		TopicWagerPlaced:  "wager_placed",
		TopicRoundSettled: "round_settled",
		OnError:           func(stage string) { errs[stage]++ },
	}, errs
}

func TestHandleRoutesByTopic(t *testing.T) {
	store := &fakeStore{}
	a, _ := newArchiver(store)
	ctx := context.Background()

	if err := a.Handle(ctx, kafka.Message{Topic: "wager_placed", Value: []byte(`{"wager_id":"w1","round_id":"r1","net_cents":100}`)}); err != nil {
		t.Fatalf("wager: %v", err)
	}
	if err := a.Handle(ctx, kafka.Message{Topic: "round_settled", Value: []byte(`{"round_id":"r1","outcome":"7","wagers":[{"wager_id":"w1","status":"won","payout_cents":900}]}`)}); err != nil {
		t.Fatalf("round: %v", err)
	}
	if len(store.wagers) != 1 || store.wagers[0].NetCents != 100 {
		t.Errorf("wagers = %+v", store.wagers)
	}
	if len(store.rounds) != 1 || store.rounds[0].Wagers[0].PayoutCents != 900 {
		t.Errorf("rounds = %+v", store.rounds)
	}
}

func TestHandleDiscardsGarbage(t *testing.T) {
	store := &fakeStore{}
	a, errs := newArchiver(store)

	for _, m := range []kafka.Message{
		{Topic: "wager_placed", Value: []byte("not json")},
		{Topic: "wager_placed", Value: []byte(`{}`)},
		{Topic: "other", Value: []byte(`{}`)},
	} {
		err := a.Handle(context.Background(), m)
		if err == nil || retryable(err) {
			t.Errorf("%s %q: err = %v, want non-retryable", m.Topic, m.Value, err)
		}
	}
	if errs["decode"] != 3 {
		t.Errorf("decode errors = %d, want 3", errs["decode"])
	}
	if len(store.wagers) != 0 {
		t.Errorf("garbage persisted: %+v", store.wagers)
	}
}

func TestHandleStoreErrorIsRetryable(t *testing.T) {
	a, _ := newArchiver(&fakeStore{err: errors.New("db down")})
	err := a.Handle(context.Background(), kafka.Message{Topic: "round_settled", Value: []byte(`{"round_id":"r1"}`)})
	if err == nil || !retryable(err) {
		t.Errorf("err = %v, want retryable", err)
	}
}
