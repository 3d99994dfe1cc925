package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

var errBadPointer = errors.New("unreadable round pointer")

// Cache guarda o ponteiro "current round" de cada sala
type Cache struct {
	R   *redis.Client
	TTL time.Duration
}

func New(r *redis.Client, ttl time.Duration) *Cache { return &Cache{R: r, TTL: ttl} }

func keyPointer(gameType string, durationSec int) string {
	return fmt.Sprintf("round:current:%s:%d", gameType, durationSec)
}

// PublishPointer grava o ponteiro da rodada; expira junto com a rodada + TTL
func (c *Cache) PublishPointer(ctx context.Context, r rounds.Round) error {
	p := records.RoundPointer{
		GameType:  r.GameType,
		Duration:  r.DurationSeconds(),
		RoundID:   r.ID,
		StartTime: r.Start,
		EndTime:   r.End,
	}
	raw, err := records.Encode(records.KindRoundPointer, &p)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, keyPointer(p.GameType, p.Duration), raw, r.Duration+c.TTL).Err()
}

// GetPointer lê o ponteiro publicado; ok=false quando ausente
func (c *Cache) GetPointer(ctx context.Context, gameType string, durationSec int) (records.RoundPointer, bool, error) {
	raw, err := c.R.Get(ctx, keyPointer(gameType, durationSec)).Result()
	if errors.Is(err, redis.Nil) {
		return records.RoundPointer{}, false, nil
	}
	if err != nil {
		return records.RoundPointer{}, false, err
	}
	p, err := records.Decode[records.RoundPointer](records.KindRoundPointer, raw)
	if err != nil {
		return records.RoundPointer{}, false, fmt.Errorf("%w: %w", errBadPointer, err)
	}
	return p, true, nil
}

// Current devolve a rodada corrente. Ponteiro ausente, ilegível ou vencido é
// recalculado pelo relógio e republicado.
func (c *Cache) Current(ctx context.Context, rc *rounds.Clock, gameType string, d time.Duration, now time.Time) (rounds.Round, bool, error) {
	want := rc.Current(gameType, d, now)
	p, ok, err := c.GetPointer(ctx, gameType, int(d/time.Second))
	if err == nil && ok && p.RoundID == want.ID {
		return want, false, nil
	}
	if err != nil && !errors.Is(err, errBadPointer) {
		return want, false, err
	}
	if err := c.PublishPointer(ctx, want); err != nil {
		return want, false, err
	}
	return want, true, nil
}
