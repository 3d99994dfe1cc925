// Package scheduler conduz o ciclo de vida das rodadas sem líder.
// Todo game-server roda o mesmo laço; SETNX no Redis decide quem publica cada
// transição, e um lease com expiração decide quem resolve uma rodada vencida.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/resolver"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
)

// Bus publica transições para todos os processos
type Bus interface {
	Publish(ctx context.Context, kind events.Kind, key rounds.Key, payload any) error
}

// PointerStore guarda o "current round" autoritativo por sala
type PointerStore interface {
	PublishPointer(ctx context.Context, r rounds.Round) error
}

type Resolver interface {
	Resolve(ctx context.Context, gameType string, duration time.Duration, roundID string) (resolver.Resolution, error)
}

type Retrier interface {
	RetryFailed(ctx context.Context) (int, error)
}

type Config struct {
	Tick         time.Duration
	CloseMargin  time.Duration
	ResolveDelay time.Duration
	ResolveLease time.Duration
	Retention    time.Duration
	Timeline     string
	RetryEvery   time.Duration
	Lookback     int // quantas rodadas anteriores conferir por sala
	PendingScan  int // máximo de rodadas pendentes drenadas por Tick
}

// pendingKey é um ZSET com as rodadas ainda sem settlement, score = fim em ms.
// Sobrevive à janela de Lookback: rodada que falhou ou venceu durante uma
// queda continua sendo retomada até o settlement existir.
const pendingKey = "rounds:pending"

type Scheduler struct {
	log      *zap.Logger
	r        *redis.Client
	catalog  *games.Catalog
	rounds   *rounds.Clock
	clock    clockwork.Clock
	bus      Bus
	pointers PointerStore
	resolver Resolver
	retrier  Retrier
	cfg      Config

	wg sync.WaitGroup
}

func New(log *zap.Logger, r *redis.Client, catalog *games.Catalog, rc *rounds.Clock, clock clockwork.Clock, bus Bus, pointers PointerStore, res Resolver, retrier Retrier, cfg Config) *Scheduler {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 3
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 10 * time.Second
	}
	if cfg.PendingScan <= 0 {
		cfg.PendingScan = 100
	}
	return &Scheduler{
		log:      log,
		r:        r,
		catalog:  catalog,
		rounds:   rc,
		clock:    clock,
		bus:      bus,
		pointers: pointers,
		resolver: res,
		retrier:  retrier,
		cfg:      cfg,
	}
}

// Run bloqueia até ctx terminar
func (s *Scheduler) Run(ctx context.Context) {
	tick := s.clock.NewTicker(s.cfg.Tick)
	defer tick.Stop()
	retry := s.clock.NewTicker(s.cfg.RetryEvery)
	defer retry.Stop()

	s.log.Info("scheduler started",
		zap.Duration("tick", s.cfg.Tick),
		zap.Int("rooms", len(s.catalog.Pairs())),
	)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-tick.Chan():
			s.Tick(ctx)
		case <-retry.Chan():
			if s.retrier == nil {
				continue
			}
			if n, err := s.retrier.RetryFailed(ctx); err != nil {
				s.log.Warn("payout retry pass failed", zap.Error(err))
			} else if n > 0 {
				s.log.Info("payout retry pass", zap.Int("paid", n))
			}
		}
	}
}

// Tick avalia todas as salas uma vez; resoluções rodam em goroutines próprias
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()
	for _, p := range s.catalog.Pairs() {
		cur := s.rounds.Current(p.Game.Type(), p.Duration, now)
		if err := s.observe(ctx, cur, now); err != nil {
			s.log.Warn("scheduler tick failed",
				zap.String("game", p.Game.Type()),
				zap.Duration("duration", p.Duration),
				zap.Error(err),
			)
		}
	}
	if err := s.drainPending(ctx, now); err != nil {
		s.log.Warn("pending rounds scan failed", zap.Error(err))
	}
}

// Wait espera resoluções disparadas pelo último Tick (testes)
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) observe(ctx context.Context, cur rounds.Round, now time.Time) error {
	key := cur.Key(s.cfg.Timeline)

	// NX: o score não muda depois de registrado
	if err := s.r.ZAddNX(ctx, pendingKey, redis.Z{Score: float64(cur.End.UnixMilli()), Member: key.String()}).Err(); err != nil {
		return fmt.Errorf("track pending %s: %w", key, err)
	}

	won, err := s.claim(ctx, key.With("opened"), s.cfg.Retention)
	if err != nil {
		return err
	}
	if won {
		if err := s.pointers.PublishPointer(ctx, cur); err != nil {
			s.log.Warn("publish round pointer failed", zap.String("round", key.String()), zap.Error(err))
		}
		payload := events.RoundOpened{StartTime: cur.Start, EndTime: cur.End, CloseAt: cur.CloseAt(s.cfg.CloseMargin)}
		if err := s.bus.Publish(ctx, events.KindRoundOpened, key, payload); err != nil {
			return err
		}
	}

	if !cur.BettingOpen(now, s.cfg.CloseMargin) {
		won, err := s.claim(ctx, key.With("closed"), s.cfg.Retention)
		if err != nil {
			return err
		}
		if won {
			if err := s.bus.Publish(ctx, events.KindBettingClosed, key, events.BettingClosed{EndTime: cur.End}); err != nil {
				return err
			}
		}
	}

	prev := cur
	for i := 0; i < s.cfg.Lookback; i++ {
		prev = s.rounds.Previous(prev)
		if now.Before(prev.End.Add(s.cfg.ResolveDelay)) {
			continue
		}
		if err := s.maybeResolve(ctx, prev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) maybeResolve(ctx context.Context, r rounds.Round) error {
	key := r.Key(s.cfg.Timeline)
	done, err := s.r.Exists(ctx, key.With("settlement")).Result()
	if err != nil {
		return fmt.Errorf("check settlement %s: %w", key, err)
	}
	if done == 1 {
		return s.r.ZRem(ctx, pendingKey, key.String()).Err()
	}
	won, err := s.claim(ctx, key.With("resolving"), s.cfg.ResolveLease)
	if err != nil || !won {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ResolveLease)
		defer cancel()
		res, err := s.resolver.Resolve(rctx, r.GameType, r.Duration, r.ID)
		if err != nil {
			// o lease expira e outro processo (ou este) tenta de novo
			s.log.Warn("round resolution failed", zap.String("round", key.String()), zap.Error(err))
			return
		}
		if err := s.r.ZRem(rctx, pendingKey, key.String()).Err(); err != nil {
			s.log.Warn("untrack pending round failed", zap.String("round", key.String()), zap.Error(err))
		}
		s.log.Debug("round resolved by scheduler",
			zap.String("round", key.String()),
			zap.String("outcome", res.Result.Outcome),
			zap.Bool("replayed", res.Replayed),
		)
	}()
	return nil
}

// drainPending retoma rodadas vencidas há mais de ResolveDelay, por mais
// antigas que sejam. Passada a retenção do ledger não há mais o que liquidar.
func (s *Scheduler) drainPending(ctx context.Context, now time.Time) error {
	if s.cfg.Retention > 0 {
		expired := strconv.FormatInt(now.Add(-s.cfg.Retention).UnixMilli(), 10)
		n, err := s.r.ZRemRangeByScore(ctx, pendingKey, "-inf", "("+expired).Result()
		if err != nil {
			return fmt.Errorf("expire pending rounds: %w", err)
		}
		if n > 0 {
			s.log.Error("pending rounds expired without settlement", zap.Int64("rounds", n))
		}
	}

	due := strconv.FormatInt(now.Add(-s.cfg.ResolveDelay).UnixMilli(), 10)
	members, err := s.r.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   due,
		Count: int64(s.cfg.PendingScan),
	}).Result()
	if err != nil {
		return fmt.Errorf("scan pending rounds: %w", err)
	}

	for _, m := range members {
		key, err := rounds.ParseKey(m)
		if err == nil && key.Timeline != s.cfg.Timeline {
			continue
		}
		var r rounds.Round
		if err == nil {
			r, err = s.rounds.Parse(key.GameType, key.DurationValue(), key.RoundID)
		}
		if err != nil {
			s.log.Warn("dropping malformed pending round", zap.String("round", m), zap.Error(err))
			_ = s.r.ZRem(ctx, pendingKey, m).Err()
			continue
		}
		if err := s.maybeResolve(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// claim é um SET NX PX: true só para o primeiro processo
func (s *Scheduler) claim(ctx context.Context, k string, ttl time.Duration) (bool, error) {
	ok, err := s.r.SetNX(ctx, k, s.clock.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", k, err)
	}
	return ok, nil
}
