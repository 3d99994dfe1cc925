// Package resolver compromete o resultado de uma rodada e dispara a liquidação.
// Qualquer processo pode chamar Resolve; o script de commit garante um único
// resultado por rodada e as chamadas seguintes apenas devolvem o que já existe.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/round-engine/exposure"
	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/internal/round-engine/selector"
	"github.com/radieske/period-bet-engine/internal/round-engine/settlement"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

var (
	ErrPeriodNotEnded   = errors.New("period not ended")
	ErrResultAlreadySet = exposure.ErrResultAlreadySet
	ErrUnknownGame      = errors.New("unknown game")
	ErrInvalidOutcome   = errors.New("outcome not in result space")
)

// Store é o que o resolver lê e escreve no ledger da rodada
type Store interface {
	Exposure(ctx context.Context, key rounds.Key) (map[string]int64, error)
	Population(ctx context.Context, key rounds.Key) (exposure.Population, error)
	Result(ctx context.Context, key rounds.Key) (records.Result, bool, error)
	CommitResult(ctx context.Context, key rounds.Key, candidate records.Result) (records.Result, bool, error)
	RecordOverride(ctx context.Context, key rounds.Key, override records.Result) error
}

type Settler interface {
	SettleRound(ctx context.Context, key rounds.Key, result records.Result) (settlement.Summary, error)
}

// Bus publica eventos do ciclo de rodada para todos os processos
type Bus interface {
	Publish(ctx context.Context, kind events.Kind, key rounds.Key, payload any) error
}

// Resolution é o que uma chamada a Resolve produziu
type Resolution struct {
	Key      rounds.Key
	Result   records.Result
	Outcome  games.Outcome
	Summary  settlement.Summary
	Replayed bool // rodada já estava resolvida e liquidada
}

type Resolver struct {
	log      *zap.Logger
	store    Store
	settler  Settler
	bus      Bus
	catalog  *games.Catalog
	rounds   *rounds.Clock
	clock    clockwork.Clock
	policy   selector.Policy
	timeline string

	mu  sync.Mutex
	rng *rand.Rand

	OnResolved func(mode string)
}

func New(log *zap.Logger, store Store, settler Settler, bus Bus, catalog *games.Catalog, rc *rounds.Clock, clock clockwork.Clock, policy selector.Policy, timeline string) *Resolver {
	return &Resolver{
		log:      log,
		store:    store,
		settler:  settler,
		bus:      bus,
		catalog:  catalog,
		rounds:   rc,
		clock:    clock,
		policy:   policy,
		timeline: timeline,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithRand troca a fonte aleatória (testes)
func (r *Resolver) WithRand(rng *rand.Rand) *Resolver {
	r.mu.Lock()
	r.rng = rng
	r.mu.Unlock()
	return r
}

// Resolve compromete (ou reaproveita) o resultado da rodada e liquida as apostas
func (r *Resolver) Resolve(ctx context.Context, gameType string, duration time.Duration, roundID string) (Resolution, error) {
	g, ok := r.catalog.Game(gameType)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownGame, gameType)
	}
	round, err := r.rounds.Parse(gameType, duration, roundID)
	if err != nil {
		return Resolution{}, err
	}
	key := round.Key(r.timeline)

	result, found, err := r.store.Result(ctx, key)
	if err != nil {
		return Resolution{}, r.fail(ctx, key, "read_result", err)
	}
	if !found {
		result, err = r.commit(ctx, g, key)
		if err != nil {
			return Resolution{}, r.fail(ctx, key, "commit", err)
		}
	}

	sum, err := r.settler.SettleRound(ctx, key, result)
	if err != nil {
		if errors.Is(err, settlement.ErrInProgress) {
			// outro processo está liquidando; ele publica o resultado
			return Resolution{Key: key, Result: result, Outcome: describe(g, result)}, err
		}
		return Resolution{}, r.fail(ctx, key, "settlement", err)
	}

	res := Resolution{Key: key, Result: result, Outcome: describe(g, result), Summary: sum, Replayed: sum.Replayed}
	if sum.Replayed {
		return res, nil
	}

	payload := events.RoundResolved{
		Outcome:     result.Outcome,
		Details:     outcome.Details,
		Mode:        result.Mode,
		Proof:       result.Proof,
		WagerCount:  sum.WagerCount,
		UniqueUsers: sum.UniqueUsers,
		TotalStake:  sum.TotalStake,
		TotalPayout: sum.TotalPayout,
		Winners:     sum.Winners,
	}
	if err := r.bus.Publish(ctx, events.KindRoundResolved, key, payload); err != nil {
		// o resultado está comprometido; clientes recuperam pelo heartbeat
		r.log.Warn("publish round resolved failed", zap.String("round", key.String()), zap.Error(err))
	}
	if r.OnResolved != nil {
		r.OnResolved(result.Mode)
	}
	return res, nil
}

func (r *Resolver) commit(ctx context.Context, g games.Game, key rounds.Key) (records.Result, error) {
	exp, err := r.store.Exposure(ctx, key)
	if err != nil {
		return records.Result{}, err
	}
	pop, err := r.store.Population(ctx, key)
	if err != nil {
		return records.Result{}, err
	}

	r.mu.Lock()
	d := selector.Select(g, key, exp, pop, r.policy, r.rng)
	r.mu.Unlock()

	candidate := records.Result{
		Outcome:     d.Outcome.Key,
		Mode:        d.Mode,
		Proof:       d.Outcome.Proof,
		CommittedAt: r.clock.Now(),
	}
	result, committed, err := r.store.CommitResult(ctx, key, candidate)
	if err != nil {
		return records.Result{}, err
	}
	if committed {
		r.log.Info("round result committed",
			zap.String("round", key.String()),
			zap.String("outcome", result.Outcome),
			zap.String("mode", result.Mode),
			zap.Int64("unique_users", pop.UniqueUsers),
			zap.Int64("liability", exp[result.Outcome]),
		)
	}
	return result, nil
}

// Override grava o resultado escolhido pelo operador e resolve a rodada na hora.
// Só vale depois do fim natural da rodada e antes de qualquer commit.
func (r *Resolver) Override(ctx context.Context, gameType string, duration time.Duration, roundID, outcome, operator string) (Resolution, error) {
	g, ok := r.catalog.Game(gameType)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownGame, gameType)
	}
	round, err := r.rounds.Parse(gameType, duration, roundID)
	if err != nil {
		return Resolution{}, err
	}
	now := r.clock.Now()
	if now.Before(round.End) {
		return Resolution{}, ErrPeriodNotEnded
	}
	if !games.Contains(g, outcome) {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	key := round.Key(r.timeline)
	if _, found, err := r.store.Result(ctx, key); err != nil {
		return Resolution{}, err
	} else if found {
		return Resolution{}, ErrResultAlreadySet
	}

	marker := records.Result{
		Outcome:     outcome,
		Mode:        selector.ModeOverride,
		Operator:    operator,
		CommittedAt: now,
	}
	if err := r.store.RecordOverride(ctx, key, marker); err != nil {
		return Resolution{}, err
	}
	r.log.Warn("round override recorded",
		zap.String("round", key.String()),
		zap.String("outcome", outcome),
		zap.String("operator", operator),
	)
	return r.Resolve(ctx, gameType, duration, roundID)
}

func describe(g games.Game, result records.Result) games.Outcome {
	outcome, err := g.Describe(result.Outcome)
	if err != nil {
		outcome = games.Outcome{Key: result.Outcome}
	}
	outcome.Proof = result.Proof
	return outcome
}

// fail publica roundError e devolve o erro original
func (r *Resolver) fail(ctx context.Context, key rounds.Key, stage string, err error) error {
	r.log.Error("round resolution failed", zap.String("round", key.String()), zap.String("stage", stage), zap.Error(err))
	if perr := r.bus.Publish(ctx, events.KindRoundError, key, events.RoundError{Stage: stage, Message: err.Error()}); perr != nil {
		r.log.Warn("publish round error failed", zap.Error(perr))
	}
	return err
}
