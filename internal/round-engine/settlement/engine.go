// Package settlement liquida as apostas de uma rodada contra o resultado comprometido.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/round-engine/exposure"
	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	walletdto "github.com/radieske/period-bet-engine/internal/wallet-service/dto"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

// releaseScript apaga o lease só se ele ainda for deste claim; se expirou e
// outro processo assumiu, o lease dele fica
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RetryList é a fila Redis de pagamentos que falharam
const RetryList = "settlement:retry"

// deadList guarda pagamentos que esgotaram as tentativas automáticas
const deadList = "settlement:dead"

var ErrInProgress = errors.New("settlement in progress")

// Crediter é a carteira vista pela liquidação
type Crediter interface {
	Credit(ctx context.Context, userID string, amount int64, kind, source, referenceID string) (int64, error)
}

// Ledger é o subconjunto do store de apostas usado aqui
type Ledger interface {
	Wagers(ctx context.Context, key rounds.Key) ([]records.Wager, error)
	MarkSettled(ctx context.Context, key rounds.Key, wagerID, status string) (bool, error)
	Population(ctx context.Context, key rounds.Key) (exposure.Population, error)
}

// SettledPublisher arquiva a liquidação (Kafka)
type SettledPublisher interface {
	PublishRoundSettled(ctx context.Context, e events.RoundSettled) error
}

// Summary é o resultado de SettleRound
type Summary struct {
	records.SettlementSummary
	UniqueUsers int64
	TotalStake  int64
	Wagers      []events.WagerOutcome
	Replayed    bool // a rodada já estava liquidada; nenhum crédito foi feito
}

// Hooks de métricas (opcionais)
type Hooks struct {
	OnCredit func(ok bool)
	OnRound  func(d time.Duration)
}

type Config struct {
	Lease      time.Duration
	Retention  time.Duration
	RetryMax   int
	RetryBatch int
}

// Engine liquida rodadas; pode rodar em qualquer processo
type Engine struct {
	log     *zap.Logger
	r       *redis.Client
	ledger  Ledger
	catalog *games.Catalog
	wallet  Crediter
	pub     SettledPublisher
	clock   clockwork.Clock
	cfg     Config
	hooks   Hooks
}

func NewEngine(log *zap.Logger, r *redis.Client, ledger Ledger, catalog *games.Catalog, wallet Crediter, pub SettledPublisher, clock clockwork.Clock, cfg Config, hooks Hooks) *Engine {
	if cfg.RetryBatch <= 0 {
		cfg.RetryBatch = 100
	}
	return &Engine{
		log:     log,
		r:       r,
		ledger:  ledger,
		catalog: catalog,
		wallet:  wallet,
		pub:     pub,
		clock:   clock,
		cfg:     cfg,
		hooks:   hooks,
	}
}

// SettleRound paga os vencedores da rodada. Uma segunda chamada devolve o
// resumo gravado sem creditar ninguém.
func (e *Engine) SettleRound(ctx context.Context, key rounds.Key, result records.Result) (Summary, error) {
	if prev, ok, err := e.loadSummary(ctx, key); err != nil {
		return Summary{}, err
	} else if ok {
		return Summary{SettlementSummary: prev, Replayed: true}, nil
	}

	lease := key.With("settle")
	token := uuid.NewString()
	claimed, err := e.r.SetNX(ctx, lease, token, e.cfg.Lease).Result()
	if err != nil {
		return Summary{}, fmt.Errorf("claim settlement %s: %w", key, err)
	}
	if !claimed {
		return Summary{}, ErrInProgress
	}
	defer e.release(context.WithoutCancel(ctx), lease, token)

	// outro processo pode ter terminado entre a leitura e o claim
	if prev, ok, err := e.loadSummary(ctx, key); err != nil {
		return Summary{}, err
	} else if ok {
		return Summary{SettlementSummary: prev, Replayed: true}, nil
	}

	g, ok := e.catalog.Game(key.GameType)
	if !ok {
		return Summary{}, fmt.Errorf("settle %s: unknown game %q", key, key.GameType)
	}
	wagers, err := e.ledger.Wagers(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	pop, err := e.ledger.Population(ctx, key)
	if err != nil {
		return Summary{}, err
	}

	start := e.clock.Now()
	sum := Summary{
		SettlementSummary: records.SettlementSummary{
			RoundID:    key.RoundID,
			Outcome:    result.Outcome,
			WagerCount: int64(len(wagers)),
		},
		UniqueUsers: pop.UniqueUsers,
		TotalStake:  pop.TotalStake,
		Wagers:      make([]events.WagerOutcome, 0, len(wagers)),
	}

	for _, w := range wagers {
		payout := g.Payout(w.Selector, result.Outcome, w.NetStake)
		status := exposure.StatusLost
		if payout > 0 {
			status = exposure.StatusWon
		}
		if _, err := e.ledger.MarkSettled(ctx, key, w.WagerID, status); err != nil {
			return Summary{}, err
		}
		sum.Wagers = append(sum.Wagers, events.WagerOutcome{
			WagerID:     w.WagerID,
			UserID:      w.UserID,
			Status:      status,
			PayoutCents: payout,
		})
		if payout == 0 {
			continue
		}
		sum.Winners++
		sum.TotalPayout += payout

		// o crédito é idempotente pela referência (wagerId), então uma
		// liquidação retomada após falha pode repeti-lo sem pagar duas vezes
		if _, err := e.wallet.Credit(ctx, w.UserID, payout, walletdto.KindPayout, walletdto.SourceSettlement, w.WagerID); err != nil {
			e.observeCredit(false)
			e.log.Warn("payout credit failed, queued for retry",
				zap.String("round", key.String()),
				zap.String("wager_id", w.WagerID),
				zap.String("user_id", w.UserID),
				zap.Int64("amount", payout),
				zap.Error(err),
			)
			retry := records.CreditRetry{
				WagerID:  w.WagerID,
				UserID:   w.UserID,
				Amount:   payout,
				RoundID:  key.RoundID,
				Attempts: 1,
				LastErr:  err.Error(),
			}
			if qerr := e.enqueueRetry(ctx, retry); qerr != nil {
				e.log.Error("failed to queue payout retry", zap.String("wager_id", w.WagerID), zap.Error(qerr))
			}
			sum.Failed = append(sum.Failed, retry)
			continue
		}
		e.observeCredit(true)
	}

	sum.CompletedAt = e.clock.Now()
	raw, err := records.Encode(records.KindSettlement, &sum.SettlementSummary)
	if err != nil {
		return Summary{}, err
	}
	if err := e.r.Set(ctx, key.With("settlement"), raw, e.cfg.Retention).Err(); err != nil {
		return Summary{}, fmt.Errorf("store settlement %s: %w", key, err)
	}
	if e.hooks.OnRound != nil {
		e.hooks.OnRound(e.clock.Since(start))
	}

	if e.pub != nil {
		evt := events.RoundSettled{
			GameType:    key.GameType,
			Duration:    key.Duration,
			RoundID:     key.RoundID,
			Outcome:     result.Outcome,
			Mode:        result.Mode,
			WagerCount:  sum.WagerCount,
			TotalStake:  sum.TotalStake,
			TotalPayout: sum.TotalPayout,
			Wagers:      sum.Wagers,
			ResolvedAt:  result.CommittedAt,
		}
		if err := e.pub.PublishRoundSettled(ctx, evt); err != nil {
			e.log.Warn("round_settled publish failed", zap.String("round", key.String()), zap.Error(err))
		}
	}

	e.log.Info("round settled",
		zap.String("round", key.String()),
		zap.String("outcome", result.Outcome),
		zap.Int64("wagers", sum.WagerCount),
		zap.Int("winners", sum.Winners),
		zap.Int64("total_payout", sum.TotalPayout),
		zap.Int("failed_credits", len(sum.Failed)),
	)
	return sum, nil
}

// Settled devolve o resumo gravado da rodada, se houver
func (e *Engine) Settled(ctx context.Context, key rounds.Key) (records.SettlementSummary, bool, error) {
	return e.loadSummary(ctx, key)
}

func (e *Engine) loadSummary(ctx context.Context, key rounds.Key) (records.SettlementSummary, bool, error) {
	raw, err := e.r.Get(ctx, key.With("settlement")).Result()
	if errors.Is(err, redis.Nil) {
		return records.SettlementSummary{}, false, nil
	}
	if err != nil {
		return records.SettlementSummary{}, false, fmt.Errorf("read settlement %s: %w", key, err)
	}
	s, err := records.Decode[records.SettlementSummary](records.KindSettlement, raw)
	if err != nil {
		return records.SettlementSummary{}, false, err
	}
	return s, true, nil
}

func (e *Engine) observeCredit(ok bool) {
	if e.hooks.OnCredit != nil {
		e.hooks.OnCredit(ok)
	}
}

func (e *Engine) release(ctx context.Context, lease, token string) {
	n, err := releaseScript.Run(ctx, e.r, []string{lease}, token).Int()
	if err != nil {
		e.log.Warn("release settlement lease failed", zap.String("lease", lease), zap.Error(err))
		return
	}
	if n == 0 {
		e.log.Warn("settlement outlived its lease", zap.String("lease", lease))
	}
}
