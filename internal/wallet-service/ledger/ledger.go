// Package ledger serializa as movimentações de cada usuário numa fila própria.
// Pedidos do mesmo usuário nunca correm em paralelo na aplicação; a contenção
// restante fica com uma transação curta por pedido no banco.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/shared/config"
	"github.com/radieske/period-bet-engine/internal/wallet-service/repo"
)

var (
	ErrRequestTimeout    = errors.New("wallet request timed out")
	ErrCreditFailed      = errors.New("credit failed after retries")
	ErrQueueFull         = errors.New("wallet queue full")
	ErrInsufficientFunds = repo.ErrInsufficientFunds
)

// Repo aplica uma movimentação numa única transação
type Repo interface {
	Apply(ctx context.Context, req repo.Request) (repo.Transaction, error)
	Balance(ctx context.Context, userID string) (int64, error)
	LedgerSum(ctx context.Context, userID string) (int64, error)
}

// Hooks de métricas (opcionais)
type Hooks struct {
	OnRetry   func()
	OnTimeout func()
	OnApplied func(kind string, d time.Duration)
}

type result struct {
	tx  repo.Transaction
	err error
}

type job struct {
	ctx       context.Context
	req       repo.Request
	done      chan result
	abandoned atomic.Bool
}

type userQueue struct {
	ch chan *job
}

// Ledger é a carteira com fila por usuário
type Ledger struct {
	log   *zap.Logger
	repo  Repo
	cfg   config.WalletConfig
	clock clockwork.Clock
	hooks Hooks

	mu     sync.Mutex
	queues map[string]*userQueue
	wg     sync.WaitGroup
}

func New(log *zap.Logger, r Repo, cfg config.WalletConfig, clock clockwork.Clock, hooks Hooks) *Ledger {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	return &Ledger{
		log:    log,
		repo:   r,
		cfg:    cfg,
		clock:  clock,
		hooks:  hooks,
		queues: make(map[string]*userQueue),
	}
}

// Credit aplica amount (positivo) ao saldo
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, kind, source, ref string) (repo.Transaction, error) {
	if amount <= 0 {
		return repo.Transaction{}, fmt.Errorf("credit amount must be positive: %d", amount)
	}
	return l.submit(ctx, repo.Request{UserID: userID, Amount: amount, Kind: kind, Source: source, ReferenceID: ref})
}

// Debit retira amount (positivo) do saldo; a checagem de saldo acontece na mesma transação
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, kind, source, ref string) (repo.Transaction, error) {
	if amount <= 0 {
		return repo.Transaction{}, fmt.Errorf("debit amount must be positive: %d", amount)
	}
	return l.submit(ctx, repo.Request{UserID: userID, Amount: -amount, Kind: kind, Source: source, ReferenceID: ref})
}

// Balance lê o saldo atual (leitura não passa pela fila)
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.repo.Balance(ctx, userID)
}

// Reconcile compara o saldo materializado com a soma do ledger
func (l *Ledger) Reconcile(ctx context.Context, userID string) (balance, ledger int64, err error) {
	if balance, err = l.repo.Balance(ctx, userID); err != nil {
		return 0, 0, err
	}
	if ledger, err = l.repo.LedgerSum(ctx, userID); err != nil {
		return 0, 0, err
	}
	if balance != ledger {
		l.log.Warn("wallet out of balance",
			zap.String("user_id", userID),
			zap.Int64("balance", balance),
			zap.Int64("ledger", ledger),
		)
	}
	return balance, ledger, nil
}

// Pending é quantos pedidos aguardam na fila do usuário
func (l *Ledger) Pending(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q, ok := l.queues[userID]; ok {
		return len(q.ch)
	}
	return 0
}

// ActiveQueues é quantas filas (goroutines) estão vivas
func (l *Ledger) ActiveQueues() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}

// Wait espera todas as filas ficarem ociosas e encerrarem
func (l *Ledger) Wait() { l.wg.Wait() }

func (l *Ledger) submit(ctx context.Context, req repo.Request) (repo.Transaction, error) {
	j := &job{ctx: ctx, req: req, done: make(chan result, 1)}

	// envio sob o mesmo lock do reaper: uma fila nunca some com job dentro
	l.mu.Lock()
	q, ok := l.queues[req.UserID]
	if !ok {
		q = &userQueue{ch: make(chan *job, l.cfg.QueueDepth)}
		l.queues[req.UserID] = q
		l.wg.Add(1)
		go l.run(req.UserID, q)
	}
	select {
	case q.ch <- j:
	default:
		l.mu.Unlock()
		return repo.Transaction{}, ErrQueueFull
	}
	l.mu.Unlock()

	timer := l.clock.NewTimer(l.cfg.RequestTimeout())
	defer timer.Stop()

	select {
	case res := <-j.done:
		return res.tx, res.err
	case <-timer.Chan():
		j.abandoned.Store(true)
		if l.hooks.OnTimeout != nil {
			l.hooks.OnTimeout()
		}
		l.log.Warn("wallet request timed out",
			zap.String("user_id", req.UserID),
			zap.String("kind", req.Kind),
			zap.String("reference_id", req.ReferenceID),
		)
		return repo.Transaction{}, ErrRequestTimeout
	case <-ctx.Done():
		j.abandoned.Store(true)
		return repo.Transaction{}, ctx.Err()
	}
}

// run processa a fila de um usuário até ficar ociosa
func (l *Ledger) run(userID string, q *userQueue) {
	defer l.wg.Done()
	idle := l.clock.NewTimer(l.cfg.QueueIdleAfter)
	defer idle.Stop()

	for {
		select {
		case j := <-q.ch:
			// quem desistiu antes do início sai da fila sem tocar no banco
			if j.abandoned.Load() {
				continue
			}
			start := l.clock.Now()
			tx, err := l.apply(j.ctx, j.req)
			j.done <- result{tx: tx, err: err}
			if err == nil && l.hooks.OnApplied != nil {
				l.hooks.OnApplied(j.req.Kind, l.clock.Since(start))
			}
			idle.Reset(l.cfg.QueueIdleAfter)
		case <-idle.Chan():
			l.mu.Lock()
			if len(q.ch) == 0 {
				delete(l.queues, userID)
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			idle.Reset(l.cfg.QueueIdleAfter)
		}
	}
}

// apply tenta a transação com backoff exponencial só para contenção.
// A operação não é cancelada quando o chamador desiste.
func (l *Ledger) apply(parent context.Context, req repo.Request) (repo.Transaction, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), l.cfg.RequestTimeout())
	defer cancel()

	delay := l.cfg.BackoffBase
	for attempt := 0; ; attempt++ {
		tx, err := l.repo.Apply(ctx, req)
		if err == nil {
			return tx, nil
		}
		if !repo.IsRetryable(err) {
			return repo.Transaction{}, err
		}
		if attempt >= l.cfg.MaxRetries {
			l.log.Error("wallet retries exhausted",
				zap.String("user_id", req.UserID),
				zap.String("kind", req.Kind),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return repo.Transaction{}, fmt.Errorf("%w: %w", ErrCreditFailed, err)
		}
		if l.hooks.OnRetry != nil {
			l.hooks.OnRetry()
		}
		l.log.Debug("wallet contention, retrying",
			zap.String("user_id", req.UserID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-l.clock.After(delay):
		case <-ctx.Done():
			return repo.Transaction{}, fmt.Errorf("%w: %w", ErrCreditFailed, ctx.Err())
		}
		delay = time.Duration(float64(delay) * l.cfg.BackoffFactor)
		if delay > l.cfg.BackoffMax {
			delay = l.cfg.BackoffMax
		}
	}
}
