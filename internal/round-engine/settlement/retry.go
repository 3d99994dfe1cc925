package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	walletdto "github.com/radieske/period-bet-engine/internal/wallet-service/dto"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

func (e *Engine) enqueueRetry(ctx context.Context, c records.CreditRetry) error {
	raw, err := records.Encode(records.KindCreditRetry, &c)
	if err != nil {
		return err
	}
	return e.r.RPush(ctx, RetryList, raw).Err()
}

// RetryFailed drena um lote da fila de pagamentos pendentes.
// Devolve quantos créditos foram efetivados.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	paid := 0
	for i := 0; i < e.cfg.RetryBatch; i++ {
		raw, err := e.r.LPop(ctx, RetryList).Result()
		if errors.Is(err, redis.Nil) {
			return paid, nil
		}
		if err != nil {
			return paid, fmt.Errorf("pop payout retry: %w", err)
		}

		c, err := records.Decode[records.CreditRetry](records.KindCreditRetry, raw)
		if err != nil {
			// registro ilegível não volta para a fila; fica no dead list para inspeção
			e.log.Error("dropping unreadable payout retry", zap.String("raw", raw), zap.Error(err))
			_ = e.r.RPush(ctx, deadList, raw).Err()
			continue
		}

		if _, err := e.wallet.Credit(ctx, c.UserID, c.Amount, walletdto.KindPayout, walletdto.SourceSettlement, c.WagerID); err != nil {
			e.observeCredit(false)
			c.Attempts++
			c.LastErr = err.Error()
			target := RetryList
			if e.cfg.RetryMax > 0 && c.Attempts >= e.cfg.RetryMax {
				target = deadList
				e.log.Error("payout retries exhausted",
					zap.String("wager_id", c.WagerID),
					zap.String("user_id", c.UserID),
					zap.Int64("amount", c.Amount),
					zap.Int("attempts", c.Attempts),
					zap.Error(err),
				)
			}
			next, encErr := records.Encode(records.KindCreditRetry, &c)
			if encErr != nil {
				return paid, encErr
			}
			if err := e.r.RPush(ctx, target, next).Err(); err != nil {
				return paid, fmt.Errorf("requeue payout retry: %w", err)
			}
			// não insiste no mesmo lote; a próxima rodada do scheduler tenta de novo
			if target == RetryList {
				return paid, nil
			}
			continue
		}
		e.observeCredit(true)
		paid++
		e.log.Info("payout retry applied", zap.String("wager_id", c.WagerID), zap.Int64("amount", c.Amount))
	}
	return paid, nil
}

// PendingRetries é o tamanho atual da fila de pagamentos pendentes
func (e *Engine) PendingRetries(ctx context.Context) (int64, error) {
	return e.r.LLen(ctx, RetryList).Result()
}
