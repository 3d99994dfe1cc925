package ws

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/pkg/contracts/events"
	"github.com/radieske/period-bet-engine/pkg/contracts/topics"
)

// StartRedisSubscriber assina os canais do ciclo de rodada e repassa cada
// envelope válido para handle, numa única goroutine. Retorna depois que a
// assinatura foi confirmada pelo Redis.
func StartRedisSubscriber(ctx context.Context, r *redis.Client, log *zap.Logger, handle func(events.Envelope)) error {
	sub := r.Subscribe(ctx, topics.LifecycleChannels()...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe lifecycle channels: %w", err)
	}
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close() // encerra a inscrição ao finalizar o contexto
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				env, err := events.Decode([]byte(msg.Payload))
				if err != nil {
					log.Warn("lifecycle event rejected", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handle(env)
			}
		}
	}()
	return nil
}
