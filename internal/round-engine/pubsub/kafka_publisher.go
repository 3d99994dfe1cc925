package pubsub

import (
	"context"

	"github.com/radieske/period-bet-engine/internal/shared/kafka"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
)

// KafkaPublisher arquiva apostas e liquidações para o history-worker
type KafkaPublisher struct {
	Wagers  *kafka.Writer
	Settled *kafka.Writer
}

func NewKafkaPublisher(wagers, settled *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{Wagers: wagers, Settled: settled}
}

// PublishWagerPlaced usa o roundId como chave: apostas da rodada ficam na mesma partição
func (p *KafkaPublisher) PublishWagerPlaced(ctx context.Context, e events.WagerPlaced) error {
	return kafka.WriteJSON(ctx, p.Wagers, e.RoundID, e)
}

func (p *KafkaPublisher) PublishRoundSettled(ctx context.Context, e events.RoundSettled) error {
	return kafka.WriteJSON(ctx, p.Settled, e.RoundID, e)
}
