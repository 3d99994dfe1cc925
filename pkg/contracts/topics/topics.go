package topics

const (
	// Kafka: arquivo histórico de apostas e liquidações
	WagerPlaced  = "wager_placed"
	RoundSettled = "round_settled"
)

// Canais Redis Pub/Sub do ciclo de rodadas.
// Todo game-server assina os quatro; o payload carrega gameType/duration.
const (
	ChannelPeriodStart   = "scheduler:period_start"
	ChannelBettingClosed = "scheduler:betting_closed"
	ChannelPeriodResult  = "scheduler:period_result"
	ChannelPeriodError   = "scheduler:period_error"
)

// LifecycleChannels lista os canais assinados por cada processo
func LifecycleChannels() []string {
	return []string{ChannelPeriodStart, ChannelBettingClosed, ChannelPeriodResult, ChannelPeriodError}
}
