package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/history-worker/consumer"
	"github.com/radieske/period-bet-engine/internal/history-worker/repository"
	"github.com/radieske/period-bet-engine/internal/shared/config"
	"github.com/radieske/period-bet-engine/internal/shared/db"
	"github.com/radieske/period-bet-engine/internal/shared/kafka"
	"github.com/radieske/period-bet-engine/internal/shared/logger"
	"github.com/radieske/period-bet-engine/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("history-worker", cfg.Env, cfg.InstanceID)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	mctx, mcancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.Migrate(mctx, pg); err != nil {
		log.Fatal("postgres migrate", zap.Error(err))
	}
	mcancel()

	// Um consumer group lê os dois tópicos
	reader := kafka.NewReader(cfg.Brokers(), "history-worker", cfg.TopicWagerPlaced, cfg.TopicRoundSettled)
	defer reader.Close()

	// Métricas Prometheus por tópico
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "history_messages_consumed_total", Help: "mensagens consumidas"}, []string{"topic"})
	persisted := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "history_db_writes_total", Help: "mensagens gravadas no banco"}, []string{"topic"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "history_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, persisted, errorsBy)

	archiver := &consumer.Archiver{
		Log:               log,
		Reader:            reader,
		Store:             repository.NewPostgresRepo(pg),
		TopicWagerPlaced:  cfg.TopicWagerPlaced,
		TopicRoundSettled: cfg.TopicRoundSettled,
		OnConsumed:        func(topic string) { consumed.WithLabelValues(topic).Inc() },
		OnPersist:         func(topic string) { persisted.WithLabelValues(topic).Inc() },
		OnError:           func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, map[string]metrics.HealthFunc{
		"postgres": pg.PingContext,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("history-worker started",
		zap.String("wager_topic", cfg.TopicWagerPlaced),
		zap.String("settled_topic", cfg.TopicRoundSettled),
	)
	if err := archiver.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("archiver stopped with error", zap.Error(err))
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = metricsSrv.Shutdown(sctx)
	log.Info("history-worker stopped")
}
