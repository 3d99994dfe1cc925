package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/bet-simulator/bot"
	"github.com/radieske/period-bet-engine/internal/shared/config"
	"github.com/radieske/period-bet-engine/internal/shared/logger"
	"github.com/radieske/period-bet-engine/internal/shared/metrics"
	wclient "github.com/radieske/period-bet-engine/internal/wallet-service/client"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("bet-simulator", cfg.Env, cfg.InstanceID)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	rooms, err := bot.ParseRooms(cfg.Simulator.Rooms)
	if err != nil {
		log.Fatal("simulator rooms", zap.Error(err))
	}

	placed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sim_bets_placed_total", Help: "apostas aceitas"}, []string{"game"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sim_bets_rejected_total", Help: "apostas recusadas"}, []string{"reason"})
	results := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sim_bet_results_total", Help: "resultados recebidos"}, []string{"status"})
	prometheus.MustRegister(placed, rejected, results)

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, nil)

	wallet := wclient.New(cfg.WalletURL, cfg.Wallet.RequestTimeout())
	hooks := bot.Hooks{
		OnBet:      func(game string) { placed.WithLabelValues(game).Inc() },
		OnRejected: func(reason string) { rejected.WithLabelValues(reason).Inc() },
		OnResult:   func(status string) { results.WithLabelValues(status).Inc() },
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Simulator.Bots; i++ {
		b := &bot.Bot{
			UserID:    fmt.Sprintf("sim-%s-%03d", cfg.InstanceID, i),
			URL:       cfg.GameServerWSURL,
			Room:      rooms[i%len(rooms)],
			Wallet:    wallet,
			Log:       log,
			Rand:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(i))),
			BetChance: cfg.Simulator.BetChance,
			Stakes:    []int64{100, 200, 500, 1000, 5000},
			TopUp:     cfg.Simulator.TopUp,
			Hooks:     hooks,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Start(ctx)
		}()
	}
	log.Info("bet-simulator started",
		zap.Int("bots", cfg.Simulator.Bots),
		zap.Int("rooms", len(rooms)),
		zap.String("target", cfg.GameServerWSURL),
	)

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = metricsSrv.Shutdown(sctx)
}
