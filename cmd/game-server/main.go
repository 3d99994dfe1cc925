package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/game-server/bets"
	"github.com/radieske/period-bet-engine/internal/game-server/cache"
	httpapi "github.com/radieske/period-bet-engine/internal/game-server/http"
	"github.com/radieske/period-bet-engine/internal/game-server/repo"
	"github.com/radieske/period-bet-engine/internal/game-server/ws"
	"github.com/radieske/period-bet-engine/internal/round-engine/exposure"
	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/pubsub"
	"github.com/radieske/period-bet-engine/internal/round-engine/resolver"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/internal/round-engine/scheduler"
	"github.com/radieske/period-bet-engine/internal/round-engine/selector"
	"github.com/radieske/period-bet-engine/internal/round-engine/settlement"
	rcache "github.com/radieske/period-bet-engine/internal/shared/cache"
	"github.com/radieske/period-bet-engine/internal/shared/config"
	"github.com/radieske/period-bet-engine/internal/shared/db"
	"github.com/radieske/period-bet-engine/internal/shared/kafka"
	"github.com/radieske/period-bet-engine/internal/shared/logger"
	"github.com/radieske/period-bet-engine/internal/shared/metrics"
	wclient "github.com/radieske/period-bet-engine/internal/wallet-service/client"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
)

func main() {
	cfg := config.Load()

	log, err := logger.New("game-server", cfg.Env, cfg.InstanceID)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "game-server"), zap.String("env", cfg.Env), zap.String("instance", cfg.InstanceID))

	// Redis: ledger de apostas, resultados, locks e pub/sub entre instâncias
	rdb, err := rcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	// Postgres só para leitura do histórico (gravado pelo history-worker)
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Kafka: wager_placed e round_settled para o histórico
	wagerWriter := kafka.NewWriter(cfg.Brokers(), cfg.TopicWagerPlaced)
	defer wagerWriter.Close()
	settledWriter := kafka.NewWriter(cfg.Brokers(), cfg.TopicRoundSettled)
	defer settledWriter.Close()
	kpub := pubsub.NewKafkaPublisher(wagerWriter, settledWriter)

	catalog, err := games.LoadCatalog(cfg.GameCatalogFile, cfg.Rounds.HashSeed)
	if err != nil {
		log.Fatal("game catalog", zap.Error(err))
	}
	rc, err := rounds.LoadClock(cfg.Rounds.Timezone, cfg.Rounds.HistoryWindow)
	if err != nil {
		log.Fatal("round clock", zap.Error(err))
	}
	clock := clockwork.NewRealClock()

	// Métricas
	wagersPlaced := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wagers_placed_total", Help: "apostas aceitas"}, []string{"game"})
	wagersRejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wagers_rejected_total", Help: "apostas recusadas"}, []string{"reason"})
	credits := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_credits_total", Help: "créditos de pagamento"}, []string{"result"})
	settleSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "settlement_round_seconds", Help: "duração da liquidação de uma rodada", Buckets: prometheus.DefBuckets})
	wsClients := prometheus.NewGauge(prometheus.GaugeOpts{Name: "ws_clients", Help: "conexões WebSocket abertas"})
	repairs := prometheus.NewCounter(prometheus.CounterOpts{Name: "round_pointer_repairs_total", Help: "ponteiros de rodada recalculados"})
	lifecycle := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lifecycle_events_total", Help: "eventos de rodada recebidos"}, []string{"kind"})
	prometheus.MustRegister(wagersPlaced, wagersRejected, credits, settleSeconds, wsClients, repairs, lifecycle)

	// Motor de rodadas
	store := exposure.NewStore(rdb, cfg.Rounds.Retention)
	wallet := wclient.New(cfg.WalletURL, cfg.Wallet.RequestTimeout())
	bus := pubsub.NewRedisBroadcaster(rdb, cfg.InstanceID, clock)
	pointers := cache.New(rdb, 90*time.Second)

	settler := settlement.NewEngine(log, rdb, store, catalog, wallet, kpub, clock, settlement.Config{
		Lease:      cfg.Rounds.SettleLease,
		Retention:  cfg.Rounds.Retention,
		RetryMax:   cfg.Limits.SettlementRetryMax,
		RetryBatch: cfg.Rounds.RetryBatchSize,
	}, settlement.Hooks{
		OnCredit: func(ok bool) {
			if ok {
				credits.WithLabelValues("ok").Inc()
				return
			}
			credits.WithLabelValues("failed").Inc()
		},
		OnRound: func(d time.Duration) { settleSeconds.Observe(d.Seconds()) },
	})
	res := resolver.New(log, store, settler, bus, catalog, rc, clock,
		selector.Policy{UniqueUsersThreshold: cfg.Protection.UniqueUsersThreshold}, cfg.Rounds.Timeline)
	sched := scheduler.New(log, rdb, catalog, rc, clock, bus, pointers, res, settler, scheduler.Config{
		Tick:         cfg.Rounds.SchedulerTick,
		CloseMargin:  cfg.Rounds.CloseMargin,
		ResolveDelay: cfg.Rounds.ResolveDelay,
		ResolveLease: cfg.Rounds.ResolveLease,
		Retention:    cfg.Rounds.Retention,
		Timeline:     cfg.Rounds.Timeline,
	})

	// Apostas
	betSvc := bets.NewService(log, catalog, rc, clock, wallet, store, kpub, bets.Config{
		CloseMargin: cfg.Rounds.CloseMargin,
		FeeRate:     decimal.NewFromFloat(cfg.Rounds.FeeRate),
		MinStake:    cfg.Limits.MinStakeCents,
		MaxStake:    cfg.Limits.MaxStakeCents,
		Limits:      exposure.Limits{MaxWagers: cfg.Limits.MaxWagersPerRound, MaxStake: cfg.Limits.MaxStakePerRound},
		Timeline:    cfg.Rounds.Timeline,
	})
	betSvc.OnPlaced = func(game string) { wagersPlaced.WithLabelValues(game).Inc() }
	betSvc.OnRejected = func(reason string) { wagersRejected.WithLabelValues(reason).Inc() }

	// WebSocket
	wsSrv := ws.NewServer(log, catalog, rc, clock, betSvc, wallet, pointers, ws.Options{
		CloseMargin: cfg.Rounds.CloseMargin,
		TickEvery:   cfg.Rounds.RoomTick,
	}, ws.Hooks{
		OnConnect:       wsClients.Inc,
		OnDisconnect:    wsClients.Dec,
		OnPointerRepair: repairs.Inc,
		OnEvent:         func(kind string) { lifecycle.WithLabelValues(kind).Inc() },
	})
	defer wsSrv.Close()

	api := &httpapi.API{
		Log:         log,
		Catalog:     catalog,
		Rounds:      rc,
		Clock:       clock,
		CloseMargin: cfg.Rounds.CloseMargin,
		Timeline:    cfg.Rounds.Timeline,
		AdminToken:  cfg.AdminToken,
		WS:          wsSrv.HandleWS,
		Pointers:    pointers,
		Results:     store,
		History:     &repo.ReadRepo{DB: pg},
		Wallet:      wallet,
		Overrider:   res,
	}
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN not set, override endpoint disabled")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Eventos de rodada de todas as instâncias (inclusive esta) chegam pelo Redis
	if err := ws.StartRedisSubscriber(ctx, rdb, log, func(env events.Envelope) { wsSrv.HandleEvent(env) }); err != nil {
		log.Fatal("redis subscribe", zap.Error(err))
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, map[string]metrics.HealthFunc{
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"postgres": pg.PingContext,
	})

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort, // ex: 8080
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = apiSrv.Shutdown(sctx)
	_ = metricsSrv.Shutdown(sctx)

	// resoluções em andamento terminam antes de fechar Redis e Kafka
	select {
	case <-schedDone:
	case <-sctx.Done():
		log.Warn("scheduler did not stop in time")
	}
}
