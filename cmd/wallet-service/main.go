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
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/shared/config"
	"github.com/radieske/period-bet-engine/internal/shared/db"
	"github.com/radieske/period-bet-engine/internal/shared/logger"
	"github.com/radieske/period-bet-engine/internal/shared/metrics"
	whttp "github.com/radieske/period-bet-engine/internal/wallet-service/http"
	"github.com/radieske/period-bet-engine/internal/wallet-service/ledger"
	wrepo "github.com/radieske/period-bet-engine/internal/wallet-service/repo"
)

func main() {
	cfg := config.Load()

	// Inicializa logger estruturado
	log, err := logger.New("wallet-service", cfg.Env, cfg.InstanceID)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "wallet-service"), zap.String("env", cfg.Env))

	// Conexão com Postgres para operações de carteira
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

	// Métricas do ledger
	retries := prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_retries_total", Help: "retentativas por contenção de lock"})
	timeouts := prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_request_timeouts_total", Help: "pedidos abandonados por timeout"})
	applied := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_apply_seconds",
		Help:    "latência de uma movimentação (fila + banco)",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	prometheus.MustRegister(retries, timeouts, applied)

	// Repositório, fila por usuário e servidor HTTP da wallet
	repo := wrepo.NewPostgres(pg, cfg.Wallet.LockTimeout)
	wallet := ledger.New(log, repo, cfg.Wallet, clockwork.NewRealClock(), ledger.Hooks{
		OnRetry:   func() { retries.Inc() },
		OnTimeout: func() { timeouts.Inc() },
		OnApplied: func(kind string, d time.Duration) { applied.WithLabelValues(kind).Observe(d.Seconds()) },
	})
	api := whttp.NewServer(log, wallet, repo)

	log.Info("wallet ledger ready",
		zap.Duration("lock_timeout", cfg.Wallet.LockTimeout),
		zap.Duration("request_timeout", cfg.Wallet.RequestTimeout()),
		zap.Int("max_retries", cfg.Wallet.MaxRetries),
	)

	// Servidor de métricas e health check
	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, map[string]metrics.HealthFunc{
		"postgres": pg.PingContext,
	})

	// Servidor HTTP público (API de wallet)
	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort, // ex: 8082
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), cfg.Wallet.RequestTimeout())
	defer scancel()
	_ = apiSrv.Shutdown(sctx)
	_ = metricsSrv.Shutdown(sctx)
	wallet.Wait()
}
