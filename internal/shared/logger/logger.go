package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New monta o logger estruturado de um processo.
// instance diferencia réplicas idênticas do mesmo serviço (vários game-servers).
func New(serviceName, env, instance string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	}
	if lvl := levelFor(env); lvl != nil {
		cfg.Level = *lvl
	}

	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	fields := []zap.Field{
		zap.String("service", serviceName),
		zap.String("env", env),
	}
	if instance != "" {
		fields = append(fields, zap.String("instance", instance))
	}

	return cfg.Build(zap.Fields(fields...))
}

// levelFor deixa o ambiente "test" silencioso, exceto erros
func levelFor(env string) *zap.AtomicLevel {
	if env != "test" {
		return nil
	}
	lvl := zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	return &lvl
}
