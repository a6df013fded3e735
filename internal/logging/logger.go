package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

var (
	// L is the shared structured logger used across the project.
	L    *zap.Logger
	once sync.Once
)

type ctxKey struct{}

func init() {
	Init()
}

// Init builds the global logger if it has not been constructed yet.
// It uses zap's production configuration for consistent structured output.
func Init() {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Sampling = nil
		logger, err := cfg.Build()
		if err != nil {
			panic(err)
		}
		L = logger
	})
}

// WithContext returns a copy of ctx carrying logger.
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or L.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return L
}

// ForCluster returns a context whose logger is tagged with the cluster name.
func ForCluster(ctx context.Context, name string) context.Context {
	return WithContext(ctx, FromContext(ctx).With(zap.String("cluster", name)))
}
