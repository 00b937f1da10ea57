package runner

import (
	"context"

	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/backend"
	"github.com/torosent/fleetbench/internal/variables"
)

// loggingClient wraps a backend client and logs failed transactions.
type loggingClient struct {
	inner  backend.Client
	logger *zap.Logger
}

// withFailureLogging wraps c so every failed Execute is logged.
func withFailureLogging(c backend.Client, logger *zap.Logger) backend.Client {
	if logger == nil {
		return c
	}
	return &loggingClient{inner: c, logger: logger}
}

func (l *loggingClient) Execute(ctx context.Context, transaction string, args variables.Scope) backend.Result {
	res := l.inner.Execute(ctx, transaction, args)
	if res.Failed() {
		l.logger.Warn("transaction failed", zap.String("transaction", transaction), zap.Error(res.Err))
	}
	return res
}

func (l *loggingClient) Close() error {
	return l.inner.Close()
}
