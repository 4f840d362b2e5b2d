package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

const healthCheckTimeout = 2 * time.Second

// pinger 外部依賴的連線檢查 (MySQL、Redis)
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler 逐一 Ping 各依賴，任一失敗回 503 並附上依賴名稱
func healthHandler(deps map[string]pinger, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(name + " unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
