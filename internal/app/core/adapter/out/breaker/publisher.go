package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

// Config 斷路器設定
//
// 結構:
//
//	MaxRequests: half-open 時允許通過的請求數
//	Interval: closed 狀態下清除計數的週期 (0 表示不清除)
//	Timeout: open 多久後轉為 half-open
//	ConsecutiveFailures: 連續失敗幾次後 open
type Config struct {
	MaxRequests         uint32        `yaml:"max_requests" env:"LEDGER_BREAKER_MAX_REQUESTS"`
	Interval            time.Duration `yaml:"interval" env:"LEDGER_BREAKER_INTERVAL"`
	Timeout             time.Duration `yaml:"timeout" env:"LEDGER_BREAKER_TIMEOUT"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" env:"LEDGER_BREAKER_CONSECUTIVE_FAILURES"`
}

// DefaultConfig 預設值
func DefaultConfig() Config {
	return Config{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// StateObserver 斷路器狀態變化通知
type StateObserver interface {
	ObserveBreakerState(name, state string)
}

// Publisher 以斷路器包裝的事件發佈端
//
// open 狀態下直接拒絕並回傳 usecase.ErrPublisherUnavailable，
// Dispatcher 不會把這類拒絕計入 outbox 重試次數。
type Publisher struct {
	next usecase.EventPublisher
	cb   *gobreaker.CircuitBreaker
}

// NewPublisher 建立斷路器發佈端
//
// 參數:
//
//	name: 斷路器名稱 (日誌與指標 label)
//	next: 實際發佈端
//	cfg: 斷路器設定
//	logger: 日誌
//	observer: 狀態通知 (可為 nil)
func NewPublisher(name string, next usecase.EventPublisher, cfg Config, logger *logging.Logger, observer StateObserver) *Publisher {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultConfig().ConsecutiveFailures
	}
	log := logger.Named("breaker").With(zap.String("breaker", name))
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if observer != nil {
				observer.ObserveBreakerState(name, to.String())
			}
		},
	}
	return &Publisher{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// Publish 經由斷路器發佈
func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, evt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", usecase.ErrPublisherUnavailable, err)
	}
	return err
}

// State 目前狀態 (closed / half-open / open)
func (p *Publisher) State() string {
	return p.cb.State().String()
}

var _ usecase.EventPublisher = (*Publisher)(nil)
