package outbox

import (
	"time"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
)

// 單筆派送結果 (metrics label)
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeDead      = "dead"
	OutcomeDeferred  = "deferred"
)

// Metrics 派送指標
type Metrics interface {
	ObservePublish(eventType domain.EventType, outcome string, latency time.Duration)
	ObserveBatch(pending int)
}

// NoOpMetrics 不記錄任何指標
type NoOpMetrics struct{}

func (NoOpMetrics) ObservePublish(domain.EventType, string, time.Duration) {}
func (NoOpMetrics) ObserveBatch(int)                                       {}
