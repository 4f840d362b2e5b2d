package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/breaker"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/outbox"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
)

var (
	_ outbox.Metrics          = (*Collector)(nil)
	_ usecase.ConsumerMetrics = (*Collector)(nil)
	_ breaker.StateObserver   = (*Collector)(nil)
)

func TestCollector_OutboxMetrics(t *testing.T) {
	c, err := NewCollector("ledger")
	require.NoError(t, err)

	posted := domain.EventTypeTransactionPosted
	c.ObservePublish(posted, outbox.OutcomePublished, 3*time.Millisecond)
	c.ObservePublish(posted, outbox.OutcomePublished, 2*time.Millisecond)
	c.ObservePublish(posted, outbox.OutcomeFailed, time.Millisecond)
	c.ObserveBatch(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.published.WithLabelValues(string(posted), outbox.OutcomePublished)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.published.WithLabelValues(string(posted), outbox.OutcomeFailed)))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.pendingBatch))
}

func TestCollector_ConsumerMetrics(t *testing.T) {
	c, err := NewCollector("ledger")
	require.NoError(t, err)

	c.EventConsumed(domain.EventTypeTransactionPosted, usecase.OutcomeApplied)
	c.EventConsumed(domain.EventTypeTransactionPosted, usecase.OutcomeDuplicate)
	c.EntrySkipped("unknown_account")
	c.EntrySkipped("unknown_account")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.consumed.WithLabelValues(string(domain.EventTypeTransactionPosted), usecase.OutcomeDuplicate)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.skipped.WithLabelValues("unknown_account")))
}

func TestCollector_BreakerState(t *testing.T) {
	c, err := NewCollector("ledger")
	require.NoError(t, err)

	c.ObserveBreakerState("publisher", "open")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.breakerState.WithLabelValues("publisher")))
	c.ObserveBreakerState("publisher", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.breakerState.WithLabelValues("publisher")))
}

func TestCollector_Handler(t *testing.T) {
	c, err := NewCollector("ledger")
	require.NoError(t, err)
	c.EntrySkipped("unknown_account")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ledger_consumer_entries_skipped_total{reason="unknown_account"} 1`)
}
