package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

func startBus(t *testing.T) *EventBus {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bus := NewEventBus(16, logging.NewNopLogger())
	bus.Start(ctx)
	return bus
}

func subscribe(t *testing.T, bus *EventBus, handler func(context.Context, domain.Event) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = bus.Subscribe(ctx, handler) }()
	require.Eventually(t, func() bool { return bus.Subscribers() > 0 }, time.Second, 5*time.Millisecond)
}

func TestEventBus_NoSubscribers(t *testing.T) {
	bus := startBus(t)
	err := bus.Publish(context.Background(), domain.TransactionPosted{LedgerPayload: domain.LedgerPayload{ID: uuid.New()}})
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestEventBus_DeliversAndReturnsHandlerResult(t *testing.T) {
	bus := startBus(t)
	var got []uuid.UUID
	boom := errors.New("boom")
	failID := uuid.New()
	subscribe(t, bus, func(_ context.Context, evt domain.Event) error {
		got = append(got, evt.TransactionID())
		if evt.TransactionID() == failID {
			return boom
		}
		return nil
	})

	okID := uuid.New()
	require.NoError(t, bus.Publish(context.Background(), domain.TransactionPosted{LedgerPayload: domain.LedgerPayload{ID: okID}}))
	err := bus.Publish(context.Background(), domain.TransactionReversed{LedgerPayload: domain.LedgerPayload{ID: failID}})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []uuid.UUID{okID, failID}, got)
}

func TestEventBus_UnsubscribesOnCancel(t *testing.T) {
	bus := startBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Subscribe(ctx, func(context.Context, domain.Event) error { return nil }) }()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestEventBus_StoppedBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewEventBus(1, logging.NewNopLogger())
	bus.Start(ctx)
	cancel()
	<-bus.done

	err := bus.Publish(context.Background(), domain.TransactionPosted{LedgerPayload: domain.LedgerPayload{ID: uuid.New()}})
	assert.ErrorIs(t, err, ErrBusStopped)
}
