package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

type fakeChannel struct {
	confirmed  bool
	confirms   chan amqp.Confirmation
	published  []amqp.Publishing
	keys       []string
	nack       bool
	silent     bool
	publishErr error
	closed     bool
}

func (f *fakeChannel) Confirm(bool) error {
	f.confirmed = true
	return nil
}

func (f *fakeChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	f.confirms = c
	return c
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	f.keys = append(f.keys, key)
	if !f.silent {
		f.confirms <- amqp.Confirmation{DeliveryTag: uint64(len(f.published)), Ack: !f.nack}
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func postedEvent() domain.TransactionPosted {
	return domain.TransactionPosted{LedgerPayload: domain.LedgerPayload{
		ID:     uuid.New(),
		Status: "committed",
		Entries: []domain.PostedEntry{
			{AccountID: uuid.New(), EntryType: "credit", Amount: decimal.NewFromInt(10), Currency: "USD", Sequence: 0},
		},
	}}
}

func newTestPublisher(t *testing.T, ch *fakeChannel, cfg Config) *Publisher {
	t.Helper()
	p, err := newPublisher(ch, cfg, logging.NewNopLogger())
	require.NoError(t, err)
	require.True(t, ch.confirmed)
	return p
}

func TestPublisher_PublishesWithEventMetadata(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(t, ch, Config{})
	evt := postedEvent()

	require.NoError(t, p.Publish(context.Background(), evt))
	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, string(domain.EventTypeTransactionPosted), msg.Type)
	assert.Equal(t, string(domain.EventTypeTransactionPosted), ch.keys[0])
	assert.Equal(t, domain.ProcessedKey(evt), msg.MessageId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)

	decoded, err := domain.DecodeEvent(domain.EventType(msg.Type), msg.Body)
	require.NoError(t, err)
	assert.Equal(t, evt.TransactionID(), decoded.TransactionID())
}

func TestPublisher_NackIsAnError(t *testing.T) {
	ch := &fakeChannel{nack: true}
	p := newTestPublisher(t, ch, Config{})

	err := p.Publish(context.Background(), postedEvent())
	assert.ErrorIs(t, err, ErrPublishNacked)
}

func TestPublisher_ClosedChannelIsUnavailable(t *testing.T) {
	ch := &fakeChannel{publishErr: amqp.ErrClosed}
	p := newTestPublisher(t, ch, Config{})

	err := p.Publish(context.Background(), postedEvent())
	assert.ErrorIs(t, err, usecase.ErrPublisherUnavailable)
}

func TestPublisher_ConfirmTimeoutThenStaleConfirmIgnored(t *testing.T) {
	ch := &fakeChannel{silent: true}
	p := newTestPublisher(t, ch, Config{ConfirmTimeout: 10 * time.Millisecond})

	err := p.Publish(context.Background(), postedEvent())
	assert.ErrorIs(t, err, ErrConfirmTimeout)

	// late confirm for the first message arrives before the second one's
	ch.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: false}
	ch.silent = false
	require.NoError(t, p.Publish(context.Background(), postedEvent()))
}

func TestPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(t, ch, Config{})
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

type fakeAcknowledger struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func delivery(t *testing.T, ack amqp.Acknowledger, evt domain.Event) amqp.Delivery {
	t.Helper()
	eventType, body, err := domain.EncodeEvent(evt)
	require.NoError(t, err)
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		Type:         string(eventType),
		MessageId:    domain.ProcessedKey(evt),
		Body:         body,
	}
}

func newTestSubscriber() *Subscriber {
	return &Subscriber{cfg: DefaultConfig(), logger: logging.NewNopLogger()}
}

func TestHandleDelivery_AcksOnSuccess(t *testing.T) {
	ack := &fakeAcknowledger{}
	evt := postedEvent()
	var got domain.Event

	newTestSubscriber().handleDelivery(context.Background(), delivery(t, ack, evt), func(_ context.Context, e domain.Event) error {
		got = e
		return nil
	})

	assert.Equal(t, 1, ack.acked)
	assert.Zero(t, ack.nacked)
	require.NotNil(t, got)
	assert.Equal(t, evt.TransactionID(), got.TransactionID())
}

func TestHandleDelivery_RequeuesOnHandlerError(t *testing.T) {
	ack := &fakeAcknowledger{}

	newTestSubscriber().handleDelivery(context.Background(), delivery(t, ack, postedEvent()), func(context.Context, domain.Event) error {
		return errors.New("store unavailable")
	})

	assert.Zero(t, ack.acked)
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestHandleDelivery_RejectedEvent(t *testing.T) {
	rejected := func(context.Context, domain.Event) error {
		return fmt.Errorf("%w: entry 1: %w", usecase.ErrEventRejected, domain.ErrInsufficientFunds)
	}

	// first delivery gets another chance
	ack := &fakeAcknowledger{}
	newTestSubscriber().handleDelivery(context.Background(), delivery(t, ack, postedEvent()), rejected)
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)

	ack = &fakeAcknowledger{}
	d := delivery(t, ack, postedEvent())
	d.Redelivered = true
	newTestSubscriber().handleDelivery(context.Background(), d, rejected)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)
}

func TestHandleDelivery_DropsUndecodable(t *testing.T) {
	ack := &fakeAcknowledger{}
	called := false
	d := amqp.Delivery{Acknowledger: ack, Type: "ledger.unknown.v1", Body: []byte(`{}`)}

	newTestSubscriber().handleDelivery(context.Background(), d, func(context.Context, domain.Event) error {
		called = true
		return nil
	})

	assert.False(t, called)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)
}
