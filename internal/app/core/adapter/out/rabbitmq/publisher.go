package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

var (
	// ErrPublishNacked broker 回覆 nack
	ErrPublishNacked = errors.New("rabbitmq: publish nacked by broker")
	// ErrConfirmTimeout 等不到 publisher confirm
	ErrConfirmTimeout = errors.New("rabbitmq: confirm timeout")
)

const confirmBuffer = 16

// confirmChannel 發佈所需的 channel 操作
type confirmChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher 以 publisher confirm 模式發佈事件
//
// 同一個 Publisher 的發佈會序列化，確保 confirm 與訊息一一對應。
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       confirmChannel
	confirms chan amqp.Confirmation
	tag      uint64
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time
}

// NewPublisher 連線並宣告 exchange
//
// 參數:
//
//	cfg: 連線設定
//	logger: 日誌
//
// 回傳:
//
//	*Publisher: 實例
//	error: 連線、開 channel 或宣告失敗
func NewPublisher(cfg Config, logger *logging.Logger) (*Publisher, error) {
	cfg = cfg.withDefaults()
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		_ = conn.Close()
		return nil, err
	}
	p, err := newPublisher(ch, cfg, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch confirmChannel, cfg Config, logger *logging.Logger) (*Publisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("rabbitmq: enable confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))
	return &Publisher{
		ch:       ch,
		confirms: confirms,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("rabbitmq.publisher"),
		now:      time.Now,
	}, nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare exchange %s: %w", name, err)
	}
	return nil
}

// Publish 發佈事件並等待 broker confirm
//
// routing key 為事件類型，MessageId 為消費端去重鍵。
// 連線已關閉時回傳 usecase.ErrPublisherUnavailable。
func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	eventType, body, err := domain.EncodeEvent(evt)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    domain.ProcessedKey(evt),
		Type:         string(eventType),
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, string(eventType), false, false, msg); err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("%w: %v", usecase.ErrPublisherUnavailable, err)
		}
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	p.tag++
	return p.waitConfirm(ctx, p.tag)
}

// waitConfirm 等待指定 delivery tag 的 confirm，較舊的 (先前逾時的) confirm 直接丟棄
func (p *Publisher) waitConfirm(ctx context.Context, tag uint64) error {
	timer := time.NewTimer(p.cfg.ConfirmTimeout)
	defer timer.Stop()

	for {
		select {
		case confirmed, ok := <-p.confirms:
			if !ok {
				return fmt.Errorf("%w: confirm channel closed", usecase.ErrPublisherUnavailable)
			}
			if confirmed.DeliveryTag < tag {
				continue
			}
			if !confirmed.Ack {
				return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
			}
			return nil
		case <-timer.C:
			return ErrConfirmTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close 關閉 channel 與連線
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = errors.Join(err, cerr)
		}
	}
	if err != nil {
		p.logger.Warn("close publisher", zap.Error(err))
	}
	return err
}

var _ usecase.EventPublisher = (*Publisher)(nil)
