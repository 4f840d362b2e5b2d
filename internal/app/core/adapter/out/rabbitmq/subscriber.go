package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

// ErrDeliveryClosed broker 關閉了消費 channel
var ErrDeliveryClosed = errors.New("rabbitmq: delivery channel closed")

// Subscriber 從 durable queue 手動 ack 消費事件
type Subscriber struct {
	conn   *amqp.Connection
	cfg    Config
	logger *logging.Logger
}

// NewSubscriber 建立連線，拓樸在 Subscribe 時宣告
func NewSubscriber(cfg Config, logger *logging.Logger) (*Subscriber, error) {
	cfg = cfg.withDefaults()
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	return &Subscriber{
		conn:   conn,
		cfg:    cfg,
		logger: logger.Named("rabbitmq.subscriber"),
	}, nil
}

// Subscribe 宣告 exchange / queue / binding 後開始消費，阻塞直到 ctx 取消或 channel 關閉
//
// 參數:
//
//	ctx: 生命週期
//	handler: 事件處理函式
//
// 回傳:
//
//	error: ctx 取消時為 ctx.Err()；broker 中斷時為 ErrDeliveryClosed
func (s *Subscriber) Subscribe(ctx context.Context, handler usecase.EventHandler) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, s.cfg.Exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(s.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare queue %s: %w", s.cfg.Queue, err)
	}
	if err := ch.QueueBind(s.cfg.Queue, s.cfg.BindingKey, s.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: bind queue %s: %w", s.cfg.Queue, err)
	}
	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: qos: %w", err)
	}
	deliveries, err := ch.Consume(s.cfg.Queue, s.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", s.cfg.Queue, err)
	}

	s.logger.Info("subscribed",
		zap.String("exchange", s.cfg.Exchange),
		zap.String("queue", s.cfg.Queue),
		zap.String("binding_key", s.cfg.BindingKey))

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(s.cfg.ConsumerTag, false)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveryClosed
			}
			s.handleDelivery(ctx, d, handler)
		}
	}
}

// handleDelivery 解碼並交給 handler
//
// 無法解碼的訊息 nack 且不重排 (交給 queue 的 dead-letter 設定)；
// handler 失敗則 nack 重排，成功才 ack。
// 重送後仍被拒絕 (usecase.ErrEventRejected) 的事件不再重排，避免無限重送。
func (s *Subscriber) handleDelivery(ctx context.Context, d amqp.Delivery, handler usecase.EventHandler) {
	log := s.logger.With(
		zap.String("message_id", d.MessageId),
		zap.String("event_type", d.Type),
		zap.Uint64("delivery_tag", d.DeliveryTag))

	evt, err := domain.DecodeEvent(domain.EventType(d.Type), d.Body)
	if err != nil {
		log.Error("undecodable delivery dropped", zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Warn("nack failed", zap.Error(nackErr))
		}
		return
	}

	if err := handler(ctx, evt); err != nil {
		requeue := !(d.Redelivered && errors.Is(err, usecase.ErrEventRejected))
		if requeue {
			log.Warn("handler failed, requeueing", zap.Error(err))
		} else {
			log.Error("redelivered event rejected again, dead-lettering", zap.Error(err))
		}
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			log.Warn("nack failed", zap.Error(nackErr))
		}
		return
	}

	if err := d.Ack(false); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

// Close 關閉連線
func (s *Subscriber) Close() error {
	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

var _ usecase.EventSubscriber = (*Subscriber)(nil)
