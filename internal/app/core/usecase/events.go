package usecase

import (
	"context"
	"errors"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
)

// ErrPublisherUnavailable 發佈端暫時拒絕 (例如斷路器開啟)，不計入重試次數
var ErrPublisherUnavailable = errors.New("publisher unavailable")

// ErrEventRejected 事件中有分錄無法套用 (餘額不足、幣別不符、類型錯誤)，整筆事件回滾
//
// 之後的事件可能讓它變得可套用 (例如入帳先到)，所以仍走重送；重送耗盡後由派送端轉 dead。
var ErrEventRejected = errors.New("event rejected")

// EventPublisher 事件匯流排發佈端，至少一次送達
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// EventHandler 處理單一事件；回傳錯誤代表需要重送
type EventHandler func(ctx context.Context, evt domain.Event) error

// EventSubscriber 事件匯流排訂閱端，Subscribe 會阻塞直到 ctx 取消
type EventSubscriber interface {
	Subscribe(ctx context.Context, handler EventHandler) error
}

// ConsumerMetrics 消費端指標
type ConsumerMetrics interface {
	EventConsumed(eventType domain.EventType, outcome string)
	EntrySkipped(reason string)
}

type noopConsumerMetrics struct{}

func (noopConsumerMetrics) EventConsumed(domain.EventType, string) {}
func (noopConsumerMetrics) EntrySkipped(string)                  {}
