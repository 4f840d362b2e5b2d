package memory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

var (
	// ErrNoSubscribers 沒有訂閱者時發佈失敗，outbox 訊息保留待下次派送
	ErrNoSubscribers = errors.New("event bus has no subscribers")
	// ErrBusStopped run loop 已結束
	ErrBusStopped = errors.New("event bus stopped")
)

// publishRequest 發佈請求包裝，讓 Publish 可以等待訂閱者處理結果
type publishRequest struct {
	ctx    context.Context
	evt    domain.Event
	result chan error
}

// EventBus 行程內事件匯流排
//
// 所有事件經由單一 goroutine 依序交給訂閱者，Publish 等到訂閱者處理完才回傳，
// 訂閱者回傳錯誤即視為發佈失敗 (outbox 會重送)。
type EventBus struct {
	requests chan *publishRequest
	pool     sync.Pool
	done     chan struct{}

	mu       sync.RWMutex
	handlers map[uint64]usecase.EventHandler
	nextID   uint64

	logger *logging.Logger
}

// NewEventBus 建立事件匯流排，需呼叫 Start 才會開始派送
//
// 參數:
//
//	buffer: 輸送帶容量
//	logger: 日誌
func NewEventBus(buffer int, logger *logging.Logger) *EventBus {
	if buffer <= 0 {
		buffer = 1
	}
	return &EventBus{
		requests: make(chan *publishRequest, buffer),
		pool: sync.Pool{
			New: func() any {
				return &publishRequest{result: make(chan error, 1)}
			},
		},
		done:     make(chan struct{}),
		handlers: make(map[uint64]usecase.EventHandler),
		logger:   logger.Named("eventbus"),
	}
}

// Start 啟動派送迴圈 (非同步)，ctx 取消後處理完剩餘請求即結束
func (b *EventBus) Start(ctx context.Context) {
	go b.run(ctx)
}

func (b *EventBus) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case req := <-b.requests:
			req.result <- b.deliver(req)
		}
	}
}

func (b *EventBus) drain() {
	for {
		select {
		case req := <-b.requests:
			req.result <- ErrBusStopped
		default:
			return
		}
	}
}

func (b *EventBus) deliver(req *publishRequest) error {
	b.mu.RLock()
	handlers := make([]usecase.EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return ErrNoSubscribers
	}
	var errs []error
	for _, h := range handlers {
		if err := h(req.ctx, req.evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publish 送出事件並等待訂閱者處理結果
func (b *EventBus) Publish(ctx context.Context, evt domain.Event) error {
	req := b.pool.Get().(*publishRequest)
	req.ctx = ctx
	req.evt = evt
	select {
	case <-req.result:
	default:
	}

	select {
	case b.requests <- req:
	case <-ctx.Done():
		b.pool.Put(req)
		return ctx.Err()
	case <-b.done:
		b.pool.Put(req)
		return ErrBusStopped
	}

	select {
	case err := <-req.result:
		req.ctx, req.evt = nil, nil
		b.pool.Put(req)
		return err
	case <-ctx.Done():
		// run loop 仍可能寫入 result，這個 req 不放回 pool
		return ctx.Err()
	case <-b.done:
		return ErrBusStopped
	}
}

// Subscribe 註冊 handler 並阻塞直到 ctx 取消
func (b *EventBus) Subscribe(ctx context.Context, handler usecase.EventHandler) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()
	b.logger.Debug("subscriber registered", zap.Uint64("subscriber", id))

	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
	return ctx.Err()
}

// Subscribers 目前訂閱者數量
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

var (
	_ usecase.EventPublisher  = (*EventBus)(nil)
	_ usecase.EventSubscriber = (*EventBus)(nil)
)
