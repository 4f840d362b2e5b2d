package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

// DispatchResult 單輪派送統計
//
// Processed 為本輪實際處理 (發佈、失敗或 dead) 的筆數，與 Deferred 不重疊。
// Dead 包含本輪因解碼失敗或達到重試上限而轉為 dead 的筆數 (後者同時計入 Failed)，
// Deferred 為發佈端暫時不可用 (斷路器開啟) 而延後、不計入重試的筆數。
type DispatchResult struct {
	Processed int
	Published int
	Failed    int
	Dead      int
	Deferred  int
}

// Option 選用設定
type Option func(*Dispatcher)

// WithMetrics 設定派送指標
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock 替換時間來源 (測試用)
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher outbox 派送迴圈，帳本寫入端與外部世界之間唯一的橋樑
//
// 至少一次送達：發佈成功但標記失敗時，下一輪會再送一次。
type Dispatcher struct {
	store     usecase.OutboxStore
	publisher usecase.EventPublisher
	cfg       Config
	metrics   Metrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewDispatcher 建立 Dispatcher
//
// 參數:
//
//	store: outbox 儲存
//	publisher: 事件發佈端
//	cfg: 派送設定 (零值欄位套用預設)
//	logger: 日誌
//	opts: 選用設定
//
// 回傳:
//
//	*Dispatcher: 實例
func NewDispatcher(store usecase.OutboxStore, publisher usecase.EventPublisher, cfg Config, logger *logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		publisher: publisher,
		cfg:       cfg.normalized(),
		metrics:   NoOpMetrics{},
		logger:    logger.Named("outbox"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run 啟動後立即派送一輪，之後每個 PollInterval 一輪，直到 ctx 取消
//
// 進行中的一輪會先完成 (未送出的訊息保持 pending)，然後回傳 nil。
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Int("max_attempts", d.cfg.MaxAttempts))
	defer d.logger.Info("dispatcher stopped")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce 派送一輪；單筆失敗不影響同批其他訊息
//
// 回傳:
//
//	DispatchResult: 本輪統計
//	error: 讀取 pending 訊息失敗
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	batch, err := d.store.ListPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	d.metrics.ObserveBatch(len(batch))

	for i, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		if stop := d.dispatchOne(ctx, msg, &res); stop {
			res.Deferred += len(batch) - i - 1
			break
		}
		res.Processed++
	}
	if res.Processed+res.Deferred > 0 {
		d.logger.Debug("dispatch cycle done",
			zap.Int("processed", res.Processed),
			zap.Int("published", res.Published),
			zap.Int("failed", res.Failed),
			zap.Int("dead", res.Dead),
			zap.Int("deferred", res.Deferred))
	}
	return res, nil
}

// dispatchOne 回傳 true 表示發佈端暫時不可用，本輪剩餘訊息延後
func (d *Dispatcher) dispatchOne(ctx context.Context, msg domain.OutboxMessage, res *DispatchResult) bool {
	log := d.logger.With(
		zap.String("outbox_id", msg.ID.String()),
		zap.String("event_type", string(msg.Type)),
		zap.String("transaction_id", msg.AggregateID.String()))

	evt, err := msg.Event()
	if err != nil {
		res.Dead++
		d.metrics.ObservePublish(msg.Type, OutcomeDead, 0)
		log.Error("undecodable outbox message dead-lettered", zap.Error(err))
		if markErr := d.store.MarkDead(ctx, msg.ID, err.Error(), d.now()); markErr != nil {
			log.Error("mark dead failed", zap.Error(markErr))
		}
		return false
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	start := time.Now()
	err = d.publisher.Publish(pubCtx, evt)
	latency := time.Since(start)
	cancel()

	switch {
	case err == nil:
		res.Published++
		d.metrics.ObservePublish(msg.Type, OutcomePublished, latency)
		if markErr := d.store.MarkPublished(ctx, msg.ID, d.now()); markErr != nil {
			log.Error("mark published failed, message will be redelivered", zap.Error(markErr))
		}
		return false
	case errors.Is(err, usecase.ErrPublisherUnavailable):
		res.Deferred++
		d.metrics.ObservePublish(msg.Type, OutcomeDeferred, latency)
		log.Warn("publisher unavailable, deferring batch", zap.Error(err))
		return true
	case ctx.Err() != nil:
		// 關閉中，不計入重試次數
		res.Deferred++
		return true
	}

	res.Failed++
	dead, markErr := d.store.MarkFailed(ctx, msg.ID, err.Error(), d.cfg.MaxAttempts, d.now())
	if markErr != nil {
		log.Error("mark failed failed", zap.Error(markErr))
	}
	if dead {
		res.Dead++
		d.metrics.ObservePublish(msg.Type, OutcomeDead, latency)
		log.Error("outbox message dead-lettered",
			zap.Int("attempts", msg.Attempts+1),
			zap.Error(err))
		return false
	}
	d.metrics.ObservePublish(msg.Type, OutcomeFailed, latency)
	log.Warn("publish failed, will retry",
		zap.Int("attempts", msg.Attempts+1),
		zap.Error(err))
	return false
}
