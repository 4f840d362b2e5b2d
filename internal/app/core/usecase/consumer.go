package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

// 消費結果 (metrics label)
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// ConsumerConfig 消費端設定
type ConsumerConfig struct {
	// Dedupe 以 (事件類型, 交易 ID) 去重；關閉時重送會重複入帳
	Dedupe bool
}

// ConsumerOption 選用設定
type ConsumerOption func(*LedgerEventConsumer)

// WithConsumerMetrics 設定消費端指標
func WithConsumerMetrics(m ConsumerMetrics) ConsumerOption {
	return func(c *LedgerEventConsumer) { c.metrics = m }
}

// LedgerEventConsumer 將帳本事件套用到帳戶並更新讀模型
type LedgerEventConsumer struct {
	accounts AccountStore
	balances BalanceReadModel
	cfg      ConsumerConfig
	metrics  ConsumerMetrics
	logger   *logging.Logger
	now      func() time.Time
}

// NewLedgerEventConsumer 建立消費端
//
// 參數:
//
//	accounts: 帳戶儲存
//	balances: 餘額讀模型
//	cfg: 消費端設定
//	logger: 日誌
//	opts: 選用設定
//
// 回傳:
//
//	*LedgerEventConsumer: 消費端實例
func NewLedgerEventConsumer(accounts AccountStore, balances BalanceReadModel, cfg ConsumerConfig, logger *logging.Logger, opts ...ConsumerOption) *LedgerEventConsumer {
	c := &LedgerEventConsumer{
		accounts: accounts,
		balances: balances,
		cfg:      cfg,
		metrics:  noopConsumerMetrics{},
		logger:   logger.Named("consumer"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run 訂閱事件匯流排直到 ctx 取消
func (c *LedgerEventConsumer) Run(ctx context.Context, subscriber EventSubscriber) error {
	c.logger.Info("consumer started", zap.Bool("dedupe", c.cfg.Dedupe))
	err := subscriber.Subscribe(ctx, c.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	c.logger.Info("consumer stopped")
	return nil
}

// Handle 處理單一事件，符合 EventHandler
func (c *LedgerEventConsumer) Handle(ctx context.Context, evt domain.Event) error {
	switch e := evt.(type) {
	case domain.TransactionPosted:
		return c.applyPosted(ctx, e)
	case domain.TransactionReversed:
		// 沖正只改交易狀態，不移動餘額
		c.refresh(ctx, referencedAccounts(e.Entries))
		c.metrics.EventConsumed(e.EventType(), OutcomeApplied)
		return nil
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownEventType, evt)
	}
}

func (c *LedgerEventConsumer) applyPosted(ctx context.Context, evt domain.TransactionPosted) error {
	key := ""
	if c.cfg.Dedupe {
		key = domain.ProcessedKey(evt)
	}
	entries := slices.Clone(evt.Entries)
	slices.SortStableFunc(entries, func(a, b domain.PostedEntry) int { return a.Sequence - b.Sequence })
	lockOrder := evt.AccountIDs()
	log := c.logger.With(zap.String("transaction_id", evt.TransactionID().String()))

	var (
		touched []uuid.UUID
		unknown []domain.PostedEntry
		err     error
	)
	for attempt := 1; attempt <= maxUpdateRetries; attempt++ {
		err = c.accounts.ApplyEvent(ctx, key, func(tx AccountTx) error {
			var applyErr error
			touched, unknown, applyErr = applyEntries(tx, lockOrder, entries)
			return applyErr
		})
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			break
		}
	}

	switch {
	case errors.Is(err, domain.ErrAlreadyProcessed):
		log.Debug("duplicate event ignored")
		c.metrics.EventConsumed(evt.EventType(), OutcomeDuplicate)
		c.refresh(ctx, referencedAccounts(entries))
		return nil
	case errors.Is(err, ErrEventRejected):
		log.Error("event rejected, nothing applied", zap.Error(err))
		c.metrics.EventConsumed(evt.EventType(), OutcomeRejected)
		return err
	case err != nil:
		log.Error("apply event failed", zap.Error(err))
		c.metrics.EventConsumed(evt.EventType(), OutcomeFailed)
		return err
	}
	for _, entry := range unknown {
		c.skip(log, "unknown_account", []zap.Field{
			zap.String("account_id", entry.AccountID.String()),
			zap.Int("sequence", entry.Sequence),
		})
	}
	c.refresh(ctx, touched)
	c.metrics.EventConsumed(evt.EventType(), OutcomeApplied)
	log.Info("event applied", zap.Int("accounts", len(touched)))
	return nil
}

// applyEntries 依 lockOrder 先載入 (MySQL 為 FOR UPDATE) 所有帳戶，再依序號套用分錄
//
// 只有不存在的帳戶會被略過；其他失敗包成 ErrEventRejected，整筆事件不寫入。
// 回傳實際異動的帳戶 (lockOrder 順序) 與被略過的分錄。
func applyEntries(tx AccountTx, lockOrder []uuid.UUID, entries []domain.PostedEntry) ([]uuid.UUID, []domain.PostedEntry, error) {
	accounts := make(map[uuid.UUID]*domain.Account, len(lockOrder))
	for _, id := range lockOrder {
		acc, err := tx.Get(id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		accounts[id] = acc
	}

	var unknown []domain.PostedEntry
	changed := make(map[uuid.UUID]bool, len(accounts))
	for _, entry := range entries {
		acc, ok := accounts[entry.AccountID]
		if !ok {
			unknown = append(unknown, entry)
			continue
		}
		if err := applyEntry(acc, entry); err != nil {
			return nil, nil, fmt.Errorf("%w: entry %d on account %s: %w", ErrEventRejected, entry.Sequence, entry.AccountID, err)
		}
		changed[entry.AccountID] = true
	}

	touched := make([]uuid.UUID, 0, len(changed))
	for _, id := range lockOrder {
		if !changed[id] {
			continue
		}
		if err := tx.Update(accounts[id]); err != nil {
			return nil, nil, err
		}
		touched = append(touched, id)
	}
	return touched, unknown, nil
}

// applyEntry 套用單筆分錄；借方帶 HoldID 時先解除凍結款再扣款
func applyEntry(acc *domain.Account, entry domain.PostedEntry) error {
	entryType, err := domain.ParseEntryType(entry.EntryType)
	if err != nil {
		return err
	}
	if entry.Currency != "" && entry.Currency != acc.Currency() {
		return fmt.Errorf("%w: entry currency %s, account holds %s", domain.ErrInvalidInput, entry.Currency, acc.Currency())
	}
	if entryType == domain.EntryTypeCredit {
		return acc.Credit(entry.Amount)
	}
	if entry.HoldID != nil {
		// 凍結款不屬於此帳戶時只扣款
		if err := acc.Release(*entry.HoldID); err != nil && !errors.Is(err, domain.ErrHoldNotFound) {
			return err
		}
	}
	return acc.Debit(entry.Amount)
}

func (c *LedgerEventConsumer) skip(log *logging.Logger, reason string, fields []zap.Field) {
	log.Warn("ledger entry skipped", append(fields, zap.String("reason", reason))...)
	c.metrics.EntrySkipped(reason)
}

func (c *LedgerEventConsumer) refresh(ctx context.Context, ids []uuid.UUID) {
	now := c.now()
	for _, id := range ids {
		acc, err := c.accounts.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err == nil {
			err = c.balances.Upsert(ctx, domain.NewAccountBalance(acc, now))
		}
		if err != nil {
			c.logger.Warn("read model refresh failed",
				zap.String("account_id", id.String()),
				zap.Error(err))
		}
	}
}

func referencedAccounts(entries []domain.PostedEntry) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		if !slices.Contains(ids, e.AccountID) {
			ids = append(ids, e.AccountID)
		}
	}
	return ids
}
