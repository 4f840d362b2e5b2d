package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/mysql"
)

// LedgerStore 交易、分錄與 outbox 的 MySQL 儲存
//
// 交易狀態變更與 outbox 訊息在同一個資料庫交易內寫入。
type LedgerStore struct {
	client *mysql.Client
}

// NewLedgerStore 建立帳本儲存
func NewLedgerStore(client *mysql.Client) *LedgerStore {
	return &LedgerStore{client: client}
}

// Add 新增 Pending 交易與其分錄
func (s *LedgerStore) Add(ctx context.Context, tx *domain.Transaction) error {
	snap := tx.Snapshot()
	return s.client.DB().WithContext(ctx).Transaction(func(db *gorm.DB) error {
		row := toSQLTransaction(snap)
		if err := db.Create(&row).Error; err != nil {
			if mysql.IsDuplicateKey(err) {
				return fmt.Errorf("%w: transaction %s already exists", domain.ErrInvalidInput, snap.ID)
			}
			return err
		}
		if len(snap.Entries) == 0 {
			return nil
		}
		entries := make([]sqlEntry, 0, len(snap.Entries))
		for _, e := range snap.Entries {
			entries = append(entries, toSQLEntry(e))
		}
		return db.Create(&entries).Error
	})
}

// Get 取得交易與分錄 (依序號)
func (s *LedgerStore) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	db := s.client.DB().WithContext(ctx)
	var row sqlTransaction
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	var entries []sqlEntry
	if err := db.Where("transaction_id = ?", id).Order("sequence ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return toTransaction(row, entries), nil
}

// SaveWithOutbox 鎖定交易列、檢查目前狀態後寫入新狀態與 outbox 訊息
func (s *LedgerStore) SaveWithOutbox(ctx context.Context, tx *domain.Transaction, from domain.TransactionStatus, msg domain.OutboxMessage) error {
	return s.client.DB().WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var current sqlTransaction
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", tx.ID()).First(&current).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrTransactionNotFound
			}
			return err
		}
		if domain.TransactionStatus(current.Status) != from {
			return fmt.Errorf("%w: transaction is %s", domain.ErrInvalidTransition, current.Status)
		}

		err = db.Model(&sqlTransaction{}).Where("id = ?", tx.ID()).Updates(map[string]any{
			"status":     string(tx.Status()),
			"updated_at": time.Now().UTC(),
		}).Error
		if err != nil {
			return err
		}

		row := toSQLOutbox(msg)
		return db.Create(&row).Error
	})
}

// ListPending 未發佈且未 dead 的訊息 (FIFO)
func (s *LedgerStore) ListPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	return s.List(ctx, domain.OutboxStatusPending, limit)
}

// List 依狀態查詢，依建立時間排序
func (s *LedgerStore) List(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxMessage, error) {
	q := s.client.DB().WithContext(ctx).Model(&sqlOutbox{})
	switch status {
	case domain.OutboxStatusPending:
		q = q.Where("published_at IS NULL AND dead_at IS NULL")
	case domain.OutboxStatusPublished:
		q = q.Where("published_at IS NOT NULL")
	case domain.OutboxStatusDead:
		q = q.Where("dead_at IS NOT NULL AND published_at IS NULL")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []sqlOutbox
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, toOutboxMessage(row))
	}
	return out, nil
}

// MarkPublished 標記已發佈，重複標記為 no-op
func (s *LedgerStore) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	db := s.client.DB().WithContext(ctx)
	res := db.Model(&sqlOutbox{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("published_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.requireOutbox(db, id)
	}
	return nil
}

// MarkFailed 累加失敗次數，達上限轉為 dead
func (s *LedgerStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int, at time.Time) (bool, error) {
	dead := false
	err := s.client.DB().WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var row sqlOutbox
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("outbox message %s: %w", id, domain.ErrNotFound)
			}
			return err
		}
		if row.PublishedAt != nil || row.DeadAt != nil {
			return nil
		}
		updates := map[string]any{
			"attempts":   row.Attempts + 1,
			"last_error": reason,
		}
		if maxAttempts > 0 && row.Attempts+1 >= maxAttempts {
			updates["dead_at"] = at
			dead = true
		}
		return db.Model(&sqlOutbox{}).Where("id = ?", id).Updates(updates).Error
	})
	return dead, err
}

// MarkDead 直接轉為 dead (例如內容無法解碼)
func (s *LedgerStore) MarkDead(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	db := s.client.DB().WithContext(ctx)
	res := db.Model(&sqlOutbox{}).
		Where("id = ? AND published_at IS NULL AND dead_at IS NULL", id).
		Updates(map[string]any{"dead_at": at, "last_error": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.requireOutbox(db, id)
	}
	return nil
}

// requireOutbox 條件更新沒有影響任何列時，區分「不存在」與「狀態已變」
func (s *LedgerStore) requireOutbox(db *gorm.DB, id uuid.UUID) error {
	var count int64
	if err := db.Model(&sqlOutbox{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("outbox message %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

var (
	_ usecase.LedgerStore = (*LedgerStore)(nil)
	_ usecase.OutboxStore = (*LedgerStore)(nil)
)
