package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/pkg/wal"
)

// ErrWALWriteFailed WAL 寫入失敗，記憶體狀態未變更
var ErrWALWriteFailed = errors.New("wal write failed")

// walOp WAL 紀錄種類
type walOp string

const (
	opAddTransaction walOp = "transaction.add"
	opTransition     walOp = "transaction.transition"
	opOutboxUpdate   walOp = "outbox.update"
)

// walRecord 單次原子變更，同一行包含交易快照與 outbox 訊息
type walRecord struct {
	Op          walOp                       `json:"op"`
	Transaction *domain.TransactionSnapshot `json:"transaction,omitempty"`
	Outbox      *domain.OutboxMessage       `json:"outbox,omitempty"`
}

// LedgerStore 記憶體交易 + outbox 儲存
//
// 每次變更先寫 WAL 再改記憶體 (wal 為 nil 時純記憶體)，
// 交易狀態與 outbox 訊息在同一筆 WAL 紀錄中，重啟後一起恢復。
type LedgerStore struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]domain.TransactionSnapshot
	outbox       map[uuid.UUID]domain.OutboxMessage
	wal          *wal.WAL
}

// NewLedgerStore 建立 LedgerStore 並從 WAL 恢復
//
// 參數:
//
//	w: Write-Ahead Log 實例 (可為 nil)
//
// 回傳:
//
//	*LedgerStore: 實例
//	error: WAL 恢復失敗
func NewLedgerStore(w *wal.WAL) (*LedgerStore, error) {
	s := &LedgerStore{
		transactions: make(map[uuid.UUID]domain.TransactionSnapshot),
		outbox:       make(map[uuid.UUID]domain.OutboxMessage),
		wal:          w,
	}
	if w != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// recoverFromWAL 只在建構時呼叫，無需加鎖
func (s *LedgerStore) recoverFromWAL() error {
	return s.wal.Replay(func(raw json.RawMessage) error {
		var rec walRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode wal record: %w", err)
		}
		s.apply(rec)
		return nil
	})
}

// commit 先持久化再套用，呼叫端需持有寫鎖
func (s *LedgerStore) commit(rec walRecord) error {
	if s.wal != nil {
		if err := s.wal.Append(rec); err != nil {
			return fmt.Errorf("%w: %v", ErrWALWriteFailed, err)
		}
	}
	s.apply(rec)
	return nil
}

func (s *LedgerStore) apply(rec walRecord) {
	if rec.Transaction != nil {
		s.transactions[rec.Transaction.ID] = *rec.Transaction
	}
	if rec.Outbox != nil {
		s.outbox[rec.Outbox.ID] = *rec.Outbox
	}
}

// Add 新增 Pending 交易
func (s *LedgerStore) Add(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID()]; ok {
		return fmt.Errorf("%w: transaction %s already exists", domain.ErrInvalidInput, tx.ID())
	}
	snap := tx.Snapshot()
	return s.commit(walRecord{Op: opAddTransaction, Transaction: &snap})
}

// Get 取得交易複本
func (s *LedgerStore) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return domain.RestoreTransaction(snap), nil
}

// SaveWithOutbox 交易狀態與 outbox 訊息寫入同一筆 WAL 紀錄
func (s *LedgerStore) SaveWithOutbox(ctx context.Context, tx *domain.Transaction, from domain.TransactionStatus, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.transactions[tx.ID()]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if current.Status != from {
		return fmt.Errorf("%w: transaction is %s", domain.ErrInvalidTransition, current.Status)
	}
	snap := tx.Snapshot()
	return s.commit(walRecord{Op: opTransition, Transaction: &snap, Outbox: &msg})
}

// ListPending 未發佈且未 dead 的訊息 (FIFO)
func (s *LedgerStore) ListPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	return s.List(ctx, domain.OutboxStatusPending, limit)
}

// List 依狀態查詢
func (s *LedgerStore) List(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxMessage, error) {
	s.mu.RLock()
	out := make([]domain.OutboxMessage, 0)
	for _, msg := range s.outbox {
		if status == "" || msg.Status() == status {
			out = append(out, msg)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b domain.OutboxMessage) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkPublished 標記已發佈，重複標記為 no-op
func (s *LedgerStore) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.updateOutbox(id, func(msg *domain.OutboxMessage) bool {
		if msg.PublishedAt != nil {
			return false
		}
		msg.PublishedAt = &at
		return true
	})
}

// MarkFailed 累加失敗次數，達上限轉為 dead
func (s *LedgerStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int, at time.Time) (bool, error) {
	dead := false
	err := s.updateOutbox(id, func(msg *domain.OutboxMessage) bool {
		if msg.Status() != domain.OutboxStatusPending {
			return false
		}
		msg.Attempts++
		msg.LastError = reason
		if maxAttempts > 0 && msg.Attempts >= maxAttempts {
			msg.DeadAt = &at
			dead = true
		}
		return true
	})
	return dead, err
}

// MarkDead 直接轉為 dead (例如內容無法解碼)
func (s *LedgerStore) MarkDead(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return s.updateOutbox(id, func(msg *domain.OutboxMessage) bool {
		if msg.Status() != domain.OutboxStatusPending {
			return false
		}
		msg.LastError = reason
		msg.DeadAt = &at
		return true
	})
}

// updateOutbox mutate 回傳 false 表示不需寫入
func (s *LedgerStore) updateOutbox(id uuid.UUID, mutate func(msg *domain.OutboxMessage) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox message %s: %w", id, domain.ErrNotFound)
	}
	if !mutate(&msg) {
		return nil
	}
	return s.commit(walRecord{Op: opOutboxUpdate, Outbox: &msg})
}

var (
	_ usecase.LedgerStore = (*LedgerStore)(nil)
	_ usecase.OutboxStore = (*LedgerStore)(nil)
)
