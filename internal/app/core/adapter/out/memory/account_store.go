package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
)

// AccountStore 以 RWMutex 保護的記憶體帳戶儲存
//
// 結構:
//
//	accounts: 帳戶快照 (存快照而非指標，避免外部修改)
//	aliases: 別名值 -> 帳戶 ID 索引，保證全系統唯一
//	processed: 已套用的事件鍵
type AccountStore struct {
	mu        sync.RWMutex
	accounts  map[uuid.UUID]domain.AccountSnapshot
	aliases   map[string]uuid.UUID
	processed map[string]time.Time
}

// NewAccountStore 建立空的帳戶儲存
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts:  make(map[uuid.UUID]domain.AccountSnapshot),
		aliases:   make(map[string]uuid.UUID),
		processed: make(map[string]time.Time),
	}
}

// Add 新增帳戶，版本設為 1
func (s *AccountStore) Add(ctx context.Context, acc *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID()]; ok {
		return fmt.Errorf("%w: account %s already exists", domain.ErrInvalidInput, acc.ID())
	}
	if err := s.checkAliases(acc); err != nil {
		return err
	}
	acc.SetVersion(1)
	s.put(acc.Snapshot())
	return nil
}

// Get 取得帳戶複本
func (s *AccountStore) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return domain.RestoreAccount(snap), nil
}

// Update 版本相符才寫入，成功後版本 +1
func (s *AccountStore) Update(ctx context.Context, acc *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[acc.ID()]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if current.Version != acc.Version() {
		return domain.ErrConcurrentUpdate
	}
	if err := s.checkAliases(acc); err != nil {
		return err
	}
	acc.SetVersion(current.Version + 1)
	s.put(acc.Snapshot())
	return nil
}

// List 依開戶時間排序
func (s *AccountStore) List(ctx context.Context) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Account, 0, len(s.accounts))
	for _, snap := range s.accounts {
		out = append(out, domain.RestoreAccount(snap))
	}
	slices.SortFunc(out, func(a, b *domain.Account) int { return a.CreatedAt().Compare(b.CreatedAt()) })
	return out, nil
}

// ApplyEvent 持有寫鎖執行 fn，fn 成功才一次套用所有變更並記錄事件鍵
func (s *AccountStore) ApplyEvent(ctx context.Context, eventKey string, fn func(tx usecase.AccountTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if eventKey != "" {
		if _, ok := s.processed[eventKey]; ok {
			return domain.ErrAlreadyProcessed
		}
	}
	tx := &accountTx{store: s, staged: make(map[uuid.UUID]domain.AccountSnapshot)}
	if err := fn(tx); err != nil {
		return err
	}
	for _, snap := range tx.staged {
		s.put(snap)
	}
	if eventKey != "" {
		s.processed[eventKey] = time.Now().UTC()
	}
	return nil
}

// checkAliases 呼叫端需持有寫鎖
func (s *AccountStore) checkAliases(acc *domain.Account) error {
	for _, alias := range acc.Aliases() {
		if owner, ok := s.aliases[alias.Value]; ok && owner != acc.ID() {
			return fmt.Errorf("%w: %q", domain.ErrDuplicateAlias, alias.Value)
		}
	}
	return nil
}

// put 呼叫端需持有寫鎖
func (s *AccountStore) put(snap domain.AccountSnapshot) {
	s.accounts[snap.ID] = snap
	for _, alias := range snap.Aliases {
		s.aliases[alias.Value] = snap.ID
	}
}

// accountTx ApplyEvent 期間的暫存視圖，讀取優先看暫存
type accountTx struct {
	store  *AccountStore
	staged map[uuid.UUID]domain.AccountSnapshot
}

func (t *accountTx) current(id uuid.UUID) (domain.AccountSnapshot, bool) {
	if snap, ok := t.staged[id]; ok {
		return snap, true
	}
	snap, ok := t.store.accounts[id]
	return snap, ok
}

func (t *accountTx) Get(id uuid.UUID) (*domain.Account, error) {
	snap, ok := t.current(id)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return domain.RestoreAccount(snap), nil
}

func (t *accountTx) Update(acc *domain.Account) error {
	current, ok := t.current(acc.ID())
	if !ok {
		return domain.ErrAccountNotFound
	}
	if current.Version != acc.Version() {
		return domain.ErrConcurrentUpdate
	}
	if err := t.store.checkAliases(acc); err != nil {
		return err
	}
	acc.SetVersion(current.Version + 1)
	t.staged[acc.ID()] = acc.Snapshot()
	return nil
}

var _ usecase.AccountStore = (*AccountStore)(nil)
