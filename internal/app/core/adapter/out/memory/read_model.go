package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
)

// BalanceReadModel 記憶體餘額讀模型
type BalanceReadModel struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]domain.AccountBalance
}

func NewBalanceReadModel() *BalanceReadModel {
	return &BalanceReadModel{rows: make(map[uuid.UUID]domain.AccountBalance)}
}

func (r *BalanceReadModel) Upsert(ctx context.Context, balance domain.AccountBalance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[balance.AccountID] = balance
	return nil
}

func (r *BalanceReadModel) Get(ctx context.Context, accountID uuid.UUID) (domain.AccountBalance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[accountID]
	if !ok {
		return domain.AccountBalance{}, domain.ErrAccountNotFound
	}
	return row, nil
}

var _ usecase.BalanceReadModel = (*BalanceReadModel)(nil)
