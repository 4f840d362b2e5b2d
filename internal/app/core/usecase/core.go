package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
)

// CoreUseCase 是核心業務邏輯層，對外 (gRPC) 只依賴這個入口
type CoreUseCase struct {
	accounts *AccountService
	ledger   *LedgerService
}

func NewCoreUseCase(accounts *AccountService, ledger *LedgerService) *CoreUseCase {
	return &CoreUseCase{
		accounts: accounts,
		ledger:   ledger,
	}
}

// OpenAccount 開戶
func (c *CoreUseCase) OpenAccount(ctx context.Context, customerID uuid.UUID, currency string) (*domain.Account, error) {
	return c.accounts.Open(ctx, customerID, currency)
}

// AddAlias 新增別名
func (c *CoreUseCase) AddAlias(ctx context.Context, accountID uuid.UUID, aliasType, value string) (domain.Alias, error) {
	return c.accounts.AddAlias(ctx, accountID, aliasType, value)
}

// Reserve 凍結款項
func (c *CoreUseCase) Reserve(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, reference string) (domain.Hold, error) {
	return c.accounts.Reserve(ctx, accountID, amount, reference)
}

// Release 解除凍結
func (c *CoreUseCase) Release(ctx context.Context, accountID, holdID uuid.UUID) (*domain.Account, error) {
	return c.accounts.Release(ctx, accountID, holdID)
}

// Debit 扣款
func (c *CoreUseCase) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	return c.accounts.Debit(ctx, accountID, amount)
}

// Credit 入帳
func (c *CoreUseCase) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	return c.accounts.Credit(ctx, accountID, amount)
}

func (c *CoreUseCase) FreezeAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return c.accounts.Freeze(ctx, accountID)
}

func (c *CoreUseCase) UnfreezeAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return c.accounts.Unfreeze(ctx, accountID)
}

func (c *CoreUseCase) CloseAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return c.accounts.Close(ctx, accountID)
}

// GetAccount 取得帳戶
func (c *CoreUseCase) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return c.accounts.GetAccount(ctx, accountID)
}

// GetBalance 取得帳戶餘額 (讀模型)
func (c *CoreUseCase) GetBalance(ctx context.Context, accountID uuid.UUID) (domain.AccountBalance, error) {
	return c.accounts.GetBalance(ctx, accountID)
}

// RebuildReadModel 重建讀模型
func (c *CoreUseCase) RebuildReadModel(ctx context.Context) (int, error) {
	return c.accounts.RebuildReadModel(ctx)
}

// CreateTransaction 建立交易
func (c *CoreUseCase) CreateTransaction(ctx context.Context, txType string, initiatedBy *uuid.UUID, postings []domain.Posting) (*domain.Transaction, error) {
	return c.ledger.CreateTransaction(ctx, txType, initiatedBy, postings)
}

// CommitTransaction 提交交易
func (c *CoreUseCase) CommitTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return c.ledger.CommitTransaction(ctx, id)
}

// ReverseTransaction 沖正交易
func (c *CoreUseCase) ReverseTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return c.ledger.ReverseTransaction(ctx, id)
}

// GetTransaction 取得交易
func (c *CoreUseCase) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return c.ledger.GetTransaction(ctx, id)
}

// Transfer 轉帳
func (c *CoreUseCase) Transfer(ctx context.Context, req TransferRequest) (*domain.Transaction, error) {
	return c.ledger.Transfer(ctx, req)
}

// ListOutbox 查詢 outbox
func (c *CoreUseCase) ListOutbox(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxMessage, error) {
	return c.ledger.ListOutbox(ctx, status, limit)
}
