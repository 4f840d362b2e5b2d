package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

// maxUpdateRetries 樂觀鎖衝突時 read-modify-write 的最大嘗試次數
const maxUpdateRetries = 5

// AccountService 帳戶指令與查詢
//
// 每個指令都是 讀取 -> 聚合操作 -> 版本檢查寫回，衝突時重試；
// 寫入成功後盡力更新讀模型，讀模型失敗只記錄不回傳。
type AccountService struct {
	accounts AccountStore
	balances BalanceReadModel
	logger   *logging.Logger
	now      func() time.Time
}

// NewAccountService 建立 AccountService
//
// 參數:
//
//	accounts: 帳戶儲存
//	balances: 餘額讀模型
//	logger: 日誌
//
// 回傳:
//
//	*AccountService: 服務實例
func NewAccountService(accounts AccountStore, balances BalanceReadModel, logger *logging.Logger) *AccountService {
	return &AccountService{
		accounts: accounts,
		balances: balances,
		logger:   logger.Named("account"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Open 開戶
func (s *AccountService) Open(ctx context.Context, customerID uuid.UUID, currency string) (*domain.Account, error) {
	if customerID == uuid.Nil {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidInput)
	}
	acc, err := domain.OpenAccount(customerID, currency)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.Add(ctx, acc); err != nil {
		return nil, err
	}
	s.logger.Info("account opened",
		zap.String("account_id", acc.ID().String()),
		zap.String("currency", acc.Currency()))
	s.refresh(ctx, acc)
	return acc, nil
}

// AddAlias 新增別名，跨帳戶衝突回傳 domain.ErrDuplicateAlias
func (s *AccountService) AddAlias(ctx context.Context, accountID uuid.UUID, aliasType, value string) (domain.Alias, error) {
	var alias domain.Alias
	_, err := s.mutate(ctx, accountID, func(acc *domain.Account) error {
		var err error
		alias, err = acc.AddAlias(aliasType, value)
		return err
	})
	if err != nil {
		return domain.Alias{}, err
	}
	return alias, nil
}

// Reserve 凍結款項
func (s *AccountService) Reserve(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, reference string) (domain.Hold, error) {
	var hold domain.Hold
	_, err := s.mutate(ctx, accountID, func(acc *domain.Account) error {
		var err error
		hold, err = acc.Reserve(amount, reference)
		return err
	})
	if err != nil {
		return domain.Hold{}, err
	}
	return hold, nil
}

// Release 解除凍結，重複解除不報錯
func (s *AccountService) Release(ctx context.Context, accountID, holdID uuid.UUID) (*domain.Account, error) {
	return s.mutate(ctx, accountID, func(acc *domain.Account) error {
		return acc.Release(holdID)
	})
}

// Debit 直接扣款
func (s *AccountService) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	return s.mutate(ctx, accountID, func(acc *domain.Account) error {
		return acc.Debit(amount)
	})
}

// Credit 直接入帳
func (s *AccountService) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	return s.mutate(ctx, accountID, func(acc *domain.Account) error {
		return acc.Credit(amount)
	})
}

func (s *AccountService) Freeze(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.mutate(ctx, accountID, (*domain.Account).Freeze)
}

func (s *AccountService) Unfreeze(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.mutate(ctx, accountID, (*domain.Account).Unfreeze)
}

func (s *AccountService) Close(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.mutate(ctx, accountID, (*domain.Account).Close)
}

// GetAccount 讀取寫入端帳戶 (含凍結款與別名)
func (s *AccountService) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.accounts.Get(ctx, accountID)
}

// GetBalance 由讀模型取得餘額
func (s *AccountService) GetBalance(ctx context.Context, accountID uuid.UUID) (domain.AccountBalance, error) {
	return s.balances.Get(ctx, accountID)
}

// RebuildReadModel 依寫入端所有帳戶重建讀模型
//
// 回傳:
//
//	int: 重建筆數
//	error: 讀取帳戶或寫入讀模型失敗
func (s *AccountService) RebuildReadModel(ctx context.Context) (int, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	for i, acc := range accounts {
		if err := s.balances.Upsert(ctx, domain.NewAccountBalance(acc, now)); err != nil {
			return i, fmt.Errorf("rebuild read model: %w", err)
		}
	}
	s.logger.Info("read model rebuilt", zap.Int("accounts", len(accounts)))
	return len(accounts), nil
}

// mutate 讀取帳戶、套用 fn、以版本檢查寫回；版本衝突時重新讀取再試
func (s *AccountService) mutate(ctx context.Context, accountID uuid.UUID, fn func(acc *domain.Account) error) (*domain.Account, error) {
	var lastErr error
	for attempt := 1; attempt <= maxUpdateRetries; attempt++ {
		acc, err := s.accounts.Get(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if err := fn(acc); err != nil {
			return nil, err
		}
		err = s.accounts.Update(ctx, acc)
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			lastErr = err
			s.logger.Debug("retrying account update",
				zap.String("account_id", accountID.String()),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		s.refresh(ctx, acc)
		return acc, nil
	}
	return nil, fmt.Errorf("account %s: %w after %d attempts", accountID, lastErr, maxUpdateRetries)
}

func (s *AccountService) refresh(ctx context.Context, acc *domain.Account) {
	if err := s.balances.Upsert(ctx, domain.NewAccountBalance(acc, s.now())); err != nil {
		s.logger.Warn("read model upsert failed",
			zap.String("account_id", acc.ID().String()),
			zap.Error(err))
	}
}
