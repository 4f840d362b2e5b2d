package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
)

// LedgerConfig 帳本規則
//
// 結構:
//
//	RequireBalanced: 建立交易時要求各幣別借貸相等
//	AMLThreshold: Transfer 單筆上限，0 表示不檢查
type LedgerConfig struct {
	RequireBalanced bool
	AMLThreshold    decimal.Decimal
}

// TransferRequest 轉帳指令
type TransferRequest struct {
	SourceAccountID uuid.UUID
	TargetAccountID uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	InitiatedBy     *uuid.UUID
	Reference       string
}

// LedgerService 交易建立、提交、沖正與 outbox 查詢
type LedgerService struct {
	ledger   LedgerStore
	outbox   OutboxStore
	accounts *AccountService
	cfg      LedgerConfig
	logger   *logging.Logger
}

// NewLedgerService 建立 LedgerService
//
// 參數:
//
//	ledger: 交易儲存 (含 outbox 寫入)
//	outbox: outbox 查詢
//	accounts: 帳戶服務 (Transfer 凍結款使用)
//	cfg: 帳本規則
//	logger: 日誌
//
// 回傳:
//
//	*LedgerService: 服務實例
func NewLedgerService(ledger LedgerStore, outbox OutboxStore, accounts *AccountService, cfg LedgerConfig, logger *logging.Logger) *LedgerService {
	return &LedgerService{
		ledger:   ledger,
		outbox:   outbox,
		accounts: accounts,
		cfg:      cfg,
		logger:   logger.Named("ledger"),
	}
}

// CreateTransaction 建立 Pending 交易，尚未產生 outbox 訊息
func (s *LedgerService) CreateTransaction(ctx context.Context, txType string, initiatedBy *uuid.UUID, postings []domain.Posting) (*domain.Transaction, error) {
	tx, err := domain.NewTransaction(txType, initiatedBy, postings)
	if err != nil {
		return nil, err
	}
	if s.cfg.RequireBalanced && !tx.IsBalanced() {
		return nil, domain.ErrUnbalancedEntries
	}
	if err := s.ledger.Add(ctx, tx); err != nil {
		return nil, err
	}
	s.logger.Info("transaction created",
		zap.String("transaction_id", tx.ID().String()),
		zap.String("type", tx.Type()),
		zap.Int("entries", len(tx.Entries())))
	return tx, nil
}

// CommitTransaction Pending -> Committed，並寫入 TransactionPosted outbox 訊息
func (s *LedgerService) CommitTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.transition(ctx, id, (*domain.Transaction).Commit)
}

// ReverseTransaction Committed -> Reversed，並寫入 TransactionReversed outbox 訊息
//
// 不自動產生沖銷分錄，補償分錄由呼叫端另建交易。
func (s *LedgerService) ReverseTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.transition(ctx, id, (*domain.Transaction).Reverse)
}

func (s *LedgerService) transition(ctx context.Context, id uuid.UUID, step func(*domain.Transaction) error) (*domain.Transaction, error) {
	tx, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := tx.Status()
	if err := step(tx); err != nil {
		return nil, err
	}
	evt, err := domain.EventForTransaction(tx)
	if err != nil {
		return nil, err
	}
	msg, err := domain.NewOutboxMessage(evt)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.SaveWithOutbox(ctx, tx, from, msg); err != nil {
		return nil, err
	}
	s.logger.Info("transaction status changed",
		zap.String("transaction_id", tx.ID().String()),
		zap.String("from", string(from)),
		zap.String("to", string(tx.Status())),
		zap.String("outbox_id", msg.ID.String()))
	return tx, nil
}

// GetTransaction 取得交易
func (s *LedgerService) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.ledger.Get(ctx, id)
}

// ListOutbox 依狀態查詢 outbox 訊息
func (s *LedgerService) ListOutbox(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.outbox.List(ctx, status, limit)
}

// Transfer 凍結來源款項 -> 建立並提交兩筆分錄的交易
//
// 凍結款 ID 放在借方分錄上，提交後仍保留，直到消費端在同一次寫入扣款並解除，
// 期間其他轉帳看到的可用餘額已扣除這筆金額。
// 不是分散式 saga：提交前失敗只解除凍結，已提交的交易不回滾。
func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest) (*domain.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if s.cfg.AMLThreshold.IsPositive() && req.Amount.GreaterThan(s.cfg.AMLThreshold) {
		return nil, domain.ErrAMLBlocked
	}
	if req.SourceAccountID == req.TargetAccountID {
		return nil, fmt.Errorf("%w: source and target must differ", domain.ErrInvalidInput)
	}
	currency, err := domain.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	for _, id := range []uuid.UUID{req.SourceAccountID, req.TargetAccountID} {
		acc, err := s.accounts.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if acc.Currency() != currency {
			return nil, fmt.Errorf("%w: account %s holds %s, not %s", domain.ErrInvalidInput, id, acc.Currency(), currency)
		}
	}

	reference := req.Reference
	if reference == "" {
		reference = domain.DefaultTransactionType
	}
	hold, err := s.accounts.Reserve(ctx, req.SourceAccountID, req.Amount, reference)
	if err != nil {
		return nil, err
	}

	tx, err := s.CreateTransaction(ctx, domain.DefaultTransactionType, req.InitiatedBy, []domain.Posting{
		{AccountID: req.SourceAccountID, EntryType: domain.EntryTypeDebit, Amount: req.Amount, Currency: currency, HoldID: &hold.ID},
		{AccountID: req.TargetAccountID, EntryType: domain.EntryTypeCredit, Amount: req.Amount, Currency: currency},
	})
	if err != nil {
		s.releaseHold(ctx, req.SourceAccountID, hold.ID)
		return nil, err
	}
	committed, err := s.CommitTransaction(ctx, tx.ID())
	if err != nil {
		s.releaseHold(ctx, req.SourceAccountID, hold.ID)
		return nil, err
	}
	return committed, nil
}

func (s *LedgerService) releaseHold(ctx context.Context, accountID, holdID uuid.UUID) {
	if _, err := s.accounts.Release(ctx, accountID, holdID); err != nil {
		s.logger.Error("release transfer hold failed",
			zap.String("account_id", accountID.String()),
			zap.String("hold_id", holdID.String()),
			zap.Error(err))
	}
}
