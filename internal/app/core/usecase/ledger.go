package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
)

// AccountStore 帳戶聚合儲存
//
// Get 回傳的是獨立複本，修改後必須透過 Update 寫回。
// Update 以 Version 做樂觀鎖，版本不符回傳 domain.ErrConcurrentUpdate；
// 別名值全系統唯一，衝突回傳 domain.ErrDuplicateAlias。
type AccountStore interface {
	Add(ctx context.Context, acc *domain.Account) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	Update(ctx context.Context, acc *domain.Account) error
	List(ctx context.Context) ([]*domain.Account, error)

	// ApplyEvent 在單一原子寫入中執行 fn，並記錄 eventKey 為已處理
	//
	// eventKey 已存在時不執行 fn，回傳 domain.ErrAlreadyProcessed。
	// eventKey 為空字串時不去重。fn 回傳錯誤則所有變更捨棄。
	ApplyEvent(ctx context.Context, eventKey string, fn func(tx AccountTx) error) error
}

// AccountTx ApplyEvent 期間的帳戶讀寫視圖
type AccountTx interface {
	Get(id uuid.UUID) (*domain.Account, error)
	Update(acc *domain.Account) error
}

// LedgerStore 交易聚合儲存，交易狀態變更與 outbox 訊息同一原子寫入
type LedgerStore interface {
	Add(ctx context.Context, tx *domain.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// SaveWithOutbox 儲存狀態變更並新增一筆 outbox 訊息
	//
	// 儲存中的狀態不等於 from 時回傳 domain.ErrInvalidTransition (並行提交/沖正)。
	SaveWithOutbox(ctx context.Context, tx *domain.Transaction, from domain.TransactionStatus, msg domain.OutboxMessage) error
}

// OutboxStore outbox 讀取與狀態標記，只有 Dispatcher 與查詢使用
type OutboxStore interface {
	// ListPending 未發佈且未 dead 的訊息，依 CreatedAt 由舊到新
	ListPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed 累加嘗試次數，達到 maxAttempts 時轉為 dead 並回傳 true
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int, at time.Time) (bool, error)
	MarkDead(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	// List 依狀態查詢 (空字串為全部)，依 CreatedAt 排序
	List(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxMessage, error)
}

// BalanceReadModel 餘額讀模型，last-write-wins
type BalanceReadModel interface {
	Upsert(ctx context.Context, balance domain.AccountBalance) error
	// Get 找不到時回傳 domain.ErrAccountNotFound
	Get(ctx context.Context, accountID uuid.UUID) (domain.AccountBalance, error)
}
