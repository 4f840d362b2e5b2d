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

// AccountStore 以 MySQL 儲存帳戶聚合
//
// 帳戶本體、凍結款、別名分三張表；更新以 version 欄位做樂觀鎖。
type AccountStore struct {
	client *mysql.Client
}

// NewAccountStore 建立帳戶儲存
func NewAccountStore(client *mysql.Client) *AccountStore {
	return &AccountStore{client: client}
}

// Add 新增帳戶，版本設為 1
func (s *AccountStore) Add(ctx context.Context, acc *domain.Account) error {
	snap := acc.Snapshot()
	snap.Version = 1
	err := s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toSQLAccount(snap)
		if err := tx.Create(&row).Error; err != nil {
			if mysql.IsDuplicateKey(err) {
				return fmt.Errorf("%w: account %s already exists", domain.ErrInvalidInput, snap.ID)
			}
			return err
		}
		if err := insertHolds(tx, snap.ID, snap.Holds); err != nil {
			return err
		}
		return insertAliases(tx, snap.ID, snap.Aliases)
	})
	if err != nil {
		return err
	}
	acc.SetVersion(1)
	return nil
}

// Get 取得帳戶
func (s *AccountStore) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return loadAccount(s.client.DB().WithContext(ctx), id, false)
}

// Update 版本相符才寫入，成功後版本 +1
func (s *AccountStore) Update(ctx context.Context, acc *domain.Account) error {
	var next int64
	err := s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := saveAccount(tx, acc)
		next = v
		return err
	})
	if err != nil {
		return err
	}
	acc.SetVersion(next)
	return nil
}

// List 依開戶時間排序
func (s *AccountStore) List(ctx context.Context) ([]*domain.Account, error) {
	db := s.client.DB().WithContext(ctx)

	var rows []sqlAccount
	if err := db.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	var holds []sqlHold
	if err := db.Order("created_at ASC").Find(&holds).Error; err != nil {
		return nil, err
	}
	var aliases []sqlAlias
	if err := db.Find(&aliases).Error; err != nil {
		return nil, err
	}

	holdsBy := make(map[uuid.UUID][]sqlHold)
	for _, h := range holds {
		holdsBy[h.AccountID] = append(holdsBy[h.AccountID], h)
	}
	aliasesBy := make(map[uuid.UUID][]sqlAlias)
	for _, a := range aliases {
		aliasesBy[a.AccountID] = append(aliasesBy[a.AccountID], a)
	}

	out := make([]*domain.Account, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAccount(row, holdsBy[row.ID], aliasesBy[row.ID]))
	}
	return out, nil
}

// ApplyEvent 在單一資料庫交易中記錄事件鍵並執行 fn
//
// 事件鍵先以主鍵插入，同鍵的並行套用會在唯一鍵上互斥；
// fn 內讀取的帳戶列以 SELECT ... FOR UPDATE 鎖定。
func (s *AccountStore) ApplyEvent(ctx context.Context, eventKey string, fn func(tx usecase.AccountTx) error) error {
	return s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if eventKey != "" {
			mark := sqlProcessedEvent{EventKey: eventKey, ProcessedAt: time.Now().UTC()}
			if err := tx.Create(&mark).Error; err != nil {
				if mysql.IsDuplicateKey(err) {
					return domain.ErrAlreadyProcessed
				}
				return err
			}
		}
		return fn(&accountTx{db: tx})
	})
}

// accountTx ApplyEvent 期間的帳戶視圖，共用同一個資料庫交易
type accountTx struct {
	db *gorm.DB
}

func (t *accountTx) Get(id uuid.UUID) (*domain.Account, error) {
	return loadAccount(t.db, id, true)
}

func (t *accountTx) Update(acc *domain.Account) error {
	next, err := saveAccount(t.db, acc)
	if err != nil {
		return err
	}
	acc.SetVersion(next)
	return nil
}

// loadAccount 讀取帳戶與子表；forUpdate 時鎖定帳戶列
func loadAccount(db *gorm.DB, id uuid.UUID, forUpdate bool) (*domain.Account, error) {
	q := db
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row sqlAccount
	if err := q.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	var holds []sqlHold
	if err := db.Where("account_id = ?", id).Order("created_at ASC").Find(&holds).Error; err != nil {
		return nil, err
	}
	var aliases []sqlAlias
	if err := db.Where("account_id = ?", id).Find(&aliases).Error; err != nil {
		return nil, err
	}
	return toAccount(row, holds, aliases), nil
}

// saveAccount 以 version 條件更新帳戶本體並同步子表，回傳新版本
func saveAccount(tx *gorm.DB, acc *domain.Account) (int64, error) {
	snap := acc.Snapshot()
	res := tx.Model(&sqlAccount{}).
		Where("id = ? AND version = ?", snap.ID, snap.Version).
		Updates(map[string]any{
			"status":     string(snap.Status),
			"balance":    snap.Balance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&sqlAccount{}).Where("id = ?", snap.ID).Count(&count).Error; err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, domain.ErrAccountNotFound
		}
		return 0, domain.ErrConcurrentUpdate
	}

	if err := upsertHolds(tx, snap.ID, snap.Holds); err != nil {
		return 0, err
	}
	if err := addNewAliases(tx, snap.ID, snap.Aliases); err != nil {
		return 0, err
	}
	return snap.Version + 1, nil
}

func insertHolds(tx *gorm.DB, accountID uuid.UUID, holds []domain.Hold) error {
	if len(holds) == 0 {
		return nil
	}
	rows := make([]sqlHold, 0, len(holds))
	for _, h := range holds {
		rows = append(rows, toSQLHold(accountID, h))
	}
	return tx.Create(&rows).Error
}

// upsertHolds 凍結款只會新增或改狀態，不會刪除
func upsertHolds(tx *gorm.DB, accountID uuid.UUID, holds []domain.Hold) error {
	if len(holds) == 0 {
		return nil
	}
	rows := make([]sqlHold, 0, len(holds))
	for _, h := range holds {
		rows = append(rows, toSQLHold(accountID, h))
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "released_at"}),
	}).Create(&rows).Error
}

func insertAliases(tx *gorm.DB, accountID uuid.UUID, aliases []domain.Alias) error {
	for _, a := range aliases {
		row := toSQLAlias(accountID, a)
		if err := tx.Create(&row).Error; err != nil {
			if mysql.IsDuplicateKey(err) {
				return fmt.Errorf("%w: %q", domain.ErrDuplicateAlias, a.Value)
			}
			return err
		}
	}
	return nil
}

// addNewAliases 只插入尚未存在的別名，值衝突回傳 ErrDuplicateAlias
func addNewAliases(tx *gorm.DB, accountID uuid.UUID, aliases []domain.Alias) error {
	if len(aliases) == 0 {
		return nil
	}
	var existing []uuid.UUID
	if err := tx.Model(&sqlAlias{}).Where("account_id = ?", accountID).Pluck("id", &existing).Error; err != nil {
		return err
	}
	known := make(map[uuid.UUID]struct{}, len(existing))
	for _, id := range existing {
		known[id] = struct{}{}
	}
	fresh := make([]domain.Alias, 0, len(aliases))
	for _, a := range aliases {
		if _, ok := known[a.ID]; !ok {
			fresh = append(fresh, a)
		}
	}
	return insertAliases(tx, accountID, fresh)
}

var _ usecase.AccountStore = (*AccountStore)(nil)
