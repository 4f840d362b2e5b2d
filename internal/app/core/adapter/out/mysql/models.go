package mysql

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
)

// sqlAccount 對應 accounts 表，version 為樂觀鎖
type sqlAccount struct {
	ID         uuid.UUID       `gorm:"type:char(36);primaryKey"`
	CustomerID uuid.UUID       `gorm:"type:char(36);index"`
	Currency   string          `gorm:"type:char(3);not null"`
	Status     string          `gorm:"type:varchar(16);not null"`
	Balance    decimal.Decimal `gorm:"type:decimal(38,8);not null"`
	Version    int64           `gorm:"not null"`
	CreatedAt  time.Time       `gorm:"type:datetime(6);index"`
	UpdatedAt  time.Time       `gorm:"type:datetime(6)"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlHold 對應 account_holds 表
type sqlHold struct {
	ID         uuid.UUID       `gorm:"type:char(36);primaryKey"`
	AccountID  uuid.UUID       `gorm:"type:char(36);index;not null"`
	Amount     decimal.Decimal `gorm:"type:decimal(38,8);not null"`
	Reference  string          `gorm:"type:varchar(255)"`
	Status     string          `gorm:"type:varchar(16);not null"`
	CreatedAt  time.Time       `gorm:"type:datetime(6)"`
	ReleasedAt *time.Time      `gorm:"type:datetime(6)"`
}

func (*sqlHold) TableName() string {
	return "account_holds"
}

// sqlAlias 對應 account_aliases 表，value 全系統唯一
type sqlAlias struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey"`
	AccountID uuid.UUID `gorm:"type:char(36);index;not null"`
	Type      string    `gorm:"type:varchar(32);not null"`
	Value     string    `gorm:"type:varchar(191);uniqueIndex;not null"`
}

func (*sqlAlias) TableName() string {
	return "account_aliases"
}

// sqlProcessedEvent 消費端已套用的事件鍵
type sqlProcessedEvent struct {
	EventKey    string    `gorm:"type:varchar(191);primaryKey"`
	ProcessedAt time.Time `gorm:"type:datetime(6)"`
}

func (*sqlProcessedEvent) TableName() string {
	return "processed_ledger_events"
}

// sqlTransaction 對應 transactions 表
type sqlTransaction struct {
	ID          uuid.UUID  `gorm:"type:char(36);primaryKey"`
	Type        string     `gorm:"type:varchar(32);not null"`
	Status      string     `gorm:"type:varchar(16);not null"`
	InitiatedBy *uuid.UUID `gorm:"type:char(36)"`
	CreatedAt   time.Time  `gorm:"type:datetime(6);index"`
	UpdatedAt   time.Time  `gorm:"type:datetime(6)"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// sqlEntry 對應 ledger_entries 表，(transaction_id, sequence) 唯一
type sqlEntry struct {
	ID            uuid.UUID           `gorm:"type:char(36);primaryKey"`
	TransactionID uuid.UUID           `gorm:"type:char(36);not null;uniqueIndex:idx_entry_tx_seq,priority:1"`
	Sequence      int                 `gorm:"not null;uniqueIndex:idx_entry_tx_seq,priority:2"`
	AccountID     uuid.UUID           `gorm:"type:char(36);index;not null"`
	EntryType     string              `gorm:"type:varchar(8);not null"`
	Amount        decimal.Decimal     `gorm:"type:decimal(38,8);not null"`
	Currency      string              `gorm:"type:char(3);not null"`
	BalanceAfter  decimal.NullDecimal `gorm:"type:decimal(38,8)"`
	HoldID        *uuid.UUID          `gorm:"type:char(36)"`
	CreatedAt     time.Time           `gorm:"type:datetime(6)"`
}

func (*sqlEntry) TableName() string {
	return "ledger_entries"
}

// sqlOutbox 對應 outbox_messages 表
type sqlOutbox struct {
	ID          uuid.UUID  `gorm:"type:char(36);primaryKey"`
	Type        string     `gorm:"type:varchar(64);not null"`
	AggregateID uuid.UUID  `gorm:"type:char(36);index;not null"`
	Payload     string     `gorm:"type:text;not null"`
	CreatedAt   time.Time  `gorm:"type:datetime(6);index"`
	PublishedAt *time.Time `gorm:"type:datetime(6);index"`
	Attempts    int        `gorm:"not null;default:0"`
	LastError   string     `gorm:"type:text"`
	DeadAt      *time.Time `gorm:"type:datetime(6)"`
}

func (*sqlOutbox) TableName() string {
	return "outbox_messages"
}

// AutoMigrate 建立或更新所有資料表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&sqlAccount{},
		&sqlHold{},
		&sqlAlias{},
		&sqlProcessedEvent{},
		&sqlTransaction{},
		&sqlEntry{},
		&sqlOutbox{},
	)
}

func toSQLAccount(s domain.AccountSnapshot) sqlAccount {
	return sqlAccount{
		ID:         s.ID,
		CustomerID: s.CustomerID,
		Currency:   s.Currency,
		Status:     string(s.Status),
		Balance:    s.Balance,
		Version:    s.Version,
		CreatedAt:  s.CreatedAt,
	}
}

func toSQLHold(accountID uuid.UUID, h domain.Hold) sqlHold {
	return sqlHold{
		ID:         h.ID,
		AccountID:  accountID,
		Amount:     h.Amount,
		Reference:  h.Reference,
		Status:     string(h.Status),
		CreatedAt:  h.CreatedAt,
		ReleasedAt: h.ReleasedAt,
	}
}

func toSQLAlias(accountID uuid.UUID, a domain.Alias) sqlAlias {
	return sqlAlias{ID: a.ID, AccountID: accountID, Type: a.Type, Value: a.Value}
}

// toAccount 由三張表的資料組回帳戶
func toAccount(row sqlAccount, holds []sqlHold, aliases []sqlAlias) *domain.Account {
	snap := domain.AccountSnapshot{
		ID:         row.ID,
		CustomerID: row.CustomerID,
		Currency:   row.Currency,
		Status:     domain.AccountStatus(row.Status),
		Balance:    row.Balance,
		Version:    row.Version,
		CreatedAt:  row.CreatedAt.UTC(),
	}
	for _, h := range holds {
		snap.Holds = append(snap.Holds, domain.Hold{
			ID:         h.ID,
			Amount:     h.Amount,
			Reference:  h.Reference,
			Status:     domain.HoldStatus(h.Status),
			CreatedAt:  h.CreatedAt.UTC(),
			ReleasedAt: h.ReleasedAt,
		})
	}
	for _, a := range aliases {
		snap.Aliases = append(snap.Aliases, domain.Alias{ID: a.ID, Type: a.Type, Value: a.Value})
	}
	return domain.RestoreAccount(snap)
}

func toSQLTransaction(s domain.TransactionSnapshot) sqlTransaction {
	return sqlTransaction{
		ID:          s.ID,
		Type:        s.Type,
		Status:      string(s.Status),
		InitiatedBy: s.InitiatedBy,
		CreatedAt:   s.CreatedAt,
	}
}

func toSQLEntry(e domain.LedgerEntry) sqlEntry {
	row := sqlEntry{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		Sequence:      e.Sequence,
		AccountID:     e.AccountID,
		EntryType:     string(e.EntryType),
		Amount:        e.Amount,
		Currency:      e.Currency,
		HoldID:        e.HoldID,
		CreatedAt:     e.CreatedAt,
	}
	if e.BalanceAfter != nil {
		row.BalanceAfter = decimal.NewNullDecimal(*e.BalanceAfter)
	}
	return row
}

func toTransaction(row sqlTransaction, entries []sqlEntry) *domain.Transaction {
	snap := domain.TransactionSnapshot{
		ID:          row.ID,
		Type:        row.Type,
		Status:      domain.TransactionStatus(row.Status),
		InitiatedBy: row.InitiatedBy,
		CreatedAt:   row.CreatedAt.UTC(),
	}
	for _, e := range entries {
		entry := domain.LedgerEntry{
			ID:            e.ID,
			TransactionID: e.TransactionID,
			AccountID:     e.AccountID,
			EntryType:     domain.EntryType(e.EntryType),
			Amount:        e.Amount,
			Currency:      e.Currency,
			Sequence:      e.Sequence,
			HoldID:        e.HoldID,
			CreatedAt:     e.CreatedAt.UTC(),
		}
		if e.BalanceAfter.Valid {
			after := e.BalanceAfter.Decimal
			entry.BalanceAfter = &after
		}
		snap.Entries = append(snap.Entries, entry)
	}
	return domain.RestoreTransaction(snap)
}

func toSQLOutbox(m domain.OutboxMessage) sqlOutbox {
	return sqlOutbox{
		ID:          m.ID,
		Type:        string(m.Type),
		AggregateID: m.AggregateID,
		Payload:     m.Payload,
		CreatedAt:   m.CreatedAt,
		PublishedAt: m.PublishedAt,
		Attempts:    m.Attempts,
		LastError:   m.LastError,
		DeadAt:      m.DeadAt,
	}
}

func toOutboxMessage(row sqlOutbox) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:          row.ID,
		Type:        domain.EventType(row.Type),
		AggregateID: row.AggregateID,
		Payload:     row.Payload,
		CreatedAt:   row.CreatedAt.UTC(),
		PublishedAt: row.PublishedAt,
		Attempts:    row.Attempts,
		LastError:   row.LastError,
		DeadAt:      row.DeadAt,
	}
}
