package domain

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus 交易狀態: Pending -> Committed -> Reversed，單向
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "Pending"
	TransactionStatusCommitted TransactionStatus = "Committed"
	TransactionStatusReversed  TransactionStatus = "Reversed"
)

// EntryType 分錄類型
type EntryType string

const (
	EntryTypeDebit  EntryType = "Debit"
	EntryTypeCredit EntryType = "Credit"
)

// DefaultTransactionType 未指定時的交易類型
const DefaultTransactionType = "transfer"

// ParseEntryType 不分大小寫解析分錄類型
func ParseEntryType(raw string) (EntryType, error) {
	switch {
	case strings.EqualFold(strings.TrimSpace(raw), string(EntryTypeDebit)):
		return EntryTypeDebit, nil
	case strings.EqualFold(strings.TrimSpace(raw), string(EntryTypeCredit)):
		return EntryTypeCredit, nil
	default:
		return "", fmt.Errorf("%w: unknown entry type %q", ErrInvalidInput, raw)
	}
}

// Posting 建立交易時的單筆分錄指令
//
// HoldID 只能出現在借方分錄：消費端扣款時在同一次寫入解除該凍結款。
type Posting struct {
	AccountID uuid.UUID
	EntryType EntryType
	Amount    decimal.Decimal
	Currency  string
	HoldID    *uuid.UUID
}

// LedgerEntry 不可變的帳本分錄，Sequence 由 1 開始、依提交順序連續遞增
//
// BalanceAfter 為選填的餘額快照。分錄在提交時即不可變，而餘額由消費端非同步套用，
// 因此本服務建立的分錄此欄位恆為 nil；儲存層與 gRPC 仍會原樣保存與回傳。
type LedgerEntry struct {
	ID            uuid.UUID        `json:"id"`
	TransactionID uuid.UUID        `json:"transactionId"`
	AccountID     uuid.UUID        `json:"accountId"`
	EntryType     EntryType        `json:"entryType"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	BalanceAfter  *decimal.Decimal `json:"balanceAfter,omitempty"`
	HoldID        *uuid.UUID       `json:"holdId,omitempty"`
	Sequence      int              `json:"sequence"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Transaction 交易聚合根
type Transaction struct {
	id          uuid.UUID
	txType      string
	status      TransactionStatus
	initiatedBy *uuid.UUID
	createdAt   time.Time
	entries     []LedgerEntry
}

// TransactionSnapshot 交易完整狀態，供儲存層序列化與還原
type TransactionSnapshot struct {
	ID          uuid.UUID         `json:"id"`
	Type        string            `json:"type"`
	Status      TransactionStatus `json:"status"`
	InitiatedBy *uuid.UUID        `json:"initiatedBy,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	Entries     []LedgerEntry     `json:"entries"`
}

// NewTransaction 建立 Pending 交易並依提交順序分配分錄序號
//
// 參數:
//
//	txType: 交易類型 (空字串視為 "transfer")
//	initiatedBy: 發起人 (可為 nil)
//	postings: 分錄指令，至少一筆
//
// 回傳:
//
//	*Transaction: 新交易
//	error: 分錄為空、金額非正數、分錄類型或幣別錯誤
func NewTransaction(txType string, initiatedBy *uuid.UUID, postings []Posting) (*Transaction, error) {
	txType = strings.TrimSpace(txType)
	if txType == "" {
		txType = DefaultTransactionType
	}
	if len(postings) == 0 {
		return nil, fmt.Errorf("%w: transaction requires at least one entry", ErrInvalidInput)
	}

	now := time.Now().UTC()
	tx := &Transaction{
		id:          uuid.New(),
		txType:      txType,
		status:      TransactionStatusPending,
		initiatedBy: initiatedBy,
		createdAt:   now,
		entries:     make([]LedgerEntry, 0, len(postings)),
	}
	for i, p := range postings {
		if p.AccountID == uuid.Nil {
			return nil, fmt.Errorf("%w: entry %d has no account", ErrInvalidInput, i+1)
		}
		if p.EntryType != EntryTypeDebit && p.EntryType != EntryTypeCredit {
			return nil, fmt.Errorf("%w: entry %d has unknown type %q", ErrInvalidInput, i+1, p.EntryType)
		}
		if !p.Amount.IsPositive() {
			return nil, ErrInvalidAmount
		}
		if p.HoldID != nil && p.EntryType != EntryTypeDebit {
			return nil, fmt.Errorf("%w: entry %d: only debit entries may settle a hold", ErrInvalidInput, i+1)
		}
		currency, err := NormalizeCurrency(p.Currency)
		if err != nil {
			return nil, err
		}
		tx.entries = append(tx.entries, LedgerEntry{
			ID:            uuid.New(),
			TransactionID: tx.id,
			AccountID:     p.AccountID,
			EntryType:     p.EntryType,
			Amount:        p.Amount,
			Currency:      currency,
			HoldID:        p.HoldID,
			Sequence:      i + 1,
			CreatedAt:     now,
		})
	}
	return tx, nil
}

// RestoreTransaction 由快照還原交易 (儲存層使用)
func RestoreTransaction(s TransactionSnapshot) *Transaction {
	entries := append([]LedgerEntry(nil), s.Entries...)
	slices.SortFunc(entries, func(a, b LedgerEntry) int { return a.Sequence - b.Sequence })
	return &Transaction{
		id:          s.ID,
		txType:      s.Type,
		status:      s.Status,
		initiatedBy: s.InitiatedBy,
		createdAt:   s.CreatedAt,
		entries:     entries,
	}
}

// Snapshot 回傳交易狀態複本
func (t *Transaction) Snapshot() TransactionSnapshot {
	return TransactionSnapshot{
		ID:          t.id,
		Type:        t.txType,
		Status:      t.status,
		InitiatedBy: t.initiatedBy,
		CreatedAt:   t.createdAt,
		Entries:     t.Entries(),
	}
}

func (t *Transaction) ID() uuid.UUID { return t.id }
func (t *Transaction) Type() string { return t.txType }
func (t *Transaction) Status() TransactionStatus { return t.status }
func (t *Transaction) InitiatedBy() *uuid.UUID { return t.initiatedBy }
func (t *Transaction) CreatedAt() time.Time { return t.createdAt }

// Entries 回傳分錄複本 (依序號)
func (t *Transaction) Entries() []LedgerEntry {
	out := make([]LedgerEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Commit Pending -> Committed
func (t *Transaction) Commit() error {
	if t.status != TransactionStatusPending {
		return fmt.Errorf("%w: cannot commit %s transaction", ErrInvalidTransition, t.status)
	}
	t.status = TransactionStatusCommitted
	return nil
}

// Reverse Committed -> Reversed；只改狀態，不產生沖銷分錄
func (t *Transaction) Reverse() error {
	if t.status != TransactionStatusCommitted {
		return fmt.Errorf("%w: cannot reverse %s transaction", ErrInvalidTransition, t.status)
	}
	t.status = TransactionStatusReversed
	return nil
}

// IsBalanced 各幣別借方總額是否等於貸方總額
func (t *Transaction) IsBalanced() bool {
	sums := make(map[string]decimal.Decimal)
	for _, e := range t.entries {
		switch e.EntryType {
		case EntryTypeDebit:
			sums[e.Currency] = sums[e.Currency].Add(e.Amount)
		case EntryTypeCredit:
			sums[e.Currency] = sums[e.Currency].Sub(e.Amount)
		}
	}
	for _, sum := range sums {
		if !sum.IsZero() {
			return false
		}
	}
	return true
}

// AccountIDs 回傳涉及的帳戶 ID (去重並排序)
func (t *Transaction) AccountIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(t.entries))
	for _, e := range t.entries {
		ids = append(ids, e.AccountID)
	}
	return LockOrder(ids)
}

// LockOrder 去重並依位元組排序帳戶 ID
//
// 同時鎖定多個帳戶時一律依此順序取鎖，A->B 與 B->A 並行套用時才不會互相等待。
func LockOrder(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return out
}
