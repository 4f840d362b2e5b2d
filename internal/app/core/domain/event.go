package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType 事件序列化標籤 (寫入 outbox 的 type 欄位)
type EventType string

const (
	EventTypeTransactionPosted   EventType = "ledger.transaction_posted.v1"
	EventTypeTransactionReversed EventType = "ledger.transaction_reversed.v1"
)

// Event 封閉的帳本事件集合，只有本套件內的型別能實作
type Event interface {
	EventType() EventType
	TransactionID() uuid.UUID
	isEvent()
}

// PostedEntry 事件中的分錄；HoldID 為借方要一併解除的凍結款
type PostedEntry struct {
	AccountID uuid.UUID       `json:"accountId"`
	EntryType string          `json:"entryType"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Sequence  int             `json:"sequence"`
	HoldID    *uuid.UUID      `json:"holdId,omitempty"`
}

// LedgerPayload 帳本事件的 wire 格式
type LedgerPayload struct {
	ID      uuid.UUID     `json:"transactionId"`
	Status  string        `json:"status"`
	Entries []PostedEntry `json:"entries"`
}

// TransactionID 交易 ID
func (p LedgerPayload) TransactionID() uuid.UUID { return p.ID }

// AccountIDs 事件涉及的帳戶，依 LockOrder 排序
func (p LedgerPayload) AccountIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Entries))
	for _, e := range p.Entries {
		ids = append(ids, e.AccountID)
	}
	return LockOrder(ids)
}

// TransactionPosted 交易已提交
type TransactionPosted struct {
	LedgerPayload
}

// TransactionReversed 交易已沖正 (只有狀態變更)
type TransactionReversed struct {
	LedgerPayload
}

func (TransactionPosted) EventType() EventType   { return EventTypeTransactionPosted }
func (TransactionReversed) EventType() EventType { return EventTypeTransactionReversed }
func (TransactionPosted) isEvent()               {}
func (TransactionReversed) isEvent()             {}

func newLedgerPayload(tx *Transaction) LedgerPayload {
	entries := make([]PostedEntry, 0, len(tx.entries))
	for _, e := range tx.entries {
		entries = append(entries, PostedEntry{
			AccountID: e.AccountID,
			EntryType: string(e.EntryType),
			Amount:    e.Amount,
			Currency:  e.Currency,
			Sequence:  e.Sequence,
			HoldID:    e.HoldID,
		})
	}
	return LedgerPayload{ID: tx.id, Status: string(tx.status), Entries: entries}
}

// EventForTransaction 依交易目前狀態產生對應事件
func EventForTransaction(tx *Transaction) (Event, error) {
	switch tx.status {
	case TransactionStatusCommitted:
		return TransactionPosted{newLedgerPayload(tx)}, nil
	case TransactionStatusReversed:
		return TransactionReversed{newLedgerPayload(tx)}, nil
	default:
		return nil, fmt.Errorf("%w: no event for %s transaction", ErrInvalidState, tx.status)
	}
}

// EncodeEvent 序列化事件
func EncodeEvent(evt Event) (EventType, []byte, error) {
	var payload LedgerPayload
	switch e := evt.(type) {
	case TransactionPosted:
		payload = e.LedgerPayload
	case TransactionReversed:
		payload = e.LedgerPayload
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownEventType, evt)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return evt.EventType(), raw, nil
}

// DecodeEvent 依標籤反序列化事件
func DecodeEvent(eventType EventType, raw []byte) (Event, error) {
	var payload LedgerPayload
	switch eventType {
	case EventTypeTransactionPosted, EventTypeTransactionReversed:
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		if payload.ID == uuid.Nil {
			return nil, fmt.Errorf("decode %s: %w: missing transaction id", eventType, ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	if eventType == EventTypeTransactionPosted {
		return TransactionPosted{payload}, nil
	}
	return TransactionReversed{payload}, nil
}

// ProcessedKey 消費端去重鍵
func ProcessedKey(evt Event) string {
	return string(evt.EventType()) + ":" + evt.TransactionID().String()
}
