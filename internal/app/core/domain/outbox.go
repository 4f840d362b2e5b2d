package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus outbox 訊息狀態 (由時間戳推導)
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusDead      OutboxStatus = "dead"
)

// ParseOutboxStatus 解析狀態字串，空字串代表不過濾
func ParseOutboxStatus(raw string) (OutboxStatus, error) {
	switch OutboxStatus(raw) {
	case "", OutboxStatusPending, OutboxStatusPublished, OutboxStatusDead:
		return OutboxStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown outbox status %q", ErrInvalidInput, raw)
	}
}

// OutboxMessage 與帳本變更同一原子寫入的待發佈事件
//
// PublishedAt 為 nil 表示尚未送達；DeadAt 非 nil 表示超過重試上限，不再派送但不刪除。
type OutboxMessage struct {
	ID          uuid.UUID  `json:"id"`
	Type        EventType  `json:"type"`
	AggregateID uuid.UUID  `json:"aggregateId"`
	Payload     string     `json:"payload"`
	CreatedAt   time.Time  `json:"createdAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"lastError,omitempty"`
	DeadAt      *time.Time `json:"deadAt,omitempty"`
}

// NewOutboxMessage 序列化事件為 outbox 訊息
func NewOutboxMessage(evt Event) (OutboxMessage, error) {
	eventType, raw, err := EncodeEvent(evt)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: evt.TransactionID(),
		Payload:     string(raw),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Status 目前狀態
func (m OutboxMessage) Status() OutboxStatus {
	switch {
	case m.PublishedAt != nil:
		return OutboxStatusPublished
	case m.DeadAt != nil:
		return OutboxStatusDead
	default:
		return OutboxStatusPending
	}
}

// Event 解碼訊息內容
func (m OutboxMessage) Event() (Event, error) {
	return DecodeEvent(m.Type, []byte(m.Payload))
}
