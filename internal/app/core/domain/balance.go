package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountBalance 餘額讀模型，可丟棄、可由事件重建
type AccountBalance struct {
	AccountID uuid.UUID       `json:"accountId"`
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Currency  string          `json:"currency"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewAccountBalance 由帳戶目前狀態產生讀模型
func NewAccountBalance(acc *Account, now time.Time) AccountBalance {
	return AccountBalance{
		AccountID: acc.ID(),
		Balance:   acc.Balance(),
		Available: acc.AvailableBalance(),
		Currency:  acc.Currency(),
		UpdatedAt: now,
	}
}
