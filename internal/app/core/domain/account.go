package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStatus 帳戶狀態
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// HoldStatus 凍結款狀態，Released 為終態
type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "Active"
	HoldStatusReleased HoldStatus = "Released"
)

// Hold 預扣 (凍結) 款項，只屬於單一帳戶
type Hold struct {
	ID         uuid.UUID       `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference"`
	Status     HoldStatus      `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	ReleasedAt *time.Time      `json:"releasedAt,omitempty"`
}

// Alias 帳戶外部識別碼 (例如 IBAN)，Value 全系統唯一
type Alias struct {
	ID    uuid.UUID `json:"id"`
	Type  string    `json:"type"`
	Value string    `json:"value"`
}

// Account 帳戶聚合根
//
// 餘額、凍結款與別名只能透過公開方法修改，
// Holds() / Aliases() 回傳的是複本。
type Account struct {
	id         uuid.UUID
	customerID uuid.UUID
	currency   string
	status     AccountStatus
	balance    decimal.Decimal
	holds      []Hold
	aliases    []Alias
	version    int64
	createdAt  time.Time
}

// AccountSnapshot 帳戶完整狀態，供儲存層序列化與還原
type AccountSnapshot struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID uuid.UUID       `json:"customerId"`
	Currency   string          `json:"currency"`
	Status     AccountStatus   `json:"status"`
	Balance    decimal.Decimal `json:"balance"`
	Holds      []Hold          `json:"holds"`
	Aliases    []Alias         `json:"aliases"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// OpenAccount 開戶，餘額為 0、狀態 active
//
// 參數:
//
//	customerID: 客戶 ID
//	currency: ISO 4217 幣別代碼 (例如 "USD")
//
// 回傳:
//
//	*Account: 新帳戶
//	error: 幣別格式錯誤
func OpenAccount(customerID uuid.UUID, currency string) (*Account, error) {
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	return &Account{
		id:         uuid.New(),
		customerID: customerID,
		currency:   code,
		status:     AccountStatusActive,
		balance:    decimal.Zero,
		createdAt:  time.Now().UTC(),
	}, nil
}

// NormalizeCurrency 檢查並轉成大寫三碼幣別
func NormalizeCurrency(currency string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: currency must be a 3 letter code, got %q", ErrInvalidInput, currency)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: currency must be a 3 letter code, got %q", ErrInvalidInput, currency)
		}
	}
	return code, nil
}

// RestoreAccount 由快照還原帳戶 (儲存層使用)
func RestoreAccount(s AccountSnapshot) *Account {
	return &Account{
		id:         s.ID,
		customerID: s.CustomerID,
		currency:   s.Currency,
		status:     s.Status,
		balance:    s.Balance,
		holds:      append([]Hold(nil), s.Holds...),
		aliases:    append([]Alias(nil), s.Aliases...),
		version:    s.Version,
		createdAt:  s.CreatedAt,
	}
}

// Snapshot 回傳帳戶狀態複本
func (a *Account) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		ID:         a.id,
		CustomerID: a.customerID,
		Currency:   a.currency,
		Status:     a.status,
		Balance:    a.balance,
		Holds:      a.Holds(),
		Aliases:    a.Aliases(),
		Version:    a.version,
		CreatedAt:  a.createdAt,
	}
}

func (a *Account) ID() uuid.UUID { return a.id }
func (a *Account) CustomerID() uuid.UUID { return a.customerID }
func (a *Account) Currency() string { return a.currency }
func (a *Account) Status() AccountStatus { return a.status }
func (a *Account) Balance() decimal.Decimal { return a.balance }
func (a *Account) CreatedAt() time.Time { return a.createdAt }

// Version 樂觀鎖版本，由儲存層在成功寫入後遞增
func (a *Account) Version() int64 { return a.version }

// SetVersion 儲存層寫入成功後回寫版本
func (a *Account) SetVersion(v int64) { a.version = v }

// Holds 回傳凍結款複本 (依建立順序)
func (a *Account) Holds() []Hold {
	out := make([]Hold, len(a.holds))
	copy(out, a.holds)
	return out
}

// Aliases 回傳別名複本
func (a *Account) Aliases() []Alias {
	out := make([]Alias, len(a.aliases))
	copy(out, a.aliases)
	return out
}

// Hold 依 ID 取得凍結款
func (a *Account) Hold(holdID uuid.UUID) (Hold, bool) {
	for _, h := range a.holds {
		if h.ID == holdID {
			return h, true
		}
	}
	return Hold{}, false
}

// AvailableBalance 可用餘額 = 總餘額 - 有效凍結款，每次重新計算不快取
func (a *Account) AvailableBalance() decimal.Decimal {
	held := decimal.Zero
	for _, h := range a.holds {
		if h.Status == HoldStatusActive {
			held = held.Add(h.Amount)
		}
	}
	return a.balance.Sub(held)
}

// AddAlias 新增別名；跨帳戶唯一性由儲存層負責
func (a *Account) AddAlias(aliasType, value string) (Alias, error) {
	aliasType = strings.TrimSpace(aliasType)
	value = strings.TrimSpace(value)
	if aliasType == "" || value == "" {
		return Alias{}, fmt.Errorf("%w: alias type and value are required", ErrInvalidInput)
	}
	for _, existing := range a.aliases {
		if existing.Value == value {
			return Alias{}, ErrDuplicateAlias
		}
	}
	alias := Alias{ID: uuid.New(), Type: aliasType, Value: value}
	a.aliases = append(a.aliases, alias)
	return alias, nil
}

// Reserve 凍結款項，不允許部分凍結
func (a *Account) Reserve(amount decimal.Decimal, reference string) (Hold, error) {
	if a.status != AccountStatusActive {
		return Hold{}, ErrAccountNotActive
	}
	if !amount.IsPositive() {
		return Hold{}, ErrInvalidAmount
	}
	if a.AvailableBalance().LessThan(amount) {
		return Hold{}, ErrInsufficientFunds
	}
	hold := Hold{
		ID:        uuid.New(),
		Amount:    amount,
		Reference: reference,
		Status:    HoldStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	a.holds = append(a.holds, hold)
	return hold, nil
}

// Release 解除凍結；已解除的凍結款再次解除為 no-op
func (a *Account) Release(holdID uuid.UUID) error {
	for i := range a.holds {
		if a.holds[i].ID != holdID {
			continue
		}
		if a.holds[i].Status != HoldStatusActive {
			return nil
		}
		now := time.Now().UTC()
		a.holds[i].Status = HoldStatusReleased
		a.holds[i].ReleasedAt = &now
		return nil
	}
	return ErrHoldNotFound
}

// Debit 扣款，檢查總餘額 (不看可用餘額)
func (a *Account) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if a.balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	a.balance = a.balance.Sub(amount)
	return nil
}

// Credit 入帳
func (a *Account) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	a.balance = a.balance.Add(amount)
	return nil
}

// Freeze active -> frozen
func (a *Account) Freeze() error {
	if a.status != AccountStatusActive {
		return ErrAccountNotActive
	}
	a.status = AccountStatusFrozen
	return nil
}

// Unfreeze frozen -> active
func (a *Account) Unfreeze() error {
	if a.status != AccountStatusFrozen {
		return fmt.Errorf("%w: account not frozen", ErrInvalidState)
	}
	a.status = AccountStatusActive
	return nil
}

// Close 結清帳戶；帳戶永不硬刪除。需無餘額且無有效凍結款
func (a *Account) Close() error {
	if a.status == AccountStatusClosed {
		return fmt.Errorf("%w: account already closed", ErrInvalidState)
	}
	if !a.balance.IsZero() {
		return fmt.Errorf("%w: account balance must be zero to close", ErrInvalidState)
	}
	for _, h := range a.holds {
		if h.Status == HoldStatusActive {
			return fmt.Errorf("%w: account has active holds", ErrInvalidState)
		}
	}
	a.status = AccountStatusClosed
	return nil
}
