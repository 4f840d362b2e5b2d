package domain

import (
	"errors"
	"fmt"
)

// 錯誤分類 (Kind)，呼叫端以 errors.Is 判斷
var (
	// ErrNotFound 帳戶、凍結款或交易不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount 金額必須為正數
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidState 目前狀態不允許此操作
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateAlias 別名已被其他帳戶使用
	ErrDuplicateAlias = errors.New("duplicate alias")

	// ErrInvalidInput 指令參數格式錯誤 (幣別、分錄類型、別名內容)
	ErrInvalidInput = errors.New("invalid input")

	// ErrConcurrentUpdate 樂觀鎖版本衝突
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// 具體錯誤，皆包裹上面的分類
var (
	ErrAccountNotFound     = fmt.Errorf("account %w", ErrNotFound)
	ErrHoldNotFound        = fmt.Errorf("hold %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)

	ErrAccountNotActive  = fmt.Errorf("%w: account not active", ErrInvalidState)
	ErrInvalidTransition = fmt.Errorf("%w: invalid transaction status transition", ErrInvalidState)
	ErrUnbalancedEntries = fmt.Errorf("%w: debits and credits do not balance", ErrInvalidState)
	ErrAMLBlocked        = fmt.Errorf("%w: amount exceeds aml threshold", ErrInvalidState)

	// ErrUnknownEventType outbox 記錄的事件類型無法解碼
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrAlreadyProcessed 事件已套用過 (去重)
	ErrAlreadyProcessed = errors.New("event already processed")
)

// Kind 回傳錯誤分類字串，用於 gRPC 狀態碼對應與 metrics label
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrDuplicateAlias):
		return "duplicate_alias"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConcurrentUpdate):
		return "concurrent_update"
	case errors.Is(err, ErrUnknownEventType):
		return "unknown_event_type"
	default:
		return "internal"
	}
}
