package grpc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
)

// fields 讀取 Struct 請求欄位，格式錯誤一律回傳 InvalidArgument
type fields struct {
	m map[string]*structpb.Value
}

func newFields(req *structpb.Struct) fields {
	return fields{m: req.GetFields()}
}

func invalidArg(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

func (f fields) str(key string) string {
	v, ok := f.m[key]
	if !ok {
		return ""
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
	default:
		return ""
	}
}

func (f fields) uuid(key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(f.str(key))
	if raw == "" {
		return uuid.Nil, invalidArg("%s is required", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalidArg("%s: invalid uuid %q", key, raw)
	}
	return id, nil
}

// optUUID 欄位缺省時回傳 nil
func (f fields) optUUID(key string) (*uuid.UUID, error) {
	if strings.TrimSpace(f.str(key)) == "" {
		return nil, nil
	}
	id, err := f.uuid(key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// decimal 金額接受字串 ("12.50") 或數字；建議用字串避免浮點誤差
func (f fields) decimal(key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(f.str(key))
	if raw == "" {
		return decimal.Zero, invalidArg("%s is required", key)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalidArg("%s: invalid decimal %q", key, raw)
	}
	return d, nil
}

func (f fields) int(key string) int {
	v, ok := f.m[key]
	if !ok {
		return 0
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return int(kind.NumberValue)
	case *structpb.Value_StringValue:
		n, _ := strconv.Atoi(kind.StringValue)
		return n
	default:
		return 0
	}
}

func (f fields) list(key string) []*structpb.Value {
	v, ok := f.m[key]
	if !ok {
		return nil
	}
	return v.GetListValue().GetValues()
}

// postings 解析 entries: [{accountId, entryType, amount, currency, holdId?}]
func (f fields) postings(key string) ([]domain.Posting, error) {
	values := f.list(key)
	out := make([]domain.Posting, 0, len(values))
	for i, v := range values {
		item := v.GetStructValue()
		if item == nil {
			return nil, invalidArg("%s[%d]: expected object", key, i)
		}
		entry := newFields(item)
		accountID, err := entry.uuid("accountId")
		if err != nil {
			return nil, invalidArg("%s[%d]: %s", key, i, status.Convert(err).Message())
		}
		entryType, err := domain.ParseEntryType(entry.str("entryType"))
		if err != nil {
			return nil, invalidArg("%s[%d]: %v", key, i, err)
		}
		amount, err := entry.decimal("amount")
		if err != nil {
			return nil, invalidArg("%s[%d]: %s", key, i, status.Convert(err).Message())
		}
		holdID, err := entry.optUUID("holdId")
		if err != nil {
			return nil, invalidArg("%s[%d]: %s", key, i, status.Convert(err).Message())
		}
		out = append(out, domain.Posting{
			AccountID: accountID,
			EntryType: entryType,
			Amount:    amount,
			Currency:  entry.str("currency"),
			HoldID:    holdID,
		})
	}
	return out, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timestamp(*t)
}

func encodeAccount(acc *domain.Account) map[string]any {
	holds := make([]any, 0, len(acc.Holds()))
	for _, h := range acc.Holds() {
		holds = append(holds, encodeHold(h))
	}
	aliases := make([]any, 0, len(acc.Aliases()))
	for _, a := range acc.Aliases() {
		aliases = append(aliases, encodeAlias(a))
	}
	return map[string]any{
		"id":               acc.ID().String(),
		"customerId":       acc.CustomerID().String(),
		"currency":         acc.Currency(),
		"status":           string(acc.Status()),
		"balance":          acc.Balance().String(),
		"availableBalance": acc.AvailableBalance().String(),
		"version":          acc.Version(),
		"createdAt":        timestamp(acc.CreatedAt()),
		"holds":            holds,
		"aliases":          aliases,
	}
}

func encodeHold(h domain.Hold) map[string]any {
	return map[string]any{
		"id":         h.ID.String(),
		"amount":     h.Amount.String(),
		"reference":  h.Reference,
		"status":     string(h.Status),
		"createdAt":  timestamp(h.CreatedAt),
		"releasedAt": optTimestamp(h.ReleasedAt),
	}
}

func encodeAlias(a domain.Alias) map[string]any {
	return map[string]any{
		"id":    a.ID.String(),
		"type":  a.Type,
		"value": a.Value,
	}
}

func encodeBalance(b domain.AccountBalance) map[string]any {
	return map[string]any{
		"accountId": b.AccountID.String(),
		"balance":   b.Balance.String(),
		"available": b.Available.String(),
		"currency":  b.Currency,
		"updatedAt": timestamp(b.UpdatedAt),
	}
}

func encodeTransaction(tx *domain.Transaction) map[string]any {
	entries := make([]any, 0, len(tx.Entries()))
	for _, e := range tx.Entries() {
		entry := map[string]any{
			"id":        e.ID.String(),
			"accountId": e.AccountID.String(),
			"entryType": string(e.EntryType),
			"amount":    e.Amount.String(),
			"currency":  e.Currency,
			"sequence":  e.Sequence,
			"createdAt": timestamp(e.CreatedAt),
		}
		if e.BalanceAfter != nil {
			entry["balanceAfter"] = e.BalanceAfter.String()
		}
		if e.HoldID != nil {
			entry["holdId"] = e.HoldID.String()
		}
		entries = append(entries, entry)
	}
	out := map[string]any{
		"id":        tx.ID().String(),
		"type":      tx.Type(),
		"status":    string(tx.Status()),
		"createdAt": timestamp(tx.CreatedAt()),
		"entries":   entries,
	}
	if by := tx.InitiatedBy(); by != nil {
		out["initiatedBy"] = by.String()
	}
	return out
}

func encodeOutbox(m domain.OutboxMessage) map[string]any {
	return map[string]any{
		"id":          m.ID.String(),
		"type":        string(m.Type),
		"aggregateId": m.AggregateID.String(),
		"payload":     m.Payload,
		"status":      string(m.Status()),
		"attempts":    m.Attempts,
		"lastError":   m.LastError,
		"createdAt":   timestamp(m.CreatedAt),
		"publishedAt": optTimestamp(m.PublishedAt),
		"deadAt":      optTimestamp(m.DeadAt),
	}
}

// reply 將回應 map 轉成 Struct
func reply(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}
