package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
)

func setupTestRedis(t *testing.T) *BalanceReadModel {
	t.Helper()
	cfg := DefaultConfig()
	cfg.KeyPrefix = "test:ledger:balance:"
	cfg.DialTimeout = 2 * time.Second

	r, err := NewBalanceReadModel(cfg)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestNewBalanceReadModel_RequiresAddr(t *testing.T) {
	_, err := NewBalanceReadModel(Config{})
	require.Error(t, err)
}

func TestBalanceReadModel_Ping(t *testing.T) {
	r := setupTestRedis(t)
	assert.NoError(t, r.Ping(context.Background()))
}

func TestBalanceReadModel_UpsertGet(t *testing.T) {
	r := setupTestRedis(t)
	ctx := context.Background()
	id := uuid.New()
	t.Cleanup(func() { _ = r.Delete(ctx, id) })

	_, err := r.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	row := domain.AccountBalance{
		AccountID: id,
		Balance:   decimal.RequireFromString("100.25"),
		Available: decimal.RequireFromString("50"),
		Currency:  "USD",
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, r.Upsert(ctx, row))

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, row.AccountID, got.AccountID)
	assert.True(t, row.Balance.Equal(got.Balance))
	assert.True(t, row.Available.Equal(got.Available))
	assert.Equal(t, "USD", got.Currency)
	assert.True(t, row.UpdatedAt.Equal(got.UpdatedAt))

	row.Balance = decimal.NewFromInt(1)
	require.NoError(t, r.Upsert(ctx, row))
	got, err = r.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1)))
}
