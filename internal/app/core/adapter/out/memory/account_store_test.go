package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
)

func openAccount(t *testing.T, store *AccountStore) *domain.Account {
	t.Helper()
	acc, err := domain.OpenAccount(uuid.New(), "USD")
	require.NoError(t, err)
	require.NoError(t, store.Add(context.Background(), acc))
	return acc
}

func TestAccountStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore()
	acc := openAccount(t, store)

	loaded, err := store.Get(ctx, acc.ID())
	require.NoError(t, err)
	require.NoError(t, loaded.Credit(decimal.NewFromInt(10)))

	again, err := store.Get(ctx, acc.ID())
	require.NoError(t, err)
	assert.True(t, again.Balance().IsZero())

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountStore_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore()
	acc := openAccount(t, store)
	assert.Equal(t, int64(1), acc.Version())

	first, err := store.Get(ctx, acc.ID())
	require.NoError(t, err)
	second, err := store.Get(ctx, acc.ID())
	require.NoError(t, err)

	require.NoError(t, first.Credit(decimal.NewFromInt(5)))
	require.NoError(t, store.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version())

	require.NoError(t, second.Credit(decimal.NewFromInt(7)))
	assert.ErrorIs(t, store.Update(ctx, second), domain.ErrConcurrentUpdate)

	stored, err := store.Get(ctx, acc.ID())
	require.NoError(t, err)
	assert.True(t, stored.Balance().Equal(decimal.NewFromInt(5)))
}

func TestAccountStore_AliasUniqueAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore()
	a := openAccount(t, store)
	b := openAccount(t, store)

	loadedA, err := store.Get(ctx, a.ID())
	require.NoError(t, err)
	_, err = loadedA.AddAlias("iban", "NL91ABNA0417164300")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, loadedA))

	loadedB, err := store.Get(ctx, b.ID())
	require.NoError(t, err)
	_, err = loadedB.AddAlias("iban", "NL91ABNA0417164300")
	require.NoError(t, err)
	assert.ErrorIs(t, store.Update(ctx, loadedB), domain.ErrDuplicateAlias)

	// the owner may keep saving with its own alias
	loadedA, err = store.Get(ctx, a.ID())
	require.NoError(t, err)
	require.NoError(t, loadedA.Credit(decimal.NewFromInt(1)))
	require.NoError(t, store.Update(ctx, loadedA))
}

func TestAccountStore_ApplyEventDedupe(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore()
	acc := openAccount(t, store)

	credit := func(tx usecase.AccountTx) error {
		loaded, err := tx.Get(acc.ID())
		if err != nil {
			return err
		}
		if err := loaded.Credit(decimal.NewFromInt(3)); err != nil {
			return err
		}
		return tx.Update(loaded)
	}

	require.NoError(t, store.ApplyEvent(ctx, "k1", credit))
	assert.ErrorIs(t, store.ApplyEvent(ctx, "k1", credit), domain.ErrAlreadyProcessed)
	require.NoError(t, store.ApplyEvent(ctx, "", credit))
	require.NoError(t, store.ApplyEvent(ctx, "", credit))

	loaded, err := store.Get(ctx, acc.ID())
	require.NoError(t, err)
	assert.True(t, loaded.Balance().Equal(decimal.NewFromInt(9)))
}

func TestAccountStore_ApplyEventRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore()
	acc := openAccount(t, store)
	boom := errors.New("boom")

	err := store.ApplyEvent(ctx, "k1", func(tx usecase.AccountTx) error {
		loaded, err := tx.Get(acc.ID())
		require.NoError(t, err)
		require.NoError(t, loaded.Credit(decimal.NewFromInt(3)))
		require.NoError(t, tx.Update(loaded))

		// second read within the same event sees the staged state
		again, err := tx.Get(acc.ID())
		require.NoError(t, err)
		assert.True(t, again.Balance().Equal(decimal.NewFromInt(3)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	loaded, err := store.Get(ctx, acc.ID())
	require.NoError(t, err)
	assert.True(t, loaded.Balance().IsZero())
	// key not recorded, the event can be applied later
	require.NoError(t, store.ApplyEvent(ctx, "k1", func(usecase.AccountTx) error { return nil }))
}

func TestAccountStore_List(t *testing.T) {
	store := NewAccountStore()
	a := openAccount(t, store)
	b := openAccount(t, store)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	ids := []uuid.UUID{list[0].ID(), list[1].ID()}
	assert.ElementsMatch(t, []uuid.UUID{a.ID(), b.ID()}, ids)
}
