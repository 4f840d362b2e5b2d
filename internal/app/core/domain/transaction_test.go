package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoLegPostings(from, to uuid.UUID, amount string) []Posting {
	return []Posting{
		{AccountID: from, EntryType: EntryTypeDebit, Amount: d(amount), Currency: "USD"},
		{AccountID: to, EntryType: EntryTypeCredit, Amount: d(amount), Currency: "usd"},
	}
}

func TestNewTransaction_AssignsSequence(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	tx, err := NewTransaction("", nil, twoLegPostings(a, b, "30"))
	require.NoError(t, err)

	assert.Equal(t, DefaultTransactionType, tx.Type())
	assert.Equal(t, TransactionStatusPending, tx.Status())
	entries := tx.Entries()
	require.Len(t, entries, 2)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Sequence)
		assert.Equal(t, tx.ID(), e.TransactionID)
		assert.Equal(t, "USD", e.Currency)
	}
	assert.Equal(t, EntryTypeDebit, entries[0].EntryType)
}

func TestNewTransaction_Validation(t *testing.T) {
	a := uuid.New()

	_, err := NewTransaction("transfer", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewTransaction("transfer", nil, []Posting{{AccountID: a, EntryType: EntryTypeDebit, Amount: d("0"), Currency: "USD"}})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewTransaction("transfer", nil, []Posting{{AccountID: a, EntryType: "Refund", Amount: d("1"), Currency: "USD"}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewTransaction("transfer", nil, []Posting{{AccountID: uuid.Nil, EntryType: EntryTypeDebit, Amount: d("1"), Currency: "USD"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTransaction_StateMachine(t *testing.T) {
	tx, err := NewTransaction("transfer", nil, twoLegPostings(uuid.New(), uuid.New(), "5"))
	require.NoError(t, err)

	assert.ErrorIs(t, tx.Reverse(), ErrInvalidTransition)
	require.NoError(t, tx.Commit())
	assert.Equal(t, TransactionStatusCommitted, tx.Status())

	err = tx.Commit()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, ErrInvalidState)

	before := tx.Entries()
	require.NoError(t, tx.Reverse())
	assert.Equal(t, TransactionStatusReversed, tx.Status())
	assert.Equal(t, before, tx.Entries())

	assert.ErrorIs(t, tx.Reverse(), ErrInvalidTransition)
	assert.ErrorIs(t, tx.Commit(), ErrInvalidTransition)
}

func TestTransaction_IsBalanced(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	balanced, err := NewTransaction("transfer", nil, twoLegPostings(a, b, "30"))
	require.NoError(t, err)
	assert.True(t, balanced.IsBalanced())

	oneSided, err := NewTransaction("deposit", nil, []Posting{{AccountID: a, EntryType: EntryTypeCredit, Amount: d("10"), Currency: "USD"}})
	require.NoError(t, err)
	assert.False(t, oneSided.IsBalanced())

	mixed, err := NewTransaction("fx", nil, []Posting{
		{AccountID: a, EntryType: EntryTypeDebit, Amount: d("10"), Currency: "USD"},
		{AccountID: b, EntryType: EntryTypeCredit, Amount: d("10"), Currency: "EUR"},
	})
	require.NoError(t, err)
	assert.False(t, mixed.IsBalanced())
}

func TestTransaction_AccountIDsSortedUnique(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	tx, err := NewTransaction("transfer", nil, append(twoLegPostings(a, b, "1"), twoLegPostings(b, a, "2")...))
	require.NoError(t, err)

	ids := tx.AccountIDs()
	require.Len(t, ids, 2)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, ids)
	assert.True(t, ids[0].String() < ids[1].String())
}

func TestLockOrder(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	want := LockOrder([]uuid.UUID{a, b, c})
	require.Len(t, want, 3)
	assert.Equal(t, want, LockOrder([]uuid.UUID{c, a, b, a, c}))
	assert.Equal(t, want, LockOrder([]uuid.UUID{b, c, a}))
	assert.Empty(t, LockOrder(nil))
}

func TestNewTransaction_HoldOnlyOnDebit(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	holdID := uuid.New()

	postings := twoLegPostings(a, b, "10")
	postings[0].HoldID = &holdID
	tx, err := NewTransaction("transfer", nil, postings)
	require.NoError(t, err)
	entries := tx.Entries()
	require.NotNil(t, entries[0].HoldID)
	assert.Equal(t, holdID, *entries[0].HoldID)
	assert.Nil(t, entries[1].HoldID)

	postings = twoLegPostings(a, b, "10")
	postings[1].HoldID = &holdID
	_, err = NewTransaction("transfer", nil, postings)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewTransaction_BalanceAfterNeverSet(t *testing.T) {
	tx, err := NewTransaction("transfer", nil, twoLegPostings(uuid.New(), uuid.New(), "10"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	for _, e := range tx.Entries() {
		assert.Nil(t, e.BalanceAfter)
	}
}

func TestParseEntryType(t *testing.T) {
	for in, want := range map[string]EntryType{"debit": EntryTypeDebit, "CREDIT": EntryTypeCredit, " Debit ": EntryTypeDebit} {
		got, err := ParseEntryType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseEntryType("fee")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRestoreTransaction_SortsEntries(t *testing.T) {
	tx, err := NewTransaction("transfer", nil, twoLegPostings(uuid.New(), uuid.New(), "3"))
	require.NoError(t, err)
	snap := tx.Snapshot()
	snap.Entries[0], snap.Entries[1] = snap.Entries[1], snap.Entries[0]

	restored := RestoreTransaction(snap)
	assert.Equal(t, tx.Entries(), restored.Entries())
}
