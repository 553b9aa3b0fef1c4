package paymaster

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() (*Ledger, *MemoryStore) {
	store := NewMemoryStore()
	ledger := NewLedger(store)
	ledger.now = func() time.Time { return time.Unix(1700000000, 0) }
	return ledger, store
}

func requireBalance(t *testing.T, ledger *Ledger, sponsor common.Address, want int64) {
	t.Helper()
	balance, err := ledger.Balance(context.Background(), sponsor)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(want).String(), balance.String())
}

func TestLedger_Deposit(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()

	requireBalance(t, ledger, testSponsor, 0)

	account, err := ledger.Deposit(ctx, testSponsor, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, testSponsor, account.Owner)
	assert.Equal(t, "100", account.Balance.String())

	_, err = ledger.Deposit(ctx, testSponsor, big.NewInt(50))
	require.NoError(t, err)
	requireBalance(t, ledger, testSponsor, 150)

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		_, err := ledger.Deposit(ctx, testSponsor, amount)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}

	entries := store.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, EntryDeposit, entries[1].Kind)
	assert.Equal(t, "50", entries[1].Amount.String())
	assert.Equal(t, "150", entries[1].BalanceAfter.String())
	assert.Equal(t, int64(1700000000), entries[1].CreatedAt.Unix())
}

func TestLedger_CheckSolvency(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()
	_, err := ledger.Deposit(ctx, testSponsor, big.NewInt(100))
	require.NoError(t, err)

	tests := []struct {
		cost int64
		want bool
	}{
		{0, true},
		{99, true},
		{100, true},
		{101, false},
	}

	for _, tt := range tests {
		solvent, err := ledger.CheckSolvency(ctx, testSponsor, big.NewInt(tt.cost))
		require.NoError(t, err)
		assert.Equal(t, tt.want, solvent, "cost %d", tt.cost)
	}

	solvent, err := ledger.CheckSolvency(ctx, common.HexToAddress("0xa9"), big.NewInt(1))
	require.NoError(t, err)
	assert.False(t, solvent)
}

func TestLedger_Settle(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()
	_, err := ledger.Deposit(ctx, testSponsor, big.NewInt(100))
	require.NoError(t, err)

	charged, err := ledger.Settle(ctx, testSponsor, big.NewInt(30))
	require.NoError(t, err)
	assert.Equal(t, "30", charged.String())
	requireBalance(t, ledger, testSponsor, 70)

	charged, err = ledger.Settle(ctx, testSponsor, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, "0", charged.String())
	requireBalance(t, ledger, testSponsor, 70)

	// clamped at zero
	charged, err = ledger.Settle(ctx, testSponsor, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, "70", charged.String())
	requireBalance(t, ledger, testSponsor, 0)

	_, err = ledger.Settle(ctx, testSponsor, big.NewInt(-1))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_Withdraw(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	_, err := ledger.Deposit(ctx, testSponsor, big.NewInt(100))
	require.NoError(t, err)

	t.Run("not owner", func(t *testing.T) {
		_, err := ledger.Withdraw(ctx, testSponsor, common.HexToAddress("0xbad"), big.NewInt(10), recipient)
		assert.ErrorIs(t, err, ErrUnauthorized)
		requireBalance(t, ledger, testSponsor, 100)
	})

	t.Run("more than deposited", func(t *testing.T) {
		_, err := ledger.Withdraw(ctx, testSponsor, testSponsor, big.NewInt(101), recipient)
		assert.ErrorIs(t, err, ErrInsufficientDeposit)
		requireBalance(t, ledger, testSponsor, 100)
	})

	t.Run("zero amount", func(t *testing.T) {
		_, err := ledger.Withdraw(ctx, testSponsor, testSponsor, big.NewInt(0), recipient)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("owner", func(t *testing.T) {
		w, err := ledger.Withdraw(ctx, testSponsor, testSponsor, big.NewInt(40), recipient)
		require.NoError(t, err)
		assert.Equal(t, recipient, w.Recipient)
		assert.Equal(t, "40", w.Amount.String())
		assert.Equal(t, "60", w.BalanceAfter.String())
		requireBalance(t, ledger, testSponsor, 60)

		entries := store.Entries()
		last := entries[len(entries)-1]
		assert.Equal(t, EntryWithdraw, last.Kind)
		assert.Equal(t, recipient, last.Counterparty)
	})
}

func TestLedger_NeverNegative(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	steps := []struct {
		kind   EntryKind
		amount int64
	}{
		{EntryDeposit, 10},
		{EntrySettle, 4},
		{EntryWithdraw, 5},
		{EntrySettle, 9},
		{EntryWithdraw, 1},
		{EntryDeposit, 3},
		{EntrySettle, 2},
	}

	for _, step := range steps {
		amount := big.NewInt(step.amount)
		switch step.kind {
		case EntryDeposit:
			_, _ = ledger.Deposit(ctx, testSponsor, amount)
		case EntrySettle:
			_, _ = ledger.Settle(ctx, testSponsor, amount)
		case EntryWithdraw:
			_, _ = ledger.Withdraw(ctx, testSponsor, testSponsor, amount, testSponsor)
		}
		balance, err := ledger.Balance(ctx, testSponsor)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, balance.Sign(), 0)
	}
	requireBalance(t, ledger, testSponsor, 1)
}

func TestMemoryStore_Rollback(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()
	_, err := ledger.Deposit(ctx, testSponsor, big.NewInt(100))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.Update(ctx, func(tx StoreTx) error {
		account, err := tx.GetAccount(testSponsor)
		require.NoError(t, err)
		account.Balance.SetInt64(0)
		require.NoError(t, tx.PutAccount(account))
		require.NoError(t, tx.AppendEntry(&LedgerEntry{Sponsor: testSponsor, Kind: EntrySettle, Amount: big.NewInt(100)}))

		staged, err := tx.GetAccount(testSponsor)
		require.NoError(t, err)
		assert.Equal(t, 0, staged.Balance.Sign())
		return boom
	})
	assert.ErrorIs(t, err, boom)

	requireBalance(t, ledger, testSponsor, 100)
	assert.Len(t, store.Entries(), 1)
}

func TestMemoryStore_ViewIsReadOnly(t *testing.T) {
	store := NewMemoryStore()
	err := store.View(context.Background(), func(tx StoreTx) error {
		return tx.PutAccount(&SponsorAccount{Sponsor: testSponsor, Balance: big.NewInt(1)})
	})
	assert.ErrorIs(t, err, errReadOnlyTx)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ledger, _ := newTestLedger()
	_, err := ledger.Deposit(ctx, testSponsor, big.NewInt(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLedger_History(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()
	other := common.HexToAddress("0xa2")

	_, err := ledger.Deposit(ctx, testSponsor, big.NewInt(100))
	require.NoError(t, err)
	_, err = ledger.Deposit(ctx, other, big.NewInt(7))
	require.NoError(t, err)
	_, err = ledger.Settle(ctx, testSponsor, big.NewInt(30))
	require.NoError(t, err)

	entries, err := ledger.History(ctx, testSponsor, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EntrySettle, entries[0].Kind)
	assert.Equal(t, EntryDeposit, entries[1].Kind)

	entries, err = ledger.History(ctx, testSponsor, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "70", entries[0].BalanceAfter.String())

	entries, err = ledger.History(ctx, common.HexToAddress("0xa3"), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLedger_References(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()
	owner := testSponsor
	opHash := common.HexToHash("0x0a")

	_, err := ledger.Deposit(ctx, owner, big.NewInt(100))
	require.NoError(t, err)

	_, err = ledger.SettleOperation(ctx, common.Hash{}, owner, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidContext)

	_, err = ledger.WithdrawAuthorized(ctx, common.Hash{}, owner, owner, big.NewInt(1), owner)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// a refused withdraw leaves its reference unused
	_, err = ledger.WithdrawAuthorized(ctx, opHash, owner, owner, big.NewInt(101), owner)
	assert.ErrorIs(t, err, ErrInsufficientDeposit)

	_, err = ledger.WithdrawAuthorized(ctx, opHash, owner, owner, big.NewInt(10), owner)
	require.NoError(t, err)

	// references are shared across entry kinds
	_, err = ledger.SettleOperation(ctx, opHash, owner, big.NewInt(1))
	assert.ErrorIs(t, err, ErrContextSettled)

	requireBalance(t, ledger, owner, 90)
	entries := store.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, opHash, entries[1].Reference)
	assert.Equal(t, common.Hash{}, entries[0].Reference)
}
