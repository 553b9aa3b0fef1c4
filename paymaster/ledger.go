package paymaster

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var errReadOnlyTx = errors.New("write in read-only ledger transaction")

// Withdrawal describes funds released to a recipient.
type Withdrawal struct {
	Sponsor      common.Address
	Recipient    common.Address
	Amount       *big.Int
	BalanceAfter *big.Int
}

// Ledger tracks sponsor deposits on top of a transactional Store.
type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Account returns the sponsor's account, or an empty one owned by the sponsor
// if nothing was ever deposited.
func (l *Ledger) Account(ctx context.Context, sponsor common.Address) (*SponsorAccount, error) {
	var out *SponsorAccount
	err := l.store.View(ctx, func(tx StoreTx) error {
		account, err := loadAccount(tx, sponsor)
		out = account
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) Balance(ctx context.Context, sponsor common.Address) (*big.Int, error) {
	account, err := l.Account(ctx, sponsor)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// History returns up to limit of the sponsor's ledger entries, newest first.
// A non-positive limit returns all of them.
func (l *Ledger) History(ctx context.Context, sponsor common.Address, limit int) ([]*LedgerEntry, error) {
	var out []*LedgerEntry
	err := l.store.View(ctx, func(tx StoreTx) error {
		entries, err := tx.ListEntries(sponsor, limit)
		out = entries
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Deposit credits amount to sponsor. Anyone may deposit for anyone.
func (l *Ledger) Deposit(ctx context.Context, sponsor common.Address, amount *big.Int) (*SponsorAccount, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	var out *SponsorAccount
	err := l.store.Update(ctx, func(tx StoreTx) error {
		account, err := loadAccount(tx, sponsor)
		if err != nil {
			return err
		}
		account.Balance.Add(account.Balance, amount)
		if err := l.write(tx, account, EntryDeposit, amount, common.Address{}, common.Hash{}); err != nil {
			return err
		}
		out = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CheckSolvency reports whether the sponsor's balance covers cost.
func (l *Ledger) CheckSolvency(ctx context.Context, sponsor common.Address, cost *big.Int) (bool, error) {
	var solvent bool
	err := l.store.View(ctx, func(tx StoreTx) error {
		var err error
		solvent, err = checkSolvency(tx, sponsor, cost)
		return err
	})
	return solvent, err
}

// Settle deducts the actual cost of an executed operation. The deduction is
// clamped so the balance never drops below zero; the charged amount is
// returned.
func (l *Ledger) Settle(ctx context.Context, sponsor common.Address, actualCost *big.Int) (*big.Int, error) {
	return l.settle(ctx, common.Hash{}, sponsor, actualCost)
}

// SettleOperation is Settle for the operation identified by opHash. Each
// opHash is charged at most once.
func (l *Ledger) SettleOperation(ctx context.Context, opHash common.Hash, sponsor common.Address, actualCost *big.Int) (*big.Int, error) {
	if opHash == (common.Hash{}) {
		return nil, ErrInvalidContext
	}
	return l.settle(ctx, opHash, sponsor, actualCost)
}

func (l *Ledger) settle(ctx context.Context, ref common.Hash, sponsor common.Address, actualCost *big.Int) (*big.Int, error) {
	if actualCost == nil || actualCost.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	charged := new(big.Int)
	err := l.store.Update(ctx, func(tx StoreTx) error {
		if err := checkReference(tx, ref, ErrContextSettled); err != nil {
			return err
		}
		account, err := loadAccount(tx, sponsor)
		if err != nil {
			return err
		}
		charged.Set(actualCost)
		if charged.Cmp(account.Balance) > 0 {
			charged.Set(account.Balance)
		}
		account.Balance.Sub(account.Balance, charged)
		return l.write(tx, account, EntrySettle, charged, common.Address{}, ref)
	})
	if err != nil {
		return nil, err
	}
	return charged, nil
}

// Withdraw releases amount to recipient. Only the sponsor's owner may call it.
func (l *Ledger) Withdraw(ctx context.Context, sponsor, caller common.Address, amount *big.Int, recipient common.Address) (*Withdrawal, error) {
	return l.withdraw(ctx, common.Hash{}, sponsor, caller, amount, recipient)
}

// WithdrawAuthorized is Withdraw on behalf of a signed authorization whose
// digest is ref. A digest is honoured once.
func (l *Ledger) WithdrawAuthorized(ctx context.Context, ref common.Hash, sponsor, caller common.Address, amount *big.Int, recipient common.Address) (*Withdrawal, error) {
	if ref == (common.Hash{}) {
		return nil, ErrUnauthorized
	}
	return l.withdraw(ctx, ref, sponsor, caller, amount, recipient)
}

func (l *Ledger) withdraw(ctx context.Context, ref common.Hash, sponsor, caller common.Address, amount *big.Int, recipient common.Address) (*Withdrawal, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	var out *Withdrawal
	err := l.store.Update(ctx, func(tx StoreTx) error {
		account, err := loadAccount(tx, sponsor)
		if err != nil {
			return err
		}
		if caller != account.Owner {
			return ErrUnauthorized
		}
		if err := checkReference(tx, ref, ErrWithdrawReplayed); err != nil {
			return err
		}
		if account.Balance.Cmp(amount) < 0 {
			return ErrInsufficientDeposit
		}
		account.Balance.Sub(account.Balance, amount)
		if err := l.write(tx, account, EntryWithdraw, amount, recipient, ref); err != nil {
			return err
		}
		out = &Withdrawal{
			Sponsor:      sponsor,
			Recipient:    recipient,
			Amount:       new(big.Int).Set(amount),
			BalanceAfter: new(big.Int).Set(account.Balance),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) write(tx StoreTx, account *SponsorAccount, kind EntryKind, amount *big.Int, counterparty common.Address, ref common.Hash) error {
	if err := tx.PutAccount(account); err != nil {
		return err
	}
	return tx.AppendEntry(&LedgerEntry{
		Sponsor:      account.Sponsor,
		Kind:         kind,
		Amount:       new(big.Int).Set(amount),
		BalanceAfter: new(big.Int).Set(account.Balance),
		Counterparty: counterparty,
		Reference:    ref,
		CreatedAt:    l.now(),
	})
}

// checkReference fails with used when ref is set and already on the ledger.
func checkReference(tx StoreTx, ref common.Hash, used error) error {
	if ref == (common.Hash{}) {
		return nil
	}
	seen, err := tx.HasReference(ref)
	if err != nil {
		return err
	}
	if seen {
		return used
	}
	return nil
}

func loadAccount(tx StoreTx, sponsor common.Address) (*SponsorAccount, error) {
	account, err := tx.GetAccount(sponsor)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &SponsorAccount{Sponsor: sponsor, Owner: sponsor, Balance: new(big.Int)}, nil
	}
	if account.Balance == nil {
		account.Balance = new(big.Int)
	}
	return account, nil
}

func checkSolvency(tx StoreTx, sponsor common.Address, cost *big.Int) (bool, error) {
	account, err := loadAccount(tx, sponsor)
	if err != nil {
		return false, err
	}
	if cost == nil {
		cost = new(big.Int)
	}
	return account.Balance.Cmp(cost) >= 0, nil
}
