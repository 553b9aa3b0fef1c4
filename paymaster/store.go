package paymaster

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SponsorAccount is one sponsor's deposit. Owner is the address entitled to
// withdraw it.
type SponsorAccount struct {
	Sponsor common.Address
	Owner   common.Address
	Balance *big.Int
}

func (a *SponsorAccount) clone() *SponsorAccount {
	return &SponsorAccount{
		Sponsor: a.Sponsor,
		Owner:   a.Owner,
		Balance: new(big.Int).Set(a.Balance),
	}
}

type EntryKind string

const (
	EntryDeposit  EntryKind = "deposit"
	EntrySettle   EntryKind = "settle"
	EntryWithdraw EntryKind = "withdraw"
)

// LedgerEntry records one balance mutation. Reference, when set, identifies
// what authorized it (the validation hash of a settled operation or the digest
// of a withdraw authorization) and is unique across the ledger.
type LedgerEntry struct {
	Sponsor      common.Address
	Kind         EntryKind
	Amount       *big.Int
	BalanceAfter *big.Int
	Counterparty common.Address
	Reference    common.Hash
	CreatedAt    time.Time
}

// StoreTx is the view of the ledger inside one transaction.
type StoreTx interface {
	// GetAccount returns nil, nil for unknown sponsors.
	GetAccount(sponsor common.Address) (*SponsorAccount, error)
	PutAccount(account *SponsorAccount) error
	AppendEntry(entry *LedgerEntry) error
	// ListEntries returns the sponsor's most recent entries, newest first.
	ListEntries(sponsor common.Address, limit int) ([]*LedgerEntry, error)
	// HasReference reports whether an entry with ref was already written.
	HasReference(ref common.Hash) (bool, error)
}

// Store runs closures atomically. If fn returns an error none of its writes
// become visible.
type Store interface {
	Update(ctx context.Context, fn func(tx StoreTx) error) error
	View(ctx context.Context, fn func(tx StoreTx) error) error
}

// MemoryStore keeps balances in a map. Writes made inside Update are staged in
// an overlay and copied into the map only when the closure succeeds.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[common.Address]*SponsorAccount
	entries  []*LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[common.Address]*SponsorAccount),
	}
}

func (m *MemoryStore) Update(ctx context.Context, fn func(tx StoreTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{store: m, staged: make(map[common.Address]*SponsorAccount)}
	if err := fn(tx); err != nil {
		return err
	}

	for sponsor, account := range tx.staged {
		m.accounts[sponsor] = account
	}
	m.entries = append(m.entries, tx.entries...)
	return nil
}

func (m *MemoryStore) View(ctx context.Context, fn func(tx StoreTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return fn(&memoryTx{store: m, readOnly: true})
}

// Entries returns a copy of the audit trail.
func (m *MemoryStore) Entries() []LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}

type memoryTx struct {
	store    *MemoryStore
	staged   map[common.Address]*SponsorAccount
	entries  []*LedgerEntry
	readOnly bool
}

func (tx *memoryTx) GetAccount(sponsor common.Address) (*SponsorAccount, error) {
	if account, ok := tx.staged[sponsor]; ok {
		return account.clone(), nil
	}
	if account, ok := tx.store.accounts[sponsor]; ok {
		return account.clone(), nil
	}
	return nil, nil
}

func (tx *memoryTx) PutAccount(account *SponsorAccount) error {
	if tx.readOnly {
		return errReadOnlyTx
	}
	tx.staged[account.Sponsor] = account.clone()
	return nil
}

func (tx *memoryTx) ListEntries(sponsor common.Address, limit int) ([]*LedgerEntry, error) {
	var out []*LedgerEntry
	all := append(append([]*LedgerEntry{}, tx.store.entries...), tx.entries...)
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if all[i].Sponsor == sponsor {
			e := *all[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

func (tx *memoryTx) HasReference(ref common.Hash) (bool, error) {
	for _, entries := range [][]*LedgerEntry{tx.store.entries, tx.entries} {
		for _, e := range entries {
			if e.Reference == ref {
				return true, nil
			}
		}
	}
	return false, nil
}

func (tx *memoryTx) AppendEntry(entry *LedgerEntry) error {
	if tx.readOnly {
		return errReadOnlyTx
	}
	e := *entry
	tx.entries = append(tx.entries, &e)
	return nil
}
