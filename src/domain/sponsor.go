package domain

import (
	"math/big"
	"time"

	"github.com/ethaccount/paymaster/paymaster"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sponsor is the persisted form of paymaster.SponsorAccount. Balance is in wei.
type Sponsor struct {
	Address   string          `gorm:"primaryKey;type:varchar(42)"`
	Owner     string          `gorm:"type:varchar(42);not null"`
	Balance   decimal.Decimal `gorm:"type:numeric(78,0);not null;default:0"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Sponsor) TableName() string {
	return "sponsors"
}

func NewSponsor(account *paymaster.SponsorAccount) *Sponsor {
	return &Sponsor{
		Address: account.Sponsor.Hex(),
		Owner:   account.Owner.Hex(),
		Balance: DecimalFromWei(account.Balance),
	}
}

func (s *Sponsor) ToAccount() *paymaster.SponsorAccount {
	return &paymaster.SponsorAccount{
		Sponsor: common.HexToAddress(s.Address),
		Owner:   common.HexToAddress(s.Owner),
		Balance: s.Balance.BigInt(),
	}
}

// LedgerEntry is one row of the sponsor balance audit trail.
type LedgerEntry struct {
	ID             uuid.UUID       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	SponsorAddress string          `gorm:"type:varchar(42);not null;index"`
	Kind           string          `gorm:"type:varchar(16);not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	BalanceAfter   decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	Counterparty   *string         `gorm:"type:varchar(42)"`
	Reference      *string         `gorm:"type:varchar(66)"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

func NewLedgerEntry(entry *paymaster.LedgerEntry) *LedgerEntry {
	model := &LedgerEntry{
		ID:             uuid.New(),
		SponsorAddress: entry.Sponsor.Hex(),
		Kind:           string(entry.Kind),
		Amount:         DecimalFromWei(entry.Amount),
		BalanceAfter:   DecimalFromWei(entry.BalanceAfter),
		CreatedAt:      entry.CreatedAt,
	}
	if entry.Counterparty != (common.Address{}) {
		counterparty := entry.Counterparty.Hex()
		model.Counterparty = &counterparty
	}
	if entry.Reference != (common.Hash{}) {
		reference := entry.Reference.Hex()
		model.Reference = &reference
	}
	return model
}

func (e *LedgerEntry) ToEntry() *paymaster.LedgerEntry {
	entry := &paymaster.LedgerEntry{
		Sponsor:      common.HexToAddress(e.SponsorAddress),
		Kind:         paymaster.EntryKind(e.Kind),
		Amount:       e.Amount.BigInt(),
		BalanceAfter: e.BalanceAfter.BigInt(),
		CreatedAt:    e.CreatedAt,
	}
	if e.Counterparty != nil {
		entry.Counterparty = common.HexToAddress(*e.Counterparty)
	}
	if e.Reference != nil {
		entry.Reference = common.HexToHash(*e.Reference)
	}
	return entry
}

func DecimalFromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0)
}
