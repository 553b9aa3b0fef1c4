package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ethaccount/paymaster/paymaster"
	"github.com/ethaccount/paymaster/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errReadOnlyTx = errors.New("write in read-only sponsor transaction")

// SponsorRepository is the postgres-backed paymaster.Store.
type SponsorRepository struct {
	db *gorm.DB
}

func NewSponsorRepository(db *gorm.DB) *SponsorRepository {
	return &SponsorRepository{db: db}
}

// Update runs fn in a database transaction. Accounts read inside it are locked
// with SELECT ... FOR UPDATE until the transaction ends.
func (r *SponsorRepository) Update(ctx context.Context, fn func(tx paymaster.StoreTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sponsorTx{db: tx, forUpdate: true})
	})
}

func (r *SponsorRepository) View(ctx context.Context, fn func(tx paymaster.StoreTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sponsorTx{db: tx, readOnly: true})
	}, &sql.TxOptions{ReadOnly: true})
}

type sponsorTx struct {
	db        *gorm.DB
	forUpdate bool
	readOnly  bool
}

func (tx *sponsorTx) GetAccount(sponsor common.Address) (*paymaster.SponsorAccount, error) {
	query := tx.db
	if tx.forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var model domain.Sponsor
	err := query.Where("address = ?", sponsor.Hex()).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.ToAccount(), nil
}

// PutAccount upserts so that the first deposit for a sponsor creates its row.
func (tx *sponsorTx) PutAccount(account *paymaster.SponsorAccount) error {
	if tx.readOnly {
		return errReadOnlyTx
	}
	return tx.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "balance", "updated_at"}),
	}).Create(domain.NewSponsor(account)).Error
}

func (tx *sponsorTx) AppendEntry(entry *paymaster.LedgerEntry) error {
	if tx.readOnly {
		return errReadOnlyTx
	}
	return tx.db.Create(domain.NewLedgerEntry(entry)).Error
}

// HasReference relies on the unique index on ledger_entries.reference, which
// also fails the second of two concurrent writers of the same reference.
func (tx *sponsorTx) HasReference(ref common.Hash) (bool, error) {
	var count int64
	err := tx.db.Model(&domain.LedgerEntry{}).Where("reference = ?", ref.Hex()).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (tx *sponsorTx) ListEntries(sponsor common.Address, limit int) ([]*paymaster.LedgerEntry, error) {
	query := tx.db.Where("sponsor_address = ?", sponsor.Hex()).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []*domain.LedgerEntry
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	entries := make([]*paymaster.LedgerEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, m.ToEntry())
	}
	return entries, nil
}
