package repository

import (
	"context"

	"idle_mining/internal/domain"
	"idle_mining/internal/mining"
)

// Write is one conditional replacement of a player record
type Write struct {
	Record *domain.PlayerRecord
	// ExpectedVersion is the version the record was read at. Zero means
	// the caller expects the record not to exist yet.
	ExpectedVersion int64
	// Entries are committed atomically with the record. An entry whose
	// non-empty EventKey was already applied fails the whole write with
	// domain.ErrDuplicateReferral.
	Entries []*domain.LedgerEntry
}

// ListParams pages through records in address order
type ListParams struct {
	After string
	Limit int
}

// Stats aggregates the economy across every stored record
type Stats struct {
	TotalPlayers     int64   `json:"total_players"`
	LandOwners       int64   `json:"land_owners"`
	TotalGold        float64 `json:"total_gold"`
	TotalMiningPower float64 `json:"total_mining_power"`
	TotalReferrals   int64   `json:"total_referrals"`
	TotalPickaxes    int64   `json:"total_pickaxes"`
}

// Add folds one record into the aggregate
func (s *Stats) Add(rec *domain.PlayerRecord) {
	s.TotalPlayers++
	if rec.HasLand {
		s.LandOwners++
	}
	s.TotalGold += rec.Gold
	s.TotalMiningPower += rec.MiningPower
	s.TotalReferrals += rec.TotalReferrals
	s.TotalPickaxes += rec.Inventory.Total()
}

// Store is the address-keyed record store. Every method is atomic for a
// single address.
type Store interface {
	// Get returns the stored record, or a zero record with Version 0.
	Get(ctx context.Context, address string) (*domain.PlayerRecord, error)
	// CompareAndSwap replaces the record if its version still equals
	// w.ExpectedVersion, returning the stored record with its new version.
	// A lost race returns domain.ErrConflict.
	CompareAndSwap(ctx context.Context, w Write) (*domain.PlayerRecord, error)
	// Delete removes a record at expectedVersion. Administrative use only.
	Delete(ctx context.Context, address string, expectedVersion int64, entry *domain.LedgerEntry) error
	List(ctx context.Context, p ListParams) ([]*domain.PlayerRecord, error)
	Ledger(ctx context.Context, address string, limit int) ([]*domain.LedgerEntry, error)
	Stats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// PageSize returns the effective page size, clamped to [1, 1000]
func (p ListParams) PageSize() int {
	switch {
	case p.Limit <= 0:
		return defaultListLimit
	case p.Limit > maxListLimit:
		return maxListLimit
	}
	return p.Limit
}

// PrepareWrite validates w and returns the record to persist, stamped
// with its next version. Every Store implementation runs it before writing.
func PrepareWrite(w Write, c domain.Catalog) (*domain.PlayerRecord, error) {
	if w.Record == nil {
		return nil, domain.ErrInvariantViolation.WithDetail("nil record")
	}
	if w.ExpectedVersion < 0 {
		return nil, domain.ErrInvariantViolation.WithDetail("negative expected version %d", w.ExpectedVersion)
	}
	next := w.Record.Clone()
	if err := domain.ValidateRecord(next, mining.Power(next.Inventory, c)); err != nil {
		return nil, err
	}
	next.Version = w.ExpectedVersion + 1
	return next, nil
}
