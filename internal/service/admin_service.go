package service

import (
	"context"
	"time"

	"idle_mining/internal/cache"
	"idle_mining/internal/domain"
	"idle_mining/internal/logger"
	"idle_mining/internal/repository"
)

// AdminService provides bulk inspection and the confirmed corrective actions
type AdminService struct {
	repo    repository.Store
	cache   *cache.Fallback
	confirm *Confirmer
	timeout time.Duration
}

// NewAdminService creates a new admin service
func NewAdminService(repo repository.Store, fallback *cache.Fallback, confirm *Confirmer, timeout time.Duration) *AdminService {
	if timeout <= 0 {
		timeout = DefaultRepoTimeout
	}
	return &AdminService{repo: repo, cache: fallback, confirm: confirm, timeout: timeout}
}

// PlayerView is a repository record together with any unreconciled state
type PlayerView struct {
	Record *domain.PlayerRecord `json:"record"`
	Dirty  *cache.DirtyEntry    `json:"dirty,omitempty"`
}

// Stats represents economy-wide statistics
type Stats struct {
	repository.Stats
	CachedRecords       int `json:"cached_records"`
	UnreconciledRecords int `json:"unreconciled_records"`
}

func (s *AdminService) ListPlayers(ctx context.Context, p repository.ListParams) ([]*domain.PlayerRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.List(ctx, p)
}

func (s *AdminService) GetPlayer(ctx context.Context, address string) (*PlayerView, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rec, err := s.repo.Get(rctx, address)
	if err != nil {
		return nil, err
	}
	view := &PlayerView{Record: rec}
	if d, ok := s.cache.Dirty(address); ok {
		view.Dirty = d
	}
	return view, nil
}

// Ledger returns recent committed entries for address, newest first
func (s *AdminService) Ledger(ctx context.Context, address string, limit int) ([]*domain.LedgerEntry, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.Ledger(ctx, address, limit)
}

// GetStats returns repository aggregates plus cache occupancy
func (s *AdminService) GetStats(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	clean, dirty := s.cache.Len()
	return &Stats{Stats: *st, CachedRecords: clean, UnreconciledRecords: dirty}, nil
}

// ListDegraded returns every write that exists only in the fallback cache
func (s *AdminService) ListDegraded() []*cache.DirtyEntry {
	return s.cache.ListDirty()
}

// Reconcile writes the degraded record for address into the repository.
// It only succeeds while the repository still holds the version the
// degraded writes started from.
func (s *AdminService) Reconcile(ctx context.Context, address, token string) (*domain.PlayerRecord, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if err := s.confirm.Verify(token, ActionReconcile, address); err != nil {
		return nil, err
	}
	d, ok := s.cache.Dirty(address)
	if !ok {
		return nil, domain.ErrNotDegraded.WithDetail("%s", address)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cur, err := s.repo.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if cur.Version != d.BaseVersion {
		return nil, domain.ErrConflict.WithDetail("repository at version %d, degraded writes started from %d", cur.Version, d.BaseVersion)
	}

	entries := make([]*domain.LedgerEntry, 0, len(d.Pending)+1)
	for _, p := range d.Pending {
		e := *p
		e.Meta = map[string]interface{}{"reconciled": true, "degraded_version": p.Version}
		for k, v := range p.Meta {
			e.Meta[k] = v
		}
		entries = append(entries, &e)
	}
	entries = append(entries, &domain.LedgerEntry{
		Operation: domain.OpReconcile,
		GoldDelta: d.Record.Gold - cur.Gold,
		Meta:      map[string]interface{}{"base_version": d.BaseVersion, "degraded_since": d.Since},
	})

	stored, err := s.repo.CompareAndSwap(ctx, repository.Write{
		Record:          d.Record,
		ExpectedVersion: d.BaseVersion,
		Entries:         entries,
	})
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx).With("address", address, "version", stored.Version)
	if !s.cache.Resolve(address, d.Record.Version, stored) {
		log.Warn("degraded writes arrived during reconcile; entry left for another pass")
	} else {
		log.Info("degraded record reconciled", "pending", len(d.Pending))
	}
	_, dirty := s.cache.Len()
	UnreconciledEntries.Set(float64(dirty))
	return stored, nil
}

// Discard drops the degraded record for address without writing it
func (s *AdminService) Discard(ctx context.Context, address, token string) error {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return err
	}
	if err := s.confirm.Verify(token, ActionDiscard, address); err != nil {
		return err
	}
	d, ok := s.cache.Dirty(address)
	if !ok {
		return domain.ErrNotDegraded.WithDetail("%s", address)
	}
	if !s.cache.Resolve(address, d.Record.Version, nil) {
		return domain.ErrConflict.WithDetail("degraded record changed")
	}
	logger.WithContext(ctx).Warn("degraded record discarded", "address", address, "pending", len(d.Pending))
	_, dirty := s.cache.Len()
	UnreconciledEntries.Set(float64(dirty))
	return nil
}

// ResetPlayer deletes the stored record for address. The next operation
// starts the player from a zero record.
func (s *AdminService) ResetPlayer(ctx context.Context, address, token string) error {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return err
	}
	if err := s.confirm.Verify(token, ActionReset, address); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cur, err := s.repo.Get(ctx, address)
	if err != nil {
		return err
	}
	if cur.Persisted() {
		err = s.repo.Delete(ctx, address, cur.Version, &domain.LedgerEntry{
			Operation: domain.OpReset,
			GoldDelta: -cur.Gold,
			Meta:      map[string]interface{}{"inventory": cur.Inventory, "has_land": cur.HasLand},
		})
		if err != nil {
			return err
		}
	}
	s.cache.Forget(address)
	logger.WithContext(ctx).Warn("player reset", "address", address, "version", cur.Version)
	return nil
}
