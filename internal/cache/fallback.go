package cache

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"idle_mining/internal/domain"
	"idle_mining/internal/repository"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultSize = 100000

	lockStripes = 256
)

// DirtyEntry is a record written while the repository was unreachable.
// BaseVersion is the repository version the degraded chain started from.
type DirtyEntry struct {
	Record      *domain.PlayerRecord  `json:"record"`
	BaseVersion int64                 `json:"base_version"`
	Pending     []*domain.LedgerEntry `json:"pending"`
	Since       time.Time             `json:"since"`
}

func (d *DirtyEntry) clone() *DirtyEntry {
	out := *d
	out.Record = d.Record.Clone()
	out.Pending = append([]*domain.LedgerEntry(nil), d.Pending...)
	return &out
}

// Fallback is the process-local store used while the repository is
// unreachable. Clean entries mirror the repository and live in a bounded
// LRU; dirty entries are kept apart and are never evicted.
//
// Nothing here is written back automatically. Dirty entries stay until an
// operator reconciles or discards them.
type Fallback struct {
	catalog domain.Catalog
	now     func() time.Time

	clean *lru.Cache[string, *domain.PlayerRecord]

	mu    sync.RWMutex
	dirty map[string]*DirtyEntry

	stripes [lockStripes]sync.Mutex
}

var _ repository.Store = (*Fallback)(nil)

// New returns a cache holding at most size clean records
func New(size int, catalog domain.Catalog) (*Fallback, error) {
	if size <= 0 {
		size = DefaultSize
	}
	clean, err := lru.New[string, *domain.PlayerRecord](size)
	if err != nil {
		return nil, err
	}
	return &Fallback{
		catalog: catalog,
		now:     time.Now,
		clean:   clean,
		dirty:   make(map[string]*DirtyEntry),
	}, nil
}

func (f *Fallback) lock(address string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(address))
	m := &f.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func (f *Fallback) lookup(address string) (*domain.PlayerRecord, *DirtyEntry) {
	f.mu.RLock()
	d, ok := f.dirty[address]
	f.mu.RUnlock()
	if ok {
		return d.Record, d
	}
	if rec, ok := f.clean.Get(address); ok {
		return rec, nil
	}
	return nil, nil
}

// Get returns the cached record, or a zero record when nothing is cached
func (f *Fallback) Get(_ context.Context, address string) (*domain.PlayerRecord, error) {
	rec, _ := f.lookup(address)
	if rec == nil {
		return domain.NewPlayerRecord(address, f.now()), nil
	}
	return rec.Clone(), nil
}

// CompareAndSwap applies a degraded write. The result is dirty until
// reconciled.
func (f *Fallback) CompareAndSwap(_ context.Context, w repository.Write) (*domain.PlayerRecord, error) {
	if w.Record == nil {
		return nil, domain.ErrInvariantViolation.WithDetail("nil record")
	}
	address := w.Record.Address
	unlock := f.lock(address)
	defer unlock()

	cur, d := f.lookup(address)
	var curVersion int64
	if cur != nil {
		curVersion = cur.Version
	}
	if curVersion != w.ExpectedVersion {
		return nil, domain.ErrConflict.WithDetail("%s at version %d", address, w.ExpectedVersion)
	}

	if d != nil {
		for _, e := range w.Entries {
			if e.EventKey != "" && d.hasEvent(e.EventKey) {
				return nil, domain.ErrDuplicateReferral.WithDetail("event %s", e.EventKey)
			}
		}
	}

	next, err := repository.PrepareWrite(w, f.catalog)
	if err != nil {
		return nil, err
	}

	if d == nil {
		d = &DirtyEntry{BaseVersion: curVersion, Since: f.now().UTC()}
	} else {
		d = d.clone()
	}
	d.Record = next
	for _, e := range w.Entries {
		e.Address = address
		e.Version = next.Version
		e.CreatedAt = next.UpdatedAt
		d.Pending = append(d.Pending, e)
	}

	f.mu.Lock()
	f.dirty[address] = d
	f.mu.Unlock()
	f.clean.Remove(address)

	return next.Clone(), nil
}

func (d *DirtyEntry) hasEvent(key string) bool {
	for _, e := range d.Pending {
		if e.EventKey == key {
			return true
		}
	}
	return false
}

// Delete drops whatever the cache holds for address
func (f *Fallback) Delete(_ context.Context, address string, expectedVersion int64, _ *domain.LedgerEntry) error {
	unlock := f.lock(address)
	defer unlock()

	cur, _ := f.lookup(address)
	if cur == nil || cur.Version != expectedVersion {
		return domain.ErrConflict.WithDetail("%s at version %d", address, expectedVersion)
	}
	f.Forget(address)
	return nil
}

func (f *Fallback) List(_ context.Context, p repository.ListParams) ([]*domain.PlayerRecord, error) {
	seen := make(map[string]struct{})
	var addrs []string
	add := func(a string) {
		if a <= p.After {
			return
		}
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		addrs = append(addrs, a)
	}

	f.mu.RLock()
	for a := range f.dirty {
		add(a)
	}
	f.mu.RUnlock()
	for _, a := range f.clean.Keys() {
		add(a)
	}
	sort.Strings(addrs)

	if n := p.PageSize(); len(addrs) > n {
		addrs = addrs[:n]
	}
	res := make([]*domain.PlayerRecord, 0, len(addrs))
	for _, a := range addrs {
		if rec, _ := f.lookupQuiet(a); rec != nil {
			res = append(res, rec.Clone())
		}
	}
	return res, nil
}

// lookupQuiet is lookup without touching LRU recency
func (f *Fallback) lookupQuiet(address string) (*domain.PlayerRecord, *DirtyEntry) {
	f.mu.RLock()
	d, ok := f.dirty[address]
	f.mu.RUnlock()
	if ok {
		return d.Record, d
	}
	if rec, ok := f.clean.Peek(address); ok {
		return rec, nil
	}
	return nil, nil
}

// Ledger returns the entries pending reconciliation, newest first
func (f *Fallback) Ledger(_ context.Context, address string, limit int) ([]*domain.LedgerEntry, error) {
	d, ok := f.Dirty(address)
	if !ok {
		return nil, nil
	}
	out := make([]*domain.LedgerEntry, 0, len(d.Pending))
	for i := len(d.Pending) - 1; i >= 0; i-- {
		out = append(out, d.Pending[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Fallback) Stats(_ context.Context) (*repository.Stats, error) {
	var st repository.Stats
	f.mu.RLock()
	for _, d := range f.dirty {
		st.Add(d.Record)
	}
	f.mu.RUnlock()
	for _, a := range f.clean.Keys() {
		if f.IsDirty(a) {
			continue
		}
		if rec, ok := f.clean.Peek(a); ok {
			st.Add(rec)
		}
	}
	return &st, nil
}

func (f *Fallback) Ping(context.Context) error { return nil }

// Mirror records a repository-confirmed state. It is ignored while a dirty
// entry exists for the address, so an operator can still reconcile it, and
// when the cache already holds the same or a newer version of the record.
// A record with a different CreatedAt was recreated after a reset and
// always replaces the mirror.
func (f *Fallback) Mirror(rec *domain.PlayerRecord) {
	if rec == nil || !rec.Persisted() {
		return
	}
	unlock := f.lock(rec.Address)
	defer unlock()
	if f.IsDirty(rec.Address) {
		return
	}
	if cur, ok := f.clean.Peek(rec.Address); ok && cur.Version >= rec.Version && cur.CreatedAt.Equal(rec.CreatedAt) {
		return
	}
	f.clean.Add(rec.Address, rec.Clone())
}

// IsDirty reports whether address has an unreconciled entry
func (f *Fallback) IsDirty(address string) bool {
	f.mu.RLock()
	_, ok := f.dirty[address]
	f.mu.RUnlock()
	return ok
}

// Dirty returns a copy of the unreconciled entry for address
func (f *Fallback) Dirty(address string) (*DirtyEntry, bool) {
	f.mu.RLock()
	d, ok := f.dirty[address]
	f.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// ListDirty returns every unreconciled entry in address order
func (f *Fallback) ListDirty() []*DirtyEntry {
	f.mu.RLock()
	out := make([]*DirtyEntry, 0, len(f.dirty))
	for _, d := range f.dirty {
		out = append(out, d.clone())
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Record.Address < out[j].Record.Address })
	return out
}

// Resolve replaces the dirty entry for address with the reconciled
// repository record. It reports false if the dirty entry changed since
// the caller read it at version.
func (f *Fallback) Resolve(address string, version int64, rec *domain.PlayerRecord) bool {
	unlock := f.lock(address)
	defer unlock()

	f.mu.Lock()
	d, ok := f.dirty[address]
	if !ok || d.Record.Version != version {
		f.mu.Unlock()
		return false
	}
	delete(f.dirty, address)
	f.mu.Unlock()

	if rec != nil {
		f.clean.Add(address, rec.Clone())
	}
	return true
}

// Forget drops clean and dirty state for address
func (f *Fallback) Forget(address string) {
	unlock := f.lock(address)
	defer unlock()

	f.mu.Lock()
	delete(f.dirty, address)
	f.mu.Unlock()
	f.clean.Remove(address)
}

// Len returns the number of clean and dirty entries
func (f *Fallback) Len() (clean, dirty int) {
	f.mu.RLock()
	dirty = len(f.dirty)
	f.mu.RUnlock()
	return f.clean.Len(), dirty
}
