package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"idle_mining/internal/cache"
	"idle_mining/internal/domain"
	"idle_mining/internal/repository"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStore is a mock implementation of repository.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, address string) (*domain.PlayerRecord, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PlayerRecord), args.Error(1)
}

func (m *MockStore) CompareAndSwap(ctx context.Context, w repository.Write) (*domain.PlayerRecord, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PlayerRecord), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, address string, expectedVersion int64, entry *domain.LedgerEntry) error {
	args := m.Called(ctx, address, expectedVersion, entry)
	return args.Error(0)
}

func (m *MockStore) List(ctx context.Context, p repository.ListParams) ([]*domain.PlayerRecord, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PlayerRecord), args.Error(1)
}

func (m *MockStore) Ledger(ctx context.Context, address string, limit int) ([]*domain.LedgerEntry, error) {
	args := m.Called(ctx, address, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LedgerEntry), args.Error(1)
}

func (m *MockStore) Stats(ctx context.Context) (*repository.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Stats), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// flakyStore passes through to a working store until taken down
type flakyStore struct {
	repository.Store
	down atomic.Bool
}

func (f *flakyStore) Get(ctx context.Context, address string) (*domain.PlayerRecord, error) {
	if f.down.Load() {
		return nil, domain.Unavailable("get player", context.DeadlineExceeded)
	}
	return f.Store.Get(ctx, address)
}

func (f *flakyStore) CompareAndSwap(ctx context.Context, w repository.Write) (*domain.PlayerRecord, error) {
	if f.down.Load() {
		return nil, domain.Unavailable("compare and swap", context.DeadlineExceeded)
	}
	return f.Store.CompareAndSwap(ctx, w)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const testAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo     *flakyStore
	fallback *cache.Fallback
	clock    *fakeClock
	coord    *Coordinator
}

// newFixture wires a coordinator whose repository is an in-memory store
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	catalog := domain.DefaultCatalog()

	mem, err := cache.New(1000, catalog)
	require.NoError(t, err)
	fallback, err := cache.New(1000, catalog)
	require.NoError(t, err)

	f := &fixture{
		repo:     &flakyStore{Store: mem},
		fallback: fallback,
		clock:    &fakeClock{now: epoch},
	}
	opts.Clock = f.clock
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	f.coord = NewCoordinator(f.repo, fallback, catalog, opts)
	return f
}
