package service

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"idle_mining/internal/cache"
	"idle_mining/internal/domain"
	"idle_mining/internal/mining"
	"idle_mining/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewPlayerLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	res, err := f.coord.Heartbeat(ctx, testAddr, time.Time{})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, int64(1), res.Record.Version)
	assert.Equal(t, 0.0, res.Record.Gold)
	assert.Equal(t, 0.0, res.Record.MiningPower)
	assert.Equal(t, epoch, res.Record.CreatedAt)

	res, err = f.coord.PurchasePickaxe(ctx, testAddr, domain.TierSilver, 1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Record.Inventory.Count(domain.TierSilver))
	assert.InDelta(t, 1.0/60, res.Record.MiningPower, 1e-12)

	f.clock.Advance(60 * time.Second)
	res, err = f.coord.Heartbeat(ctx, testAddr, time.Time{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Record.Gold, 1e-9)
	assert.Equal(t, epoch.Add(60*time.Second), res.Record.LastAccrualTime)

	res, err = f.coord.GrantLand(ctx, testAddr)
	require.NoError(t, err)
	assert.True(t, res.Record.HasLand)

	_, err = f.coord.SellCurrency(ctx, testAddr, 1)
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)

	ledger, err := f.repo.Ledger(ctx, testAddr, 10)
	require.NoError(t, err)
	require.Len(t, ledger, 4)
	assert.Equal(t, domain.OpGrantLand, ledger[0].Operation)
	assert.Equal(t, domain.OpHeartbeat, ledger[1].Operation)
	assert.InDelta(t, 1.0, ledger[1].GoldDelta, 1e-9)
}

func TestAddressIsNormalized(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.coord.Heartbeat(context.Background(), "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, testAddr, res.Record.Address)

	_, err = f.coord.Heartbeat(context.Background(), "not-a-wallet", time.Time{})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestHeartbeatClampsTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.coord.PurchasePickaxe(ctx, testAddr, domain.TierGold, 1, 0.5)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)

	res, err := f.coord.Heartbeat(ctx, testAddr, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(10*time.Second), res.Record.LastAccrualTime, "future time is clamped to now")
	gold := res.Record.Gold

	res, err = f.coord.Heartbeat(ctx, testAddr, epoch)
	require.NoError(t, err)
	assert.True(t, res.Noop, "stale heartbeat writes nothing")
	assert.Equal(t, gold, res.Record.Gold)
	assert.Equal(t, epoch.Add(10*time.Second), res.Record.LastAccrualTime)
}

func TestPurchaseValidation(t *testing.T) {
	store := new(MockStore)
	fallback, err := cache.New(10, domain.DefaultCatalog())
	require.NoError(t, err)
	c := NewCoordinator(store, fallback, domain.DefaultCatalog(), Options{})
	ctx := context.Background()

	_, err = c.PurchasePickaxe(ctx, testAddr, "wood", 1, 10)
	assert.ErrorIs(t, err, domain.ErrUnknownTier)

	_, err = c.PurchasePickaxe(ctx, testAddr, domain.TierSilver, 0, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = c.PurchasePickaxe(ctx, testAddr, domain.TierSilver, math.MaxInt64, 1e19)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = c.PurchasePickaxe(ctx, testAddr, domain.TierSilver, MaxQuantity+1, 1e6)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = c.PurchasePickaxe(ctx, testAddr, domain.TierNetherite, 2, 5)
	assert.ErrorIs(t, err, domain.ErrUnderpaid)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "CompareAndSwap", mock.Anything, mock.Anything)
}

func TestInventoryNeverOverflows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	catalog := domain.DefaultCatalog()

	seed := domain.NewPlayerRecord(testAddr, epoch)
	seed.Inventory[domain.TierSilver] = math.MaxInt64 - 5
	mining.Refresh(seed, catalog)
	_, err := f.repo.CompareAndSwap(ctx, repository.Write{Record: seed})
	require.NoError(t, err)

	_, err = f.coord.PurchasePickaxe(ctx, testAddr, domain.TierSilver, 10, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.coord.CreditReferral(ctx, testAddr, "ref-overflow",
		domain.ReferralReward{Pickaxes: domain.Inventory{domain.TierSilver: 10}})
	assert.ErrorIs(t, err, domain.ErrInvalidReward)

	rec, err := f.repo.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, int64(math.MaxInt64-5), rec.Inventory.Count(domain.TierSilver))

	res, err := f.coord.PurchasePickaxe(ctx, testAddr, domain.TierSilver, 5, 0.5)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), res.Record.Inventory.Count(domain.TierSilver))
}

func TestReferralGoldNeverOverflows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.coord.CreditReferral(ctx, testAddr, "ref-1", domain.ReferralReward{Gold: math.MaxFloat64})
	require.NoError(t, err)

	_, err = f.coord.CreditReferral(ctx, testAddr, "ref-2", domain.ReferralReward{Gold: math.MaxFloat64})
	assert.ErrorIs(t, err, domain.ErrInvalidReward)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.coord.CreditReferral(ctx, testAddr, "ref-3", domain.ReferralReward{Gold: math.Inf(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidReward)
	_, err = f.coord.CreditReferral(ctx, testAddr, "ref-3",
		domain.ReferralReward{Pickaxes: domain.Inventory{domain.TierGold: MaxQuantity + 1}})
	assert.ErrorIs(t, err, domain.ErrInvalidReward)

	rec, err := f.repo.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, math.MaxFloat64, rec.Gold)
	assert.Equal(t, int64(1), rec.TotalReferrals)
}

func TestSellNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.coord.CreditReferral(ctx, testAddr, "ref-seed", domain.ReferralReward{Gold: 15000})
	require.NoError(t, err)

	_, err = f.coord.SellCurrency(ctx, testAddr, 12000)
	assert.ErrorIs(t, err, domain.ErrLandRequired)

	_, err = f.coord.GrantLand(ctx, testAddr)
	require.NoError(t, err)

	_, err = f.coord.SellCurrency(ctx, testAddr, 20000)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.KindPrecondition, domain.KindOf(err))

	rec, err := f.repo.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, 15000.0, rec.Gold)
}

func TestSellPaysOutAfterCommit(t *testing.T) {
	ctx := context.Background()
	var paid []float64
	f := newFixture(t, Options{OnSale: func(_ context.Context, address string, amount, payout float64) {
		assert.Equal(t, testAddr, address)
		paid = append(paid, payout)
	}})

	_, err := f.coord.CreditReferral(ctx, testAddr, "ref-seed", domain.ReferralReward{Gold: 30000})
	require.NoError(t, err)
	_, err = f.coord.GrantLand(ctx, testAddr)
	require.NoError(t, err)

	res, err := f.coord.SellCurrency(ctx, testAddr, 20000)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, res.Record.Gold)
	assert.InDelta(t, 0.02, res.Payout, 1e-12)
	assert.Equal(t, []float64{res.Payout}, paid)

	f.repo.down.Store(true)
	_, err = f.coord.SellCurrency(ctx, testAddr, 10000)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Len(t, paid, 1, "no payout without a durable write")
	assert.False(t, f.fallback.IsDirty(testAddr))
}

func TestGrantLandIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	first, err := f.coord.GrantLand(ctx, testAddr)
	require.NoError(t, err)
	require.NotNil(t, first.Record.LandPurchaseDate)

	f.clock.Advance(time.Hour)
	second, err := f.coord.GrantLand(ctx, testAddr)
	require.NoError(t, err)
	assert.True(t, second.Noop)
	assert.True(t, second.Record.HasLand)
	assert.Equal(t, *first.Record.LandPurchaseDate, *second.Record.LandPurchaseDate)
	assert.Equal(t, first.Record.Version, second.Record.Version)
}

func TestCreditReferralOncePerEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	reward := domain.ReferralReward{Gold: 100, Pickaxes: domain.Inventory{domain.TierDiamond: 1}}

	res, err := f.coord.CreditReferral(ctx, testAddr, "invite-42", reward)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Record.Gold)
	assert.Equal(t, int64(1), res.Record.TotalReferrals)
	assert.Equal(t, int64(1), res.Record.Inventory.Count(domain.TierDiamond))
	assert.InDelta(t, 15.0/60, res.Record.MiningPower, 1e-12)

	_, err = f.coord.CreditReferral(ctx, testAddr, "invite-42", reward)
	assert.ErrorIs(t, err, domain.ErrDuplicateReferral)

	rec, err := f.repo.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.TotalReferrals)

	_, err = f.coord.CreditReferral(ctx, testAddr, "  ", reward)
	assert.ErrorIs(t, err, domain.ErrInvalidReward)
	_, err = f.coord.CreditReferral(ctx, testAddr, "invite-43", domain.ReferralReward{Gold: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidReward)
	_, err = f.coord.CreditReferral(ctx, testAddr, "invite-43", domain.ReferralReward{Pickaxes: domain.Inventory{"wood": 1}})
	assert.ErrorIs(t, err, domain.ErrUnknownTier)
}

func TestConcurrentPurchasesLoseNoUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxRetries: 200})

	const workers = 24
	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(qty int64) {
			defer wg.Done()
			if _, err := f.coord.PurchasePickaxe(ctx, testAddr, domain.TierSilver, qty, 0.1*float64(qty)); err == nil {
				accepted.Add(qty)
			}
		}(int64(i%3 + 1))
	}
	wg.Wait()

	rec, err := f.repo.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, accepted.Load(), rec.Inventory.Count(domain.TierSilver))
	assert.Positive(t, accepted.Load())
}

func TestConflictSurfacesAfterRetries(t *testing.T) {
	store := new(MockStore)
	fallback, err := cache.New(10, domain.DefaultCatalog())
	require.NoError(t, err)
	c := NewCoordinator(store, fallback, domain.DefaultCatalog(), Options{MaxRetries: 3, RetryDelay: time.Millisecond})

	store.On("Get", mock.Anything, testAddr).Return(domain.NewPlayerRecord(testAddr, epoch), nil)
	store.On("CompareAndSwap", mock.Anything, mock.AnythingOfType("repository.Write")).Return(nil, domain.ErrConflict)

	_, err = c.GrantLand(context.Background(), testAddr)
	assert.ErrorIs(t, err, domain.ErrConflict)
	store.AssertNumberOfCalls(t, "CompareAndSwap", 4)
	assert.False(t, fallback.IsDirty(testAddr), "conflicts are not degraded writes")
}

func TestRepositoryTimeoutDegrades(t *testing.T) {
	store := new(MockStore)
	fallback, err := cache.New(10, domain.DefaultCatalog())
	require.NoError(t, err)
	c := NewCoordinator(store, fallback, domain.DefaultCatalog(), Options{RepoTimeout: 20 * time.Millisecond})

	store.On("Get", mock.Anything, testAddr).Return(nil, context.DeadlineExceeded).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	})

	start := time.Now()
	res, err := c.PurchasePickaxe(context.Background(), testAddr, domain.TierGold, 2, 1)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.Degraded)
	assert.Equal(t, int64(2), res.Record.Inventory.Count(domain.TierGold))
	assert.True(t, fallback.IsDirty(testAddr))
	store.AssertNotCalled(t, "CompareAndSwap", mock.Anything, mock.Anything)
}

func TestCallerCancellationIsNotDegraded(t *testing.T) {
	store := new(MockStore)
	fallback, err := cache.New(10, domain.DefaultCatalog())
	require.NoError(t, err)
	c := NewCoordinator(store, fallback, domain.DefaultCatalog(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store.On("Get", mock.Anything, testAddr).Return(nil, context.Canceled)

	_, err = c.GrantLand(ctx, testAddr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, fallback.IsDirty(testAddr))
}

func TestInvariantViolationIsNotRetried(t *testing.T) {
	store := new(MockStore)
	fallback, err := cache.New(10, domain.DefaultCatalog())
	require.NoError(t, err)
	c := NewCoordinator(store, fallback, domain.DefaultCatalog(), Options{})

	store.On("Get", mock.Anything, testAddr).Return(domain.NewPlayerRecord(testAddr, epoch), nil)
	store.On("CompareAndSwap", mock.Anything, mock.Anything).Return(nil, domain.ErrInvariantViolation.WithDetail("constraint"))

	_, err = c.GrantLand(context.Background(), testAddr)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	store.AssertNumberOfCalls(t, "CompareAndSwap", 1)
}

func TestDegradedWritesStayFlagged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.coord.Heartbeat(ctx, testAddr, time.Time{})
	require.NoError(t, err)

	f.repo.down.Store(true)
	res, err := f.coord.PurchasePickaxe(ctx, testAddr, domain.TierSilver, 3, 0.3)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, int64(3), res.Record.Inventory.Count(domain.TierSilver))

	f.repo.down.Store(false)
	f.clock.Advance(time.Minute)
	res, err = f.coord.Heartbeat(ctx, testAddr, time.Time{})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.True(t, res.Unreconciled)
	assert.Equal(t, int64(0), res.Record.Inventory.Count(domain.TierSilver), "degraded write is not merged")

	d, ok := f.fallback.Dirty(testAddr)
	require.True(t, ok)
	assert.Equal(t, int64(3), d.Record.Inventory.Count(domain.TierSilver))
	assert.Equal(t, int64(1), d.BaseVersion)

	cached, err := f.fallback.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cached.Inventory.Count(domain.TierSilver), "repository results do not overwrite dirty entries")
}

func TestResultFlagsOnCleanWrite(t *testing.T) {
	f := newFixture(t, Options{})
	res, err := f.coord.GrantLand(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Equal(t, Result{Record: res.Record}, *res)

	mirrored, err := f.fallback.Get(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Equal(t, res.Record.Version, mirrored.Version)
}

var _ repository.Store = (*MockStore)(nil)

func TestGetProjectsAccrualWithoutWriting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	res, err := f.coord.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.False(t, res.Record.Persisted())

	_, err = f.coord.PurchasePickaxe(ctx, testAddr, domain.TierNetherite, 1, 5)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Second)

	res, err = f.coord.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, res.Record.Gold, 1e-9)

	stored, err := f.repo.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, 0.0, stored.Gold)

	f.repo.down.Store(true)
	res, err = f.coord.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, int64(1), res.Record.Inventory.Count(domain.TierNetherite))
}
