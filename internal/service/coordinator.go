package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"idle_mining/internal/cache"
	"idle_mining/internal/domain"
	"idle_mining/internal/logger"
	"idle_mining/internal/mining"
	"idle_mining/internal/repository"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultRepoTimeout = 2 * time.Second
	DefaultMaxRetries  = 5
	DefaultRetryDelay  = 10 * time.Millisecond

	// MaxQuantity bounds the pickaxes of one tier bought or granted in a
	// single request
	MaxQuantity int64 = 1_000_000

	paymentTolerance = 1e-9
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SaleHook is called once a sale is durably committed. The payout is in
// the external currency.
type SaleHook func(ctx context.Context, address string, amount, payout float64)

// Options tunes a Coordinator. Zero values fall back to defaults.
type Options struct {
	RepoTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Clock       Clock
	OnSale      SaleHook
}

// Result is the outcome of one economic operation
type Result struct {
	Record *domain.PlayerRecord `json:"record"`
	// Degraded is set when the write went to the fallback cache only
	Degraded bool `json:"degraded"`
	// Unreconciled is set when the repository answered but the cache still
	// holds degraded writes for the address that were never merged
	Unreconciled bool    `json:"unreconciled,omitempty"`
	Noop         bool    `json:"noop,omitempty"`
	Payout       float64 `json:"payout,omitempty"`
}

// Coordinator runs economic operations as read, accrue, validate, mutate and
// compare-and-swap, falling back to the cache while the repository is down.
type Coordinator struct {
	repo    repository.Store
	cache   *cache.Fallback
	catalog domain.Catalog

	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	clock      Clock
	onSale     SaleHook
}

func NewCoordinator(repo repository.Store, fallback *cache.Fallback, catalog domain.Catalog, opts Options) *Coordinator {
	c := &Coordinator{
		repo:       repo,
		cache:      fallback,
		catalog:    catalog,
		timeout:    opts.RepoTimeout,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		clock:      opts.Clock,
		onSale:     opts.OnSale,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRepoTimeout
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	return c
}

// Catalog returns the economy configuration the coordinator prices with
func (c *Coordinator) Catalog() domain.Catalog {
	return c.catalog
}

// Get returns the record for address accrued to now without writing it.
// Reads fall back to the cache when the repository is unavailable.
func (c *Coordinator) Get(ctx context.Context, address string) (*Result, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	degraded := false
	rec, err := c.get(ctx, false, address)
	if errors.Is(err, domain.ErrStorageUnavailable) && ctx.Err() == nil {
		logger.WithContext(ctx).Warn("repository unavailable, reading fallback cache", "address", address, "error", err)
		degraded = true
		rec, err = c.get(ctx, true, address)
	}
	if err != nil {
		return nil, err
	}

	now := c.now()
	if !rec.Persisted() {
		rec = domain.NewPlayerRecord(address, now)
	}
	return &Result{
		Record:       mining.Accrue(rec, now),
		Degraded:     degraded,
		Unreconciled: !degraded && c.cache.IsDirty(address),
	}, nil
}

// errNoop aborts an operation that has nothing to write
var errNoop = errors.New("noop")

// mutation changes next in place and describes the change. rec is the
// record as read. Returning errNoop ends the operation without a write.
type mutation func(rec, next *domain.PlayerRecord, now time.Time) (*domain.LedgerEntry, error)

type request struct {
	op      domain.Operation
	address string
	// at caps the accrual time; zero means the clock
	at time.Time
	// durable refuses to complete the operation in degraded mode
	durable bool
	mutate  mutation
}

// Heartbeat accrues gold up to at and records activity. A zero at means now;
// a future at is clamped to now and a past one never moves accrual back.
func (c *Coordinator) Heartbeat(ctx context.Context, address string, at time.Time) (*Result, error) {
	return c.execute(ctx, request{
		op:      domain.OpHeartbeat,
		address: address,
		at:      at,
		mutate: func(rec, next *domain.PlayerRecord, _ time.Time) (*domain.LedgerEntry, error) {
			if rec.Persisted() && !next.LastAccrualTime.After(rec.LastAccrualTime) && next.LastActivity.Equal(rec.LastActivity) {
				return nil, errNoop
			}
			return &domain.LedgerEntry{Operation: domain.OpHeartbeat}, nil
		},
	})
}

// PurchasePickaxe adds quantity pickaxes of tier. cost is the externally
// verified payment and must cover the catalog price.
func (c *Coordinator) PurchasePickaxe(ctx context.Context, address string, tier domain.Tier, quantity int64, cost float64) (*Result, error) {
	t, ok := c.catalog.Lookup(tier)
	if !ok {
		return nil, domain.ErrUnknownTier.WithDetail("%q", tier)
	}
	if quantity <= 0 || quantity > MaxQuantity {
		return nil, domain.ErrInvalidQuantity.WithDetail("got %d, limit %d", quantity, MaxQuantity)
	}
	price := t.Cost * float64(quantity)
	if math.IsNaN(cost) || cost < price-paymentTolerance {
		return nil, domain.ErrUnderpaid.WithDetail("paid %v, price %v", cost, price)
	}

	return c.execute(ctx, request{
		op:      domain.OpPurchase,
		address: address,
		mutate: func(_, next *domain.PlayerRecord, _ time.Time) (*domain.LedgerEntry, error) {
			if quantity > math.MaxInt64-next.Inventory[tier] {
				return nil, domain.ErrInvalidQuantity.WithDetail("%s count %d cannot grow by %d", tier, next.Inventory[tier], quantity)
			}
			next.Inventory[tier] += quantity
			return &domain.LedgerEntry{
				Operation: domain.OpPurchase,
				Pickaxes:  domain.Inventory{tier: quantity},
				Meta:      map[string]interface{}{"tier": string(tier), "quantity": quantity, "cost": cost},
			}, nil
		},
	})
}

// SellCurrency converts amount gold into the external currency. It needs
// land and enough balance. The payout leaves the system through OnSale, so
// a sale is only completed by a durable repository commit: while the
// repository is unavailable it fails with domain.ErrStorageUnavailable
// instead of writing to the fallback cache.
func (c *Coordinator) SellCurrency(ctx context.Context, address string, amount float64) (*Result, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, domain.ErrInvalidAmount.WithDetail("%v", amount)
	}
	if amount < c.catalog.MinSellThreshold {
		return nil, domain.ErrBelowMinimum.WithDetail("%v < %v", amount, c.catalog.MinSellThreshold)
	}
	payout := amount * c.catalog.ExchangeRate

	res, err := c.execute(ctx, request{
		op:      domain.OpSell,
		address: address,
		durable: true,
		mutate: func(_, next *domain.PlayerRecord, _ time.Time) (*domain.LedgerEntry, error) {
			if !next.HasLand {
				return nil, domain.ErrLandRequired
			}
			if next.Gold < amount {
				return nil, domain.ErrInsufficientBalance.WithDetail("balance %v, requested %v", next.Gold, amount)
			}
			next.Gold -= amount
			return &domain.LedgerEntry{
				Operation: domain.OpSell,
				Meta:      map[string]interface{}{"amount": amount, "payout": payout},
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	res.Payout = payout
	if c.onSale != nil {
		c.onSale(ctx, res.Record.Address, amount, payout)
	}
	return res, nil
}

// GrantLand marks the land purchase. Granting owned land is a no-op.
func (c *Coordinator) GrantLand(ctx context.Context, address string) (*Result, error) {
	return c.execute(ctx, request{
		op:      domain.OpGrantLand,
		address: address,
		mutate: func(rec, next *domain.PlayerRecord, now time.Time) (*domain.LedgerEntry, error) {
			if rec.HasLand {
				return nil, errNoop
			}
			next.HasLand = true
			next.LandPurchaseDate = &now
			return &domain.LedgerEntry{Operation: domain.OpGrantLand}, nil
		},
	})
}

// CreditReferral applies reward once per eventKey
func (c *Coordinator) CreditReferral(ctx context.Context, address, eventKey string, reward domain.ReferralReward) (*Result, error) {
	eventKey = strings.TrimSpace(eventKey)
	if eventKey == "" {
		return nil, domain.ErrInvalidReward.WithDetail("missing event key")
	}
	if math.IsNaN(reward.Gold) || math.IsInf(reward.Gold, 0) || reward.Gold < 0 {
		return nil, domain.ErrInvalidReward.WithDetail("gold %v", reward.Gold)
	}
	for t, n := range reward.Pickaxes {
		if _, ok := c.catalog.Lookup(t); !ok {
			return nil, domain.ErrUnknownTier.WithDetail("%q", t)
		}
		if n < 0 || n > MaxQuantity {
			return nil, domain.ErrInvalidReward.WithDetail("%s count %d, limit %d", t, n, MaxQuantity)
		}
	}

	return c.execute(ctx, request{
		op:      domain.OpReferral,
		address: address,
		mutate: func(_, next *domain.PlayerRecord, _ time.Time) (*domain.LedgerEntry, error) {
			gold := next.Gold + reward.Gold
			if math.IsInf(gold, 0) {
				return nil, domain.ErrInvalidReward.WithDetail("gold %v overflows balance %v", reward.Gold, next.Gold)
			}
			for t, n := range reward.Pickaxes {
				if n > math.MaxInt64-next.Inventory[t] {
					return nil, domain.ErrInvalidReward.WithDetail("%s count %d cannot grow by %d", t, next.Inventory[t], n)
				}
			}
			next.Gold = gold
			for t, n := range reward.Pickaxes {
				next.Inventory[t] += n
			}
			next.TotalReferrals++
			return &domain.LedgerEntry{
				Operation: domain.OpReferral,
				EventKey:  eventKey,
				Pickaxes:  reward.Pickaxes.Clone(),
			}, nil
		},
	})
}

// execute runs req with bounded retry on conflict
func (c *Coordinator) execute(ctx context.Context, req request) (*Result, error) {
	address, err := domain.NormalizeAddress(req.address)
	if err != nil {
		c.observe(req.op, nil, err)
		return nil, err
	}
	req.address = address
	ctx = logger.NewContext(ctx, "address", address, "op", string(req.op))

	var (
		res      *Result
		degraded bool
	)
	operation := func() error {
		var err error
		res, err = c.attempt(ctx, req, degraded)
		if err != nil && !degraded && errors.Is(err, domain.ErrStorageUnavailable) && ctx.Err() == nil {
			if req.durable {
				return backoff.Permanent(err)
			}
			logger.WithContext(ctx).Warn("repository unavailable, using fallback cache", "error", err)
			degraded = true
			res, err = c.attempt(ctx, req, degraded)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrConflict) {
			CASConflicts.WithLabelValues(string(req.op)).Inc()
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.maxRetries)), ctx)
	err = backoff.RetryNotify(operation, b, func(err error, next time.Duration) {
		logger.WithContext(ctx).Debug("compare and swap lost, retrying", "error", err, "next_retry_in", next)
	})
	c.observe(req.op, res, err)
	if err != nil {
		if domain.KindOf(err) == domain.KindInvariant {
			logger.WithContext(ctx).Error("invariant violation", "error", err)
		}
		return nil, err
	}
	return res, nil
}

// attempt performs one read-mutate-write cycle against the repository, or
// against the cache when degraded is set.
func (c *Coordinator) attempt(ctx context.Context, req request, degraded bool) (*Result, error) {
	if degraded && req.durable {
		return nil, domain.ErrStorageUnavailable.WithDetail("%s needs a durable write", req.op)
	}

	rec, err := c.get(ctx, degraded, req.address)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if !rec.Persisted() {
		rec = domain.NewPlayerRecord(req.address, now)
	}
	if !req.at.IsZero() && req.at.UTC().Before(now) {
		now = req.at.UTC().Truncate(time.Microsecond)
	}

	next := mining.Accrue(rec, now)
	if next == rec {
		next = rec.Clone()
	}
	if now.After(next.LastActivity) {
		next.LastActivity = now
	}

	entry, err := req.mutate(rec, next, now)
	if errors.Is(err, errNoop) {
		return &Result{
			Record:       rec,
			Degraded:     degraded,
			Unreconciled: !degraded && c.cache.IsDirty(req.address),
			Noop:         true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	mining.Refresh(next, c.catalog)
	next.UpdatedAt = c.now()
	entry.GoldDelta = next.Gold - rec.Gold

	stored, err := c.put(ctx, degraded, repository.Write{
		Record:          next,
		ExpectedVersion: rec.Version,
		Entries:         []*domain.LedgerEntry{entry},
	})
	if err != nil {
		return nil, err
	}

	if degraded {
		DegradedWrites.WithLabelValues(string(req.op)).Inc()
		_, dirty := c.cache.Len()
		UnreconciledEntries.Set(float64(dirty))
		return &Result{Record: stored, Degraded: true}, nil
	}
	c.cache.Mirror(stored)
	return &Result{Record: stored, Unreconciled: c.cache.IsDirty(req.address)}, nil
}

func (c *Coordinator) get(ctx context.Context, degraded bool, address string) (*domain.PlayerRecord, error) {
	if degraded {
		return c.cache.Get(ctx, address)
	}
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rec, err := c.repo.Get(rctx, address)
	if err != nil {
		return nil, c.unavailable(ctx, "get", err)
	}
	c.cache.Mirror(rec)
	return rec, nil
}

func (c *Coordinator) put(ctx context.Context, degraded bool, w repository.Write) (*domain.PlayerRecord, error) {
	if degraded {
		return c.cache.CompareAndSwap(ctx, w)
	}
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rec, err := c.repo.CompareAndSwap(rctx, w)
	if err != nil {
		return nil, c.unavailable(ctx, "compare and swap", err)
	}
	return rec, nil
}

// unavailable turns an expired repository deadline into a storage error
// unless the caller's own context is done.
func (c *Coordinator) unavailable(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrStorageUnavailable) {
		return domain.Unavailable(op, err)
	}
	return err
}

func (c *Coordinator) now() time.Time {
	return c.clock.Now().UTC().Truncate(time.Microsecond)
}

func (c *Coordinator) observe(op domain.Operation, res *Result, err error) {
	outcome := "ok"
	switch {
	case err == nil && res.Noop:
		outcome = "noop"
	case err == nil && res.Degraded:
		outcome = "degraded"
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		outcome = "conflict"
	case domain.KindOf(err) == domain.KindValidation, domain.KindOf(err) == domain.KindPrecondition:
		outcome = "rejected"
	default:
		outcome = "error"
	}
	OperationsTotal.WithLabelValues(string(op), outcome).Inc()
}
