package domain

import (
	"math"
	"time"
)

// Tier is a pickaxe class
type Tier string

const (
	TierSilver    Tier = "silver"
	TierGold      Tier = "gold"
	TierDiamond   Tier = "diamond"
	TierNetherite Tier = "netherite"
)

// Tiers lists every tier in catalog order
var Tiers = []Tier{TierSilver, TierGold, TierDiamond, TierNetherite}

// Valid reports whether t is one of the four known tiers
func (t Tier) Valid() bool {
	switch t {
	case TierSilver, TierGold, TierDiamond, TierNetherite:
		return true
	}
	return false
}

// Inventory maps a tier to the number of pickaxes owned
type Inventory map[Tier]int64

// Clone returns a copy that can be mutated independently
func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	for t, n := range inv {
		out[t] = n
	}
	return out
}

// Count returns the number of pickaxes of tier t
func (inv Inventory) Count(t Tier) int64 {
	if inv == nil {
		return 0
	}
	return inv[t]
}

// Total returns the number of pickaxes across all tiers
func (inv Inventory) Total() int64 {
	var total int64
	for _, n := range inv {
		total += n
	}
	return total
}

// PlayerRecord is the full economic state of one wallet
type PlayerRecord struct {
	Address          string     `db:"address" json:"address"`
	Inventory        Inventory  `db:"inventory" json:"inventory"`
	Gold             float64    `db:"gold" json:"gold"`
	MiningPower      float64    `db:"mining_power" json:"mining_power"`
	HasLand          bool       `db:"has_land" json:"has_land"`
	LandPurchaseDate *time.Time `db:"land_purchase_date" json:"land_purchase_date,omitempty"`
	LastActivity     time.Time  `db:"last_activity" json:"last_activity"`
	LastAccrualTime  time.Time  `db:"last_accrual_time" json:"last_accrual_time"`
	TotalReferrals   int64      `db:"total_referrals" json:"total_referrals"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`

	// Version is the optimistic concurrency token. Zero means the record
	// has never been persisted.
	Version int64 `db:"version" json:"version"`
}

// NewPlayerRecord returns the zero record created on first contact
func NewPlayerRecord(address string, now time.Time) *PlayerRecord {
	now = now.UTC()
	inv := make(Inventory, len(Tiers))
	for _, t := range Tiers {
		inv[t] = 0
	}
	return &PlayerRecord{
		Address:         address,
		Inventory:       inv,
		LastActivity:    now,
		LastAccrualTime: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy of the record
func (r *PlayerRecord) Clone() *PlayerRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Inventory = r.Inventory.Clone()
	if r.LandPurchaseDate != nil {
		d := *r.LandPurchaseDate
		out.LandPurchaseDate = &d
	}
	return &out
}

// Persisted reports whether the record exists in a store
func (r *PlayerRecord) Persisted() bool {
	return r.Version > 0
}

// powerTolerance absorbs float drift between a stored mining power and a
// freshly computed one.
const powerTolerance = 1e-9

// ValidateRecord checks the invariants every stored record must hold.
// expectedPower is the mining power recomputed from the inventory.
func ValidateRecord(r *PlayerRecord, expectedPower float64) error {
	if r == nil {
		return ErrInvariantViolation.WithDetail("nil record")
	}
	if r.Address == "" {
		return ErrInvariantViolation.WithDetail("empty address")
	}
	for t, n := range r.Inventory {
		if !t.Valid() {
			return ErrInvariantViolation.WithDetail("unknown tier %q in inventory", t)
		}
		if n < 0 {
			return ErrInvariantViolation.WithDetail("negative %s count %d", t, n)
		}
	}
	if r.Gold < 0 || math.IsNaN(r.Gold) || math.IsInf(r.Gold, 0) {
		return ErrInvariantViolation.WithDetail("gold balance %v", r.Gold)
	}
	if r.TotalReferrals < 0 {
		return ErrInvariantViolation.WithDetail("negative referral count %d", r.TotalReferrals)
	}
	if math.Abs(r.MiningPower-expectedPower) > powerTolerance {
		return ErrInvariantViolation.WithDetail("mining power %v does not match inventory (%v)", r.MiningPower, expectedPower)
	}
	if r.HasLand && r.LandPurchaseDate == nil {
		return ErrInvariantViolation.WithDetail("land owned without purchase date")
	}
	if !r.HasLand && r.LandPurchaseDate != nil {
		return ErrInvariantViolation.WithDetail("purchase date set without land")
	}
	return nil
}
