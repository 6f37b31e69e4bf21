package mining

import (
	"time"

	"idle_mining/internal/domain"
)

// Power returns the gold generated per second by inv under catalog c.
// Tiers missing from the catalog contribute nothing.
func Power(inv domain.Inventory, c domain.Catalog) float64 {
	var power float64
	for _, t := range domain.Tiers {
		n := inv.Count(t)
		if n <= 0 {
			continue
		}
		tier, ok := c.Lookup(t)
		if !ok {
			continue
		}
		power += float64(n) * tier.RatePerSecond
	}
	return power
}

// Earned returns the gold produced by power over elapsed. Non-positive
// durations produce nothing.
func Earned(power float64, elapsed time.Duration) float64 {
	if elapsed <= 0 || power <= 0 {
		return 0
	}
	return elapsed.Seconds() * power
}

// Accrue brings rec up to now and returns the result as a new record.
// When now is not after the last accrual the input is returned unchanged,
// so duplicate or reordered heartbeats never pay twice or move time back.
//
// Accrual does not look at land ownership: land only gates selling.
func Accrue(rec *domain.PlayerRecord, now time.Time) *domain.PlayerRecord {
	elapsed := now.Sub(rec.LastAccrualTime)
	if elapsed <= 0 {
		return rec
	}
	out := rec.Clone()
	out.Gold += Earned(rec.MiningPower, elapsed)
	out.LastAccrualTime = now.UTC()
	return out
}

// Refresh recomputes the derived mining power of rec from its inventory
func Refresh(rec *domain.PlayerRecord, c domain.Catalog) {
	rec.MiningPower = Power(rec.Inventory, c)
}
