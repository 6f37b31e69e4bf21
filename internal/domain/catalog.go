package domain

// PickaxeTier is the static catalog entry of one tier
type PickaxeTier struct {
	DisplayName   string  `json:"display_name"`
	Cost          float64 `json:"cost"` // in the external (wallet) currency
	RatePerSecond float64 `json:"rate_per_second"`
}

// Catalog is the read-only economy configuration
type Catalog struct {
	Tiers            map[Tier]PickaxeTier `json:"tiers"`
	MinSellThreshold float64              `json:"min_sell_threshold"`
	ExchangeRate     float64              `json:"exchange_rate"` // external currency per unit of gold sold
}

// DefaultCatalog returns the built-in economy used when no override is supplied
func DefaultCatalog() Catalog {
	return Catalog{
		Tiers: map[Tier]PickaxeTier{
			TierSilver:    {DisplayName: "Silver Pickaxe", Cost: 0.1, RatePerSecond: 1.0 / 60},
			TierGold:      {DisplayName: "Gold Pickaxe", Cost: 0.5, RatePerSecond: 6.0 / 60},
			TierDiamond:   {DisplayName: "Diamond Pickaxe", Cost: 1, RatePerSecond: 15.0 / 60},
			TierNetherite: {DisplayName: "Netherite Pickaxe", Cost: 5, RatePerSecond: 90.0 / 60},
		},
		MinSellThreshold: 10000,
		ExchangeRate:     0.000001,
	}
}

// Lookup returns the catalog entry for t
func (c Catalog) Lookup(t Tier) (PickaxeTier, bool) {
	if !t.Valid() {
		return PickaxeTier{}, false
	}
	p, ok := c.Tiers[t]
	return p, ok
}

// Validate checks the catalog is usable
func (c Catalog) Validate() error {
	for _, t := range Tiers {
		p, ok := c.Tiers[t]
		if !ok {
			return ErrUnknownTier.WithDetail("catalog missing tier %s", t)
		}
		if p.Cost < 0 || p.RatePerSecond < 0 {
			return ErrInvalidAmount.WithDetail("catalog tier %s has negative cost or rate", t)
		}
	}
	for t := range c.Tiers {
		if !t.Valid() {
			return ErrUnknownTier.WithDetail("catalog has unknown tier %q", t)
		}
	}
	if c.MinSellThreshold < 0 || c.ExchangeRate < 0 {
		return ErrInvalidAmount.WithDetail("negative sell threshold or exchange rate")
	}
	return nil
}
