package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "base58 key", in: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", want: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"},
		{name: "trims spaces", in: "  9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin ", want: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"},
		{name: "evm lower case", in: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", want: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"},
		{name: "empty", in: "", wantErr: true},
		{name: "too short", in: "abc", wantErr: true},
		{name: "zero not in base58", in: "0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl", wantErr: true},
		{name: "bad hex", in: "0x1234", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeAddress(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestError_IsMatchesCodeNotDetail(t *testing.T) {
	err := ErrUnknownTier.WithDetail("tier %q", "wood")
	wrapped := fmt.Errorf("purchase: %w", err)

	assert.ErrorIs(t, wrapped, ErrUnknownTier)
	assert.NotErrorIs(t, wrapped, ErrInvalidQuantity)
	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.Equal(t, `unknown pickaxe tier: tier "wood"`, err.Error())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestUnavailable_KeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Unavailable("get player", cause)

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindStorage, KindOf(err))
}

func TestNewPlayerRecord_ZeroedAndValid(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := NewPlayerRecord("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", now)

	assert.False(t, rec.Persisted())
	assert.False(t, rec.HasLand)
	assert.Nil(t, rec.LandPurchaseDate)
	assert.Zero(t, rec.Gold)
	assert.Zero(t, rec.TotalReferrals)
	assert.Equal(t, now, rec.LastAccrualTime)
	for _, tier := range Tiers {
		assert.Zero(t, rec.Inventory.Count(tier))
	}
	assert.NoError(t, ValidateRecord(rec, 0))
}

func TestPlayerRecord_CloneIsDeep(t *testing.T) {
	now := time.Now().UTC()
	rec := NewPlayerRecord("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", now)
	rec.HasLand = true
	rec.LandPurchaseDate = &now

	cp := rec.Clone()
	cp.Inventory[TierGold] = 7
	later := now.Add(time.Hour)
	*cp.LandPurchaseDate = later

	assert.Zero(t, rec.Inventory.Count(TierGold))
	assert.Equal(t, now, *rec.LandPurchaseDate)
}

func TestValidateRecord(t *testing.T) {
	base := func() *PlayerRecord {
		return NewPlayerRecord("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", time.Now())
	}

	t.Run("negative gold", func(t *testing.T) {
		rec := base()
		rec.Gold = -1
		assert.ErrorIs(t, ValidateRecord(rec, 0), ErrInvariantViolation)
	})

	t.Run("negative count", func(t *testing.T) {
		rec := base()
		rec.Inventory[TierSilver] = -2
		assert.ErrorIs(t, ValidateRecord(rec, 0), ErrInvariantViolation)
	})

	t.Run("unknown tier", func(t *testing.T) {
		rec := base()
		rec.Inventory[Tier("wood")] = 1
		assert.ErrorIs(t, ValidateRecord(rec, 0), ErrInvariantViolation)
	})

	t.Run("stale mining power", func(t *testing.T) {
		rec := base()
		rec.MiningPower = 5
		assert.ErrorIs(t, ValidateRecord(rec, 0), ErrInvariantViolation)
	})

	t.Run("land without date", func(t *testing.T) {
		rec := base()
		rec.HasLand = true
		assert.ErrorIs(t, ValidateRecord(rec, 0), ErrInvariantViolation)
	})
}

func TestCatalog_Validate(t *testing.T) {
	c := DefaultCatalog()
	require.NoError(t, c.Validate())

	silver, ok := c.Lookup(TierSilver)
	require.True(t, ok)
	assert.InDelta(t, 1.0/60, silver.RatePerSecond, 1e-12)

	_, ok = c.Lookup(Tier("wood"))
	assert.False(t, ok)

	delete(c.Tiers, TierDiamond)
	assert.ErrorIs(t, c.Validate(), ErrUnknownTier)
}
