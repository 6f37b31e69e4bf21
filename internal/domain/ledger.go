package domain

import "time"

// Operation names the economic action that produced a ledger entry
type Operation string

const (
	OpHeartbeat Operation = "heartbeat"
	OpPurchase  Operation = "purchase_pickaxe"
	OpSell      Operation = "sell_currency"
	OpGrantLand Operation = "grant_land"
	OpReferral  Operation = "credit_referral"

	// Admin operations
	OpReconcile Operation = "admin_reconcile"
	OpReset     Operation = "admin_reset"
)

// LedgerEntry records one committed mutation. It is written in the same
// atomic step as the record it describes.
type LedgerEntry struct {
	ID        int64                  `db:"id" json:"id"`
	Address   string                 `db:"address" json:"address"`
	Operation Operation              `db:"operation" json:"operation"`
	GoldDelta float64                `db:"gold_delta" json:"gold_delta"`
	Pickaxes  Inventory              `db:"pickaxes" json:"pickaxes,omitempty"`
	EventKey  string                 `db:"event_key" json:"event_key,omitempty"` // once-only key, unique when set
	Meta      map[string]interface{} `db:"meta" json:"meta,omitempty"`
	Version   int64                  `db:"version" json:"version"` // record version this entry produced
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// ReferralReward is the bundle credited for one referral event
type ReferralReward struct {
	Gold     float64   `json:"gold"`
	Pickaxes Inventory `json:"pickaxes,omitempty"`
}
