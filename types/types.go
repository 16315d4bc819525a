package types

import (
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Market status values reported by the indexer
const (
	MarketStatusActive          = "ACTIVE"
	MarketStatusPaused          = "PAUSED"
	MarketStatusCancelOnly      = "CANCEL_ONLY"
	MarketStatusPostOnly        = "POST_ONLY"
	MarketStatusInitializing    = "INITIALIZING"
	MarketStatusFinalSettlement = "FINAL_SETTLEMENT"
)

// Market is a perpetual market as seen by the client
type Market struct {
	ID                    string // e.g. "BTC-USD"
	Status                string
	OraclePrice           decimal.Decimal
	TickSize              decimal.Decimal
	StepSize              decimal.Decimal
	InitialMarginFraction decimal.Decimal
}

// Tradeable reports whether the market belongs to the known market set.
// Settled markets stay in the cache but are no longer routable.
func (m Market) Tradeable() bool {
	return m.Status != MarketStatusFinalSettlement
}

// Position represents an open perpetual position, keyed by market id
type Position struct {
	ID            string // market id, e.g. "BTC-USD"
	Side          string // "LONG" or "SHORT"
	Status        string // "OPEN", "CLOSED", "LIQUIDATED"
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
}

// IsOpen reports whether the position still counts as open
func (p Position) IsOpen() bool {
	return p.Status == "" || p.Status == "OPEN"
}

// DialogType names a trade-box dialog
type DialogType string

const (
	DialogClosePosition        DialogType = "ClosePosition"
	DialogAdjustIsolatedMargin DialogType = "AdjustIsolatedMargin"
	DialogTriggerOrders        DialogType = "TriggerOrders"
)

// Dialog is the transient modal attached to the trade box
type Dialog struct {
	ID      string
	Type    DialogType
	Payload map[string]string
}
