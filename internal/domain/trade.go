package domain

import "time"

// Trade is an immutable audit record of a position lifecycle event.
// One row is written per OPEN, CLOSE, STOP_LOSS, TAKE_PROFIT or
// LIQUIDATION transition; rows are never updated.
type Trade struct {
	ID         int64     // Unique identifier (from DB)
	PositionID int64     // Position this event belongs to
	Owner      string    // Trader address
	Pair       string    // Trading pair
	Type       TradeType // Lifecycle event captured by this record
	Side       Side      // Direction of the underlying position
	Leverage   int       // Leverage of the underlying position
	Collateral float64   // Collateral backing the position at the event
	Notional   float64   // Notional size of the position
	Price      float64   // Execution price of the event
	Pnl        float64   // Realized PnL settled by the event (0 for OPEN)
	Fee        float64   // Trading fee attributed to the event
	CreatedAt  time.Time // When the event occurred
}

// Liquidation records a forced close with the prices that produced it.
type Liquidation struct {
	ID               int64     // Unique identifier (from DB)
	PositionID       int64     // Liquidated position
	Owner            string    // Trader address
	Pair             string    // Trading pair
	Side             Side      // Direction of the liquidated position
	EntryPrice       float64   // Entry price of the position
	LiquidationPrice float64   // Threshold fixed at open
	MarkPrice        float64   // Market price that triggered the liquidation
	CollateralLost   float64   // Full collateral removed from the trader
	InsuranceFee     float64   // Fee credited to the insurance fund
	CreatedAt        time.Time // When the liquidation fired
}
