package domain

import "time"

// Position represents a leveraged trade over its full lifecycle.
// Once Status leaves StatusOpen the row is immutable except for the
// derived read fields refreshed by the liquidation sweep beforehand.
type Position struct {
	ID               int64          // Unique identifier (from DB)
	Owner            string         // Trader address owning the position
	Pair             string         // Trading pair (e.g., "BTCUSDT")
	Side             Side           // LONG or SHORT
	Leverage         int            // Leverage multiplier, member of the configured tier set
	Status           PositionStatus // open, closed or liquidated
	Collateral       float64        // Collateral locked for this position
	Notional         float64        // Collateral * leverage, fixed at open
	EntryPrice       float64        // Price at which the position was entered
	ExitPrice        float64        // Price at settlement (0 while open)
	LiquidationPrice float64        // Forced-close threshold, fixed at open
	StopLoss         float64        // Optional stop-loss price (0 if unset)
	TakeProfit       float64        // Optional take-profit price (0 if unset)
	EntryFee         float64        // Fee recorded at open, settled at terminal transition
	ExitFee          float64        // Fee charged at close/SL/TP (0 while open and on liquidation)
	FundingFees      float64        // Carrying cost accrued while open
	UnrealizedPnl    float64        // Refreshed every sweep while open
	MarginRatio      float64        // Equity / notional * 100, refreshed every sweep
	RealizedPnl      float64        // Set once at terminal transition
	OpenedAt         time.Time      // When the position was opened
	ClosedAt         time.Time      // When the position reached a terminal state (zero while open)
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// PnlAt returns the unrealized profit or loss at the given mark price.
func (p *Position) PnlAt(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Side == Long {
		return (price - p.EntryPrice) / p.EntryPrice * p.Notional
	}
	return (p.EntryPrice - price) / p.EntryPrice * p.Notional
}

// EquityAt returns collateral plus unrealized PnL at the given mark price.
func (p *Position) EquityAt(price float64) float64 {
	return p.Collateral + p.PnlAt(price)
}

// MarginRatioAt returns equity over notional as a percentage.
func (p *Position) MarginRatioAt(price float64) float64 {
	if p.Notional == 0 {
		return 0
	}
	return p.EquityAt(price) / p.Notional * 100
}

// StopLossHit reports whether the mark price has crossed the stop-loss level.
func (p *Position) StopLossHit(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == Long {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// TakeProfitHit reports whether the mark price has crossed the take-profit level.
func (p *Position) TakeProfitHit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == Long {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

// LiquidationHit reports whether equity at the mark price has fallen to or
// below the maintenance margin requirement for the position's tier.
func (p *Position) LiquidationHit(price float64, maintenanceMarginPct float64) bool {
	return p.EquityAt(price) <= p.Notional*maintenanceMarginPct
}

// LiquidationPriceFor computes the forced-close threshold fixed at open.
// LONG:  entry * (1 - 1/leverage + maintenanceMarginPct)
// SHORT: entry * (1 + 1/leverage - maintenanceMarginPct)
func LiquidationPriceFor(side Side, entryPrice float64, leverage int, maintenanceMarginPct float64) float64 {
	inv := 1 / float64(leverage)
	if side == Long {
		return entryPrice * (1 - inv + maintenanceMarginPct)
	}
	return entryPrice * (1 + inv - maintenanceMarginPct)
}
