package domain

import "time"

// Account holds per-trader collateral bookkeeping.
// TotalCollateral must always equal LockedCollateral + AvailableCollateral.
type Account struct {
	Trader              string    // Trader address, unique per account
	TotalCollateral     float64   // Locked plus available collateral
	LockedCollateral    float64   // Collateral backing open positions
	AvailableCollateral float64   // Collateral free for withdrawal or new positions
	RealizedPnl         float64   // Cumulative realized profit and loss
	LiquidationCount    int       // Number of positions liquidated for this trader
	CreatedAt           time.Time // When the account row was created
	UpdatedAt           time.Time // Last mutation time
}

// CheckInvariant verifies the collateral bookkeeping identity.
// A small epsilon absorbs float rounding from repeated settlements.
func (a *Account) CheckInvariant() bool {
	const eps = 1e-9
	diff := a.TotalCollateral - (a.LockedCollateral + a.AvailableCollateral)
	if diff < 0 {
		diff = -diff
	}
	return diff <= eps && a.AvailableCollateral >= -eps
}
