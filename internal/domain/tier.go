package domain

import "fmt"

// LeverageTier carries the margin parameters for one supported leverage
// multiplier. The set of tiers is closed at construction: any leverage
// without a tier is invalid, there is no fallback.
type LeverageTier struct {
	Leverage             int     // Multiplier (e.g., 2, 3, 5, 10)
	MaintenanceMarginPct float64 // Equity/notional floor before forced liquidation
	InitialMarginPct     float64 // Collateral required relative to notional at open
	MaxNotional          float64 // Largest notional size permitted at this tier
	LiquidationFeePct    float64 // Fee on collateral credited to the insurance fund
}

// TierTable is the closed enumeration of supported leverage tiers.
type TierTable struct {
	tiers map[int]LeverageTier
}

// NewTierTable validates and builds the tier set. Construction fails on
// duplicates and on parameters that could not produce a solvent tier,
// so runtime lookups only ever answer supported/unsupported.
func NewTierTable(tiers []LeverageTier) (*TierTable, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("at least one leverage tier is required")
	}
	m := make(map[int]LeverageTier, len(tiers))
	for _, t := range tiers {
		if t.Leverage < 2 {
			return nil, fmt.Errorf("leverage tier %d: multiplier must be at least 2", t.Leverage)
		}
		if _, dup := m[t.Leverage]; dup {
			return nil, fmt.Errorf("leverage tier %d: duplicate entry", t.Leverage)
		}
		if t.MaintenanceMarginPct <= 0 || t.MaintenanceMarginPct >= 1 {
			return nil, fmt.Errorf("leverage tier %d: maintenance margin %.4f out of range (0,1)", t.Leverage, t.MaintenanceMarginPct)
		}
		// Maintenance above 1/leverage would place the liquidation
		// threshold on the profitable side of the entry price.
		if t.MaintenanceMarginPct > 1/float64(t.Leverage) {
			return nil, fmt.Errorf("leverage tier %d: maintenance margin %.4f exceeds 1/leverage", t.Leverage, t.MaintenanceMarginPct)
		}
		if t.InitialMarginPct <= 0 || t.InitialMarginPct > 1 {
			return nil, fmt.Errorf("leverage tier %d: initial margin %.4f out of range (0,1]", t.Leverage, t.InitialMarginPct)
		}
		if t.MaxNotional <= 0 {
			return nil, fmt.Errorf("leverage tier %d: max notional must be positive", t.Leverage)
		}
		if t.LiquidationFeePct < 0 || t.LiquidationFeePct >= 1 {
			return nil, fmt.Errorf("leverage tier %d: liquidation fee %.4f out of range [0,1)", t.Leverage, t.LiquidationFeePct)
		}
		m[t.Leverage] = t
	}
	return &TierTable{tiers: m}, nil
}

// Lookup returns the tier for a leverage multiplier, if supported.
func (tt *TierTable) Lookup(leverage int) (LeverageTier, bool) {
	t, ok := tt.tiers[leverage]
	return t, ok
}

// Multipliers returns the supported leverage values (unordered).
func (tt *TierTable) Multipliers() []int {
	out := make([]int, 0, len(tt.tiers))
	for lev := range tt.tiers {
		out = append(out, lev)
	}
	return out
}

// DefaultTiers is the venue's standard tier set.
func DefaultTiers() []LeverageTier {
	return []LeverageTier{
		{Leverage: 2, MaintenanceMarginPct: 0.25, InitialMarginPct: 0.50, MaxNotional: 500_000, LiquidationFeePct: 0.01},
		{Leverage: 3, MaintenanceMarginPct: 0.20, InitialMarginPct: 0.3334, MaxNotional: 250_000, LiquidationFeePct: 0.01},
		{Leverage: 5, MaintenanceMarginPct: 0.15, InitialMarginPct: 0.20, MaxNotional: 100_000, LiquidationFeePct: 0.015},
		{Leverage: 10, MaintenanceMarginPct: 0.10, InitialMarginPct: 0.10, MaxNotional: 50_000, LiquidationFeePct: 0.02},
	}
}
