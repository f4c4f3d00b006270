package engine

import (
	"context"
	"fmt"

	"levercore/internal/domain"
)

// AccountSummary is the live view of a trader's account: stored balances
// plus unrealized PnL recomputed from current prices.
type AccountSummary struct {
	Account       *domain.Account
	OpenPositions []*domain.Position
	UnrealizedPnl float64
	Equity        float64 // Total collateral plus unrealized PnL
}

// GetAccountSummary returns the trader's balances with unrealized PnL
// refreshed from the price feed. A trader with no account yet gets a
// zero-balance summary. Positions whose pair has no current price keep
// their last persisted marks.
func (e *Engine) GetAccountSummary(ctx context.Context, trader string) (*AccountSummary, error) {
	acct, err := e.ledger.Account(ctx, trader)
	if err != nil {
		return nil, fmt.Errorf("failed to load account for %s: %w", trader, err)
	}
	if acct == nil {
		acct = &domain.Account{Trader: trader}
	}

	open, err := e.positions.FindOpenByOwner(ctx, trader)
	if err != nil {
		return nil, fmt.Errorf("failed to load open positions for %s: %w", trader, err)
	}

	var unrealized float64
	for _, pos := range open {
		quote, err := e.feed.GetPrice(ctx, pos.Pair)
		if err != nil || quote == nil {
			unrealized += pos.UnrealizedPnl
			continue
		}
		pos.UnrealizedPnl = pos.PnlAt(quote.Price)
		pos.MarginRatio = pos.MarginRatioAt(quote.Price)
		unrealized += pos.UnrealizedPnl
	}

	return &AccountSummary{
		Account:       acct,
		OpenPositions: open,
		UnrealizedPnl: unrealized,
		Equity:        acct.TotalCollateral + unrealized,
	}, nil
}

// GetOpenPositions returns the trader's open positions as stored.
func (e *Engine) GetOpenPositions(ctx context.Context, trader string) ([]*domain.Position, error) {
	return e.positions.FindOpenByOwner(ctx, trader)
}

// GetPositionHistory returns all of the trader's positions, newest first.
func (e *Engine) GetPositionHistory(ctx context.Context, trader string) ([]*domain.Position, error) {
	return e.positions.FindByOwner(ctx, trader)
}

// GetTradeHistory returns the trader's most recent trade records.
func (e *Engine) GetTradeHistory(ctx context.Context, trader string, limit int) ([]*domain.Trade, error) {
	return e.trades.FindTradesByOwner(ctx, trader, limit)
}

// GetLiquidationHistory returns the trader's liquidation records.
func (e *Engine) GetLiquidationHistory(ctx context.Context, trader string, limit int) ([]*domain.Liquidation, error) {
	return e.liquidations.FindLiquidationsByOwner(ctx, trader, limit)
}

// GlobalStats aggregates venue-wide figures for reporting.
type GlobalStats struct {
	OpenInterest     float64 // Sum of notional across open positions
	TotalFees        float64 // Sum of fees over all trade records
	LiquidationCount int     // Total liquidations recorded
}

// GetGlobalStats returns aggregate open interest, collected fees and the
// liquidation count.
func (e *Engine) GetGlobalStats(ctx context.Context) (*GlobalStats, error) {
	oi, err := e.positions.OpenInterest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute open interest: %w", err)
	}
	fees, err := e.trades.TotalFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum fees: %w", err)
	}
	liqs, err := e.liquidations.CountLiquidations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count liquidations: %w", err)
	}
	return &GlobalStats{OpenInterest: oi, TotalFees: fees, LiquidationCount: liqs}, nil
}
