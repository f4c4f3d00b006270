package ports

import (
	"context"

	"levercore/internal/domain"
)

// AccountRepository defines the interface for storing trader accounts.
type AccountRepository interface {
	// FindAccount retrieves an account by trader address.
	// Returns nil, nil if no account exists yet.
	FindAccount(ctx context.Context, trader string) (*domain.Account, error)
	// SaveAccount inserts or updates an account row.
	SaveAccount(ctx context.Context, acct *domain.Account) error
}

// PositionRepository defines the interface for storing and retrieving positions.
// Mutating calls that span account, position and trade rows are applied
// as a single atomic unit by the implementation.
type PositionRepository interface {
	// OpenPosition persists the account mutation, the new position and its
	// OPEN trade record atomically, returning the assigned position ID.
	OpenPosition(ctx context.Context, acct *domain.Account, pos *domain.Position, rec *domain.Trade) (int64, error)
	// SettlePosition transitions a position out of open atomically with the
	// account mutation, a terminal trade record and, for forced closes, the
	// liquidation row. The status transition is guarded: if the position has
	// already been settled the call fails with ErrPositionClosed and writes
	// nothing.
	SettlePosition(ctx context.Context, acct *domain.Account, pos *domain.Position, rec *domain.Trade, liq *domain.Liquidation) error
	// UpdateMarks persists the derived read fields (unrealized PnL, margin
	// ratio) refreshed by the liquidation sweep. Settled positions are left
	// untouched.
	UpdateMarks(ctx context.Context, pos *domain.Position) error
	// FindByID retrieves a position by its unique ID.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
	// FindOpen retrieves every open position across all traders.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindOpenByOwner retrieves the open positions of one trader.
	FindOpenByOwner(ctx context.Context, owner string) ([]*domain.Position, error)
	// FindByOwner retrieves all positions of one trader, newest first.
	FindByOwner(ctx context.Context, owner string) ([]*domain.Position, error)
	// OpenInterest sums the notional size of all open positions.
	OpenInterest(ctx context.Context) (float64, error)
}

// TradeRepository defines the interface for the append-only audit trail.
type TradeRepository interface {
	// FindTradesByOwner retrieves the most recent trade records for a
	// trader, up to a limit.
	FindTradesByOwner(ctx context.Context, owner string, limit int) ([]*domain.Trade, error)
	// TotalFees sums the fees recorded across all trade records.
	TotalFees(ctx context.Context) (float64, error)
}

// LiquidationRepository defines the interface for liquidation records.
type LiquidationRepository interface {
	// FindLiquidationsByOwner retrieves a trader's liquidations, newest first.
	FindLiquidationsByOwner(ctx context.Context, owner string, limit int) ([]*domain.Liquidation, error)
	// CountLiquidations returns the total number of liquidations recorded.
	CountLiquidations(ctx context.Context) (int, error)
}
