package ports

import (
	"context"
	"time"

	"levercore/internal/domain"
)

// Quote is a cached price observation for a trading pair.
type Quote struct {
	Pair      string
	Price     float64
	UpdatedAt time.Time
}

// Age returns how long ago the quote was updated.
func (q *Quote) Age() time.Duration {
	return time.Since(q.UpdatedAt)
}

// PriceFeed serves cached prices maintained by an external collaborator.
// Reads are non-blocking lookups; the feed performs its own fetching and
// failover out of band.
type PriceFeed interface {
	// GetPrice returns the latest cached quote for a pair.
	// Returns nil, nil when no price has been observed.
	GetPrice(ctx context.Context, pair string) (*Quote, error)
	// IsFresh reports whether the cached quote is younger than maxAge.
	// A pair with no quote at all is never fresh.
	IsFresh(pair string, maxAge time.Duration) bool
}

// FeeDistributor receives trading-fee credits for the yield vault.
// Calls are fire-and-forget: errors are logged by the caller and never
// block or reverse a settlement.
type FeeDistributor interface {
	Credit(ctx context.Context, amount float64) error
}

// InsuranceFund receives liquidation-fee credits.
type InsuranceFund interface {
	Credit(ctx context.Context, liq *domain.Liquidation) error
}
