package treasury

import (
	"context"
	"sync"

	"levercore/internal/domain"
	"levercore/internal/ports"
)

// FeePool implements ports.FeeDistributor. It accumulates trading-fee
// credits destined for the yield vault; the vault itself only ever
// receives, so a running total is all the core needs to hand over.
type FeePool struct {
	logger ports.Logger

	mu      sync.Mutex
	total   float64
	credits int
}

// NewFeePool creates the vault-facing fee accumulator.
func NewFeePool(logger ports.Logger) *FeePool {
	return &FeePool{logger: logger}
}

// Credit records a trading-fee contribution.
func (p *FeePool) Credit(ctx context.Context, amount float64) error {
	p.mu.Lock()
	p.total += amount
	p.credits++
	total := p.total
	p.mu.Unlock()

	p.logger.Debug(ctx, "Fee credited to vault pool", map[string]interface{}{"amount": amount, "poolTotal": total})
	return nil
}

// Total returns the accumulated fee credits.
func (p *FeePool) Total() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// InsuranceFund implements ports.InsuranceFund, accumulating the
// liquidation fees that back the venue against socialized losses.
type InsuranceFund struct {
	logger ports.Logger

	mu    sync.Mutex
	total float64
	count int
}

// NewInsuranceFund creates the insurance-fund accumulator.
func NewInsuranceFund(logger ports.Logger) *InsuranceFund {
	return &InsuranceFund{logger: logger}
}

// Credit records a liquidation-fee contribution.
func (f *InsuranceFund) Credit(ctx context.Context, liq *domain.Liquidation) error {
	f.mu.Lock()
	f.total += liq.InsuranceFee
	f.count++
	total := f.total
	f.mu.Unlock()

	f.logger.Info(ctx, "Insurance fund credited", map[string]interface{}{
		"positionID": liq.PositionID,
		"amount":     liq.InsuranceFee,
		"fundTotal":  total,
	})
	return nil
}

// Total returns the accumulated insurance credits.
func (f *InsuranceFund) Total() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}
