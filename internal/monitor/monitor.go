package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"levercore/internal/domain"
	"levercore/internal/ports"
)

// Settler is the settlement surface the monitor drives. The position
// manager implements it.
type Settler interface {
	Settle(ctx context.Context, pos *domain.Position, tradeType domain.TradeType, markPrice float64) error
}

// Config holds the monitor's parameters.
type Config struct {
	Interval time.Duration // Time between sweeps (e.g., 5s)
	Tiers    *domain.TierTable
}

// Monitor runs the recurring liquidation sweep: it refreshes the derived
// read fields of every open position and fires stop-loss, take-profit
// and liquidation settlements. A single goroutine owns the schedule, so
// sweeps never overlap.
type Monitor struct {
	cfg       Config
	logger    ports.Logger
	positions ports.PositionRepository
	feed      ports.PriceFeed
	settler   Settler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a liquidation monitor instance.
func New(cfg Config, logger ports.Logger, positions ports.PositionRepository, feed ports.PriceFeed, settler Settler) (*Monitor, error) {
	if logger == nil || positions == nil || feed == nil || settler == nil {
		return nil, fmt.Errorf("missing required dependencies for Monitor")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	if cfg.Tiers == nil {
		return nil, fmt.Errorf("leverage tier table is required")
	}
	return &Monitor{
		cfg:       cfg,
		logger:    logger,
		positions: positions,
		feed:      feed,
		settler:   settler,
	}, nil
}

// Start launches the sweep loop. It fails if the monitor is already
// running. The loop stops when Stop is called or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("monitor already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(loopCtx)
	m.logger.Info(ctx, "Liquidation monitor started", map[string]interface{}{"interval": m.cfg.Interval.String()})
	return nil
}

// Stop halts future scheduling and waits for an in-flight sweep to
// finish. There is no mid-sweep cancellation.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info(context.Background(), "Liquidation monitor stopped")
}

// loop runs sweeps on a fixed ticker. Each tick executes inline in this
// goroutine, which is what guarantees single-flight.
func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The sweep itself uses a background context so that Stop
			// lets it finish rather than aborting it halfway.
			m.Sweep(context.Background())
		}
	}
}

// Sweep evaluates every open position once. Per-position failures are
// logged and must never abort the remainder of the sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	start := time.Now()

	open, err := m.positions.FindOpen(ctx)
	if err != nil {
		m.logger.Error(ctx, err, "Sweep failed to list open positions")
		SweepErrors.Inc()
		return
	}
	OpenPositions.Set(float64(len(open)))

	for _, pos := range open {
		m.evaluate(ctx, pos)
	}

	SweepDuration.Observe(time.Since(start).Seconds())
	m.logger.Debug(ctx, "Sweep complete", map[string]interface{}{"positions": len(open), "elapsed": time.Since(start).String()})
}

// evaluate refreshes one position's marks and fires at most one trigger,
// in fixed priority order: stop-loss, then take-profit, then
// liquidation.
func (m *Monitor) evaluate(ctx context.Context, pos *domain.Position) {
	PositionsEvaluated.Inc()

	quote, err := m.feed.GetPrice(ctx, pos.Pair)
	if err != nil {
		m.logger.Warn(ctx, "Price lookup failed, skipping position for this tick", map[string]interface{}{"positionID": pos.ID, "pair": pos.Pair, "error": err.Error()})
		SweepErrors.Inc()
		return
	}
	if quote == nil {
		// No price cached for the pair; the position waits for the next tick.
		return
	}
	price := quote.Price

	pos.UnrealizedPnl = pos.PnlAt(price)
	pos.MarginRatio = pos.MarginRatioAt(price)
	if err := m.positions.UpdateMarks(ctx, pos); err != nil {
		// Stale marks are tolerable; trigger evaluation still proceeds.
		m.logger.Warn(ctx, "Failed to persist position marks", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
		SweepErrors.Inc()
	}

	tier, ok := m.cfg.Tiers.Lookup(pos.Leverage)
	if !ok {
		m.logger.Error(ctx, fmt.Errorf("no tier for leverage %dx", pos.Leverage), "Open position carries unsupported leverage", map[string]interface{}{"positionID": pos.ID})
		SweepErrors.Inc()
		return
	}

	var tradeType domain.TradeType
	switch {
	case pos.StopLossHit(price):
		tradeType = domain.TradeStopLoss
	case pos.TakeProfitHit(price):
		tradeType = domain.TradeTakeProfit
	case pos.LiquidationHit(price, tier.MaintenanceMarginPct):
		tradeType = domain.TradeLiquidation
	default:
		return
	}

	if err := m.settler.Settle(ctx, pos, tradeType, price); err != nil {
		if errors.Is(err, ports.ErrPositionClosed) {
			// Raced a manual close between listing and settling; benign.
			m.logger.Debug(ctx, "Position settled elsewhere before trigger", map[string]interface{}{"positionID": pos.ID})
			return
		}
		m.logger.Error(ctx, err, "Trigger settlement failed", map[string]interface{}{"positionID": pos.ID, "trigger": tradeType})
		SweepErrors.Inc()
		return
	}
	TriggersFired.WithLabelValues(string(tradeType)).Inc()
}
