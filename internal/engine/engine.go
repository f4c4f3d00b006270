package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"levercore/internal/domain"
	"levercore/internal/ledger"
	"levercore/internal/ports"
)

// Config holds the engine's static trading parameters. Fee rates and the
// tier table are configuration inputs, not hardcoded rules.
type Config struct {
	Tiers         *domain.TierTable
	MakerFeeRate  float64       // Fee rate for LIMIT entries (e.g., 0.0002)
	TakerFeeRate  float64       // Fee rate for MARKET entries and all exits (e.g., 0.0005)
	MinCollateral float64       // Smallest collateral accepted on open
	MaxPriceAge   time.Duration // Freshness bound enforced on MARKET opens
}

// Engine is the position manager: it opens and closes leveraged
// positions against the ledger and price feed, and settles the
// trigger paths invoked by the liquidation monitor.
type Engine struct {
	cfg          Config
	logger       ports.Logger
	ledger       *ledger.Ledger
	positions    ports.PositionRepository
	trades       ports.TradeRepository
	liquidations ports.LiquidationRepository
	feed         ports.PriceFeed
	feeDist      ports.FeeDistributor
	insurance    ports.InsuranceFund
}

// New creates a position manager instance.
func New(
	cfg Config,
	logger ports.Logger,
	ldg *ledger.Ledger,
	positions ports.PositionRepository,
	trades ports.TradeRepository,
	liquidations ports.LiquidationRepository,
	feed ports.PriceFeed,
	feeDist ports.FeeDistributor,
	insurance ports.InsuranceFund,
) (*Engine, error) {
	if logger == nil || ldg == nil || positions == nil || trades == nil || liquidations == nil || feed == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if cfg.Tiers == nil {
		return nil, fmt.Errorf("leverage tier table is required")
	}
	if cfg.MakerFeeRate < 0 || cfg.TakerFeeRate < 0 {
		return nil, fmt.Errorf("fee rates cannot be negative")
	}
	if cfg.MinCollateral <= 0 {
		return nil, fmt.Errorf("minimum collateral must be positive")
	}
	if cfg.MaxPriceAge <= 0 {
		return nil, fmt.Errorf("max price age must be positive")
	}
	return &Engine{
		cfg:          cfg,
		logger:       logger,
		ledger:       ldg,
		positions:    positions,
		trades:       trades,
		liquidations: liquidations,
		feed:         feed,
		feeDist:      feeDist,
		insurance:    insurance,
	}, nil
}

// Ledger exposes the account ledger for deposit/withdraw surfaces.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// OpenRequest carries the parameters of an open order.
type OpenRequest struct {
	Trader     string
	Pair       string
	Side       domain.Side
	Leverage   int
	Collateral float64
	OrderType  domain.OrderType
	LimitPrice float64 // Entry price for LIMIT orders
	StopLoss   float64 // Optional, 0 disables
	TakeProfit float64 // Optional, 0 disables
}

// OpenPosition validates the request, resolves the entry price, locks
// collateral and creates the position with its OPEN trade record. No
// state is created on any validation failure.
func (e *Engine) OpenPosition(ctx context.Context, req OpenRequest) (*domain.Position, error) {
	op := "OpenPosition"

	tier, err := e.validateOpen(&req)
	if err != nil {
		return nil, err
	}

	entryPrice, err := e.resolveEntryPrice(ctx, &req)
	if err != nil {
		return nil, err
	}

	notional := req.Collateral * float64(req.Leverage)
	entryFee := notional * e.feeRate(req.OrderType)
	liqPrice := domain.LiquidationPriceFor(req.Side, entryPrice, req.Leverage, tier.MaintenanceMarginPct)

	var pos *domain.Position
	err = e.ledger.WithAccount(ctx, req.Trader, func(acct *domain.Account) error {
		if err := ledger.Lock(acct, req.Collateral); err != nil {
			return err
		}
		now := time.Now().UTC()
		pos = &domain.Position{
			Owner:            req.Trader,
			Pair:             req.Pair,
			Side:             req.Side,
			Leverage:         req.Leverage,
			Status:           domain.StatusOpen,
			Collateral:       req.Collateral,
			Notional:         notional,
			EntryPrice:       entryPrice,
			LiquidationPrice: liqPrice,
			StopLoss:         req.StopLoss,
			TakeProfit:       req.TakeProfit,
			EntryFee:         entryFee,
			MarginRatio:      100 / float64(req.Leverage),
			OpenedAt:         now,
		}
		rec := &domain.Trade{
			Owner:      req.Trader,
			Pair:       req.Pair,
			Type:       domain.TradeOpen,
			Side:       req.Side,
			Leverage:   req.Leverage,
			Collateral: req.Collateral,
			Notional:   notional,
			Price:      entryPrice,
			Fee:        entryFee,
			CreatedAt:  now,
		}
		id, err := e.positions.OpenPosition(ctx, acct, pos, rec)
		if err != nil {
			return fmt.Errorf("failed to persist new position: %w", err)
		}
		pos.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info(ctx, op+": position opened", map[string]interface{}{
		"positionID": pos.ID,
		"trader":     req.Trader,
		"pair":       req.Pair,
		"side":       req.Side,
		"leverage":   req.Leverage,
		"entryPrice": entryPrice,
		"liqPrice":   liqPrice,
		"notional":   notional,
	})
	return pos, nil
}

// validateOpen checks the static parameters of an open request and
// returns the leverage tier that applies.
func (e *Engine) validateOpen(req *OpenRequest) (domain.LeverageTier, error) {
	var tier domain.LeverageTier
	if req.Trader == "" {
		return tier, fmt.Errorf("%w: trader address is required", ports.ErrValidation)
	}
	if req.Pair == "" {
		return tier, fmt.Errorf("%w: trading pair is required", ports.ErrValidation)
	}
	if !req.Side.IsValid() {
		return tier, fmt.Errorf("%w: side must be LONG or SHORT, got %q", ports.ErrValidation, req.Side)
	}
	if !req.OrderType.IsValid() {
		return tier, fmt.Errorf("%w: order type must be MARKET or LIMIT, got %q", ports.ErrValidation, req.OrderType)
	}
	tier, ok := e.cfg.Tiers.Lookup(req.Leverage)
	if !ok {
		return tier, fmt.Errorf("%w: unsupported leverage %dx", ports.ErrValidation, req.Leverage)
	}
	if req.Collateral <= 0 {
		return tier, fmt.Errorf("%w: collateral must be positive, got %.8f", ports.ErrValidation, req.Collateral)
	}
	if req.Collateral < e.cfg.MinCollateral {
		return tier, fmt.Errorf("%w: collateral %.8f below minimum %.8f", ports.ErrValidation, req.Collateral, e.cfg.MinCollateral)
	}
	if notional := req.Collateral * float64(req.Leverage); notional > tier.MaxNotional {
		return tier, fmt.Errorf("%w: notional %.2f exceeds tier maximum %.2f", ports.ErrValidation, notional, tier.MaxNotional)
	}
	if req.OrderType == domain.OrderLimit && req.LimitPrice <= 0 {
		return tier, fmt.Errorf("%w: limit orders require a positive limit price", ports.ErrValidation)
	}
	if req.StopLoss < 0 || req.TakeProfit < 0 {
		return tier, fmt.Errorf("%w: stop-loss and take-profit cannot be negative", ports.ErrValidation)
	}
	return tier, nil
}

// resolveEntryPrice returns the supplied price for LIMIT orders and the
// current feed price for MARKET orders. Freshness is enforced here and
// nowhere else in the lifecycle.
func (e *Engine) resolveEntryPrice(ctx context.Context, req *OpenRequest) (float64, error) {
	if req.OrderType == domain.OrderLimit {
		return req.LimitPrice, nil
	}
	quote, err := e.feed.GetPrice(ctx, req.Pair)
	if err != nil {
		return 0, fmt.Errorf("price lookup failed for %s: %w", req.Pair, err)
	}
	if quote == nil {
		return 0, fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, req.Pair)
	}
	if !e.feed.IsFresh(req.Pair, e.cfg.MaxPriceAge) {
		return 0, fmt.Errorf("%w: %s last updated %s ago", ports.ErrStalePrice, req.Pair, quote.Age().Round(time.Millisecond))
	}
	return quote.Price, nil
}

func (e *Engine) feeRate(orderType domain.OrderType) float64 {
	if orderType == domain.OrderLimit {
		return e.cfg.MakerFeeRate
	}
	return e.cfg.TakerFeeRate
}

// ClosePosition settles an open position at the current feed price on
// the owner's request. Closing an already-settled position fails with
// ErrPositionClosed and changes nothing.
func (e *Engine) ClosePosition(ctx context.Context, trader string, positionID int64) (*domain.Position, error) {
	pos, err := e.positions.FindByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position %d: %w", positionID, err)
	}
	if pos == nil || pos.Owner != trader {
		return nil, fmt.Errorf("%w: id %d", ports.ErrPositionNotFound, positionID)
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%w: id %d is %s", ports.ErrPositionClosed, positionID, pos.Status)
	}

	quote, err := e.feed.GetPrice(ctx, pos.Pair)
	if err != nil {
		return nil, fmt.Errorf("price lookup failed for %s: %w", pos.Pair, err)
	}
	if quote == nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, pos.Pair)
	}

	if err := e.Settle(ctx, pos, domain.TradeClose, quote.Price); err != nil {
		return nil, err
	}
	return pos, nil
}

// Settle transitions a position out of open at the given mark price.
// tradeType selects the settlement path: CLOSE, STOP_LOSS and
// TAKE_PROFIT settle identically (taker exit fee, collateral return
// floored at zero); LIQUIDATION forfeits the full collateral, charges no
// exit fee and credits the insurance fund instead.
//
// The transition is exactly-once: the repository guards the status
// change, and a concurrent settlement surfaces as ErrPositionClosed with
// no ledger mutation persisted.
func (e *Engine) Settle(ctx context.Context, pos *domain.Position, tradeType domain.TradeType, markPrice float64) error {
	switch tradeType {
	case domain.TradeClose, domain.TradeStopLoss, domain.TradeTakeProfit:
		return e.settleClose(ctx, pos, tradeType, markPrice)
	case domain.TradeLiquidation:
		return e.settleLiquidation(ctx, pos, markPrice)
	default:
		return fmt.Errorf("%w: %q is not a settlement event", ports.ErrValidation, tradeType)
	}
}

func (e *Engine) settleClose(ctx context.Context, pos *domain.Position, tradeType domain.TradeType, markPrice float64) error {
	rawPnl := pos.PnlAt(markPrice)
	exitFee := pos.Notional * e.cfg.TakerFeeRate
	netPnl := rawPnl - pos.EntryFee - exitFee - pos.FundingFees
	collateralReturn := math.Max(0, pos.Collateral+netPnl)

	err := e.ledger.WithAccount(ctx, pos.Owner, func(acct *domain.Account) error {
		ledger.SettleClose(acct, pos.Collateral, collateralReturn, netPnl)

		now := time.Now().UTC()
		pos.Status = domain.StatusClosed
		pos.ExitPrice = markPrice
		pos.ExitFee = exitFee
		pos.RealizedPnl = netPnl
		pos.UnrealizedPnl = 0
		pos.ClosedAt = now

		rec := &domain.Trade{
			PositionID: pos.ID,
			Owner:      pos.Owner,
			Pair:       pos.Pair,
			Type:       tradeType,
			Side:       pos.Side,
			Leverage:   pos.Leverage,
			Collateral: pos.Collateral,
			Notional:   pos.Notional,
			Price:      markPrice,
			Pnl:        netPnl,
			Fee:        pos.EntryFee + exitFee,
			CreatedAt:  now,
		}
		return e.positions.SettlePosition(ctx, acct, pos, rec, nil)
	})
	if err != nil {
		if errors.Is(err, ports.ErrPositionClosed) {
			// Lost the race against another settlement path; the in-memory
			// account mutation was never persisted.
			return fmt.Errorf("%w: id %d", ports.ErrPositionClosed, pos.ID)
		}
		return err
	}

	e.logger.Info(ctx, "Position settled", map[string]interface{}{
		"positionID": pos.ID,
		"trader":     pos.Owner,
		"event":      tradeType,
		"exitPrice":  markPrice,
		"netPnl":     netPnl,
		"return":     collateralReturn,
	})

	e.creditFees(pos.ID, pos.EntryFee+exitFee)
	return nil
}

func (e *Engine) settleLiquidation(ctx context.Context, pos *domain.Position, markPrice float64) error {
	tier, ok := e.cfg.Tiers.Lookup(pos.Leverage)
	if !ok {
		return fmt.Errorf("%w: position %d carries unsupported leverage %dx", ports.ErrValidation, pos.ID, pos.Leverage)
	}
	insuranceFee := pos.Collateral * tier.LiquidationFeePct

	var liq *domain.Liquidation
	err := e.ledger.WithAccount(ctx, pos.Owner, func(acct *domain.Account) error {
		ledger.SettleLiquidation(acct, pos.Collateral)

		now := time.Now().UTC()
		pos.Status = domain.StatusLiquidated
		pos.ExitPrice = markPrice
		pos.RealizedPnl = -pos.Collateral
		pos.UnrealizedPnl = 0
		pos.MarginRatio = 0
		pos.ClosedAt = now

		rec := &domain.Trade{
			PositionID: pos.ID,
			Owner:      pos.Owner,
			Pair:       pos.Pair,
			Type:       domain.TradeLiquidation,
			Side:       pos.Side,
			Leverage:   pos.Leverage,
			Collateral: pos.Collateral,
			Notional:   pos.Notional,
			Price:      markPrice,
			Pnl:        -pos.Collateral,
			CreatedAt:  now,
		}
		liq = &domain.Liquidation{
			PositionID:       pos.ID,
			Owner:            pos.Owner,
			Pair:             pos.Pair,
			Side:             pos.Side,
			EntryPrice:       pos.EntryPrice,
			LiquidationPrice: pos.LiquidationPrice,
			MarkPrice:        markPrice,
			CollateralLost:   pos.Collateral,
			InsuranceFee:     insuranceFee,
			CreatedAt:        now,
		}
		return e.positions.SettlePosition(ctx, acct, pos, rec, liq)
	})
	if err != nil {
		if errors.Is(err, ports.ErrPositionClosed) {
			return fmt.Errorf("%w: id %d", ports.ErrPositionClosed, pos.ID)
		}
		return err
	}

	e.logger.Warn(ctx, "Position liquidated", map[string]interface{}{
		"positionID":     pos.ID,
		"trader":         pos.Owner,
		"pair":           pos.Pair,
		"entryPrice":     pos.EntryPrice,
		"liqPrice":       pos.LiquidationPrice,
		"markPrice":      markPrice,
		"collateralLost": pos.Collateral,
	})

	e.creditInsurance(liq)
	return nil
}

// creditFees forwards trading fees to the fee distributor without
// blocking the settlement path. Failures are logged and never reversed.
func (e *Engine) creditFees(positionID int64, amount float64) {
	if e.feeDist == nil || amount <= 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.feeDist.Credit(ctx, amount); err != nil {
			e.logger.Error(ctx, err, "Fee distribution failed", map[string]interface{}{"positionID": positionID, "amount": amount})
		}
	}()
}

// creditInsurance forwards the liquidation fee to the insurance fund,
// fire-and-forget like creditFees.
func (e *Engine) creditInsurance(liq *domain.Liquidation) {
	if e.insurance == nil || liq == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.insurance.Credit(ctx, liq); err != nil {
			e.logger.Error(ctx, err, "Insurance fund credit failed", map[string]interface{}{"positionID": liq.PositionID, "amount": liq.InsuranceFee})
		}
	}()
}
