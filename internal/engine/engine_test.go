package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"levercore/internal/adapters/logger"
	"levercore/internal/domain"
	"levercore/internal/ledger"
	"levercore/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory implementation of all four repository ports.
// It stores copies and guards the settlement status transition exactly
// like the sqlite adapter, so the engine's exactly-once behaviour is
// observable in tests.
type memStore struct {
	mu        sync.Mutex
	accounts  map[string]domain.Account
	positions map[int64]domain.Position
	trades    []domain.Trade
	liqs      []domain.Liquidation
	nextID    int64

	openErr   error
	settleErr error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[string]domain.Account),
		positions: make(map[int64]domain.Position),
	}
}

func (s *memStore) FindAccount(_ context.Context, trader string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[trader]
	if !ok {
		return nil, nil
	}
	cp := acct
	return &cp, nil
}

func (s *memStore) SaveAccount(_ context.Context, acct *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.Trader] = *acct
	return nil
}

func (s *memStore) OpenPosition(_ context.Context, acct *domain.Account, pos *domain.Position, rec *domain.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return 0, s.openErr
	}
	s.nextID++
	s.accounts[acct.Trader] = *acct
	cp := *pos
	cp.ID = s.nextID
	s.positions[cp.ID] = cp
	tr := *rec
	tr.PositionID = cp.ID
	s.trades = append(s.trades, tr)
	return cp.ID, nil
}

func (s *memStore) SettlePosition(_ context.Context, acct *domain.Account, pos *domain.Position, rec *domain.Trade, liq *domain.Liquidation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settleErr != nil {
		return s.settleErr
	}
	stored, ok := s.positions[pos.ID]
	if !ok || stored.Status != domain.StatusOpen {
		return fmt.Errorf("%w: status %s", ports.ErrPositionClosed, stored.Status)
	}
	s.positions[pos.ID] = *pos
	s.accounts[acct.Trader] = *acct
	s.trades = append(s.trades, *rec)
	if liq != nil {
		s.liqs = append(s.liqs, *liq)
	}
	return nil
}

func (s *memStore) UpdateMarks(_ context.Context, pos *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.positions[pos.ID]
	if !ok || stored.Status != domain.StatusOpen {
		return nil
	}
	stored.UnrealizedPnl = pos.UnrealizedPnl
	stored.MarginRatio = pos.MarginRatio
	s.positions[pos.ID] = stored
	return nil
}

func (s *memStore) FindByID(_ context.Context, id int64) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return nil, nil
	}
	cp := pos
	return &cp, nil
}

func (s *memStore) FindOpen(_ context.Context) ([]*domain.Position, error) {
	return s.filter(func(p *domain.Position) bool { return p.Status == domain.StatusOpen }), nil
}

func (s *memStore) FindOpenByOwner(_ context.Context, owner string) ([]*domain.Position, error) {
	return s.filter(func(p *domain.Position) bool { return p.Status == domain.StatusOpen && p.Owner == owner }), nil
}

func (s *memStore) FindByOwner(_ context.Context, owner string) ([]*domain.Position, error) {
	return s.filter(func(p *domain.Position) bool { return p.Owner == owner }), nil
}

func (s *memStore) filter(keep func(*domain.Position) bool) []*domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Position
	for id := range s.positions {
		pos := s.positions[id]
		if keep(&pos) {
			cp := pos
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *memStore) OpenInterest(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, pos := range s.positions {
		if pos.Status == domain.StatusOpen {
			sum += pos.Notional
		}
	}
	return sum, nil
}

func (s *memStore) FindTradesByOwner(_ context.Context, owner string, limit int) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Trade
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if s.trades[i].Owner == owner {
			cp := s.trades[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) TotalFees(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, tr := range s.trades {
		sum += tr.Fee
	}
	return sum, nil
}

func (s *memStore) FindLiquidationsByOwner(_ context.Context, owner string, limit int) ([]*domain.Liquidation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Liquidation
	for i := len(s.liqs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.liqs[i].Owner == owner {
			cp := s.liqs[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) CountLiquidations(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.liqs), nil
}

// stubFeed serves canned quotes.
type stubFeed struct {
	mu     sync.Mutex
	quotes map[string]ports.Quote
	stale  bool
	err    error
}

func newStubFeed() *stubFeed {
	return &stubFeed{quotes: make(map[string]ports.Quote)}
}

func (f *stubFeed) set(pair string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[pair] = ports.Quote{Pair: pair, Price: price, UpdatedAt: time.Now()}
}

func (f *stubFeed) GetPrice(_ context.Context, pair string) (*ports.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	q, ok := f.quotes[pair]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (f *stubFeed) IsFresh(pair string, _ time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.quotes[pair]
	return ok && !f.stale
}

// feeRecorder captures asynchronous fee credits.
type feeRecorder struct{ ch chan float64 }

func (r *feeRecorder) Credit(_ context.Context, amount float64) error {
	r.ch <- amount
	return nil
}

// fundRecorder captures asynchronous insurance-fund credits.
type fundRecorder struct{ ch chan *domain.Liquidation }

func (r *fundRecorder) Credit(_ context.Context, liq *domain.Liquidation) error {
	r.ch <- liq
	return nil
}

type fixture struct {
	eng   *Engine
	store *memStore
	feed  *stubFeed
	fees  *feeRecorder
	fund  *fundRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tiers, err := domain.NewTierTable(domain.DefaultTiers())
	require.NoError(t, err)

	store := newMemStore()
	feed := newStubFeed()
	fees := &feeRecorder{ch: make(chan float64, 8)}
	fund := &fundRecorder{ch: make(chan *domain.Liquidation, 8)}
	nop := logger.NewNop()

	ldg, err := ledger.New(store, nop)
	require.NoError(t, err)

	eng, err := New(Config{
		Tiers:         tiers,
		MakerFeeRate:  0.0002,
		TakerFeeRate:  0.0005,
		MinCollateral: 10,
		MaxPriceAge:   10 * time.Second,
	}, nop, ldg, store, store, store, feed, fees, fund)
	require.NoError(t, err)

	return &fixture{eng: eng, store: store, feed: feed, fees: fees, fund: fund}
}

func (f *fixture) deposit(t *testing.T, trader string, amount float64) {
	t.Helper()
	_, err := f.eng.Ledger().Deposit(context.Background(), trader, amount)
	require.NoError(t, err)
}

func (f *fixture) account(t *testing.T, trader string) *domain.Account {
	t.Helper()
	acct, err := f.eng.Ledger().Account(context.Background(), trader)
	require.NoError(t, err)
	require.NotNil(t, acct)
	return acct
}

func marketLong(trader string, collateral float64, leverage int) OpenRequest {
	return OpenRequest{
		Trader:     trader,
		Pair:       "BTCUSDT",
		Side:       domain.Long,
		Leverage:   leverage,
		Collateral: collateral,
		OrderType:  domain.OrderMarket,
	}
}

func TestOpenPosition_Market(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)

	pos, err := f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, int64(1), pos.ID)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Equal(t, 500.0, pos.Notional)
	assert.Equal(t, 50000.0, pos.EntryPrice)
	assert.InDelta(t, 47500, pos.LiquidationPrice, 1e-9)
	assert.InDelta(t, 0.25, pos.EntryFee, 1e-9) // taker on 500 notional
	assert.InDelta(t, 20, pos.MarginRatio, 1e-9)
	assert.Zero(t, pos.ExitFee)

	acct := f.account(t, "0xabc")
	assert.Equal(t, 1000.0, acct.TotalCollateral)
	assert.Equal(t, 100.0, acct.LockedCollateral)
	assert.Equal(t, 900.0, acct.AvailableCollateral)
	assert.True(t, acct.CheckInvariant())

	trades, err := f.eng.GetTradeHistory(ctx, "0xabc", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeOpen, trades[0].Type)
	assert.Equal(t, pos.ID, trades[0].PositionID)
	assert.InDelta(t, 0.25, trades[0].Fee, 1e-9)

	// Entry fees are recorded, not distributed, until settlement.
	select {
	case amt := <-f.fees.ch:
		t.Fatalf("unexpected fee credit at open: %f", amt)
	default:
	}
}

func TestOpenPosition_LimitUsesSuppliedPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	// No quote cached at all: LIMIT entries never consult the feed.

	req := marketLong("0xabc", 100, 5)
	req.OrderType = domain.OrderLimit
	req.LimitPrice = 40000

	pos, err := f.eng.OpenPosition(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 40000.0, pos.EntryPrice)
	assert.InDelta(t, 0.1, pos.EntryFee, 1e-9) // maker on 500 notional
}

func TestOpenPosition_ValidationLeavesNoState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)

	tests := []struct {
		name    string
		mutate  func(req *OpenRequest)
		wantErr error
	}{
		{
			name:    "unsupported leverage",
			mutate:  func(req *OpenRequest) { req.Leverage = 7 },
			wantErr: ports.ErrValidation,
		},
		{
			name:    "missing trader",
			mutate:  func(req *OpenRequest) { req.Trader = "" },
			wantErr: ports.ErrValidation,
		},
		{
			name:    "missing pair",
			mutate:  func(req *OpenRequest) { req.Pair = "" },
			wantErr: ports.ErrValidation,
		},
		{
			name:    "bad side",
			mutate:  func(req *OpenRequest) { req.Side = "UP" },
			wantErr: ports.ErrValidation,
		},
		{
			name:    "bad order type",
			mutate:  func(req *OpenRequest) { req.OrderType = "STOP" },
			wantErr: ports.ErrValidation,
		},
		{
			name:    "collateral below minimum",
			mutate:  func(req *OpenRequest) { req.Collateral = 5 },
			wantErr: ports.ErrValidation,
		},
		{
			name:    "notional above tier maximum",
			mutate:  func(req *OpenRequest) { req.Collateral = 30000 }, // 150k notional at 5x
			wantErr: ports.ErrValidation,
		},
		{
			name: "limit order without price",
			mutate: func(req *OpenRequest) {
				req.OrderType = domain.OrderLimit
				req.LimitPrice = 0
			},
			wantErr: ports.ErrValidation,
		},
		{
			name:    "negative stop loss",
			mutate:  func(req *OpenRequest) { req.StopLoss = -1 },
			wantErr: ports.ErrValidation,
		},
		{
			name:    "collateral above balance",
			mutate:  func(req *OpenRequest) { req.Collateral = 2000 },
			wantErr: ports.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := marketLong("0xabc", 100, 5)
			tt.mutate(&req)

			_, err := f.eng.OpenPosition(ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)

			// No partial state: balances untouched, nothing persisted.
			acct := f.account(t, "0xabc")
			assert.Equal(t, 1000.0, acct.TotalCollateral)
			assert.Zero(t, acct.LockedCollateral)
			open, err := f.eng.GetOpenPositions(ctx, "0xabc")
			require.NoError(t, err)
			assert.Empty(t, open)
			trades, err := f.eng.GetTradeHistory(ctx, "0xabc", 10)
			require.NoError(t, err)
			assert.Empty(t, trades)
		})
	}
}

func TestOpenPosition_PriceGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)

	// No quote observed yet.
	_, err := f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	assert.ErrorIs(t, err, ports.ErrPriceUnavailable)

	// Quote exists but is stale.
	f.feed.set("BTCUSDT", 50000)
	f.feed.stale = true
	_, err = f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	assert.ErrorIs(t, err, ports.ErrStalePrice)

	acct := f.account(t, "0xabc")
	assert.Equal(t, 1000.0, acct.AvailableCollateral)
	assert.Zero(t, acct.LockedCollateral)
}

func TestClosePosition_Profit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)

	pos, err := f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	require.NoError(t, err)

	f.feed.set("BTCUSDT", 55000)
	closed, err := f.eng.ClosePosition(ctx, "0xabc", pos.ID)
	require.NoError(t, err)

	// Raw PnL +50, minus 0.25 entry and 0.25 exit taker fees.
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, 55000.0, closed.ExitPrice)
	assert.InDelta(t, 0.25, closed.ExitFee, 1e-9)
	assert.InDelta(t, 49.5, closed.RealizedPnl, 1e-9)

	acct := f.account(t, "0xabc")
	assert.InDelta(t, 1049.5, acct.TotalCollateral, 1e-9)
	assert.Zero(t, acct.LockedCollateral)
	assert.InDelta(t, 1049.5, acct.AvailableCollateral, 1e-9)
	assert.InDelta(t, 49.5, acct.RealizedPnl, 1e-9)
	assert.True(t, acct.CheckInvariant())

	// Both fees reach the distributor once the position settles.
	select {
	case amt := <-f.fees.ch:
		assert.InDelta(t, 0.5, amt, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("fee credit never arrived")
	}
}

func TestClosePosition_LossFloorsReturnAtZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)

	pos, err := f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	require.NoError(t, err)

	// -22% move on 500 notional is -110 raw PnL, past the collateral.
	f.feed.set("BTCUSDT", 39000)
	closed, err := f.eng.ClosePosition(ctx, "0xabc", pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, -110.5, closed.RealizedPnl, 1e-9)

	acct := f.account(t, "0xabc")
	assert.InDelta(t, 900, acct.TotalCollateral, 1e-9)
	assert.InDelta(t, 900, acct.AvailableCollateral, 1e-9)
	assert.Zero(t, acct.LockedCollateral)
	assert.True(t, acct.CheckInvariant())
}

func TestClosePosition_Idempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)

	pos, err := f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	require.NoError(t, err)

	f.feed.set("BTCUSDT", 55000)
	_, err = f.eng.ClosePosition(ctx, "0xabc", pos.ID)
	require.NoError(t, err)
	before := f.account(t, "0xabc")

	_, err = f.eng.ClosePosition(ctx, "0xabc", pos.ID)
	assert.ErrorIs(t, err, ports.ErrPositionClosed)

	after := f.account(t, "0xabc")
	assert.Equal(t, before.TotalCollateral, after.TotalCollateral)
	assert.Equal(t, before.RealizedPnl, after.RealizedPnl)
}

func TestClosePosition_Guards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)

	pos, err := f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	require.NoError(t, err)

	_, err = f.eng.ClosePosition(ctx, "0xabc", 999)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)

	// Another trader cannot close it and is not told it exists.
	_, err = f.eng.ClosePosition(ctx, "0xeve", pos.ID)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)

	// Close needs a current price, though not a fresh one.
	f.feed.quotes = map[string]ports.Quote{}
	_, err = f.eng.ClosePosition(ctx, "0xabc", pos.ID)
	assert.ErrorIs(t, err, ports.ErrPriceUnavailable)
}

func TestSettle_StopLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)

	req := marketLong("0xabc", 100, 5)
	req.StopLoss = 48000
	pos, err := f.eng.OpenPosition(ctx, req)
	require.NoError(t, err)

	require.NoError(t, f.eng.Settle(ctx, pos, domain.TradeStopLoss, 48000))

	// Raw PnL -20, minus 0.5 in fees.
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.InDelta(t, -20.5, pos.RealizedPnl, 1e-9)

	acct := f.account(t, "0xabc")
	assert.InDelta(t, 979.5, acct.TotalCollateral, 1e-9)
	assert.True(t, acct.CheckInvariant())

	trades, err := f.eng.GetTradeHistory(ctx, "0xabc", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.TradeStopLoss, trades[0].Type)
}

func TestSettle_Liquidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)

	pos, err := f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	require.NoError(t, err)

	require.NoError(t, f.eng.Settle(ctx, pos, domain.TradeLiquidation, 47000))

	assert.Equal(t, domain.StatusLiquidated, pos.Status)
	assert.Equal(t, 47000.0, pos.ExitPrice)
	assert.InDelta(t, -100, pos.RealizedPnl, 1e-9)
	assert.Zero(t, pos.ExitFee) // liquidation charges no exit fee
	assert.Zero(t, pos.MarginRatio)

	// The trader loses exactly the collateral: total drops by 100 and
	// nothing returns to available.
	acct := f.account(t, "0xabc")
	assert.InDelta(t, 900, acct.TotalCollateral, 1e-9)
	assert.Zero(t, acct.LockedCollateral)
	assert.InDelta(t, 900, acct.AvailableCollateral, 1e-9)
	assert.InDelta(t, -100, acct.RealizedPnl, 1e-9)
	assert.Equal(t, 1, acct.LiquidationCount)
	assert.True(t, acct.CheckInvariant())

	liqs, err := f.eng.GetLiquidationHistory(ctx, "0xabc", 10)
	require.NoError(t, err)
	require.Len(t, liqs, 1)
	assert.Equal(t, pos.ID, liqs[0].PositionID)
	assert.InDelta(t, 100, liqs[0].CollateralLost, 1e-9)
	assert.InDelta(t, 1.5, liqs[0].InsuranceFee, 1e-9) // 1.5% of collateral at 5x

	select {
	case liq := <-f.fund.ch:
		assert.InDelta(t, 1.5, liq.InsuranceFee, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("insurance credit never arrived")
	}

	// Liquidation must not feed the trading-fee distributor.
	select {
	case amt := <-f.fees.ch:
		t.Fatalf("unexpected fee credit on liquidation: %f", amt)
	default:
	}
}

func TestSettle_RaceLosesCleanly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)

	pos, err := f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	require.NoError(t, err)

	// A sweep holds a stale copy of the position while the owner closes.
	stale, err := f.store.FindByID(ctx, pos.ID)
	require.NoError(t, err)

	f.feed.set("BTCUSDT", 55000)
	_, err = f.eng.ClosePosition(ctx, "0xabc", pos.ID)
	require.NoError(t, err)
	before := f.account(t, "0xabc")

	err = f.eng.Settle(ctx, stale, domain.TradeLiquidation, 47000)
	assert.ErrorIs(t, err, ports.ErrPositionClosed)

	// The losing settlement left no trace in the ledger.
	after := f.account(t, "0xabc")
	assert.Equal(t, before.TotalCollateral, after.TotalCollateral)
	assert.Equal(t, before.RealizedPnl, after.RealizedPnl)
	assert.Equal(t, before.LiquidationCount, after.LiquidationCount)
}

func TestSettle_RejectsNonSettlementEvents(t *testing.T) {
	f := newFixture(t)
	pos := &domain.Position{ID: 1, Owner: "0xabc"}
	err := f.eng.Settle(context.Background(), pos, domain.TradeOpen, 50000)
	assert.ErrorIs(t, err, ports.ErrValidation)
}

func TestGetAccountSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Unknown traders get a zero-balance summary, not an error.
	summary, err := f.eng.GetAccountSummary(ctx, "0xnew")
	require.NoError(t, err)
	assert.Zero(t, summary.Account.TotalCollateral)
	assert.Empty(t, summary.OpenPositions)

	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)
	_, err = f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	require.NoError(t, err)

	f.feed.set("BTCUSDT", 55000)
	summary, err = f.eng.GetAccountSummary(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, summary.OpenPositions, 1)
	assert.InDelta(t, 50, summary.UnrealizedPnl, 1e-9)
	assert.InDelta(t, 1050, summary.Equity, 1e-9)
	assert.InDelta(t, 30, summary.OpenPositions[0].MarginRatio, 1e-9)
}

func TestGetGlobalStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "0xabc", 1000)
	f.feed.set("BTCUSDT", 50000)

	p1, err := f.eng.OpenPosition(ctx, marketLong("0xabc", 100, 5))
	require.NoError(t, err)
	_, err = f.eng.OpenPosition(ctx, marketLong("0xabc", 200, 2))
	require.NoError(t, err)

	require.NoError(t, f.eng.Settle(ctx, p1, domain.TradeLiquidation, 47000))

	stats, err := f.eng.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 400, stats.OpenInterest, 1e-9) // only the 2x position remains open
	assert.Equal(t, 1, stats.LiquidationCount)
	// Two entry fees recorded; the liquidation trade carries none.
	assert.InDelta(t, 0.25+0.20, stats.TotalFees, 1e-9)
}

func TestNew_Validation(t *testing.T) {
	tiers, err := domain.NewTierTable(domain.DefaultTiers())
	require.NoError(t, err)
	nop := logger.NewNop()
	store := newMemStore()
	ldg, err := ledger.New(store, nop)
	require.NoError(t, err)
	feed := newStubFeed()

	valid := Config{Tiers: tiers, MakerFeeRate: 0.0002, TakerFeeRate: 0.0005, MinCollateral: 10, MaxPriceAge: time.Second}

	_, err = New(valid, nil, ldg, store, store, store, feed, nil, nil)
	assert.Error(t, err)

	cfg := valid
	cfg.Tiers = nil
	_, err = New(cfg, nop, ldg, store, store, store, feed, nil, nil)
	assert.Error(t, err)

	cfg = valid
	cfg.MakerFeeRate = -0.1
	_, err = New(cfg, nop, ldg, store, store, store, feed, nil, nil)
	assert.Error(t, err)

	cfg = valid
	cfg.MinCollateral = 0
	_, err = New(cfg, nop, ldg, store, store, store, feed, nil, nil)
	assert.Error(t, err)

	_, err = New(valid, nop, ldg, store, store, store, feed, nil, nil)
	assert.NoError(t, err)
}
