package domain

// Side represents the direction of a leveraged position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// IsValid reports whether the side is one of the two supported values.
func (s Side) IsValid() bool {
	return s == Long || s == Short
}

// PositionStatus represents the lifecycle state of a position.
type PositionStatus string

const (
	StatusOpen       PositionStatus = "open"
	StatusClosed     PositionStatus = "closed"
	StatusLiquidated PositionStatus = "liquidated"
)

// OrderType distinguishes how the entry price of a position is resolved.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// IsValid reports whether the order type is supported.
func (o OrderType) IsValid() bool {
	return o == OrderMarket || o == OrderLimit
}

// TradeType identifies the lifecycle event a trade record captures.
type TradeType string

const (
	TradeOpen        TradeType = "OPEN"
	TradeClose       TradeType = "CLOSE"
	TradeStopLoss    TradeType = "STOP_LOSS"
	TradeTakeProfit  TradeType = "TAKE_PROFIT"
	TradeLiquidation TradeType = "LIQUIDATION"
)
