package domain

import (
	"fmt"
	"time"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStyle 订单类型
//
// MARKET：按当前价格立即成交，否则整单取消（FOK）。
// LIMIT：标准挂单语义，对手价不差于限价时立即成交，否则挂在盘口。
type OrderStyle string

const (
	OrderStyleMarket OrderStyle = "MARKET"
	OrderStyleLimit  OrderStyle = "LIMIT"
)

// OrderPurpose 订单在交易生命周期中的用途
type OrderPurpose string

const (
	PurposeEntry     OrderPurpose = "entry"
	PurposeProfit    OrderPurpose = "profit"
	PurposeStop      OrderPurpose = "stop"
	PurposeHedgeBuy  OrderPurpose = "hedge_buy"
	PurposeHedgeSell OrderPurpose = "hedge_sell"
)

// OrderIntent 下单意图（由 Detector 或状态机产生，由 ExchangeGateway 消费）
type OrderIntent struct {
	ID      string
	Key     TrackingKey
	AssetID string
	Token   TokenType
	Side    Side
	Style   OrderStyle
	Price   Price
	Size    float64
	Purpose OrderPurpose
}

func (o OrderIntent) String() string {
	return fmt.Sprintf("%s %s %s %.4f@%s [%s]", o.Side, o.Style, o.Token, o.Size, o.Price, o.Key)
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"     // 挂单中
	OrderStatusFilled   OrderStatus = "filled"   // 已成交
	OrderStatusCanceled OrderStatus = "canceled" // 已取消
)

// Fill 成交回报
type Fill struct {
	OrderRef string
	AssetID  string
	Side     Side
	Price    Price
	Size     float64
	At       time.Time
}
