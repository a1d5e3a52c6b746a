package model

import "time"

// OrderType mirrors the broker order types.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderSL     OrderType = "SL"
	OrderSLM    OrderType = "SL-M"
)

// OrderStatus is the audit status of a submitted order.
type OrderStatus string

const (
	OrderAccepted  OrderStatus = "ACCEPTED" // pending limit order, awaiting a crossing price
	OrderRejected  OrderStatus = "REJECTED"
	OrderExecuted  OrderStatus = "EXECUTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Order records every attempted order, accepted or not. Append-only audit
// log, ordered by submission time. Prices in paise.
type Order struct {
	OrderID      string      `json:"order_id"`
	Timestamp    time.Time   `json:"timestamp"`
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	Qty          int64       `json:"qty"`
	Type         OrderType   `json:"type"`
	Product      string      `json:"product"`
	Price        int64       `json:"price"`         // requested/limit price (0 for market)
	TriggerPrice int64       `json:"trigger_price"` // for SL-M
	Status       OrderStatus `json:"status"`
	AvgPrice     int64       `json:"avg_price"` // fill price if executed
	Slippage     int64       `json:"slippage"`  // simulated slippage in paise
	Reason       string      `json:"reason"`    // rejection reason or fill note
	StrategyTag  string      `json:"strategy_tag"`
}
