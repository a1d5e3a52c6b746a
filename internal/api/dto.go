package api

import (
	"time"

	"paperdesk/internal/model"
)

// The HTTP boundary speaks rupees; all internal arithmetic stays in paise.
// Every DTO here converts on the way out.

// PositionDTO is an open position as served to clients.
type PositionDTO struct {
	Token         string  `json:"token"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Qty           int64   `json:"qty"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	StopLoss      float64 `json:"stop_loss"`
	Target        float64 `json:"target"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	StrategyTag   string  `json:"strategy_tag"`
	Product       string  `json:"product"`
	EntryTime     string  `json:"entry_time"`
}

func toPositionDTO(p *model.Position) PositionDTO {
	return PositionDTO{
		Token:         p.Token,
		Symbol:        p.Symbol,
		Side:          string(p.Side),
		Qty:           p.Qty,
		EntryPrice:    model.ToRupees(p.EntryPrice),
		MarkPrice:     model.ToRupees(p.MarkPrice),
		StopLoss:      model.ToRupees(p.StopLoss),
		Target:        model.ToRupees(p.Target),
		UnrealizedPnL: model.ToRupees(p.UnrealizedPnL()),
		StrategyTag:   p.StrategyTag,
		Product:       p.Product,
		EntryTime:     p.EntryTime.Format(time.RFC3339),
	}
}

// OrderDTO is an audit-log order as served to clients.
type OrderDTO struct {
	OrderID      string  `json:"order_id"`
	Timestamp    string  `json:"timestamp"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Qty          int64   `json:"qty"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	Price        float64 `json:"price"`
	TriggerPrice float64 `json:"trigger_price"`
	AvgPrice     float64 `json:"avg_price"`
	Slippage     float64 `json:"slippage"`
	Reason       string  `json:"reason"`
	StrategyTag  string  `json:"strategy_tag"`
}

func toOrderDTO(o model.Order) OrderDTO {
	return OrderDTO{
		OrderID:      o.OrderID,
		Timestamp:    o.Timestamp.Format(time.RFC3339),
		Symbol:       o.Symbol,
		Side:         string(o.Side),
		Qty:          o.Qty,
		Type:         string(o.Type),
		Status:       string(o.Status),
		Price:        model.ToRupees(o.Price),
		TriggerPrice: model.ToRupees(o.TriggerPrice),
		AvgPrice:     model.ToRupees(o.AvgPrice),
		Slippage:     model.ToRupees(o.Slippage),
		Reason:       o.Reason,
		StrategyTag:  o.StrategyTag,
	}
}

// TradeDTO is a completed round trip as served to clients.
type TradeDTO struct {
	ID          string  `json:"id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Qty         int64   `json:"qty"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price"`
	EntryTime   string  `json:"entry_time"`
	ExitTime    string  `json:"exit_time"`
	GrossPnL    float64 `json:"gross_pnl"`
	NetPnL      float64 `json:"net_pnl"`
	Charges     float64 `json:"charges"`
	StrategyTag string  `json:"strategy_tag"`
	ExitReason  string  `json:"exit_reason"`
	Mode        string  `json:"mode"`
}

func toTradeDTO(t model.ClosedTrade) TradeDTO {
	return TradeDTO{
		ID:          t.ID,
		Symbol:      t.Symbol,
		Side:        string(t.Side),
		Qty:         t.Qty,
		EntryPrice:  model.ToRupees(t.EntryPrice),
		ExitPrice:   model.ToRupees(t.ExitPrice),
		EntryTime:   t.EntryTime.Format(time.RFC3339),
		ExitTime:    t.ExitTime.Format(time.RFC3339),
		GrossPnL:    model.ToRupees(t.GrossPnL),
		NetPnL:      model.ToRupees(t.NetPnL),
		Charges:     model.ToRupees(t.Charges.Total),
		StrategyTag: t.StrategyTag,
		ExitReason:  string(t.ExitReason),
		Mode:        t.Mode,
	}
}

// AccountSummaryDTO is the headline account view.
type AccountSummaryDTO struct {
	TotalCapital   float64 `json:"total_capital"`
	CurrentCapital float64 `json:"current_capital"`
	DailyPnL       float64 `json:"daily_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	KillSwitch     bool    `json:"kill_switch_active"`
	OpenPositions  int     `json:"open_positions"`
	ClosedTrades   int     `json:"closed_trades"`
	MaxDailyLoss   float64 `json:"max_daily_loss"`
	LastUpdated    string  `json:"last_updated"`
}

// validateTradeRequest carries rupee prices from the client.
type validateTradeRequest struct {
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	Target     float64 `json:"target"`
}

// placeOrderRequest carries rupee prices from the client.
type placeOrderRequest struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Qty          int64   `json:"qty"`
	Type         string  `json:"type"`
	Product      string  `json:"product"`
	LimitPrice   float64 `json:"limit_price"`
	TriggerPrice float64 `json:"trigger_price"`
	StopLoss     float64 `json:"stop_loss"`
	Target       float64 `json:"target"`
	StrategyTag  string  `json:"strategy_tag"`
}

type checkMarginRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Qty    int64   `json:"qty"`
	Price  float64 `json:"price"` // rupees; 0 = use last quote
}

type deployStrategyRequest struct {
	ID     string             `json:"id"`
	Kind   string             `json:"kind"`
	Symbol string             `json:"symbol"`
	Params map[string]float64 `json:"params"`
}

type cancelOrderRequest struct {
	OrderID string `json:"order_id"`
}
