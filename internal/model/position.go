package model

import "time"

// Side of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the exit side for this entry side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionStatus is the lifecycle state of a position. Transitions are
// one-way: OPEN → CLOSED, never reopened.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseTarget     CloseReason = "TARGET"
	CloseStop       CloseReason = "STOP"
	CloseManual     CloseReason = "MANUAL"
	CloseForced     CloseReason = "FORCE_CLOSE"
	CloseTimeExit   CloseReason = "TIME_EXIT"
)

// Position is an open virtual holding in the paper ledger.
// All prices are in paise (1 INR = 100 paise).
type Position struct {
	Token       string    `json:"token"` // unique id, generated at fill time
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Qty         int64     `json:"qty"` // always > 0; Side carries direction
	EntryPrice  int64     `json:"entry_price"`
	EntryTime   time.Time `json:"entry_time"`
	StopLoss    int64     `json:"stop_loss"` // 0 = none
	Target      int64     `json:"target"`    // 0 = none
	StrategyTag string    `json:"strategy_tag"`
	MarkPrice   int64     `json:"mark_price"` // last observed LTP
	Product     string    `json:"product"`    // MIS, NRML
}

// GrossPnL returns the directional gross PnL in paise at the given price.
func (p *Position) GrossPnL(price int64) int64 {
	if p.Side == SideBuy {
		return (price - p.EntryPrice) * p.Qty
	}
	return (p.EntryPrice - price) * p.Qty
}

// UnrealizedPnL is the gross PnL at the current mark price.
func (p *Position) UnrealizedPnL() int64 {
	return p.GrossPnL(p.MarkPrice)
}

// Notional returns the entry notional (entry price × qty) in paise.
func (p *Position) Notional() int64 {
	return p.EntryPrice * p.Qty
}

// ClosedTrade is an immutable record of a completed round trip.
// Append-only; never mutated after creation.
type ClosedTrade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"` // original entry side
	Qty         int64           `json:"qty"`
	EntryPrice  int64           `json:"entry_price"`
	ExitPrice   int64           `json:"exit_price"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	GrossPnL    int64           `json:"gross_pnl"`
	NetPnL      int64           `json:"net_pnl"`
	Charges     ChargeBreakdown `json:"charges"` // entry + exit legs combined
	StrategyTag string          `json:"strategy_tag"`
	ExitReason  CloseReason     `json:"exit_reason"`
	Mode        string          `json:"mode"` // PAPER or LIVE
}

// ChargeBreakdown itemizes transaction costs in paise.
type ChargeBreakdown struct {
	Brokerage   int64 `json:"brokerage"`
	STT         int64 `json:"stt"`
	ExchangeTxn int64 `json:"exchange_txn"`
	StampDuty   int64 `json:"stamp_duty"`
	SEBIFees    int64 `json:"sebi_fees"`
	GST         int64 `json:"gst"`
	Total       int64 `json:"total"`
}

// Add returns the leg-wise sum of two breakdowns.
func (c ChargeBreakdown) Add(o ChargeBreakdown) ChargeBreakdown {
	return ChargeBreakdown{
		Brokerage:   c.Brokerage + o.Brokerage,
		STT:         c.STT + o.STT,
		ExchangeTxn: c.ExchangeTxn + o.ExchangeTxn,
		StampDuty:   c.StampDuty + o.StampDuty,
		SEBIFees:    c.SEBIFees + o.SEBIFees,
		GST:         c.GST + o.GST,
		Total:       c.Total + o.Total,
	}
}
