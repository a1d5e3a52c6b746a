// Package costs implements the NSE options transaction-cost model used to
// simulate realistic fills. All rates are configuration, not engine logic —
// they are jurisdiction/instrument policy and change with regulation.
package costs

import (
	"math"

	"paperdesk/internal/model"
)

// Rates parameterizes the cost model. Percentages apply to notional
// (price × qty); BrokeragePerOrder is a flat charge in paise.
type Rates struct {
	BrokeragePerOrder int64   // paise, flat per order leg
	STTSellPct        float64 // securities transaction tax, sell side only
	ExchangeTxnPct    float64
	StampDutyBuyPct   float64 // buy side only
	SEBITurnoverPct   float64
	GSTPct            float64 // applied to brokerage + exchange + SEBI
}

// DefaultRates returns the NSE options fee structure (2025).
func DefaultRates() Rates {
	return Rates{
		BrokeragePerOrder: 2000, // ₹20
		STTSellPct:        0.001,
		ExchangeTxnPct:    0.0003503,
		StampDutyBuyPct:   0.00003,
		SEBITurnoverPct:   0.000001, // ₹10 per crore
		GSTPct:            0.18,
	}
}

// Model computes itemized transaction charges for a single order leg.
// Pure and deterministic; never errors.
type Model struct {
	rates Rates
}

// New creates a cost model with the given rates.
func New(rates Rates) *Model {
	return &Model{rates: rates}
}

// Compute returns the charge breakdown in paise for one leg.
// Non-positive price or quantity yields zero charges.
func (m *Model) Compute(side model.Side, price, qty int64) model.ChargeBreakdown {
	if price <= 0 || qty <= 0 {
		return model.ChargeBreakdown{}
	}

	turnover := float64(price * qty)

	brokerage := m.rates.BrokeragePerOrder

	var stt int64
	if side == model.SideSell {
		stt = roundPaise(turnover * m.rates.STTSellPct)
	}

	exchange := roundPaise(turnover * m.rates.ExchangeTxnPct)

	var stamp int64
	if side == model.SideBuy {
		stamp = roundPaise(turnover * m.rates.StampDutyBuyPct)
	}

	sebi := roundPaise(turnover * m.rates.SEBITurnoverPct)

	gst := roundPaise(float64(brokerage+exchange+sebi) * m.rates.GSTPct)

	return model.ChargeBreakdown{
		Brokerage:   brokerage,
		STT:         stt,
		ExchangeTxn: exchange,
		StampDuty:   stamp,
		SEBIFees:    sebi,
		GST:         gst,
		Total:       brokerage + stt + exchange + stamp + sebi + gst,
	}
}

// RoundTrip returns combined charges for an entry leg and its exit leg.
func (m *Model) RoundTrip(entrySide model.Side, entryPrice, exitPrice, qty int64) model.ChargeBreakdown {
	entry := m.Compute(entrySide, entryPrice, qty)
	exit := m.Compute(entrySide.Opposite(), exitPrice, qty)
	return entry.Add(exit)
}

func roundPaise(v float64) int64 {
	return int64(math.Round(v))
}
