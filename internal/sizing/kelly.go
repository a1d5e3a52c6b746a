package sizing

import "log"

func init() {
	Register("kelly", func() Sizer { return NewKelly(0.45, 2.0) })
}

// Kelly sizes positions using a capped fractional Kelly criterion:
// f* = (p(b+1) − 1) / b, dampened by Fraction (quarter-Kelly by default) and
// hard-capped at the per-trade risk cap. Capital-at-risk is converted to
// quantity through the per-unit risk (entry − stop) and floored to whole lots.
type Kelly struct {
	WinRate  float64 // p
	Payoff   float64 // b, reward/risk
	Fraction float64 // dampener applied to f*
}

// NewKelly returns a quarter-Kelly sizer with the given assumptions.
func NewKelly(winRate, payoff float64) *Kelly {
	return &Kelly{WinRate: winRate, Payoff: payoff, Fraction: 0.25}
}

func (k *Kelly) Name() string { return "kelly" }

func (k *Kelly) Size(in Input) int64 {
	if k.Payoff <= 0 {
		return 0
	}

	kellyFraction := (k.WinRate*(k.Payoff+1) - 1) / k.Payoff
	target := kellyFraction * k.Fraction

	allowed := target
	if allowed > in.RiskCapPct {
		allowed = in.RiskCapPct
	}
	if allowed <= 0 {
		// Negative edge — no trade, not an error.
		return 0
	}

	riskPerUnit := in.EntryPrice - in.StopLoss
	if riskPerUnit < 0 {
		riskPerUnit = -riskPerUnit
	}
	if riskPerUnit == 0 || in.LotSize <= 0 {
		return 0
	}

	riskAmount := float64(in.Capital) * allowed
	rawQty := int64(riskAmount) / riskPerUnit

	lots := rawQty / in.LotSize
	qty := lots * in.LotSize

	if qty > 0 {
		log.Printf("[sizing] kelly: f*=%.4f dampened=%.4f capped=%.4f qty=%d", kellyFraction, target, allowed, qty)
	}
	return qty
}
