package risk

import "paperdesk/internal/model"

// MarginResult is the advisory margin breakdown for a prospective order.
// Values in paise. Shortfall > 0 means the order should be blocked at the
// API boundary, not inside the broker.
type MarginResult struct {
	Required  int64 `json:"required"`
	Available int64 `json:"available"`
	Shortfall int64 `json:"shortfall"`
}

// MarginChecker estimates required margin for a prospective order against
// the capital not already committed to open positions. Pure computation
// aside from reading the shared account.
type MarginChecker struct {
	gate *Gate
	// shortFactor scales notional for sell-side option orders, which carry
	// exchange margin beyond the premium.
	shortFactor float64
}

// NewMarginChecker creates a checker sharing the gate's capital view.
func NewMarginChecker(gate *Gate, shortFactor float64) *MarginChecker {
	if shortFactor <= 0 {
		shortFactor = 1.0
	}
	return &MarginChecker{gate: gate, shortFactor: shortFactor}
}

// Check estimates margin for price × qty on the given side. Committed
// capital is the entry notional of all open positions. Product (MIS vs
// NRML) is deliberately not an input: since the exchange's peak margin
// regime removed the intraday benefit, both products require the same
// margin and the estimate collapses to side alone.
func (c *MarginChecker) Check(price, qty int64, side model.Side) MarginResult {
	notional := price * qty
	if notional < 0 {
		notional = 0
	}

	required := notional
	if side == model.SideSell {
		required = int64(float64(notional) * c.shortFactor)
	}

	var committed int64
	c.gate.acct.View(func(st *model.AccountState) {
		for _, pos := range st.OpenPositions {
			committed += pos.Notional()
		}
	})

	available := c.gate.CurrentCapital() - committed
	return MarginResult{
		Required:  required,
		Available: available,
		Shortfall: max64(0, required-available),
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
