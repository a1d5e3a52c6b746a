// Package risk implements the gatekeeper in front of the paper broker:
// kill-switch state, risk:reward validation, position sizing delegation,
// and margin estimation.
package risk

import (
	"fmt"
	"log"

	"paperdesk/internal/account"
	"paperdesk/internal/model"
	"paperdesk/internal/sizing"
)

// GateConfig holds the risk thresholds. Monetary values in paise.
type GateConfig struct {
	TotalCapital    int64
	MaxDailyLossPct float64 // halt when daily PnL ≤ −pct × capital
	MinRiskReward   float64 // inclusive boundary: ratio ≥ min passes
	RiskCapPct      float64
	LotSize         int64
}

// Verdict is the structured result of a trade validation. Rejections are
// expected, frequent control flow — not errors.
type Verdict struct {
	Approved     bool   `json:"approved"`
	Reason       string `json:"reason"`
	SuggestedQty int64  `json:"suggested_qty"`
}

// Gate is a two-state machine over the shared account: ACTIVE (trading
// permitted) and HALTED (kill switch engaged; new entries rejected, existing
// positions may still be closed). ACTIVE → HALTED on breaching the daily
// loss limit; HALTED → ACTIVE only via day rollover, never mid-day.
type Gate struct {
	cfg   GateConfig
	sizer sizing.Sizer
	acct  *account.Manager
}

// NewGate creates a risk gate using sizer for quantity recommendations.
func NewGate(cfg GateConfig, sizer sizing.Sizer, acct *account.Manager) *Gate {
	return &Gate{cfg: cfg, sizer: sizer, acct: acct}
}

// MaxDailyLoss returns the halt threshold in paise (a negative number).
func (g *Gate) MaxDailyLoss() int64 {
	return -int64(g.cfg.MaxDailyLossPct * float64(g.cfg.TotalCapital))
}

// Halted reports whether the kill switch is currently engaged.
func (g *Gate) Halted() bool {
	halted := false
	g.acct.View(func(st *model.AccountState) {
		halted = st.KillSwitchActive
	})
	return halted
}

// EvaluateKillSwitch re-checks the halt condition against st and engages the
// kill switch if breached. Must be called with st already under the account
// lock (i.e. from inside a Mutate closure). Returns true if the switch
// tripped on this call.
func (g *Gate) EvaluateKillSwitch(st *model.AccountState) bool {
	if st.KillSwitchActive {
		return false
	}
	if st.DailyPnL <= g.MaxDailyLoss() {
		st.KillSwitchActive = true
		log.Printf("[risk] KILL SWITCH TRIGGERED: daily PnL %d <= limit %d", st.DailyPnL, g.MaxDailyLoss())
		return true
	}
	return false
}

// ValidateTrade runs the full gate: kill switch, risk:reward, then sizing.
// Prices in paise. Mandatory for strategy-originated entries; advisory for
// manual ones.
func (g *Gate) ValidateTrade(entry, stop, target int64) Verdict {
	if g.Halted() {
		return Verdict{Approved: false, Reason: "Kill switch active"}
	}

	riskPerUnit := abs(entry - stop)
	if riskPerUnit == 0 {
		return Verdict{Approved: false, Reason: "Invalid risk: stop loss equals entry"}
	}
	reward := abs(target - entry)
	ratio := float64(reward) / float64(riskPerUnit)
	if ratio < g.cfg.MinRiskReward {
		return Verdict{
			Approved: false,
			Reason:   fmt.Sprintf("R:R %.2f is below minimum %.2f", ratio, g.cfg.MinRiskReward),
		}
	}

	qty := g.sizer.Size(sizing.Input{
		EntryPrice: entry,
		StopLoss:   stop,
		Target:     target,
		Capital:    g.CurrentCapital(),
		RiskCapPct: g.cfg.RiskCapPct,
		LotSize:    g.cfg.LotSize,
	})
	if qty == 0 {
		return Verdict{Approved: false, Reason: "Position size computed to zero: edge insufficient or risk cap too tight"}
	}

	return Verdict{Approved: true, Reason: "Approved", SuggestedQty: qty}
}

// CurrentCapital derives available capital from the configured total plus
// realized daily PnL. The single source of truth for capital is the config;
// there is no separate broker cash balance.
func (g *Gate) CurrentCapital() int64 {
	var pnl int64
	g.acct.View(func(st *model.AccountState) {
		pnl = st.DailyPnL
	})
	return g.cfg.TotalCapital + pnl
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
