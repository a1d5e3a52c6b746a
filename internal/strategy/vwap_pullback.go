package strategy

import (
	"fmt"

	"paperdesk/internal/indicator"
	"paperdesk/internal/model"
)

func init() {
	RegisterFactory("vwap_pullback", func(symbol string, params map[string]float64) (Strategy, error) {
		bps := int64(param(params, "entry_bps", 30))
		if bps <= 0 {
			return nil, fmt.Errorf("entry_bps must be positive, got %d", bps)
		}
		return NewVWAPPullback(symbol, bps,
			param(params, "stop_pct", 0.01),
			param(params, "target_pct", 0.02)), nil
	})
}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// VWAPPullback buys when price dips a configured number of basis points
// below session VWAP and snaps back above it, betting on mean reversion
// toward the volume-weighted average. One signal per dip cycle.
type VWAPPullback struct {
	symbol    string
	vwap      *indicator.VWAP
	dipBps    int64
	stopPct   float64
	targetPct float64
	dipped    bool // saw price below VWAP − dipBps since last signal
}

// NewVWAPPullback creates the strategy. dipBps is the pullback depth below
// VWAP that arms the entry; stopPct/targetPct are fractions of entry price.
func NewVWAPPullback(symbol string, dipBps int64, stopPct, targetPct float64) *VWAPPullback {
	return &VWAPPullback{
		symbol:    symbol,
		vwap:      indicator.NewVWAP(),
		dipBps:    dipBps,
		stopPct:   stopPct,
		targetPct: targetPct,
	}
}

func (s *VWAPPullback) Name() string { return "vwap_pullback" }

func (s *VWAPPullback) ProcessTick(tick model.Tick) *Signal {
	s.vwap.Update(tick.Price, tick.Volume)
	if !s.vwap.Ready() {
		return nil
	}

	vwap := int64(s.vwap.Value())
	dipLevel := vwap - vwap*s.dipBps/10000

	if tick.Price <= dipLevel {
		s.dipped = true
		return nil
	}
	if !s.dipped || tick.Price < vwap {
		return nil
	}

	// Recovered above VWAP after an armed dip.
	s.dipped = false
	entry := tick.Price
	return &Signal{
		Symbol:     s.symbol,
		Side:       model.SideBuy,
		EntryPrice: entry,
		StopLoss:   entry - int64(float64(entry)*s.stopPct),
		Target:     entry + int64(float64(entry)*s.targetPct),
		Reason:     fmt.Sprintf("VWAP pullback recovery (vwap=%d)", vwap),
	}
}
