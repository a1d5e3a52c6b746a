package strategy

import (
	"fmt"

	"paperdesk/internal/indicator"
	"paperdesk/internal/model"
)

func init() {
	RegisterFactory("rsi_reversal", func(symbol string, params map[string]float64) (Strategy, error) {
		period := int(param(params, "period", 14))
		if period < 2 {
			return nil, fmt.Errorf("period must be ≥ 2, got %d", period)
		}
		return NewRSIReversal(symbol, period,
			param(params, "oversold", 30),
			param(params, "stop_pct", 0.01),
			param(params, "target_pct", 0.02)), nil
	})
}

// RSIReversal buys oversold bounces: RSI dropping below the oversold level
// arms the entry, and the first RSI reading back above it fires the signal.
type RSIReversal struct {
	symbol    string
	rsi       *indicator.RSI
	oversold  float64
	stopPct   float64
	targetPct float64
	armed     bool
}

// NewRSIReversal creates the strategy with the given RSI period and
// oversold threshold (typically 30).
func NewRSIReversal(symbol string, period int, oversold, stopPct, targetPct float64) *RSIReversal {
	return &RSIReversal{
		symbol:    symbol,
		rsi:       indicator.NewRSI(period),
		oversold:  oversold,
		stopPct:   stopPct,
		targetPct: targetPct,
	}
}

func (s *RSIReversal) Name() string { return "rsi_reversal" }

func (s *RSIReversal) ProcessTick(tick model.Tick) *Signal {
	s.rsi.Update(tick.Price, tick.Volume)
	if !s.rsi.Ready() {
		return nil
	}

	value := s.rsi.Value()
	if value <= s.oversold {
		s.armed = true
		return nil
	}
	if !s.armed {
		return nil
	}

	s.armed = false
	entry := tick.Price
	return &Signal{
		Symbol:     s.symbol,
		Side:       model.SideBuy,
		EntryPrice: entry,
		StopLoss:   entry - int64(float64(entry)*s.stopPct),
		Target:     entry + int64(float64(entry)*s.targetPct),
		Reason:     fmt.Sprintf("RSI recovered from oversold (rsi=%.1f)", value),
	}
}
