package strategy

import (
	"fmt"

	"paperdesk/internal/markethours"
	"paperdesk/internal/model"
)

func init() {
	RegisterFactory("timer_entry", func(symbol string, params map[string]float64) (Strategy, error) {
		hour := int(param(params, "hour", 9))
		minute := int(param(params, "minute", 20))
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("invalid entry time %02d:%02d", hour, minute)
		}
		return NewTimerEntry(symbol, hour, minute,
			param(params, "stop_pct", 0.01),
			param(params, "target_pct", 0.02)), nil
	})
}

// TimerEntry fires a single long entry at the first tick on or after a fixed
// IST time of day. Used for open-drive style entries where the edge is the
// clock, not an indicator.
type TimerEntry struct {
	symbol    string
	hour      int
	minute    int
	stopPct   float64
	targetPct float64
	firedDay  string // "2006-01-02" of the last fire, one entry per day
}

// NewTimerEntry creates the strategy firing at hour:minute IST.
func NewTimerEntry(symbol string, hour, minute int, stopPct, targetPct float64) *TimerEntry {
	return &TimerEntry{
		symbol:    symbol,
		hour:      hour,
		minute:    minute,
		stopPct:   stopPct,
		targetPct: targetPct,
	}
}

func (s *TimerEntry) Name() string { return "timer_entry" }

func (s *TimerEntry) ProcessTick(tick model.Tick) *Signal {
	ist := tick.TickTS.In(markethours.IST)
	day := ist.Format("2006-01-02")
	if day == s.firedDay {
		return nil
	}
	if ist.Hour() < s.hour || (ist.Hour() == s.hour && ist.Minute() < s.minute) {
		return nil
	}

	s.firedDay = day
	entry := tick.Price
	return &Signal{
		Symbol:     s.symbol,
		Side:       model.SideBuy,
		EntryPrice: entry,
		StopLoss:   entry - int64(float64(entry)*s.stopPct),
		Target:     entry + int64(float64(entry)*s.targetPct),
		Reason:     fmt.Sprintf("timed entry at %02d:%02d IST", s.hour, s.minute),
	}
}
