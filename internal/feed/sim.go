package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"paperdesk/internal/model"
)

// SimSource generates quotes with a small random walk per symbol. Used in
// sim mode and by the backtest replayer when no recorded data is given.
type SimSource struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]int64
	vols   map[string]int64
	now    func() time.Time
}

// NewSimSource creates a simulated source. start maps symbols to their
// initial price in paise; symbols fetched without a start price begin at
// ₹100.
func NewSimSource(start map[string]int64, seed int64) *SimSource {
	prices := make(map[string]int64, len(start))
	for sym, p := range start {
		prices[sym] = p
	}
	return &SimSource{
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
		vols:   make(map[string]int64),
		now:    time.Now,
	}
}

// SetClock overrides the tick timestamp source. The backtest replayer uses
// this to march quotes through a synthetic trading session.
func (s *SimSource) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Fetch walks each symbol's price by ±0.1% and returns the new quotes.
func (s *SimSource) Fetch(_ context.Context, symbols []string) ([]model.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticks := make([]model.Tick, 0, len(symbols))
	for _, sym := range symbols {
		price, ok := s.prices[sym]
		if !ok {
			price = 10000
		}
		pct := (s.rng.Float64()*0.2 - 0.1) / 100.0
		price += int64(float64(price) * pct)
		if price < 100 {
			price = 100 // options don't trade below ₹1 in this sim
		}
		s.prices[sym] = price
		s.vols[sym] += int64(s.rng.Intn(100) + 1)

		ticks = append(ticks, model.Tick{
			Symbol: sym,
			Price:  price,
			Volume: s.vols[sym],
			TickTS: s.now(),
		})
	}
	return ticks, nil
}
