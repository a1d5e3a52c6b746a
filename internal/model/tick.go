package model

import "time"

// Tick is a single polled quote for an instrument.
// Price is stored as int64 in paise (1 INR = 100 paise) to avoid float drift.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  int64     `json:"price"`  // paise (LTP)
	Volume int64     `json:"volume"` // cumulative day volume, 0 if unavailable
	TickTS time.Time `json:"tick_ts"`
}
