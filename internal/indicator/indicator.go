// Package indicator implements streaming technical indicators over tick
// prices. Every indicator is O(1) per update with no history scans, so the
// polling loop can feed them on every cycle without accumulation cost.
package indicator

// Indicator consumes a stream of prices (paise) and exposes a derived value.
type Indicator interface {
	Name() string
	Update(pricePaise, volume int64)
	Value() float64
	Ready() bool
	Reset()
}
