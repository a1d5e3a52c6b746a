// Package sizing provides pluggable position-sizing strategies.
//
// A Sizer turns trade economics (entry, stop, capital) into a recommended
// quantity. Implementations are registered in a lookup table keyed by id so
// deployments can select one at runtime.
package sizing

import "sort"

// Input carries the trade economics for a sizing decision.
// Prices and capital are in paise.
type Input struct {
	EntryPrice int64
	StopLoss   int64
	Target     int64
	Capital    int64
	RiskCapPct float64 // hard per-trade risk cap as a fraction of capital
	LotSize    int64
}

// Sizer computes a recommended quantity for a trade. A return of 0 means
// the trade is not sizeable (insufficient edge or degenerate inputs) — that
// is a rejection signal, not an error.
type Sizer interface {
	Name() string
	Size(in Input) int64
}

// Registry maps sizer ids to constructors, following the same id-keyed
// plugin convention as the strategy registry.
var registry = map[string]func() Sizer{}

// Register adds a sizer constructor under id. Later registrations win.
func Register(id string, ctor func() Sizer) {
	registry[id] = ctor
}

// New constructs the sizer registered under id, or nil if unknown.
func New(id string) Sizer {
	ctor, ok := registry[id]
	if !ok {
		return nil
	}
	return ctor()
}

// IDs returns the registered sizer ids, sorted.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
