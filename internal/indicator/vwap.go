package indicator

// VWAP calculates the session volume-weighted average price. Reset at day
// start; ticks with zero volume fall back to weight 1 so replayed data
// without volume still produces a usable average.
type VWAP struct {
	sumPV  float64
	sumVol float64
	count  int
}

// NewVWAP creates a session VWAP indicator.
func NewVWAP() *VWAP {
	return &VWAP{}
}

func (v *VWAP) Name() string { return "VWAP" }

func (v *VWAP) Update(pricePaise, volume int64) {
	w := float64(volume)
	if w <= 0 {
		w = 1
	}
	v.sumPV += float64(pricePaise) * w
	v.sumVol += w
	v.count++
}

// Value returns the VWAP in paise.
func (v *VWAP) Value() float64 {
	if v.sumVol == 0 {
		return 0
	}
	return v.sumPV / v.sumVol
}

func (v *VWAP) Ready() bool { return v.count > 0 }

func (v *VWAP) Reset() {
	v.sumPV = 0
	v.sumVol = 0
	v.count = 0
}
