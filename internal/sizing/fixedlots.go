package sizing

func init() {
	Register("fixed", func() Sizer { return &FixedLots{Lots: 1} })
}

// FixedLots always recommends a fixed number of lots, subject to the
// per-trade risk cap. Used for manual deployments that opt out of Kelly.
type FixedLots struct {
	Lots int64
}

func (f *FixedLots) Name() string { return "fixed" }

func (f *FixedLots) Size(in Input) int64 {
	if f.Lots <= 0 || in.LotSize <= 0 {
		return 0
	}
	qty := f.Lots * in.LotSize

	// Respect the risk cap: shrink lot count until per-trade risk fits.
	riskPerUnit := in.EntryPrice - in.StopLoss
	if riskPerUnit < 0 {
		riskPerUnit = -riskPerUnit
	}
	if riskPerUnit == 0 {
		return 0
	}
	maxRisk := int64(float64(in.Capital) * in.RiskCapPct)
	for qty > 0 && qty*riskPerUnit > maxRisk {
		qty -= in.LotSize
	}
	return qty
}
