package costs

import (
	"testing"

	"paperdesk/internal/model"
)

func TestCompute_BuySellAsymmetry(t *testing.T) {
	m := New(DefaultRates())

	// 100 rupees × 50 qty = 500000 paise notional
	buy := m.Compute(model.SideBuy, 10000, 50)
	sell := m.Compute(model.SideSell, 10000, 50)

	if buy.STT != 0 {
		t.Errorf("STT must not apply on buy side, got %d", buy.STT)
	}
	if sell.STT == 0 {
		t.Error("STT must apply on sell side")
	}
	if sell.StampDuty != 0 {
		t.Errorf("stamp duty must not apply on sell side, got %d", sell.StampDuty)
	}
	if buy.StampDuty == 0 {
		t.Error("stamp duty must apply on buy side")
	}
	if buy.Brokerage != 2000 || sell.Brokerage != 2000 {
		t.Errorf("flat brokerage expected 2000 paise, got buy=%d sell=%d", buy.Brokerage, sell.Brokerage)
	}
}

func TestCompute_TotalIsSumOfParts(t *testing.T) {
	m := New(DefaultRates())
	b := m.Compute(model.SideSell, 12345, 75)
	sum := b.Brokerage + b.STT + b.ExchangeTxn + b.StampDuty + b.SEBIFees + b.GST
	if b.Total != sum {
		t.Errorf("total %d != sum of components %d", b.Total, sum)
	}
}

func TestCompute_ExactSellCharges(t *testing.T) {
	m := New(DefaultRates())
	// 500000 paise turnover: STT = 500 paise, exchange = 175.15 → 175,
	// SEBI = 0.5 → 1 (rounded), GST = 0.18 * (2000+175+1) = 391.68 → 392
	b := m.Compute(model.SideSell, 10000, 50)
	if b.STT != 500 {
		t.Errorf("STT: got %d, want 500", b.STT)
	}
	if b.ExchangeTxn != 175 {
		t.Errorf("exchange txn: got %d, want 175", b.ExchangeTxn)
	}
	if b.SEBIFees != 1 {
		t.Errorf("SEBI fees: got %d, want 1", b.SEBIFees)
	}
	if b.GST != 392 {
		t.Errorf("GST: got %d, want 392", b.GST)
	}
}

func TestCompute_ClampsNonPositiveInputs(t *testing.T) {
	m := New(DefaultRates())
	for _, tc := range []struct{ price, qty int64 }{
		{0, 50}, {-100, 50}, {10000, 0}, {10000, -25},
	} {
		b := m.Compute(model.SideBuy, tc.price, tc.qty)
		if b.Total != 0 {
			t.Errorf("price=%d qty=%d: expected zero charges, got total=%d", tc.price, tc.qty, b.Total)
		}
	}
}

func TestRoundTrip_CombinesBothLegs(t *testing.T) {
	m := New(DefaultRates())
	rt := m.RoundTrip(model.SideBuy, 10000, 11000, 50)
	entry := m.Compute(model.SideBuy, 10000, 50)
	exit := m.Compute(model.SideSell, 11000, 50)
	if rt.Total != entry.Total+exit.Total {
		t.Errorf("round trip total %d != entry %d + exit %d", rt.Total, entry.Total, exit.Total)
	}
	if rt.STT != exit.STT {
		t.Errorf("round trip STT should come from the sell leg only")
	}
}
