package strategy

import (
	"testing"
	"time"

	"paperdesk/internal/markethours"
	"paperdesk/internal/model"
)

type stubStrategy struct {
	name string
	sig  *Signal
}

func (s *stubStrategy) Name() string                       { return s.name }
func (s *stubStrategy) ProcessTick(tick model.Tick) *Signal { return s.sig }

func tickAt(symbol string, price int64, ts time.Time) model.Tick {
	return model.Tick{Symbol: symbol, Price: price, TickTS: ts}
}

func TestRouter_FansOutBySymbol(t *testing.T) {
	var got []Signal
	r := NewRouter(func(sig Signal) { got = append(got, sig) })

	r.Deploy("dep-ce", "stub", "NIFTY24500CE", &stubStrategy{name: "stub", sig: &Signal{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, EntryPrice: 10000, StopLoss: 9000, Target: 12000,
	}})
	r.Deploy("dep-pe", "stub", "NIFTY24500PE", &stubStrategy{name: "stub", sig: &Signal{
		Symbol: "NIFTY24500PE", Side: model.SideBuy, EntryPrice: 10000, StopLoss: 9000, Target: 12000,
	}})

	r.OnTick(tickAt("NIFTY24500CE", 10000, time.Now()))
	if len(got) != 1 {
		t.Fatalf("signals: got %d, want 1", len(got))
	}
	if got[0].StrategyTag != "dep-ce" {
		t.Errorf("signal must carry the deployment id, got %q", got[0].StrategyTag)
	}
	if got[0].Symbol != "NIFTY24500CE" {
		t.Errorf("wrong symbol: %s", got[0].Symbol)
	}
}

func TestRouter_DeployUndeploy(t *testing.T) {
	fired := 0
	r := NewRouter(func(Signal) { fired++ })

	r.Deploy("dep-1", "stub", "NIFTY24500CE", &stubStrategy{name: "stub", sig: &Signal{}})
	if len(r.Deployments()) != 1 {
		t.Fatal("deployment missing")
	}
	if !r.Undeploy("dep-1") {
		t.Fatal("undeploy must report success")
	}
	if r.Undeploy("dep-1") {
		t.Error("second undeploy must report absence")
	}
	r.OnTick(tickAt("NIFTY24500CE", 10000, time.Now()))
	if fired != 0 {
		t.Error("undeployed strategy still firing")
	}
}

func TestNewFromKind_UnknownKind(t *testing.T) {
	if _, err := NewFromKind("no-such-kind", "NIFTY24500CE", nil); err == nil {
		t.Fatal("unknown kind must error")
	}
}

func TestKinds_RegisteredViaInit(t *testing.T) {
	kinds := Kinds()
	want := map[string]bool{"vwap_pullback": false, "rsi_reversal": false, "timer_entry": false}
	for _, k := range kinds {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("kind %q not registered", k)
		}
	}
}

func TestVWAPPullback_DipThenRecoveryFires(t *testing.T) {
	s := NewVWAPPullback("NIFTY24500CE", 30, 0.01, 0.02)
	now := time.Now()

	// Establish VWAP around 10000.
	for i := 0; i < 10; i++ {
		if sig := s.ProcessTick(model.Tick{Symbol: "NIFTY24500CE", Price: 10000, Volume: 100, TickTS: now}); sig != nil {
			t.Fatal("no signal expected while flat")
		}
	}
	// Dip well below VWAP-30bps (arm), then recover above VWAP (fire).
	if sig := s.ProcessTick(model.Tick{Symbol: "NIFTY24500CE", Price: 9900, Volume: 10, TickTS: now}); sig != nil {
		t.Fatal("dip itself must not fire")
	}
	sig := s.ProcessTick(model.Tick{Symbol: "NIFTY24500CE", Price: 10010, Volume: 10, TickTS: now})
	if sig == nil {
		t.Fatal("recovery after dip must fire")
	}
	if sig.Side != model.SideBuy || sig.StopLoss >= sig.EntryPrice || sig.Target <= sig.EntryPrice {
		t.Errorf("malformed signal: %+v", sig)
	}

	// One signal per dip cycle.
	if sig := s.ProcessTick(model.Tick{Symbol: "NIFTY24500CE", Price: 10020, Volume: 10, TickTS: now}); sig != nil {
		t.Error("must not fire again without a fresh dip")
	}
}

func TestRSIReversal_OversoldBounceFires(t *testing.T) {
	s := NewRSIReversal("NIFTY24500CE", 3, 30, 0.01, 0.02)
	now := time.Now()
	feed := func(price int64) *Signal {
		return s.ProcessTick(model.Tick{Symbol: "NIFTY24500CE", Price: price, TickTS: now})
	}

	// Steady decline drives RSI to 0 (armed).
	price := int64(10000)
	for i := 0; i < 6; i++ {
		if sig := feed(price); sig != nil {
			t.Fatal("decline must not fire")
		}
		price -= 100
	}
	// Bounces lift RSI back above 30 — first crossing fires.
	var sig *Signal
	for i := 0; i < 6 && sig == nil; i++ {
		price += 100
		sig = feed(price)
	}
	if sig == nil {
		t.Fatal("bounce must eventually fire")
	}
	if sig.Side != model.SideBuy {
		t.Errorf("side: %s", sig.Side)
	}
}

func TestTimerEntry_FiresOncePerDay(t *testing.T) {
	s := NewTimerEntry("NIFTY24500CE", 9, 20, 0.01, 0.02)
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, markethours.IST)

	early := day.Add(9*time.Hour + 16*time.Minute)
	if sig := s.ProcessTick(tickAt("NIFTY24500CE", 10000, early)); sig != nil {
		t.Fatal("must not fire before the entry time")
	}

	onTime := day.Add(9*time.Hour + 21*time.Minute)
	sig := s.ProcessTick(tickAt("NIFTY24500CE", 10000, onTime))
	if sig == nil {
		t.Fatal("must fire at the entry time")
	}
	if sig.StopLoss != 9900 || sig.Target != 10200 {
		t.Errorf("levels: stop=%d target=%d", sig.StopLoss, sig.Target)
	}

	later := day.Add(11 * time.Hour)
	if s.ProcessTick(tickAt("NIFTY24500CE", 10000, later)) != nil {
		t.Error("must fire at most once per day")
	}

	nextDay := day.AddDate(0, 0, 1).Add(10 * time.Hour)
	if s.ProcessTick(tickAt("NIFTY24500CE", 10000, nextDay)) == nil {
		t.Error("must fire again on the next day")
	}
}
