package statestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"paperdesk/internal/model"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "trading_state.json"), time.UTC)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := tempStore(t)

	state := model.NewAccountState()
	state.DailyPnL = -123456
	state.KillSwitchActive = true
	state.OpenPositions["tok-1"] = &model.Position{
		Token:      "tok-1",
		Symbol:     "NIFTY24500CE",
		Side:       model.SideBuy,
		Qty:        50,
		EntryPrice: 10000,
		StopLoss:   9000,
		Target:     12000,
		MarkPrice:  10500,
		EntryTime:  time.Now().UTC().Truncate(time.Second),
	}

	if err := s.Save(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := s.Load()
	if loaded.DailyPnL != -123456 {
		t.Errorf("daily_pnl: got %d, want -123456", loaded.DailyPnL)
	}
	if !loaded.KillSwitchActive {
		t.Error("kill switch flag lost in round trip")
	}
	pos, ok := loaded.OpenPositions["tok-1"]
	if !ok {
		t.Fatal("open position lost in round trip")
	}
	if pos.Symbol != "NIFTY24500CE" || pos.Qty != 50 || pos.EntryPrice != 10000 {
		t.Errorf("position fields corrupted: %+v", pos)
	}
}

func TestSaveLoad_EmptyState(t *testing.T) {
	s := tempStore(t)
	if err := s.Save(model.NewAccountState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded := s.Load()
	if loaded.DailyPnL != 0 || loaded.KillSwitchActive || len(loaded.OpenPositions) != 0 {
		t.Errorf("empty state round trip mismatch: %+v", loaded)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	s := tempStore(t)
	loaded := s.Load()
	if loaded == nil || loaded.OpenPositions == nil {
		t.Fatal("missing file must yield a usable fresh state")
	}
}

func TestLoad_CorruptedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trading_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(path, time.UTC)
	loaded := s.Load()
	if loaded.DailyPnL != 0 || loaded.KillSwitchActive {
		t.Errorf("corrupted file must fall back to fresh state, got %+v", loaded)
	}
}

func TestLoad_NoPartialFileLeftBehind(t *testing.T) {
	s := tempStore(t)
	if err := s.Save(model.NewAccountState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(s.path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestDayRollover_ResetsPnLKeepsPositions(t *testing.T) {
	s := tempStore(t)

	state := model.NewAccountState()
	state.DailyPnL = -500000
	state.KillSwitchActive = true
	state.OpenPositions["tok-1"] = &model.Position{Token: "tok-1", Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 50, EntryPrice: 10000}
	if err := s.Save(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Backdate the stored marker to yesterday.
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(DateLayout)
	raw, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatal(err)
	}
	today := time.Now().UTC().Format(DateLayout)
	patched := strings.ReplaceAll(string(raw), today, yesterday)
	if err := os.WriteFile(s.path, []byte(patched), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := s.Load()
	if loaded.DailyPnL != 0 {
		t.Errorf("daily_pnl not reset on rollover: %d", loaded.DailyPnL)
	}
	if loaded.KillSwitchActive {
		t.Error("kill switch not reset on rollover")
	}
	if _, ok := loaded.OpenPositions["tok-1"]; !ok {
		t.Error("open position must survive day rollover")
	}
}

func TestRolloverDue_SameDay(t *testing.T) {
	s := tempStore(t)
	state := model.NewAccountState()
	state.LastUpdated = time.Now().UTC().Format(DateLayout)
	if s.RolloverDue(state, time.Now()) {
		t.Error("same-day state must not trigger rollover")
	}
}

