// Package statestore persists AccountState to disk with crash-safe writes.
//
// Every save serializes the full state to a temp file and atomically renames
// it over the canonical path, so the canonical file is never partially
// written. Load tolerates a missing or corrupted file by falling back to a
// fresh state — availability over perfect recovery, which the operator must
// know about (it is logged loudly).
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"paperdesk/internal/model"
)

// DateLayout is the calendar-date marker stored in LastUpdated.
const DateLayout = "2006-01-02"

// Store reads and writes a single AccountState JSON file.
type Store struct {
	path string
	loc  *time.Location // local timezone for rollover detection
}

// New creates a store writing to path. loc is the trading-day timezone.
func New(path string, loc *time.Location) *Store {
	return &Store{path: path, loc: loc}
}

// Save atomically writes state to disk. LastUpdated is stamped with the
// current local date before serialization.
func (s *Store) Save(state *model.AccountState) error {
	state.LastUpdated = time.Now().In(s.loc).Format(DateLayout)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("statestore mkdir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("statestore write tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("statestore rename: %w", err)
	}
	return nil
}

// Load reads the persisted state. A missing file yields a fresh state; a
// corrupted file also yields a fresh state (logged as critical — this is a
// deliberate availability-over-durability tradeoff). Day rollover is applied:
// if the stored date is before today, daily PnL and the kill switch reset
// while open positions are kept.
func (s *Store) Load() *model.AccountState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[statestore] CRITICAL: read failed (%v) — starting with fresh state", err)
		}
		return model.NewAccountState()
	}

	state := model.NewAccountState()
	if err := json.Unmarshal(data, state); err != nil {
		log.Printf("[statestore] CRITICAL: state file corrupted (%v) — starting with fresh state", err)
		return model.NewAccountState()
	}
	if state.OpenPositions == nil {
		state.OpenPositions = make(map[string]*model.Position)
	}

	if s.RolloverDue(state, time.Now()) {
		ApplyRollover(state)
	}
	return state
}

// RolloverDue reports whether state belongs to an earlier calendar day than
// now in the store's timezone.
func (s *Store) RolloverDue(state *model.AccountState, now time.Time) bool {
	if state.LastUpdated == "" {
		return false
	}
	stored, err := time.ParseInLocation(DateLayout, state.LastUpdated, s.loc)
	if err != nil {
		log.Printf("[statestore] unparseable last_updated %q — treating as stale", state.LastUpdated)
		return true
	}
	today := now.In(s.loc)
	y, m, d := today.Date()
	return stored.Before(time.Date(y, m, d, 0, 0, 0, 0, s.loc))
}

// ApplyRollover resets the daily cycle: daily PnL to zero and kill switch
// off. Open positions persist across days until closed.
func ApplyRollover(state *model.AccountState) {
	log.Printf("[statestore] new trading day — resetting daily PnL (was %d) and kill switch (was %v)",
		state.DailyPnL, state.KillSwitchActive)
	state.DailyPnL = 0
	state.KillSwitchActive = false
}

// Clear removes the canonical state file. Used by the full-reset endpoint.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("statestore clear: %w", err)
	}
	return nil
}
