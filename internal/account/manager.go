// Package account owns the single mutable AccountState instance.
//
// Every read and mutation — from the market-data loop, manual close requests,
// and strategy execution — goes through one mutex held by the Manager. A
// mutation persists synchronously through the state store before it is
// acknowledged, so a crash immediately after a close cannot lose realized PnL.
package account

import (
	"log"
	"sync"
	"time"

	"paperdesk/internal/model"
	"paperdesk/internal/statestore"
)

// Manager serializes access to the process-wide AccountState.
type Manager struct {
	mu    sync.Mutex
	state *model.AccountState
	store *statestore.Store

	// onChange, if set, receives a deep copy of the state after every
	// persisted mutation. Called outside the lock.
	onChange func(*model.AccountState)

	// onSave, if set, receives the latency of each state persistence.
	// Called outside the lock.
	onSave func(time.Duration)
}

// NewManager loads persisted state (applying day rollover) and wraps it.
func NewManager(store *statestore.Store) *Manager {
	return &Manager{
		state: store.Load(),
		store: store,
	}
}

// OnChange registers a snapshot hook invoked after each persisted mutation.
func (m *Manager) OnChange(fn func(*model.AccountState)) {
	m.onChange = fn
}

// OnSave registers a hook receiving the duration of each state save,
// used to feed the persistence latency histogram.
func (m *Manager) OnSave(fn func(time.Duration)) {
	m.onSave = fn
}

// View runs fn with read access to the state under the lock. fn must not
// retain references past its return.
func (m *Manager) View(fn func(st *model.AccountState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

// Mutate runs fn under the lock and, if fn returns nil, persists the state
// before returning. An fn error aborts without persisting; the caller must
// not have left partial changes behind in that case.
func (m *Manager) Mutate(fn func(st *model.AccountState) error) error {
	m.mu.Lock()
	err := fn(m.state)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	start := time.Now()
	if saveErr := m.store.Save(m.state); saveErr != nil {
		// Mutation already applied in memory; losing the write is logged,
		// not rolled back — the next save retries the full state.
		log.Printf("[account] WARNING: state save failed: %v", saveErr)
	}
	saveDur := time.Since(start)
	var snap *model.AccountState
	if m.onChange != nil {
		snap = m.state.Clone()
	}
	m.mu.Unlock()

	if m.onSave != nil {
		m.onSave(saveDur)
	}
	if snap != nil {
		m.onChange(snap)
	}
	return nil
}

// Snapshot returns a deep copy safe to serialize without holding the lock.
func (m *Manager) Snapshot() *model.AccountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// RolloverIfDue checks the stored calendar date against now and applies the
// daily reset (PnL to zero, kill switch off, positions kept) when a new
// trading day has started. Called once per polling cycle.
func (m *Manager) RolloverIfDue(now time.Time) bool {
	due := false
	m.View(func(st *model.AccountState) {
		due = m.store.RolloverDue(st, now)
	})
	if !due {
		return false
	}
	_ = m.Mutate(func(st *model.AccountState) error {
		statestore.ApplyRollover(st)
		return nil
	})
	return true
}

// Reset wipes the state back to fresh. Used by the admin reset endpoint.
func (m *Manager) Reset() error {
	return m.Mutate(func(st *model.AccountState) error {
		*st = *model.NewAccountState()
		return nil
	})
}
