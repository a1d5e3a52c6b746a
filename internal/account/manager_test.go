package account

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"paperdesk/internal/model"
	"paperdesk/internal/statestore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(statestore.New(filepath.Join(t.TempDir(), "state.json"), time.UTC))
}

func TestMutate_InvokesSaveAndChangeHooks(t *testing.T) {
	m := newTestManager(t)

	saves := 0
	var lastDur time.Duration
	m.OnSave(func(d time.Duration) {
		saves++
		lastDur = d
	})
	changes := 0
	m.OnChange(func(st *model.AccountState) {
		changes++
		if st.DailyPnL != -1234 {
			t.Errorf("snapshot pnl: %d", st.DailyPnL)
		}
	})

	err := m.Mutate(func(st *model.AccountState) error {
		st.DailyPnL = -1234
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if saves != 1 {
		t.Errorf("save hook calls: %d", saves)
	}
	if lastDur < 0 {
		t.Errorf("save duration: %v", lastDur)
	}
	if changes != 1 {
		t.Errorf("change hook calls: %d", changes)
	}
}

func TestMutate_ErrorSkipsHooks(t *testing.T) {
	m := newTestManager(t)
	m.OnSave(func(time.Duration) { t.Error("save hook must not fire on aborted mutation") })
	m.OnChange(func(*model.AccountState) { t.Error("change hook must not fire on aborted mutation") })

	err := m.Mutate(func(st *model.AccountState) error {
		return errAbort
	})
	if err != errAbort {
		t.Fatalf("err: %v", err)
	}
}

var errAbort = errors.New("abort")
