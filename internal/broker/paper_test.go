package broker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"paperdesk/internal/account"
	"paperdesk/internal/costs"
	"paperdesk/internal/model"
	"paperdesk/internal/notification"
	"paperdesk/internal/risk"
	"paperdesk/internal/sizing"
	"paperdesk/internal/statestore"
)

func newTestBroker(t *testing.T, slippageBps int64) (*PaperBroker, *account.Manager) {
	t.Helper()
	store := statestore.New(filepath.Join(t.TempDir(), "state.json"), time.UTC)
	acct := account.NewManager(store)
	gate := risk.NewGate(risk.GateConfig{
		TotalCapital:    100000000, // ₹1,000,000 — roomy enough for margin checks
		MaxDailyLossPct: 0.05,
		MinRiskReward:   2.0,
		RiskCapPct:      0.05,
		LotSize:         25,
	}, sizing.NewKelly(0.45, 2.0), acct)
	margin := risk.NewMarginChecker(gate, 1.0)
	b := New(acct, gate, margin, costs.New(costs.DefaultRates()), Options{
		SlippageBps: slippageBps,
		Now:         func() time.Time { return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC) },
	})
	return b, acct
}

func mustExecute(t *testing.T, b *PaperBroker, req OrderRequest, ltp int64) model.Order {
	t.Helper()
	ord, err := b.Execute(req, ltp)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ord.Status != model.OrderExecuted && ord.Status != model.OrderAccepted {
		t.Fatalf("order not accepted: %s (%s)", ord.Status, ord.Reason)
	}
	return ord
}

func openTokens(acct *account.Manager) []string {
	var tokens []string
	acct.View(func(st *model.AccountState) {
		for token := range st.OpenPositions {
			tokens = append(tokens, token)
		}
	})
	return tokens
}

func TestExecute_SlippageDirection(t *testing.T) {
	b, acct := newTestBroker(t, 5)

	// BUY at ltp 10000 with 5 bps → fill 10005, slippage hurts.
	buy := mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 25, Type: model.OrderMarket, StopLoss: 9000,
	}, 10000)
	if buy.AvgPrice != 10005 {
		t.Errorf("buy fill: got %d, want 10005", buy.AvgPrice)
	}
	if buy.Slippage != 5 {
		t.Errorf("buy slippage: got %d, want 5", buy.Slippage)
	}

	// SELL at ltp 10000 → fill 9995.
	sell := mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500PE", Side: model.SideSell, Qty: 25, Type: model.OrderMarket, StopLoss: 11000,
	}, 10000)
	if sell.AvgPrice != 9995 {
		t.Errorf("sell fill: got %d, want 9995", sell.AvgPrice)
	}

	var open int
	acct.View(func(st *model.AccountState) { open = len(st.OpenPositions) })
	if open != 2 {
		t.Errorf("open positions: got %d, want 2", open)
	}
}

func TestExecute_RejectionIsRecordedNotError(t *testing.T) {
	b, acct := newTestBroker(t, 0)

	ord, err := b.Execute(OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 0, Type: model.OrderMarket,
	}, 10000)
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if ord.Status != model.OrderRejected {
		t.Fatalf("status: got %s, want REJECTED", ord.Status)
	}
	if ord.Reason == "" {
		t.Error("rejection must carry a reason")
	}

	// Rejected orders still land in the audit log; no position opens.
	acct.View(func(st *model.AccountState) {
		if len(st.Orders) != 1 || st.Orders[0].Status != model.OrderRejected {
			t.Errorf("audit log: %+v", st.Orders)
		}
		if len(st.OpenPositions) != 0 {
			t.Error("rejected order must not open a position")
		}
	})
}

func TestExecute_StopLossRequired(t *testing.T) {
	b, _ := newTestBroker(t, 0)

	ord, err := b.Execute(OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 25, Type: model.OrderMarket,
	}, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if ord.Status != model.OrderRejected || ord.Reason != "Stop-loss is required" {
		t.Errorf("order without stop: %s (%s)", ord.Status, ord.Reason)
	}
}

func TestExecute_MarginRejection(t *testing.T) {
	b, _ := newTestBroker(t, 0)

	// Notional 10000 × 500000 = 5,000,000,000 paise, far beyond capital.
	ord, err := b.Execute(OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 500000, Type: model.OrderMarket, StopLoss: 9000,
	}, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if ord.Status != model.OrderRejected {
		t.Fatalf("expected margin rejection, got %s", ord.Status)
	}
}

func TestClose_RealizesNetPnLAndCharges(t *testing.T) {
	b, acct := newTestBroker(t, 0)

	mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 50, Type: model.OrderMarket, StopLoss: 9000,
	}, 10000)
	token := openTokens(acct)[0]

	trade, err := b.Close(token, model.CloseManual, 12000)
	if err != nil {
		t.Fatal(err)
	}
	if trade.GrossPnL != 100000 { // (12000-10000)×50
		t.Errorf("gross: got %d, want 100000", trade.GrossPnL)
	}
	if trade.Charges.Total <= 0 {
		t.Error("round-trip charges must be positive")
	}
	if trade.NetPnL != trade.GrossPnL-trade.Charges.Total {
		t.Errorf("net %d != gross %d − charges %d", trade.NetPnL, trade.GrossPnL, trade.Charges.Total)
	}
	if trade.ExitReason != model.CloseManual {
		t.Errorf("exit reason: %s", trade.ExitReason)
	}

	acct.View(func(st *model.AccountState) {
		if st.DailyPnL != trade.NetPnL {
			t.Errorf("daily PnL %d != trade net %d", st.DailyPnL, trade.NetPnL)
		}
		if len(st.OpenPositions) != 0 {
			t.Error("position must be removed on close")
		}
	})
}

func TestClose_DoubleCloseRejected(t *testing.T) {
	b, acct := newTestBroker(t, 0)

	mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 25, Type: model.OrderMarket, StopLoss: 9000,
	}, 10000)
	token := openTokens(acct)[0]

	if _, err := b.Close(token, model.CloseManual, 10500); err != nil {
		t.Fatal(err)
	}
	_, err := b.Close(token, model.CloseManual, 10500)
	if !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("double close: got %v, want ErrPositionNotFound", err)
	}

	// Exactly one trade recorded, PnL realized once.
	acct.View(func(st *model.AccountState) {
		if len(st.ClosedTrades) != 1 {
			t.Errorf("closed trades: got %d, want 1", len(st.ClosedTrades))
		}
	})
}

func TestUpdateMark_AutoTargetAndStop(t *testing.T) {
	b, acct := newTestBroker(t, 0)

	// BUY entry 10000, stop 9000, target 12000.
	mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 25, Type: model.OrderMarket,
		StopLoss: 9000, Target: 12000,
	}, 10000)

	// A tick between the levels holds the position.
	if err := b.UpdateMark("NIFTY24500CE", 11000); err != nil {
		t.Fatal(err)
	}
	if n := len(openTokens(acct)); n != 1 {
		t.Fatalf("position closed early, open=%d", n)
	}

	// Target touch closes at the target price, not the tick price.
	if err := b.UpdateMark("NIFTY24500CE", 12500); err != nil {
		t.Fatal(err)
	}
	acct.View(func(st *model.AccountState) {
		if len(st.OpenPositions) != 0 {
			t.Fatal("target touch must close the position")
		}
		trade := st.ClosedTrades[0]
		if trade.ExitReason != model.CloseTarget {
			t.Errorf("reason: %s", trade.ExitReason)
		}
		if trade.ExitPrice != 12000 {
			t.Errorf("exit price: got %d, want 12000", trade.ExitPrice)
		}
	})

	// Fresh position: stop side.
	mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500PE", Side: model.SideBuy, Qty: 25, Type: model.OrderMarket,
		StopLoss: 9000, Target: 12000,
	}, 10000)
	if err := b.UpdateMark("NIFTY24500PE", 8800); err != nil {
		t.Fatal(err)
	}
	acct.View(func(st *model.AccountState) {
		trade := st.ClosedTrades[len(st.ClosedTrades)-1]
		if trade.ExitReason != model.CloseStop {
			t.Errorf("reason: %s", trade.ExitReason)
		}
		if trade.ExitPrice != 9000 {
			t.Errorf("exit price: got %d, want 9000", trade.ExitPrice)
		}
	})
}

func TestUpdateMark_ShortSideTriggers(t *testing.T) {
	b, acct := newTestBroker(t, 0)

	// SELL entry 10000: target below, stop above.
	mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideSell, Qty: 25, Type: model.OrderMarket,
		StopLoss: 11000, Target: 8000,
	}, 10000)
	if err := b.UpdateMark("NIFTY24500CE", 7900); err != nil {
		t.Fatal(err)
	}
	acct.View(func(st *model.AccountState) {
		if len(st.OpenPositions) != 0 {
			t.Fatal("short target touch must close")
		}
		trade := st.ClosedTrades[0]
		if trade.ExitReason != model.CloseTarget || trade.ExitPrice != 8000 {
			t.Errorf("trade: %+v", trade)
		}
		if trade.GrossPnL != (10000-8000)*25 {
			t.Errorf("short gross: got %d", trade.GrossPnL)
		}
	})
}

func TestLimitOrder_PendingThenFilledOnCross(t *testing.T) {
	b, acct := newTestBroker(t, 5)

	ord := mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 25,
		Type: model.OrderLimit, LimitPrice: 9500, StopLoss: 9000,
	}, 10000)
	if ord.Status != model.OrderAccepted {
		t.Fatalf("limit order must be pending, got %s", ord.Status)
	}
	if n := len(b.PendingOrders()); n != 1 {
		t.Fatalf("pending: %d", n)
	}

	// Price above the limit does not fill a buy.
	if err := b.UpdateMark("NIFTY24500CE", 9800); err != nil {
		t.Fatal(err)
	}
	if n := len(openTokens(acct)); n != 0 {
		t.Fatal("limit must not fill before crossing")
	}

	// Crossing fills at the limit price, no extra slippage.
	if err := b.UpdateMark("NIFTY24500CE", 9400); err != nil {
		t.Fatal(err)
	}
	acct.View(func(st *model.AccountState) {
		if len(st.OpenPositions) != 1 {
			t.Fatal("limit must fill on crossing")
		}
		for _, pos := range st.OpenPositions {
			if pos.EntryPrice != 9500 {
				t.Errorf("limit fill price: got %d, want 9500", pos.EntryPrice)
			}
			if pos.StopLoss != 9000 {
				t.Errorf("filled position must inherit the stop: got %d", pos.StopLoss)
			}
		}
	})
	if n := len(b.PendingOrders()); n != 0 {
		t.Errorf("pending after fill: %d", n)
	}
}

func TestSLMOrder_FillsAtTrigger(t *testing.T) {
	b, acct := newTestBroker(t, 5)

	ord := mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 25,
		Type: model.OrderSLM, TriggerPrice: 10500, StopLoss: 10000,
	}, 10000)
	if ord.Status != model.OrderAccepted {
		t.Fatalf("SL-M order must rest, got %s", ord.Status)
	}

	// Below the trigger a buy stop does not fire.
	if err := b.UpdateMark("NIFTY24500CE", 10400); err != nil {
		t.Fatal(err)
	}
	if n := len(openTokens(acct)); n != 0 {
		t.Fatal("SL-M must not fill before the trigger")
	}

	// Crossing fills at the trigger price, not the tick price.
	if err := b.UpdateMark("NIFTY24500CE", 10600); err != nil {
		t.Fatal(err)
	}
	acct.View(func(st *model.AccountState) {
		if len(st.OpenPositions) != 1 {
			t.Fatal("SL-M must fill on trigger")
		}
		for _, pos := range st.OpenPositions {
			if pos.EntryPrice != 10500 {
				t.Errorf("SL-M fill price: got %d, want 10500", pos.EntryPrice)
			}
		}
	})
}

func TestSLOrder_ArmsOnTriggerFillsAtLimit(t *testing.T) {
	b, acct := newTestBroker(t, 5)

	// Buy stop-limit: arm at 10500, pay no more than 10600.
	ord := mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 25,
		Type: model.OrderSL, TriggerPrice: 10500, LimitPrice: 10600, StopLoss: 10000,
	}, 10000)
	if ord.Status != model.OrderAccepted {
		t.Fatalf("SL order must rest, got %s", ord.Status)
	}

	// Below the trigger nothing happens.
	if err := b.UpdateMark("NIFTY24500CE", 10400); err != nil {
		t.Fatal(err)
	}
	if n := len(openTokens(acct)); n != 0 {
		t.Fatal("SL must not fill before the trigger")
	}

	// Gapping past the limit arms the stop but leaves the limit resting.
	if err := b.UpdateMark("NIFTY24500CE", 10700); err != nil {
		t.Fatal(err)
	}
	if n := len(openTokens(acct)); n != 0 {
		t.Fatal("armed SL must not fill above its limit")
	}

	// Price pulling back within the limit fills at the limit price.
	if err := b.UpdateMark("NIFTY24500CE", 10550); err != nil {
		t.Fatal(err)
	}
	acct.View(func(st *model.AccountState) {
		if len(st.OpenPositions) != 1 {
			t.Fatal("armed SL must fill once price is within the limit")
		}
		for _, pos := range st.OpenPositions {
			if pos.EntryPrice != 10600 {
				t.Errorf("SL fill price: got %d, want 10600", pos.EntryPrice)
			}
			if pos.StopLoss != 10000 {
				t.Errorf("SL position stop: got %d, want 10000", pos.StopLoss)
			}
		}
	})
}

func TestSLOrder_RequiresTriggerAndLimit(t *testing.T) {
	b, _ := newTestBroker(t, 0)
	ord, err := b.Execute(OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 25,
		Type: model.OrderSL, TriggerPrice: 10500, StopLoss: 10000,
	}, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if ord.Status != model.OrderRejected || ord.Reason != "SL order requires trigger and limit prices" {
		t.Errorf("order: %s (%s)", ord.Status, ord.Reason)
	}
}

func TestCancelOrder(t *testing.T) {
	b, acct := newTestBroker(t, 0)

	ord := mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 25,
		Type: model.OrderLimit, LimitPrice: 9500, StopLoss: 9000,
	}, 10000)
	if err := b.CancelOrder(ord.OrderID); err != nil {
		t.Fatal(err)
	}
	if err := b.CancelOrder(ord.OrderID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("second cancel: got %v", err)
	}
	acct.View(func(st *model.AccountState) {
		if st.Orders[0].Status != model.OrderCancelled {
			t.Errorf("audit status: %s", st.Orders[0].Status)
		}
	})

	// Cancelled order never fills.
	if err := b.UpdateMark("NIFTY24500CE", 9000); err != nil {
		t.Fatal(err)
	}
	if n := len(openTokens(acct)); n != 0 {
		t.Error("cancelled limit order filled")
	}
}

func TestForceCloseAll(t *testing.T) {
	b, acct := newTestBroker(t, 0)

	for _, sym := range []string{"NIFTY24500CE", "NIFTY24500PE", "NIFTY24600CE"} {
		mustExecute(t, b, OrderRequest{
			Symbol: sym, Side: model.SideBuy, Qty: 25, Type: model.OrderMarket, StopLoss: 9000,
		}, 10000)
	}
	if err := b.UpdateMark("NIFTY24500CE", 10200); err != nil {
		t.Fatal(err)
	}

	n, err := b.ForceCloseAll(model.CloseForced)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("closed: got %d, want 3", n)
	}
	acct.View(func(st *model.AccountState) {
		if len(st.OpenPositions) != 0 {
			t.Error("positions remain after force close")
		}
		if len(st.ClosedTrades) != 3 {
			t.Errorf("trades: %d", len(st.ClosedTrades))
		}
		for _, trade := range st.ClosedTrades {
			if trade.ExitReason != model.CloseForced {
				t.Errorf("reason: %s", trade.ExitReason)
			}
		}
	})
}

func TestKillSwitch_BlocksEntriesAllowsExits(t *testing.T) {
	b, acct := newTestBroker(t, 0)

	// Two positions; one big loser whose close trips the kill switch
	// (limit = −5% of 100000000 = −5000000 paise).
	mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 2000, Type: model.OrderMarket, StopLoss: 9000,
	}, 10000)
	mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500PE", Side: model.SideBuy, Qty: 25, Type: model.OrderMarket, StopLoss: 9000,
	}, 10000)

	var loser string
	acct.View(func(st *model.AccountState) {
		loser = st.FindPositionBySymbol("NIFTY24500CE").Token
	})
	if _, err := b.Close(loser, model.CloseManual, 7000); err != nil { // −6,000,000 gross
		t.Fatal(err)
	}

	acct.View(func(st *model.AccountState) {
		if !st.KillSwitchActive {
			t.Fatal("kill switch must trip on breaching the daily loss limit")
		}
	})

	// New entry rejected.
	ord, err := b.Execute(OrderRequest{
		Symbol: "NIFTY24600CE", Side: model.SideBuy, Qty: 25, Type: model.OrderMarket, StopLoss: 9000,
	}, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if ord.Status != model.OrderRejected || ord.Reason != "Kill switch active" {
		t.Errorf("entry while halted: %s (%s)", ord.Status, ord.Reason)
	}

	// Existing position can still be closed.
	var remaining string
	acct.View(func(st *model.AccountState) {
		remaining = st.FindPositionBySymbol("NIFTY24500PE").Token
	})
	if _, err := b.Close(remaining, model.CloseManual, 10100); err != nil {
		t.Errorf("close while halted must succeed: %v", err)
	}
}

func TestStatePersistedAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := statestore.New(path, time.UTC)
	acct := account.NewManager(store)
	gate := risk.NewGate(risk.GateConfig{
		TotalCapital: 100000000, MaxDailyLossPct: 0.05, MinRiskReward: 2.0,
		RiskCapPct: 0.05, LotSize: 25,
	}, sizing.NewKelly(0.45, 2.0), acct)
	b := New(acct, gate, risk.NewMarginChecker(gate, 1.0), costs.New(costs.DefaultRates()), Options{})

	mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 25, Type: model.OrderMarket, StopLoss: 9000,
	}, 10000)

	// Same file, fresh manager — the open position survives.
	acct2 := account.NewManager(statestore.New(path, time.UTC))
	acct2.View(func(st *model.AccountState) {
		if len(st.OpenPositions) != 1 {
			t.Fatalf("restart lost positions: %d", len(st.OpenPositions))
		}
		if st.FindPositionBySymbol("NIFTY24500CE") == nil {
			t.Error("position symbol missing after reload")
		}
	})
}

type captureNotifier struct {
	alerts []notification.Alert
}

func (c *captureNotifier) Send(ctx context.Context, a notification.Alert) error {
	c.alerts = append(c.alerts, a)
	return nil
}

func TestAlerts_CarryStructuredFields(t *testing.T) {
	store := statestore.New(filepath.Join(t.TempDir(), "state.json"), time.UTC)
	acct := account.NewManager(store)
	gate := risk.NewGate(risk.GateConfig{
		TotalCapital: 100000000, MaxDailyLossPct: 0.05, MinRiskReward: 2.0,
		RiskCapPct: 0.05, LotSize: 25,
	}, sizing.NewKelly(0.45, 2.0), acct)
	sink := &captureNotifier{}
	b := New(acct, gate, risk.NewMarginChecker(gate, 1.0), costs.New(costs.DefaultRates()), Options{
		Notifier: sink,
	})

	mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500CE", Side: model.SideBuy, Qty: 2000, Type: model.OrderMarket, StopLoss: 9000,
	}, 10000)
	mustExecute(t, b, OrderRequest{
		Symbol: "NIFTY24500PE", Side: model.SideBuy, Qty: 25, Type: model.OrderMarket, StopLoss: 9000,
	}, 10000)

	var loser string
	acct.View(func(st *model.AccountState) {
		loser = st.FindPositionBySymbol("NIFTY24500CE").Token
	})
	if _, err := b.Close(loser, model.CloseManual, 7000); err != nil { // trips the kill switch
		t.Fatal(err)
	}

	if len(sink.alerts) != 1 {
		t.Fatalf("alerts after kill switch: %d", len(sink.alerts))
	}
	ks := sink.alerts[0]
	if ks.Event != notification.EventKillSwitch || ks.Level != notification.AlertCritical {
		t.Errorf("kill switch alert: event=%s level=%s", ks.Event, ks.Level)
	}
	if ks.Symbol != "NIFTY24500CE" {
		t.Errorf("alert symbol: %q", ks.Symbol)
	}
	if ks.PnLRupees >= 0 {
		t.Errorf("alert pnl must be negative: %v", ks.PnLRupees)
	}
	if ks.Reason != string(model.CloseManual) {
		t.Errorf("alert reason: %q", ks.Reason)
	}

	if _, err := b.ForceCloseAll(model.CloseTimeExit); err != nil {
		t.Fatal(err)
	}
	if len(sink.alerts) != 2 {
		t.Fatalf("alerts after force close: %d", len(sink.alerts))
	}
	fc := sink.alerts[1]
	if fc.Event != notification.EventForceClose || fc.ClosedCount != 1 {
		t.Errorf("force close alert: event=%s closed=%d", fc.Event, fc.ClosedCount)
	}
	if fc.Reason != string(model.CloseTimeExit) {
		t.Errorf("force close reason: %q", fc.Reason)
	}
}
