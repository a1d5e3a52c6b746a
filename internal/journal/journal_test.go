package journal

import (
	"path/filepath"
	"testing"
	"time"

	"paperdesk/internal/model"
)

func TestJournalRecordAndQuery(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	err = j.RecordOrder(model.Order{
		OrderID: "PAPER-1", Timestamp: now, Symbol: "NIFTY24500CE",
		Side: model.SideBuy, Qty: 25, Type: model.OrderMarket,
		Status: model.OrderExecuted, AvgPrice: 10005, Slippage: 5,
	})
	if err != nil {
		t.Fatalf("record order: %v", err)
	}

	for i := 0; i < 3; i++ {
		err = j.RecordTrade(model.ClosedTrade{
			ID: "TRD-" + string(rune('a'+i)), Symbol: "NIFTY24500CE",
			Side: model.SideBuy, Qty: 25, EntryPrice: 10000, ExitPrice: 12000,
			EntryTime: now, ExitTime: now.Add(time.Hour),
			GrossPnL: 50000, NetPnL: 47000,
			Charges:    model.ChargeBreakdown{Total: 3000},
			ExitReason: model.CloseTarget, Mode: "PAPER",
		})
		if err != nil {
			t.Fatalf("record trade: %v", err)
		}
	}

	trades, err := j.RecentTrades(2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("limit not honored: got %d rows", len(trades))
	}
	if trades[0].TradeID != "TRD-c" {
		t.Errorf("newest first: got %s", trades[0].TradeID)
	}
	if trades[0].NetPnL != 47000 || trades[0].Charges != 3000 {
		t.Errorf("row values: %+v", trades[0])
	}
}
