// Package journal persists the order and trade audit trail to SQLite for
// offline analysis. The JSON state file remains authoritative for recovery;
// the journal is write-mostly and query-only from the HTTP history endpoint.
package journal

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"paperdesk/internal/model"
)

// Journal wraps a SQLite database in WAL mode.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the journal database at dbPath.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id      TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		side          TEXT NOT NULL,
		qty           INTEGER NOT NULL,
		order_type    TEXT NOT NULL,
		product       TEXT,
		price         INTEGER DEFAULT 0,
		trigger_price INTEGER DEFAULT 0,
		status        TEXT NOT NULL,
		avg_price     INTEGER DEFAULT 0,
		slippage      INTEGER DEFAULT 0,
		reason        TEXT,
		strategy_tag  TEXT,
		submitted_at  DATETIME NOT NULL,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

	CREATE TABLE IF NOT EXISTS closed_trades (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id     TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		side         TEXT NOT NULL,
		qty          INTEGER NOT NULL,
		entry_price  INTEGER NOT NULL,
		exit_price   INTEGER NOT NULL,
		entry_time   DATETIME NOT NULL,
		exit_time    DATETIME NOT NULL,
		gross_pnl    INTEGER NOT NULL,
		net_pnl      INTEGER NOT NULL,
		charges      INTEGER NOT NULL,
		strategy_tag TEXT,
		exit_reason  TEXT NOT NULL,
		mode         TEXT NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON closed_trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON closed_trades(exit_time);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened audit journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordOrder persists one order audit row.
func (j *Journal) RecordOrder(ord model.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO orders (order_id, symbol, side, qty, order_type, product, price,
		                     trigger_price, status, avg_price, slippage, reason, strategy_tag, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ord.OrderID, ord.Symbol, string(ord.Side), ord.Qty, string(ord.Type), ord.Product,
		ord.Price, ord.TriggerPrice, string(ord.Status), ord.AvgPrice, ord.Slippage,
		ord.Reason, ord.StrategyTag, ord.Timestamp.Format(time.RFC3339),
	)
	return err
}

// RecordTrade persists one completed round trip.
func (j *Journal) RecordTrade(trade model.ClosedTrade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO closed_trades (trade_id, symbol, side, qty, entry_price, exit_price,
		                            entry_time, exit_time, gross_pnl, net_pnl, charges,
		                            strategy_tag, exit_reason, mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.Symbol, string(trade.Side), trade.Qty, trade.EntryPrice, trade.ExitPrice,
		trade.EntryTime.Format(time.RFC3339), trade.ExitTime.Format(time.RFC3339),
		trade.GrossPnL, trade.NetPnL, trade.Charges.Total, trade.StrategyTag,
		string(trade.ExitReason), trade.Mode,
	)
	return err
}

// TradeRow is a row from the closed_trades table.
type TradeRow struct {
	ID          int64  `json:"id"`
	TradeID     string `json:"trade_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Qty         int64  `json:"qty"`
	EntryPrice  int64  `json:"entry_price"`
	ExitPrice   int64  `json:"exit_price"`
	EntryTime   string `json:"entry_time"`
	ExitTime    string `json:"exit_time"`
	GrossPnL    int64  `json:"gross_pnl"`
	NetPnL      int64  `json:"net_pnl"`
	Charges     int64  `json:"charges"`
	StrategyTag string `json:"strategy_tag"`
	ExitReason  string `json:"exit_reason"`
	Mode        string `json:"mode"`
}

// RecentTrades returns the last limit trades, newest first.
func (j *Journal) RecentTrades(limit int) ([]TradeRow, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, trade_id, symbol, side, qty, entry_price, exit_price,
		        entry_time, exit_time, gross_pnl, net_pnl, charges,
		        strategy_tag, exit_reason, mode
		 FROM closed_trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.ID, &t.TradeID, &t.Symbol, &t.Side, &t.Qty,
			&t.EntryPrice, &t.ExitPrice, &t.EntryTime, &t.ExitTime,
			&t.GrossPnL, &t.NetPnL, &t.Charges, &t.StrategyTag, &t.ExitReason, &t.Mode); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DB exposes the underlying handle for liveness probes.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
