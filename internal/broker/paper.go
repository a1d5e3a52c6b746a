// Package broker simulates order execution against live or replayed quotes.
// Fills, mark-to-market updates, and closes all flow through the shared
// account state under a single broker-level mutex, so every acknowledged
// mutation is persisted before the caller sees it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"paperdesk/internal/account"
	"paperdesk/internal/costs"
	"paperdesk/internal/markethours"
	"paperdesk/internal/model"
	"paperdesk/internal/notification"
	"paperdesk/internal/risk"
)

var (
	// ErrPositionNotFound is returned when closing a token that has no open
	// position — including the second of two racing close attempts.
	ErrPositionNotFound = errors.New("position not found")
	// ErrOrderNotFound is returned when cancelling an unknown or already
	// settled order.
	ErrOrderNotFound = errors.New("order not found or not pending")
)

// Journal receives every order and completed trade for offline audit.
// Failures are logged, never propagated: the JSON state file remains the
// source of truth.
type Journal interface {
	RecordOrder(model.Order) error
	RecordTrade(model.ClosedTrade) error
}

// OrderRequest is a validated-at-the-edge request to open a position.
// Prices in paise. StopLoss/Target of 0 mean none.
type OrderRequest struct {
	Symbol       string
	Side         model.Side
	Qty          int64
	Type         model.OrderType
	Product      string
	LimitPrice   int64 // required for LIMIT
	TriggerPrice int64 // for SL-M
	StopLoss     int64
	Target       int64
	StrategyTag  string
}

// PaperBroker executes simulated orders. All entry points serialize on one
// mutex; account mutations nest inside it via account.Manager (lock order:
// broker.mu then acct), so position lifecycle transitions are atomic with
// their persistence.
type PaperBroker struct {
	mu     sync.Mutex
	acct   *account.Manager
	gate   *risk.Gate
	margin *risk.MarginChecker
	costs  *costs.Model

	slippageBps  int64
	enforceHours bool
	now          func() time.Time

	journal  Journal
	notifier notification.Notifier

	// Resting LIMIT and SL-M orders awaiting a crossing price, keyed by
	// order id.
	pending map[string]*pendingOrder

	// Alerts raised inside Mutate closures, delivered after the account
	// lock is released.
	queuedAlerts []notification.Alert
}

// Options configures optional broker behavior.
type Options struct {
	SlippageBps  int64
	EnforceHours bool                  // reject entries outside NSE hours
	Now          func() time.Time      // test hook; defaults to time.Now
	Journal      Journal               // nil = no SQLite audit
	Notifier     notification.Notifier // nil = log only
}

// New creates a paper broker over the shared account.
func New(acct *account.Manager, gate *risk.Gate, margin *risk.MarginChecker, cm *costs.Model, opts Options) *PaperBroker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notification.NewLogNotifier()
	}
	return &PaperBroker{
		acct:         acct,
		gate:         gate,
		margin:       margin,
		costs:        cm,
		slippageBps:  opts.SlippageBps,
		enforceHours: opts.EnforceHours,
		now:          opts.Now,
		journal:      opts.Journal,
		notifier:     opts.Notifier,
		pending:      make(map[string]*pendingOrder),
	}
}

// Execute submits an order. ltp is the last traded price used for market
// fills and margin checks. A rejected order is not an error: it is recorded
// in the audit log with Status REJECTED and returned with a Reason. The
// error return is reserved for infrastructure failures.
func (b *PaperBroker) Execute(req OrderRequest, ltp int64) (model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ord := model.Order{
		OrderID:      "PAPER-" + uuid.New().String(),
		Timestamp:    b.now(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		Qty:          req.Qty,
		Type:         req.Type,
		Product:      req.Product,
		Price:        req.LimitPrice,
		TriggerPrice: req.TriggerPrice,
		StrategyTag:  req.StrategyTag,
	}

	if reason := b.rejectReason(req, ltp); reason != "" {
		ord.Status = model.OrderRejected
		ord.Reason = reason
		if err := b.recordOrder(ord); err != nil {
			return ord, err
		}
		log.Printf("[broker] REJECTED %s %s qty=%d: %s", req.Side, req.Symbol, req.Qty, reason)
		return ord, nil
	}

	if req.Type == model.OrderLimit || req.Type == model.OrderSL || req.Type == model.OrderSLM {
		ord.Status = model.OrderAccepted
		if req.Type == model.OrderLimit {
			ord.Reason = "awaiting crossing price"
		} else {
			ord.Reason = "awaiting trigger price"
		}
		if err := b.recordOrder(ord); err != nil {
			return ord, err
		}
		b.pending[ord.OrderID] = &pendingOrder{ord: ord, stopLoss: req.StopLoss, target: req.Target}
		log.Printf("[broker] ACCEPTED %s %s %s qty=%d limit=%d trigger=%d (ltp=%d)",
			req.Type, req.Side, req.Symbol, req.Qty, req.LimitPrice, req.TriggerPrice, ltp)
		return ord, nil
	}

	fillPrice, slip := b.applySlippage(ltp, req.Side)
	ord.Status = model.OrderExecuted
	ord.AvgPrice = fillPrice
	ord.Slippage = slip

	err := b.acct.Mutate(func(st *model.AccountState) error {
		st.Orders = append(st.Orders, ord)
		pos := b.openPosition(ord, req)
		st.OpenPositions[pos.Token] = pos
		return nil
	})
	if err != nil {
		return ord, err
	}
	b.journalOrder(ord)

	log.Printf("[broker] FILLED %s %s qty=%d price=%d (slip=%d) order=%s tag=%s",
		req.Side, req.Symbol, req.Qty, fillPrice, slip, ord.OrderID, req.StrategyTag)
	return ord, nil
}

// rejectReason runs the pre-trade checks in order: kill switch, market
// hours, basic shape, then margin. Empty string means accepted.
func (b *PaperBroker) rejectReason(req OrderRequest, ltp int64) string {
	if b.gate.Halted() {
		return "Kill switch active"
	}
	if b.enforceHours && !markethours.IsMarketOpen(b.now()) {
		return "Market closed"
	}
	if req.Qty <= 0 {
		return "Quantity must be positive"
	}
	if req.StopLoss <= 0 {
		return "Stop-loss is required"
	}
	if req.Type == model.OrderLimit && req.LimitPrice <= 0 {
		return "Limit order requires a limit price"
	}
	if req.Type == model.OrderSLM && req.TriggerPrice <= 0 {
		return "SL-M order requires a trigger price"
	}
	if req.Type == model.OrderSL && (req.TriggerPrice <= 0 || req.LimitPrice <= 0) {
		return "SL order requires trigger and limit prices"
	}
	refPrice := ltp
	switch req.Type {
	case model.OrderLimit:
		refPrice = req.LimitPrice
	case model.OrderSL, model.OrderSLM:
		refPrice = req.TriggerPrice
	}
	if refPrice <= 0 {
		return "No reference price available"
	}
	if res := b.margin.Check(refPrice, req.Qty, req.Side); res.Shortfall > 0 {
		return fmt.Sprintf("Insufficient margin: required %d, available %d", res.Required, res.Available)
	}
	return ""
}

// applySlippage worsens the fill by slippageBps of price: buys fill higher,
// sells fill lower.
func (b *PaperBroker) applySlippage(price int64, side model.Side) (fill, slip int64) {
	slip = price * b.slippageBps / 10000
	if side == model.SideBuy {
		return price + slip, slip
	}
	return price - slip, slip
}

func (b *PaperBroker) openPosition(ord model.Order, req OrderRequest) *model.Position {
	return &model.Position{
		Token:       "PAPER-" + uuid.New().String(),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Qty:         req.Qty,
		EntryPrice:  ord.AvgPrice,
		EntryTime:   ord.Timestamp,
		StopLoss:    req.StopLoss,
		Target:      req.Target,
		StrategyTag: req.StrategyTag,
		MarkPrice:   ord.AvgPrice,
		Product:     req.Product,
	}
}

// UpdateMark applies a new last traded price for symbol: updates the mark on
// every open position in that symbol, settles triggered stop/target exits,
// and fills any pending LIMIT order the price has crossed.
func (b *PaperBroker) UpdateMark(symbol string, price int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	type exit struct {
		token  string
		reason model.CloseReason
		price  int64
	}
	var exits []exit

	err := b.acct.Mutate(func(st *model.AccountState) error {
		for token, pos := range st.OpenPositions {
			if pos.Symbol != symbol {
				continue
			}
			pos.MarkPrice = price
			if reason, exitPrice, hit := triggeredExit(pos, price); hit {
				exits = append(exits, exit{token: token, reason: reason, price: exitPrice})
			}
		}
		for _, e := range exits {
			if err := b.closeLocked(st, e.token, e.reason, e.price); err != nil {
				return err
			}
		}
		return b.fillCrossedLimits(st, symbol, price)
	})
	b.flushAlerts()
	return err
}

// triggeredExit checks stop/target levels against price. Target is checked
// first: on a bar that gaps through both levels the optimistic fill wins,
// which is a known simplification of intrabar ordering.
func triggeredExit(pos *model.Position, price int64) (model.CloseReason, int64, bool) {
	if pos.Side == model.SideBuy {
		if pos.Target > 0 && price >= pos.Target {
			return model.CloseTarget, pos.Target, true
		}
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			return model.CloseStop, pos.StopLoss, true
		}
		return "", 0, false
	}
	if pos.Target > 0 && price <= pos.Target {
		return model.CloseTarget, pos.Target, true
	}
	if pos.StopLoss > 0 && price >= pos.StopLoss {
		return model.CloseStop, pos.StopLoss, true
	}
	return "", 0, false
}

// pendingOrder is a resting LIMIT or SL-M order plus the exit levels the
// position inherits on fill.
type pendingOrder struct {
	ord       model.Order
	stopLoss  int64
	target    int64
	triggered bool // SL only: trigger crossed, now resting as a limit
}

// fillCrossedLimits converts resting orders hit by price into open positions.
// LIMIT orders fill at their limit price, SL-M orders at their trigger, both
// with no additional slippage.
func (b *PaperBroker) fillCrossedLimits(st *model.AccountState, symbol string, price int64) error {
	if st.KillSwitchActive {
		// A resting-order fill is a new entry: held back while halted.
		return nil
	}
	for id, p := range b.pending {
		ord := &p.ord
		if ord.Symbol != symbol {
			continue
		}
		var crossed bool
		var fillPrice int64
		switch ord.Type {
		case model.OrderSLM:
			// Stop orders trigger in the adverse direction.
			crossed = (ord.Side == model.SideBuy && price >= ord.TriggerPrice) ||
				(ord.Side == model.SideSell && price <= ord.TriggerPrice)
			fillPrice = ord.TriggerPrice
		case model.OrderSL:
			// Stop-limit: arms on the trigger, then rests as a limit.
			if !p.triggered {
				p.triggered = (ord.Side == model.SideBuy && price >= ord.TriggerPrice) ||
					(ord.Side == model.SideSell && price <= ord.TriggerPrice)
			}
			if p.triggered {
				crossed = (ord.Side == model.SideBuy && price <= ord.Price) ||
					(ord.Side == model.SideSell && price >= ord.Price)
			}
			fillPrice = ord.Price
		default:
			crossed = (ord.Side == model.SideBuy && price <= ord.Price) ||
				(ord.Side == model.SideSell && price >= ord.Price)
			fillPrice = ord.Price
		}
		if !crossed {
			continue
		}

		ord.Status = model.OrderExecuted
		ord.AvgPrice = fillPrice
		ord.Reason = fmt.Sprintf("%s crossed at ltp %d", ord.Type, price)
		updateOrderStatus(st, *ord)
		pos := b.openPosition(*ord, OrderRequest{
			Symbol:      ord.Symbol,
			Side:        ord.Side,
			Qty:         ord.Qty,
			Product:     ord.Product,
			StopLoss:    p.stopLoss,
			Target:      p.target,
			StrategyTag: ord.StrategyTag,
		})
		st.OpenPositions[pos.Token] = pos
		delete(b.pending, id)
		b.journalOrder(*ord)
		log.Printf("[broker] %s FILLED %s %s qty=%d at %d order=%s", ord.Type, ord.Side, ord.Symbol, ord.Qty, fillPrice, id)
	}
	return nil
}

// Close exits the position identified by token at exitPrice with the given
// reason. Closing an unknown token — including a double close — returns
// ErrPositionNotFound.
func (b *PaperBroker) Close(token string, reason model.CloseReason, exitPrice int64) (model.ClosedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var closed model.ClosedTrade
	err := b.acct.Mutate(func(st *model.AccountState) error {
		if err := b.closeLocked(st, token, reason, exitPrice); err != nil {
			return err
		}
		closed = st.ClosedTrades[len(st.ClosedTrades)-1]
		return nil
	})
	b.flushAlerts()
	return closed, err
}

// closeLocked performs the atomic close inside an account Mutate closure:
// remove the position, append the trade record, realize PnL, re-check the
// kill switch.
func (b *PaperBroker) closeLocked(st *model.AccountState, token string, reason model.CloseReason, exitPrice int64) error {
	pos, ok := st.OpenPositions[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, token)
	}
	delete(st.OpenPositions, token)

	gross := pos.GrossPnL(exitPrice)
	charges := b.costs.RoundTrip(pos.Side, pos.EntryPrice, exitPrice, pos.Qty)
	net := gross - charges.Total

	trade := model.ClosedTrade{
		ID:          "TRD-" + uuid.New().String(),
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Qty:         pos.Qty,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		EntryTime:   pos.EntryTime,
		ExitTime:    b.now(),
		GrossPnL:    gross,
		NetPnL:      net,
		Charges:     charges,
		StrategyTag: pos.StrategyTag,
		ExitReason:  reason,
		Mode:        "PAPER",
	}
	st.ClosedTrades = append(st.ClosedTrades, trade)
	st.DailyPnL += net

	log.Printf("[broker] CLOSED %s %s qty=%d entry=%d exit=%d gross=%d net=%d reason=%s",
		pos.Side, pos.Symbol, pos.Qty, pos.EntryPrice, exitPrice, gross, net, reason)

	if b.gate.EvaluateKillSwitch(st) {
		b.queueAlert(notification.Alert{
			Level:     notification.AlertCritical,
			Event:     notification.EventKillSwitch,
			Title:     "Kill switch triggered",
			Message:   "Daily loss limit breached; new entries halted until next session",
			Symbol:    pos.Symbol,
			PnLRupees: model.ToRupees(st.DailyPnL),
			Reason:    string(reason),
		})
	}
	b.journalTrade(trade)
	return nil
}

// ForceCloseAll exits every open position at its current mark price.
// Used at end of day and on operator request. Returns the number closed.
func (b *PaperBroker) ForceCloseAll(reason model.CloseReason) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	err := b.acct.Mutate(func(st *model.AccountState) error {
		tokens := make([]string, 0, len(st.OpenPositions))
		for token := range st.OpenPositions {
			tokens = append(tokens, token)
		}
		for _, token := range tokens {
			pos := st.OpenPositions[token]
			exitPrice := pos.MarkPrice
			if exitPrice == 0 {
				exitPrice = pos.EntryPrice
			}
			if err := b.closeLocked(st, token, reason, exitPrice); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if n > 0 {
		b.queueAlert(notification.Alert{
			Level:       notification.AlertWarning,
			Event:       notification.EventForceClose,
			Title:       "Force close",
			Message:     fmt.Sprintf("Closed %d open position(s)", n),
			ClosedCount: n,
			Reason:      string(reason),
		})
	}
	b.flushAlerts()
	return n, err
}

// CancelOrder cancels a resting LIMIT, SL, or SL-M order. Executed,
// rejected, or unknown orders return ErrOrderNotFound.
func (b *PaperBroker) CancelOrder(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	delete(b.pending, orderID)

	p.ord.Status = model.OrderCancelled
	p.ord.Reason = "cancelled by user"
	return b.acct.Mutate(func(st *model.AccountState) error {
		updateOrderStatus(st, p.ord)
		return nil
	})
}

// PendingOrders returns a snapshot of resting unfilled orders.
func (b *PaperBroker) PendingOrders() []model.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Order, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.ord)
	}
	return out
}

// recordOrder appends ord to the durable audit log.
func (b *PaperBroker) recordOrder(ord model.Order) error {
	err := b.acct.Mutate(func(st *model.AccountState) error {
		st.Orders = append(st.Orders, ord)
		return nil
	})
	if err == nil {
		b.journalOrder(ord)
	}
	return err
}

// updateOrderStatus rewrites the audit entry for ord.OrderID in place.
func updateOrderStatus(st *model.AccountState, ord model.Order) {
	for i := range st.Orders {
		if st.Orders[i].OrderID == ord.OrderID {
			st.Orders[i] = ord
			return
		}
	}
	st.Orders = append(st.Orders, ord)
}

func (b *PaperBroker) journalOrder(ord model.Order) {
	if b.journal == nil {
		return
	}
	if err := b.journal.RecordOrder(ord); err != nil {
		log.Printf("[broker] WARNING: journal order %s failed: %v", ord.OrderID, err)
	}
}

func (b *PaperBroker) journalTrade(trade model.ClosedTrade) {
	if b.journal == nil {
		return
	}
	if err := b.journal.RecordTrade(trade); err != nil {
		log.Printf("[broker] WARNING: journal trade %s failed: %v", trade.ID, err)
	}
}

func (b *PaperBroker) queueAlert(a notification.Alert) {
	b.queuedAlerts = append(b.queuedAlerts, a)
}

// flushAlerts delivers alerts queued during the last mutation. Called with
// b.mu held but outside the account lock; delivery is best-effort.
func (b *PaperBroker) flushAlerts() {
	for _, alert := range b.queuedAlerts {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.notifier.Send(ctx, alert); err != nil {
			log.Printf("[broker] notify failed: %v", err)
		}
		cancel()
	}
	b.queuedAlerts = b.queuedAlerts[:0]
}
