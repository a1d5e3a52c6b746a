// Package api serves the REST and WebSocket control surface of the paper
// trading engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"paperdesk/internal/account"
	"paperdesk/internal/broker"
	"paperdesk/internal/feed"
	"paperdesk/internal/journal"
	"paperdesk/internal/logger"
	"paperdesk/internal/markethours"
	"paperdesk/internal/model"
	"paperdesk/internal/risk"
	"paperdesk/internal/strategy"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Config carries the static values the API reports.
type Config struct {
	TotalCapital int64 // paise
	Symbols      []string
	QuoteMode    string // "sim" or "live"
}

// Server wires the engine's components behind HTTP.
type Server struct {
	cfg     Config
	acct    *account.Manager
	gate    *risk.Gate
	margin  *risk.MarginChecker
	brk     *broker.PaperBroker
	router  *strategy.Router
	quotes  *feed.Cache
	jrnl    *journal.Journal // nil = history endpoint serves from state
	hub     *Hub
	started time.Time
}

// NewServer creates the API server. jrnl may be nil.
func NewServer(cfg Config, acct *account.Manager, gate *risk.Gate, margin *risk.MarginChecker,
	brk *broker.PaperBroker, router *strategy.Router, quotes *feed.Cache, jrnl *journal.Journal) *Server {
	return &Server{
		cfg:     cfg,
		acct:    acct,
		gate:    gate,
		margin:  margin,
		brk:     brk,
		router:  router,
		quotes:  quotes,
		jrnl:    jrnl,
		hub:     NewHub(),
		started: time.Now(),
	}
}

// Hub exposes the WebSocket hub so the composition root can wire account
// change notifications into it.
func (s *Server) Hub() *Hub { return s.hub }

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/market-status", s.handleMarketStatus)
	mux.HandleFunc("/system-state", s.handleSystemState)
	mux.HandleFunc("/paper-trades", s.handlePaperTrades)
	mux.HandleFunc("/validate-trade", s.handleValidateTrade)
	mux.HandleFunc("/trade/", s.handleCloseTrade) // DELETE /trade/{token}
	mux.HandleFunc("/api/account-summary", s.handleAccountSummary)
	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/place-order", s.handlePlaceOrder)
	mux.HandleFunc("/api/cancel-order", s.handleCancelOrder)
	mux.HandleFunc("/api/check-margin", s.handleCheckMargin)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/deploy-strategy", s.handleDeployStrategy)
	mux.HandleFunc("/deploy-strategy/", s.handleUndeployStrategy) // DELETE /deploy-strategy/{id}

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// preflight handles OPTIONS and rejects unexpected methods. Returns true if
// the request was fully handled.
func preflight(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	if r.Method == http.MethodOptions {
		SetCORS(w)
		w.WriteHeader(http.StatusOK)
		return true
	}
	for _, m := range methods {
		if r.Method == m {
			return false
		}
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] ws upgrade error: %v", err)
		return
	}
	s.hub.HandleConn(conn)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"mode":       s.cfg.QuoteMode,
		"uptime_sec": int64(time.Since(s.started).Seconds()),
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) {
		return
	}
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"open":        markethours.IsMarketOpen(now),
		"trading_day": markethours.IsTradingDay(now),
		"status":      markethours.StatusString(now),
	})
}

func (s *Server) handleSystemState(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) {
		return
	}
	var killSwitch bool
	s.acct.View(func(st *model.AccountState) { killSwitch = st.KillSwitchActive })
	writeJSON(w, http.StatusOK, map[string]any{
		"kill_switch_active": killSwitch,
		"total_capital":      model.ToRupees(s.cfg.TotalCapital),
		"current_capital":    model.ToRupees(s.gate.CurrentCapital()),
		"max_daily_loss":     model.ToRupees(s.gate.MaxDailyLoss()),
		"symbols":            s.cfg.Symbols,
		"quote_mode":         s.cfg.QuoteMode,
		"deployments":        s.router.Deployments(),
		"strategy_kinds":     strategy.Kinds(),
		"pending_orders":     len(s.brk.PendingOrders()),
		"ws_clients":         s.hub.ClientCount(),
	})
}

func (s *Server) handlePaperTrades(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) {
		return
	}
	positions := make([]PositionDTO, 0)
	s.acct.View(func(st *model.AccountState) {
		for _, pos := range st.OpenPositions {
			positions = append(positions, toPositionDTO(pos))
		}
	})
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleAccountSummary(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) {
		return
	}
	var out AccountSummaryDTO
	s.acct.View(func(st *model.AccountState) {
		var unrealized int64
		for _, pos := range st.OpenPositions {
			unrealized += pos.UnrealizedPnL()
		}
		out = AccountSummaryDTO{
			TotalCapital:   model.ToRupees(s.cfg.TotalCapital),
			CurrentCapital: model.ToRupees(s.cfg.TotalCapital + st.DailyPnL),
			DailyPnL:       model.ToRupees(st.DailyPnL),
			UnrealizedPnL:  model.ToRupees(unrealized),
			KillSwitch:     st.KillSwitchActive,
			OpenPositions:  len(st.OpenPositions),
			ClosedTrades:   len(st.ClosedTrades),
			MaxDailyLoss:   model.ToRupees(s.gate.MaxDailyLoss()),
			LastUpdated:    st.LastUpdated,
		}
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) {
		return
	}
	orders := make([]OrderDTO, 0)
	s.acct.View(func(st *model.AccountState) {
		for _, ord := range st.Orders {
			orders = append(orders, toOrderDTO(ord))
		}
	})
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	if s.jrnl != nil {
		rows, err := s.jrnl.RecentTrades(limit)
		if err == nil {
			writeJSON(w, http.StatusOK, rows)
			return
		}
		log.Printf("[api] journal query failed, serving from state: %v", err)
	}

	trades := make([]TradeDTO, 0)
	s.acct.View(func(st *model.AccountState) {
		start := len(st.ClosedTrades) - limit
		if start < 0 {
			start = 0
		}
		for i := len(st.ClosedTrades) - 1; i >= start; i-- {
			trades = append(trades, toTradeDTO(st.ClosedTrades[i]))
		}
	})
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleValidateTrade(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	var req validateTradeRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		var err error
		if req.EntryPrice, err = strconv.ParseFloat(q.Get("entry"), 64); err != nil {
			writeError(w, http.StatusBadRequest, "entry must be a number")
			return
		}
		if req.StopLoss, err = strconv.ParseFloat(q.Get("sl"), 64); err != nil {
			writeError(w, http.StatusBadRequest, "sl must be a number")
			return
		}
		if req.Target, err = strconv.ParseFloat(q.Get("target"), 64); err != nil {
			writeError(w, http.StatusBadRequest, "target must be a number")
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	verdict := s.gate.ValidateTrade(
		model.ToPaise(req.EntryPrice),
		model.ToPaise(req.StopLoss),
		model.ToPaise(req.Target),
	)
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodPost) {
		return
	}
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	side := model.Side(strings.ToUpper(req.Side))
	if side != model.SideBuy && side != model.SideSell {
		writeError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}
	orderType := model.OrderType(strings.ToUpper(req.Type))
	if orderType == "" {
		orderType = model.OrderMarket
	}

	var ltp int64
	if tick, ok := s.quotes.Get(req.Symbol); ok {
		ltp = tick.Price
	}

	ord, err := s.brk.Execute(broker.OrderRequest{
		Symbol:       req.Symbol,
		Side:         side,
		Qty:          req.Qty,
		Type:         orderType,
		Product:      req.Product,
		LimitPrice:   model.ToPaise(req.LimitPrice),
		TriggerPrice: model.ToPaise(req.TriggerPrice),
		StopLoss:     model.ToPaise(req.StopLoss),
		Target:       model.ToPaise(req.Target),
		StrategyTag:  req.StrategyTag,
	}, ltp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(ord))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodPost) {
		return
	}
	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.brk.CancelOrder(req.OrderID); err != nil {
		if errors.Is(err, broker.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "order_id": req.OrderID})
}

func (s *Server) handleCloseTrade(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodDelete) {
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/trade/")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing position token")
		return
	}

	// Exit at the latest mark; fall back to entry if no tick arrived yet.
	var exitPrice int64
	s.acct.View(func(st *model.AccountState) {
		if pos, ok := st.OpenPositions[token]; ok {
			exitPrice = pos.MarkPrice
			if exitPrice == 0 {
				exitPrice = pos.EntryPrice
			}
		}
	})

	trade, err := s.brk.Close(token, model.CloseManual, exitPrice)
	if err != nil {
		if errors.Is(err, broker.ErrPositionNotFound) {
			writeError(w, http.StatusNotFound, "position not found: "+token)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toTradeDTO(trade))
}

func (s *Server) handleCheckMargin(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodPost) {
		return
	}
	var req checkMarginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	side := model.Side(strings.ToUpper(req.Side))

	price := model.ToPaise(req.Price)
	if price == 0 {
		tick, ok := s.quotes.Get(req.Symbol)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "no quote available for "+req.Symbol)
			return
		}
		price = tick.Price
	}

	res := s.margin.Check(price, req.Qty, side)
	writeJSON(w, http.StatusOK, map[string]any{
		"required":   model.ToRupees(res.Required),
		"available":  model.ToRupees(res.Available),
		"shortfall":  model.ToRupees(res.Shortfall),
		"sufficient": res.Shortfall == 0,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodDelete) {
		return
	}
	if err := s.acct.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("[api] account state reset by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleDeployStrategy(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodPost, http.MethodGet) {
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.router.Deployments())
		return
	}

	var req deployStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ID == "" || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "id and symbol are required")
		return
	}
	st, err := strategy.NewFromKind(req.Kind, req.Symbol, req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.router.Deploy(req.ID, req.Kind, req.Symbol, st)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deployed", "id": req.ID})
}

func (s *Server) handleUndeployStrategy(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodDelete) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/deploy-strategy/")
	if !s.router.Undeploy(id) {
		writeError(w, http.StatusNotFound, "no deployment with id "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "undeployed", "id": id})
}

// withRequestLog tags each request with a trace ID and emits a structured
// access log line. WebSocket upgrades pass through unwrapped so the
// underlying ResponseWriter keeps its Hijacker.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ctx := logger.WithTraceID(r.Context(), logger.GenerateTraceID(r.Method, start))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		slog.Info("http request",
			append(logger.LogWithTrace(ctx),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("dur", time.Since(start)))...)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Serve runs the API server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: withRequestLog(s.Routes())}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Printf("[api] listening on %s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
