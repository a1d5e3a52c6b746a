// cmd/tradeserver — Paper-trading engine for NIFTY index options.
//
// Wires the full pipeline: quote source (sim or live broker API) → polling
// loop → paper broker (risk gate, margin check, cost model) → state persisted
// to JSON + SQLite journal, fronted by the HTTP/WebSocket API.
//
// Config is env-driven; see config.Load for all keys and defaults. A .env
// file in the working directory is honored if present.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"paperdesk/config"
	"paperdesk/internal/account"
	"paperdesk/internal/api"
	"paperdesk/internal/broker"
	"paperdesk/internal/costs"
	"paperdesk/internal/feed"
	"paperdesk/internal/journal"
	"paperdesk/internal/logger"
	"paperdesk/internal/markethours"
	"paperdesk/internal/metrics"
	"paperdesk/internal/model"
	"paperdesk/internal/notification"
	"paperdesk/internal/risk"
	"paperdesk/internal/sizing"
	"paperdesk/internal/statestore"
	redisstore "paperdesk/internal/store/redis"
	"paperdesk/internal/strategy"
	"paperdesk/pkg/quoteapi"
)

// meteredJournal wraps the SQLite journal with order/close counters.
type meteredJournal struct {
	jrnl *journal.Journal
	prom *metrics.Metrics
}

func (m *meteredJournal) RecordOrder(ord model.Order) error {
	m.prom.OrdersTotal.WithLabelValues(string(ord.Status)).Inc()
	return m.jrnl.RecordOrder(ord)
}

func (m *meteredJournal) RecordTrade(trade model.ClosedTrade) error {
	m.prom.ClosesTotal.WithLabelValues(string(trade.ExitReason)).Inc()
	return m.jrnl.RecordTrade(trade)
}

// publishingSource decorates a quote source, mirroring every fetched tick
// into Redis and the WebSocket hub. Publishing is off the decision path:
// failures never fail the fetch.
type publishingSource struct {
	inner feed.QuoteSource
	pub   *redisstore.Publisher
	hub   *api.Hub
}

func (p *publishingSource) Fetch(ctx context.Context, symbols []string) ([]model.Tick, error) {
	ticks, err := p.inner.Fetch(ctx, symbols)
	if err != nil {
		return nil, err
	}
	for _, t := range ticks {
		if p.pub != nil {
			p.pub.PublishQuote(ctx, t)
		}
		if p.hub != nil {
			p.hub.Broadcast("quote", t)
		}
	}
	return ticks, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("tradeserver", slog.LevelInfo)
	log.Println("[tradeserver] starting...")

	if err := godotenv.Load(); err == nil {
		log.Println("[tradeserver] loaded .env")
	}
	cfg := config.Load()

	symbols := cfg.ParseSymbols()
	if len(symbols) == 0 {
		log.Fatalf("[tradeserver] no symbols configured via WATCH_SYMBOLS")
	}
	capital := model.ToPaise(cfg.TotalCapital)
	log.Printf("[tradeserver] capital ₹%.2f, symbols %v, mode %s", cfg.TotalCapital, symbols, cfg.QuoteMode)

	// ---- State + account ----
	if dir := filepath.Dir(cfg.StatePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	store := statestore.New(cfg.StatePath, markethours.IST)
	acct := account.NewManager(store)

	// ---- Risk stack ----
	sizer := sizing.NewKelly(cfg.KellyWinRate, cfg.KellyPayoff)
	gate := risk.NewGate(risk.GateConfig{
		TotalCapital:    capital,
		MaxDailyLossPct: cfg.MaxDailyLossPct,
		MinRiskReward:   cfg.MinRiskReward,
		RiskCapPct:      cfg.RiskCapPct,
		LotSize:         cfg.LotSize,
	}, sizer, acct)
	margin := risk.NewMarginChecker(gate, cfg.ShortMarginXN)
	costModel := costs.New(costs.Rates{
		BrokeragePerOrder: model.ToPaise(cfg.BrokeragePerOrder),
		STTSellPct:        cfg.STTSellPct,
		ExchangeTxnPct:    cfg.ExchangeTxnPct,
		StampDutyBuyPct:   cfg.StampDutyBuyPct,
		SEBITurnoverPct:   cfg.SEBITurnoverPct,
		GSTPct:            cfg.GSTPct,
	})

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)

	// ---- Journal (SQLite) ----
	if dir := filepath.Dir(cfg.JournalPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[tradeserver] journal init failed: %v", err)
	}
	defer jrnl.Close()
	health.SetSQLiteOK(true)
	health.SetFeedOK(true) // optimistic until the first failed fetch
	log.Println("[tradeserver] journal ready")

	// ---- Notifications ----
	var notifier notification.Notifier = notification.NewLogNotifier()
	switch {
	case cfg.TelegramToken != "" && cfg.TelegramChatID != "":
		notifier = notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		log.Println("[tradeserver] telegram alerts enabled")
	case cfg.WebhookURL != "":
		notifier = notification.NewWebhookNotifier(cfg.WebhookURL)
		log.Println("[tradeserver] webhook alerts enabled")
	}

	// ---- Broker ----
	// Sim mode trades around the clock so the engine can be exercised
	// outside NSE hours; live mode enforces the session window.
	brk := broker.New(acct, gate, margin, costModel, broker.Options{
		SlippageBps:  cfg.SlippageBps,
		EnforceHours: cfg.QuoteMode == "live",
		Journal:      &meteredJournal{jrnl: jrnl, prom: prom},
		Notifier:     notifier,
	})

	// ---- Strategy router: signals go through the gate, then the broker ----
	router := strategy.NewRouter(func(sig strategy.Signal) {
		prom.SignalsTotal.WithLabelValues(sig.StrategyTag).Inc()
		verdict := gate.ValidateTrade(sig.EntryPrice, sig.StopLoss, sig.Target)
		if !verdict.Approved {
			log.Printf("[tradeserver] signal %s %s rejected: %s", sig.StrategyTag, sig.Symbol, verdict.Reason)
			return
		}
		ord, err := brk.Execute(broker.OrderRequest{
			Symbol:      sig.Symbol,
			Side:        sig.Side,
			Qty:         verdict.SuggestedQty,
			Type:        model.OrderMarket,
			StopLoss:    sig.StopLoss,
			Target:      sig.Target,
			StrategyTag: sig.StrategyTag,
		}, sig.EntryPrice)
		if err != nil {
			log.Printf("[tradeserver] signal %s execution error: %v", sig.StrategyTag, err)
			return
		}
		log.Printf("[tradeserver] signal %s → order %s %s", sig.StrategyTag, ord.OrderID, ord.Status)
	})

	// ---- Shutdown context ----
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Redis mirror (optional) ----
	var pub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		pub, err = redisstore.NewPublisher(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[tradeserver] WARNING: redis init failed: %v (continuing without redis)", err)
			pub = nil
		} else {
			defer pub.Close()
			log.Println("[tradeserver] redis publisher ready")
		}
	}
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), jrnl.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, jrnl.DB(), 10*time.Second)
	}

	// ---- Quote source ----
	var source feed.QuoteSource
	if cfg.QuoteMode == "live" {
		cfg.RequireLiveCreds()
		client, err := quoteapi.New(quoteapi.Config{
			APIKey:       cfg.QuoteAPIKey,
			ClientCode:   cfg.QuoteClientID,
			Password:     cfg.QuotePassword,
			TOTPSecret:   cfg.QuoteTOTPKey,
			RootURL:      cfg.QuoteBaseURL,
			Timeout:      time.Duration(cfg.QuoteTimeout) * time.Second,
			SymbolTokens: cfg.ParseSymbolTokens(),
		})
		if err != nil {
			log.Fatalf("[tradeserver] quote client init failed: %v", err)
		}
		source = client
		log.Println("[tradeserver] live quote source ready")
	} else {
		start := make(map[string]int64, len(symbols))
		for _, sym := range symbols {
			start[sym] = 250_00 // ₹250, a typical near-ATM weekly premium
		}
		source = feed.NewSimSource(start, time.Now().UnixNano())
		log.Println("[tradeserver] *** SIM MODE — simulated quotes, no broker connection ***")
	}

	// ---- Polling loop ----
	// The source decorator mirrors every fetched tick into Redis and the
	// WebSocket hub; the hub is attached once the API server exists, before
	// the loop starts.
	pubSource := &publishingSource{inner: source, pub: pub}
	loop := feed.NewLoop(feed.LoopConfig{
		Symbols:       symbols,
		Interval:      time.Duration(cfg.PollInterval) * time.Second,
		QuoteTimeout:  time.Duration(cfg.QuoteTimeout) * time.Second,
		EnforceHours:  cfg.QuoteMode == "live",
		ForceCloseEOD: cfg.ForceCloseOnExit,
	}, pubSource, brk, router, acct, prom, health)

	// ---- HTTP API ----
	apiSrv := api.NewServer(api.Config{
		TotalCapital: capital,
		Symbols:      symbols,
		QuoteMode:    cfg.QuoteMode,
	}, acct, gate, margin, brk, router, loop.Cache(), jrnl)

	pubSource.hub = apiSrv.Hub()
	acct.OnSave(func(d time.Duration) {
		prom.StateSaveDur.Observe(d.Seconds())
	})
	acct.OnChange(func(st *model.AccountState) {
		if pub != nil {
			pub.PublishAccount(context.Background(), st)
		}
		apiSrv.Hub().Broadcast("account", st)
	})

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[tradeserver] metrics on %s", cfg.MetricsAddr)
		return metricsSrv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutCtx)
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		log.Printf("[tradeserver] ✅ API listening on %s", cfg.ListenAddr)
		return apiSrv.Serve(gctx, cfg.ListenAddr)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("[tradeserver] exited with error: %v", err)
	}
	log.Println("[tradeserver] shutdown complete")
}
