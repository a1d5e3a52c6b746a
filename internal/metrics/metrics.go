// Package metrics exposes Prometheus metrics and a JSON health probe for
// the paper trading engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	TicksTotal    prometheus.Counter
	SkippedCycles prometheus.Counter
	QuoteFetchDur prometheus.Histogram

	OrdersTotal  *prometheus.CounterVec // labels: status
	ClosesTotal  *prometheus.CounterVec // labels: reason
	SignalsTotal *prometheus.CounterVec // labels: strategy

	OpenPositions prometheus.Gauge
	DailyPnLPaise prometheus.Gauge
	KillSwitch    prometheus.Gauge // 0=active trading, 1=halted

	StateSaveDur prometheus.Histogram

	FeedBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	FeedBreakerTrips prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperdesk_ticks_total",
			Help: "Total quote ticks processed by the polling loop",
		}),
		SkippedCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperdesk_skipped_cycles_total",
			Help: "Polling cycles skipped due to quote fetch failure",
		}),
		QuoteFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paperdesk_quote_fetch_duration_seconds",
			Help:    "Quote source fetch latency per cycle",
			Buckets: prometheus.DefBuckets,
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperdesk_orders_total",
			Help: "Orders by terminal status",
		}, []string{"status"}),
		ClosesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperdesk_closes_total",
			Help: "Position closes by exit reason",
		}, []string{"reason"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperdesk_signals_total",
			Help: "Strategy signals emitted, by deployment",
		}, []string{"strategy"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperdesk_open_positions",
			Help: "Currently open paper positions",
		}),
		DailyPnLPaise: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperdesk_daily_pnl_paise",
			Help: "Realized daily PnL in paise",
		}),
		KillSwitch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperdesk_kill_switch",
			Help: "Kill switch state (1 = halted)",
		}),
		StateSaveDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paperdesk_state_save_duration_seconds",
			Help:    "Account state persistence latency",
			Buckets: prometheus.DefBuckets,
		}),
		FeedBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperdesk_feed_breaker_state",
			Help: "Quote feed circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		FeedBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperdesk_feed_breaker_trips_total",
			Help: "Quote feed circuit breaker open transitions",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal, m.SkippedCycles, m.QuoteFetchDur,
		m.OrdersTotal, m.ClosesTotal, m.SignalsTotal,
		m.OpenPositions, m.DailyPnLPaise, m.KillSwitch,
		m.StateSaveDur, m.FeedBreakerState, m.FeedBreakerTrips,
	)
	return m
}

// ObserveAccount refreshes the account-level gauges from a state snapshot.
func (m *Metrics) ObserveAccount(openPositions int, dailyPnL int64, killSwitch bool) {
	m.OpenPositions.Set(float64(openPositions))
	m.DailyPnLPaise.Set(float64(dailyPnL))
	if killSwitch {
		m.KillSwitch.Set(1)
	} else {
		m.KillSwitch.Set(0)
	}
}

// HealthStatus tracks liveness of the engine's dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	LastTickTime   time.Time
	RedisConnected bool
	SQLiteOK       bool
	FeedOK         bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetFeedOK(v bool) {
	h.mu.Lock()
	h.FeedOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedOK || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedOK          bool    `json:"feed_ok"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedOK:          h.FeedOK,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	log.Printf("[metrics] serving /metrics and /healthz on %s", s.addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
