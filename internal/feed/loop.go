package feed

import (
	"context"
	"log"
	"time"

	"paperdesk/internal/account"
	"paperdesk/internal/broker"
	"paperdesk/internal/markethours"
	"paperdesk/internal/metrics"
	"paperdesk/internal/model"
	"paperdesk/internal/strategy"
)

// LoopConfig configures the polling loop.
type LoopConfig struct {
	Symbols       []string
	Interval      time.Duration // polling cadence
	QuoteTimeout  time.Duration // per-cycle fetch deadline
	EnforceHours  bool          // only poll during NSE hours
	ForceCloseEOD bool          // flatten all positions at session close
}

// Loop drives the engine: each cycle it fetches quotes, updates marks (which
// settles stops/targets), feeds strategies, and checks day rollover.
type Loop struct {
	cfg     LoopConfig
	source  QuoteSource
	breaker *Breaker
	cache   *Cache
	brk     *broker.PaperBroker
	router  *strategy.Router
	acct    *account.Manager

	met    *metrics.Metrics
	health *metrics.HealthStatus

	eodDay string // date of the last EOD flatten
	now    func() time.Time
}

// NewLoop wires the polling loop. met and health may be nil.
func NewLoop(cfg LoopConfig, source QuoteSource, brk *broker.PaperBroker, router *strategy.Router,
	acct *account.Manager, met *metrics.Metrics, health *metrics.HealthStatus) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 5 * time.Second
	}
	l := &Loop{
		cfg:     cfg,
		source:  source,
		breaker: NewBreaker(5, 30*time.Second),
		cache:   NewCache(),
		brk:     brk,
		router:  router,
		acct:    acct,
		met:     met,
		health:  health,
		now:     time.Now,
	}
	if met != nil {
		l.breaker.OnStateChange = func(from, to BreakerState) {
			log.Printf("[feed] breaker %s → %s", from, to)
			met.FeedBreakerState.Set(float64(to))
			if to == BreakerOpen {
				met.FeedBreakerTrips.Inc()
			}
		}
	}
	return l
}

// Cache exposes the last-quote cache for the HTTP layer.
func (l *Loop) Cache() *Cache { return l.cache }

// Run polls until ctx is cancelled. A failed fetch skips the cycle: marks
// stay stale rather than propagate garbage prices into fills.
func (l *Loop) Run(ctx context.Context) error {
	log.Printf("[feed] polling %d symbol(s) every %s", len(l.cfg.Symbols), l.cfg.Interval)
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

func (l *Loop) cycle(ctx context.Context) {
	now := l.now()
	l.acct.RolloverIfDue(now)

	if l.cfg.EnforceHours && !markethours.IsMarketOpen(now) {
		l.maybeFlattenEOD(now)
		return
	}

	start := time.Now()
	var ticks []model.Tick
	err := l.breaker.Execute(func() error {
		fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.QuoteTimeout)
		defer cancel()
		var ferr error
		ticks, ferr = l.source.Fetch(fetchCtx, l.cfg.Symbols)
		return ferr
	})
	if l.met != nil {
		l.met.QuoteFetchDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if err != ErrBreakerOpen {
			log.Printf("[feed] fetch failed, skipping cycle: %v", err)
		}
		if l.met != nil {
			l.met.SkippedCycles.Inc()
		}
		if l.health != nil {
			l.health.SetFeedOK(false)
		}
		return
	}
	if l.health != nil {
		l.health.SetFeedOK(true)
		l.health.SetLastTickTime(now)
	}

	for _, tick := range ticks {
		l.cache.Put(tick)
		if err := l.brk.UpdateMark(tick.Symbol, tick.Price); err != nil {
			log.Printf("[feed] mark update %s failed: %v", tick.Symbol, err)
		}
		l.router.OnTick(tick)
		if l.met != nil {
			l.met.TicksTotal.Inc()
		}
	}

	if l.met != nil {
		l.acct.View(func(st *model.AccountState) {
			l.met.ObserveAccount(len(st.OpenPositions), st.DailyPnL, st.KillSwitchActive)
		})
	}
}

// maybeFlattenEOD force-closes everything once per day after session close.
func (l *Loop) maybeFlattenEOD(now time.Time) {
	if !l.cfg.ForceCloseEOD {
		return
	}
	ist := now.In(markethours.IST)
	day := ist.Format("2006-01-02")
	if day == l.eodDay || !markethours.IsTradingDay(ist) || ist.Before(markethours.TodayClose(ist)) {
		return
	}
	l.eodDay = day

	n, err := l.brk.ForceCloseAll(model.CloseTimeExit)
	if err != nil {
		log.Printf("[feed] EOD flatten failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[feed] EOD flatten closed %d position(s)", n)
	}
}
