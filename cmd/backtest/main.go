// cmd/backtest replays simulated quote sessions through the full execution
// stack — strategy router, risk gate, paper broker, cost model — to evaluate
// a strategy's behavior without waiting on live markets.
//
// Usage:
//
//	go run ./cmd/backtest --strategy=vwap_pullback --days=5 --seed=42
//
// Quotes are a seeded random walk, so runs are reproducible per seed. Volumes
// are synthetic too; treat VWAP-based results as directional, not predictive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"paperdesk/internal/account"
	"paperdesk/internal/broker"
	"paperdesk/internal/costs"
	"paperdesk/internal/feed"
	"paperdesk/internal/markethours"
	"paperdesk/internal/model"
	"paperdesk/internal/risk"
	"paperdesk/internal/sizing"
	"paperdesk/internal/statestore"
	"paperdesk/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	kind := flag.String("strategy", "vwap_pullback", "Strategy kind (see --list)")
	list := flag.Bool("list", false, "List registered strategy kinds and exit")
	paramStr := flag.String("params", "", "Strategy params: key=value,key=value")
	symbolsStr := flag.String("symbols", "NIFTY24500CE", "Comma-separated symbols")
	days := flag.Int("days", 1, "Number of trading sessions to replay")
	intervalSec := flag.Int("interval", 2, "Seconds of session time per quote")
	seed := flag.Int64("seed", 1, "Random walk seed")
	capitalRs := flag.Float64("capital", 200000, "Account capital in rupees")
	startRs := flag.Float64("start-price", 250, "Starting premium per symbol in rupees")
	slippage := flag.Int64("slippage", 5, "Fill slippage in basis points")
	flag.Parse()

	if *list {
		for _, k := range strategy.Kinds() {
			fmt.Println(k)
		}
		return
	}

	symbols := parseSymbols(*symbolsStr)
	if len(symbols) == 0 {
		log.Fatal("[backtest] no symbols given")
	}

	// Ephemeral state: each run starts from a clean slate.
	statePath := filepath.Join(os.TempDir(), fmt.Sprintf("backtest_state_%d.json", os.Getpid()))
	defer os.Remove(statePath)
	store := statestore.New(statePath, markethours.IST)
	acct := account.NewManager(store)

	capital := model.ToPaise(*capitalRs)
	gate := risk.NewGate(risk.GateConfig{
		TotalCapital:    capital,
		MaxDailyLossPct: 0.05,
		MinRiskReward:   2.0,
		RiskCapPct:      0.05,
		LotSize:         25,
	}, sizing.NewKelly(0.45, 2.0), acct)
	margin := risk.NewMarginChecker(gate, 1.0)

	// Synthetic clock, marched through each session by the replay loop.
	clock := time.Now()
	now := func() time.Time { return clock }

	brk := broker.New(acct, gate, margin, costs.New(costs.DefaultRates()), broker.Options{
		SlippageBps: *slippage,
		Now:         now,
	})

	signals := 0
	router := strategy.NewRouter(func(sig strategy.Signal) {
		signals++
		verdict := gate.ValidateTrade(sig.EntryPrice, sig.StopLoss, sig.Target)
		if !verdict.Approved {
			return
		}
		brk.Execute(broker.OrderRequest{
			Symbol:      sig.Symbol,
			Side:        sig.Side,
			Qty:         verdict.SuggestedQty,
			Type:        model.OrderMarket,
			StopLoss:    sig.StopLoss,
			Target:      sig.Target,
			StrategyTag: sig.StrategyTag,
		}, sig.EntryPrice)
	})

	params, err := parseParams(*paramStr)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	for i, sym := range symbols {
		strat, err := strategy.NewFromKind(*kind, sym, params)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		router.Deploy(fmt.Sprintf("bt-%d", i), *kind, sym, strat)
	}

	start := make(map[string]int64, len(symbols))
	for _, sym := range symbols {
		start[sym] = model.ToPaise(*startRs)
	}
	sim := feed.NewSimSource(start, *seed)
	sim.SetClock(now)
	log.Printf("[backtest] NOTE: quote volumes are synthetic; treat VWAP-driven results as directional only")

	// Replay: one fetch per interval of session time, 9:15 to 15:30 IST,
	// positions flattened at the close and daily PnL rolled over.
	interval := time.Duration(*intervalSec) * time.Second
	day := nextTradingDay(time.Now().In(markethours.IST))
	for d := 0; d < *days; d++ {
		clock = time.Date(day.Year(), day.Month(), day.Day(), 9, 15, 0, 0, markethours.IST)
		sessionEnd := time.Date(day.Year(), day.Month(), day.Day(), 15, 30, 0, 0, markethours.IST)

		for clock.Before(sessionEnd) {
			ticks, err := sim.Fetch(context.Background(), symbols)
			if err != nil {
				log.Fatalf("[backtest] fetch: %v", err)
			}
			for _, t := range ticks {
				if err := brk.UpdateMark(t.Symbol, t.Price); err != nil {
					log.Printf("[backtest] mark %s: %v", t.Symbol, err)
				}
				router.OnTick(t)
			}
			clock = clock.Add(interval)
		}

		if n, err := brk.ForceCloseAll(model.CloseTimeExit); err != nil {
			log.Printf("[backtest] eod flatten: %v", err)
		} else if n > 0 {
			log.Printf("[backtest] day %d: flattened %d positions at close", d+1, n)
		}

		var dayPnL int64
		acct.View(func(st *model.AccountState) { dayPnL = st.DailyPnL })
		fmt.Printf("day %d (%s): PnL ₹%.2f\n", d+1, day.Format("2006-01-02"), model.ToRupees(dayPnL))

		acct.Mutate(func(st *model.AccountState) error {
			statestore.ApplyRollover(st)
			return nil
		})
		day = nextTradingDay(day.AddDate(0, 0, 1))
	}

	printSummary(acct, capital, signals)
}

func printSummary(acct *account.Manager, capital int64, signals int) {
	st := acct.Snapshot()

	var gross, net, charges int64
	wins, losses := 0, 0
	for _, t := range st.ClosedTrades {
		gross += t.GrossPnL
		net += t.NetPnL
		charges += t.Charges.Total
		if t.NetPnL >= 0 {
			wins++
		} else {
			losses++
		}
	}

	fmt.Println("---")
	fmt.Printf("signals:       %d\n", signals)
	fmt.Printf("orders:        %d\n", len(st.Orders))
	fmt.Printf("trades closed: %d (%d wins / %d losses)\n", len(st.ClosedTrades), wins, losses)
	fmt.Printf("gross PnL:     ₹%.2f\n", model.ToRupees(gross))
	fmt.Printf("charges:       ₹%.2f\n", model.ToRupees(charges))
	fmt.Printf("net PnL:       ₹%.2f\n", model.ToRupees(net))
	fmt.Printf("final capital: ₹%.2f\n", model.ToRupees(capital+net))
	if len(st.ClosedTrades) > 0 {
		fmt.Printf("avg per trade: ₹%.2f\n", model.ToRupees(net/int64(len(st.ClosedTrades))))
	}
}

func nextTradingDay(t time.Time) time.Time {
	for !markethours.IsTradingDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func parseSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseParams(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed param %q (want key=value)", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[strings.TrimSpace(k)] = f
	}
	return out, nil
}
