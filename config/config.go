package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
// Monetary values are rupees at this layer and converted to paise at the
// composition root.
type Config struct {
	// Capital & risk. TotalCapital is the single source of truth for account
	// capital; current capital is always derived as TotalCapital + daily PnL.
	TotalCapital    float64 // rupees
	MaxDailyLossPct float64 // e.g. 0.05 → halt at −5% of capital
	MinRiskReward   float64 // minimum reward/risk for strategy entries
	RiskCapPct      float64 // hard per-trade risk cap for sizing
	KellyWinRate    float64
	KellyPayoff     float64
	LotSize         int64

	// Execution simulation
	SlippageBps      int64   // fill slippage in basis points
	ShortMarginXN    float64 // margin factor for sell-side option orders
	ForceCloseOnExit bool    // force-close all open positions at session close

	// Quote source
	QuoteMode     string // "sim" or "live"
	QuoteBaseURL  string
	QuoteAPIKey   string
	QuoteClientID string
	QuotePassword string
	QuoteTOTPKey  string
	PollInterval  int    // seconds between polling cycles
	QuoteTimeout  int    // seconds, bound on each polling cycle
	Symbols       string // comma-separated instrument symbols to watch
	SymbolTokens  string // comma-separated SYMBOL:token pairs for the live LTP API

	// Cost model rates (NSE options defaults)
	BrokeragePerOrder float64 // rupees, flat per order
	STTSellPct        float64
	ExchangeTxnPct    float64
	StampDutyBuyPct   float64
	SEBITurnoverPct   float64
	GSTPct            float64

	// Infrastructure
	StatePath     string
	JournalPath   string
	RedisAddr     string
	RedisPassword string
	ListenAddr    string
	MetricsAddr   string

	// Notifications
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		TotalCapital:    getFloat("TOTAL_CAPITAL", 200000),
		MaxDailyLossPct: getFloat("MAX_DAILY_LOSS_PCT", 0.05),
		MinRiskReward:   getFloat("MIN_RISK_REWARD", 2.0),
		RiskCapPct:      getFloat("RISK_CAP_PCT", 0.05),
		KellyWinRate:    getFloat("KELLY_WIN_RATE", 0.45),
		KellyPayoff:     getFloat("KELLY_PAYOFF", 2.0),
		LotSize:         getInt("LOT_SIZE", 25),

		SlippageBps:      getInt("SLIPPAGE_BPS", 5),
		ShortMarginXN:    getFloat("SHORT_MARGIN_FACTOR", 1.0),
		ForceCloseOnExit: getBool("FORCE_CLOSE_ON_EXIT", true),

		QuoteMode:     getEnv("QUOTE_MODE", "sim"),
		QuoteBaseURL:  getEnv("QUOTE_BASE_URL", "https://apiconnect.angelone.in"),
		QuoteAPIKey:   getEnv("QUOTE_API_KEY", ""),
		QuoteClientID: getEnv("QUOTE_CLIENT_ID", ""),
		QuotePassword: getEnv("QUOTE_PASSWORD", ""),
		QuoteTOTPKey:  getEnv("QUOTE_TOTP_SECRET", ""),
		PollInterval:  int(getInt("POLL_INTERVAL_SEC", 2)),
		QuoteTimeout:  int(getInt("QUOTE_TIMEOUT_SEC", 5)),
		Symbols:       getEnv("WATCH_SYMBOLS", "NIFTY24500CE,NIFTY24500PE"),
		SymbolTokens:  getEnv("QUOTE_SYMBOL_TOKENS", ""),

		BrokeragePerOrder: getFloat("COST_BROKERAGE", 20.0),
		STTSellPct:        getFloat("COST_STT_SELL_PCT", 0.001),
		ExchangeTxnPct:    getFloat("COST_EXCHANGE_PCT", 0.0003503),
		StampDutyBuyPct:   getFloat("COST_STAMP_BUY_PCT", 0.00003),
		SEBITurnoverPct:   getFloat("COST_SEBI_PCT", 0.000001),
		GSTPct:            getFloat("COST_GST_PCT", 0.18),

		StatePath:     getEnv("STATE_PATH", "data/trading_state.json"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		ListenAddr:    getEnv("LISTEN_ADDR", ":8000"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
	}
}

// ParseSymbols splits the WatchSymbols list, dropping empty entries.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ParseSymbolTokens parses the SYMBOL:token mapping used by the live quote
// API. Malformed entries are skipped with a warning.
func (c *Config) ParseSymbolTokens() map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(c.SymbolTokens, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sym, token, ok := strings.Cut(pair, ":")
		if !ok || sym == "" || token == "" {
			log.Printf("[config] skipping malformed symbol token entry %q", pair)
			continue
		}
		out[strings.TrimSpace(sym)] = strings.TrimSpace(token)
	}
	return out
}

// RequireLiveCreds exits if live-mode broker credentials are missing.
func (c *Config) RequireLiveCreds() {
	if c.QuoteAPIKey == "" || c.QuoteClientID == "" || c.QuotePassword == "" || c.QuoteTOTPKey == "" {
		log.Fatalf("[config] QUOTE_MODE=live requires QUOTE_API_KEY, QUOTE_CLIENT_ID, QUOTE_PASSWORD, QUOTE_TOTP_SECRET")
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using default %v", key, v, fallback)
		return fallback
	}
	return f
}

func getInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using default %v", key, v, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using default %v", key, v, fallback)
		return fallback
	}
	return b
}
