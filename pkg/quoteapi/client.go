// Package quoteapi is a minimal client for a SmartAPI-compatible broker
// quote endpoint. It handles TOTP login, bearer-token sessions, and LTP
// fetches; everything else the upstream API offers is out of scope for a
// paper trading engine.
package quoteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"paperdesk/internal/model"
)

const defaultRoot = "https://apiconnect.angelone.in"

var (
	routeLogin = "/rest/auth/angelbroking/user/v1/loginByPassword"
	routeLTP   = "/rest/secure/angelbroking/order/v1/getLtpData"
)

// ErrSessionExpired signals a 401/403 from the API; the caller (or the
// automatic retry in Fetch) should re-login.
var ErrSessionExpired = errors.New("quote session expired")

// Config holds API credentials. TOTPSecret is the base32 seed from the
// broker's 2FA enrollment, not a one-time code.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string

	RootURL string        // default: Angel One production
	Timeout time.Duration // default: 7s
	// SymbolTokens maps trading symbols to the exchange tokens the LTP
	// endpoint wants.
	SymbolTokens map[string]string
}

// Client is a quote fetcher backed by the broker's REST API. Satisfies the
// feed.QuoteSource interface.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
}

// New creates a client. Login is lazy: the first Fetch triggers it.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.ClientCode == "" || cfg.Password == "" || cfg.TOTPSecret == "" {
		return nil, errors.New("quoteapi: api key, client code, password and totp secret are all required")
	}
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Login generates a fresh TOTP code and opens a session.
func (c *Client) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("quoteapi: totp generation: %w", err)
	}

	body := map[string]string{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	}
	var resp struct {
		Status bool   `json:"status"`
		Msg    string `json:"message"`
		Data   struct {
			JWTToken string `json:"jwtToken"`
		} `json:"data"`
	}
	if err := c.post(ctx, routeLogin, "", body, &resp); err != nil {
		return fmt.Errorf("quoteapi: login: %w", err)
	}
	if !resp.Status || resp.Data.JWTToken == "" {
		return fmt.Errorf("quoteapi: login rejected: %s", resp.Msg)
	}

	c.mu.Lock()
	c.accessToken = resp.Data.JWTToken
	c.mu.Unlock()
	log.Printf("[quoteapi] session opened for %s", c.cfg.ClientCode)
	return nil
}

// Fetch returns the LTP for each symbol. An expired session triggers one
// automatic re-login before failing the cycle.
func (c *Client) Fetch(ctx context.Context, symbols []string) ([]model.Tick, error) {
	ticks, err := c.fetchOnce(ctx, symbols)
	if errors.Is(err, ErrSessionExpired) {
		log.Printf("[quoteapi] session expired — re-login")
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		ticks, err = c.fetchOnce(ctx, symbols)
	}
	return ticks, err
}

func (c *Client) fetchOnce(ctx context.Context, symbols []string) ([]model.Tick, error) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	if token == "" {
		return nil, ErrSessionExpired
	}

	now := time.Now()
	ticks := make([]model.Tick, 0, len(symbols))
	for _, sym := range symbols {
		exchToken, ok := c.cfg.SymbolTokens[sym]
		if !ok {
			return nil, fmt.Errorf("quoteapi: no exchange token mapped for %q", sym)
		}
		body := map[string]string{
			"exchange":      "NFO",
			"tradingsymbol": sym,
			"symboltoken":   exchToken,
		}
		var resp struct {
			Status bool   `json:"status"`
			Msg    string `json:"message"`
			Data   struct {
				LTP float64 `json:"ltp"` // rupees
			} `json:"data"`
		}
		if err := c.post(ctx, routeLTP, token, body, &resp); err != nil {
			return nil, err
		}
		if !resp.Status {
			return nil, fmt.Errorf("quoteapi: ltp %s rejected: %s", sym, resp.Msg)
		}
		ticks = append(ticks, model.Tick{
			Symbol: sym,
			Price:  model.ToPaise(resp.Data.LTP),
			TickTS: now,
		})
	}
	return ticks, nil
}

func (c *Client) post(ctx context.Context, route, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RootURL+route, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("quoteapi: %s returned %d: %s", route, resp.StatusCode, raw)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
