// Package redis publishes engine state to Redis for dashboards and other
// consumers: last quotes in a hash, account snapshots over pub/sub. The
// engine never reads any of this back — Redis being down degrades
// visibility, not trading.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"paperdesk/internal/model"
)

const (
	quoteHashKey       = "paperdesk:quotes"
	accountChannel     = "paperdesk:account"
	quoteTTL           = 30 * time.Minute
	publishTimeout     = 2 * time.Second
	failureLogInterval = 50 // log every Nth consecutive failure, not all of them
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int
}

// Publisher mirrors quotes and account snapshots into Redis. All writes are
// best-effort; consecutive failures are counted and logged sparsely.
type Publisher struct {
	client *goredis.Client

	mu       sync.Mutex
	failures int
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// NewPublisher connects to Redis and pings it once.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// PublishQuote writes tick into the quote hash.
func (p *Publisher) PublishQuote(ctx context.Context, tick model.Tick) {
	payload, err := json.Marshal(tick)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	pipe := p.client.Pipeline()
	pipe.HSet(wctx, quoteHashKey, tick.Symbol, payload)
	pipe.Expire(wctx, quoteHashKey, quoteTTL)
	if _, err := pipe.Exec(wctx); err != nil {
		p.noteFailure("quote", err)
		return
	}
	p.noteSuccess()
}

// PublishAccount broadcasts an account snapshot on the pub/sub channel.
// Wired to account.Manager.OnChange, so every persisted mutation is
// announced.
func (p *Publisher) PublishAccount(ctx context.Context, st *model.AccountState) {
	payload, err := json.Marshal(st)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.Publish(wctx, accountChannel, payload).Err(); err != nil {
		p.noteFailure("account", err)
		return
	}
	p.noteSuccess()
}

func (p *Publisher) noteSuccess() {
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
}

func (p *Publisher) noteFailure(kind string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	if p.failures == 1 || p.failures%failureLogInterval == 0 {
		log.Printf("[redis] %s publish failing (%d consecutive): %v", kind, p.failures, err)
	}
}

// Close shuts down the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
