// Package strategy routes market ticks to deployed trading strategies and
// collects their entry proposals.
//
// A Strategy receives ticks for its symbol and may emit a Signal: a fully
// specified entry (price, stop, target) that the risk gate validates before
// any order reaches the broker. Strategies never talk to the broker
// directly.
package strategy

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"paperdesk/internal/model"
)

// Signal is an entry proposal. Prices in paise. Stop and target are
// mandatory: the risk gate rejects signals whose reward:risk is too thin,
// and sizing needs the stop distance.
type Signal struct {
	StrategyTag string     `json:"strategy_tag"`
	Symbol      string     `json:"symbol"`
	Side        model.Side `json:"side"`
	EntryPrice  int64      `json:"entry_price"` // reference price at signal time
	StopLoss    int64      `json:"stop_loss"`
	Target      int64      `json:"target"`
	Reason      string     `json:"reason"`
}

// Strategy consumes ticks and occasionally proposes an entry.
type Strategy interface {
	Name() string
	// ProcessTick inspects one tick and returns a Signal to propose an
	// entry, or nil to pass.
	ProcessTick(tick model.Tick) *Signal
}

// Factory builds a strategy for a symbol from per-deployment parameters.
type Factory func(symbol string, params map[string]float64) (Strategy, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory makes a strategy kind available to the deploy endpoint.
// Called from init.
func RegisterFactory(kind string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[kind] = f
}

// NewFromKind instantiates a registered strategy kind.
func NewFromKind(kind, symbol string, params map[string]float64) (Strategy, error) {
	factoryMu.RLock()
	f, ok := factories[kind]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
	return f(symbol, params)
}

// Kinds lists the registered strategy kinds, sorted.
func Kinds() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Handler receives signals emitted during tick routing.
type Handler func(Signal)

// Deployment is a live strategy instance bound to a symbol.
type Deployment struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Symbol   string   `json:"symbol"`
	strategy Strategy `json:"-"`
}

// Router fans ticks out to deployed strategies and forwards their signals
// to the handler. Deploy/undeploy is safe concurrently with OnTick.
type Router struct {
	mu      sync.RWMutex
	byID    map[string]*Deployment
	handler Handler
}

// NewRouter creates a router delivering signals to handler.
func NewRouter(handler Handler) *Router {
	if handler == nil {
		handler = func(Signal) {}
	}
	return &Router{byID: make(map[string]*Deployment), handler: handler}
}

// Deploy binds a strategy instance under id. Redeploying an existing id
// replaces the previous instance.
func (r *Router) Deploy(id, kind, symbol string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = &Deployment{ID: id, Kind: kind, Symbol: symbol, strategy: s}
	log.Printf("[strategy] deployed %s (%s) on %s", id, kind, symbol)
}

// Undeploy removes a deployment. Reports whether it existed.
func (r *Router) Undeploy(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	log.Printf("[strategy] undeployed %s", id)
	return true
}

// Deployments returns a snapshot of active deployments, sorted by id.
func (r *Router) Deployments() []Deployment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Deployment, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnTick routes tick to every deployment bound to its symbol.
func (r *Router) OnTick(tick model.Tick) {
	r.mu.RLock()
	var signals []Signal
	for _, d := range r.byID {
		if d.Symbol != tick.Symbol {
			continue
		}
		if sig := d.strategy.ProcessTick(tick); sig != nil {
			sig.StrategyTag = d.ID
			signals = append(signals, *sig)
		}
	}
	r.mu.RUnlock()

	// Handler runs outside the router lock: it typically hits the gate and
	// broker, which must be free to call back into account state.
	for _, sig := range signals {
		r.handler(sig)
	}
}
