package route

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ROUTER - In-process navigation state for the trading session
// ═══════════════════════════════════════════════════════════════════════════════

const (
	Markets = "/markets"
	Trade   = "/trade"
)

// TradePath returns the trade page path for a market
func TradePath(marketID string) string {
	return Trade + "/" + marketID
}

// MatchTrade extracts the market segment from a /trade/:marketId path
func MatchTrade(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, Trade+"/")
	if !ok {
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// NavigateOptions controls how a navigation touches history
type NavigateOptions struct {
	Replace bool
}

// Listener is called after each navigation
type Listener func(from, to string)

type listenerEntry struct {
	id int
	fn Listener
}

// Router keeps the current location and a history stack
type Router struct {
	mu        sync.RWMutex
	history   []string
	listeners []listenerEntry
	nextID    int
}

// NewRouter creates a router positioned at the given path
func NewRouter(initial string) *Router {
	if initial == "" {
		initial = "/"
	}
	return &Router{
		history: []string{initial},
	}
}

// Location returns the current path
func (r *Router) Location() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history[len(r.history)-1]
}

// MarketID returns the market segment of the current path, or "" when the
// current page is not a trade page
func (r *Router) MarketID() string {
	id, _ := MatchTrade(r.Location())
	return id
}

// Navigate moves to path. Replace overwrites the current history entry.
func (r *Router) Navigate(path string, opts NavigateOptions) {
	r.mu.Lock()
	from := r.history[len(r.history)-1]
	if opts.Replace {
		r.history[len(r.history)-1] = path
	} else {
		r.history = append(r.history, path)
	}
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	log.Debug().Str("from", from).Str("to", path).Bool("replace", opts.Replace).Msg("Navigate")

	for _, l := range listeners {
		l(from, path)
	}
}

// Back pops one history entry. Returns false at the root.
func (r *Router) Back() bool {
	r.mu.Lock()
	if len(r.history) < 2 {
		r.mu.Unlock()
		return false
	}
	from := r.history[len(r.history)-1]
	r.history = r.history[:len(r.history)-1]
	to := r.history[len(r.history)-1]
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	for _, l := range listeners {
		l(from, to)
	}
	return true
}

// Depth returns the number of history entries
func (r *Router) Depth() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.history)
}

// Listen registers a navigation listener and returns a function removing it
func (r *Router) Listen(l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.listeners = append(r.listeners, listenerEntry{id: id, fn: l})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, e := range r.listeners {
			if e.id == id {
				r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}

// snapshotListeners copies the listeners; caller must hold mu
func (r *Router) snapshotListeners() []Listener {
	out := make([]Listener, len(r.listeners))
	for i, e := range r.listeners {
		out[i] = e.fn
	}
	return out
}
