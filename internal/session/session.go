// Package session binds the market resolver to its collaborators.
//
// A Session listens to the router and the store, turns their notifications into
// events and runs them one at a time. An event raised while another one is being
// processed, such as the route change caused by a redirect, waits until the
// current cycle has finished.
//
// Like the trade page it stands in for, the session is only mounted while the
// router is on a /trade path. Leaving it resets the dependency tracking, so coming
// back runs a full cycle again.
package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/perpdesk/internal/database"
	"github.com/web3guy0/perpdesk/internal/resolver"
	"github.com/web3guy0/perpdesk/internal/route"
	"github.com/web3guy0/perpdesk/internal/store"
)

// KeyValue is the persisted storage the last viewed market lives in
type KeyValue interface {
	Get(key, defaultValue string) (string, error)
	Set(key, value string) error
}

// StateStore is the central state store
type StateStore interface {
	State() store.State
	Dispatch(a store.Action)
	Subscribe(fn store.Listener) func()
}

// Navigator is the router
type Navigator interface {
	Location() string
	Navigate(path string, opts route.NavigateOptions)
	Listen(l route.Listener) func()
}

// MarketSubscriber is told which market to stream. Best effort, no error.
type MarketSubscriber interface {
	SetMarket(marketID string)
}

// Event names what woke the session up
type Event string

const (
	EventMount          Event = "mount"
	EventRouteChanged   Event = "route_changed"
	EventMarketsChanged Event = "markets_changed"
	EventNetworkChanged Event = "network_changed"
)

// reconcileKey holds the inputs whose change triggers a reconciliation cycle
type reconcileKey struct {
	routeMarketID string
	hasMarkets    bool
}

// primeKey holds the inputs whose change re-announces the market to the subscriber
type primeKey struct {
	reconcileKey
	network string
	defined bool
}

// Session reconciles the current market whenever the route, the known market set
// or the selected network changes
type Session struct {
	resolver   *resolver.Resolver
	kv         KeyValue
	store      StateStore
	nav        Navigator
	subscriber MarketSubscriber

	mu      sync.Mutex
	queue   []Event
	running bool
	stopped bool

	// only touched by the goroutine currently draining the queue
	mounted       bool
	lastReconcile reconcileKey
	lastPrime     primeKey

	unsubscribe func()
	unlisten    func()
}

// New creates a session. Nothing runs until Start.
func New(r *resolver.Resolver, kv KeyValue, st StateStore, nav Navigator, sub MarketSubscriber) *Session {
	return &Session{
		resolver:   r,
		kv:         kv,
		store:      st,
		nav:        nav,
		subscriber: sub,
	}
}

// Start registers the listeners and runs the first cycle synchronously.
// The returned error is the first collaborator failure of that drain.
func (s *Session) Start() error {
	s.unsubscribe = s.store.Subscribe(s.onStateChange)
	s.unlisten = s.nav.Listen(s.onNavigate)

	log.Info().Str("location", s.nav.Location()).Msg("🧭 Market session started")
	return s.Notify(EventMount)
}

// Stop detaches the session from the store and the router
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.unlisten != nil {
		s.unlisten()
	}
}

// Notify queues an event. If no other event is in progress the queue is drained
// on the calling goroutine and the first error is returned; otherwise the event
// is left for the goroutine already draining and Notify returns nil.
func (s *Session) Notify(ev Event) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.queue = append(s.queue, ev)
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true

	var firstErr error
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.step(next); err != nil {
			log.Error().Err(err).Str("event", string(next)).Msg("Market reconciliation failed")
			if firstErr == nil {
				firstErr = err
			}
		}

		s.mu.Lock()
	}
	s.running = false
	s.mu.Unlock()

	return firstErr
}

func (s *Session) onNavigate(from, to string) {
	s.Notify(EventRouteChanged)
}

func (s *Session) onStateChange(prev, next store.State) {
	if prev.MarketsDefined != next.MarketsDefined || prev.HasMarketIDs() != next.HasMarketIDs() {
		s.Notify(EventMarketsChanged)
	}
	if prev.SelectedNetwork != next.SelectedNetwork {
		s.Notify(EventNetworkChanged)
	}
}

// isTradePath reports whether the trade page, and with it the session, is mounted
func isTradePath(path string) bool {
	return path == route.Trade || strings.HasPrefix(path, route.Trade+"/")
}

// step runs one event against a single snapshot of the inputs
func (s *Session) step(ev Event) error {
	path := s.nav.Location()
	if !isTradePath(path) {
		if s.mounted {
			log.Debug().Str("location", path).Msg("Market session unmounted")
		}
		s.mounted = false
		return nil
	}

	st := s.store.State()
	routeMarketID, _ := route.MatchTrade(path)

	rk := reconcileKey{routeMarketID: routeMarketID, hasMarkets: st.HasMarketIDs()}
	pk := primeKey{reconcileKey: rk, network: st.SelectedNetwork, defined: st.MarketsDefined}
	fresh := !s.mounted
	s.mounted = true

	var err error
	if fresh || rk != s.lastReconcile {
		s.lastReconcile = rk
		err = s.reconcile(ev, routeMarketID, st)
	}

	// independent of the outcome above, even for a route about to be rejected
	if fresh || pk != s.lastPrime {
		s.lastPrime = pk
		if st.MarketsDefined {
			s.subscriber.SetMarket(s.resolver.PrimingMarket(routeMarketID))
		}
	}

	return err
}

// reconcile resolves the snapshot and applies the plan in order:
// persist, store, dialog, navigation. The first failure aborts the cycle.
func (s *Session) reconcile(ev Event, routeMarketID string, st store.State) error {
	lastViewed, err := s.kv.Get(database.LastViewedMarket, s.resolver.DefaultMarket())
	if err != nil {
		return fmt.Errorf("read last viewed market: %w", err)
	}

	plan := s.resolver.Resolve(resolver.Input{
		RouteMarketID:    routeMarketID,
		KnownMarketIDs:   st.MarketIDs(),
		LastViewedMarket: lastViewed,
		ActiveDialog:     st.ActiveTradeBoxDialog(),
		OpenPositions:    st.OpenPositions,
	})

	log.Debug().
		Str("event", string(ev)).
		Str("route", routeMarketID).
		Str("phase", plan.Phase.String()).
		Str("candidate", plan.Candidate).
		Int("intents", len(plan.Intents)).
		Msg("Market resolved")

	return s.apply(plan)
}

func (s *Session) apply(plan resolver.Plan) error {
	for _, in := range plan.Intents {
		switch in.Kind {
		case resolver.PersistLastViewed:
			if err := s.kv.Set(database.LastViewedMarket, in.MarketID); err != nil {
				return fmt.Errorf("persist last viewed market %s: %w", in.MarketID, err)
			}
		case resolver.SetCurrentMarket:
			s.store.Dispatch(store.SetCurrentMarketID{MarketID: in.MarketID})
		case resolver.CloseTradeBoxDialog:
			s.store.Dispatch(store.CloseDialogInTradeBox{})
		case resolver.Navigate:
			if plan.Phase == resolver.RouteInvalid {
				log.Warn().Str("market", s.nav.Location()).Msg("Market no longer tradeable, leaving for listing")
			}
			s.nav.Navigate(in.Path, route.NavigateOptions{Replace: in.Replace})
		default:
			return fmt.Errorf("unknown intent %s", in.Kind)
		}
	}
	return nil
}
