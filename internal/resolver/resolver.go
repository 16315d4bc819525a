// Package resolver decides which market the trading session is bound to.
//
// Three sources compete: the market segment of the current route, the persisted
// last-viewed market and the live set of known markets. Resolve is a pure function
// of a snapshot of those inputs; it returns the chosen market together with the
// ordered side effects the caller has to perform. Nothing here touches storage,
// the store or the router.
package resolver

import (
	"slices"

	"github.com/web3guy0/perpdesk/internal/route"
	"github.com/web3guy0/perpdesk/types"
)

// Phase classifies a snapshot
type Phase int

const (
	// MarketsUnknown: the known market set is empty
	MarketsUnknown Phase = iota
	// RouteValid: the route names a known market
	RouteValid
	// RouteInvalid: the route names a market outside a non-empty known set
	RouteInvalid
	// RouteAbsent: no market in the route, known set non-empty
	RouteAbsent
)

func (p Phase) String() string {
	switch p {
	case MarketsUnknown:
		return "markets_unknown"
	case RouteValid:
		return "route_valid"
	case RouteInvalid:
		return "route_invalid"
	case RouteAbsent:
		return "route_absent"
	default:
		return "unknown"
	}
}

// IntentKind is the type of a side effect
type IntentKind int

const (
	PersistLastViewed IntentKind = iota
	SetCurrentMarket
	CloseTradeBoxDialog
	Navigate
)

func (k IntentKind) String() string {
	switch k {
	case PersistLastViewed:
		return "persist_last_viewed"
	case SetCurrentMarket:
		return "set_current_market"
	case CloseTradeBoxDialog:
		return "close_trade_box_dialog"
	case Navigate:
		return "navigate"
	default:
		return "unknown"
	}
}

// Intent is one side effect. MarketID is set for PersistLastViewed and
// SetCurrentMarket, Path and Replace for Navigate.
type Intent struct {
	Kind     IntentKind
	MarketID string
	Path     string
	Replace  bool
}

// Input is the snapshot a cycle resolves against
type Input struct {
	RouteMarketID    string // "" when the route carries no market
	KnownMarketIDs   []string
	LastViewedMarket string
	ActiveDialog     *types.Dialog
	OpenPositions    []types.Position
}

// Plan is the result of one cycle. Intents are ordered: persist, store, dialog,
// navigation.
type Plan struct {
	Phase     Phase
	Candidate string
	Intents   []Intent
}

// Resolver carries the configured fallback market. The default is expected to be
// a member of the known set once markets are loaded.
type Resolver struct {
	defaultMarket string
}

// New creates a resolver with the given default market
func New(defaultMarket string) *Resolver {
	return &Resolver{defaultMarket: defaultMarket}
}

// DefaultMarket returns the configured fallback
func (r *Resolver) DefaultMarket() string {
	return r.defaultMarket
}

// Candidate picks the market for a snapshot. The route wins over the persisted
// value; with a non-empty known set anything unknown falls back to the default.
func (r *Resolver) Candidate(routeMarketID string, known []string, lastViewed string) string {
	fallback := routeMarketID
	if fallback == "" {
		fallback = lastViewed
	}
	if fallback == "" {
		fallback = r.defaultMarket
	}
	if len(known) == 0 {
		return fallback
	}
	if !slices.Contains(known, fallback) {
		return r.defaultMarket
	}
	return fallback
}

// Classify returns the phase of a snapshot
func Classify(routeMarketID string, known []string) Phase {
	switch {
	case len(known) == 0:
		return MarketsUnknown
	case routeMarketID == "":
		return RouteAbsent
	case slices.Contains(known, routeMarketID):
		return RouteValid
	default:
		return RouteInvalid
	}
}

// Resolve computes the candidate and the side effects for one cycle
func (r *Resolver) Resolve(in Input) Plan {
	plan := Plan{
		Phase:     Classify(in.RouteMarketID, in.KnownMarketIDs),
		Candidate: r.Candidate(in.RouteMarketID, in.KnownMarketIDs, in.LastViewedMarket),
	}

	switch plan.Phase {
	case MarketsUnknown, RouteAbsent:
		plan.Intents = []Intent{
			{Kind: PersistLastViewed, MarketID: plan.Candidate},
			{Kind: SetCurrentMarket, MarketID: plan.Candidate},
			{Kind: CloseTradeBoxDialog},
		}
		if plan.Candidate != in.RouteMarketID {
			plan.Intents = append(plan.Intents, Intent{
				Kind:    Navigate,
				Path:    route.TradePath(plan.Candidate),
				Replace: true,
			})
		}

	case RouteInvalid:
		// settled or delisted market: leave the market context entirely
		plan.Intents = []Intent{
			{Kind: Navigate, Path: route.Markets, Replace: true},
		}

	case RouteValid:
		plan.Intents = []Intent{
			{Kind: PersistLastViewed, MarketID: in.RouteMarketID},
			{Kind: SetCurrentMarket, MarketID: in.RouteMarketID},
		}
		if !keepsClosePositionDialog(in.ActiveDialog, in.OpenPositions, in.RouteMarketID) {
			plan.Intents = append(plan.Intents, Intent{Kind: CloseTradeBoxDialog})
		}
	}

	return plan
}

// PrimingMarket is the market announced to the subscription manager. It uses the
// raw route value, not the candidate, so an invalid route is still announced
// before the redirect away from it.
func (r *Resolver) PrimingMarket(routeMarketID string) string {
	if routeMarketID != "" {
		return routeMarketID
	}
	return r.defaultMarket
}

// A close-position dialog survives a market switch while the new market still has
// an open position.
func keepsClosePositionDialog(d *types.Dialog, positions []types.Position, marketID string) bool {
	if d == nil || d.Type != types.DialogClosePosition {
		return false
	}
	for _, p := range positions {
		if p.ID == marketID {
			return true
		}
	}
	return false
}
