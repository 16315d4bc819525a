// Package store holds the client-side trading state.
//
// The store is a single mutable cell of immutable State snapshots. Every change goes
// through Dispatch with an Action; listeners are called synchronously afterwards with
// the previous and the next snapshot.
package store

import (
	"sort"

	"github.com/web3guy0/perpdesk/types"
)

// State is an immutable snapshot. Maps and slices in it must not be mutated;
// reducers always build fresh copies.
type State struct {
	CurrentMarketID string
	Markets         map[string]types.Market

	// MarketsDefined is false until the markets channel delivered its first snapshot.
	// An empty but defined set means "subscribed, nothing tradeable yet".
	MarketsDefined bool

	OpenPositions   []types.Position
	TradeBoxDialog  *types.Dialog
	SelectedNetwork string
}

// MarketIDs returns the known (tradeable) market ids in sorted order
func (s State) MarketIDs() []string {
	ids := make([]string, 0, len(s.Markets))
	for id, m := range s.Markets {
		if m.Tradeable() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// HasMarketIDs reports whether at least one market is known
func (s State) HasMarketIDs() bool {
	for _, m := range s.Markets {
		if m.Tradeable() {
			return true
		}
	}
	return false
}

// CurrentMarket returns the market the session currently resolved to
func (s State) CurrentMarket() (types.Market, bool) {
	m, ok := s.Markets[s.CurrentMarketID]
	return m, ok
}

// ActiveTradeBoxDialog returns the open trade-box dialog, or nil
func (s State) ActiveTradeBoxDialog() *types.Dialog {
	return s.TradeBoxDialog
}

// HasOpenPosition reports whether an open position exists for the market
func (s State) HasOpenPosition(marketID string) bool {
	for _, p := range s.OpenPositions {
		if p.ID == marketID {
			return true
		}
	}
	return false
}
