package store

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/perpdesk/types"
)

// Action is a state transition. The set of actions is closed to this package.
type Action interface {
	Name() string
	reduce(s State) State
}

// SetCurrentMarketID sets the market the trade views are bound to
type SetCurrentMarketID struct {
	MarketID string
}

func (SetCurrentMarketID) Name() string { return "perpetuals/setCurrentMarketId" }

func (a SetCurrentMarketID) reduce(s State) State {
	s.CurrentMarketID = a.MarketID
	return s
}

// OpenDialogInTradeBox replaces the trade-box dialog
type OpenDialogInTradeBox struct {
	Dialog types.Dialog
}

func (OpenDialogInTradeBox) Name() string { return "dialogs/openDialogInTradeBox" }

func (a OpenDialogInTradeBox) reduce(s State) State {
	d := a.Dialog
	if d.Payload != nil {
		payload := make(map[string]string, len(d.Payload))
		for k, v := range d.Payload {
			payload[k] = v
		}
		d.Payload = payload
	}
	s.TradeBoxDialog = &d
	return s
}

// CloseDialogInTradeBox closes whatever dialog the trade box shows
type CloseDialogInTradeBox struct{}

func (CloseDialogInTradeBox) Name() string { return "dialogs/closeDialogInTradeBox" }

func (CloseDialogInTradeBox) reduce(s State) State {
	s.TradeBoxDialog = nil
	return s
}

// SetMarkets replaces the market cache with a full snapshot and marks it defined
type SetMarkets struct {
	Markets []types.Market
}

func (SetMarkets) Name() string { return "perpetuals/setMarkets" }

func (a SetMarkets) reduce(s State) State {
	markets := make(map[string]types.Market, len(a.Markets))
	for _, m := range a.Markets {
		markets[m.ID] = m
	}
	s.Markets = markets
	s.MarketsDefined = true
	return s
}

// MarketUpdate is a partial update; nil fields are left untouched
type MarketUpdate struct {
	ID          string
	Status      *string
	OraclePrice *decimal.Decimal
}

// UpdateMarkets merges partial updates into the cache. Unknown ids are created.
// Updates are dropped while the set is undefined: until a snapshot arrives they
// could only describe a fragment of it.
type UpdateMarkets struct {
	Updates []MarketUpdate
}

func (UpdateMarkets) Name() string { return "perpetuals/updateMarkets" }

func (a UpdateMarkets) reduce(s State) State {
	if !s.MarketsDefined {
		return s
	}
	markets := make(map[string]types.Market, len(s.Markets)+len(a.Updates))
	for id, m := range s.Markets {
		markets[id] = m
	}
	for _, u := range a.Updates {
		m, ok := markets[u.ID]
		if !ok {
			m = types.Market{ID: u.ID}
		}
		if u.Status != nil {
			m.Status = *u.Status
		}
		if u.OraclePrice != nil {
			m.OraclePrice = *u.OraclePrice
		}
		markets[u.ID] = m
	}
	s.Markets = markets
	return s
}

// ResetMarkets drops the cache and marks the set undefined again
type ResetMarkets struct{}

func (ResetMarkets) Name() string { return "perpetuals/resetMarkets" }

func (ResetMarkets) reduce(s State) State {
	s.Markets = nil
	s.MarketsDefined = false
	s.OpenPositions = nil
	return s
}

// SetOpenPositions replaces the open positions list
type SetOpenPositions struct {
	Positions []types.Position
}

func (SetOpenPositions) Name() string { return "account/setOpenPositions" }

func (a SetOpenPositions) reduce(s State) State {
	positions := make([]types.Position, 0, len(a.Positions))
	for _, p := range a.Positions {
		if p.IsOpen() {
			positions = append(positions, p)
		}
	}
	s.OpenPositions = positions
	return s
}

// UpsertPositions applies incremental position updates. A position that is no
// longer open is removed.
type UpsertPositions struct {
	Positions []types.Position
}

func (UpsertPositions) Name() string { return "account/upsertPositions" }

func (a UpsertPositions) reduce(s State) State {
	byID := make(map[string]types.Position, len(a.Positions))
	for _, p := range a.Positions {
		byID[p.ID] = p
	}

	positions := make([]types.Position, 0, len(s.OpenPositions)+len(a.Positions))
	for _, p := range s.OpenPositions {
		if u, ok := byID[p.ID]; ok {
			delete(byID, p.ID)
			if !u.IsOpen() {
				continue
			}
			p = u
		}
		positions = append(positions, p)
	}
	// keep update order for new positions
	for _, p := range a.Positions {
		u, ok := byID[p.ID]
		if !ok {
			continue
		}
		if u.IsOpen() {
			positions = append(positions, u)
		}
		delete(byID, p.ID)
	}
	s.OpenPositions = positions
	return s
}

// SetSelectedNetwork switches the network the session talks to
type SetSelectedNetwork struct {
	Network string
}

func (SetSelectedNetwork) Name() string { return "app/setSelectedNetwork" }

func (a SetSelectedNetwork) reduce(s State) State {
	s.SelectedNetwork = a.Network
	return s
}
