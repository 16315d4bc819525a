package feed

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/perpdesk/internal/store"
	"github.com/web3guy0/perpdesk/types"
)

// Dispatcher receives the store actions produced from indexer messages
type Dispatcher interface {
	Dispatch(a store.Action)
}

// Handler turns raw indexer frames into store actions
type Handler struct {
	store Dispatcher
}

// NewHandler creates a handler dispatching into d
func NewHandler(d Dispatcher) *Handler {
	return &Handler{store: d}
}

// Handle processes one frame
func (h *Handler) Handle(data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	switch msg.Type {
	case TypeConnected:
		log.Info().Str("connection_id", msg.ConnectionID).Msg("✅ Indexer connection established")
		return nil
	case TypeError:
		return fmt.Errorf("indexer error: %s", msg.Message)
	case TypeUnsubscribed:
		log.Debug().Str("channel", msg.Channel).Str("id", msg.ID).Msg("Unsubscribed")
		return nil
	case TypeSubscribed:
		return h.handleSubscribed(&msg)
	case TypeChannelData:
		return h.handleChannelData(msg.Channel, msg.Contents)
	case TypeChannelBatch:
		var batch []json.RawMessage
		if err := json.Unmarshal(msg.Contents, &batch); err != nil {
			return fmt.Errorf("decode %s batch: %w", msg.Channel, err)
		}
		for _, contents := range batch {
			if err := h.handleChannelData(msg.Channel, contents); err != nil {
				return err
			}
		}
		return nil
	default:
		log.Debug().Str("type", msg.Type).Msg("Ignoring indexer message")
		return nil
	}
}

func (h *Handler) handleSubscribed(msg *Message) error {
	switch msg.Channel {
	case ChannelMarkets:
		var snap WSMarketsSnapshot
		if err := json.Unmarshal(msg.Contents, &snap); err != nil {
			return fmt.Errorf("decode markets snapshot: %w", err)
		}
		markets := make([]types.Market, 0, len(snap.Markets))
		for id, m := range snap.Markets {
			markets = append(markets, toMarket(id, m))
		}
		sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })

		log.Info().Int("markets", len(markets)).Msg("📡 Markets snapshot received")
		h.store.Dispatch(store.SetMarkets{Markets: markets})

	case ChannelSubaccounts:
		var snap WSSubaccountSnapshot
		if err := json.Unmarshal(msg.Contents, &snap); err != nil {
			return fmt.Errorf("decode subaccount snapshot: %w", err)
		}
		positions := make([]types.Position, 0, len(snap.Subaccount.OpenPerpetualPositions))
		for id, p := range snap.Subaccount.OpenPerpetualPositions {
			if p.Market == "" {
				p.Market = id
			}
			positions = append(positions, toPosition(p))
		}
		sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })

		log.Info().
			Str("address", snap.Subaccount.Address).
			Int("positions", len(positions)).
			Msg("💼 Subaccount snapshot received")
		h.store.Dispatch(store.SetOpenPositions{Positions: positions})

	default:
		log.Debug().Str("channel", msg.Channel).Str("id", msg.ID).Msg("Subscribed")
	}
	return nil
}

func (h *Handler) handleChannelData(channel string, contents json.RawMessage) error {
	switch channel {
	case ChannelMarkets:
		var upd WSMarketsUpdate
		if err := json.Unmarshal(contents, &upd); err != nil {
			return fmt.Errorf("decode markets update: %w", err)
		}
		updates := marketUpdates(upd)
		if len(updates) > 0 {
			h.store.Dispatch(store.UpdateMarkets{Updates: updates})
		}

	case ChannelSubaccounts:
		var upd WSSubaccountUpdate
		if err := json.Unmarshal(contents, &upd); err != nil {
			return fmt.Errorf("decode subaccount update: %w", err)
		}
		if len(upd.PerpetualPositions) == 0 {
			return nil
		}
		positions := make([]types.Position, 0, len(upd.PerpetualPositions))
		for _, p := range upd.PerpetualPositions {
			positions = append(positions, toPosition(p))
		}
		h.store.Dispatch(store.UpsertPositions{Positions: positions})

	case ChannelOrderbook, ChannelTrades:
		// consumed by the market views, nothing to keep here

	default:
		log.Debug().Str("channel", channel).Msg("Ignoring channel data")
	}
	return nil
}

func marketUpdates(upd WSMarketsUpdate) []store.MarketUpdate {
	byID := make(map[string]*store.MarketUpdate)
	get := func(id string) *store.MarketUpdate {
		u, ok := byID[id]
		if !ok {
			u = &store.MarketUpdate{ID: id}
			byID[id] = u
		}
		return u
	}

	for id, m := range upd.Trading {
		if m.Ticker != "" {
			id = m.Ticker
		}
		u := get(id)
		if m.Status != "" {
			status := m.Status
			u.Status = &status
		}
		if p, ok := parseDecimal(m.OraclePrice); ok {
			u.OraclePrice = &p
		}
	}
	for id, op := range upd.OraclePrices {
		if p, ok := parseDecimal(op.OraclePrice); ok {
			get(id).OraclePrice = &p
		}
	}

	out := make([]store.MarketUpdate, 0, len(byID))
	for _, u := range byID {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toMarket(id string, m WSMarket) types.Market {
	if m.Ticker != "" {
		id = m.Ticker
	}
	return types.Market{
		ID:                    id,
		Status:                m.Status,
		OraclePrice:           mustDecimal(m.OraclePrice),
		TickSize:              mustDecimal(m.TickSize),
		StepSize:              mustDecimal(m.StepSize),
		InitialMarginFraction: mustDecimal(m.InitialMarginFraction),
	}
}

func toPosition(p WSPerpetualPosition) types.Position {
	return types.Position{
		ID:            p.Market,
		Side:          p.Side,
		Status:        p.Status,
		Size:          mustDecimal(p.Size),
		EntryPrice:    mustDecimal(p.EntryPrice),
		UnrealizedPnl: mustDecimal(p.UnrealizedPnl),
	}
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Warn().Str("value", s).Msg("Unparseable decimal from indexer")
		return decimal.Zero, false
	}
	return d, true
}

// mustDecimal parses s, falling back to zero
func mustDecimal(s string) decimal.Decimal {
	d, _ := parseDecimal(s)
	return d
}
