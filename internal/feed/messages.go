package feed

import (
	"encoding/json"
)

// Indexer channels
const (
	ChannelMarkets     = "v4_markets"
	ChannelSubaccounts = "v4_subaccounts"
	ChannelOrderbook   = "v4_orderbook"
	ChannelTrades      = "v4_trades"
)

// Message types
const (
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeChannelData  = "channel_data"
	TypeChannelBatch = "channel_batch_data"
	TypeError        = "error"
)

// Message is the envelope of every frame the indexer sends
type Message struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connection_id"`
	MessageID    int64           `json:"message_id"`
	Channel      string          `json:"channel"`
	ID           string          `json:"id"`
	Contents     json.RawMessage `json:"contents"`
	Message      string          `json:"message"`
}

// subscribeMessage is sent for both subscribe and unsubscribe
type subscribeMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	ID      string `json:"id,omitempty"`
	Batched bool   `json:"batched,omitempty"`
}

// WSMarket is one market in a v4_markets payload. All numbers arrive as strings.
type WSMarket struct {
	Ticker                string `json:"ticker"`
	Status                string `json:"status"`
	OraclePrice           string `json:"oraclePrice"`
	TickSize              string `json:"tickSize"`
	StepSize              string `json:"stepSize"`
	InitialMarginFraction string `json:"initialMarginFraction"`
}

// WSMarketsSnapshot is the contents of the v4_markets subscribed message
type WSMarketsSnapshot struct {
	Markets map[string]WSMarket `json:"markets"`
}

// WSOraclePrice is one entry of an oracle price update
type WSOraclePrice struct {
	OraclePrice string `json:"oraclePrice"`
}

// WSMarketsUpdate is the contents of v4_markets channel data
type WSMarketsUpdate struct {
	Trading      map[string]WSMarket      `json:"trading"`
	OraclePrices map[string]WSOraclePrice `json:"oraclePrices"`
}

// WSPerpetualPosition is a position as reported by v4_subaccounts
type WSPerpetualPosition struct {
	Market        string `json:"market"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	EntryPrice    string `json:"entryPrice"`
	UnrealizedPnl string `json:"unrealizedPnl"`
}

// WSSubaccountSnapshot is the contents of the v4_subaccounts subscribed message
type WSSubaccountSnapshot struct {
	Subaccount struct {
		Address                string                         `json:"address"`
		SubaccountNumber       int                            `json:"subaccountNumber"`
		OpenPerpetualPositions map[string]WSPerpetualPosition `json:"openPerpetualPositions"`
	} `json:"subaccount"`
}

// WSSubaccountUpdate is the contents of v4_subaccounts channel data
type WSSubaccountUpdate struct {
	PerpetualPositions []WSPerpetualPosition `json:"perpetualPositions"`
}
