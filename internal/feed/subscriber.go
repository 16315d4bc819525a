package feed

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ChannelSubscriber is the part of Client the market subscriber needs
type ChannelSubscriber interface {
	Subscribe(channel, id string) error
	Unsubscribe(channel, id string) error
}

// marketChannels are followed for the active market only
var marketChannels = []string{ChannelOrderbook, ChannelTrades}

// MarketSubscriber keeps the per-market channels pointed at the active market.
// SetMarket is best effort: failures are logged, never returned.
type MarketSubscriber struct {
	mu     sync.Mutex
	client ChannelSubscriber
	active string
}

// NewMarketSubscriber creates a subscriber on top of client
func NewMarketSubscriber(client ChannelSubscriber) *MarketSubscriber {
	return &MarketSubscriber{client: client}
}

// SetMarket moves the order book and trades subscriptions to marketID
func (s *MarketSubscriber) SetMarket(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if marketID == s.active {
		return
	}

	prev := s.active
	s.active = marketID

	if prev != "" {
		for _, ch := range marketChannels {
			if err := s.client.Unsubscribe(ch, prev); err != nil {
				log.Warn().Err(err).Str("channel", ch).Str("market", prev).Msg("Unsubscribe failed")
			}
		}
	}
	if marketID == "" {
		return
	}
	for _, ch := range marketChannels {
		if err := s.client.Subscribe(ch, marketID); err != nil {
			log.Warn().Err(err).Str("channel", ch).Str("market", marketID).Msg("Subscribe failed")
		}
	}

	log.Info().Str("from", prev).Str("to", marketID).Msg("🎯 Active market set")
}

// Market returns the market currently subscribed
func (s *MarketSubscriber) Market() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
