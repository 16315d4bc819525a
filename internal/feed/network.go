package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/perpdesk/internal/database"
	"github.com/web3guy0/perpdesk/internal/store"
)

// NetworkStore is the part of the store the switcher watches
type NetworkStore interface {
	State() store.State
	Dispatch(a store.Action)
	Subscribe(fn store.Listener) func()
}

// SettingsWriter persists the selected network
type SettingsWriter interface {
	Set(key, value string) error
}

// Endpoint is the connection moved between networks
type Endpoint interface {
	SwitchEndpoint(ctx context.Context, url string) error
}

// NetworkSwitcher follows the selected network: it persists it, drops the old
// market set and moves the feed to the network's indexer. Endpoint switches run
// one at a time on a single goroutine and always target the network selected
// when the switch starts, so rapid changes settle on the last one.
type NetworkSwitcher struct {
	store    NetworkStore
	settings SettingsWriter
	endpoint Endpoint
	resolve  func(network string) (string, bool)

	// RetryDelay spaces out attempts after a failed switch
	RetryDelay time.Duration

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once

	unsubscribe func()
}

// NewNetworkSwitcher creates a switcher. resolve maps a network name to its
// indexer url.
func NewNetworkSwitcher(st NetworkStore, settings SettingsWriter, endpoint Endpoint, resolve func(string) (string, bool)) *NetworkSwitcher {
	return &NetworkSwitcher{
		store:    st,
		settings: settings,
		endpoint: endpoint,
		resolve:  resolve,

		RetryDelay: DefaultReconnectDelay,

		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start subscribes to the store and runs the switch loop until ctx is done or
// Stop is called
func (n *NetworkSwitcher) Start(ctx context.Context) {
	n.unsubscribe = n.store.Subscribe(n.onStateChange)
	go n.run(ctx)
}

// Stop detaches from the store and waits for an in-flight switch to return
func (n *NetworkSwitcher) Stop() {
	if n.unsubscribe == nil {
		return
	}
	n.once.Do(func() {
		n.unsubscribe()
		close(n.stop)
	})
	<-n.done
}

func (n *NetworkSwitcher) onStateChange(prev, next store.State) {
	if prev.SelectedNetwork == next.SelectedNetwork {
		return
	}
	if _, ok := n.resolve(next.SelectedNetwork); !ok {
		log.Error().Str("network", next.SelectedNetwork).Msg("Unknown network selected")
		return
	}

	log.Info().Str("from", prev.SelectedNetwork).Str("to", next.SelectedNetwork).Msg("🌐 Network changed")

	if err := n.settings.Set(database.SelectedNetwork, next.SelectedNetwork); err != nil {
		log.Error().Err(err).Msg("Failed to persist selected network")
	}
	n.store.Dispatch(store.ResetMarkets{})

	n.signal()
}

// signal coalesces: one pending wake-up covers any number of changes
func (n *NetworkSwitcher) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *NetworkSwitcher) run(ctx context.Context) {
	defer close(n.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stop:
			return
		case <-n.wake:
		}

		network := n.store.State().SelectedNetwork
		url, ok := n.resolve(network)
		if !ok {
			continue
		}
		err := n.endpoint.SwitchEndpoint(ctx, url)
		switch {
		case err == nil, errors.Is(err, ErrClosed), ctx.Err() != nil:
		default:
			log.Error().Err(err).Str("network", network).Str("url", url).Dur("retry_in", n.RetryDelay).Msg("Failed to switch indexer endpoint")
			time.AfterFunc(n.RetryDelay, n.signal)
		}
	}
}
