package feed

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/perpdesk/internal/store"
)

// fakeIndexer answers every markets subscription with a one-market snapshot
// and records all received frames.
type fakeIndexer struct {
	mu     sync.Mutex
	frames []subscribeMessage
}

func (f *fakeIndexer) received() []subscribeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]subscribeMessage, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeIndexer) serve(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		conn.WriteJSON(Message{Type: TypeConnected, ConnectionID: "c1"})
		for {
			var msg subscribeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.mu.Lock()
			f.frames = append(f.frames, msg)
			f.mu.Unlock()

			if msg.Type == "subscribe" && msg.Channel == ChannelMarkets {
				contents, _ := json.Marshal(WSMarketsSnapshot{Markets: map[string]WSMarket{
					"BTC-USD": {Ticker: "BTC-USD", Status: "ACTIVE", OraclePrice: "64000"},
				}})
				conn.WriteJSON(Message{Type: TypeSubscribed, Channel: ChannelMarkets, Contents: contents})
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_SubscribeAndReceive(t *testing.T) {
	indexer := &fakeIndexer{}
	srv := indexer.serve(t)
	defer srv.Close()

	s := store.New("mainnet")
	c := NewClient(wsURL(srv), NewHandler(s).Handle, 50*time.Millisecond)
	defer c.Close()

	// remembered before connect, replayed on connect
	require.NoError(t, c.Subscribe(ChannelMarkets, ""))
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())

	require.Eventually(t, func() bool {
		return s.State().HasMarketIDs()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"BTC-USD"}, s.State().MarketIDs())

	require.NoError(t, c.Subscribe(ChannelOrderbook, "BTC-USD"))
	require.NoError(t, c.Unsubscribe(ChannelOrderbook, "BTC-USD"))
	assert.False(t, c.Subscribed(ChannelOrderbook, "BTC-USD"))

	require.Eventually(t, func() bool {
		return len(indexer.received()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []subscribeMessage{
		{Type: "subscribe", Channel: ChannelMarkets, Batched: true},
		{Type: "subscribe", Channel: ChannelOrderbook, ID: "BTC-USD"},
		{Type: "unsubscribe", Channel: ChannelOrderbook, ID: "BTC-USD"},
	}, indexer.received())
}

func TestClient_SwitchEndpointReplaysSubscriptions(t *testing.T) {
	first, second := &fakeIndexer{}, &fakeIndexer{}
	srv1, srv2 := first.serve(t), second.serve(t)
	defer srv1.Close()
	defer srv2.Close()

	c := NewClient(wsURL(srv1), func([]byte) error { return nil }, 50*time.Millisecond)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Subscribe(ChannelSubaccounts, "dydx1abc/0"))

	require.NoError(t, c.SwitchEndpoint(context.Background(), wsURL(srv2)))
	assert.Equal(t, wsURL(srv2), c.URL())

	require.Eventually(t, func() bool {
		return len(second.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, subscribeMessage{Type: "subscribe", Channel: ChannelSubaccounts, ID: "dydx1abc/0"}, second.received()[0])
}

func TestClient_ConnectAfterClose(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", func([]byte) error { return nil }, 0)
	c.Close()
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

// stallingListener accepts TCP connections and never answers the handshake
func stallingListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				c.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestClient_SubscribeDoesNotWaitForDial(t *testing.T) {
	ln := stallingListener(t)

	c := NewClient("ws://"+ln.Addr().String()+"/v4/ws", func([]byte) error { return nil }, 50*time.Millisecond)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dialed := make(chan error, 1)
	go func() { dialed <- c.Connect(ctx) }()

	// let the dial reach the stalled handshake
	time.Sleep(100 * time.Millisecond)

	sub := NewMarketSubscriber(c)
	start := time.Now()
	sub.SetMarket("BTC-USD")
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.True(t, c.Subscribed(ChannelOrderbook, "BTC-USD"))
	assert.True(t, c.Subscribed(ChannelTrades, "BTC-USD"))
	assert.False(t, c.IsConnected())

	cancel()
	assert.Error(t, <-dialed)
}

func TestClient_ConnectAfterCloseDuringDial(t *testing.T) {
	ln := stallingListener(t)

	c := NewClient("ws://"+ln.Addr().String()+"/v4/ws", func([]byte) error { return nil }, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	dialed := make(chan error, 1)
	go func() { dialed <- c.Connect(ctx) }()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	c.Close()
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	require.Error(t, <-dialed)
	assert.False(t, c.IsConnected())
}
