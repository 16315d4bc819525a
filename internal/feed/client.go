package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	HandshakeTimeout      = 30 * time.Second
	WriteTimeout          = 10 * time.Second
	PingInterval          = 30 * time.Second
	DefaultReconnectDelay = 5 * time.Second
)

var ErrClosed = errors.New("feed client closed")

type subscription struct {
	channel string
	id      string
}

// Client manages the WebSocket connection to the indexer. Subscriptions are
// remembered and replayed after every reconnect.
type Client struct {
	mu          sync.RWMutex
	url         string
	conn        *websocket.Conn
	isConnected bool
	closed      bool

	subscriptions map[subscription]bool
	order         []subscription

	handle         func([]byte) error
	reconnectDelay time.Duration
	dialer         websocket.Dialer

	stopCh chan struct{}
}

// NewClient creates a client for url. Frames are passed to handle; a handler
// error is logged and the connection stays up.
func NewClient(url string, handle func([]byte) error, reconnectDelay time.Duration) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Client{
		url:            url,
		subscriptions:  make(map[subscription]bool),
		handle:         handle,
		reconnectDelay: reconnectDelay,
		dialer:         websocket.Dialer{HandshakeTimeout: HandshakeTimeout},
		stopCh:         make(chan struct{}),
	}
}

// URL returns the endpoint the client dials
func (c *Client) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// Connect dials the indexer and replays remembered subscriptions. The dial runs
// without holding the lock, so Subscribe and Unsubscribe only record while it is
// in flight; the replay picks up whatever is remembered once it completes.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed, connected, url := c.closed, c.isConnected, c.url
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if connected {
		return nil
	}

	log.Info().Str("url", url).Msg("Connecting to indexer WebSocket...")

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		conn.Close()
		return ErrClosed
	case c.isConnected:
		// another dial won
		conn.Close()
		return nil
	case c.url != url:
		// endpoint switched while dialing, the switch connects on its own
		conn.Close()
		return nil
	}

	c.conn = conn
	c.isConnected = true

	for _, sub := range c.order {
		if err := c.writeLocked(subscribeFrame("subscribe", sub)); err != nil {
			log.Warn().Err(err).Str("channel", sub.channel).Str("id", sub.id).Msg("Re-subscribe failed")
		}
	}

	go c.readMessages(conn)
	go c.pingLoop(conn)

	log.Info().Int("subscriptions", len(c.order)).Msg("✅ Connected to indexer WebSocket")
	return nil
}

// batchedChannels are asked to coalesce updates into channel_batch_data frames
var batchedChannels = map[string]bool{ChannelMarkets: true}

func subscribeFrame(typ string, sub subscription) subscribeMessage {
	msg := subscribeMessage{Type: typ, Channel: sub.channel, ID: sub.id}
	if typ == "subscribe" {
		msg.Batched = batchedChannels[sub.channel]
	}
	return msg
}

// Subscribe adds a channel subscription. When disconnected it is only remembered
// and sent on the next connect.
func (c *Client) Subscribe(channel, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := subscription{channel: channel, id: id}
	if c.subscriptions[sub] {
		return nil
	}
	c.subscriptions[sub] = true
	c.order = append(c.order, sub)

	if !c.isConnected {
		return nil
	}
	if err := c.writeLocked(subscribeFrame("subscribe", sub)); err != nil {
		return fmt.Errorf("subscribe %s/%s failed: %w", channel, id, err)
	}
	log.Info().Str("channel", channel).Str("id", id).Msg("📡 Subscribed")
	return nil
}

// Unsubscribe drops a channel subscription
func (c *Client) Unsubscribe(channel, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := subscription{channel: channel, id: id}
	if !c.subscriptions[sub] {
		return nil
	}
	delete(c.subscriptions, sub)
	for i, s := range c.order {
		if s == sub {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}

	if !c.isConnected {
		return nil
	}
	if err := c.writeLocked(subscribeFrame("unsubscribe", sub)); err != nil {
		return fmt.Errorf("unsubscribe %s/%s failed: %w", channel, id, err)
	}
	return nil
}

// Subscribed reports whether the channel/id pair is currently subscribed
func (c *Client) Subscribed(channel, id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[subscription{channel: channel, id: id}]
}

// SwitchEndpoint drops the current connection and dials url instead. On the
// same url it only connects if the client is down.
func (c *Client) SwitchEndpoint(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.url == url {
		c.mu.Unlock()
		return c.Connect(ctx)
	}
	c.url = url
	old := c.conn
	c.conn = nil
	c.isConnected = false
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	log.Info().Str("url", url).Msg("🔀 Switching indexer endpoint")
	return c.Connect(ctx)
}

// writeLocked sends a JSON frame; caller must hold mu
func (c *Client) writeLocked(v any) error {
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		// a replaced connection may still deliver a buffered frame
		if !c.current(conn) {
			return
		}

		if err := c.handle(message); err != nil {
			log.Warn().Err(err).Msg("Failed to handle indexer message")
		}
	}
}

func (c *Client) current(conn *websocket.Conn) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn == conn
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout))
			c.mu.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// replaced by SwitchEndpoint or Close
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.isConnected = false
	c.mu.Unlock()

	log.Warn().Err(cause).Dur("retry_in", c.reconnectDelay).Msg("Indexer WebSocket disconnected")

	for {
		select {
		case <-c.stopCh:
			return
		case <-time.After(c.reconnectDelay):
		}

		err := c.Connect(context.Background())
		if err == nil || errors.Is(err, ErrClosed) {
			return
		}
		log.Error().Err(err).Msg("Reconnect failed")
	}
}

// Close closes the WebSocket connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.stopCh)

	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(WriteTimeout),
		)
		c.conn.Close()
		c.conn = nil
	}
	c.isConnected = false
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}
