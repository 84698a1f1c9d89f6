package ws

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	writeTimeout      = 5 * time.Second
	maxReconnectDelay = 30 * time.Second
)

var errNotConnected = errors.New("ws not connected")

// Client is a single push connection. Subscriptions survive reconnects: they
// are replayed on every new connection Run dials.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []Subscription
}

// Subscription identifies a push channel, e.g. {Type: "l2Book", Coin: "SOL"}.
type Subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
	User string `json:"user,omitempty"`
}

type request struct {
	Method       string        `json:"method"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

func New(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &Client{url: url, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Subscribe records sub and sends it on the live connection. Subscribing twice
// to the same channel is a no-op.
func (c *Client) Subscribe(ctx context.Context, sub Subscription) error {
	c.mu.Lock()
	if slices.Contains(c.subs, sub) {
		c.mu.Unlock()
		return nil
	}
	c.subs = append(c.subs, sub)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return send(ctx, conn, request{Method: "subscribe", Subscription: &sub})
}

// Unsubscribe drops sub from the replay set and tells the server to stop
// pushing it. Unknown subscriptions are ignored.
func (c *Client) Unsubscribe(ctx context.Context, sub Subscription) error {
	c.mu.Lock()
	idx := slices.Index(c.subs, sub)
	if idx >= 0 {
		c.subs = slices.Delete(c.subs, idx, idx+1)
	}
	conn := c.conn
	c.mu.Unlock()
	if idx < 0 || conn == nil {
		return nil
	}
	return send(ctx, conn, request{Method: "unsubscribe", Subscription: &sub})
}

func (c *Client) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.subs)
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

// Run reads pushes into handler until ctx ends, reconnecting with capped
// exponential backoff. It only returns ctx's error or a failed first dial.
func (c *Client) Run(ctx context.Context, handler func(json.RawMessage)) error {
	delay := c.reconnectDelay
	replay := false
	for {
		conn, err := c.connection(ctx, replay)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !replay {
				return err
			}
			c.log.Warn("ws reconnect failed", zap.Error(err), zap.Duration("retry_in", delay))
		} else {
			received, err := c.serve(ctx, conn, handler)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logDisconnect(err)
			c.drop(conn)
			if received {
				delay = c.reconnectDelay
			}
		}
		replay = true
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(2*delay, maxReconnectDelay)
	}
}

// connection returns the live connection, dialing and replaying
// subscriptions when the previous one was dropped.
func (c *Client) connection(ctx context.Context, replay bool) (*websocket.Conn, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	conn := c.conn
	subs := slices.Clone(c.subs)
	c.mu.Unlock()
	if conn == nil {
		return nil, errNotConnected
	}
	if !replay {
		return conn, nil
	}
	for i := range subs {
		if err := send(ctx, conn, request{Method: "subscribe", Subscription: &subs[i]}); err != nil {
			c.drop(conn)
			return nil, err
		}
	}
	c.log.Info("ws resubscribed", zap.Int("subscriptions", len(subs)))
	return conn, nil
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn, handler func(json.RawMessage)) (bool, error) {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.pingInterval > 0 {
		go c.ping(pingCtx, conn)
	}
	received := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return received, err
		}
		received = true
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

func (c *Client) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(ctx, conn, request{Method: "ping"}); err != nil {
				return
			}
		}
	}
}

func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "reset")
}

func (c *Client) logDisconnect(err error) {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
		c.log.Info("ws closed by server", zap.String("reason", closeErr.Reason))
		return
	}
	c.log.Warn("ws read failed", zap.Error(err))
}

func send(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
