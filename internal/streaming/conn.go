// Package streaming owns the persistent connection per stream topic: dial,
// read loop, jittered reconnect and the polling fallback that masks outages.
package streaming

import (
	"context"
	"math/rand/v2"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to read the next message before the connection is
	// considered dead. The server pings more often than this.
	readWait = 90 * time.Second

	writeWait = 10 * time.Second

	maxMessageSize = 512 * 1024 // 512KB

	// Reconnect dial backoff bounds.
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second

	// Poll fallback cadence. The first poll lands anywhere in the spread
	// window so a mass disconnect does not turn into a thundering herd;
	// subsequent polls are spaced pollBase plus jitter.
	pollBase   = 20 * time.Second
	pollJitter = 20 * time.Second
)

// Status is the connection lifecycle state.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Endpoint identifies one logical stream subscription.
type Endpoint struct {
	Topic      string // "user", "public", "public:local", "hashtag", "list"
	Tag        string // set when Topic is "hashtag"
	List       string // set when Topic is "list"
	Collection string // partition key the frames belong to
}

// Handlers supplies the callbacks a connection drives. OnMessage receives
// raw frames; parse failures downstream never kill the connection. Poll, if
// non-nil, is invoked on the fallback cadence while disconnected.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
	OnReconnect  func()
	OnMessage    func(raw []byte)
	Poll         func(ctx context.Context)
}

// Manager opens connections against one streaming base URL.
type Manager struct {
	baseURL     string
	accessToken string
	dialer      *websocket.Dialer
	logger      *zap.Logger
}

func NewManager(baseURL, accessToken string, logger *zap.Logger) *Manager {
	return &Manager{
		baseURL:     baseURL,
		accessToken: accessToken,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger: logger,
	}
}

// StreamURL builds the subscription address for an endpoint.
func (m *Manager) StreamURL(e Endpoint) (string, error) {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if m.accessToken != "" {
		q.Set("access_token", m.accessToken)
	}
	q.Set("stream", e.Topic)
	if e.Tag != "" {
		q.Set("tag", e.Tag)
	}
	if e.List != "" {
		q.Set("list", e.List)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open establishes a connection for an endpoint and starts its lifecycle
// goroutine. The returned Conn is torn down with Close.
func (m *Manager) Open(e Endpoint, h Handlers) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:       uuid.New().String(),
		mgr:      m,
		endpoint: e,
		handlers: h,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger: m.logger.With(
			zap.String("topic", e.Topic),
			zap.String("collection", e.Collection),
		),
	}
	go c.run()
	return c
}

// Conn is the runtime state of one stream subscription.
type Conn struct {
	id       string
	mgr      *Manager
	endpoint Endpoint
	handlers Handlers
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	status atomic.Int32

	mu sync.Mutex
	ws *websocket.Conn

	closeOnce sync.Once

	pollMu     sync.Mutex
	pollCancel context.CancelFunc
}

// ID returns the connection's identifier, used in logs.
func (c *Conn) ID() string { return c.id }

// Status reports the current lifecycle state.
func (c *Conn) Status() Status {
	return Status(c.status.Load())
}

// Done is closed once the lifecycle goroutine has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close tears down the connection and cancels any pending poll timer.
// Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.stopPolling()
		c.mu.Lock()
		if c.ws != nil {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = c.ws.Close()
		}
		c.mu.Unlock()
		c.status.Store(int32(StatusDisconnected))
	})
}

// run drives the state machine: disconnected -> connecting -> connected ->
// disconnected -> reconnecting -> connected | disconnected, terminal only on
// Close.
func (c *Conn) run() {
	defer close(c.done)

	everConnected := false
	attempt := 0
	pollingActive := false

	for {
		if c.ctx.Err() != nil {
			return
		}

		if everConnected {
			c.status.Store(int32(StatusReconnecting))
		} else {
			c.status.Store(int32(StatusConnecting))
		}

		ws, err := c.dial()
		if err != nil {
			// A failed dial never abandons the retry loop; we fall
			// back to polling and reschedule with jitter.
			c.logger.Warn("stream dial failed", zap.Error(err))
			c.status.Store(int32(StatusDisconnected))
			if !pollingActive {
				c.startPolling()
				pollingActive = true
			}
			if !c.sleep(reconnectDelay(attempt)) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()

		c.stopPolling()
		pollingActive = false
		c.status.Store(int32(StatusConnected))

		if everConnected {
			c.logger.Info("stream reconnected", zap.String("connID", c.id))
			// The reconnect callback must trigger a gap-fill fetch: the
			// client cannot know what was missed while disconnected.
			if c.handlers.OnReconnect != nil {
				c.handlers.OnReconnect()
			}
		} else {
			c.logger.Info("stream connected", zap.String("connID", c.id))
			if c.handlers.OnConnect != nil {
				c.handlers.OnConnect()
			}
		}
		everConnected = true

		c.readLoop(ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()

		if c.ctx.Err() != nil {
			return
		}

		c.logger.Info("stream disconnected", zap.String("connID", c.id))
		c.status.Store(int32(StatusDisconnected))
		if c.handlers.OnDisconnect != nil {
			c.handlers.OnDisconnect()
		}
		c.startPolling()
		pollingActive = true
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	target, err := c.mgr.StreamURL(c.endpoint)
	if err != nil {
		return nil, err
	}
	ws, _, err := c.mgr.dialer.DialContext(c.ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("stream read error",
					zap.String("connID", c.id),
					zap.Error(err),
				)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(message)
		}
	}
}

// startPolling schedules the REST fallback: first poll anywhere within the
// spread window, then pollBase plus jitter between polls, until reconnect or
// Close cancels it.
func (c *Conn) startPolling() {
	if c.handlers.Poll == nil {
		return
	}

	c.pollMu.Lock()
	if c.pollCancel != nil {
		c.pollMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(c.ctx)
	c.pollCancel = cancel
	c.pollMu.Unlock()

	go func() {
		delay := firstPollDelay()
		for {
			c.logger.Debug("poll scheduled",
				zap.String("connID", c.id),
				zap.Duration("delay", delay),
			)
			select {
			case <-pollCtx.Done():
				return
			case <-time.After(delay):
			}
			c.handlers.Poll(pollCtx)
			delay = nextPollDelay()
		}
	}()
}

func (c *Conn) stopPolling() {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

// sleep waits for d or until the connection context is cancelled. Returns
// false on cancellation.
func (c *Conn) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// firstPollDelay returns a delay in [0, pollBase+pollJitter).
func firstPollDelay() time.Duration {
	return rand.N(pollBase + pollJitter)
}

// nextPollDelay returns a delay in [pollBase, pollBase+pollJitter).
func nextPollDelay() time.Duration {
	return pollBase + rand.N(pollJitter)
}

// reconnectDelay is the dial backoff: exponential with jitter, capped.
func reconnectDelay(attempt int) time.Duration {
	d := reconnectBase << min(attempt, 10)
	if d > reconnectCap {
		d = reconnectCap
	}
	return d/2 + rand.N(d/2+1)
}
