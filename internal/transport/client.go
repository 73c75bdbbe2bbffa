// Package transport is the desktop side of the backend channel: a websocket
// client that sends request envelopes and awaits exactly one correlated reply.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"studiomic/internal/logging"
	"studiomic/internal/protocol"
)

var log = logging.L("transport")

var (
	// ErrBackendTimeout means no reply arrived within the request timeout. The
	// channel stays usable.
	ErrBackendTimeout = errors.New("backend did not reply in time")
	// ErrChannelClosed means the channel dropped while a request was in flight.
	ErrChannelClosed = errors.New("backend channel closed")
	// ErrNotConnected means there is currently no channel to send on.
	ErrNotConnected = errors.New("backend not connected")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Config controls the client's timing. KindTimeouts overrides RequestTimeout
// for request kinds whose backend work runs longer.
type Config struct {
	URL               string
	RequestTimeout    time.Duration
	KindTimeouts      map[protocol.Kind]time.Duration
	ReconnectInterval time.Duration
	DialTimeout       time.Duration
}

// Client multiplexes concurrent requests over one websocket connection and
// reconnects at a fixed interval when the connection drops.
type Client struct {
	cfg      Config
	dialer   websocket.Dialer
	pending  *registry
	newID    func() string
	onStatus func(connected bool)

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// New builds a client. onStatus, when set, is called on every connect and
// disconnect.
func New(cfg Config, onStatus func(connected bool)) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Client{
		cfg:      cfg,
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		pending:  newRegistry(),
		newID:    NewCorrelationID,
		onStatus: onStatus,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start runs the connect loop in the background until ctx ends or Close is called.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.reconnectLoop(ctx)
	})
}

// Close stops reconnecting, closes the connection and fails in-flight requests
// with ErrChannelClosed.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.done)
		started := true
		c.startOnce.Do(func() { started = false })
		if started {
			<-c.stopped
		}
		c.pending.failAll(ErrChannelClosed)
		log.Info("client stopped")
	})
	return nil
}

// Connected reports whether a channel is currently established.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// Send transmits one request and waits for its reply, the timeout for its kind,
// or ctx. A reply with success=false is returned as-is with a nil error. When
// Send gives up it tells the backend to cancel the request.
func (c *Client) Send(ctx context.Context, kind protocol.Kind, payload any) (protocol.Reply, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return protocol.Reply{}, ErrNotConnected
	}

	id := c.newID()
	req, err := protocol.NewRequest(id, kind, payload)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("failed to encode %s request: %w", kind, err)
	}
	reqLog := logging.WithRequest(log, id, string(kind))

	wait, err := c.pending.register(id)
	if err != nil {
		return protocol.Reply{}, err
	}

	if err := c.write(conn, req); err != nil {
		c.pending.remove(id)
		reqLog.Warn("request write failed", logging.KeyError, err)
		return protocol.Reply{}, fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	reqLog.Debug("request sent")

	timeout := c.timeoutFor(kind)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-wait:
		if out.err != nil {
			return protocol.Reply{}, out.err
		}
		reqLog.Debug("reply received", "success", out.reply.Success)
		return out.reply, nil
	case <-timer.C:
		c.abandon(conn, id, reqLog)
		reqLog.Warn("request timed out", "timeout", timeout)
		return protocol.Reply{}, ErrBackendTimeout
	case <-ctx.Done():
		c.abandon(conn, id, reqLog)
		return protocol.Reply{}, ctx.Err()
	}
}

func (c *Client) timeoutFor(kind protocol.Kind) time.Duration {
	if d, ok := c.cfg.KindTimeouts[kind]; ok && d > 0 {
		return d
	}
	return c.cfg.RequestTimeout
}

// abandon drops the listener for id and asks the backend to stop its work.
func (c *Client) abandon(conn *websocket.Conn, id string, reqLog *slog.Logger) {
	c.pending.remove(id)
	if err := c.write(conn, protocol.CancelRequest(id)); err != nil {
		reqLog.Debug("cancel not delivered", logging.KeyError, err)
	}
}

func (c *Client) write(conn *websocket.Conn, req protocol.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(req)
}

func (c *Client) reconnectLoop(ctx context.Context) {
	defer close(c.stopped)

	for {
		if c.stopping(ctx) {
			return
		}

		conn, err := c.connect(ctx)
		if err != nil {
			log.Warn("connection failed", logging.KeyError, err, "retryIn", c.cfg.ReconnectInterval)
		} else {
			c.serve(ctx, conn)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Client) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(protocol.MaxMessageSize)

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	log.Info("connected", "url", c.cfg.URL)
	c.notify(true)
	return conn, nil
}

// serve reads replies until the connection fails, then tears it down.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	connDone := make(chan struct{})
	go c.keepalive(ctx, conn, connDone)

	c.readLoop(conn)
	close(connDone)

	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
	_ = conn.Close()

	if n := c.pending.failAll(ErrChannelClosed); n > 0 {
		log.Warn("in-flight requests failed on disconnect", "count", n)
	}
	log.Info("disconnected")
	c.notify(false)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", logging.KeyError, err)
			}
			return
		}

		var reply protocol.Reply
		if err := json.Unmarshal(data, &reply); err != nil {
			log.Warn("failed to parse reply", logging.KeyError, err)
			continue
		}
		if !c.pending.deliver(reply.ID, outcome{reply: reply}) {
			log.Debug("dropping uncorrelated reply", logging.KeyCorrelationID, reply.ID)
		}
	}
}

// keepalive pings the backend and closes conn when the client stops.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-connDone:
			return
		case <-ctx.Done():
			c.closeConn(conn)
			return
		case <-c.done:
			c.closeConn(conn)
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug("ping failed", logging.KeyError, err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) closeConn(conn *websocket.Conn) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	_ = conn.Close()
}

func (c *Client) notify(connected bool) {
	if c.onStatus != nil {
		c.onStatus(connected)
	}
}
