// Package wsclient keeps a websocket channel to the competition backend
// open, reconnecting on a fixed interval, and hands inbound frames to a
// Handler.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sweeney/stackmat-terminal/internal/metrics"
)

const (
	DefaultReconnectInterval = 1500 * time.Millisecond

	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// ErrNotConnected is returned by Send and SendBinary when there is no link.
var ErrNotConnected = errors.New("wsclient: not connected")

// Handler receives inbound traffic. Calls are made from the read goroutine,
// one at a time.
type Handler interface {
	HandleText(data []byte)
	HandleBinary(data []byte)
	HandleConnected(connected bool)
}

// Identity is reported to the backend in the connect URL.
type Identity struct {
	DeviceID  uint32
	Version   string
	Chip      string
	BuildTime string
	Firmware  string
}

// BuildURL appends the identity query parameters to base.
func BuildURL(base string, id Identity) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("backend url %q: scheme must be ws or wss", base)
	}
	q := u.Query()
	q.Set("id", strconv.FormatUint(uint64(id.DeviceID), 10))
	q.Set("ver", id.Version)
	q.Set("chip", id.Chip)
	q.Set("bt", id.BuildTime)
	q.Set("firmware", id.Firmware)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithReconnectInterval sets the wait between connection attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(c *Client) { c.reconnect = d }
}

// WithDialer replaces the default dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client is a reconnecting websocket client.
type Client struct {
	url       string
	h         Handler
	dialer    *websocket.Dialer
	reconnect time.Duration
	log       zerolog.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

// New creates a client for url. Nothing is dialed until Run.
func New(url string, h Handler, opts ...Option) *Client {
	c := &Client{
		url:       url,
		h:         h,
		dialer:    websocket.DefaultDialer,
		reconnect: DefaultReconnectInterval,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run dials and serves the connection until ctx is cancelled, redialing
// after every failure or disconnect.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.WSReconnectsTotal.Inc()
			c.log.Debug().Err(err).Msg("dial failed")
		} else {
			c.log.Info().Str("url", c.url).Msg("connected")
			c.setConn(conn)
			c.h.HandleConnected(true)

			err = c.serve(ctx, conn)

			c.setConn(nil)
			c.h.HandleConnected(false)
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Msg("connection lost")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnect):
		}
	}
}

// serve runs the read loop and a ping writer until the connection drops
// or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := c.write(conn, websocket.PingMessage, nil); err != nil {
					c.log.Debug().Err(err).Msg("ping failed")
					conn.Close()
					return
				}
			}
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		switch typ {
		case websocket.TextMessage:
			metrics.RecordWS("in", "text")
			c.h.HandleText(data)
		case websocket.BinaryMessage:
			metrics.RecordWS("in", "binary")
			c.h.HandleBinary(data)
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) write(conn *websocket.Conn, typ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(typ, data)
}

func (c *Client) send(typ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(typ, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Connected reports whether a connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes v as a JSON text frame.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := c.send(websocket.TextMessage, data); err != nil {
		return err
	}
	metrics.RecordWS("out", "text")
	return nil
}

// SendBinary writes data as a binary frame.
func (c *Client) SendBinary(data []byte) error {
	if err := c.send(websocket.BinaryMessage, data); err != nil {
		return err
	}
	metrics.RecordWS("out", "binary")
	return nil
}
