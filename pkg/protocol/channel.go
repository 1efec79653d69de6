// Package protocol owns the persistent websocket link to the device
// controller and delivers command strings over it.
package protocol

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

var (
	ErrNotConnected  = errors.New("controller not connected")
	ErrChannelClosed = errors.New("channel closed")
)

type State uint32

const (
	Connecting State = iota
	Open
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Command is anything that knows its own wire form.
type Command interface {
	Valid() bool
	Wire() string
}

// Hooks are invoked from the connection's reader goroutine, except OnOpen
// and dial errors which run on the caller of Open or Reconnect.
type Hooks struct {
	OnOpen    func(url string)
	OnMessage func(msg []byte)
	OnError   func(err error)
	OnClose   func(err error)
}

type ChannelConfig struct {
	Url          string
	Dialer       *ws.Dialer
	WriteTimeout time.Duration
	Hooks        Hooks
}

// Channel is a single outbound connection shared between the pipeline, which
// sends, and a reader goroutine, which tracks lifecycle events. It does not
// reconnect by itself.
type Channel struct {
	cfg ChannelConfig

	// dialing is held for a whole Open or Reconnect so only one
	// connection is ever installed at a time
	dialing sync.Mutex

	mu     sync.Mutex
	web    *WebSocket
	state  State
	closed bool

	readers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

const DefaultWriteTimeout = 5 * time.Second

func NewChannel(cfg ChannelConfig) *Channel {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Channel{cfg: cfg, state: Closed}
}

func (c *Channel) Url() string { return c.cfg.Url }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open dials the controller and starts the reader goroutine for the new
// connection.
func (c *Channel) Open(ctx context.Context) error {
	c.dialing.Lock()
	defer c.dialing.Unlock()
	return c.open(ctx)
}

func (c *Channel) open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.state == Open {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()

	web, err := DialWebSocket(ctx, c.cfg.Dialer, c.cfg.Url, c.cfg.WriteTimeout)

	c.mu.Lock()
	if err != nil {
		if !c.closed {
			c.state = Failed
		}
		c.mu.Unlock()
		c.emitError(err)
		return fmt.Errorf("dial %s: %w", c.cfg.Url, err)
	}
	if c.closed {
		c.mu.Unlock()
		_ = web.Close()
		return ErrChannelClosed
	}
	c.web = web
	c.state = Open
	c.readers.Add(1)
	go c.readLoop(web)
	c.mu.Unlock()

	if c.cfg.Hooks.OnOpen != nil {
		c.cfg.Hooks.OnOpen(c.cfg.Url)
	}
	return nil
}

// Send writes cmd's wire form. Invalid commands are ignored without touching
// the network.
func (c *Channel) Send(cmd Command) error {
	if cmd == nil || !cmd.Valid() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	if c.state != Open || c.web == nil {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, c.state)
	}

	if err := c.web.Write([]byte(cmd.Wire())); err != nil {
		c.state = Failed
		return fmt.Errorf("write %q: %w", cmd.Wire(), err)
	}
	return nil
}

// Reconnect drops the current connection, if any, and dials again.
func (c *Channel) Reconnect(ctx context.Context) error {
	c.dialing.Lock()
	defer c.dialing.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	old := c.web
	c.web = nil
	c.state = Closed
	c.mu.Unlock()

	if old != nil {
		log.Info("Dropping controller connection", "url", c.cfg.Url)
		_ = old.Close()
	}
	return c.open(ctx)
}

// Close shuts the connection and waits for its reader. Only the first call
// does anything.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		web := c.web
		c.web = nil
		c.state = Closed
		c.mu.Unlock()

		if web != nil {
			c.closeErr = web.Close()
		}
		c.readers.Wait()
	})
	return c.closeErr
}

func (c *Channel) readLoop(web *WebSocket) {
	defer c.readers.Done()

	for {
		msg, next, err := web.read()
		switch next {
		case Open:
			if c.cfg.Hooks.OnMessage != nil {
				c.cfg.Hooks.OnMessage(msg)
			}

		case Closed:
			if c.retire(web, Closed) && c.cfg.Hooks.OnClose != nil {
				c.cfg.Hooks.OnClose(err)
			}
			return

		default:
			if c.retire(web, Failed) {
				c.emitError(err)
			}
			return
		}
	}
}

// retire records the end of web's life. It reports false when web is no
// longer the current connection, i.e. it was replaced or closed on purpose.
func (c *Channel) retire(web *WebSocket, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.web != web {
		return false
	}
	c.state = s
	_ = web.conn.Close()
	return true
}

func (c *Channel) emitError(err error) {
	if c.cfg.Hooks.OnError != nil {
		c.cfg.Hooks.OnError(err)
	}
}
