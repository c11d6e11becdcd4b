package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("websocket not connected")
	ErrGaveUp       = errors.New("websocket reconnect attempts exhausted")
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateGaveUp
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateGaveUp:
		return "gave_up"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer

	// MaxRetries bounds consecutive failed attempts before giving up;
	// a successful connection resets the count. 0 gives up on the first failure.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// PingInterval > 0 sends control pings and expects traffic within 2x the interval.
	PingInterval time.Duration

	// OnMessage receives every inbound data frame, in order, from a single goroutine.
	OnMessage     func(data []byte)
	OnStateChange func(State)
	OnError       func(error)
	// OnGiveUp fires once, with the last connection error.
	OnGiveUp func(error)

	Logger *zap.Logger
}

// Conn is one logical upstream connection that survives transient drops.
type Conn struct {
	opts Options

	mu     sync.Mutex
	ws     *websocket.Conn
	state  State
	closed bool
	cancel context.CancelFunc

	writeMu sync.Mutex
}

func New(opts Options) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Conn{opts: opts}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.opts.Logger.Debug("websocket state", zap.String("state", s.String()))
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Conn) newBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialBackoff
	eb.MaxInterval = c.opts.MaxBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(c.opts.MaxRetries))
}

// Run connects and keeps the connection alive until ctx is done, Close is
// called (both return nil) or the retry budget is spent (ErrGaveUp).
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	b := c.newBackoff()
	c.setState(StateConnecting)

	for {
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil || c.isClosed() {
			c.setState(StateClosed)
			return nil
		}
		if connected {
			b.Reset()
		}

		c.opts.Logger.Warn("websocket disconnected", zap.String("url", c.opts.URL), zap.Error(err))
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			c.setState(StateGaveUp)
			if c.opts.OnGiveUp != nil {
				c.opts.OnGiveUp(err)
			}
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}

		c.setState(StateReconnecting)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			c.setState(StateClosed)
			return nil
		case <-t.C:
		}
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// connectAndServe dials and then reads until the connection fails. It
// reports whether the dial succeeded.
func (c *Conn) connectAndServe(ctx context.Context) (bool, error) {
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return true, nil
	}
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateOpen)
	c.opts.Logger.Info("websocket connected", zap.String("url", c.opts.URL))

	stopPing := make(chan struct{})
	if c.opts.PingInterval > 0 {
		deadline := 2 * c.opts.PingInterval
		_ = ws.SetReadDeadline(time.Now().Add(deadline))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(deadline))
		})
		go c.pingLoop(ws, stopPing)
	}

	defer func() {
		close(stopPing)
		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return true, err
		}
		if c.opts.PingInterval > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(data)
		}
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// Send writes v as one JSON text frame. It does not retry.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	ws := c.ws
	open := c.state == StateOpen
	c.mu.Unlock()
	if ws == nil || !open {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	err := ws.WriteJSON(v)
	c.writeMu.Unlock()
	if err != nil {
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
		return err
	}
	return nil
}

// Close stops Run and closes the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		return ws.Close()
	}
	return nil
}
