// Package socket keeps the single auto-reconnecting push channel to the
// authority and turns its frames into typed messages.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	ErrReconnectExhausted = errors.New("socket reconnect attempts exhausted")
	ErrNotConnected       = errors.New("socket not connected")
	ErrAlreadyRunning     = errors.New("socket channel already running")
)

// Message is either a Push or a StateChange.
type Message interface {
	isMessage()
}

type Push struct {
	Event    protocol.PushEvent
	Received time.Time
}

// StateChange reports a transition. Reconnected is set on a Connected that
// follows an earlier successful connection.
type StateChange struct {
	From        State
	To          State
	Attempt     int
	Reconnected bool
	Err         error
}

func (Push) isMessage()        {}
func (StateChange) isMessage() {}

type TokenSource interface {
	Token() string
}

type Options struct {
	URL    string
	Tokens TokenSource

	MaxAttempts      int
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	QueueSize        int

	// Validator, when set, drops payloads that fail their event schema.
	Validator *protocol.Validator
	Logger    *zap.Logger
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
}

type Stats struct {
	State      State
	Connects   int
	Received   uint64
	Unknown    uint64
	Malformed  uint64
	LastError  string
	LastChange time.Time
}

type Channel struct {
	opts   Options
	log    *zap.Logger
	dialer websocket.Dialer
	out    chan Message

	running atomic.Bool

	mu         sync.RWMutex
	state      State
	conn       *websocket.Conn
	connects   int
	lastErr    string
	lastChange time.Time

	writeMu sync.Mutex

	received  atomic.Uint64
	unknown   atomic.Uint64
	malformed atomic.Uint64
}

func New(opts Options) (*Channel, error) {
	u := strings.TrimSpace(opts.URL)
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return nil, fmt.Errorf("socket url must be ws:// or wss://: %q", opts.URL)
	}
	opts.URL = u
	opts.defaults()
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		opts:   opts,
		log:    log.Named("socket"),
		dialer: websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		out:    make(chan Message, opts.QueueSize),
	}, nil
}

// Messages is closed when Run returns.
func (c *Channel) Messages() <-chan Message { return c.out }

func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		State:      c.state,
		Connects:   c.connects,
		Received:   c.received.Load(),
		Unknown:    c.unknown.Load(),
		Malformed:  c.malformed.Load(),
		LastError:  c.lastErr,
		LastChange: c.lastChange,
	}
}

// Run connects and keeps reconnecting until ctx ends (nil) or MaxAttempts
// consecutive attempts fail (ErrReconnectExhausted). A channel runs once.
func (c *Channel) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.out)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		attempt := failures + 1
		c.transition(ctx, Connecting, attempt, nil)

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.transition(ctx, Disconnected, attempt, nil)
				return nil
			}
			failures++
			c.log.Warn("dial failed", zap.Int("attempt", attempt), zap.Int("max", c.opts.MaxAttempts), zap.Error(err))
			c.transition(ctx, Disconnected, attempt, err)
		} else {
			failures = 0
			err = c.readLoop(ctx, conn, attempt)
			if ctx.Err() != nil {
				c.transition(ctx, Disconnected, attempt, nil)
				return nil
			}
			failures++
			c.log.Warn("connection lost", zap.Error(err))
			c.transition(ctx, Disconnected, attempt, err)
		}

		if failures >= c.opts.MaxAttempts {
			c.log.Error("giving up on socket", zap.Int("attempts", failures))
			return fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, failures)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Tokens != nil {
		if tok := strings.TrimSpace(c.opts.Tokens.Token()); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status=%d: %w", c.opts.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return conn, nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, attempt int) error {
	c.mu.Lock()
	c.conn = conn
	reconnected := c.connects > 0
	c.connects++
	c.lastErr = ""
	c.mu.Unlock()

	// Wake the blocking read when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	c.log.Info("connected", zap.String("url", c.opts.URL), zap.Bool("reconnected", reconnected))
	c.emitState(ctx, StateChange{From: Connecting, To: Connected, Attempt: attempt, Reconnected: reconnected})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.received.Add(1)
		c.handleFrame(ctx, msg)
	}
}

func (c *Channel) handleFrame(ctx context.Context, msg []byte) {
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil || env.Type == "" {
		c.malformed.Add(1)
		c.log.Warn("dropping malformed frame", zap.Int("bytes", len(msg)), zap.Error(err))
		return
	}
	if !protocol.KnownEvent(env.Type) {
		c.unknown.Add(1)
		c.log.Debug("ignoring unknown event", zap.String("type", env.Type))
		return
	}
	if err := c.opts.Validator.Validate(env); err != nil {
		c.malformed.Add(1)
		c.log.Warn("dropping invalid payload", zap.String("type", env.Type), zap.Error(err))
		return
	}
	ev, err := protocol.DecodePush(env)
	if err != nil {
		c.malformed.Add(1)
		c.log.Warn("dropping undecodable payload", zap.String("type", env.Type), zap.Error(err))
		return
	}
	c.emit(ctx, Push{Event: ev, Received: time.Now()})
}

func (c *Channel) transition(ctx context.Context, to State, attempt int, err error) {
	c.mu.Lock()
	from := c.state
	c.mu.Unlock()
	if from == to {
		return
	}
	c.emitState(ctx, StateChange{From: from, To: to, Attempt: attempt, Err: err})
}

func (c *Channel) emitState(ctx context.Context, sc StateChange) {
	c.mu.Lock()
	c.state = sc.To
	c.lastChange = time.Now()
	if sc.Err != nil {
		c.lastErr = sc.Err.Error()
	}
	c.mu.Unlock()
	c.emit(ctx, sc)
}

// emit blocks while the queue is full; a slow consumer delays the next read
// instead of losing events.
func (c *Channel) emit(ctx context.Context, m Message) {
	select {
	case c.out <- m:
	case <-ctx.Done():
	}
}

// Send writes one {type, data} frame on the live connection.
func (c *Channel) Send(eventType string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	frame, err := json.Marshal(protocol.Envelope{Type: eventType, Data: b})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}
