// Package relay is the client side of a standalone bridge: it connects to a
// running bridge as a client-role peer, forwards commands to the plugin
// through it and rides out dropped connections with jittered exponential
// backoff, queueing commands until the link is back.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/agentuity/design-bridge/heartbeat"
	"github.com/agentuity/design-bridge/ids"
	"github.com/agentuity/design-bridge/logger"
	"github.com/agentuity/design-bridge/pending"
	"github.com/agentuity/design-bridge/protocol"
	"github.com/agentuity/design-bridge/resilience"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
)

var (
	// ErrMaxReconnectAttempts is the terminal state after the backoff schedule is spent
	ErrMaxReconnectAttempts = errors.New("max reconnection attempts reached")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("relay client closed")
	// ErrNotConnected is returned by operations that are never queued
	ErrNotConnected = errors.New("relay not connected")
	// ErrCommandTimeout is returned when no response arrives in time, queued time included
	ErrCommandTimeout = errors.New("command timeout")
	// ErrPingTimeout is returned when the bridge does not answer a PING in time
	ErrPingTimeout = errors.New("ping timeout")
)

// State is the connection state of the client
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configure a Client
type Options struct {
	// URL of the bridge, e.g. ws://localhost:9001
	URL               string
	Logger            logger.Logger
	Backoff           resilience.Backoff
	CommandTimeout    time.Duration
	PingTimeout       time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	Header            http.Header
	Dialer            *websocket.Dialer
	// OnFatal is called once, on its own goroutine, when reconnection gives up
	OnFatal func(err error)
}

// Status is a snapshot of the client
type Status struct {
	State             State
	ReconnectAttempts int
	Queued            int
	Pending           int
	Err               error
}

type queued struct {
	id  string
	env *protocol.Envelope
}

// Client is safe for concurrent use
type Client struct {
	opts    Options
	logger  logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	pending *pending.Table
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once

	// mu guards the fields below and serializes data frame writes
	mu       sync.Mutex
	ws       *websocket.Conn
	state    State
	attempts int
	queue    []queued
	err      error
	hbCancel context.CancelFunc
}

// New returns an unconnected Client
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logger.NewConsoleLogger()
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = resilience.DefaultReconnectBackoff()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 15 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		logger:  opts.Logger.WithPrefix("[relay]"),
		ctx:     ctx,
		cancel:  cancel,
		pending: pending.New(),
		done:    make(chan struct{}),
	}
}

// Connect dials the bridge once. Later drops are retried automatically.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	switch state {
	case StateClosed:
		return ErrClosed
	case StateFailed:
		return c.Err()
	case StateConnected, StateReconnecting:
		return nil
	}
	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", c.opts.URL)
	}
	liveness := heartbeat.NewLiveness()
	ws.SetPongHandler(func(string) error {
		liveness.MarkAlive()
		return nil
	})

	c.mu.Lock()
	if c.state == StateClosed || c.state == StateFailed {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.state = StateConnected
	c.attempts = 0
	if err := c.writeLocked(protocol.NewRegister(protocol.RoleClient)); err != nil {
		c.mu.Unlock()
		ws.Close()
		return errors.Wrap(err, "registering")
	}
	drained := c.drainLocked()
	hbCtx, hbCancel := context.WithCancel(c.ctx)
	c.hbCancel = hbCancel
	c.mu.Unlock()

	c.logger.Info("connected to %s", c.opts.URL)
	if drained > 0 {
		c.logger.Info("sent %d queued commands", drained)
	}
	c.wg.Add(2)
	go c.readLoop(ws)
	go func() {
		defer c.wg.Done()
		heartbeat.Every(hbCtx, c.opts.HeartbeatInterval, func() {
			if !liveness.Arm() {
				c.logger.Warn("bridge missed a heartbeat, dropping connection")
				ws.Close()
				return
			}
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug("heartbeat ping: %s", err)
			}
		})
	}()
	return nil
}

func (c *Client) writeLocked(env *protocol.Envelope) error {
	buf, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, buf)
}

// drainLocked sends queued commands in FIFO order, skipping those that
// already expired. It stops at the first write failure, keeping the rest.
func (c *Client) drainLocked() int {
	sent := 0
	for len(c.queue) > 0 {
		q := c.queue[0]
		if !c.pending.Has(q.id) {
			c.queue = c.queue[1:]
			continue
		}
		if err := c.writeLocked(q.env); err != nil {
			c.logger.Warn("sending queued %s: %s", q.id, err)
			return sent
		}
		c.queue = c.queue[1:]
		sent++
	}
	c.queue = nil
	return sent
}

func (c *Client) readLoop(ws *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, buf, err := ws.ReadMessage()
		if err != nil {
			c.disconnected(ws, err)
			return
		}
		env, err := protocol.Decode(buf)
		if err != nil {
			c.logger.Warn("ignoring message from bridge: %s", err)
			continue
		}
		switch env.Type {
		case protocol.TypeResponse, protocol.TypePong:
			if !c.pending.Resolve(env.ID, env.Response()) {
				c.logger.Debug("discarding %s %s with no pending request", env.Type, env.ID)
			}
		case protocol.TypePing:
			c.mu.Lock()
			if c.ws == ws {
				if err := c.writeLocked(protocol.NewPong(env.ID)); err != nil {
					c.logger.Debug("answering ping: %s", err)
				}
			}
			c.mu.Unlock()
		case protocol.TypeWelcome:
			c.logger.Debug("bridge session %s (%s)", env.SessionID, env.SessionName)
		case protocol.TypeRegistered:
			c.logger.Debug("registered with session %s", env.SessionID)
		case protocol.TypeError:
			c.logger.Warn("bridge reported error (id=%s): %s", env.ID, env.Error)
			if env.ID != "" {
				c.pending.Reject(env.ID, errors.Newf("bridge error: %s", env.Error))
			}
		default:
			c.logger.Debug("ignoring %s", env.Type)
		}
	}
}

// disconnected runs once per dropped socket and starts the reconnect loop
func (c *Client) disconnected(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws != ws || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = StateReconnecting
	if c.hbCancel != nil {
		c.hbCancel()
		c.hbCancel = nil
	}
	c.mu.Unlock()
	ws.Close()
	c.logger.Warn("connection lost: %s", cause)
	c.wg.Add(1)
	go c.reconnect()
}

func (c *Client) reconnect() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		attempt := c.attempts
		if c.opts.Backoff.Exhausted(attempt) {
			c.mu.Unlock()
			c.fail(errors.Wrapf(ErrMaxReconnectAttempts, "gave up after %d attempts", attempt))
			return
		}
		c.attempts++
		c.mu.Unlock()

		delay := c.opts.Backoff.Delay(attempt)
		c.logger.Info("reconnecting in %s (attempt %d)", delay.Round(time.Millisecond), attempt+1)
		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		err := c.dial(c.ctx)
		if err == nil {
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		c.logger.Warn("reconnect attempt %d failed: %s", attempt+1, err)
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.err = err
	c.queue = nil
	c.mu.Unlock()
	n := c.pending.Close(err)
	c.logger.Error("%s, %d requests rejected", err, n)
	c.once.Do(func() { close(c.done) })
	if c.opts.OnFatal != nil {
		go c.opts.OnFatal(err)
	}
}

// SendCommand forwards a command to the plugin through the bridge. While
// reconnecting the command is queued and its deadline keeps running. A
// response with success false is returned as is, without an error.
func (c *Client) SendCommand(ctx context.Context, action string, params map[string]any) (*protocol.Response, error) {
	id := ids.NewCommandID()
	env, err := protocol.NewCommand(id, protocol.Command{Action: action, Params: params})
	if err != nil {
		return nil, err
	}
	timeoutErr := errors.Wrapf(ErrCommandTimeout, "%s received no response within %s", action, c.opts.CommandTimeout)
	ch, err := c.pending.Add(id, action, c.opts.CommandTimeout, timeoutErr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	switch c.state {
	case StateConnected:
		if err := c.writeLocked(env); err != nil {
			// the read loop will notice the broken socket and reconnect
			c.logger.Debug("write failed, queueing %s: %s", id, err)
			c.queue = append(c.queue, queued{id: id, env: env})
		}
	case StateDisconnected:
		c.mu.Unlock()
		c.pending.Reject(id, ErrNotConnected)
		return nil, (<-ch).Err
	default:
		c.queue = append(c.queue, queued{id: id, env: env})
	}
	c.mu.Unlock()

	res := c.pending.Wait(ctx, id, ch)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Response, nil
}

// SendPing checks the bridge's message loop with an application PING. It is never queued.
func (c *Client) SendPing(ctx context.Context, timeout time.Duration) (*protocol.Response, error) {
	if timeout <= 0 {
		timeout = c.opts.PingTimeout
	}
	id := ids.NewCommandID()
	ch, err := c.pending.Add(id, "PING", timeout, errors.Wrapf(ErrPingTimeout, "no PONG within %s", timeout))
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		c.pending.Reject(id, ErrNotConnected)
		return nil, (<-ch).Err
	}
	if err := c.writeLocked(protocol.NewPing(id)); err != nil {
		c.mu.Unlock()
		c.pending.Reject(id, err)
		return nil, errors.Wrap((<-ch).Err, "sending ping")
	}
	c.mu.Unlock()
	res := c.pending.Wait(ctx, id, ch)
	return res.Response, res.Err
}

// Status returns a snapshot of the connection state
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:             c.state,
		ReconnectAttempts: c.attempts,
		Queued:            len(c.queue),
		Pending:           c.pending.Len(),
		Err:               c.err,
	}
}

// Done is closed when the client fails permanently or is closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err is the terminal error, if any
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close disconnects and rejects everything outstanding with ErrClosed
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	if c.err == nil {
		c.err = ErrClosed
	}
	ws := c.ws
	c.ws = nil
	c.queue = nil
	if c.hbCancel != nil {
		c.hbCancel()
	}
	c.mu.Unlock()

	c.cancel()
	var err error
	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = ws.Close()
	}
	c.pending.Close(ErrClosed)
	c.wg.Wait()
	c.once.Do(func() { close(c.done) })
	return err
}
