package bridge

import (
	"sync"
	"time"

	"github.com/agentuity/design-bridge/heartbeat"
	"github.com/agentuity/design-bridge/protocol"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
)

// ConnState is where a connection is in the registration handshake
type ConnState int

const (
	StateUnregistered ConnState = iota
	StateRegistered
	StateAwaitingSessionSelection
	StateConnectedToSession
)

func (s ConnState) String() string {
	switch s {
	case StateUnregistered:
		return "UNREGISTERED"
	case StateRegistered:
		return "REGISTERED"
	case StateAwaitingSessionSelection:
		return "AWAITING_SESSION_SELECTION"
	case StateConnectedToSession:
		return "CONNECTED_TO_SESSION"
	default:
		return "UNKNOWN"
	}
}

const closeGrace = time.Second

// Connection is one accepted websocket. Writes are serialized; reads happen
// only on the server's per-connection read loop.
type Connection struct {
	id           string
	ws           *websocket.Conn
	remote       string
	connectedAt  time.Time
	writeTimeout time.Duration
	liveness     *heartbeat.Liveness
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closed       chan struct{}

	mu             sync.Mutex
	role           protocol.Role
	state          ConnState
	boundSessionID string
}

func newConnection(id string, ws *websocket.Conn, writeTimeout time.Duration) *Connection {
	return &Connection{
		id:           id,
		ws:           ws,
		remote:       ws.RemoteAddr().String(),
		connectedAt:  time.Now(),
		writeTimeout: writeTimeout,
		liveness:     heartbeat.NewLiveness(),
		closed:       make(chan struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) RemoteAddr() string {
	return c.remote
}

func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// LastLivenessAt is the last time the peer answered a transport ping
func (c *Connection) LastLivenessAt() time.Time {
	return c.liveness.LastSeen()
}

// IsAlive is false while a transport ping is outstanding
func (c *Connection) IsAlive() bool {
	return c.liveness.Alive()
}

func (c *Connection) Role() protocol.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BoundSessionID is the session this connection is serving, if any
func (c *Connection) BoundSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundSessionID
}

func (c *Connection) setState(role protocol.Role, state ConnState, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	c.state = state
	c.boundSessionID = sessionID
}

// Open reports whether the transport has not been closed
func (c *Connection) Open() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Send encodes and writes one envelope
func (c *Connection) Send(env *protocol.Envelope) error {
	buf, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if !c.Open() {
		return errors.Newf("connection %s is closed", c.id)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return errors.Wrap(err, "setting write deadline")
	}
	return errors.Wrapf(c.ws.WriteMessage(websocket.TextMessage, buf), "writing %s to %s", env.Type, c.id)
}

// ping sends a transport level ping; the pong handler marks the peer alive
func (c *Connection) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close terminates the transport. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}
