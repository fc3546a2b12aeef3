// Package bridge is the websocket server between an automation client and
// the sandboxed design plugin. It owns the single plugin connection slot,
// correlates commands with responses, probes the plugin for liveness and
// lets a plugin choose among concurrently running sessions.
package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/agentuity/design-bridge/heartbeat"
	"github.com/agentuity/design-bridge/logger"
	"github.com/agentuity/design-bridge/pending"
	"github.com/agentuity/design-bridge/session"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCommandTimeout    = 30 * time.Second
	DefaultPingTimeout       = 15 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultMaxMessageSize    = 8 << 20
)

// Options configure a Server
type Options struct {
	Context context.Context
	Logger  logger.Logger
	// Addr is the host:port to listen on
	Addr        string
	SessionName string
	// Registry defaults to an in-memory registry owned by the server
	Registry session.Registry
	// RequireSessionSelection parks plugin connections until they send CONNECT_SESSION
	RequireSessionSelection bool
	CommandTimeout          time.Duration
	PingTimeout             time.Duration
	HeartbeatInterval       time.Duration
	// AppPingInterval of zero uses HeartbeatInterval; negative disables application pings
	AppPingInterval time.Duration
	WriteTimeout    time.Duration
	MaxMessageSize  int64
	// AllowedOrigins restricts the Origin header of upgrades; empty allows any
	AllowedOrigins []string
}

// Server is a bridge instance serving one session
type Server struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       logger.Logger
	opts         Options
	registry     session.Registry
	ownsRegistry bool
	session      *session.Session
	listener     net.Listener
	httpServer   *http.Server
	upgrader     websocket.Upgrader
	slot         pluginSlot
	pending      *pending.Table
	instruments  *instruments
	group        *errgroup.Group
	handlers     sync.WaitGroup
	connSeq      atomic.Uint64
	conns        map[string]*Connection
	connsMu      sync.Mutex
	stopping     bool
	started      atomic.Bool
	stopOnce     sync.Once
	stopErr      error
}

// New validates opts and returns an unstarted Server
func New(opts Options) (*Server, error) {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewConsoleLogger()
	}
	if opts.Addr == "" {
		opts.Addr = ":9001"
	}
	if _, _, err := net.SplitHostPort(opts.Addr); err != nil {
		return nil, errors.Wrapf(err, "invalid listen address %q", opts.Addr)
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.AppPingInterval == 0 {
		opts.AppPingInterval = opts.HeartbeatInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	ctx, cancel := context.WithCancel(opts.Context)
	s := &Server{
		ctx:      ctx,
		cancel:   cancel,
		logger:   opts.Logger.WithPrefix("[bridge]"),
		opts:     opts,
		registry: opts.Registry,
		pending:  pending.New(),
		conns:    make(map[string]*Connection),
	}
	instruments, err := newInstruments()
	if err != nil {
		s.logger.Warn("metrics disabled for some instruments: %s", err)
	}
	s.instruments = instruments
	if s.registry == nil {
		s.registry = session.NewInMemoryRegistry()
		s.ownsRegistry = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	// sandboxed plugin iframes send the literal origin "null"
	if origin == "" {
		origin = "null"
	}
	return slices.Contains(s.opts.AllowedOrigins, origin) || slices.Contains(s.opts.AllowedOrigins, "*")
}

// Start binds the listen address and begins serving in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return errors.Wrapf(ErrPortInUse, "listening on %s", s.opts.Addr)
		}
		return errors.Wrapf(err, "listening on %s", s.opts.Addr)
	}
	if err := s.Serve(ln); err != nil {
		ln.Close()
		return err
	}
	return nil
}

// Serve registers the session and serves ln in the background until Stop
func (s *Server) Serve(ln net.Listener) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("bridge server already started")
	}
	port := 0
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	sess, err := s.registry.Register(s.ctx, s.opts.SessionName, port)
	if err != nil {
		return errors.Wrap(err, "registering session")
	}
	s.session = sess
	s.listener = ln
	s.logger = s.logger.With(map[string]interface{}{"session": sess.ID})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	g, gctx := errgroup.WithContext(s.ctx)
	s.group = g
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		heartbeat.Every(gctx, s.opts.HeartbeatInterval, s.checkHeartbeat)
		return nil
	})
	if s.opts.AppPingInterval > 0 {
		g.Go(func() error {
			heartbeat.Every(gctx, s.opts.AppPingInterval, func() { s.appPing(gctx) })
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.httpServer.Close()
		return nil
	})

	s.logger.Info("listening on %s as session %s (%s)", ln.Addr(), sess.Name, sess.ID)
	return nil
}

// Wait blocks until the serving goroutines exit and returns the first failure
func (s *Server) Wait() error {
	if s.group == nil {
		return ErrNotStarted
	}
	return s.group.Wait()
}

// Addr is the bound listen address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL is the websocket url peers dial
func (s *Server) URL() string {
	addr, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	host := addr.IP.String()
	if addr.IP.IsUnspecified() {
		host = "127.0.0.1"
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(addr.Port))
}

// Session is the session this bridge serves
func (s *Server) Session() *session.Session {
	if s.session == nil {
		return nil
	}
	out := *s.session
	return &out
}

// PendingCount is the number of requests awaiting a plugin response
func (s *Server) PendingCount() int {
	return s.pending.Len()
}

// IsPluginConnected reports whether a plugin holds the slot over an open transport
func (s *Server) IsPluginConnected() bool {
	c := s.slot.get()
	return c != nil && c.Open()
}

// PluginConnection returns the current plugin connection or nil
func (s *Server) PluginConnection() *Connection {
	return s.slot.get()
}

// DisconnectPlugin force-closes the current plugin connection
func (s *Server) DisconnectPlugin() bool {
	c := s.slot.take()
	if c == nil {
		return false
	}
	s.logger.Info("disconnecting plugin %s", c.ID())
	c.Close()
	s.publishConnected(false)
	return true
}

// Stop closes every connection, rejects pending requests with
// ErrServerClosed and removes the session from the registry
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *Server) stop(ctx context.Context) error {
	if n := s.pending.Close(ErrServerClosed); n > 0 {
		s.logger.Info("rejected %d pending requests on shutdown", n)
	}
	s.slot.take()
	s.connsMu.Lock()
	s.stopping = true
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	var errs error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "http shutdown"))
		}
	}
	s.cancel()
	if s.group != nil {
		if err := s.group.Wait(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	s.handlers.Wait()
	if s.session != nil {
		if _, err := s.registry.Unregister(ctx, s.session.ID); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "unregistering session"))
		}
	}
	if s.ownsRegistry {
		s.registry.Close()
	}
	s.logger.Info("stopped")
	return errs
}

type healthStatus struct {
	SessionID       string `json:"sessionId"`
	SessionName     string `json:"sessionName"`
	PluginConnected bool   `json:"pluginConnected"`
	Pending         int    `json:"pending"`
	Connections     int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.connsMu.Lock()
	n := len(s.conns)
	s.connsMu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthStatus{
		SessionID:       s.session.ID,
		SessionName:     s.session.Name,
		PluginConnected: s.IsPluginConnected(),
		Pending:         s.pending.Len(),
		Connections:     n,
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.handlers.Add(1)
	defer s.handlers.Done()
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade from %s failed: %s", r.RemoteAddr, err)
		return
	}

	conn := newConnection("conn-"+strconv.FormatUint(s.connSeq.Add(1), 10), ws, s.opts.WriteTimeout)
	ws.SetReadLimit(s.opts.MaxMessageSize)
	ws.SetPongHandler(func(string) error {
		conn.liveness.MarkAlive()
		return nil
	})
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.closed(conn)

	log := s.logger.With(map[string]interface{}{"conn": conn.ID()})
	log.Debug("accepted connection from %s", conn.RemoteAddr())
	if err := conn.Send(s.welcome()); err != nil {
		log.Warn("sending welcome: %s", err)
		return
	}
	s.readLoop(conn, log)
}

func (s *Server) track(c *Connection) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.stopping {
		return false
	}
	s.conns[c.ID()] = c
	return true
}

// closed runs when a connection's read loop ends. Pending requests are left
// to their own deadlines.
func (s *Server) closed(c *Connection) {
	c.Close()
	s.connsMu.Lock()
	delete(s.conns, c.ID())
	s.connsMu.Unlock()
	if s.slot.clearIf(c) {
		s.logger.Info("plugin %s disconnected", c.ID())
		s.publishConnected(false)
	}
}

func (s *Server) readLoop(c *Connection, log logger.Logger) {
	for {
		_, buf, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && c.Open() {
				log.Debug("read: %s", err)
			}
			return
		}
		s.handleMessage(c, log, buf)
	}
}

func (s *Server) publishConnected(connected bool) {
	if s.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	if err := s.registry.SetConnected(ctx, s.session.ID, connected); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.logger.Warn("publishing plugin state: %s", err)
	}
}
