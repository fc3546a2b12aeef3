package bridge

import (
	"context"
	"fmt"

	"github.com/agentuity/design-bridge/logger"
	"github.com/agentuity/design-bridge/protocol"
	"github.com/agentuity/design-bridge/session"
	"github.com/cockroachdb/errors"
)

func (s *Server) welcome() *protocol.Envelope {
	msg := "send REGISTER to connect"
	if s.opts.RequireSessionSelection {
		msg = "send LIST_SESSIONS and CONNECT_SESSION to choose a session"
	}
	return protocol.NewWelcome(s.session.ID, s.session.Name, msg)
}

// handleMessage never lets a bad message escape the connection it came from
func (s *Server) handleMessage(c *Connection, log logger.Logger, buf []byte) {
	env, err := protocol.Decode(buf)
	if err != nil {
		var derr *protocol.DecodeError
		id := ""
		if errors.As(err, &derr) {
			id = derr.ID
		}
		log.Warn("rejecting message: %s", err)
		if err := c.Send(protocol.NewError(id, err.Error())); err != nil {
			log.Debug("sending error reply: %s", err)
		}
		return
	}
	log.Trace("received %s id=%s", env.Type, env.ID)

	switch env.Type {
	case protocol.TypeRegister:
		s.handleRegister(c, log, env)
	case protocol.TypeCommand:
		s.handleClientCommand(c, log, env)
	case protocol.TypeResponse, protocol.TypePong:
		s.handleResult(c, log, env)
	case protocol.TypePing:
		s.reply(c, log, protocol.NewPong(env.ID))
	case protocol.TypeListSessions:
		s.handleListSessions(c, log)
	case protocol.TypeConnectSession:
		s.handleConnectSession(c, log, env)
	case protocol.TypeError:
		msg := firstNonEmpty(env.Error, env.Message)
		log.Warn("peer reported error (id=%s): %s", env.ID, msg)
		if env.ID != "" && s.slot.is(c) {
			s.pending.Reject(env.ID, errors.Wrapf(ErrPluginError, "%s", msg))
		}
	default:
		log.Debug("ignoring %s from peer", env.Type)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) reply(c *Connection, log logger.Logger, env *protocol.Envelope) {
	if err := c.Send(env); err != nil {
		log.Warn("replying %s: %s", env.Type, err)
	}
}

func (s *Server) handleRegister(c *Connection, log logger.Logger, env *protocol.Envelope) {
	if env.Source == protocol.RoleClient {
		if s.slot.clearIf(c) {
			s.publishConnected(false)
		}
		c.setState(protocol.RoleClient, StateRegistered, s.session.ID)
		log.Info("client registered")
		s.reply(c, log, protocol.NewRegistered(s.session.ID, s.session.Name))
		return
	}
	if s.opts.RequireSessionSelection {
		if s.slot.clearIf(c) {
			s.publishConnected(false)
		}
		c.setState(protocol.RolePlugin, StateAwaitingSessionSelection, "")
		log.Info("plugin registered, awaiting session selection")
		ack := protocol.NewRegistered("", "")
		ack.Message = "choose a session with CONNECT_SESSION"
		s.reply(c, log, ack)
		return
	}
	s.installPlugin(c, log, StateRegistered)
	s.reply(c, log, protocol.NewRegistered(s.session.ID, s.session.Name))
}

func (s *Server) installPlugin(c *Connection, log logger.Logger, state ConnState) {
	c.setState(protocol.RolePlugin, state, s.session.ID)
	c.liveness.MarkAlive()
	if previous := s.slot.install(c); previous != nil {
		previous.Close()
		log.Info("plugin connection %s replaced %s", c.ID(), previous.ID())
	} else {
		log.Info("plugin connected")
	}
	s.publishConnected(true)
}

func (s *Server) handleConnectSession(c *Connection, log logger.Logger, env *protocol.Envelope) {
	if env.SessionID != s.session.ID {
		if s.slot.clearIf(c) {
			s.publishConnected(false)
		}
		c.setState(protocol.RoleUnknown, StateUnregistered, "")
		log.Info("rejected CONNECT_SESSION for %s", env.SessionID)
		msg := fmt.Sprintf("session mismatch: this bridge serves %s (%s)", s.session.ID, s.session.Name)
		s.reply(c, log, protocol.NewSessionConnected("", "", msg))
		return
	}
	s.installPlugin(c, log, StateConnectedToSession)
	s.reply(c, log, protocol.NewSessionConnected(s.session.ID, s.session.Name, ""))
}

func (s *Server) handleListSessions(c *Connection, log logger.Logger) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.WriteTimeout)
	defer cancel()
	sessions, err := s.registry.List(ctx)
	if err != nil {
		log.Error("listing sessions: %s", err)
		s.reply(c, log, protocol.NewError("", "session registry unavailable"))
		return
	}
	s.reply(c, log, protocol.NewSessionsList(session.Infos(sessions)))
}

// handleResult matches a RESPONSE or PONG to its pending request. Only the
// current plugin connection may complete requests.
func (s *Server) handleResult(c *Connection, log logger.Logger, env *protocol.Envelope) {
	if !s.slot.is(c) {
		log.Debug("ignoring %s %s from non-current connection", env.Type, env.ID)
		return
	}
	if !s.pending.Resolve(env.ID, env.Response()) {
		log.Debug("discarding %s %s with no pending request", env.Type, env.ID)
	}
}

// handleClientCommand relays a COMMAND from a client-role peer to the plugin.
// The plugin sees a fresh id; the client gets its own id back.
func (s *Server) handleClientCommand(c *Connection, log logger.Logger, env *protocol.Envelope) {
	if c.Role() != protocol.RoleClient {
		s.reply(c, log, protocol.NewError(env.ID, "COMMAND is only accepted from connections registered as client"))
		return
	}
	cmd, err := env.Command()
	if err != nil {
		s.reply(c, log, protocol.NewError(env.ID, err.Error()))
		return
	}
	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		resp, err := s.SendCommand(s.ctx, cmd.Action, cmd.Params)
		if resp == nil {
			resp = &protocol.Response{Success: false, Error: errMessage(err)}
		}
		s.reply(c, log, protocol.NewResponse(env.ID, resp))
	}()
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
