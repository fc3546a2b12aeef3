package bridge

import (
	"context"
	"time"

	"github.com/agentuity/design-bridge/ids"
	"github.com/agentuity/design-bridge/protocol"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SendCommand delivers a command to the plugin and waits for its response.
// It fails at once with ErrNoPlugin when no plugin is connected, and with
// ErrCommandTimeout when the plugin does not answer in time. A response with
// success=false is returned together with a *CommandError.
func (s *Server) SendCommand(ctx context.Context, action string, params map[string]any) (*protocol.Response, error) {
	ctx, span := s.instruments.tracer.Start(ctx, "bridge.SendCommand",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("action", action)))
	defer span.End()

	id := ids.NewCommandID()
	env, err := protocol.NewCommand(id, protocol.Command{Action: action, Params: params})
	if err != nil {
		return nil, err
	}
	timeoutErr := errors.Wrapf(ErrCommandTimeout, "%s received no response within %s", action, s.opts.CommandTimeout)
	resp, err := s.roundTrip(ctx, env, action, s.opts.CommandTimeout, timeoutErr)
	if err == nil && !resp.Success {
		err = &CommandError{Action: action, Message: resp.ErrorMessage(), NodeID: resp.NodeID}
	}
	s.instruments.record(ctx, "command", action, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("id", id))
	return resp, err
}

// SendPing sends an application level PING and waits for the PONG. It proves
// the plugin's message loop is running, not just that the socket is open.
func (s *Server) SendPing(ctx context.Context, timeout time.Duration) (*protocol.Response, error) {
	if timeout <= 0 {
		timeout = s.opts.PingTimeout
	}
	ctx, span := s.instruments.tracer.Start(ctx, "bridge.SendPing")
	defer span.End()
	timeoutErr := errors.Wrapf(ErrPingTimeout, "no PONG within %s", timeout)
	resp, err := s.roundTrip(ctx, protocol.NewPing(ids.NewCommandID()), "PING", timeout, timeoutErr)
	s.instruments.record(ctx, "ping", "PING", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (s *Server) roundTrip(ctx context.Context, env *protocol.Envelope, label string, timeout time.Duration, timeoutErr error) (*protocol.Response, error) {
	conn := s.slot.get()
	if conn == nil || !conn.Open() {
		return nil, ErrNoPlugin
	}
	ch, err := s.pending.Add(env.ID, label, timeout, timeoutErr)
	if err != nil {
		return nil, err
	}
	s.instruments.inflight.Add(ctx, 1)
	defer s.instruments.inflight.Add(ctx, -1)

	if err := conn.Send(env); err != nil {
		s.pending.Reject(env.ID, err)
		<-ch
		return nil, errors.Wrapf(err, "sending %s", label)
	}
	res := s.pending.Wait(ctx, env.ID, ch)
	if res.Err != nil {
		if IsTimeout(res.Err) {
			s.logger.Warn("%s %s timed out after %s", label, env.ID, timeout)
		}
		return nil, res.Err
	}
	return res.Response, nil
}
