package bridge

import "context"

// checkHeartbeat runs every HeartbeatInterval. A plugin that left the
// previous transport ping unanswered is terminated; otherwise a new ping is
// sent. A dead peer is therefore evicted within two intervals.
func (s *Server) checkHeartbeat() {
	c := s.slot.get()
	if c == nil {
		return
	}
	if !c.liveness.Arm() {
		s.logger.Warn("plugin %s missed a heartbeat (last seen %s), terminating", c.ID(), c.LastLivenessAt().Format("15:04:05"))
		s.evict(c)
		return
	}
	if err := c.ping(); err != nil {
		s.logger.Debug("heartbeat ping to %s: %s", c.ID(), err)
	}
}

func (s *Server) evict(c *Connection) {
	if !s.slot.clearIf(c) {
		return
	}
	c.Close()
	s.instruments.evictions.Add(s.ctx, 1)
	s.publishConnected(false)
}

// appPing proves the plugin's own message loop is responsive. Failures are
// reported but never evict; only the transport heartbeat does that.
func (s *Server) appPing(ctx context.Context) {
	if !s.IsPluginConnected() {
		return
	}
	if _, err := s.SendPing(ctx, s.opts.PingTimeout); err != nil && ctx.Err() == nil {
		s.logger.Warn("application ping failed: %s", err)
	}
}
