package tui

import (
	"testing"
	"time"

	"github.com/agentuity/design-bridge/session"
	"github.com/stretchr/testify/assert"
)

func TestSessionTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := SessionTable([]session.Session{
		{ID: "sess_a", Name: "alpha", Port: 9001, Host: "box", PID: 42, StartedAt: now.Add(-90 * time.Second), IsConnected: true},
		{ID: "sess_b", Name: "beta", Port: 9002, Host: "box", PID: 43, StartedAt: now.Add(-time.Hour)},
	}, now)
	for _, want := range []string{"SESSION", "sess_a", "alpha", "9001", "1m30s", "connected", "beta", "1h0m0s", "waiting"} {
		assert.Contains(t, out, want)
	}
}

func TestSessionTableEmpty(t *testing.T) {
	out := SessionTable(nil, time.Now())
	assert.Contains(t, out, "PLUGIN")
}

func TestSessionTableRemoteSession(t *testing.T) {
	out := SessionTable([]session.Session{{ID: "sess_c", Name: "gamma", Port: 9003, StartedAt: time.Now()}}, time.Now())
	assert.Contains(t, out, "sess_c")
	assert.Contains(t, out, "-")
}
