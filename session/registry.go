// Package session tracks the automation-client sessions a plugin may choose
// between. A Registry is either local to one bridge process or shared
// through Redis so every bridge can list every live session.
package session

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/agentuity/design-bridge/ids"
	"github.com/agentuity/design-bridge/protocol"
	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by Get for an unknown session id
var ErrNotFound = errors.New("session not found")

// Session is a live automation-client session served by one bridge
type Session struct {
	ID          string    `msgpack:"id" json:"sessionId"`
	Name        string    `msgpack:"name" json:"name"`
	Port        int       `msgpack:"port" json:"port"`
	StartedAt   time.Time `msgpack:"started_at" json:"startedAt"`
	Host        string    `msgpack:"host" json:"host"`
	PID         int       `msgpack:"pid" json:"pid"`
	IsConnected bool      `msgpack:"connected" json:"isConnected"`
}

// Info is the wire form used in SESSIONS_LIST
func (s Session) Info() protocol.SessionInfo {
	return protocol.SessionInfo{
		SessionID:   s.ID,
		Name:        s.Name,
		Port:        s.Port,
		StartedAt:   s.StartedAt,
		IsConnected: s.IsConnected,
	}
}

// FromInfo rebuilds a Session from its wire form. Host and PID are not carried on the wire.
func FromInfo(info protocol.SessionInfo) Session {
	return Session{
		ID:          info.SessionID,
		Name:        info.Name,
		Port:        info.Port,
		StartedAt:   info.StartedAt,
		IsConnected: info.IsConnected,
	}
}

// Infos converts a listing to its wire form
func Infos(sessions []Session) []protocol.SessionInfo {
	out := make([]protocol.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Registry stores sessions. Implementations are safe for concurrent use.
type Registry interface {
	// Register creates a session for a bridge listening on port
	Register(ctx context.Context, name string, port int) (*Session, error)
	// Unregister removes the session and reports whether it existed
	Unregister(ctx context.Context, id string) (bool, error)
	// List returns a snapshot ordered by start time
	List(ctx context.Context) ([]Session, error)
	// Get returns the session or ErrNotFound
	Get(ctx context.Context, id string) (*Session, error)
	// SetConnected records whether a plugin is currently bound to the session
	SetConnected(ctx context.Context, id string, connected bool) error
	Close() error
}

func newSession(name string, port int) *Session {
	if name == "" {
		name = fmt.Sprintf("bridge-%d", port)
	}
	host, _ := os.Hostname()
	return &Session{
		ID:        ids.NewSessionID(),
		Name:      name,
		Port:      port,
		StartedAt: time.Now().UTC(),
		Host:      host,
		PID:       os.Getpid(),
	}
}

func sortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
}
