package bridge

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNoPlugin is returned when a command is issued while no plugin is connected
	ErrNoPlugin = errors.New("no plugin connected: open the design plugin and connect it to this bridge")
	// ErrCommandTimeout is returned when the plugin does not answer a command in time
	ErrCommandTimeout = errors.New("command timeout")
	// ErrPingTimeout is returned when the plugin does not answer an application ping in time
	ErrPingTimeout = errors.New("ping timeout")
	// ErrPluginError is returned when the plugin answers a request with an ERROR message
	ErrPluginError = errors.New("plugin error")
	// ErrPortInUse is returned by Start when the listen address is taken
	ErrPortInUse = errors.New("port already in use, a peer bridge may already be running")
	// ErrServerClosed is delivered to requests still pending when the server stops
	ErrServerClosed = errors.New("bridge server closed")
	// ErrNotStarted is returned by Wait before Start
	ErrNotStarted = errors.New("bridge server not started")
)

// CommandError is returned when the plugin answered a command with success=false
type CommandError struct {
	Action  string
	Message string
	NodeID  string
}

func (e *CommandError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s failed on node %s: %s", e.Action, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Action, e.Message)
}

// IsTimeout reports whether err is a command or ping deadline expiry
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCommandTimeout) || errors.Is(err, ErrPingTimeout)
}
