package protocol

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// MessageType is the discriminant carried in the `type` field of every envelope
type MessageType string

const (
	TypeRegister         MessageType = "REGISTER"
	TypeRegistered       MessageType = "REGISTERED"
	TypeCommand          MessageType = "COMMAND"
	TypeResponse         MessageType = "RESPONSE"
	TypePing             MessageType = "PING"
	TypePong             MessageType = "PONG"
	TypeWelcome          MessageType = "WELCOME"
	TypeError            MessageType = "ERROR"
	TypeListSessions     MessageType = "LIST_SESSIONS"
	TypeSessionsList     MessageType = "SESSIONS_LIST"
	TypeConnectSession   MessageType = "CONNECT_SESSION"
	TypeSessionConnected MessageType = "SESSION_CONNECTED"
)

// Known reports whether t is one of the message types understood by the bridge
func (t MessageType) Known() bool {
	_, ok := schemas[t]
	return ok
}

// Role is the role a peer declares in the `source` field of REGISTER
type Role string

const (
	RoleUnknown Role = ""
	RolePlugin  Role = "plugin"
	RoleClient  Role = "client"
)

// Envelope is the single wire shape for every message. Which fields are
// populated depends on Type; see schema.go for the per-type requirements.
type Envelope struct {
	Type        MessageType     `json:"type"`
	ID          string          `json:"id,omitempty"`
	Source      Role            `json:"source,omitempty"`
	Action      string          `json:"action,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	Success     *bool           `json:"success,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Message     string          `json:"message,omitempty"`
	Error       string          `json:"error,omitempty"`
	NodeID      string          `json:"nodeId,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	SessionName string          `json:"sessionName,omitempty"`
	Sessions    []SessionInfo   `json:"sessions,omitempty"`
}

// SessionInfo is the wire form of a registry entry inside SESSIONS_LIST
type SessionInfo struct {
	SessionID   string    `json:"sessionId"`
	Name        string    `json:"name"`
	Port        int       `json:"port"`
	StartedAt   time.Time `json:"startedAt"`
	IsConnected bool      `json:"isConnected"`
}

// Command is an action to be performed by the plugin
type Command struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// Response is the plugin's answer to a Command or PING
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	NodeID  string          `json:"nodeId,omitempty"`
}

// DecodeData unmarshals the response data into v
func (r *Response) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return errors.New("response has no data")
	}
	return errors.Wrap(json.Unmarshal(r.Data, v), "decoding response data")
}

// ErrorMessage returns the most descriptive failure text carried by the response
func (r *Response) ErrorMessage() string {
	if r.Error != "" {
		return r.Error
	}
	if r.Message != "" {
		return r.Message
	}
	return "command failed"
}

// Response extracts the result fields of a RESPONSE or PONG envelope
func (e *Envelope) Response() *Response {
	resp := &Response{
		Data:    e.Data,
		Error:   e.Error,
		Message: e.Message,
		NodeID:  e.NodeID,
	}
	switch {
	case e.Success != nil:
		resp.Success = *e.Success
	case e.Type == TypePong:
		resp.Success = true
	}
	return resp
}

// Command extracts the command fields of a COMMAND envelope
func (e *Envelope) Command() (Command, error) {
	cmd := Command{Action: e.Action, Params: map[string]any{}}
	if len(e.Params) > 0 {
		if err := json.Unmarshal(e.Params, &cmd.Params); err != nil {
			return cmd, errors.Wrap(err, "decoding command params")
		}
	}
	return cmd, nil
}

func boolPtr(v bool) *bool {
	return &v
}

// NewCommand builds a COMMAND envelope
func NewCommand(id string, cmd Command) (*Envelope, error) {
	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}
	buf, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding params for %s", cmd.Action)
	}
	return &Envelope{Type: TypeCommand, ID: id, Action: cmd.Action, Params: buf}, nil
}

// NewResponse builds a RESPONSE envelope for the given id
func NewResponse(id string, resp *Response) *Envelope {
	return &Envelope{
		Type:    TypeResponse,
		ID:      id,
		Success: boolPtr(resp.Success),
		Data:    resp.Data,
		Error:   resp.Error,
		Message: resp.Message,
		NodeID:  resp.NodeID,
	}
}

// NewPing builds an application level PING
func NewPing(id string) *Envelope {
	return &Envelope{Type: TypePing, ID: id}
}

// NewPong answers a PING with the same id
func NewPong(id string) *Envelope {
	return &Envelope{Type: TypePong, ID: id, Success: boolPtr(true)}
}

// NewError builds an ERROR envelope. id may be empty when the offending message could not be parsed.
func NewError(id string, message string) *Envelope {
	return &Envelope{Type: TypeError, ID: id, Error: message}
}

// NewRegister builds a REGISTER envelope declaring the sender's role
func NewRegister(role Role) *Envelope {
	return &Envelope{Type: TypeRegister, Source: role}
}

// NewRegistered acknowledges a REGISTER. sessionID and name are empty in single-session mode.
func NewRegistered(sessionID, name string) *Envelope {
	return &Envelope{Type: TypeRegistered, SessionID: sessionID, SessionName: name}
}

// NewWelcome greets a freshly accepted connection
func NewWelcome(sessionID, name, message string) *Envelope {
	return &Envelope{Type: TypeWelcome, SessionID: sessionID, SessionName: name, Message: message}
}

// NewListSessions asks a bridge for its session registry
func NewListSessions() *Envelope {
	return &Envelope{Type: TypeListSessions}
}

// NewSessionsList answers LIST_SESSIONS
func NewSessionsList(sessions []SessionInfo) *Envelope {
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	return &Envelope{Type: TypeSessionsList, Sessions: sessions}
}

// NewConnectSession asks a bridge to bind the sender to the given session
func NewConnectSession(sessionID string) *Envelope {
	return &Envelope{Type: TypeConnectSession, SessionID: sessionID}
}

// NewSessionConnected answers CONNECT_SESSION. A non-empty errMsg marks a failure.
func NewSessionConnected(sessionID, name, errMsg string) *Envelope {
	return &Envelope{
		Type:        TypeSessionConnected,
		Success:     boolPtr(errMsg == ""),
		SessionID:   sessionID,
		SessionName: name,
		Error:       errMsg,
	}
}
