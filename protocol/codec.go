package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrMalformed is returned when a payload is not a JSON object
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned when the type discriminant is missing or not recognised
	ErrUnknownType = errors.New("unknown message type")
	// ErrInvalidShape is returned when required fields for the type are missing or mistyped
	ErrInvalidShape = errors.New("invalid message shape")
)

// DecodeError describes why an inbound payload was rejected. The ID is
// populated when it could be recovered so the ERROR reply can be correlated.
type DecodeError struct {
	Type       MessageType
	ID         string
	Violations []string
	cause      error
}

func (e *DecodeError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.cause.Error())
	if e.Type != "" {
		fmt.Fprintf(&sb, " (type %s)", e.Type)
	}
	if len(e.Violations) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Violations, "; "))
	}
	return sb.String()
}

func (e *DecodeError) Unwrap() error {
	return e.cause
}

// Encode serializes an envelope to its wire form
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("cannot encode nil envelope")
	}
	if !env.Type.Known() {
		return nil, errors.Wrapf(ErrUnknownType, "encoding %q", env.Type)
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", env.Type)
	}
	return buf, nil
}

type probe struct {
	Type MessageType `json:"type"`
	ID   any         `json:"id"`
}

// Decode parses and shape-checks a wire payload. It never panics; every
// failure is reported as a *DecodeError.
func Decode(buf []byte) (*Envelope, error) {
	var p probe
	if err := json.Unmarshal(buf, &p); err != nil {
		return nil, &DecodeError{cause: ErrMalformed, Violations: []string{err.Error()}}
	}
	id, _ := p.ID.(string)
	if p.Type == "" || !p.Type.Known() {
		return nil, &DecodeError{Type: p.Type, ID: id, cause: ErrUnknownType}
	}
	violations, err := validateShape(p.Type, buf)
	if err != nil {
		return nil, &DecodeError{Type: p.Type, ID: id, cause: ErrMalformed, Violations: []string{err.Error()}}
	}
	if len(violations) > 0 {
		return nil, &DecodeError{Type: p.Type, ID: id, cause: ErrInvalidShape, Violations: violations}
	}
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, &DecodeError{Type: p.Type, ID: id, cause: ErrInvalidShape, Violations: []string{err.Error()}}
	}
	return &env, nil
}
