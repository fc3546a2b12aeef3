package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	env, err := Decode([]byte(`{"type":"COMMAND","id":"c1","action":"PING_TEST","params":{}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeCommand, env.Type)
	assert.Equal(t, "c1", env.ID)
	cmd, err := env.Command()
	require.NoError(t, err)
	assert.Equal(t, "PING_TEST", cmd.Action)
	assert.Empty(t, cmd.Params)
}

func TestDecodeResponse(t *testing.T) {
	env, err := Decode([]byte(`{"type":"RESPONSE","id":"c1","success":true,"data":"ok","nodeId":"1:2"}`))
	require.NoError(t, err)
	resp := env.Response()
	assert.True(t, resp.Success)
	assert.Equal(t, "1:2", resp.NodeID)
	var data string
	require.NoError(t, resp.DecodeData(&data))
	assert.Equal(t, "ok", data)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		cause error
	}{
		{"not json", `{nope`, ErrMalformed},
		{"array", `[1,2,3]`, ErrMalformed},
		{"missing type", `{"id":"x"}`, ErrUnknownType},
		{"unknown type", `{"type":"EXPLODE"}`, ErrUnknownType},
		{"command without id", `{"type":"COMMAND","action":"a","params":{}}`, ErrInvalidShape},
		{"command without params", `{"type":"COMMAND","id":"1","action":"a"}`, ErrInvalidShape},
		{"command with array params", `{"type":"COMMAND","id":"1","action":"a","params":[]}`, ErrInvalidShape},
		{"response without success", `{"type":"RESPONSE","id":"1"}`, ErrInvalidShape},
		{"response with string success", `{"type":"RESPONSE","id":"1","success":"yes"}`, ErrInvalidShape},
		{"ping without id", `{"type":"PING"}`, ErrInvalidShape},
		{"connect without session", `{"type":"CONNECT_SESSION"}`, ErrInvalidShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.input))
			assert.Nil(t, env)
			require.Error(t, err)
			var derr *DecodeError
			require.True(t, errors.As(err, &derr))
			assert.True(t, errors.Is(err, tt.cause), "expected %v, got %v", tt.cause, err)
		})
	}
}

func TestDecodeErrorKeepsID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"COMMAND","id":"abc","params":{}}`))
	var derr *DecodeError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "abc", derr.ID)
	assert.Equal(t, TypeCommand, derr.Type)
	assert.NotEmpty(t, derr.Violations)
	assert.Contains(t, derr.Error(), "COMMAND")
}

func TestEncodeCommandAlwaysCarriesParams(t *testing.T) {
	env, err := NewCommand("c1", Command{Action: "get_selection"})
	require.NoError(t, err)
	buf, err := Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"COMMAND","id":"c1","action":"get_selection","params":{}}`, string(buf))

	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "get_selection", decoded.Action)
}

func TestEncodeUnknownType(t *testing.T) {
	_, err := Encode(&Envelope{Type: "NOPE"})
	assert.True(t, errors.Is(err, ErrUnknownType))
	_, err = Encode(nil)
	assert.Error(t, err)
}

func TestResponseFailureRoundTrip(t *testing.T) {
	buf, err := Encode(NewResponse("r1", &Response{Success: false, Error: "node not found"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"RESPONSE","id":"r1","success":false,"error":"node not found"}`, string(buf))
	env, err := Decode(buf)
	require.NoError(t, err)
	resp := env.Response()
	assert.False(t, resp.Success)
	assert.Equal(t, "node not found", resp.ErrorMessage())
}

func TestPongImpliesSuccess(t *testing.T) {
	env, err := Decode([]byte(`{"type":"PONG","id":"p1"}`))
	require.NoError(t, err)
	assert.True(t, env.Response().Success)
}

func TestSessionsList(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	buf, err := Encode(NewSessionsList([]SessionInfo{{SessionID: "s1", Name: "alpha", Port: 9001, StartedAt: started, IsConnected: true}}))
	require.NoError(t, err)
	env, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, env.Sessions, 1)
	assert.Equal(t, "alpha", env.Sessions[0].Name)
	assert.True(t, env.Sessions[0].StartedAt.Equal(started))

	buf, err = Encode(NewSessionsList(nil))
	require.NoError(t, err)
	env, err = Decode(buf)
	require.NoError(t, err)
	assert.Empty(t, env.Sessions)
}

func TestSessionConnected(t *testing.T) {
	ok := NewSessionConnected("s1", "alpha", "")
	require.NotNil(t, ok.Success)
	assert.True(t, *ok.Success)

	failed := NewSessionConnected("", "", "session mismatch")
	buf, err := Encode(failed)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf, &raw))
	assert.Equal(t, false, raw["success"])
	assert.Equal(t, "session mismatch", raw["error"])
}

func TestCommandParamsDecode(t *testing.T) {
	env, err := NewCommand("c2", Command{Action: "set_fill", Params: map[string]any{"nodeId": "1:2", "r": 0.5}})
	require.NoError(t, err)
	cmd, err := env.Command()
	require.NoError(t, err)
	assert.Equal(t, "1:2", cmd.Params["nodeId"])
	assert.Equal(t, 0.5, cmd.Params["r"])
}
