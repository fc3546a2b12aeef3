package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentuity/design-bridge/bridge"
	"github.com/agentuity/design-bridge/config"
	"github.com/agentuity/design-bridge/logger"
	"github.com/agentuity/design-bridge/protocol"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	actions []string
}

func (f *fakeSender) SendCommand(ctx context.Context, action string, params map[string]any) (*protocol.Response, error) {
	f.actions = append(f.actions, action)
	switch action {
	case "broken":
		return nil, errors.New("command timeout")
	case "refused":
		return &protocol.Response{Success: false, Message: "node is locked"}, nil
	}
	data, _ := json.Marshal(params)
	return &protocol.Response{Success: true, Data: data}, nil
}

func TestPipe(t *testing.T) {
	in := strings.NewReader(strings.Join([]string{
		`{"action":"create_rect","params":{"w":10}}`,
		``,
		`not json`,
		`{"params":{}}`,
		`{"action":"refused"}`,
		`{"action":"broken"}`,
	}, "\n"))
	var out bytes.Buffer
	sender := &fakeSender{}
	require.NoError(t, pipe(context.Background(), sender, in, &out, logger.NewTestLogger()))
	assert.Equal(t, []string{"create_rect", "refused", "broken"}, sender.actions)

	var replies []protocol.Response
	dec := json.NewDecoder(&out)
	for dec.More() {
		var r protocol.Response
		require.NoError(t, dec.Decode(&r))
		replies = append(replies, r)
	}
	require.Len(t, replies, 5)
	assert.True(t, replies[0].Success)
	assert.JSONEq(t, `{"w":10}`, string(replies[0].Data))
	assert.Contains(t, replies[1].Error, "invalid request")
	assert.Contains(t, replies[2].Error, "action is required")
	assert.False(t, replies[3].Success)
	assert.Equal(t, "node is locked", replies[3].Error)
	assert.Equal(t, "command timeout", replies[4].Error)
}

func testConfig(port int) *config.Config {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	cfg.SessionName = "cli-test"
	cfg.AppPingInterval = config.Duration(-1)
	return cfg
}

func TestServePortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	err = serve(context.Background(), testConfig(port), logger.NewTestLogger())
	assert.True(t, errors.Is(err, bridge.ErrPortInUse))
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	log := logger.NewTestLogger()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, testConfig(0), log) }()
	require.Eventually(t, func() bool { return log.Contains("INFO", "open the plugin") }, 3*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
	assert.True(t, log.Contains("INFO", "shutting down"))
}

func TestQuerySessions(t *testing.T) {
	srv, err := bridge.New(bridge.Options{
		Logger:            logger.NewTestLogger(),
		Addr:              "127.0.0.1:0",
		SessionName:       "listed",
		HeartbeatInterval: time.Hour,
		AppPingInterval:   -1,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sessions, err := querySessions(ctx, srv.URL())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, srv.Session().ID, sessions[0].ID)
	assert.Equal(t, "listed", sessions[0].Name)
	assert.False(t, sessions[0].IsConnected)

	// the same bridge through listSessions with an in-memory registry
	port := srv.Addr().(*net.TCPAddr).Port
	viaConfig, err := listSessions(ctx, testConfig(port))
	require.NoError(t, err)
	require.Len(t, viaConfig, 1)
	assert.Equal(t, port, viaConfig[0].Port)
}

func TestQuerySessionsNoBridge(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	_, err = querySessions(context.Background(), "ws://"+addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no bridge reachable")
}

func TestSessionsCommand(t *testing.T) {
	srv, err := bridge.New(bridge.Options{
		Logger:            logger.NewTestLogger(),
		Addr:              "127.0.0.1:0",
		SessionName:       "from-cli",
		HeartbeatInterval: time.Hour,
		AppPingInterval:   -1,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	t.Setenv("DESIGN_BRIDGE_HOST", "127.0.0.1")
	t.Setenv("DESIGN_BRIDGE_PORT", fmt.Sprint(srv.Addr().(*net.TCPAddr).Port))
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"sessions", "--env-file", filepath.Join(t.TempDir(), ".env")})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "from-cli")
	assert.Contains(t, out.String(), srv.Session().ID)
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "relay", "sessions"})
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}
