package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agentuity/design-bridge/logger"
	"github.com/agentuity/design-bridge/protocol"
	"github.com/agentuity/design-bridge/relay"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newRelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward commands from stdin to a running bridge",
		Long: `Connect to a running bridge as a client and forward commands to the plugin.

Each stdin line is a JSON object {"action": "...", "params": {...}}; one JSON
response is written to stdout per line, in input order. Dropped connections
are retried with backoff and commands are queued meanwhile.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			url, _ := cmd.Flags().GetString("url")
			if url == "" {
				url = cfg.URL()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := relay.New(relay.Options{
				URL:               url,
				Logger:            log,
				Backoff:           cfg.ReconnectBackoff(),
				CommandTimeout:    cfg.CommandTimeout.Std(),
				PingTimeout:       cfg.PingTimeout.Std(),
				HeartbeatInterval: cfg.HeartbeatInterval.Std(),
				WriteTimeout:      cfg.WriteTimeout.Std(),
			})
			defer client.Close()
			if err := client.Connect(ctx); err != nil {
				return err
			}
			done := make(chan error, 1)
			go func() { done <- pipe(ctx, client, cmd.InOrStdin(), cmd.OutOrStdout(), log) }()
			select {
			case err := <-done:
				return err
			case <-client.Done():
				return client.Err()
			case <-ctx.Done():
				return nil
			}
		},
	}
	cmd.Flags().String("url", "", "bridge url (defaults to the configured host and port)")
	return cmd
}

type relayRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

type commandSender interface {
	SendCommand(ctx context.Context, action string, params map[string]any) (*protocol.Response, error)
}

// pipe sends one command per input line and writes one reply per line
func pipe(ctx context.Context, client commandSender, in io.Reader, out io.Writer, log logger.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	enc := json.NewEncoder(out)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req relayRequest
		reply := &protocol.Response{}
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			reply.Error = "invalid request: " + err.Error()
		} else if req.Action == "" {
			reply.Error = "invalid request: action is required"
		} else if resp, err := client.SendCommand(ctx, req.Action, req.Params); err != nil {
			log.Warn("%s failed: %s", req.Action, err)
			reply.Error = err.Error()
		} else {
			reply = resp
			if !reply.Success && reply.Error == "" {
				reply.Error = reply.ErrorMessage()
			}
		}
		if err := enc.Encode(reply); err != nil {
			return errors.Wrap(err, "writing reply")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return errors.Wrap(scanner.Err(), "reading commands")
}
