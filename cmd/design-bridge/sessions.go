package main

import (
	"context"
	"fmt"
	"time"

	"github.com/agentuity/design-bridge/config"
	"github.com/agentuity/design-bridge/protocol"
	"github.com/agentuity/design-bridge/session"
	"github.com/agentuity/design-bridge/tui"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the sessions a plugin can connect to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CommandTimeout.Std())
			defer cancel()
			var sessions []session.Session
			err = tui.ShowSpinner(ctx, "Finding sessions...", func(ctx context.Context) error {
				var err error
				sessions, err = listSessions(ctx, cfg)
				return err
			})
			if err != nil {
				return err
			}
			log.Debug("found %d sessions", len(sessions))
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions running")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.SessionTable(sessions, time.Now()))
			return nil
		},
	}
	return cmd
}

// listSessions reads the shared registry when one is configured, otherwise
// asks the local bridge
func listSessions(ctx context.Context, cfg *config.Config) ([]session.Session, error) {
	if cfg.RedisURL != "" {
		registry, err := session.NewRedisRegistryFromURL(ctx, cfg.RedisURL, session.WithTTL(cfg.SessionTTL.Std()))
		if err != nil {
			return nil, err
		}
		defer registry.Close()
		return registry.List(ctx)
	}
	return querySessions(ctx, cfg.URL())
}

func querySessions(ctx context.Context, url string) ([]session.Session, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "no bridge reachable at %s", url)
	}
	defer ws.Close()
	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	buf, err := protocol.Encode(protocol.NewListSessions())
	if err != nil {
		return nil, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, buf); err != nil {
		return nil, errors.Wrap(err, "sending LIST_SESSIONS")
	}
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return nil, errors.Wrap(err, "waiting for SESSIONS_LIST")
		}
		env, err := protocol.Decode(msg)
		if err != nil {
			return nil, err
		}
		switch env.Type {
		case protocol.TypeSessionsList:
			out := make([]session.Session, 0, len(env.Sessions))
			for _, info := range env.Sessions {
				out = append(out, session.FromInfo(info))
			}
			return out, nil
		case protocol.TypeError:
			return nil, errors.Newf("bridge error: %s", env.Error)
		}
	}
}
