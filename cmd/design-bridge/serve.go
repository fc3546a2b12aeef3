package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentuity/design-bridge/bridge"
	"github.com/agentuity/design-bridge/config"
	"github.com/agentuity/design-bridge/logger"
	"github.com/agentuity/design-bridge/session"
	"github.com/agentuity/design-bridge/telemetry"
	"github.com/agentuity/design-bridge/tui"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a bridge instance",
		Long: `Run a bridge instance for one automation client session.

The plugin connects over WebSocket and registers itself; commands are then
forwarded to it and correlated with its responses. With redis_url set, every
bridge on the machine shares one session registry so the plugin can list and
choose between them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if name, _ := cmd.Flags().GetString("name"); name != "" {
				cfg.SessionName = name
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().String("name", "", "human readable session name")
	cmd.Flags().Int("port", 0, "port to listen on (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	log.With(cfg.Summary()).Debug("configuration loaded")
	if cfg.OTLPURL != "" {
		otelLogger, shutdown, err := telemetry.New(ctx, telemetry.Options{
			URL:         cfg.OTLPURL,
			Token:       cfg.OTLPToken,
			ServiceName: "design-bridge",
			Version:     Version,
			Logger:      log,
		})
		if err != nil {
			return err
		}
		defer shutdown()
		log = otelLogger
	}

	var registry session.Registry
	if cfg.RedisURL != "" {
		rr, err := session.NewRedisRegistryFromURL(ctx, cfg.RedisURL,
			session.WithTTL(cfg.SessionTTL.Std()),
			session.WithLogger(log),
		)
		if err != nil {
			return err
		}
		defer rr.Close()
		registry = rr
	}

	server, err := bridge.New(bridge.Options{
		Context:                 ctx,
		Logger:                  log,
		Addr:                    cfg.Addr(),
		SessionName:             cfg.SessionName,
		Registry:                registry,
		RequireSessionSelection: cfg.RequireSessionSelection,
		CommandTimeout:          cfg.CommandTimeout.Std(),
		PingTimeout:             cfg.PingTimeout.Std(),
		HeartbeatInterval:       cfg.HeartbeatInterval.Std(),
		AppPingInterval:         cfg.AppPingInterval.Std(),
		WriteTimeout:            cfg.WriteTimeout.Std(),
		MaxMessageSize:          cfg.MaxMessageSize,
		AllowedOrigins:          cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	sess := server.Session()
	log.Info("session %s ready, open the plugin and connect to %s", sess.ID, server.URL())
	if tui.HasTTY && cfg.LogFormat != "json" {
		fmt.Fprintln(os.Stderr, tui.ReadyBanner(sess.Name, sess.ID, server.URL(), cfg.RequireSessionSelection))
	}

	failed := make(chan error, 1)
	go func() { failed <- server.Wait() }()
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-failed:
		if ctx.Err() != nil {
			serveErr = nil
			log.Info("shutting down")
		} else {
			log.Error("bridge stopped unexpectedly: %v", serveErr)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}
