// Command design-bridge runs the command bridge between an automation client
// and the design plugin, and offers a relay and a session listing on top.
package main

import (
	"fmt"
	"os"

	"github.com/agentuity/design-bridge/bridge"
	"github.com/agentuity/design-bridge/config"
	"github.com/agentuity/design-bridge/env"
	"github.com/agentuity/design-bridge/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "design-bridge",
		Short:         "WebSocket command bridge for the design plugin",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("env-file", ".env", "dotenv file merged into the environment")
	root.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (console or json)")
	root.AddCommand(newServeCommand(), newRelayCommand(), newSessionsCommand())
	return root
}

// setup merges the env file, loads the config and builds the logger
func setup(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	applied, err := env.LoadEnvFile(envFile)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "loading %s", envFile)
	}
	configFile := env.FlagOrEnv(cmd, "config", env.Prefix+"CONFIG", "")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	log := env.NewLogger(cmd, cfg.LogLevel, cfg.LogFormat)
	if len(applied) > 0 {
		log.Debug("loaded %d variables from %s", len(applied), envFile)
	}
	return cfg, log, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		if errors.Is(err, bridge.ErrPortInUse) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
