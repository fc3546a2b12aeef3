// Package env merges .env files into the process environment and resolves
// cobra flags against environment variables.
package env

import (
	"bufio"
	"bytes"
	"log"
	"os"
	"strings"

	"github.com/agentuity/design-bridge/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Prefix is prepended to every environment variable the bridge reads
const Prefix = "DESIGN_BRIDGE_"

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses an environment file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return []EnvLine{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", filename)
	}
	return ParseEnvBuffer(buf)
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ParseEnvBuffer parses KEY=value lines. Blank lines, comments and an optional
// `export ` keyword are ignored. Values may reference earlier keys or the
// process environment as ${KEY} or ${KEY:-default}.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	known := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(buf))
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Newf("line %d: expected KEY=value", lineno)
		}
		val = interpolate(dequote(strings.TrimSpace(val)), known)
		known[key] = val
		envs = append(envs, EnvLine{Key: key, Val: val})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning env buffer")
	}
	return envs, nil
}

func interpolate(val string, known map[string]string) string {
	var sb strings.Builder
	for {
		start := strings.Index(val, "${")
		if start < 0 {
			sb.WriteString(val)
			return sb.String()
		}
		end := strings.Index(val[start:], "}")
		if end < 0 {
			sb.WriteString(val)
			return sb.String()
		}
		end += start
		sb.WriteString(val[:start])
		name, def, _ := strings.Cut(val[start+2:end], ":-")
		if v, ok := known[name]; ok && v != "" {
			sb.WriteString(v)
		} else if v := os.Getenv(name); v != "" {
			sb.WriteString(v)
		} else {
			sb.WriteString(def)
		}
		val = val[end+1:]
	}
}

// LoadEnvFile merges filename into the process environment. Variables that
// are already set win over the file. It returns the keys that were applied.
func LoadEnvFile(filename string) ([]string, error) {
	lines, err := ParseEnvFile(filename)
	if err != nil {
		return nil, err
	}
	applied := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, exists := os.LookupEnv(line.Key); exists {
			continue
		}
		if err := os.Setenv(line.Key, line.Val); err != nil {
			return applied, errors.Wrapf(err, "setting %s", line.Key)
		}
		applied = append(applied, line.Key)
	}
	return applied, nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	if cmd != nil && cmd.Flags().Lookup(flagName) != nil {
		if flagValue, _ := cmd.Flags().GetString(flagName); flagValue != "" {
			return flagValue
		}
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel resolves --log-level, then DESIGN_BRIDGE_LOG_LEVEL, then def
func LogLevel(cmd *cobra.Command, def string) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.LevelEnv, def), logger.LevelInfo)
}

// NewLogger returns a console or JSON logger depending on --log-format
// (DESIGN_BRIDGE_LOG_FORMAT). defLevel and defFormat usually come from the
// config file.
func NewLogger(cmd *cobra.Command, defLevel string, defFormat string) logger.Logger {
	log.SetFlags(0)
	level := LogLevel(cmd, defLevel)
	if FlagOrEnv(cmd, "log-format", Prefix+"LOG_FORMAT", defFormat) == "json" {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}
