// Package config loads bridge settings from defaults, an optional YAML file
// and DESIGN_BRIDGE_* environment variables, in that order.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/design-bridge/resilience"
	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DESIGN_BRIDGE_"

// DefaultPort is the well-known port automation clients and the plugin expect
const DefaultPort = 9001

// Duration is a time.Duration that accepts extended units such as 1d or 2w in YAML and env
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return str2duration.String(time.Duration(d))
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return errors.Wrap(err, "duration must be a string")
	}
	v, err := str2duration.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config is the complete set of bridge settings
type Config struct {
	// Host is the listen interface; empty binds all interfaces
	Host                    string   `yaml:"host"`
	Port                    int      `yaml:"port"`
	SessionName             string   `yaml:"session_name"`
	RequireSessionSelection bool     `yaml:"require_session_selection"`
	CommandTimeout          Duration `yaml:"command_timeout"`
	PingTimeout             Duration `yaml:"ping_timeout"`
	HeartbeatInterval       Duration `yaml:"heartbeat_interval"`
	// AppPingInterval of zero follows HeartbeatInterval; negative disables application pings
	AppPingInterval         Duration `yaml:"app_ping_interval"`
	WriteTimeout            Duration `yaml:"write_timeout"`
	MaxMessageSize          int64    `yaml:"max_message_size"`
	AllowedOrigins          []string `yaml:"allowed_origins"`
	RedisURL                string   `yaml:"redis_url"`
	SessionTTL              Duration `yaml:"session_ttl"`
	LogLevel                string   `yaml:"log_level"`
	LogFormat               string   `yaml:"log_format"`
	OTLPURL                 string   `yaml:"otlp_url"`
	OTLPToken               string   `yaml:"otlp_token"`
	ReconnectBaseDelay      Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay       Duration `yaml:"reconnect_max_delay"`
	ReconnectJitter         Duration `yaml:"reconnect_jitter"`
	ReconnectMaxAttempts    int      `yaml:"reconnect_max_attempts"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Port:                 DefaultPort,
		CommandTimeout:       Duration(30 * time.Second),
		PingTimeout:          Duration(15 * time.Second),
		HeartbeatInterval:    Duration(15 * time.Second),
		AppPingInterval:      Duration(15 * time.Second),
		WriteTimeout:         Duration(10 * time.Second),
		MaxMessageSize:       8 << 20,
		SessionTTL:           Duration(time.Minute),
		LogLevel:             "info",
		LogFormat:            "console",
		ReconnectBaseDelay:   Duration(time.Second),
		ReconnectMaxDelay:    Duration(30 * time.Second),
		ReconnectJitter:      Duration(time.Second),
		ReconnectMaxAttempts: 5,
	}
}

// Load builds a Config from defaults, then path (when non-empty), then the environment
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return v, ok && v != ""
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", envPrefix, name)
			}
			*dst = n
		}
		return nil
	}
	dur := func(name string, dst *Duration) error {
		if v, ok := get(name); ok {
			d, err := str2duration.ParseDuration(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", envPrefix, name)
			}
			*dst = Duration(d)
		}
		return nil
	}

	// PORT is honoured for compatibility with older launch scripts
	if v, ok := lookup("PORT"); ok && v != "" {
		if _, set := get("PORT"); !set {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrap(err, "PORT")
			}
			c.Port = n
		}
	}
	if err := integer("PORT", &c.Port); err != nil {
		return err
	}
	if err := integer("RECONNECT_MAX_ATTEMPTS", &c.ReconnectMaxAttempts); err != nil {
		return err
	}
	str("HOST", &c.Host)
	str("SESSION_NAME", &c.SessionName)
	str("REDIS_URL", &c.RedisURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("OTLP_URL", &c.OTLPURL)
	str("OTLP_TOKEN", &c.OTLPToken)
	if v, ok := get("REQUIRE_SESSION_SELECTION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%sREQUIRE_SESSION_SELECTION", envPrefix)
		}
		c.RequireSessionSelection = b
	}
	if v, ok := get("MAX_MESSAGE_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "%sMAX_MESSAGE_SIZE", envPrefix)
		}
		c.MaxMessageSize = n
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
	}
	for name, dst := range map[string]*Duration{
		"COMMAND_TIMEOUT":      &c.CommandTimeout,
		"PING_TIMEOUT":         &c.PingTimeout,
		"HEARTBEAT_INTERVAL":   &c.HeartbeatInterval,
		"APP_PING_INTERVAL":    &c.AppPingInterval,
		"WRITE_TIMEOUT":        &c.WriteTimeout,
		"SESSION_TTL":          &c.SessionTTL,
		"RECONNECT_BASE_DELAY": &c.ReconnectBaseDelay,
		"RECONNECT_MAX_DELAY":  &c.ReconnectMaxDelay,
		"RECONNECT_JITTER":     &c.ReconnectJitter,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the bridge cannot run with
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Newf("port %d out of range", c.Port)
	}
	for name, d := range map[string]Duration{
		"command_timeout":      c.CommandTimeout,
		"ping_timeout":         c.PingTimeout,
		"heartbeat_interval":   c.HeartbeatInterval,
		"write_timeout":        c.WriteTimeout,
		"session_ttl":          c.SessionTTL,
		"reconnect_base_delay": c.ReconnectBaseDelay,
		"reconnect_max_delay":  c.ReconnectMaxDelay,
	} {
		if d <= 0 {
			return errors.Newf("%s must be positive", name)
		}
	}
	if c.ReconnectJitter < 0 {
		return errors.New("reconnect_jitter must not be negative")
	}
	if c.ReconnectMaxAttempts <= 0 {
		return errors.New("reconnect_max_attempts must be positive")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("max_message_size must be positive")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return errors.Newf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// Addr is the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL is the websocket url clients dial
func (c *Config) URL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// ReconnectBackoff is the relay's reconnect schedule
func (c *Config) ReconnectBackoff() resilience.Backoff {
	return resilience.Backoff{
		Base:        c.ReconnectBaseDelay.Std(),
		Max:         c.ReconnectMaxDelay.Std(),
		Jitter:      c.ReconnectJitter.Std(),
		MaxAttempts: c.ReconnectMaxAttempts,
	}
}
