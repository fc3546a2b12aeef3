package config

import (
	"net/url"
	"sort"
	"strings"
)

// maskSecret keeps the first half of s and stars the rest
func maskSecret(s string) string {
	switch len(s) {
	case 0:
		return s
	case 1:
		return "*"
	}
	h := len(s) / 2
	return s[:h] + strings.Repeat("*", len(s)-h)
}

// maskURL hides the credentials and query values of u. Unparseable input is masked whole.
func maskURL(u string) string {
	if u == "" {
		return u
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return maskSecret(u)
	}
	var str strings.Builder
	str.WriteString(parsed.Scheme)
	str.WriteString("://")
	if parsed.User != nil {
		if pass, ok := parsed.User.Password(); ok {
			str.WriteString(parsed.User.Username())
			str.WriteString(":")
			str.WriteString(maskSecret(pass))
		} else {
			str.WriteString(maskSecret(parsed.User.Username()))
		}
		str.WriteString("@")
	}
	str.WriteString(parsed.Host)
	str.WriteString(parsed.EscapedPath())
	if parsed.RawQuery != "" {
		q := parsed.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i == 0 {
				str.WriteString("?")
			} else {
				str.WriteString("&")
			}
			str.WriteString(k + "=" + maskSecret(strings.Join(q[k], ",")))
		}
	}
	return str.String()
}

// Summary is the effective configuration with secrets masked, suitable for logging
func (c *Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"addr":                      c.Addr(),
		"session_name":              c.SessionName,
		"require_session_selection": c.RequireSessionSelection,
		"command_timeout":           c.CommandTimeout.String(),
		"heartbeat_interval":        c.HeartbeatInterval.String(),
		"redis_url":                 maskURL(c.RedisURL),
		"otlp_url":                  maskURL(c.OTLPURL),
		"otlp_token":                maskSecret(c.OTLPToken),
		"allowed_origins":           strings.Join(c.AllowedOrigins, ","),
	}
}
