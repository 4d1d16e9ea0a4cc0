// Package config loads the proxy's startup configuration: a JSON file
// that additionally allows "#"-prefixed line comments, matching
// original_source/webproxy.py's read_config().
package config

import (
	"encoding/json"
	"os"
	"regexp"

	"github.com/tryunoo/mitmproxy/pkg/errors"
)

// commentLine strips a "#" to end-of-line, mirroring the original's
// re.sub(r"#[^\n]*", "", conf_text).
var commentLine = regexp.MustCompile(`#[^\n]*`)

// Config is the proxy's startup configuration.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	PrivateKeyPath string `json:"private_key_path"`
	CACertPath     string `json:"cacert_path"`

	Auth         bool   `json:"auth"`
	AuthUserName string `json:"auth_user_name"`
	AuthPassword string `json:"auth_password"`

	// UpstreamProxyURL is a domain stack extension (SPEC_FULL.md §10):
	// when set, origin-facing connections dial through this proxy
	// instead of directly. Parsed with transport.ParseProxyURL.
	UpstreamProxyURL string `json:"upstream_proxy_url,omitempty"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("reading config file", err)
	}

	stripped := commentLine.ReplaceAll(raw, nil)

	var cfg Config
	if err := json.Unmarshal(stripped, &cfg); err != nil {
		return nil, errors.NewConfigError("parsing config JSON", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the required fields and the conditionally-required
// auth fields, matching spec.md §7's ConfigError contract: config errors
// are fatal at startup.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.NewConfigError("host is required", nil)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NewConfigError("port must be between 1 and 65535", nil)
	}
	if c.PrivateKeyPath == "" {
		return errors.NewConfigError("private_key_path is required", nil)
	}
	if c.CACertPath == "" {
		return errors.NewConfigError("cacert_path is required", nil)
	}
	if c.Auth {
		if c.AuthUserName == "" || c.AuthPassword == "" {
			return errors.NewConfigError("auth_user_name and auth_password are required when auth is enabled", nil)
		}
	}
	return nil
}
