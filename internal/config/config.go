// Package config loads the host-supplied configuration: where the secret
// store lives, which sub-API mounts to use, and which login methods the
// deployment enables.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/org/vaultcreds/internal/vault"
)

// LoginMode is the resolved login-method variant. The original deployment
// config carries a free-form method list; resolving it once at load time
// keeps the branching exhaustive.
type LoginMode int

const (
	LoginTokenOnly LoginMode = iota
	LoginOIDCSingleRole
	LoginOIDCMultiRole
	LoginTokenAndOIDC
)

func (m LoginMode) String() string {
	switch m {
	case LoginTokenOnly:
		return "token"
	case LoginOIDCSingleRole:
		return "oidc"
	case LoginOIDCMultiRole:
		return "oidc (multi-role)"
	case LoginTokenAndOIDC:
		return "token+oidc"
	}
	return "unknown"
}

// OIDC holds delegated-login settings: the auth mount and an optional
// role → display-label map for multi-role deployments.
type OIDC struct {
	MountPath string            `yaml:"mount_path"`
	Roles     map[string]string `yaml:"roles"`
}

// Config is the host-supplied deployment configuration, immutable after
// Load.
type Config struct {
	APIURL           string   `yaml:"api_url"`
	KVMountPath      string   `yaml:"kv_mount_path"`
	SecretPathPrefix string   `yaml:"secret_path_prefix"`
	LoginMethods     []string `yaml:"login_methods"`
	OIDC             OIDC     `yaml:"oidc"`
	LogLevel         string   `yaml:"log_level"`

	Mode LoginMode `yaml:"-"`
}

func defaults() Config {
	return Config{
		KVMountPath:      "secret",
		SecretPathPrefix: "netbox",
		LoginMethods:     []string{"token"},
		OIDC:             OIDC{MountPath: "oidc"},
		LogLevel:         "info",
	}
}

// Load reads the config file, applies defaults and environment overrides,
// and resolves the login mode. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if v := os.Getenv("VAULT_ADDR"); v != "" {
		cfg.APIURL = v
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse resolves a config from raw YAML, for hosts that inject it directly.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url must be set (or VAULT_ADDR)")
	}

	token, oidc := false, false
	for _, m := range c.LoginMethods {
		switch m {
		case "token":
			token = true
		case "oidc":
			oidc = true
		default:
			return fmt.Errorf("unknown login method %q", m)
		}
	}

	switch {
	case token && oidc:
		c.Mode = LoginTokenAndOIDC
	case oidc && len(c.OIDC.Roles) > 1:
		c.Mode = LoginOIDCMultiRole
	case oidc:
		c.Mode = LoginOIDCSingleRole
	case token:
		c.Mode = LoginTokenOnly
	default:
		return fmt.Errorf("login_methods must enable at least one of token, oidc")
	}
	return nil
}

// Mounts returns the slash-trimmed mount pair for client construction.
func (c *Config) Mounts() vault.Mounts {
	return vault.Mounts{KV: c.KVMountPath, OIDC: c.OIDC.MountPath}
}

// OIDCEnabled reports whether delegated login is available in this mode.
func (c *Config) OIDCEnabled() bool {
	return c.Mode != LoginTokenOnly
}

// TokenEnabled reports whether direct token login is available in this mode.
func (c *Config) TokenEnabled() bool {
	return c.Mode == LoginTokenOnly || c.Mode == LoginTokenAndOIDC
}
