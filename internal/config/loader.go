package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hub/pkg/logging"
)

// Load reads path into a Config on top of the defaults. A missing file
// is not an error; environment overrides apply either way.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		logging.Info("Config", "no config file at %s, using defaults", path)
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
		logging.Info("Config", "loaded configuration from %s", path)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("HUB_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("HUB_PROXY_TOKEN"); v != "" {
		c.Proxy.Token = v
	}
	if v := os.Getenv("HUB_SESSION_SECRET"); v != "" {
		c.Auth.SessionSecret = v
	}
	if v := os.Getenv("HUB_OAUTH_CLIENT_SECRET"); v != "" {
		c.Auth.OAuth2.ClientSecret = v
	}
}

// Validate rejects configurations the hub cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required with the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Spawner.Backend {
	case "local":
		if len(c.Spawner.Command) == 0 {
			return fmt.Errorf("spawner.command is required with the local backend")
		}
	case "kubernetes":
		if c.Spawner.Kubernetes.Image == "" {
			return fmt.Errorf("spawner.kubernetes.image is required with the kubernetes backend")
		}
	default:
		return fmt.Errorf("unknown spawner backend %q", c.Spawner.Backend)
	}

	switch c.Auth.Backend {
	case "password", "header":
	case "oauth2":
		o := c.Auth.OAuth2
		if o.ClientID == "" || o.AuthURL == "" || o.TokenURL == "" || o.UserInfoURL == "" {
			return fmt.Errorf("auth.oauth2 requires client_id, auth_url, token_url and userinfo_url")
		}
	default:
		return fmt.Errorf("unknown auth backend %q", c.Auth.Backend)
	}

	if c.Hub.PortEnd <= c.Hub.PortStart {
		return fmt.Errorf("hub.port_end must be greater than hub.port_start")
	}
	if c.Proxy.APIURL == "" {
		return fmt.Errorf("proxy.api_url is required")
	}
	return nil
}
