package config

import "time"

// Config is the hub's full configuration, loaded from config.yaml with
// environment overrides for secrets.
type Config struct {
	// BindAddr is the hub API listen address.
	BindAddr string `yaml:"bind_addr"`
	// PublicURL is the address the proxy uses to reach the hub itself;
	// it becomes the target of the proxy's root route.
	PublicURL string `yaml:"public_url"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// RolesDir holds YAML role definition files, reloaded on change.
	RolesDir string `yaml:"roles_dir"`

	Database DatabaseConfig `yaml:"database"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Spawner  SpawnerConfig  `yaml:"spawner"`
	Hub      HubConfig      `yaml:"hub"`
	Auth     AuthConfig     `yaml:"auth"`
	API      APIConfig      `yaml:"api"`
}

// DatabaseConfig selects the identity store backend.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ProxyConfig points at the external proxy's control API.
type ProxyConfig struct {
	APIURL string `yaml:"api_url"`
	// Token authenticates both directions: hub calls to the control
	// API and proxy activity reports to the hub.
	Token          string        `yaml:"token"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SpawnerConfig selects and parameterizes the spawner backend.
type SpawnerConfig struct {
	// Backend is "local" or "kubernetes".
	Backend string `yaml:"backend"`
	// Command is the server command line; elements are templates with
	// access to {{.Username}}, {{.ServerName}} and {{.Port}}.
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`

	StopTimeout time.Duration `yaml:"stop_timeout"`

	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig parameterizes the pod-per-server backend.
type KubernetesConfig struct {
	Namespace string `yaml:"namespace"`
	Image     string `yaml:"image"`
	// Kubeconfig is the path to a kubeconfig file; empty means
	// in-cluster configuration.
	Kubeconfig string `yaml:"kubeconfig"`
	// PodTemplateFile optionally overrides the generated pod spec.
	PodTemplateFile string        `yaml:"pod_template_file"`
	StartTimeout    time.Duration `yaml:"start_timeout"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
}

// HubConfig bounds the server lifecycle state machine.
type HubConfig struct {
	PortStart        int           `yaml:"port_start"`
	PortEnd          int           `yaml:"port_end"`
	SpawnTimeout     time.Duration `yaml:"spawn_timeout"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	SpawnConcurrency int           `yaml:"spawn_concurrency"`
	// ResumeOnRestart restarts servers a hub restart interrupted.
	ResumeOnRestart bool `yaml:"resume_on_restart"`
	// StopServersOnShutdown stops every running server during shutdown
	// instead of leaving them for the next hub process to adopt.
	StopServersOnShutdown bool `yaml:"stop_servers_on_shutdown"`
}

// AuthConfig selects the authenticator backend.
type AuthConfig struct {
	// Backend is "password", "oauth2" or "header".
	Backend string `yaml:"backend"`

	// PasswordFile is a YAML map of username to argon2id hash.
	PasswordFile string `yaml:"password_file"`

	OAuth2 OAuth2Config `yaml:"oauth2"`
	Header HeaderConfig `yaml:"header"`

	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
}

// OAuth2Config parameterizes the authorization-code flow backend.
type OAuth2Config struct {
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	AuthURL       string   `yaml:"auth_url"`
	TokenURL      string   `yaml:"token_url"`
	UserInfoURL   string   `yaml:"userinfo_url"`
	RedirectURL   string   `yaml:"redirect_url"`
	Scopes        []string `yaml:"scopes"`
	UsernameClaim string   `yaml:"username_claim"`
	GroupsClaim   string   `yaml:"groups_claim"`
	AdminGroup    string   `yaml:"admin_group"`
}

// HeaderConfig parameterizes the trusted-header backend.
type HeaderConfig struct {
	UserHeader   string `yaml:"user_header"`
	SecretHeader string `yaml:"secret_header"`
	Secret       string `yaml:"secret"`
}

// APIConfig bounds the HTTP surface.
type APIConfig struct {
	RateBurst     int   `yaml:"rate_burst"`
	RatePerSecond int   `yaml:"rate_per_second"`
	MaxBodyBytes  int64 `yaml:"max_body_bytes"`
}
