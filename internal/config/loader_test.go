package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/pkg/logging"
)

func init() {
	logging.InitForTesting(logging.LevelError)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
spawner:
  command: ["notebook", "--port", "{port}"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8081", cfg.BindAddr)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 40000, cfg.Hub.PortStart)
	assert.Equal(t, 5*time.Minute, cfg.Proxy.SyncInterval)
	assert.Equal(t, []string{"notebook", "--port", "{port}"}, cfg.Spawner.Command)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
bind_addr: 0.0.0.0:9000
log_level: debug
spawner:
  command: ["srv"]
hub:
  port_start: 5000
  port_end: 5100
  resume_on_restart: true
  stop_servers_on_shutdown: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.BindAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5000, cfg.Hub.PortStart)
	assert.Equal(t, 5100, cfg.Hub.PortEnd)
	assert.True(t, cfg.Hub.ResumeOnRestart)
	assert.True(t, cfg.Hub.StopServersOnShutdown)
}

func TestLoadMissingFileFailsValidation(t *testing.T) {
	// Defaults alone lack a spawn command.
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawner.command")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HUB_PROXY_TOKEN", "from-env")
	t.Setenv("HUB_SESSION_SECRET", "session-from-env")

	path := writeFile(t, t.TempDir(), "config.yaml", `
spawner:
  command: ["srv"]
proxy:
  token: from-file
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Proxy.Token)
	assert.Equal(t, "session-from-env", cfg.Auth.SessionSecret)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: "database.dsn",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "sqlite" },
			wantErr: "unknown database driver",
		},
		{
			name:    "kubernetes without image",
			mutate:  func(c *Config) { c.Spawner.Backend = "kubernetes" },
			wantErr: "spawner.kubernetes.image",
		},
		{
			name:    "oauth2 without endpoints",
			mutate:  func(c *Config) { c.Auth.Backend = "oauth2" },
			wantErr: "auth.oauth2",
		},
		{
			name:    "inverted port range",
			mutate:  func(c *Config) { c.Hub.PortEnd = c.Hub.PortStart },
			wantErr: "port_end",
		},
		{
			name:    "missing proxy url",
			mutate:  func(c *Config) { c.Proxy.APIURL = "" },
			wantErr: "proxy.api_url",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Spawner.Command = []string{"srv"}
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRoles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "roles.yaml", `
roles:
  - name: reader
    description: read everything
    scopes: [read:users, read:servers]
  - name: launcher
    scopes: [servers]
`)
	writeFile(t, dir, "notes.txt", "ignored")

	roles, err := LoadRoles(dir)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "reader", roles[0].Name)
	assert.Equal(t, []string{"read:users", "read:servers"}, roles[0].Scopes)
	assert.Equal(t, "launcher", roles[1].Name)
}

func TestLoadRolesMissingDir(t *testing.T) {
	roles, err := LoadRoles(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestLoadRolesRejectsNameless(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "roles.yaml", `
roles:
  - scopes: [read:users]
`)
	_, err := LoadRoles(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a name")
}

func TestLoadPasswords(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "passwords.yaml", `
alice: $2a$10$abcdefghijklmnopqrstuv
bob: $2a$10$vutsrqponmlkjihgfedcba
`)

	users, err := LoadPasswords(path)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Contains(t, users, "alice")
}

func TestLoadPasswordsRejectsEmptyHash(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "passwords.yaml", `
alice: ""
`)
	_, err := LoadPasswords(path)
	require.Error(t, err)
}
