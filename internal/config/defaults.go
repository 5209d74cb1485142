package config

import "time"

// Default returns the configuration the hub runs with when config.yaml
// is absent or partial.
func Default() Config {
	return Config{
		BindAddr:  "127.0.0.1:8081",
		PublicURL: "http://127.0.0.1:8081",
		LogLevel:  "info",
		Database: DatabaseConfig{
			Driver: "memory",
		},
		Proxy: ProxyConfig{
			APIURL:         "http://127.0.0.1:8001",
			SyncInterval:   5 * time.Minute,
			MaxAttempts:    5,
			RequestTimeout: 20 * time.Second,
		},
		Spawner: SpawnerConfig{
			Backend:     "local",
			StopTimeout: 10 * time.Second,
			Kubernetes: KubernetesConfig{
				Namespace:    "default",
				StartTimeout: 3 * time.Minute,
				StopTimeout:  time.Minute,
			},
		},
		Hub: HubConfig{
			PortStart:        40000,
			PortEnd:          41000,
			SpawnTimeout:     2 * time.Minute,
			StopTimeout:      time.Minute,
			PollInterval:     30 * time.Second,
			SpawnConcurrency: 10,
		},
		Auth: AuthConfig{
			Backend:    "password",
			SessionTTL: 14 * 24 * time.Hour,
		},
		API: APIConfig{
			RateBurst:     100,
			RatePerSecond: 50,
			MaxBodyBytes:  1 << 20,
		},
	}
}
