package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPasswords reads a YAML file mapping usernames to password hashes
// produced by authenticator.HashPassword.
func LoadPasswords(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading password file %s: %w", path, err)
	}
	var users map[string]string
	if err := yaml.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parsing password file %s: %w", path, err)
	}
	for name, hash := range users {
		if name == "" || hash == "" {
			return nil, fmt.Errorf("password file %s: empty username or hash", path)
		}
	}
	return users, nil
}
