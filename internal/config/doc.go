// Package config loads the hub configuration from a YAML file with
// environment overrides for secrets, and watches the role definition
// directory for live reloads.
package config
