// Package obs holds the Prometheus metrics and HTTP instrumentation
// shared across the hub: request metrics, server lifecycle metrics,
// proxy reconciliation metrics, and build info.
package obs
