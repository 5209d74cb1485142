// Package proxy keeps the external reverse proxy's route table in sync
// with the hub. It contains a client for the proxy's REST control API
// and a reconciler that pushes individual route changes with bounded
// retries and periodically diffs the full table against the desired
// state, recovering from proxy restarts and orphaned routes.
package proxy
