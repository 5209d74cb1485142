// Package hub is the orchestration core: it owns every server record's
// lifecycle and drives the pluggable spawner and the proxy router.
//
// # State Machine
//
// Records move stopped -> spawn_pending -> ready -> stop_pending ->
// stopped, with failed as the terminal state of a broken or timed-out
// transition. Exactly one transition runs per record at any time; a stop
// arriving mid-spawn waits for the spawn to reach a terminal state before
// it begins. Concurrent starts on one record collapse onto the in-flight
// spawn.
//
// # Ordering
//
// The proxy route for a server is added only after its readiness probe
// succeeds, and removed before the backend is torn down, so clients are
// never routed to a backend that cannot answer.
//
// # Progress
//
// Each spawn publishes a monotone 0-100 progress stream. Subscribers can
// join mid-flight and replay history; closing a subscriber never cancels
// the spawn.
//
// # Supervision
//
// Run polls ready records for liveness and cleans up crashed backends.
// Recover reconciles persisted records with reality after a hub restart.
package hub
