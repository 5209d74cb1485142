// Package spawner creates, polls and destroys the per-user server
// resources the hub supervises.
//
// # Capability Interface
//
// The hub's state machine depends only on the Spawner interface: Start
// produces an opaque handle, Poll reports liveness, Stop tears the
// resource down. Handles are persisted on server records as raw bytes, so
// a restarted hub can keep polling resources it did not start in this
// process. Each backend defines its own handle encoding and never inspects
// another backend's.
//
// # Backends
//
// Local runs one OS process per server in its own process group.
// Kubernetes runs one pod per server through client-go. Mock is a
// scriptable double for the state machine tests.
package spawner
