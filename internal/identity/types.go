package identity

import (
	"time"
)

// ServerState is the lifecycle state of a server record. Transition logic
// lives in the hub package; the store only persists the value.
type ServerState string

const (
	StateStopped      ServerState = "stopped"
	StateSpawnPending ServerState = "spawn_pending"
	StateReady        ServerState = "ready"
	StateStopPending  ServerState = "stop_pending"
	StateFailed       ServerState = "failed"
)

// Pending transition tags exposed on the user model while a server is in a
// pending state.
const (
	PendingSpawn = "spawn"
	PendingStop  = "stop"
)

// SubjectKind distinguishes the two kinds of token owners.
type SubjectKind string

const (
	KindUser    SubjectKind = "user"
	KindService SubjectKind = "service"
)

// User is an authenticated identity that may own servers.
type User struct {
	Name         string    `json:"name"`
	Admin        bool      `json:"admin"` // legacy flag, superseded by roles
	Groups       []string  `json:"groups"`
	Roles        []string  `json:"roles"`
	Created      time.Time `json:"created"`
	LastActivity time.Time `json:"last_activity"`
}

// Group is a named set of users carrying roles every member inherits at
// evaluation time.
type Group struct {
	Name    string   `json:"name"`
	Members []string `json:"users"`
	Roles   []string `json:"roles"`
}

// Role is a named bundle of scope strings. The admin role is immutable and
// implicitly holds every scope.
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Scopes      []string `json:"scopes"`
	Managed     bool     `json:"managed"` // default roles cannot be deleted
}

// Service is a non-user API actor. It owns tokens and roles like a user but
// never owns server records.
type Service struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	Admin bool     `json:"admin"`
}

// Token is an opaque API credential bound to exactly one owner. The secret
// is returned to the caller once at creation; only Digest is stored.
type Token struct {
	ID        string      `json:"id"`
	Digest    string      `json:"-"`
	OwnerKind SubjectKind `json:"owner_kind"`
	OwnerName string      `json:"owner_name"`
	Scopes    []string    `json:"scopes"` // raw scopes, may contain metascopes
	Note      string      `json:"note,omitempty"`
	Created   time.Time   `json:"created"`
	Expires   *time.Time  `json:"expires,omitempty"`
	LastUsed  time.Time   `json:"last_used,omitempty"`
}

// Expired reports whether the token is past its expiry at the given time.
func (t *Token) Expired(now time.Time) bool {
	return t.Expires != nil && now.After(*t.Expires)
}

// ServerRecord is the hub's bookkeeping entity for one per-user server.
// The empty server name denotes the user's default server.
type ServerRecord struct {
	UserName     string         `json:"user"`
	Name         string         `json:"name"`
	State        ServerState    `json:"state"`
	Pending      string         `json:"pending,omitempty"`
	URL          string         `json:"url,omitempty"`
	Handle       []byte         `json:"-"` // spawner handle, opaque to the hub
	Options      map[string]any `json:"options,omitempty"`
	Started      time.Time      `json:"started,omitempty"`
	LastActivity time.Time      `json:"last_activity,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Key returns the record key "user/name". The proxy route prefix and the
// access:servers filter value use the same form.
func (r *ServerRecord) Key() string {
	return r.UserName + "/" + r.Name
}

// Active reports whether the record is anywhere between stopped and stopped
// again, i.e. a transition is pending or the server is ready.
func (r *ServerRecord) Active() bool {
	return r.State == StateSpawnPending || r.State == StateReady || r.State == StateStopPending
}

// Share grants one user access to another user's named server.
type Share struct {
	OwnerName  string    `json:"owner"`
	ServerName string    `json:"server"`
	WithUser   string    `json:"with_user"`
	Scopes     []string  `json:"scopes"`
	Created    time.Time `json:"created"`
}
