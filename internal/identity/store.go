package identity

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all store implementations.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("resource conflict")
	ErrInUse    = errors.New("resource in use")
)

// Store is the hub's persistence boundary. Implementations must be safe for
// concurrent use; the hub is the only process writing to the store.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, name string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	// DeleteUser fails with ErrInUse while any of the user's server
	// records is non-stopped. On success it cascades to the user's
	// tokens, shares and server records.
	DeleteUser(ctx context.Context, name string) error
	SetUserAdmin(ctx context.Context, name string, admin bool) error
	TouchUserActivity(ctx context.Context, name string, at time.Time) error

	// Groups
	CreateGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, name string) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	DeleteGroup(ctx context.Context, name string) error
	SetGroupMembers(ctx context.Context, name string, members []string) error
	SetGroupRoles(ctx context.Context, name string, roles []string) error

	// Roles
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, name string) error
	SetUserRoles(ctx context.Context, user string, roles []string) error
	SetServiceRoles(ctx context.Context, service string, roles []string) error

	// Services
	CreateService(ctx context.Context, svc *Service) error
	GetService(ctx context.Context, name string) (*Service, error)
	ListServices(ctx context.Context) ([]*Service, error)
	DeleteService(ctx context.Context, name string) error

	// Tokens
	CreateToken(ctx context.Context, token *Token) error
	GetTokenByDigest(ctx context.Context, digest string) (*Token, error)
	GetToken(ctx context.Context, id string) (*Token, error)
	ListTokens(ctx context.Context, ownerKind SubjectKind, ownerName string) ([]*Token, error)
	DeleteToken(ctx context.Context, id string) error
	TouchToken(ctx context.Context, id string, at time.Time) error
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int, error)

	// Server records
	UpsertServerRecord(ctx context.Context, record *ServerRecord) error
	GetServerRecord(ctx context.Context, user, name string) (*ServerRecord, error)
	ListServerRecords(ctx context.Context, user string) ([]*ServerRecord, error)
	ListAllServerRecords(ctx context.Context) ([]*ServerRecord, error)
	DeleteServerRecord(ctx context.Context, user, name string) error

	// Shares
	CreateShare(ctx context.Context, share *Share) error
	ListShares(ctx context.Context, owner, server string) ([]*Share, error)
	ListSharesWithUser(ctx context.Context, user string) ([]*Share, error)
	DeleteShare(ctx context.Context, owner, server, withUser string) error
	DeleteSharesForServer(ctx context.Context, owner, server string) error

	// Close releases any underlying resources.
	Close() error
}
