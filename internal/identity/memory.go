package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and database-less
// deployments. All methods copy on the way in and out so callers can never
// mutate shared state.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	groups   map[string]*Group
	roles    map[string]*Role
	services map[string]*Service
	tokens   map[string]*Token // by id
	digests  map[string]string // digest -> token id
	records  map[string]*ServerRecord
	shares   map[string]*Share

	// onMutate, when set, is called after every role/group/assignment
	// mutation. The Resolver hooks its cache invalidation here.
	onMutate func()
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		groups:   make(map[string]*Group),
		roles:    make(map[string]*Role),
		services: make(map[string]*Service),
		tokens:   make(map[string]*Token),
		digests:  make(map[string]string),
		records:  make(map[string]*ServerRecord),
		shares:   make(map[string]*Share),
	}
}

// SetMutationHook registers the callback fired on every mutation of
// roles, groups, role assignments or shares. The hook runs synchronously
// before the mutation returns, with the store lock held; it must not call
// back into the store.
func (m *MemoryStore) SetMutationHook(hook func()) {
	m.mu.Lock()
	m.onMutate = hook
	m.mu.Unlock()
}

func (m *MemoryStore) fireMutate() {
	// Synchronous: no authorization decision after a mutation may be
	// served from a cache filled before it.
	if m.onMutate != nil {
		m.onMutate()
	}
}

// userView materializes a user for callers. Group membership is owned by
// the groups, so the Groups field is derived here rather than stored.
// Callers must hold at least a read lock.
func (m *MemoryStore) userView(u *User) *User {
	out := *u
	out.Roles = append([]string(nil), u.Roles...)
	out.Groups = nil
	for name, g := range m.groups {
		for _, member := range g.Members {
			if member == u.Name {
				out.Groups = append(out.Groups, name)
				break
			}
		}
	}
	sort.Strings(out.Groups)
	return &out
}

func copyUser(u *User) *User {
	out := *u
	out.Groups = append([]string(nil), u.Groups...)
	out.Roles = append([]string(nil), u.Roles...)
	return &out
}

func copyGroup(g *Group) *Group {
	out := *g
	out.Members = append([]string(nil), g.Members...)
	out.Roles = append([]string(nil), g.Roles...)
	return &out
}

func copyRole(r *Role) *Role {
	out := *r
	out.Scopes = append([]string(nil), r.Scopes...)
	return &out
}

func copyService(s *Service) *Service {
	out := *s
	out.Roles = append([]string(nil), s.Roles...)
	return &out
}

func copyToken(t *Token) *Token {
	out := *t
	out.Scopes = append([]string(nil), t.Scopes...)
	if t.Expires != nil {
		exp := *t.Expires
		out.Expires = &exp
	}
	return &out
}

func copyRecord(r *ServerRecord) *ServerRecord {
	out := *r
	out.Handle = append([]byte(nil), r.Handle...)
	if r.Options != nil {
		out.Options = make(map[string]any, len(r.Options))
		for k, v := range r.Options {
			out.Options[k] = v
		}
	}
	return &out
}

func copyShare(s *Share) *Share {
	out := *s
	out.Scopes = append([]string(nil), s.Scopes...)
	return &out
}

// Users

func (m *MemoryStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Name]; ok {
		return fmt.Errorf("user %s: %w", user.Name, ErrConflict)
	}
	m.users[user.Name] = copyUser(user)
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, name string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[name]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", name, ErrNotFound)
	}
	return m.userView(u), nil
}

func (m *MemoryStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, m.userView(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) DeleteUser(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[name]; !ok {
		return fmt.Errorf("user %s: %w", name, ErrNotFound)
	}
	for _, r := range m.records {
		if r.UserName == name && r.State != StateStopped && r.State != StateFailed {
			return fmt.Errorf("user %s has a running server: %w", name, ErrInUse)
		}
	}
	delete(m.users, name)
	for id, t := range m.tokens {
		if t.OwnerKind == KindUser && t.OwnerName == name {
			delete(m.digests, t.Digest)
			delete(m.tokens, id)
		}
	}
	for key, r := range m.records {
		if r.UserName == name {
			delete(m.records, key)
		}
	}
	for key, s := range m.shares {
		if s.OwnerName == name || s.WithUser == name {
			delete(m.shares, key)
		}
	}
	for _, g := range m.groups {
		g.Members = removeString(g.Members, name)
	}
	m.fireMutate()
	return nil
}

func (m *MemoryStore) SetUserAdmin(ctx context.Context, name string, admin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[name]
	if !ok {
		return fmt.Errorf("user %s: %w", name, ErrNotFound)
	}
	u.Admin = admin
	m.fireMutate()
	return nil
}

func (m *MemoryStore) TouchUserActivity(ctx context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[name]
	if !ok {
		return fmt.Errorf("user %s: %w", name, ErrNotFound)
	}
	if at.After(u.LastActivity) {
		u.LastActivity = at
	}
	return nil
}

// Groups

func (m *MemoryStore) CreateGroup(ctx context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[group.Name]; ok {
		return fmt.Errorf("group %s: %w", group.Name, ErrConflict)
	}
	m.groups[group.Name] = copyGroup(group)
	m.fireMutate()
	return nil
}

func (m *MemoryStore) GetGroup(ctx context.Context, name string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[name]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	return copyGroup(g), nil
}

func (m *MemoryStore) ListGroups(ctx context.Context) ([]*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, copyGroup(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) DeleteGroup(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[name]; !ok {
		return fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	delete(m.groups, name)
	m.fireMutate()
	return nil
}

func (m *MemoryStore) SetGroupMembers(ctx context.Context, name string, members []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[name]
	if !ok {
		return fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	for _, member := range members {
		if _, ok := m.users[member]; !ok {
			return fmt.Errorf("user %s: %w", member, ErrNotFound)
		}
	}
	g.Members = append([]string(nil), members...)
	m.fireMutate()
	return nil
}

func (m *MemoryStore) SetGroupRoles(ctx context.Context, name string, roles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[name]
	if !ok {
		return fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	if err := m.checkRolesLocked(roles); err != nil {
		return err
	}
	g.Roles = append([]string(nil), roles...)
	m.fireMutate()
	return nil
}

// Roles

func (m *MemoryStore) checkRolesLocked(roles []string) error {
	for _, role := range roles {
		if _, ok := m.roles[role]; !ok {
			return fmt.Errorf("role %s: %w", role, ErrNotFound)
		}
	}
	return nil
}

func (m *MemoryStore) CreateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.Name]; ok {
		return fmt.Errorf("role %s: %w", role.Name, ErrConflict)
	}
	m.roles[role.Name] = copyRole(role)
	m.fireMutate()
	return nil
}

func (m *MemoryStore) GetRole(ctx context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[name]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", name, ErrNotFound)
	}
	return copyRole(r), nil
}

func (m *MemoryStore) ListRoles(ctx context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, copyRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpdateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.roles[role.Name]
	if !ok {
		return fmt.Errorf("role %s: %w", role.Name, ErrNotFound)
	}
	if existing.Managed {
		return fmt.Errorf("role %s is managed: %w", role.Name, ErrConflict)
	}
	m.roles[role.Name] = copyRole(role)
	m.fireMutate()
	return nil
}

func (m *MemoryStore) DeleteRole(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[name]
	if !ok {
		return fmt.Errorf("role %s: %w", name, ErrNotFound)
	}
	if r.Managed {
		return fmt.Errorf("role %s is managed: %w", name, ErrConflict)
	}
	delete(m.roles, name)
	for _, u := range m.users {
		u.Roles = removeString(u.Roles, name)
	}
	for _, g := range m.groups {
		g.Roles = removeString(g.Roles, name)
	}
	for _, s := range m.services {
		s.Roles = removeString(s.Roles, name)
	}
	m.fireMutate()
	return nil
}

func (m *MemoryStore) SetUserRoles(ctx context.Context, user string, roles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[user]
	if !ok {
		return fmt.Errorf("user %s: %w", user, ErrNotFound)
	}
	if err := m.checkRolesLocked(roles); err != nil {
		return err
	}
	u.Roles = append([]string(nil), roles...)
	m.fireMutate()
	return nil
}

func (m *MemoryStore) SetServiceRoles(ctx context.Context, service string, roles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[service]
	if !ok {
		return fmt.Errorf("service %s: %w", service, ErrNotFound)
	}
	if err := m.checkRolesLocked(roles); err != nil {
		return err
	}
	s.Roles = append([]string(nil), roles...)
	m.fireMutate()
	return nil
}

// Services

func (m *MemoryStore) CreateService(ctx context.Context, svc *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[svc.Name]; ok {
		return fmt.Errorf("service %s: %w", svc.Name, ErrConflict)
	}
	m.services[svc.Name] = copyService(svc)
	return nil
}

func (m *MemoryStore) GetService(ctx context.Context, name string) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[name]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", name, ErrNotFound)
	}
	return copyService(s), nil
}

func (m *MemoryStore) ListServices(ctx context.Context) ([]*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Service, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, copyService(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) DeleteService(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[name]; !ok {
		return fmt.Errorf("service %s: %w", name, ErrNotFound)
	}
	delete(m.services, name)
	for id, t := range m.tokens {
		if t.OwnerKind == KindService && t.OwnerName == name {
			delete(m.digests, t.Digest)
			delete(m.tokens, id)
		}
	}
	m.fireMutate()
	return nil
}

// Tokens

func (m *MemoryStore) CreateToken(ctx context.Context, token *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token.ID]; ok {
		return fmt.Errorf("token %s: %w", token.ID, ErrConflict)
	}
	m.tokens[token.ID] = copyToken(token)
	m.digests[token.Digest] = token.ID
	return nil
}

func (m *MemoryStore) GetTokenByDigest(ctx context.Context, digest string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.digests[digest]
	if !ok {
		return nil, fmt.Errorf("token: %w", ErrNotFound)
	}
	return copyToken(m.tokens[id]), nil
}

func (m *MemoryStore) GetToken(ctx context.Context, id string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	return copyToken(t), nil
}

func (m *MemoryStore) ListTokens(ctx context.Context, ownerKind SubjectKind, ownerName string) ([]*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Token
	for _, t := range m.tokens {
		if t.OwnerKind == ownerKind && t.OwnerName == ownerName {
			out = append(out, copyToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	delete(m.digests, t.Digest)
	delete(m.tokens, id)
	return nil
}

func (m *MemoryStore) TouchToken(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	if at.After(t.LastUsed) {
		t.LastUsed = at
	}
	return nil
}

func (m *MemoryStore) PurgeExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, t := range m.tokens {
		if t.Expired(now) {
			delete(m.digests, t.Digest)
			delete(m.tokens, id)
			purged++
		}
	}
	return purged, nil
}

// Server records

func recordKey(user, name string) string { return user + "/" + name }

func (m *MemoryStore) UpsertServerRecord(ctx context.Context, record *ServerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[record.UserName]; !ok {
		return fmt.Errorf("user %s: %w", record.UserName, ErrNotFound)
	}
	m.records[recordKey(record.UserName, record.Name)] = copyRecord(record)
	return nil
}

func (m *MemoryStore) GetServerRecord(ctx context.Context, user, name string) (*ServerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[recordKey(user, name)]
	if !ok {
		return nil, fmt.Errorf("server %s/%s: %w", user, name, ErrNotFound)
	}
	return copyRecord(r), nil
}

func (m *MemoryStore) ListServerRecords(ctx context.Context, user string) ([]*ServerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ServerRecord
	for _, r := range m.records {
		if r.UserName == user {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) ListAllServerRecords(ctx context.Context) ([]*ServerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ServerRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (m *MemoryStore) DeleteServerRecord(ctx context.Context, user, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(user, name)
	if _, ok := m.records[key]; !ok {
		return fmt.Errorf("server %s/%s: %w", user, name, ErrNotFound)
	}
	delete(m.records, key)
	for k, s := range m.shares {
		if s.OwnerName == user && s.ServerName == name {
			delete(m.shares, k)
		}
	}
	// The share cascade changes what grantees may access.
	m.fireMutate()
	return nil
}

// Shares

func shareKey(owner, server, withUser string) string {
	return owner + "/" + server + "/" + withUser
}

func (m *MemoryStore) CreateShare(ctx context.Context, share *Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[share.WithUser]; !ok {
		return fmt.Errorf("user %s: %w", share.WithUser, ErrNotFound)
	}
	key := shareKey(share.OwnerName, share.ServerName, share.WithUser)
	if _, ok := m.shares[key]; ok {
		return fmt.Errorf("share %s: %w", key, ErrConflict)
	}
	m.shares[key] = copyShare(share)
	m.fireMutate()
	return nil
}

func (m *MemoryStore) ListShares(ctx context.Context, owner, server string) ([]*Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Share
	for _, s := range m.shares {
		if s.OwnerName == owner && s.ServerName == server {
			out = append(out, copyShare(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WithUser < out[j].WithUser })
	return out, nil
}

func (m *MemoryStore) ListSharesWithUser(ctx context.Context, user string) ([]*Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Share
	for _, s := range m.shares {
		if s.WithUser == user {
			out = append(out, copyShare(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return shareKey(out[i].OwnerName, out[i].ServerName, out[i].WithUser) <
			shareKey(out[j].OwnerName, out[j].ServerName, out[j].WithUser)
	})
	return out, nil
}

func (m *MemoryStore) DeleteShare(ctx context.Context, owner, server, withUser string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := shareKey(owner, server, withUser)
	if _, ok := m.shares[key]; !ok {
		return fmt.Errorf("share %s: %w", key, ErrNotFound)
	}
	delete(m.shares, key)
	m.fireMutate()
	return nil
}

func (m *MemoryStore) DeleteSharesForServer(ctx context.Context, owner, server string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.shares {
		if s.OwnerName == owner && s.ServerName == server {
			delete(m.shares, k)
		}
	}
	m.fireMutate()
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

func removeString(list []string, victim string) []string {
	out := list[:0]
	for _, v := range list {
		if v != victim {
			out = append(out, v)
		}
	}
	return out
}
