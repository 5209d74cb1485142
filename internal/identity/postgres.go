package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore is the production Store on PostgreSQL via pgx.
type PostgresStore struct {
	db       *sql.DB
	onMutate func()
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres opens a connection pool and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return s, nil
}

// SetMutationHook registers the callback fired on every mutation of
// roles, groups, role assignments or shares. The hook runs synchronously
// before the mutation returns; it must not call back into the store.
func (s *PostgresStore) SetMutationHook(hook func()) {
	s.onMutate = hook
}

func (s *PostgresStore) fireMutate() {
	// Synchronous: no authorization decision after a mutation may be
	// served from a cache filled before it.
	if s.onMutate != nil {
		s.onMutate()
	}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

const schema = `
create table if not exists users (
	name          text primary key,
	admin         boolean not null default false,
	roles         jsonb   not null default '[]',
	created       timestamptz not null,
	last_activity timestamptz not null
);
create table if not exists groups (
	name    text primary key,
	members jsonb not null default '[]',
	roles   jsonb not null default '[]'
);
create table if not exists roles (
	name        text primary key,
	description text not null default '',
	scopes      jsonb not null default '[]',
	managed     boolean not null default false
);
create table if not exists services (
	name  text primary key,
	roles jsonb not null default '[]',
	admin boolean not null default false
);
create table if not exists tokens (
	id         text primary key,
	digest     text not null unique,
	owner_kind text not null,
	owner_name text not null,
	scopes     jsonb not null default '[]',
	note       text not null default '',
	created    timestamptz not null,
	expires    timestamptz,
	last_used  timestamptz not null
);
create index if not exists tokens_owner_idx on tokens (owner_kind, owner_name);
create table if not exists server_records (
	user_name     text not null references users(name) on delete cascade,
	name          text not null,
	state         text not null,
	pending       text not null default '',
	url           text not null default '',
	handle        bytea,
	options       jsonb not null default '{}',
	started       timestamptz,
	last_activity timestamptz,
	error         text not null default '',
	primary key (user_name, name)
);
create table if not exists shares (
	owner_name  text not null,
	server_name text not null,
	with_user   text not null references users(name) on delete cascade,
	scopes      jsonb not null default '[]',
	created     timestamptz not null,
	primary key (owner_name, server_name, with_user)
);
`

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func jsonEncode(v any) ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

func jsonDecode[T any](raw []byte, out *T) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// isUniqueViolation matches PostgreSQL's duplicate-key error without taking
// a dependency on the driver's error type in every call site.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23503")
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	roles, err := jsonEncode(user.Roles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into users (name, admin, roles, created, last_activity) values ($1, $2, $3, $4, $5)`,
		user.Name, user.Admin, roles, user.Created, user.LastActivity)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", user.Name, ErrConflict)
	}
	return err
}

func (s *PostgresStore) scanUser(ctx context.Context, row *sql.Row) (*User, error) {
	var (
		u        User
		rolesRaw []byte
	)
	if err := row.Scan(&u.Name, &u.Admin, &rolesRaw, &u.Created, &u.LastActivity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := jsonDecode(rolesRaw, &u.Roles); err != nil {
		return nil, err
	}
	groups, err := s.userGroups(ctx, u.Name)
	if err != nil {
		return nil, err
	}
	u.Groups = groups
	return &u, nil
}

func (s *PostgresStore) userGroups(ctx context.Context, name string) ([]string, error) {
	member, err := json.Marshal([]string{name})
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select name from groups where members @> $1 order by name`, member)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, name string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select name, admin, roles, created, last_activity from users where name = $1`, name)
	u, err := s.scanUser(ctx, row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", name, ErrNotFound)
	}
	return u, err
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select name, admin, roles, created, last_activity from users order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		var (
			u        User
			rolesRaw []byte
		)
		if err := rows.Scan(&u.Name, &u.Admin, &rolesRaw, &u.Created, &u.LastActivity); err != nil {
			return nil, err
		}
		if err := jsonDecode(rolesRaw, &u.Roles); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, u := range out {
		groups, err := s.userGroups(ctx, u.Name)
		if err != nil {
			return nil, err
		}
		u.Groups = groups
	}
	return out, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, name string) error {
	var active int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from server_records where user_name = $1 and state not in ($2, $3)`,
		name, string(StateStopped), string(StateFailed)).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("user %s has a running server: %w", name, ErrInUse)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from users where name = $1`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", name, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from tokens where owner_kind = $1 and owner_name = $2`, string(KindUser), name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from shares where owner_name = $1`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update groups set members = members - $1::text`, name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.fireMutate()
	return nil
}

func (s *PostgresStore) SetUserAdmin(ctx context.Context, name string, admin bool) error {
	res, err := s.db.ExecContext(ctx, `update users set admin = $2 where name = $1`, name, admin)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", name, ErrNotFound)
	}
	s.fireMutate()
	return nil
}

func (s *PostgresStore) TouchUserActivity(ctx context.Context, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set last_activity = greatest(last_activity, $2) where name = $1`, name, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", name, ErrNotFound)
	}
	return nil
}

// Groups

func (s *PostgresStore) CreateGroup(ctx context.Context, group *Group) error {
	members, err := jsonEncode(group.Members)
	if err != nil {
		return err
	}
	roles, err := jsonEncode(group.Roles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into groups (name, members, roles) values ($1, $2, $3)`,
		group.Name, members, roles)
	if isUniqueViolation(err) {
		return fmt.Errorf("group %s: %w", group.Name, ErrConflict)
	}
	if err == nil {
		s.fireMutate()
	}
	return err
}

func (s *PostgresStore) GetGroup(ctx context.Context, name string) (*Group, error) {
	var (
		g          Group
		membersRaw []byte
		rolesRaw   []byte
	)
	err := s.db.QueryRowContext(ctx,
		`select name, members, roles from groups where name = $1`, name).
		Scan(&g.Name, &membersRaw, &rolesRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := jsonDecode(membersRaw, &g.Members); err != nil {
		return nil, err
	}
	if err := jsonDecode(rolesRaw, &g.Roles); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, `select name, members, roles from groups order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Group
	for rows.Next() {
		var (
			g          Group
			membersRaw []byte
			rolesRaw   []byte
		)
		if err := rows.Scan(&g.Name, &membersRaw, &rolesRaw); err != nil {
			return nil, err
		}
		if err := jsonDecode(membersRaw, &g.Members); err != nil {
			return nil, err
		}
		if err := jsonDecode(rolesRaw, &g.Roles); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `delete from groups where name = $1`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	s.fireMutate()
	return nil
}

func (s *PostgresStore) SetGroupMembers(ctx context.Context, name string, members []string) error {
	for _, member := range members {
		if _, err := s.GetUser(ctx, member); err != nil {
			return err
		}
	}
	raw, err := jsonEncode(members)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `update groups set members = $2 where name = $1`, name, raw)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	s.fireMutate()
	return nil
}

func (s *PostgresStore) SetGroupRoles(ctx context.Context, name string, roles []string) error {
	if err := s.checkRoles(ctx, roles); err != nil {
		return err
	}
	raw, err := jsonEncode(roles)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `update groups set roles = $2 where name = $1`, name, raw)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	s.fireMutate()
	return nil
}

// Roles

func (s *PostgresStore) checkRoles(ctx context.Context, roles []string) error {
	for _, role := range roles {
		if _, err := s.GetRole(ctx, role); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateRole(ctx context.Context, role *Role) error {
	scopes, err := jsonEncode(role.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into roles (name, description, scopes, managed) values ($1, $2, $3, $4)`,
		role.Name, role.Description, scopes, role.Managed)
	if isUniqueViolation(err) {
		return fmt.Errorf("role %s: %w", role.Name, ErrConflict)
	}
	if err == nil {
		s.fireMutate()
	}
	return err
}

func (s *PostgresStore) GetRole(ctx context.Context, name string) (*Role, error) {
	var (
		r         Role
		scopesRaw []byte
	)
	err := s.db.QueryRowContext(ctx,
		`select name, description, scopes, managed from roles where name = $1`, name).
		Scan(&r.Name, &r.Description, &scopesRaw, &r.Managed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := jsonDecode(scopesRaw, &r.Scopes); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select name, description, scopes, managed from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Role
	for rows.Next() {
		var (
			r         Role
			scopesRaw []byte
		)
		if err := rows.Scan(&r.Name, &r.Description, &scopesRaw, &r.Managed); err != nil {
			return nil, err
		}
		if err := jsonDecode(scopesRaw, &r.Scopes); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateRole(ctx context.Context, role *Role) error {
	existing, err := s.GetRole(ctx, role.Name)
	if err != nil {
		return err
	}
	if existing.Managed {
		return fmt.Errorf("role %s is managed: %w", role.Name, ErrConflict)
	}
	scopes, err := jsonEncode(role.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`update roles set description = $2, scopes = $3 where name = $1`,
		role.Name, role.Description, scopes)
	if err == nil {
		s.fireMutate()
	}
	return err
}

func (s *PostgresStore) DeleteRole(ctx context.Context, name string) error {
	existing, err := s.GetRole(ctx, name)
	if err != nil {
		return err
	}
	if existing.Managed {
		return fmt.Errorf("role %s is managed: %w", name, ErrConflict)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `delete from roles where name = $1`, name); err != nil {
		return err
	}
	roleJSON, err := json.Marshal(name)
	if err != nil {
		return err
	}
	for _, table := range []string{"users", "groups", "services"} {
		if _, err := tx.ExecContext(ctx,
			// Remove the role name from the jsonb array.
			fmt.Sprintf(`update %s set roles = roles - $1::text where roles @> $2`, table),
			name, roleJSON); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.fireMutate()
	return nil
}

func (s *PostgresStore) setRoles(ctx context.Context, table, name string, roles []string) error {
	if err := s.checkRoles(ctx, roles); err != nil {
		return err
	}
	raw, err := jsonEncode(roles)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`update %s set roles = $2 where name = $1`, table), name, raw)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), name, ErrNotFound)
	}
	s.fireMutate()
	return nil
}

func (s *PostgresStore) SetUserRoles(ctx context.Context, user string, roles []string) error {
	return s.setRoles(ctx, "users", user, roles)
}

func (s *PostgresStore) SetServiceRoles(ctx context.Context, service string, roles []string) error {
	return s.setRoles(ctx, "services", service, roles)
}

// Services

func (s *PostgresStore) CreateService(ctx context.Context, svc *Service) error {
	roles, err := jsonEncode(svc.Roles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into services (name, roles, admin) values ($1, $2, $3)`,
		svc.Name, roles, svc.Admin)
	if isUniqueViolation(err) {
		return fmt.Errorf("service %s: %w", svc.Name, ErrConflict)
	}
	return err
}

func (s *PostgresStore) GetService(ctx context.Context, name string) (*Service, error) {
	var (
		svc      Service
		rolesRaw []byte
	)
	err := s.db.QueryRowContext(ctx,
		`select name, roles, admin from services where name = $1`, name).
		Scan(&svc.Name, &rolesRaw, &svc.Admin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("service %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := jsonDecode(rolesRaw, &svc.Roles); err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *PostgresStore) ListServices(ctx context.Context) ([]*Service, error) {
	rows, err := s.db.QueryContext(ctx, `select name, roles, admin from services order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Service
	for rows.Next() {
		var (
			svc      Service
			rolesRaw []byte
		)
		if err := rows.Scan(&svc.Name, &rolesRaw, &svc.Admin); err != nil {
			return nil, err
		}
		if err := jsonDecode(rolesRaw, &svc.Roles); err != nil {
			return nil, err
		}
		out = append(out, &svc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteService(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `delete from services where name = $1`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service %s: %w", name, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from tokens where owner_kind = $1 and owner_name = $2`, string(KindService), name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.fireMutate()
	return nil
}

// Tokens

func (s *PostgresStore) CreateToken(ctx context.Context, token *Token) error {
	scopes, err := jsonEncode(token.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into tokens (id, digest, owner_kind, owner_name, scopes, note, created, expires, last_used)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		token.ID, token.Digest, string(token.OwnerKind), token.OwnerName,
		scopes, token.Note, token.Created, token.Expires, token.LastUsed)
	if isUniqueViolation(err) {
		return fmt.Errorf("token %s: %w", token.ID, ErrConflict)
	}
	return err
}

func (s *PostgresStore) scanToken(row *sql.Row) (*Token, error) {
	var (
		t         Token
		kind      string
		scopesRaw []byte
	)
	err := row.Scan(&t.ID, &t.Digest, &kind, &t.OwnerName, &scopesRaw, &t.Note, &t.Created, &t.Expires, &t.LastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.OwnerKind = SubjectKind(kind)
	if err := jsonDecode(scopesRaw, &t.Scopes); err != nil {
		return nil, err
	}
	return &t, nil
}

const tokenColumns = `id, digest, owner_kind, owner_name, scopes, note, created, expires, last_used`

func (s *PostgresStore) GetTokenByDigest(ctx context.Context, digest string) (*Token, error) {
	t, err := s.scanToken(s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from tokens where digest = $1`, digest))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("token: %w", ErrNotFound)
	}
	return t, err
}

func (s *PostgresStore) GetToken(ctx context.Context, id string) (*Token, error) {
	t, err := s.scanToken(s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from tokens where id = $1`, id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	return t, err
}

func (s *PostgresStore) ListTokens(ctx context.Context, ownerKind SubjectKind, ownerName string) ([]*Token, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+tokenColumns+` from tokens where owner_kind = $1 and owner_name = $2 order by id`,
		string(ownerKind), ownerName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Token
	for rows.Next() {
		var (
			t         Token
			kind      string
			scopesRaw []byte
		)
		if err := rows.Scan(&t.ID, &t.Digest, &kind, &t.OwnerName, &scopesRaw, &t.Note, &t.Created, &t.Expires, &t.LastUsed); err != nil {
			return nil, err
		}
		t.OwnerKind = SubjectKind(kind)
		if err := jsonDecode(scopesRaw, &t.Scopes); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from tokens where id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) TouchToken(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update tokens set last_used = greatest(last_used, $2) where id = $1`, id, at)
	return err
}

func (s *PostgresStore) PurgeExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from tokens where expires is not null and expires < $1`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Server records

func (s *PostgresStore) UpsertServerRecord(ctx context.Context, record *ServerRecord) error {
	options, err := json.Marshal(record.Options)
	if err != nil {
		return err
	}
	if record.Options == nil {
		options = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx,
		`insert into server_records (user_name, name, state, pending, url, handle, options, started, last_activity, error)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 on conflict (user_name, name) do update set
		   state = excluded.state, pending = excluded.pending, url = excluded.url,
		   handle = excluded.handle, options = excluded.options, started = excluded.started,
		   last_activity = excluded.last_activity, error = excluded.error`,
		record.UserName, record.Name, string(record.State), record.Pending, record.URL,
		record.Handle, options, nullTime(record.Started), nullTime(record.LastActivity), record.Error)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("user %s: %w", record.UserName, ErrNotFound)
	}
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *PostgresStore) scanRecord(scan func(...any) error) (*ServerRecord, error) {
	var (
		r          ServerRecord
		state      string
		optionsRaw []byte
		started    *time.Time
		activity   *time.Time
	)
	if err := scan(&r.UserName, &r.Name, &state, &r.Pending, &r.URL, &r.Handle, &optionsRaw, &started, &activity, &r.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.State = ServerState(state)
	if err := jsonDecode(optionsRaw, &r.Options); err != nil {
		return nil, err
	}
	if started != nil {
		r.Started = *started
	}
	if activity != nil {
		r.LastActivity = *activity
	}
	return &r, nil
}

const recordColumns = `user_name, name, state, pending, url, handle, options, started, last_activity, error`

func (s *PostgresStore) GetServerRecord(ctx context.Context, user, name string) (*ServerRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+recordColumns+` from server_records where user_name = $1 and name = $2`, user, name)
	r, err := s.scanRecord(row.Scan)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("server %s/%s: %w", user, name, ErrNotFound)
	}
	return r, err
}

func (s *PostgresStore) listRecords(ctx context.Context, query string, args ...any) ([]*ServerRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ServerRecord
	for rows.Next() {
		r, err := s.scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListServerRecords(ctx context.Context, user string) ([]*ServerRecord, error) {
	return s.listRecords(ctx,
		`select `+recordColumns+` from server_records where user_name = $1 order by name`, user)
}

func (s *PostgresStore) ListAllServerRecords(ctx context.Context) ([]*ServerRecord, error) {
	return s.listRecords(ctx,
		`select `+recordColumns+` from server_records order by user_name, name`)
}

func (s *PostgresStore) DeleteServerRecord(ctx context.Context, user, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx,
		`delete from server_records where user_name = $1 and name = $2`, user, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("server %s/%s: %w", user, name, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from shares where owner_name = $1 and server_name = $2`, user, name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	// The share cascade changes what grantees may access.
	s.fireMutate()
	return nil
}

// Shares

func (s *PostgresStore) CreateShare(ctx context.Context, share *Share) error {
	scopes, err := jsonEncode(share.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into shares (owner_name, server_name, with_user, scopes, created) values ($1, $2, $3, $4, $5)`,
		share.OwnerName, share.ServerName, share.WithUser, scopes, share.Created)
	if isUniqueViolation(err) {
		return fmt.Errorf("share %s/%s/%s: %w", share.OwnerName, share.ServerName, share.WithUser, ErrConflict)
	}
	if isForeignKeyViolation(err) {
		return fmt.Errorf("user %s: %w", share.WithUser, ErrNotFound)
	}
	if err == nil {
		s.fireMutate()
	}
	return err
}

func (s *PostgresStore) listShares(ctx context.Context, query string, args ...any) ([]*Share, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Share
	for rows.Next() {
		var (
			sh        Share
			scopesRaw []byte
		)
		if err := rows.Scan(&sh.OwnerName, &sh.ServerName, &sh.WithUser, &scopesRaw, &sh.Created); err != nil {
			return nil, err
		}
		if err := jsonDecode(scopesRaw, &sh.Scopes); err != nil {
			return nil, err
		}
		out = append(out, &sh)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListShares(ctx context.Context, owner, server string) ([]*Share, error) {
	return s.listShares(ctx,
		`select owner_name, server_name, with_user, scopes, created from shares
		 where owner_name = $1 and server_name = $2 order by with_user`, owner, server)
}

func (s *PostgresStore) ListSharesWithUser(ctx context.Context, user string) ([]*Share, error) {
	return s.listShares(ctx,
		`select owner_name, server_name, with_user, scopes, created from shares
		 where with_user = $1 order by owner_name, server_name`, user)
}

func (s *PostgresStore) DeleteShare(ctx context.Context, owner, server, withUser string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from shares where owner_name = $1 and server_name = $2 and with_user = $3`,
		owner, server, withUser)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("share %s/%s/%s: %w", owner, server, withUser, ErrNotFound)
	}
	s.fireMutate()
	return nil
}

func (s *PostgresStore) DeleteSharesForServer(ctx context.Context, owner, server string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from shares where owner_name = $1 and server_name = $2`, owner, server)
	if err == nil {
		s.fireMutate()
	}
	return err
}
