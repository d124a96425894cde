package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore is the postgres-backed Store.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// OpenPostgres opens a pooled connection with the pgx stdlib driver.
func OpenPostgres(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing pool, used when several stores share one.
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) Users() UserStore                 { return &pgUsers{db: s.db} }
func (s *PGStore) Roles() RoleStore                 { return &pgRoles{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &pgRefresh{db: s.db} }

type pgUsers struct {
	db *sql.DB
}

func (s *pgUsers) Create(ctx context.Context, u *User, roleIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users(id, username, email, password_hash, enabled, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Enabled, u.CreatedAt, u.UpdatedAt); err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles(user_id, role_id) values ($1,$2)
		`, u.ID, roleID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, enabled, created_at, updated_at
		from users where id=$1
	`, id))
}

func (s *pgUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, enabled, created_at, updated_at
		from users where lower(username)=lower($1)
	`, username))
}

func (s *pgUsers) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, username, email, password_hash, enabled, created_at, updated_at
		from users order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Enabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *pgUsers) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from users where lower(username)=lower($1))
	`, username).Scan(&exists)
	return exists, err
}

func (s *pgUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from users where lower(email)=lower($1))
	`, email).Scan(&exists)
	return exists, err
}

func (s *pgUsers) Update(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set username=$2, email=$3, password_hash=$4, enabled=$5, updated_at=$6
		where id=$1
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Enabled, u.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgUsers) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from refresh_tokens where user_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from user_agent_access where user_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id=$1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *pgUsers) SetRoles(ctx context.Context, userID string, roleIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id=$1`, userID); err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles(user_id, role_id) values ($1,$2)
		`, userID, roleID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *pgUsers) RolesFor(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id=$1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Enabled, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type pgRoles struct {
	db *sql.DB
}

func (s *pgRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	var r Role
	err := s.db.QueryRowContext(ctx, `
		select id, name from roles where name=$1
	`, name).Scan(&r.ID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *pgRoles) List(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type pgRefresh struct {
	db *sql.DB
}

func (s *pgRefresh) Upsert(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens(token, user_id, expiry_date, created_at)
		values ($1,$2,$3,$4)
		on conflict (user_id) do update
		set token = excluded.token,
		    expiry_date = excluded.expiry_date,
		    created_at = excluded.created_at
	`, tok.Token, tok.UserID, tok.ExpiryDate, tok.CreatedAt)
	return err
}

func (s *pgRefresh) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	var tok RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select token, user_id, expiry_date, created_at
		from refresh_tokens where token=$1
	`, token).Scan(&tok.Token, &tok.UserID, &tok.ExpiryDate, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *pgRefresh) DeleteByToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where token=$1`, token)
	return err
}

func (s *pgRefresh) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id=$1`, userID)
	return err
}
