package agent

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore is the postgres-backed catalog store. It shares the pool opened by
// the auth store.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an existing pool.
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Create(ctx context.Context, a *Agent) error {
	_, err := s.db.ExecContext(ctx, `
		insert into agents(id, title, description, image_data, mime_type, link_url, port, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ID, a.Title, a.Description, a.ImageData, a.MimeType, a.LinkURL, a.Port, a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *PGStore) Find(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	err := s.db.QueryRowContext(ctx, `
		select id, title, description, image_data, mime_type, link_url, port, created_at, updated_at
		from agents where id=$1
	`, id).Scan(&a.ID, &a.Title, &a.Description, &a.ImageData, &a.MimeType, &a.LinkURL, &a.Port, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) List(ctx context.Context, page Page) (*Listing, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from agents`).Scan(&total); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, title, description, image_data, mime_type, link_url, port, created_at, updated_at
		from agents
		order by created_at, id
		limit case when $1 > 0 then $1 else null end offset $2
	`, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	agents, err := scanAgents(rows)
	if err != nil {
		return nil, err
	}
	return &Listing{Agents: agents, Total: total}, nil
}

func (s *PGStore) ListGrantedTo(ctx context.Context, userID string, page Page) (*Listing, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `
		select count(*) from user_agent_access where user_id=$1
	`, userID).Scan(&total); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select a.id, a.title, a.description, a.image_data, a.mime_type, a.link_url, a.port, a.created_at, a.updated_at
		from agents a
		join user_agent_access ua on ua.agent_id = a.id
		where ua.user_id=$1
		order by a.created_at, a.id
		limit case when $2 > 0 then $2 else null end offset $3
	`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	agents, err := scanAgents(rows)
	if err != nil {
		return nil, err
	}
	return &Listing{Agents: agents, Total: total}, nil
}

func (s *PGStore) Update(ctx context.Context, a *Agent) error {
	res, err := s.db.ExecContext(ctx, `
		update agents
		set title=$2, description=$3, image_data=$4, mime_type=$5, link_url=$6, port=$7, updated_at=$8
		where id=$1
	`, a.ID, a.Title, a.Description, a.ImageData, a.MimeType, a.LinkURL, a.Port, a.UpdatedAt)
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

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_agent_access where agent_id=$1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from agents where id=$1`, id)
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

func (s *PGStore) AssignUser(ctx context.Context, agentID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_agent_access(user_id, agent_id)
		values ($1,$2)
		on conflict (user_id, agent_id) do nothing
	`, userID, agentID)
	return err
}

func (s *PGStore) RevokeUser(ctx context.Context, agentID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_agent_access where user_id=$1 and agent_id=$2
	`, userID, agentID)
	return err
}

func (s *PGStore) SetUserAgents(ctx context.Context, userID string, agentIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_agent_access where user_id=$1`, userID); err != nil {
		return err
	}
	for _, agentID := range agentIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_agent_access(user_id, agent_id) values ($1,$2)
		`, userID, agentID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGStore) HasGrant(ctx context.Context, agentID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from user_agent_access where user_id=$1 and agent_id=$2)
	`, userID, agentID).Scan(&exists)
	return exists, err
}

func (s *PGStore) GrantedAgentIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select agent_id from user_agent_access where user_id=$1 order by agent_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PGStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from user_agent_access where user_id=$1`, userID)
	return err
}

func scanAgents(rows *sql.Rows) ([]*Agent, error) {
	var out []*Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.ImageData, &a.MimeType, &a.LinkURL, &a.Port, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
