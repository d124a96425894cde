// Package migrate applies SQL schema migrations and seed files. Files come
// from any fs.FS, so the binary can carry them via embed or read them from
// disk in development.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const (
	migrationsTable = "schema_migrations"
	seedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	sqlSuffix  = ".sql"
)

// Manager tracks applied migrations and seeds in bookkeeping tables and
// applies pending files in lexical order.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
}

// NewManager constructs a Manager. seeds may be nil when the deployment has
// no seed data.
func NewManager(db *sql.DB, migrations, seeds fs.FS) *Manager {
	return &Manager{db: db, migrations: migrations, seeds: seeds}
}

// Up applies every pending .up.sql migration, each in its own transaction.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, migrationsTable)
	if err != nil {
		return err
	}
	names, err := collect(m.migrations, upSuffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		if err := m.apply(ctx, m.migrations, name); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if err := m.record(ctx, migrationsTable, name); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration using its .down.sql
// counterpart.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	history, err := m.history(ctx, migrationsTable)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("migrate: nothing to roll back")
	}
	last := history[len(history)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	if _, err := fs.Stat(m.migrations, down); err != nil {
		return fmt.Errorf("migrate: missing down file for %s", last)
	}
	if err := m.apply(ctx, m.migrations, down); err != nil {
		return fmt.Errorf("roll back %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx, `delete from `+migrationsTable+` where name = $1`, last)
	return err
}

// Seed applies pending seed files. Seeds run once each, like migrations, so
// re-running a deployment never duplicates rows.
func (m *Manager) Seed(ctx context.Context) error {
	if m.seeds == nil {
		return nil
	}
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, seedsTable)
	if err != nil {
		return err
	}
	names, err := collect(m.seeds, sqlSuffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		if err := m.apply(ctx, m.seeds, name); err != nil {
			return fmt.Errorf("apply seed %s: %w", name, err)
		}
		if err := m.record(ctx, seedsTable, name); err != nil {
			return err
		}
	}
	return nil
}

// Status returns applied migrations in application order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx, migrationsTable)
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{migrationsTable, seedsTable} {
		ddl := `create table if not exists ` + table + ` (
			name text primary key,
			applied_at timestamptz not null default now()
		)`
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) apply(ctx context.Context, fsys fs.FS, name string) error {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) record(ctx context.Context, table, name string) error {
	_, err := m.db.ExecContext(ctx, `insert into `+table+`(name, applied_at) values ($1, $2)`,
		name, time.Now().UTC())
	return err
}

func (m *Manager) applied(ctx context.Context, table string) (map[string]bool, error) {
	names, err := m.queryNames(ctx, `select name from `+table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = true
	}
	return out, nil
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	return m.queryNames(ctx, `select name from `+table+` order by applied_at asc, name asc`)
}

func (m *Manager) queryNames(ctx context.Context, query string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func collect(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	var names []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if suffix == sqlSuffix && strings.HasSuffix(path, downSuffix) {
			return nil
		}
		if strings.HasSuffix(path, suffix) {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits on semicolons outside single-quoted strings. Good
// enough for the DDL this project ships; no procedures with dollar quoting.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
