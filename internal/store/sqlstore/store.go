// Package sqlstore persists the client session snapshot in a single-row table
// on PostgreSQL (pgx) or a local SQLite file (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"donorlink.org/internal/auth"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/migrate"
	"donorlink.org/internal/session"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const sessionRowID = 1

type Store struct {
	db *sql.DB
}

var _ session.Persister = (*Store)(nil)

// Driver picks the database/sql driver for dsn: postgres URLs go to pgx,
// everything else is treated as a SQLite path or URI.
func Driver(dsn string) (driver, source string) {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "pgx", dsn
	case strings.HasPrefix(lower, "sqlite://"):
		return "sqlite", dsn[len("sqlite://"):]
	default:
		return "sqlite", dsn
	}
}

// Open connects to dsn. Call Migrate before first use.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}
	driver, source := Driver(dsn)
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// One writer keeps the single-row upsert free of SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Migrations returns a manager over the embedded schema.
func (s *Store) Migrations() *migrate.Manager {
	return migrate.NewManager(s.db, migrationFiles, "migrations")
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Migrations().Up(ctx)
	return err
}

func (s *Store) Load(ctx context.Context) (session.Snapshot, error) {
	var token, role, userJSON string
	err := s.db.QueryRowContext(ctx,
		`select token, role, user_json from client_session where id = $1`, sessionRowID).
		Scan(&token, &role, &userJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Snapshot{}, nil
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	snap := session.Snapshot{Token: token, Role: auth.ParseRole(role)}
	if userJSON != "" && userJSON != "null" {
		var user domain.User
		if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
			return session.Snapshot{}, fmt.Errorf("decode session user: %w", err)
		}
		snap.User = &user
	}
	return snap, nil
}

func (s *Store) Save(ctx context.Context, snap session.Snapshot) error {
	userJSON, err := json.Marshal(snap.User)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into client_session(id, token, role, user_json, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (id) do update
		set token = excluded.token, role = excluded.role,
			user_json = excluded.user_json, updated_at = excluded.updated_at
	`, sessionRowID, snap.Token, string(snap.Role), string(userJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `delete from client_session where id = $1`, sessionRowID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
