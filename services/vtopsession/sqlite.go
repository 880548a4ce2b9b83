package vtopsession

import (
	"context"
	"database/sql"
	"encoding/json"
	"vtopassist-backend/lib/scrapers/vtop"
	"vtopassist-backend/lib/timezone"
	"vtopassist-backend/services/vtopsession/db"
)

// SqliteStore persists sessions in a sqlite table, serialized as
// JSON. Suitable for single-node deployments where sessions should
// survive a process restart.
type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(ctx context.Context, database *sql.DB) (*SqliteStore, error) {
	if _, err := database.ExecContext(ctx, db.Schema); err != nil {
		return nil, err
	}
	return &SqliteStore{db: database}, nil
}

func (s *SqliteStore) Get(ctx context.Context, key string) (*vtop.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM vtop_sessions WHERE key = ?`, key,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var session vtop.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SqliteStore) Set(ctx context.Context, key string, session *vtop.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vtop_sessions (key, data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, created_at = excluded.created_at`,
		key, string(data), timezone.Now().Unix(),
	)
	return err
}

func (s *SqliteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vtop_sessions WHERE key = ?`, key,
	)
	return err
}
