package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/triage/internal/consultation"
)

// SQLiteStore is the embedded consultation repository used when no Postgres
// URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

var _ consultation.Repository = (*SQLiteStore)(nil)

func NewSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS consultations (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		status TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		symptoms_json TEXT NOT NULL,
		stages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_consultations_status ON consultations(status, updated_at);
	`)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, c *consultation.Consultation) error {
	doc, err := encode(c)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consultations (id, provider, status, messages_json, symptoms_json, stages_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			messages_json = excluded.messages_json,
			symptoms_json = excluded.symptoms_json,
			stages_json = excluded.stages_json,
			updated_at = excluded.updated_at`,
		c.ID.String(), c.Provider, string(c.Status),
		string(doc.messages), string(doc.symptoms), string(doc.stages),
		c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert consultation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, status, messages_json, symptoms_json, stages_json, created_at, updated_at
		FROM consultations WHERE id = ?`, id.String())

	var (
		c                    consultation.Consultation
		rawID, status        string
		messages, sym, stage string
		created, updated     int64
	)
	err := row.Scan(&rawID, &c.Provider, &status, &messages, &sym, &stage, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, consultation.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}

	if c.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	c.Status = consultation.Status(status)
	c.CreatedAt = time.Unix(0, created).UTC()
	c.UpdatedAt = time.Unix(0, updated).UTC()

	doc := document{messages: []byte(messages), symptoms: []byte(sym), stages: []byte(stage)}
	if err := doc.decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
