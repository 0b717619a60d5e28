package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/triage/internal/consultation"
)

// Store is the Postgres consultation repository.
type Store struct {
	pool *pgxpool.Pool
}

var _ consultation.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the consultations table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS consultations (
			id          UUID PRIMARY KEY,
			provider    TEXT NOT NULL,
			status      TEXT NOT NULL,
			messages    JSONB NOT NULL DEFAULT '[]',
			symptoms    JSONB NOT NULL DEFAULT '{}',
			stages      JSONB NOT NULL DEFAULT '[]',
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_consultations_status ON consultations (status, updated_at);`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save upserts a consultation.
func (s *Store) Save(ctx context.Context, c *consultation.Consultation) error {
	doc, err := encode(c)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO consultations (id, provider, status, messages, symptoms, stages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			messages = EXCLUDED.messages,
			symptoms = EXCLUDED.symptoms,
			stages = EXCLUDED.stages,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.Provider, string(c.Status), string(doc.messages), string(doc.symptoms), string(doc.stages), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert consultation: %w", err)
	}
	return nil
}

// Get fetches a consultation by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, provider, status, messages, symptoms, stages, created_at, updated_at
		FROM consultations WHERE id = $1`, id)

	var (
		c      consultation.Consultation
		status string
		doc    document
	)
	err := row.Scan(&c.ID, &c.Provider, &status, &doc.messages, &doc.symptoms, &doc.stages, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, consultation.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	c.Status = consultation.Status(status)

	if err := doc.decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
