package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the document as a single jsonb row and audio payloads
// in a separate bytea table keyed by job id.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS app_document (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audio_payloads (
			job_id TEXT PRIMARY KEY,
			mime_type TEXT NOT NULL,
			bytes BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) LoadDocument(ctx context.Context) (Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM app_document WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("load document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO app_document (id, doc, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAudio(ctx context.Context, payload AudioPayload) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audio_payloads (job_id, mime_type, bytes, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE SET mime_type = EXCLUDED.mime_type, bytes = EXCLUDED.bytes, created_at = EXCLUDED.created_at`,
		payload.JobID, payload.MimeType, payload.Bytes, time.Now().UTC())
	if err != nil {
		if IsQuotaError(err) {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("save audio payload: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadAudio(ctx context.Context, jobID string) (AudioPayload, error) {
	payload := AudioPayload{JobID: jobID}
	err := s.pool.QueryRow(ctx,
		`SELECT mime_type, bytes FROM audio_payloads WHERE job_id = $1`, jobID).
		Scan(&payload.MimeType, &payload.Bytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return AudioPayload{}, ErrPayloadNotFound
	}
	if err != nil {
		return AudioPayload{}, fmt.Errorf("load audio payload: %w", err)
	}
	return payload, nil
}

func (s *PostgresStore) DeleteAudio(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM audio_payloads WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete audio payload: %w", err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
