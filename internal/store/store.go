// Package store persists the application document (bookmarks, tags,
// settings, job logs) and, separately, the large binary audio payloads.
// Keeping payloads out of the document avoids size-quota failures on the
// primary blob.
package store

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrQuotaExceeded   = errors.New("store: storage quota exceeded")
	ErrPayloadNotFound = errors.New("store: audio payload not found")
)

// Store is the narrow repository the job pipeline talks to; it never sees
// the serialization format behind it.
type Store interface {
	LoadDocument(ctx context.Context) (Document, error)
	SaveDocument(ctx context.Context, doc Document) error

	SaveAudio(ctx context.Context, payload AudioPayload) error
	LoadAudio(ctx context.Context, jobID string) (AudioPayload, error)
	DeleteAudio(ctx context.Context, jobID string) error

	// Touch performs a cheap read used as a keep-alive heartbeat.
	Touch(ctx context.Context) error

	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise
// in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// IsQuotaError reports whether err looks like a storage quota failure,
// either our sentinel or a backend message mentioning quota.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "quota")
}
