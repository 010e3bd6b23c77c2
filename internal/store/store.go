// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/persona-lab/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting execution history and
// per-device key-value entries.
type Repository interface {
	// SaveHistory inserts a completed wizard run.
	SaveHistory(ctx context.Context, item *domain.ExecutionHistoryItem) error

	// ListHistory returns a user's runs, newest first. limit <= 0 means no limit.
	ListHistory(ctx context.Context, userID string, limit int) ([]*domain.ExecutionHistoryItem, error)

	// GetHistory returns one run owned by userID, or ErrNotFound.
	GetHistory(ctx context.Context, userID, id string) (*domain.ExecutionHistoryItem, error)

	// GetEntry returns a device's entry, or ErrNotFound.
	GetEntry(ctx context.Context, deviceID, key string) (string, error)

	// PutEntry creates or replaces a device's entry.
	PutEntry(ctx context.Context, deviceID, key, value string) error

	// DeleteEntry removes a device's entry. Missing entries are not an error.
	DeleteEntry(ctx context.Context, deviceID, key string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
