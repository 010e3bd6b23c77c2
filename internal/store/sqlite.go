package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS execution_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		input_json TEXT NOT NULL,
		personas_json TEXT NOT NULL,
		feedbacks_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_user_created ON execution_history(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS kv (
		device_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (device_id, key)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveHistory inserts a completed wizard run.
func (s *SQLiteStore) SaveHistory(ctx context.Context, item *domain.ExecutionHistoryItem) error {
	input, err := json.Marshal(item.Input)
	if err != nil {
		return fmt.Errorf("encode history input: %w", err)
	}
	personas, err := json.Marshal(nonNil(item.Personas))
	if err != nil {
		return fmt.Errorf("encode history personas: %w", err)
	}
	feedbacks, err := json.Marshal(nonNil(item.Feedbacks))
	if err != nil {
		return fmt.Errorf("encode history feedbacks: %w", err)
	}

	query := `
	INSERT INTO execution_history (id, user_id, input_json, personas_json, feedbacks_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, "save history", func() error {
		_, err := s.db.ExecContext(ctx, query,
			item.ID, item.UserID, string(input), string(personas), string(feedbacks),
			item.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		return nil
	})
}

// ListHistory returns a user's runs, newest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, userID string, limit int) ([]*domain.ExecutionHistoryItem, error) {
	query := `
		SELECT id, user_id, input_json, personas_json, feedbacks_json, created_at
		FROM execution_history WHERE user_id = ?
		ORDER BY created_at DESC, id`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	items := []*domain.ExecutionHistoryItem{}
	for rows.Next() {
		item, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

// GetHistory returns one run owned by userID.
func (s *SQLiteStore) GetHistory(ctx context.Context, userID, id string) (*domain.ExecutionHistoryItem, error) {
	query := `
		SELECT id, user_id, input_json, personas_json, feedbacks_json, created_at
		FROM execution_history WHERE id = ? AND user_id = ?`

	item, err := scanHistory(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHistory(row rowScanner) (*domain.ExecutionHistoryItem, error) {
	var item domain.ExecutionHistoryItem
	var input, personas, feedbacks string
	var createdAt int64

	if err := row.Scan(&item.ID, &item.UserID, &input, &personas, &feedbacks, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan history row: %w", err)
	}

	if err := json.Unmarshal([]byte(input), &item.Input); err != nil {
		return nil, fmt.Errorf("decode history input %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(personas), &item.Personas); err != nil {
		return nil, fmt.Errorf("decode history personas %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(feedbacks), &item.Feedbacks); err != nil {
		return nil, fmt.Errorf("decode history feedbacks %s: %w", item.ID, err)
	}
	item.CreatedAt = time.UnixMilli(createdAt)
	return &item, nil
}

// GetEntry returns a device's entry.
func (s *SQLiteStore) GetEntry(ctx context.Context, deviceID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE device_id = ? AND key = ?`, deviceID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get entry %s: %w", key, err)
	}
	return value, nil
}

// PutEntry creates or replaces a device's entry.
func (s *SQLiteStore) PutEntry(ctx context.Context, deviceID, key, value string) error {
	query := `
	INSERT INTO kv (device_id, key, value, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(device_id, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, "put entry", func() error {
		if _, err := s.db.ExecContext(ctx, query, deviceID, key, value, time.Now().Unix()); err != nil {
			return fmt.Errorf("put entry %s: %w", key, err)
		}
		return nil
	})
}

// DeleteEntry removes a device's entry.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, deviceID, key string) error {
	return shared.RetryOnConflict(ctx, "delete entry", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE device_id = ? AND key = ?`, deviceID, key); err != nil {
			return fmt.Errorf("delete entry %s: %w", key, err)
		}
		return nil
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
