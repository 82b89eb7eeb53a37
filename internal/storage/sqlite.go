package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/facegate/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		user_id TEXT PRIMARY KEY,
		embedding BLOB,
		dimensions INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_identities_created_at ON identities(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateIdentity inserts an identity. A key that is already enrolled yields ErrAlreadyExists.
func (s *SQLiteStorage) CreateIdentity(ctx context.Context, id *models.Identity) error {
	metadata, err := marshalMetadata(id.Metadata)
	if err != nil {
		return err
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (user_id, embedding, dimensions, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id.UserID, float32SliceToBytes(id.Embedding), len(id.Embedding), metadata, id.CreatedAt,
	)
	if isSQLiteUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id.UserID)
	}
	return err
}

// GetIdentity returns an identity by key.
func (s *SQLiteStorage) GetIdentity(ctx context.Context, userID string) (*models.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, embedding, metadata, created_at FROM identities WHERE user_id = ?`, userID,
	)
	id, err := scanSQLiteIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

// ExistsIdentity reports whether userID is enrolled.
func (s *SQLiteStorage) ExistsIdentity(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM identities WHERE user_id = ?)`, userID,
	).Scan(&exists)
	return exists, err
}

// DeleteIdentity removes an identity by key.
func (s *SQLiteStorage) DeleteIdentity(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return nil
}

// ScanIdentities streams identities in insertion order.
func (s *SQLiteStorage) ScanIdentities(ctx context.Context) iter.Seq2[*models.Identity, error] {
	return func(yield func(*models.Identity, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT user_id, embedding, metadata, created_at FROM identities ORDER BY rowid`,
		)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			id, err := scanSQLiteIdentity(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(id, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// CountIdentities returns the total number of enrolled identities.
func (s *SQLiteStorage) CountIdentities(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count)
	return count, err
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func scanSQLiteIdentity(scanner interface{ Scan(...any) error }) (*models.Identity, error) {
	var id models.Identity
	var blob []byte
	var metadata sql.NullString
	if err := scanner.Scan(&id.UserID, &blob, &metadata, &id.CreatedAt); err != nil {
		return nil, err
	}
	id.Embedding = bytesToFloat32Slice(blob)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &id.Metadata); err != nil {
			// A corrupt metadata column does not make the vector unusable.
			id.Metadata = nil
		}
	}
	return &id, nil
}

func marshalMetadata(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
