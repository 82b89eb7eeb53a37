package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/models"
)

// PostgresConfig holds the connection pool settings.
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// PostgresStorage implements Storage on PostgreSQL with the pgvector extension.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStorage opens a connection pool, verifies it, and applies pending migrations.
func NewPostgresStorage(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresStorage, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStorage{db: db, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// CreateIdentity inserts an identity. A key that is already enrolled yields ErrAlreadyExists.
func (s *PostgresStorage) CreateIdentity(ctx context.Context, id *models.Identity) error {
	if len(id.Embedding) == 0 {
		return fmt.Errorf("identity %s has no embedding", id.UserID)
	}
	metadata, err := marshalMetadata(id.Metadata)
	if err != nil {
		return err
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (user_id, embedding, dim, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id.UserID, pgvector.NewVector(id.Embedding), len(id.Embedding), metadata, id.CreatedAt,
	)
	if isPostgresUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id.UserID)
	}
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// GetIdentity returns an identity by key.
func (s *PostgresStorage) GetIdentity(ctx context.Context, userID string) (*models.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, embedding, metadata, created_at FROM identities WHERE user_id = $1`, userID,
	)
	id, err := scanPostgresIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return id, nil
}

// ExistsIdentity reports whether userID is enrolled.
func (s *PostgresStorage) ExistsIdentity(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM identities WHERE user_id = $1)", userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check identity exists: %w", err)
	}
	return exists, nil
}

// DeleteIdentity removes an identity by key.
func (s *PostgresStorage) DeleteIdentity(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM identities WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return nil
}

// ScanIdentities streams identities in insertion order.
func (s *PostgresStorage) ScanIdentities(ctx context.Context) iter.Seq2[*models.Identity, error] {
	return func(yield func(*models.Identity, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT user_id, embedding, metadata, created_at FROM identities ORDER BY id",
		)
		if err != nil {
			yield(nil, fmt.Errorf("query identities: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			id, err := scanPostgresIdentity(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(id, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate identities: %w", err))
		}
	}
}

// CountIdentities returns the total number of enrolled identities.
func (s *PostgresStorage) CountIdentities(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// Ping checks the database connection.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

func scanPostgresIdentity(scanner interface{ Scan(...any) error }) (*models.Identity, error) {
	var id models.Identity
	var vec pgvector.Vector
	var metadata []byte
	if err := scanner.Scan(&id.UserID, &vec, &metadata, &id.CreatedAt); err != nil {
		return nil, err
	}
	id.Embedding = vec.Slice()
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &id.Metadata); err != nil {
			id.Metadata = nil
		}
	}
	return &id, nil
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
