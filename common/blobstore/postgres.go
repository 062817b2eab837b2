package blobstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/koicert/registry/common/db"
	"github.com/koicert/registry/common/sentinel"
)

//go:embed schema.sql
var schema string

// PostgresStore keeps objects in the asset_blob table
type PostgresStore struct {
	db      *db.DB
	bucket  string
	baseURL string
}

// NewPostgresStore creates a Postgres-backed store
func NewPostgresStore(database *db.DB, bucket, baseURL string) *PostgresStore {
	return &PostgresStore{
		db:      database,
		bucket:  bucket,
		baseURL: baseURL,
	}
}

// EnsureSchema creates the asset_blob table if missing
func EnsureSchema(ctx context.Context, database *db.DB) error {
	if _, err := database.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create asset_blob schema: %w", err)
	}
	return nil
}

// Upload stores data at path
func (s *PostgresStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if err := validPath(path); err != nil {
		return err
	}

	query := `
		INSERT INTO asset_blob (bucket, path, content_type, size_bytes, digest, content)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bucket, path) DO NOTHING
	`

	tag, err := s.db.Exec(ctx, query,
		s.bucket,
		path,
		contentType,
		len(data),
		Digest(data),
		data,
	)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrObjectExists, path)
	}
	return nil
}

// PublicURL returns the stable URL for path
func (s *PostgresStore) PublicURL(path string) string {
	return publicURL(s.baseURL, s.bucket, path)
}

// Remove deletes every path in one statement, reporting each missing one
func (s *PostgresStore) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}

	query := `
		DELETE FROM asset_blob
		WHERE bucket = $1 AND path = ANY($2)
		RETURNING path
	`

	rows, err := s.db.Query(ctx, query, s.bucket, paths)
	if err != nil {
		return fmt.Errorf("failed to remove assets: %w", err)
	}

	removed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to remove assets: %w", err)
	}

	gone := make(map[string]bool, len(removed))
	for _, p := range removed {
		gone[p] = true
	}

	var errs []error
	for _, p := range paths {
		if !gone[p] {
			errs = append(errs, fmt.Errorf("%w: %s", sentinel.ErrAssetNotFound, p))
		}
	}
	return errors.Join(errs...)
}

// Open loads the object at path
func (s *PostgresStore) Open(ctx context.Context, path string) (*Object, error) {
	query := `
		SELECT content_type, size_bytes, digest, content, created_at
		FROM asset_blob
		WHERE bucket = $1 AND path = $2
	`

	obj := &Object{Bucket: s.bucket, Path: path}
	err := s.db.QueryRow(ctx, query, s.bucket, path).Scan(
		&obj.ContentType,
		&obj.SizeBytes,
		&obj.Digest,
		&obj.Content,
		&obj.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", sentinel.ErrAssetNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return obj, nil
}
