package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kagami/internal/models"
)

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
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

	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		folder TEXT NOT NULL DEFAULT 'general',
		customer TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		checksum TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at);
	CREATE INDEX IF NOT EXISTS idx_images_folder ON images(folder);
	`
	_, err := db.Exec(schema)
	return err
}

// Put inserts an image row, replacing any row with the same id.
func (s *SQLiteCatalog) Put(ctx context.Context, img *models.Image) error {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	if img.Folder == "" {
		img.Folder = models.DefaultFolder
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (id, folder, customer, content_type, size, checksum, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   folder = excluded.folder,
		   customer = excluded.customer,
		   content_type = excluded.content_type,
		   size = excluded.size,
		   checksum = excluded.checksum,
		   created_at = excluded.created_at`,
		img.ID, img.Folder, img.Customer, img.ContentType, img.Size, img.Checksum, img.CreatedAt,
	)
	return err
}

// Get returns an image row by id.
func (s *SQLiteCatalog) Get(ctx context.Context, id string) (*models.Image, error) {
	var img models.Image
	err := s.db.QueryRowContext(ctx,
		`SELECT id, folder, customer, content_type, size, checksum, created_at
		 FROM images WHERE id = ?`, id,
	).Scan(&img.ID, &img.Folder, &img.Customer, &img.ContentType, &img.Size, &img.Checksum, &img.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Delete removes an image row. Deleting a missing id is not an error.
func (s *SQLiteCatalog) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	return err
}

// List returns image rows, newest first.
func (s *SQLiteCatalog) List(ctx context.Context, offset, limit int) ([]*models.Image, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, folder, customer, content_type, size, checksum, created_at
		 FROM images ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.Folder, &img.Customer, &img.ContentType, &img.Size, &img.Checksum, &img.CreatedAt); err != nil {
			return nil, err
		}
		images = append(images, &img)
	}
	return images, rows.Err()
}

// Count returns the number of catalogued images.
func (s *SQLiteCatalog) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count)
	return count, err
}

// DeleteAll removes every row.
func (s *SQLiteCatalog) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM images`)
	return err
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}
