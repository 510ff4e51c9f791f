// Package sqlite persists indicator variants. It is the engine's external
// variant repository: the source of truth the in-memory index mirrors.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"indicator-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a single-writer SQLite repository for indicator variants.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer connection pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened variant database at %s", dbPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS indicator_variants (
			id          TEXT    PRIMARY KEY,
			name        TEXT    NOT NULL,
			base_type   TEXT    NOT NULL,
			category    TEXT    NOT NULL,
			description TEXT    NOT NULL DEFAULT '',
			parameters  TEXT    NOT NULL,
			created_by  TEXT    NOT NULL DEFAULT '',
			is_system   INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			deleted     INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_variants_base_type
			ON indicator_variants (base_type) WHERE deleted = 0;
	`)
	return err
}

// LoadAllVariants returns every non-deleted variant, oldest first.
func (s *Store) LoadAllVariants(ctx context.Context) ([]model.IndicatorVariant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, base_type, category, description, parameters,
		       created_by, is_system, created_at
		FROM indicator_variants
		WHERE deleted = 0
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query variants: %w", err)
	}
	defer rows.Close()

	var out []model.IndicatorVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CreateVariant persists a new variant and returns its assigned ID.
func (s *Store) CreateVariant(ctx context.Context, v model.IndicatorVariant) (string, error) {
	if v.ID == "" {
		v.ID = newVariantID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(v.Parameters)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO indicator_variants
			(id, name, base_type, category, description, parameters, created_by, is_system, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Name, v.BaseType, v.Category, v.Description, string(params),
		v.CreatedBy, boolToInt(v.IsSystem), v.CreatedAt.Unix())
	if err != nil {
		return "", fmt.Errorf("sqlite insert variant: %w", err)
	}
	return v.ID, nil
}

// GetVariant returns a variant by ID, or nil, nil when absent or deleted.
func (s *Store) GetVariant(ctx context.Context, id string) (*model.IndicatorVariant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, base_type, category, description, parameters,
		       created_by, is_system, created_at
		FROM indicator_variants
		WHERE id = ? AND deleted = 0
	`, id)

	v, err := scanVariant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// UpdateVariant replaces the stored parameters of a variant. Returns
// false when the variant does not exist or is deleted.
func (s *Store) UpdateVariant(ctx context.Context, id string, params map[string]any) (bool, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return false, fmt.Errorf("marshal parameters: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE indicator_variants SET parameters = ?
		WHERE id = ? AND deleted = 0
	`, string(data), id)
	if err != nil {
		return false, fmt.Errorf("sqlite update variant: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteVariant soft-deletes a variant so historical references keep
// resolving in audit queries.
func (s *Store) DeleteVariant(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE indicator_variants SET deleted = 1
		WHERE id = ? AND deleted = 0
	`, id)
	if err != nil {
		return false, fmt.Errorf("sqlite delete variant: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVariant(r rowScanner) (model.IndicatorVariant, error) {
	var v model.IndicatorVariant
	var params string
	var isSystem int
	var createdAt int64
	err := r.Scan(&v.ID, &v.Name, &v.BaseType, &v.Category, &v.Description,
		&params, &v.CreatedBy, &isSystem, &createdAt)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(params), &v.Parameters); err != nil {
		return v, fmt.Errorf("unmarshal parameters for %s: %w", v.ID, err)
	}
	v.IsSystem = isSystem != 0
	v.CreatedAt = time.Unix(createdAt, 0).UTC()
	return v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func newVariantID() string {
	var b [8]byte
	rand.Read(b[:])
	return "var_" + hex.EncodeToString(b[:])
}
