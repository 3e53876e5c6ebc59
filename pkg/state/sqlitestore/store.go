// Package sqlitestore persists annotated documents in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/goliatone/go-annotate/pkg/state"
)

// SchemaVersion is stored in PRAGMA user_version.
const SchemaVersion = 1

// Store implements state.Store on top of a single documents table.
type Store struct {
	Conn *sql.DB
}

var _ state.Store = (*Store)(nil)

// Open opens (or creates) the database at path and makes sure the schema
// exists. ":memory:" yields a private in-memory database.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: failed to open database: %w", err)
	}
	// every pooled connection to ":memory:" would be a different database
	conn.SetMaxOpenConns(1)

	store := &Store{Conn: conn}
	if err := store.setup(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: failed to set up database: %w", err)
	}
	return store, nil
}

func (s *Store) setup() error {
	return s.executeTransaction(context.Background(), func(tx *sql.Tx) error {
		createDocumentsTable := `
		CREATE TABLE IF NOT EXISTS documents (
			ref TEXT PRIMARY KEY,
			raw TEXT NOT NULL,
			snapshot_id TEXT NOT NULL DEFAULT '',
			etag TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL DEFAULT 0,
			extra TEXT NOT NULL DEFAULT ''
		);
		`
		if _, err := tx.Exec(createDocumentsTable); err != nil {
			return fmt.Errorf("failed to create documents table: %w", err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
		return nil
	})
}

// Version reports the schema version recorded in the database.
func (s *Store) Version(ctx context.Context) (int, error) {
	var version int
	if err := s.Conn.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("sqlitestore: failed to read schema version: %w", err)
	}
	return version, nil
}

// Load implements state.Store.
func (s *Store) Load(ctx context.Context, ref state.Ref) (string, state.Meta, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return "", state.Meta{}, false, err
	}

	query := `SELECT raw, snapshot_id, etag, updated_at, extra FROM documents WHERE ref = ?`
	var (
		raw, snapshotID, etag, extra string
		updatedAt                    int64
	)
	err = s.Conn.QueryRowContext(ctx, query, key).Scan(&raw, &snapshotID, &etag, &updatedAt, &extra)
	if errors.Is(err, sql.ErrNoRows) {
		return "", state.Meta{}, false, nil
	}
	if err != nil {
		return "", state.Meta{}, false, fmt.Errorf("sqlitestore: failed to load %s: %w", key, err)
	}

	meta := state.Meta{SnapshotID: snapshotID, ETag: etag}
	if updatedAt != 0 {
		meta.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	}
	if extra != "" {
		if err := json.Unmarshal([]byte(extra), &meta.Extra); err != nil {
			return "", state.Meta{}, false, fmt.Errorf("sqlitestore: failed to decode metadata of %s: %w", key, err)
		}
	}
	return raw, meta, true, nil
}

// Save implements state.Store. The row is replaced whole, inside the same
// transaction that checks want against the stored etag.
func (s *Store) Save(ctx context.Context, ref state.Ref, raw string, meta state.Meta, want state.Precondition) (state.Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return state.Meta{}, err
	}

	extra := ""
	if len(meta.Extra) > 0 {
		encoded, err := json.Marshal(meta.Extra)
		if err != nil {
			return state.Meta{}, fmt.Errorf("sqlitestore: failed to encode metadata of %s: %w", key, err)
		}
		extra = string(encoded)
	}
	var updatedAt int64
	if !meta.UpdatedAt.IsZero() {
		updatedAt = meta.UpdatedAt.UnixMilli()
	}

	err = s.executeTransaction(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT etag FROM documents WHERE ref = ?`, key).Scan(&current)
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err := want.Check(current, exists); err != nil {
			return err
		}

		if !exists {
			_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (ref, raw, snapshot_id, etag, updated_at, extra)
			VALUES (?, ?, ?, ?, ?, ?)`, key, raw, meta.SnapshotID, meta.ETag, updatedAt, extra)
			return err
		}
		result, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET raw = ?, snapshot_id = ?, etag = ?, updated_at = ?, extra = ?
		WHERE ref = ? AND etag = ?`, raw, meta.SnapshotID, meta.ETag, updatedAt, extra, key, current)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return fmt.Errorf("%w: %s changed during save", state.ErrETagMismatch, key)
		}
		return nil
	})
	if err != nil {
		return state.Meta{}, fmt.Errorf("sqlitestore: failed to save %s: %w", key, err)
	}
	if updatedAt != 0 {
		meta.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	}
	return meta, nil
}

// Delete implements state.Store. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, ref state.Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}
	if _, err := s.Conn.ExecContext(ctx, `DELETE FROM documents WHERE ref = ?`, key); err != nil {
		return fmt.Errorf("sqlitestore: failed to delete %s: %w", key, err)
	}
	return nil
}

// List returns the stored document keys in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.Conn.QueryContext(ctx, `SELECT ref FROM documents ORDER BY ref`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: failed to execute query: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("sqlitestore: failed to scan result: %w", err)
		}
		results = append(results, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: error encountered while iterating over rows: %w", err)
	}
	return results, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.Conn.Close()
}

func (s *Store) executeTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
