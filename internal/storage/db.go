package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps SQLite database operations
type DB struct {
	db *sql.DB
}

// Open opens or creates a SQLite database
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the indexer read while the API writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	storage := &DB{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return storage, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates tables if they don't exist
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS annotations (
		id TEXT PRIMARY KEY,
		userid TEXT NOT NULL,
		target_uri TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		shared BOOLEAN NOT NULL DEFAULT 0,
		refs TEXT NOT NULL DEFAULT '[]',
		thread_root_id TEXT NOT NULL DEFAULT '',
		created TIMESTAMP NOT NULL,
		updated TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_userid ON annotations(userid);
	CREATE INDEX IF NOT EXISTS idx_thread_root ON annotations(thread_root_id);
	CREATE INDEX IF NOT EXISTS idx_updated ON annotations(updated);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := d.db.Exec(schema)
	return err
}

const annotationColumns = `
	a.id, a.userid, a.target_uri, a.text, a.tags, a.shared, a.refs, a.created, a.updated,
	(SELECT COUNT(*) FROM annotations r WHERE r.thread_root_id = a.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (*Annotation, error) {
	a := &Annotation{}
	var tags, refs string
	err := row.Scan(
		&a.ID, &a.UserID, &a.URI, &a.Text, &tags, &a.Shared, &refs, &a.Created, &a.Updated,
		&a.ReplyCount,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(refs), &a.References); err != nil {
		return nil, fmt.Errorf("decode references of %s: %w", a.ID, err)
	}
	return a, nil
}

// Upsert inserts or updates an annotation
func (d *DB) Upsert(ctx context.Context, a *Annotation) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	refs := a.References
	if refs == nil {
		refs = []string{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}

	query := `
	INSERT INTO annotations (
		id, userid, target_uri, text, tags, shared, refs, thread_root_id, created, updated
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		userid = excluded.userid,
		target_uri = excluded.target_uri,
		text = excluded.text,
		tags = excluded.tags,
		shared = excluded.shared,
		refs = excluded.refs,
		thread_root_id = excluded.thread_root_id,
		updated = excluded.updated
	`

	_, err = d.db.ExecContext(ctx, query,
		a.ID, a.UserID, a.URI, a.Text, string(tagsJSON), a.Shared, string(refsJSON),
		a.ThreadRootID(), a.Created, a.Updated,
	)
	return err
}

// FetchAnnotation retrieves an annotation by ID. It returns nil, nil when
// the annotation does not exist.
func (d *DB) FetchAnnotation(ctx context.Context, id string) (*Annotation, error) {
	query := `SELECT ` + annotationColumns + ` FROM annotations a WHERE a.id = ?`

	a, err := scanAnnotation(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return a, nil
}

// FetchAnnotations retrieves the annotations with the given IDs. Missing
// IDs are silently left out of the result.
func (d *DB) FetchAnnotations(ctx context.Context, ids []string) ([]*Annotation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `SELECT ` + annotationColumns + ` FROM annotations a WHERE a.id IN (` + placeholders + `)`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var annotations []*Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, a)
	}

	return annotations, rows.Err()
}

// AnnotationIDsByUser returns the IDs of every annotation owned by userid
func (d *DB) AnnotationIDsByUser(ctx context.Context, userid string) ([]string, error) {
	return d.queryIDs(ctx, "SELECT id FROM annotations WHERE userid = ? ORDER BY updated DESC", userid)
}

// AllAnnotationIDs returns the IDs of every annotation in the store
func (d *DB) AllAnnotationIDs(ctx context.Context) ([]string, error) {
	return d.queryIDs(ctx, "SELECT id FROM annotations ORDER BY updated DESC")
}

func (d *DB) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Delete removes an annotation. Deleting a missing annotation is not an error.
func (d *DB) Delete(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM annotations WHERE id = ?", id)
	return err
}

// Count returns the total number of annotations
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM annotations").Scan(&count)
	return count, err
}
