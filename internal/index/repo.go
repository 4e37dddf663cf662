package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DocumentRow represents a row in the documents table.
type DocumentRow struct {
	ID       string
	Path     string
	Checksum string
	OpenedAt time.Time
}

// ConversionRow represents one performed conversion.
type ConversionRow struct {
	ID         int64
	DocumentID string
	Direction  string
	Label      string
	Input      string
	Output     string
	CreatedAt  time.Time
}

// UpsertDocument registers a document under its path and returns the id the
// ledger holds for that path. A path seen before keeps its original id so
// its conversion history stays attached.
func (db *DB) UpsertDocument(d DocumentRow) (string, error) {
	if d.OpenedAt.IsZero() {
		d.OpenedAt = time.Now().UTC()
	}
	var id string
	err := db.conn.QueryRow(`
		INSERT INTO documents (id, path, checksum, opened_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum  = excluded.checksum,
			opened_at = excluded.opened_at
		RETURNING id
	`, d.ID, d.Path, d.Checksum, d.OpenedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("index: upsert document: %w", err)
	}
	return id, nil
}

// DeleteDocument removes a document and its conversion history.
func (db *DB) DeleteDocument(id string) error {
	if _, err := db.conn.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete document: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum for a path, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM documents WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// SetChecksum stores the checksum last written or read for path. Unknown
// paths are ignored.
func (db *DB) SetChecksum(path, checksum string) error {
	if _, err := db.conn.Exec(`UPDATE documents SET checksum = ? WHERE path = ?`, checksum, path); err != nil {
		return fmt.Errorf("index: set checksum: %w", err)
	}
	return nil
}

// RecordConversion appends one conversion to the audit log.
func (db *DB) RecordConversion(c ConversionRow) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT INTO conversions (document_id, direction, label, input, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.DocumentID, c.Direction, c.Label, c.Input, c.Output, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("index: record conversion: %w", err)
	}
	return nil
}

// ListConversions returns the newest conversions for a document first.
// A limit of zero or less returns all of them.
func (db *DB) ListConversions(documentID string, limit int) ([]ConversionRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.Query(`
		SELECT id, document_id, direction, label, input, output, created_at
		FROM conversions
		WHERE document_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("index: list conversions: %w", err)
	}
	defer rows.Close()

	var out []ConversionRow
	for rows.Next() {
		var c ConversionRow
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Direction, &c.Label, &c.Input, &c.Output, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountByDirection returns the number of recorded conversions per direction.
func (db *DB) CountByDirection() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT direction, count(*) FROM conversions GROUP BY direction`)
	if err != nil {
		return nil, fmt.Errorf("index: count by direction: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			dir string
			n   int
		)
		if err := rows.Scan(&dir, &n); err != nil {
			return nil, err
		}
		out[dir] = n
	}
	return out, rows.Err()
}
