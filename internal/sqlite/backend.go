// Package sqlite implements the project location registry. projects.jsonl
// in DataDir is the source of truth; SQLite is rebuilt from it on Attach
// and serves the queries.
package sqlite

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/zargo/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

const dbName = "zargo.db"

// timeFormat is fixed width so that stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Backend is a types.LocationRegistry stored in SQLite and JSONL.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	dataDir  string
	db       *sql.DB
}

var _ types.ProjectHistory = (*Backend)(nil)

// NewBackend creates a detached backend. Call Attach before use.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach validates config, creates DataDir if needed, builds a fresh
// SQLite database and loads projects.jsonl into it. It returns
// types.ErrAlreadyAttached when called twice.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// The database is a cache of the JSONL file; start from scratch.
	dbPath := filepath.Join(dataDir, dbName)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}
	b.db = db
	b.dataDir = dataDir

	if err := b.loadJSONL(); err != nil {
		db.Close()
		b.db = nil
		return fmt.Errorf("load JSONL: %w", err)
	}
	b.attached = true
	return nil
}

// Detach closes the database. It is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// SetProjectURI inserts or updates the record for rec.URI. The record ID
// of an existing URI is kept; a new URI gets a UUID v7.
func (b *Backend) SetProjectURI(rec types.ProjectRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrRegistryDetached
	}
	if rec.URI == "" {
		return errors.New("project record has no URI")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	var existing string
	err := b.db.QueryRow(`SELECT record_id FROM projects WHERE uri = ?`, rec.URI).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec.RecordID = generateUUID()
	case err != nil:
		return fmt.Errorf("looking up %s: %w", rec.URI, err)
	default:
		rec.RecordID = existing
	}

	_, err = b.db.Exec(`INSERT INTO projects (record_id, uri, persistence_version, release, layout, operation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			persistence_version = excluded.persistence_version,
			release = excluded.release,
			layout = excluded.layout,
			operation = excluded.operation,
			updated_at = excluded.updated_at`,
		rec.RecordID, rec.URI, rec.PersistenceVersion, rec.Release, rec.Layout, rec.Operation,
		rec.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("recording %s: %w", rec.URI, err)
	}
	return b.persistJSONL()
}

// Recent returns up to limit records, most recently updated first. A
// limit of zero or less returns every record.
func (b *Backend) Recent(limit int) ([]types.ProjectRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrRegistryDetached
	}
	if limit <= 0 {
		limit = -1
	}
	return b.query(`SELECT record_id, uri, persistence_version, release, layout, operation, updated_at
		FROM projects ORDER BY updated_at DESC, uri LIMIT ?`, limit)
}

// Lookup returns the record for uri, if any.
func (b *Backend) Lookup(uri string) (types.ProjectRecord, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ProjectRecord{}, false, types.ErrRegistryDetached
	}
	recs, err := b.query(`SELECT record_id, uri, persistence_version, release, layout, operation, updated_at
		FROM projects WHERE uri = ?`, uri)
	if err != nil || len(recs) == 0 {
		return types.ProjectRecord{}, false, err
	}
	return recs[0], true, nil
}

func (b *Backend) query(q string, args ...any) ([]types.ProjectRecord, error) {
	rows, err := b.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ProjectRecord
	for rows.Next() {
		var rec types.ProjectRecord
		var updated string
		if err := rows.Scan(&rec.RecordID, &rec.URI, &rec.PersistenceVersion, &rec.Release, &rec.Layout, &rec.Operation, &updated); err != nil {
			return nil, err
		}
		rec.UpdatedAt, _ = time.Parse(timeFormat, updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// loadJSONL copies projects.jsonl into SQLite. Lines that do not decode
// or carry no URI are skipped.
func (b *Backend) loadJSONL() error {
	records, err := readJSONL(filepath.Join(b.dataDir, projectsJSONL))
	if err != nil {
		return err
	}
	for _, raw := range records {
		var p projectJSON
		if err := json.Unmarshal(raw, &p); err != nil || p.URI == "" {
			continue
		}
		if p.RecordID == "" {
			p.RecordID = generateUUID()
		}
		_, err := b.db.Exec(`INSERT OR REPLACE INTO projects (record_id, uri, persistence_version, release, layout, operation, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.RecordID, p.URI, p.PersistenceVersion, p.Release, p.Layout, p.Operation, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("loading %s: %w", p.URI, err)
		}
	}
	return nil
}

// persistJSONL rewrites projects.jsonl from SQLite. The caller holds b.mu.
func (b *Backend) persistJSONL() error {
	recs, err := b.query(`SELECT record_id, uri, persistence_version, release, layout, operation, updated_at
		FROM projects ORDER BY uri`)
	if err != nil {
		return err
	}
	lines := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		line, err := json.Marshal(projectJSON{
			RecordID:           r.RecordID,
			URI:                r.URI,
			PersistenceVersion: r.PersistenceVersion,
			Release:            r.Release,
			Layout:             r.Layout,
			Operation:          r.Operation,
			UpdatedAt:          r.UpdatedAt.UTC().Format(timeFormat),
		})
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}
	return writeJSONL(filepath.Join(b.dataDir, projectsJSONL), lines)
}

// generateUUID generates a new UUID v7 for record IDs.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
