// Package sqlite is an embedded Repository backend. Grounded on the
// teacher's internal/storage/sqlite store: same modernc.org/sqlite driver,
// same WAL-pragma-on-open discipline, same "log, don't fail" treatment of
// pragma errors. The schema is simplified from the teacher's wide
// main_history table to a generic (collection, datetime, fields) document
// table, since the control plane's collections are single-row snapshots and
// small append logs rather than a high-volume sensor-history table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pv/poolcontrold/internal/repository"
)

// Pragmas mirrors the teacher's applyPragmas knobs (cache size, WAL mode,
// synchronous off, temp store in memory).
type Pragmas struct {
	CacheMB    int
	WAL        bool
	SyncOff    bool
	TempMemory bool
}

// Config configures the Store.
type Config struct {
	Source  string
	Pragmas Pragmas
}

// Store is a SQLite-backed Repository.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	datetime   TEXT NOT NULL,
	fields     TEXT NOT NULL,
	PRIMARY KEY (collection, datetime)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection_datetime
	ON documents(collection, datetime DESC);
`

// New opens (creating if necessary) the sqlite database at cfg.Source and
// applies the configured pragmas.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms

	applyPragmas(db, cfg.Pragmas)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB, p Pragmas) {
	stmts := []string{}
	if p.WAL {
		stmts = append(stmts, "PRAGMA journal_mode=WAL")
	}
	if p.SyncOff {
		stmts = append(stmts, "PRAGMA synchronous=OFF")
	}
	if p.TempMemory {
		stmts = append(stmts, "PRAGMA temp_store=MEMORY")
	}
	if p.CacheMB > 0 {
		stmts = append(stmts, fmt.Sprintf("PRAGMA cache_size=-%d", p.CacheMB*1024))
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			log.Printf("sqlite: pragma failed (%s): %v", stmt, err)
		}
	}
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) FindLatest(ctx context.Context, collection string) (repository.Row, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT datetime, fields FROM documents WHERE collection = ? ORDER BY datetime DESC LIMIT 1`,
		collection)

	var ts string
	var fieldsJSON string
	if err := row.Scan(&ts, &fieldsJSON); err != nil {
		if err == sql.ErrNoRows {
			return repository.Row{}, false, nil
		}
		return repository.Row{}, false, fmt.Errorf("sqlite: find latest %s: %w", collection, err)
	}

	r, err := decodeRow(collection, ts, fieldsJSON)
	return r, true, err
}

func (s *Store) UpsertSingle(ctx context.Context, collection string, row repository.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s: begin: %w", collection, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("sqlite: upsert %s: delete: %w", collection, err)
	}
	if err := insertTx(ctx, tx, collection, row); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: upsert %s: commit: %w", collection, err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, collection string, row repository.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: insert %s: begin: %w", collection, err)
	}
	defer tx.Rollback()

	if err := insertTx(ctx, tx, collection, row); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTx(ctx context.Context, tx *sql.Tx, collection string, row repository.Row) error {
	fieldsJSON, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("sqlite: encode fields for %s: %w", collection, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents(collection, datetime, fields) VALUES (?, ?, ?)
		 ON CONFLICT(collection, datetime) DO UPDATE SET fields = excluded.fields`,
		collection, row.Datetime.Format(time.RFC3339Nano), string(fieldsJSON))
	if err != nil {
		return fmt.Errorf("sqlite: insert into %s: %w", collection, err)
	}
	return nil
}

func decodeRow(collection, ts, fieldsJSON string) (repository.Row, error) {
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return repository.Row{}, fmt.Errorf("sqlite: parse datetime %q: %w", ts, err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return repository.Row{}, fmt.Errorf("sqlite: decode fields: %w", err)
	}
	return repository.Row{Collection: collection, Datetime: parsed, Fields: fields}, nil
}

// IsSource reports whether src looks like a sqlite DSN, matching the
// teacher's storage-selection sniff in cmd/timemachine.
func IsSource(src string) bool {
	return strings.HasPrefix(src, "sqlite://") ||
		strings.HasPrefix(src, "file:") ||
		src == ":memory:" ||
		strings.HasSuffix(src, ".db")
}

// NormalizeSource strips a sqlite:// scheme prefix, leaving a plain path or
// database/sql DSN.
func NormalizeSource(src string) string {
	return strings.TrimPrefix(src, "sqlite://")
}
