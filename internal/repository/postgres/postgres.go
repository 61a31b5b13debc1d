// Package postgres is the primary production Repository backend. Grounded
// on the teacher's internal/storage/postgres store: same jackc/pgx/v5 pool,
// same UTC-timezone sanity check on connect, same "log, don't fail on
// connect-time checks" posture. The wide date/time/usec main_history schema
// is replaced by a generic JSONB document table since the control plane
// persists single-row snapshots and small event logs, not a high-volume
// time-series table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pv/poolcontrold/internal/repository"
)

// Config configures the Store.
type Config struct {
	ConnString string
	MaxConns   int32
}

// Store is a PostgreSQL-backed Repository.
type Store struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	datetime   TIMESTAMPTZ NOT NULL,
	fields     JSONB NOT NULL,
	PRIMARY KEY (collection, datetime)
);
`

// New connects to PostgreSQL and ensures the document schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	ensureUTCTimezone(ctx, pool)

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func ensureUTCTimezone(ctx context.Context, pool *pgxpool.Pool) {
	var tz string
	if err := pool.QueryRow(ctx, "SHOW timezone").Scan(&tz); err != nil {
		log.Printf("postgres: failed to check timezone: %v", err)
		return
	}
	if tz == "UTC" || tz == "Etc/UTC" {
		log.Printf("postgres: timezone is %s (OK)", tz)
		return
	}
	log.Printf("postgres: WARNING: database timezone is %q, expected UTC; timestamps are stored tz-aware regardless", tz)
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) FindLatest(ctx context.Context, collection string) (repository.Row, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT datetime, fields FROM documents WHERE collection = $1 ORDER BY datetime DESC LIMIT 1`,
		collection)

	var ts time.Time
	var fieldsJSON []byte
	if err := row.Scan(&ts, &fieldsJSON); err != nil {
		if err == pgx.ErrNoRows {
			return repository.Row{}, false, nil
		}
		return repository.Row{}, false, fmt.Errorf("postgres: find latest %s: %w", collection, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return repository.Row{}, false, fmt.Errorf("postgres: decode fields: %w", err)
	}
	return repository.Row{Collection: collection, Datetime: ts, Fields: fields}, true, nil
}

func (s *Store) UpsertSingle(ctx context.Context, collection string, row repository.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: upsert %s: begin: %w", collection, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("postgres: upsert %s: delete: %w", collection, err)
	}
	if err := insertTx(ctx, tx, collection, row); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: upsert %s: commit: %w", collection, err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, collection string, row repository.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: insert %s: begin: %w", collection, err)
	}
	defer tx.Rollback(ctx)

	if err := insertTx(ctx, tx, collection, row); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertTx(ctx context.Context, tx pgx.Tx, collection string, row repository.Row) error {
	fieldsJSON, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("postgres: encode fields for %s: %w", collection, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO documents(collection, datetime, fields) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, datetime) DO UPDATE SET fields = excluded.fields`,
		collection, row.Datetime, fieldsJSON)
	if err != nil {
		return fmt.Errorf("postgres: insert into %s: %w", collection, err)
	}
	return nil
}

// IsPostgresURL matches the teacher's DSN sniff in cmd/timemachine.
func IsPostgresURL(db string) bool {
	return strings.HasPrefix(db, "postgres://") || strings.HasPrefix(db, "postgresql://")
}
