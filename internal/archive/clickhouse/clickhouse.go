// Package clickhouse is an optional archival Sink. Grounded on the
// teacher's internal/storage/clickhouse reader: same clickhouse-go/v2
// native-protocol connection and DSN normalization/sniffing; it does not
// check the server timezone. The read-side hash-mode detection
// (name/name_hid/uniset_hid) has no counterpart here — archiving always
// writes the CityHash64 hash alongside the human-readable name, so a
// consumer can pick either column later. This also lets the archival sink
// drop the teacher's MurmurHash2 dependency (see DESIGN.md).
package clickhouse

import (
	"context"
	"fmt"
	"strings"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/pv/poolcontrold/internal/archive"
)

// Config configures the Sink.
type Config struct {
	DSN   string
	Table string
}

// Sink is a ClickHouse-backed archive.Sink.
type Sink struct {
	conn  ch.Conn
	table string
}

const defaultTable = "default.sensor_history"

// New connects to ClickHouse and ensures the archival table exists.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("clickhouse: DSN is empty")
	}

	opts, err := ch.ParseDSN(normalizeDSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("clickhouse: parse DSN: %w", err)
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = defaultTable
	}

	createTable := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	sensor_hash Int64,
	name        String,
	timestamp   DateTime64(3),
	value       Float64
) ENGINE = MergeTree() ORDER BY (sensor_hash, timestamp)`, table)
	if err := conn.Exec(ctx, createTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse: create table: %w", err)
	}

	return &Sink{conn: conn, table: table}, nil
}

func (s *Sink) Write(ctx context.Context, p archive.Point) error {
	err := s.conn.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (sensor_hash, name, timestamp, value) VALUES (?, ?, ?, ?)", s.table),
		p.SensorHash, p.Name, p.Timestamp, p.Value)
	if err != nil {
		return fmt.Errorf("clickhouse: insert: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// IsSource matches the teacher's native-protocol DSN sniff.
func IsSource(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "clickhouse://") || strings.HasPrefix(lower, "ch://")
}

func normalizeDSN(dsn string) string {
	if strings.HasPrefix(strings.ToLower(dsn), "ch://") {
		return "clickhouse://" + dsn[len("ch://"):]
	}
	return dsn
}
