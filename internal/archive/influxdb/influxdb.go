// Package influxdb is an alternative optional archival Sink to clickhouse
// (config-selected; only one archival backend is ever active at a time).
// Grounded on the teacher's internal/storage/influxdb reader: same
// influxdata/influxdb1-client/v2 HTTP client and DSN parsing/ping-on-connect
// discipline, here repurposed from "read historical points" to "write one
// point per archived sample".
package influxdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/pv/poolcontrold/internal/archive"
)

// Sink is an InfluxDB 1.x-backed archive.Sink.
type Sink struct {
	client      client.Client
	database    string
	measurement string
}

const defaultMeasurement = "sensor_history"

// New connects to InfluxDB 1.x.
func New(ctx context.Context, dsn string) (*Sink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("influxdb: DSN is empty")
	}

	addr, database, username, password, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("influxdb: parse DSN: %w", err)
	}

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     addr,
		Username: username,
		Password: password,
		Timeout:  30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("influxdb: create client: %w", err)
	}

	if _, _, err := c.Ping(10 * time.Second); err != nil {
		c.Close()
		return nil, fmt.Errorf("influxdb: ping: %w", err)
	}

	return &Sink{client: c, database: database, measurement: defaultMeasurement}, nil
}

func (s *Sink) Write(ctx context.Context, p archive.Point) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{Database: s.database})
	if err != nil {
		return fmt.Errorf("influxdb: batch points: %w", err)
	}

	tags := map[string]string{"name": p.Name}
	fields := map[string]any{
		"value": p.Value,
		"hash":  p.SensorHash,
	}
	pt, err := client.NewPoint(s.measurement, tags, fields, p.Timestamp)
	if err != nil {
		return fmt.Errorf("influxdb: new point: %w", err)
	}
	bp.AddPoint(pt)

	if err := s.client.Write(bp); err != nil {
		return fmt.Errorf("influxdb: write: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// IsSource matches the teacher's DSN sniff for the influxdb:// scheme.
func IsSource(dsn string) bool {
	return strings.HasPrefix(strings.ToLower(dsn), "influxdb://")
}

func parseDSN(dsn string) (addr, database, username, password string, err error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", "", "", err
	}
	database = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}
	addr = fmt.Sprintf("http://%s", u.Host)
	return addr, database, username, password, nil
}
