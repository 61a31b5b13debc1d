// Package archive defines the optional, fire-and-forget raw sensor history
// sink. It is entirely decoupled from the control plane's Repository: a
// Sink failure is logged and ignored, never propagated to Sensor.AddValue's
// caller. Grounded on the observation that the teacher treats ClickHouse and
// InfluxDB purely as read/replay sources for historical data — here they
// play the write-side counterpart, archiving what the control plane already
// decided, never feeding back into it.
package archive

import (
	"context"
	"log"
	"time"
)

// Point is one archived sample.
type Point struct {
	SensorHash int64
	Name       string
	Timestamp  time.Time
	Value      float64
}

// Sink accepts archived points. Implementations must not block the caller
// for long; Write is called synchronously from Sensor.AddValue's subscriber
// fan-out, so slow sinks should buffer internally.
type Sink interface {
	Write(ctx context.Context, p Point) error
	Close() error
}

// NullSink discards every point; used when no archival backend is configured.
type NullSink struct{}

func (NullSink) Write(context.Context, Point) error { return nil }
func (NullSink) Close() error                       { return nil }

// Logging wraps a Sink so that write failures are logged and swallowed,
// matching the repository package's "infra errors never propagate" policy.
type Logging struct {
	Sink Sink
}

func (l Logging) Write(ctx context.Context, p Point) {
	if l.Sink == nil {
		return
	}
	if err := l.Sink.Write(ctx, p); err != nil {
		log.Printf("[archive] write failed for sensor %d (%s): %v", p.SensorHash, p.Name, err)
	}
}

func (l Logging) Close() error {
	if l.Sink == nil {
		return nil
	}
	return l.Sink.Close()
}
