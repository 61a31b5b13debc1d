package poolconfig

import (
	"context"
	"testing"
	"time"

	"github.com/pv/poolcontrold/internal/repository/memstore"
)

func TestDefaults(t *testing.T) {
	c := New(memstore.New(), time.UTC)
	if c.SensorRefreshMinutes() != 15 {
		t.Fatalf("expected default sensor_refresh_minutes=15, got %d", c.SensorRefreshMinutes())
	}
	if c.PoolPhSetpoint() != 7.4 {
		t.Fatalf("expected default ph setpoint 7.4, got %f", c.PoolPhSetpoint())
	}
	hours := c.DailyFilterAllowedHours()
	if _, ok := hours[8]; !ok {
		t.Fatalf("expected hour 8 in default allowed hours")
	}
	if _, ok := hours[22]; ok {
		t.Fatalf("expected hour 22 not in default allowed hours")
	}
}

func TestSensorRefreshMinutesClamped(t *testing.T) {
	ctx := context.Background()
	c := New(memstore.New(), time.UTC)

	c.SetSensorRefreshMinutes(ctx, 0)
	if got := c.SensorRefreshMinutes(); got != 1 {
		t.Fatalf("expected clamp to 1, got %d", got)
	}

	c.SetSensorRefreshMinutes(ctx, 99)
	if got := c.SensorRefreshMinutes(); got != 20 {
		t.Fatalf("expected clamp to 20, got %d", got)
	}
}

func TestSubscriberFiresOnChange(t *testing.T) {
	ctx := context.Background()
	c := New(memstore.New(), time.UTC)

	var fired string
	c.Subscribe("pool_ph_setpoint", FieldObserverFunc(func(field string) { fired = field }))

	c.SetPoolPhSetpoint(ctx, 7.2)
	if fired != "pool_ph_setpoint" {
		t.Fatalf("expected subscriber to fire for pool_ph_setpoint, got %q", fired)
	}
}

func TestLoadRestoresPersistedValue(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	c1 := New(store, time.UTC)
	c1.SetSensorRefreshMinutes(ctx, 12)
	c1.SetPoolOrpMvSetpoint(ctx, 700)

	c2 := New(store, time.UTC)
	c2.Load(ctx)

	if got := c2.SensorRefreshMinutes(); got != 12 {
		t.Fatalf("expected restored sensor_refresh_minutes=12, got %d", got)
	}
	if got := c2.PoolOrpMvSetpoint(); got != 700 {
		t.Fatalf("expected restored orp setpoint 700, got %f", got)
	}
}

func TestLoadRestoresAutoLightsSequence(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	c1 := New(store, time.UTC)
	seq := []CommandDuration{{Command: 1, Duration: 300}, {Command: 7, Duration: 0}}
	c1.SetAutoLightsSequence(ctx, seq)

	c2 := New(store, time.UTC)
	c2.Load(ctx)

	got := c2.AutoLightsSequence()
	if len(got) != len(seq) || got[0] != seq[0] || got[1] != seq[1] {
		t.Fatalf("expected restored auto lights sequence %v, got %v", seq, got)
	}
}

func TestDecodeCommandDurationSequenceAcceptsJSONRoundTrippedShape(t *testing.T) {
	// postgres/sqlite hand back Fields decoded from JSON: []any of []any of
	// float64, rather than the original [][2]int.
	raw := []any{[]any{float64(1), float64(300)}, []any{float64(7), float64(0)}}

	seq, ok := decodeCommandDurationSequence(raw)
	if !ok {
		t.Fatalf("expected decode to succeed for JSON-shaped input")
	}
	want := []CommandDuration{{Command: 1, Duration: 300}, {Command: 7, Duration: 0}}
	if len(seq) != len(want) || seq[0] != want[0] || seq[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, seq)
	}
}

func TestFillLevelsClamped(t *testing.T) {
	ctx := context.Background()
	c := New(memstore.New(), time.UTC)

	c.SetFillStartLevel(ctx, -3)
	if got := c.FillStartLevel(); got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
	c.SetFillEndLevel(ctx, 42)
	if got := c.FillEndLevel(); got != 5 {
		t.Fatalf("expected clamp to 5, got %d", got)
	}
}
