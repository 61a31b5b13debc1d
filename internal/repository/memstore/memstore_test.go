package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/pv/poolcontrold/internal/repository"
)

func TestUpsertSingleReplaces(t *testing.T) {
	ctx := context.Background()
	s := New()

	row1 := repository.Row{Datetime: time.Unix(100, 0), Fields: map[string]any{"current_l": 500.0}}
	row2 := repository.Row{Datetime: time.Unix(200, 0), Fields: map[string]any{"current_l": 480.0}}

	if err := s.UpsertSingle(ctx, "chemical_tank_data", row1); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if err := s.UpsertSingle(ctx, "chemical_tank_data", row2); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	got, ok, err := s.FindLatest(ctx, "chemical_tank_data")
	if err != nil || !ok {
		t.Fatalf("find latest: ok=%v err=%v", ok, err)
	}
	if got.Fields["current_l"] != 480.0 {
		t.Fatalf("expected replaced row, got %#v", got.Fields)
	}
	if len(s.All("chemical_tank_data")) != 1 {
		t.Fatalf("upsert must keep exactly one row, got %d", len(s.All("chemical_tank_data")))
	}
}

func TestInsertAppendsAndFindsLatest(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 0; i < 3; i++ {
		row := repository.Row{
			Datetime: time.Unix(int64(i*10), 0),
			Fields:   map[string]any{"value": float64(i)},
		}
		if err := s.Insert(ctx, "sensor_data", row); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if len(s.All("sensor_data")) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(s.All("sensor_data")))
	}

	got, ok, err := s.FindLatest(ctx, "sensor_data")
	if err != nil || !ok {
		t.Fatalf("find latest: ok=%v err=%v", ok, err)
	}
	if got.Fields["value"] != 2.0 {
		t.Fatalf("expected latest value 2.0, got %#v", got.Fields["value"])
	}
}

func TestFindLatestEmptyCollection(t *testing.T) {
	s := New()
	_, ok, err := s.FindLatest(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for empty collection")
	}
}
