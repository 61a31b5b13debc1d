package filterpressure

import (
	"context"
	"testing"
	"time"

	"github.com/pv/poolcontrold/internal/repository"
)

type fakeRepo struct {
	inserted []repository.Row
}

func (f *fakeRepo) Insert(ctx context.Context, collection string, row repository.Row) error {
	f.inserted = append(f.inserted, row)
	return nil
}

func TestOnPressureIgnoresInvalidReadings(t *testing.T) {
	repo := &fakeRepo{}
	m := New(KindSand, repo, time.UTC)

	m.OnPressure(context.Background(), 1.5, false)

	if _, ok := m.Pressure(); ok {
		t.Fatalf("expected no pressure recorded for an invalid reading")
	}
	if len(repo.inserted) != 0 {
		t.Fatalf("expected no insert for an invalid reading")
	}
}

func TestOnPressureRecordsAndPersists(t *testing.T) {
	repo := &fakeRepo{}
	m := New(KindDiatoms, repo, time.UTC)

	m.OnPressure(context.Background(), 2.3, true)

	v, ok := m.Pressure()
	if !ok || v != 2.3 {
		t.Fatalf("expected pressure 2.3, got %v ok=%v", v, ok)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(repo.inserted))
	}
	if repo.inserted[0].Fields["type"] != string(KindDiatoms) {
		t.Fatalf("expected type field to record filter kind")
	}
}
