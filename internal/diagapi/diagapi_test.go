package diagapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandleSnapshotReturnsJSON(t *testing.T) {
	s := New(func() Snapshot {
		return Snapshot{Timestamp: time.Unix(0, 0), Water: WaterView{Valid: true}}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !snap.Water.Valid {
		t.Fatalf("expected water.valid true in snapshot")
	}
}

func TestHandleSnapshotRejectsNonGet(t *testing.T) {
	s := New(func() Snapshot { return Snapshot{} })
	req := httptest.NewRequest(http.MethodPost, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestBroadcastWithNoClientsIsNoop(t *testing.T) {
	s := New(func() Snapshot { return Snapshot{} })
	s.Broadcast()
}
