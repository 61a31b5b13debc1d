// Package diagapi implements the read-only diagnostics surface: a JSON
// snapshot endpoint and a WebSocket stream of the same snapshot, sent on
// connect and again on every Broadcast call. It is intentionally read-only — no command endpoints — unlike
// the teacher's admin API, which also accepted writes; this mirrors
// original_source/src/api/resources's scope being explicitly out of this
// rebuild (see SPEC_FULL.md). The WebSocket upgrade/frame plumbing is
// grounded on the teacher's internal/api/state_streamer.go, adapted from
// per-sensor-ID updates to whole-snapshot pushes.
package diagapi

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the whole-system read-only view served by this package.
type Snapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Sensors   map[string]SensorView  `json:"sensors"`
	Actuators map[string]ActuatorView `json:"actuators"`
	Tanks     map[string]TankView    `json:"tanks"`
	Water     WaterView              `json:"water"`
	Algorithms AlgorithmsView        `json:"algorithms"`
}

type SensorView struct {
	Value   float64 `json:"value,omitempty"`
	Boolean bool    `json:"boolean,omitempty"`
	IsOK    bool    `json:"is_ok"`
}

type ActuatorView struct {
	Teoric         bool `json:"teoric"`
	OnTotal        int  `json:"on_total"`
	OnAuto         int  `json:"on_auto"`
	OnManual       int  `json:"on_manual"`
	SecSinceLastOn int  `json:"sec_since_last_on"`
}

type TankView struct {
	CurrentLiters float64 `json:"current_liters"`
	MaxCapacity   float64 `json:"max_capacity"`
}

type WaterView struct {
	Valid       bool    `json:"valid"`
	MeanTemp    float64 `json:"mean_temperature,omitempty"`
	MeanOrp     float64 `json:"mean_orp,omitempty"`
	MeanPh      float64 `json:"mean_ph,omitempty"`
	MeanTds     float64 `json:"mean_tds,omitempty"`
	LSI         float64 `json:"lsi,omitempty"`
	HasLSI      bool    `json:"has_lsi"`
}

type AlgorithmsView struct {
	FilterState      string `json:"filter_state"`
	FilterRemaining  int    `json:"filter_remaining_seconds"`
	LightsState      string `json:"lights_state"`
	LightsAreOn      bool   `json:"lights_are_on"`
	LevelState       string `json:"level_state"`
}

// SnapshotFunc produces a fresh Snapshot on demand. The caller supplies this
// (typically a closure over a *system.System) so this package has no
// compile-time dependency on the system package.
type SnapshotFunc func() Snapshot

// Server serves the read-only diagnostics HTTP+WebSocket API.
type Server struct {
	snapshot SnapshotFunc

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// New constructs a Server backed by snapshot.
func New(snapshot SnapshotFunc) *Server {
	return &Server{snapshot: snapshot, clients: make(map[*wsClient]struct{})}
}

// Handler returns the http.Handler mounting /api/snapshot and /api/stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/stream", s.handleStream)
	return mux
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	conn, rw, err := websocketUpgrade(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	client := newWSClient(conn, rw)
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	log.Printf("[diagapi] client %s connected", client.id)

	if err := client.writeJSON(s.snapshot()); err != nil {
		s.removeClient(client)
		return
	}

	go client.writePump(func() { s.removeClient(client) })
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	log.Printf("[diagapi] client %s disconnected", c.id)
}

// Broadcast pushes a fresh snapshot to every connected WebSocket client.
// Called by the caller's own periodic task (e.g. alongside the Water
// flush), since this package has no scheduler of its own.
func (s *Server) Broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return
	}
	data, err := json.Marshal(s.snapshot())
	if err != nil {
		return
	}
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			go s.removeClient(c)
		}
	}
}

// --- WebSocket utils (minimal server-push-only implementation, grounded on
// the teacher's internal/api/state_streamer.go) ---

const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

func websocketUpgrade(w http.ResponseWriter, r *http.Request) (net.Conn, *bufio.ReadWriter, error) {
	if !headerContains(r.Header, "Connection", "Upgrade") || !headerContains(r.Header, "Upgrade", "websocket") {
		return nil, nil, errors.New("upgrade request expected")
	}
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return nil, nil, errors.New("missing Sec-WebSocket-Key")
	}
	accept := computeAcceptKey(key)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http hijacking not supported")
	}
	conn, rw, err := hijacker.Hijack()
	if err != nil {
		return nil, nil, err
	}
	if rw == nil {
		rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	}

	response := fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n\r\n", accept)
	if _, err := rw.WriteString(response); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := rw.Flush(); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, rw, nil
}

func computeAcceptKey(key string) string {
	h := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

func headerContains(h http.Header, name, value string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), value) {
				return true
			}
		}
	}
	return false
}

type wsClient struct {
	id   string
	conn net.Conn
	rw   *bufio.ReadWriter
	send chan []byte
	once sync.Once
}

func newWSClient(conn net.Conn, rw *bufio.ReadWriter) *wsClient {
	return &wsClient{id: uuid.NewString(), conn: conn, rw: rw, send: make(chan []byte, 8)}
}

func (c *wsClient) writeJSON(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return writeTextFrame(c.rw, data)
}

func (c *wsClient) writePump(onClose func()) {
	defer onClose()
	for msg := range c.send {
		if err := writeTextFrame(c.rw, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		_ = c.conn.Close()
		close(c.send)
	})
}

func writeTextFrame(w *bufio.ReadWriter, payload []byte) error {
	var header [10]byte
	header[0] = 0x81
	var headerLen int
	switch {
	case len(payload) < 126:
		header[1] = byte(len(payload))
		headerLen = 2
	case len(payload) <= 0xFFFF:
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(len(payload)))
		headerLen = 4
	default:
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(len(payload)))
		headerLen = 10
	}
	if _, err := w.Write(header[:headerLen]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return w.Flush()
}
