// Package monitor pushes live profiling telemetry to connected viewers
// over WebSocket, supplementing the file-based profile dump with a live
// feed an operator can tail during a run — a feature original_source's
// companion tools (offline plotting scripts) assumed would read from a
// file, but which is a natural fit for a long-running Go service to
// serve directly.
//
// Grounded on kernel/core/mesh/transport/transport_native.go's
// WebSocketConnection (mutex-guarded *websocket.Conn, stats counters,
// read/write loop goroutines), adapted from a bidirectional peer
// connection to a fan-out broadcaster: one Hub accepts N viewer
// connections and pushes each profiling interval's Snapshot set to all
// of them.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanl/sicm-go/internal/diag"
	"github.com/lanl/sicm-go/profile"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// viewerConn mirrors WebSocketConnection: a mutex-guarded conn plus
// counters, but write-only (viewers don't send telemetry back).
type viewerConn struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	sent     uint64
	shutdown chan struct{}
}

func (v *viewerConn) send(payload []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	v.sent++
	return nil
}

func (v *viewerConn) close() {
	defer func() { recover() }()
	close(v.shutdown)
	v.conn.Close()
}

// Hub fans out profiling snapshots to every connected viewer.
type Hub struct {
	mu      sync.Mutex
	viewers map[*viewerConn]struct{}
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{viewers: make(map[*viewerConn]struct{})}
}

// ServeHTTP upgrades an HTTP connection to a WebSocket and registers it
// as a viewer until the connection drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		diag.Warnf("monitor: upgrade failed: %v", err)
		return
	}
	v := &viewerConn{conn: conn, shutdown: make(chan struct{})}

	h.mu.Lock()
	h.viewers[v] = struct{}{}
	h.mu.Unlock()

	go h.readPump(v)
}

// readPump drains and discards viewer-initiated frames (pings, close
// frames) so that gorilla/websocket processes control frames and a
// disconnect is noticed, and deregisters the viewer once the socket
// closes. No read deadline is set.
func (h *Hub) readPump(v *viewerConn) {
	defer func() {
		h.mu.Lock()
		delete(h.viewers, v)
		h.mu.Unlock()
		v.close()
	}()
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Frame is one interval's telemetry push, identified by its interval
// number; it carries no timestamp.
type Frame struct {
	IntervalNum int                `json:"interval_num"`
	Snapshots   []profile.Snapshot `json:"snapshots"`
}

// Broadcast encodes and pushes one frame to every connected viewer,
// dropping (and closing) any viewer whose send fails rather than
// blocking the whole hub on a slow reader.
func (h *Hub) Broadcast(frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		diag.Warnf("monitor: marshal frame: %v", err)
		return
	}

	h.mu.Lock()
	targets := make([]*viewerConn, 0, len(h.viewers))
	for v := range h.viewers {
		targets = append(targets, v)
	}
	h.mu.Unlock()

	for _, v := range targets {
		if err := v.send(payload); err != nil {
			h.mu.Lock()
			delete(h.viewers, v)
			h.mu.Unlock()
			v.close()
		}
	}
}

// Count returns the number of currently connected viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Pump subscribes to a profiling master's interval boundary by polling
// snapshotFn at the given period and broadcasting each result, until ctx
// is canceled. Polling (rather than a push callback from profile.Master)
// keeps monitor decoupled from profile's internal tick accounting.
func Pump(ctx context.Context, h *Hub, period time.Duration, snapshotFn func() []profile.Snapshot) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	interval := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(Frame{IntervalNum: interval, Snapshots: snapshotFn()})
			interval++
		}
	}
}
