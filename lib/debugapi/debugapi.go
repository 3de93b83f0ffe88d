// Package debugapi is the bridge's peripheral observability surface: a
// JSON stats snapshot and a websocket stream of sequence-number/
// state-transition events. Events reach clients through Broadcast, and
// every client also receives each snapshot's display_seq every 5 seconds
// as a keepalive; the bridge core does not call Broadcast itself, so
// display-slot changes are not pushed as they happen. It never
// participates in the bridge's correctness, it is pure glue, using an
// upgrader plus a per-client writer goroutine and a polled-snapshot struct.
package debugapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Snapshot is the JSON payload served at /debug/stats, one per VideoOutput.
type Snapshot struct {
	Name            string `json:"name"`
	Mode            string `json:"mode"` // VideoOutput state name, e.g. "HW_READY" or "SW_READY"
	Width           int32  `json:"width"`
	Height          int32  `json:"height"`
	Resizing        bool   `json:"resizing"`
	ProducerSeq     uint64 `json:"producer_seq"`
	DisplaySeq      uint64 `json:"display_seq"`
	ConsumerSeq     uint64 `json:"consumer_seq"`
	FramesProduced  uint64 `json:"frames_produced"`
	FramesDisplayed uint64 `json:"frames_displayed"`
	FramesDropped   uint64 `json:"frames_dropped"`
}

// Event is one websocket message: a sequence-number/state-transition
// notification, sent to clients by Broadcast or by the writer's periodic
// display_seq keepalive.
type Event struct {
	Type   string `json:"type"` // "display_seq" | "state"
	Seq    uint64 `json:"seq,omitempty"`
	State  string `json:"state,omitempty"`
	Width  int32  `json:"width,omitempty"`
	Height int32  `json:"height,omitempty"`
}

// SnapshotFunc polls the current state of one or more VideoOutputs.
type SnapshotFunc func() []Snapshot

// Server serves the debug HTTP+WS surface.
type Server struct {
	log      *slog.Logger
	snapshot SnapshotFunc

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(req *http.Request) bool { return true },
}

// New builds a Server. snapshot is polled on each GET /debug/stats and
// periodically pushed to connected websocket clients as a keepalive.
func New(log *slog.Logger, snapshot SnapshotFunc) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("module", "debugapi"),
		snapshot: snapshot,
		clients:  make(map[*websocket.Conn]chan Event),
	}
}

// Handler returns the mux to mount (e.g. at "/" via http.ListenAndServe,
// or nested under a prefix with http.StripPrefix).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/stats", s.handleStats)
	mux.HandleFunc("/debug/ws", s.handleWebsocket)
	mux.Handle("/debug/swagger/", httpSwagger.WrapHandler)
	mux.Handle("/metrics", metricsPlaceholder())
	return mux
}

// @Summary	Poll a JSON snapshot of all video outputs
// @Router		/debug/stats [get]
// @Tags		debug
// @Success	200	{array}	Snapshot
func (s *Server) handleStats(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

// @Summary	Open a websocket stream of display-slot/state events
// @Router		/debug/ws [get]
// @Param		Upgrade	header	string	true	"websocket"
// @Tags		debug
// @Success	101
func (s *Server) handleWebsocket(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events := make(chan Event, 32)
	s.mu.Lock()
	s.clients[ws] = events
	s.mu.Unlock()

	go s.writer(ws, events)

	// Drain inbound reads (no client->server protocol) purely to detect
	// disconnects, as lib/api's handleWebsocket does.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			s.mu.Lock()
			delete(s.clients, ws)
			s.mu.Unlock()
			close(events)
			return
		}
	}
}

func (s *Server) writer(ws *websocket.Conn, events chan Event) {
	defer func() {
		_ = ws.Close()
	}()

	keepalive := time.NewTicker(5 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.write(ws, ev); err != nil {
				return
			}
		case <-keepalive.C:
			for _, snap := range s.snapshot() {
				if err := s.write(ws, Event{Type: "display_seq", Seq: snap.DisplaySeq}); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) write(ws *websocket.Conn, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, payload)
}

// Broadcast fans ev out to every connected client, non-blockingly (a
// slow client drops events rather than stalling the caller: callers are
// render-thread/host-thread hot paths that must never block on an
// observer).
func (s *Server) Broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.clients {
		select {
		case ch <- ev:
		default:
			s.log.Debug("dropping debug event for slow client", "type", ev.Type)
		}
	}
}

func metricsPlaceholder() http.Handler {
	// lib/metrics.Handler is mounted separately by cmd/bridge-demo at the
	// top-level mux, which takes /metrics before this mux sees it; this
	// local placeholder keeps /metrics discoverable from the debug index
	// without debugapi importing metrics.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/metrics", http.StatusTemporaryRedirect)
	})
}
