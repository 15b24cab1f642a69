// Package status serves health/readiness HTTP endpoints and broadcasts
// planner status over a WebSocket, in the same style as the rest of this
// codebase's HTTP surface.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Snapshot is the latest planner/learning status, assembled by the caller
// (the outer runner) from its own in-memory state.
type Snapshot struct {
	IsRunning           bool       `json:"is_running"`
	LastPlanAt          *time.Time `json:"last_plan_at,omitempty"`
	NextPlanAt          *time.Time `json:"next_plan_at,omitempty"`
	SlotsPlanned        int        `json:"slots_planned"`
	HasPriceData        bool       `json:"has_price_data"`
	HasPVForecast       bool       `json:"has_pv_forecast"`
	CurrentSocPercent   float64    `json:"current_soc_percent"`
	CurrentPVKw         float64    `json:"current_pv_kw"`
	UnsatisfiableNotes  []string   `json:"unsatisfiable_notes,omitempty"`
	LastLearningRunAt   *time.Time `json:"last_learning_run_at,omitempty"`
	LastLearningApplied int        `json:"last_learning_applied"`
}

// Source supplies the current snapshot on demand; the runner implements it.
type Source interface {
	StatusSnapshot() Snapshot
}

// Server exposes /api/health, /api/ready and a status-broadcasting
// /api/ws endpoint.
type Server struct {
	source    Source
	server    *http.Server
	port      int
	startTime time.Time
	upgrader  websocket.Upgrader
	clients   sync.Map
	broadcast chan []byte
	done      chan struct{}
}

// NewServer builds a status server. A non-positive port disables it: Start
// and Stop on a nil *Server are no-ops, matching the rest of this
// codebase's "disabled by zero value" convention.
func NewServer(source Source, port int) *Server {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	s := &Server{
		source:    source,
		port:      port,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/ready", s.readinessHandler)
	mux.HandleFunc("/api/ws", s.wsHandler)

	return s
}

func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	go s.handleBroadcasts()
	go s.broadcastLoop()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("status server error: %v\n", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.done)
	s.clients.Range(func(key, value any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.source.StatusSnapshot()

	w.Header().Set("Content-Type", "application/json")
	if !snap.IsRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.source.StatusSnapshot()
	ready := map[string]any{"ready": snap.IsRunning, "timestamp": time.Now().UTC().Format(time.RFC3339)}

	w.Header().Set("Content-Type", "application/json")
	if !snap.IsRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(ready); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("websocket upgrade error: %v\n", err)
		return
	}
	s.clients.Store(conn, true)
	s.sendSnapshotTo(conn)

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("websocket error: %v\n", err)
			}
			break
		}
	}
}

func (s *Server) handleBroadcasts() {
	for {
		select {
		case message := <-s.broadcast:
			s.clients.Range(func(key, value any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					s.clients.Delete(conn)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

// broadcastLoop periodically pushes the current snapshot to any connected
// clients; it skips the marshal/send entirely when nobody is listening.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hasClients := false
			s.clients.Range(func(key, value any) bool {
				hasClients = true
				return false
			})
			if !hasClients {
				continue
			}
			message, err := json.Marshal(s.source.StatusSnapshot())
			if err != nil {
				fmt.Printf("failed to marshal status snapshot: %v\n", err)
				continue
			}
			s.broadcast <- message
		case <-s.done:
			return
		}
	}
}

func (s *Server) sendSnapshotTo(conn *websocket.Conn) {
	if err := conn.WriteJSON(s.source.StatusSnapshot()); err != nil {
		fmt.Printf("failed to send initial snapshot: %v\n", err)
	}
}
