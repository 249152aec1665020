package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hw3579/trading-bot/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RegisterRoutes registers /ws and /health on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/health", hub.serveHealth)
}

// ServeWS upgrades the request and registers a push client.
// ?since_seq=N replays buffered signals with seq > N after the welcome.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var (
		since    int64
		hasSince bool
	)
	if v := r.URL.Query().Get("since_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, `{"status":"error","message":"invalid since_seq"}`, http.StatusBadRequest)
			return
		}
		since, hasSince = n, true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] ws upgrade error: %v", err)
		return
	}

	sub := h.Subscribe("ws:"+r.RemoteAddr, Filter{})
	c := newClient(conn, h, sub, since, hasSince)
	go c.writePump()
	go c.readPump()
}

// HealthReport is the /health payload of the push server.
type HealthReport struct {
	Status        string                 `json:"status"`
	Subscribers   int                    `json:"subscribers"`
	Seq           int64                  `json:"seq"`
	History       int                    `json:"history"`
	SchemaVersion int                    `json:"schema_version"`
	Latency       map[Stage]StageLatency `json:"latency"`
	Hub           HubStats               `json:"hub"`
	UptimeSec     int64                  `json:"uptime_sec"`
	TS            time.Time              `json:"ts"`
}

// Health builds the current health report.
func (h *Hub) Health() HealthReport {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()

	status := "ok"
	if closed {
		status = "closed"
	}
	return HealthReport{
		Status:        status,
		Subscribers:   h.Count(),
		Seq:           h.Seq(),
		History:       h.history.Len(),
		SchemaVersion: model.SchemaVersion,
		Latency:       h.Latency.Report(),
		Hub:           h.Stats(),
		UptimeSec:     int64(time.Since(h.started).Seconds()),
		TS:            time.Now().UTC(),
	}
}

func (h *Hub) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	rep := h.Health()
	if rep.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(rep)
}

// Server is the push HTTP server.
type Server struct {
	hub *Hub
	srv *http.Server
}

// NewServer builds the push server on addr.
func NewServer(addr string, hub *Hub) *Server {
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub)
	return &Server{
		hub: hub,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[hub] push server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[hub] push server error: %v", err)
		}
	}()
}

// Stop closes every subscriber, then shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}
