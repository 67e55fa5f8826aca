package preview

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/metrics"
)

// Server serves the preview endpoints
type Server struct {
	cfg      config.PreviewConfig
	hub      *Hub
	metrics  *metrics.Metrics
	log      *logger.Logger
	upgrader websocket.Upgrader
	blank    []byte
}

// NewServer returns a preview server backed by hub
func NewServer(cfg config.PreviewConfig, hub *Hub, m *metrics.Metrics, log *logger.Logger) (*Server, error) {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 5 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Default()
	}
	blank, err := blankJPEG()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		hub:     hub,
		metrics: m,
		log:     log,
		blank:   blank,
	}
	s.upgrader = s.newUpgrader()
	return s, nil
}

// Handler exposes the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("/health", s.handleHealth)

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         86400,
	}).Handler(mux)
}

// NewHTTPServer wraps Handler in an http.Server listening on cfg.Addr
func (s *Server) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.hub.Frames().Subscribe()
	defer s.hub.Frames().Unsubscribe(id)
	s.metrics.PreviewClients.Add(1)
	defer s.metrics.PreviewClients.Add(-1)

	streamMJPEG(w, r, frameCh, s.blank, s.cfg.Keepalive, s.log)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	monitorStats, sess, latest, history := s.hub.Monitor().Snapshot()
	snap := s.metrics.Snapshot()
	monitorStats.PreviewClients = int(s.metrics.PreviewClients.Load())
	monitorStats.FramesRendered = snap.PreviewFramesRendered
	monitorStats.FramesDropped = snap.PreviewFramesDropped

	payload := map[string]any{
		"monitor":           monitorStats,
		"session":           sess,
		"latest_detection":  latest,
		"detection_history": history,
		"counters":          snap,
		"timestamp":         float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.hub.Events().Subscribe()
	defer s.hub.Events().Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEvents(w, r, eventCh, useProtobuf, s.log)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, sess, _, _ := s.hub.Monitor().Snapshot()
	writeJSON(w, map[string]any{
		"status":         "ok",
		"session_active": sess != nil && sess.Active,
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
