package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"github.com/flaresense/detection-server/internal/eventlog"
	"github.com/flaresense/detection-server/internal/logger"
	"github.com/flaresense/detection-server/internal/webrtc"
	"github.com/flaresense/detection-server/pkg/types"
)

// EventStore is the event log as seen by the analytics endpoints.
type EventStore interface {
	List(ctx context.Context, limit int) ([]eventlog.FireEvent, error)
	Get(ctx context.Context, id uint) (*eventlog.FireEvent, error)
	Stats(ctx context.Context) (eventlog.Stats, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	Ping(ctx context.Context) error
	Driver() string
}

// EvidenceStore serves saved snapshots.
type EvidenceStore interface {
	Open(name string) (io.ReadSeekCloser, os.FileInfo, error)
}

// OfferHandler answers WebRTC offers for the alerts data channel.
type OfferHandler interface {
	HandleOffer(ctx context.Context, offerJSON []byte) ([]byte, error)
}

// Deps are the collaborators behind the HTTP surface. Events, Evidence,
// Peers and Metrics are optional; their endpoints answer with an error when
// unset.
type Deps struct {
	Monitor  *Monitor
	Frames   *FrameBroadcaster
	Events   EventStore
	Evidence EvidenceStore
	Peers    OfferHandler
	Metrics  http.Handler
}

// Server serves the dashboard, streams and JSON API.
type Server struct {
	cfg      Config
	deps     Deps
	status   *StatusBroadcaster
	validate *validator.Validate
}

// NewServer returns a configured server. Call Start before serving SSE.
func NewServer(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = def.AllowedOrigins
	}
	if deps.Frames == nil {
		deps.Frames = NewFrameBroadcaster()
	}

	return &Server{
		cfg:      cfg,
		deps:     deps,
		status:   NewStatusBroadcaster(deps.Monitor, cfg.StatusInterval),
		validate: validator.New(),
	}
}

// Start launches the status broadcaster.
func (s *Server) Start() {
	s.status.Start()
}

// Stop ends the status broadcaster and its SSE clients.
func (s *Server) Stop() {
	s.status.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/video_feed", s.handleStream)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/location", s.handleLocation)
	mux.HandleFunc("/api/camera/toggle", s.handleCameraToggle)
	mux.HandleFunc("/api/analytics/stats", s.handleAnalyticsStats)
	mux.HandleFunc("/api/analytics/export", s.handleAnalyticsExport)
	mux.HandleFunc("/api/event/{id}", s.handleEvent)
	mux.HandleFunc("/evidence/{file}", s.handleEvidence)
	mux.HandleFunc("/api/debug/db", s.handleDebugDB)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	mux.HandleFunc("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics)
	}

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
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
	id, frameCh := s.deps.Frames.Subscribe()
	defer s.deps.Frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh, s.cfg.IdleInterval, s.deps.Frames.Latest())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Monitor.Snapshot())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, first, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	useProtobuf := r.URL.Query().Get("format") == "protobuf"
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf") {
		useProtobuf = true
	}

	streamStatusEventsFromChannel(r.Context(), w, first, eventCh, useProtobuf)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || s.validate.Struct(req) != nil {
		writeJSONWithStatus(w, map[string]any{"status": "error"}, http.StatusBadRequest)
		return
	}

	loc := types.Location{Lat: *req.Lat, Lon: *req.Lon}
	s.deps.Monitor.SetLocation(loc)
	writeJSON(w, locationResponse{Status: "updated", Location: loc})
}

func (s *Server) handleCameraToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || s.validate.Struct(req) != nil {
		writeJSONWithStatus(w, map[string]any{"status": "error"}, http.StatusBadRequest)
		return
	}

	s.deps.Monitor.SetCameraActive(*req.Active)
	writeJSON(w, toggleResponse{Status: "success", CameraActive: *req.Active})
}

func (s *Server) eventsOrError(w http.ResponseWriter) (EventStore, bool) {
	if s.deps.Events == nil {
		writeJSONWithStatus(w, map[string]any{"error": "event log unavailable"}, http.StatusInternalServerError)
		return nil, false
	}
	return s.deps.Events, true
}

func (s *Server) handleAnalyticsStats(w http.ResponseWriter, r *http.Request) {
	events, ok := s.eventsOrError(w)
	if !ok {
		return
	}

	stats, err := events.Stats(r.Context())
	if err != nil {
		logger.Error("HTTP", "Error in analytics stats: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	list, err := events.List(r.Context(), 0)
	if err != nil {
		logger.Error("HTTP", "Error in analytics stats: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []eventlog.FireEvent{}
	}
	writeJSON(w, analyticsResponse{Stats: stats, Events: list})
}

func (s *Server) handleAnalyticsExport(w http.ResponseWriter, r *http.Request) {
	events, ok := s.eventsOrError(w)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := events.ExportCSV(r.Context(), &buf); err != nil {
		logger.Error("HTTP", "Report export failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="flaresense_report.csv"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	events, ok := s.eventsOrError(w)
	if !ok {
		return
	}

	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid event id"}, http.StatusBadRequest)
		return
	}

	ev, err := events.Get(r.Context(), uint(id))
	switch {
	case errors.Is(err, eventlog.ErrNotFound):
		writeJSONWithStatus(w, map[string]any{"error": "Event not found"}, http.StatusNotFound)
	case err != nil:
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
	default:
		writeJSON(w, ev)
	}
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	if s.deps.Evidence == nil {
		http.NotFound(w, r)
		return
	}

	f, info, err := s.deps.Evidence.Open(r.PathValue("file"))
	if err != nil {
		logger.Debug("HTTP", "Evidence %q unavailable: %v", r.PathValue("file"), err)
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleDebugDB(w http.ResponseWriter, r *http.Request) {
	events, ok := s.eventsOrError(w)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := events.Ping(ctx); err != nil {
		writeJSONWithStatus(w, map[string]any{"status": "error", "message": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": "connected", "driver": events.Driver()})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var offer offerRequest
	if err := json.Unmarshal(body, &offer); err != nil || offer.SDP == "" || offer.Type == "" {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	if s.deps.Peers == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC unavailable"}, http.StatusServiceUnavailable)
		return
	}

	answer, err := s.deps.Peers.HandleOffer(r.Context(), body)
	if errors.Is(err, webrtc.ErrTooManyClients) {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		logger.Warn("HTTP", "WebRTC offer failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"camera_active":  s.deps.Monitor.CameraActive(),
		"stream_clients": s.deps.Frames.ClientCount(),
	})
}
