package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"go.sazak.io/hrclock/clock"
	"go.sazak.io/hrclock/cmd/hrclock/metrics"
	"go.sazak.io/hrclock/cmd/hrclock/storage"
)

// MaxTickInterval bounds the WebSocket tick interval.
const MaxTickInterval = time.Hour

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Config is the display configuration shared with WebSocket clients
type Config struct {
	Unit           clock.Unit `json:"unit"`
	TickIntervalMs int64      `json:"tick_interval_ms"`
}

func (c Config) validate() error {
	if !c.Unit.Valid() {
		return fmt.Errorf("%w: %s", clock.ErrInvalidUnit, c.Unit)
	}
	if c.TickIntervalMs <= 0 || c.TickIntervalMs > MaxTickInterval.Milliseconds() {
		return fmt.Errorf("tick_interval_ms must be between 1 and %d, got %d",
			MaxTickInterval.Milliseconds(), c.TickIntervalMs)
	}
	return nil
}

func (c Config) tickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// Server is the HTTP API server
type Server struct {
	manager    *storage.Manager
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	config     *Config
	configMu   sync.RWMutex
	appendMu   sync.Mutex
	hub        *Hub
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	started    clock.Clock

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

// NewServer creates a new API server
func NewServer(manager *storage.Manager, port int, cfg Config, logger *zap.Logger) *Server {
	if !cfg.Unit.Valid() {
		cfg.Unit = clock.Milliseconds
	}
	if cfg.TickIntervalMs <= 0 || cfg.TickIntervalMs > MaxTickInterval.Milliseconds() {
		cfg.TickIntervalMs = 1000
	}

	registry := prometheus.NewRegistry()
	server := &Server{
		manager:  manager,
		metrics:  metrics.New(registry),
		registry: registry,
		config:   &cfg,
		hub:      NewHub(logger),
		logger:   logger,
		stop:     make(chan struct{}),
	}
	server.started.Tick()

	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	r.HandleFunc("/api/now", server.handleNow).Methods(http.MethodGet)
	r.HandleFunc("/api/since", server.handleSince).Methods(http.MethodGet)
	r.HandleFunc("/api/convert", server.handleConvert).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions", server.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions", server.createSession).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}", server.getSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", server.deleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/api/sessions/{id}/samples", server.getSamples).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/samples", server.appendSamples).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/summary", server.getSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/config", server.handleConfig).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/metrics", server.handleMetrics).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(server.hub, w, r)
	})

	server.router = r
	server.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           corsMiddleware(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// Handler starts the hub and tick loop and returns the root handler.
func (s *Server) Handler() http.Handler {
	s.startBackground()
	return s.httpServer.Handler
}

func (s *Server) startBackground() {
	s.startOnce.Do(func() {
		go s.hub.Run()
		go s.tickLoop()
	})
}

// Start starts the API server
func (s *Server) Start() error {
	s.startBackground()
	s.logger.Info("API server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Stop stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.hub.Stop()
	})
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) currentConfig() Config {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return *s.config
}

func (s *Server) tickLoop() {
	interval := s.currentConfig().tickInterval()
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			cfg := s.currentConfig()
			s.broadcastTick(cfg.Unit)
			if iv := cfg.tickInterval(); iv != interval {
				interval = iv
				t.Reset(iv)
			}
		}
	}
}

func (s *Server) broadcastTick(unit clock.Unit) {
	uptime, err := s.started.DistanceFromNow(unit)
	if err != nil {
		s.logger.Error("computing uptime", zap.Error(err))
		return
	}

	data, err := json.Marshal(map[string]interface{}{
		"type":   "tick",
		"now":    clock.Now(),
		"uptime": uptime,
		"unit":   unit,
	})
	if err != nil {
		s.logger.Error("failed to marshal tick", zap.Error(err))
		return
	}

	s.hub.Broadcast(data)
}

// BroadcastBatch broadcasts a batch of samples to all connected WebSocket clients
func (s *Server) BroadcastBatch(sessionID string, samples []*storage.Sample) {
	data, err := json.Marshal(map[string]interface{}{
		"type":    "batch",
		"session": sessionID,
		"samples": samples,
	})
	if err != nil {
		s.logger.Error("failed to marshal sample batch", zap.Error(err))
		return
	}

	s.hub.Broadcast(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON request body of at most maxBodyBytes into v,
// writing the error response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrSessionNotFound), errors.Is(err, storage.ErrInvalidSessionID):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, storage.ErrUnknownFormat), errors.Is(err, clock.ErrInvalidUnit),
		errors.Is(err, storage.ErrInvalidSample):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrSummaryOverflow):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// unitParam reads the "unit" query parameter, falling back to the
// configured unit.
func (s *Server) unitParam(r *http.Request) (clock.Unit, error) {
	if name := r.URL.Query().Get("unit"); name != "" {
		return clock.ParseUnit(name)
	}
	return s.currentConfig().Unit, nil
}

func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"now": clock.Now()})
}

func (s *Server) handleSince(w http.ResponseWriter, r *http.Request) {
	start, err := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
	if err != nil {
		http.Error(w, "invalid start: "+err.Error(), http.StatusBadRequest)
		return
	}

	unit, err := s.unitParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	elapsed, err := clock.Convert(clock.Since(clock.Timestamp(start)), unit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"start":   start,
		"elapsed": elapsed,
		"unit":    unit,
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	nanos, err := strconv.ParseInt(r.URL.Query().Get("nanos"), 10, 64)
	if err != nil {
		http.Error(w, "invalid nanos: "+err.Error(), http.StatusBadRequest)
		return
	}

	unit, err := s.unitParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	value, err := clock.Convert(nanos, unit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nanos": nanos,
		"unit":  unit,
		"value": value,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*storage.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	Command string `json:"command"`
	Unit    string `json:"unit"`
	Format  string `json:"format"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	unit := s.currentConfig().Unit
	if req.Unit != "" {
		u, err := clock.ParseUnit(req.Unit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		unit = u
	}
	if req.Format == "" {
		req.Format = storage.FormatJSONL
	}

	session := &storage.Session{Command: req.Command, Unit: unit.String()}
	store, err := s.manager.CreateSession(r.Context(), session, req.Format)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := store.Close(); err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info("session created", zap.String("session", session.ID), zap.String("format", session.Format))
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.manager.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.DeleteSession(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info("session deleted", zap.String("session", id))
	w.WriteHeader(http.StatusNoContent)
}

func parseFilter(r *http.Request) (*storage.SampleFilter, error) {
	q := r.URL.Query()
	filter := &storage.SampleFilter{}

	int64Params := map[string]**int64{
		"start_time":  &filter.StartTime,
		"end_time":    &filter.EndTime,
		"min_elapsed": &filter.MinElapsed,
	}
	for name, dst := range int64Params {
		if v := q.Get(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = &n
		}
	}

	if v := q.Get("exit_code"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid exit_code: %w", err)
		}
		code := int32(n)
		filter.ExitCode = &code
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid %s: %q", name, v)
			}
			*dst = n
		}
	}

	return filter, nil
}

func (s *Server) getSamples(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	store, err := s.manager.OpenSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer store.Close()

	samples, err := store.ReadSamples(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if samples == nil {
		samples = []*storage.Sample{}
	}

	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) appendSamples(w http.ResponseWriter, r *http.Request) {
	var samples []*storage.Sample
	if !decodeBody(w, r, &samples) {
		return
	}
	for _, sample := range samples {
		if sample == nil {
			http.Error(w, "null sample", http.StatusBadRequest)
			return
		}
		if err := sample.Validate(); err != nil {
			s.writeError(w, err)
			return
		}
	}

	id := mux.Vars(r)["id"]

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	store, err := s.manager.OpenSession(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer store.Close()

	if err := store.WriteBatch(samples); err != nil {
		s.writeError(w, err)
		return
	}

	session := store.GetSession()
	if err := store.UpdateSession(session); err != nil {
		s.writeError(w, err)
		return
	}

	s.metrics.ObserveBatch(samples)
	s.BroadcastBatch(id, samples)

	writeJSON(w, http.StatusOK, session)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	store, err := s.manager.OpenSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer store.Close()

	summary, err := store.Summary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.currentConfig())
		return
	}

	// Fields missing from the body keep their current values.
	cfg := s.currentConfig()
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := cfg.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.configMu.Lock()
	s.config = &cfg
	s.configMu.Unlock()

	writeJSON(w, http.StatusOK, cfg)
}

// handleMetrics serves the running sample statistics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
