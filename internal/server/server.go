package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"skymosaic/internal/cache"
	"skymosaic/internal/fetch"
	"skymosaic/internal/pipeline"
	"skymosaic/internal/storage"

	"github.com/gorilla/mux"
)

// Server exposes run history, cache state and a live result stream.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	cache    *cache.Cache
	surveys  *fetch.SurveySet
	log      *slog.Logger
	server   *http.Server
}

// NewServer wires the HTTP API from shared components.
func NewServer(
	addr string,
	store *storage.Store,
	pipe *pipeline.Pipeline,
	c *cache.Cache,
	surveys *fetch.SurveySet,
	log *slog.Logger,
) *Server {
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		cache:    c,
		surveys:  surveys,
		log:      log,
	}
}

// Start begins serving until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/runs", s.handleRuns).Methods("GET")
	r.HandleFunc("/runs/{id}", s.handleRun).Methods("GET")
	r.HandleFunc("/runs/{id}/tiles", s.handleRunTiles).Methods("GET")
	r.HandleFunc("/surveys", s.handleSurveys).Methods("GET")
	r.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
	r.HandleFunc("/stream", s.handleRunStream).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentRuns(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Run(id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleRunTiles(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	recs, err := s.store.TileResults(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleSurveys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.surveys.All())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		http.Error(w, "cache disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, s.cache.Stats())
}

func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(streamEvent{
				RunID:  res.Job.ID,
				Target: res.Job.Target.Name,
				Error:  errString(res.Error),
				Meta:   res.Meta,
			})
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

type streamEvent struct {
	RunID  string         `json:"run_id"`
	Target string         `json:"target"`
	Error  string         `json:"error,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
