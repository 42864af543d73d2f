package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"skymosaic/internal/fetch"
	"skymosaic/internal/pipeline"
	"skymosaic/internal/storage"
)

type noopProcessor struct{}

func (noopProcessor) Process(_ context.Context, job pipeline.Job) pipeline.Result {
	return pipeline.Result{Job: job}
}

func testServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	surveys, err := fetch.NewSurveySet(fetch.DefaultSurveys())
	if err != nil {
		t.Fatalf("NewSurveySet: %v", err)
	}
	log := slog.New(slog.DiscardHandler)
	pipe := pipeline.New(context.Background(), 1, log, store, noopProcessor{})
	t.Cleanup(pipe.Stop)

	return NewServer(":0", store, pipe, nil, surveys, log), store
}

func routerFor(s *Server) *mux.Router {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	routerFor(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
}

func TestRunsEndpoints(t *testing.T) {
	s, store := testServer(t)
	if err := store.RecordRunQueued(storage.RunRecord{ID: "r1", TargetName: "Orion", RADeg: 83, DecDeg: -5.4, Survey: "DSS2 Color", Order: 8, Status: "queued"}); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	if err := store.RecordTileResult(storage.TileRecord{RunID: "r1", GridX: 1, GridY: 1, Pixel: 42, Downloaded: true, Size: 2048}); err != nil {
		t.Fatalf("seed tile: %v", err)
	}
	r := routerFor(s)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/runs status %d", rec.Code)
	}
	var runs []storage.RunRecord
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].TargetName != "Orion" {
		t.Fatalf("runs payload: %+v", runs)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/r1/tiles", nil))
	var tiles []storage.TileRecord
	if err := json.NewDecoder(rec.Body).Decode(&tiles); err != nil {
		t.Fatalf("decode tiles: %v", err)
	}
	if len(tiles) != 1 || tiles[0].Pixel != 42 {
		t.Fatalf("tiles payload: %+v", tiles)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing run status %d", rec.Code)
	}
}

func TestSurveysEndpoint(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	routerFor(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/surveys", nil))
	var surveys []fetch.Survey
	if err := json.NewDecoder(rec.Body).Decode(&surveys); err != nil {
		t.Fatalf("decode surveys: %v", err)
	}
	if len(surveys) == 0 {
		t.Fatalf("no surveys returned")
	}
}

func TestCacheStatsDisabled(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	routerFor(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("nil cache status %d", rec.Code)
	}
}
