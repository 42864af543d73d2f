package storage

import (
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openStore(t)

	rec := RunRecord{
		ID:         "run-1",
		TargetName: "Andromeda",
		RADeg:      10.6847,
		DecDeg:     41.2687,
		Survey:     "DSS2 Color",
		Order:      8,
		Status:     "queued",
		OutputPath: "/tmp/out.png",
	}
	if err := s.RecordRunQueued(rec); err != nil {
		t.Fatalf("RecordRunQueued: %v", err)
	}
	if err := s.RecordRunStart("run-1"); err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}
	meta := map[string]any{"downloaded": 9.0, "cache_hits": 0.0}
	if err := s.RecordRunResult("run-1", "completed", meta, ""); err != nil {
		t.Fatalf("RecordRunResult: %v", err)
	}

	got, err := s.Run("run-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != "completed" || got.TargetName != "Andromeda" || got.Order != 8 {
		t.Fatalf("unexpected record: %+v", got)
	}

	loaded, err := s.RunMeta("run-1")
	if err != nil {
		t.Fatalf("RunMeta: %v", err)
	}
	if loaded["downloaded"] != 9.0 {
		t.Fatalf("meta round trip: %+v", loaded)
	}
}

func TestRecentRunsOrderAndLimit(t *testing.T) {
	s := openStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.RecordRunQueued(RunRecord{ID: id, RADeg: 1, DecDeg: 2, Survey: "DSS2 Color", Order: 8, Status: "queued"}); err != nil {
			t.Fatalf("RecordRunQueued(%s): %v", id, err)
		}
	}
	recs, err := s.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d runs, want 2", len(recs))
	}
}

func TestTileResults(t *testing.T) {
	s := openStore(t)
	if err := s.RecordRunQueued(RunRecord{ID: "run-2", RADeg: 1, DecDeg: 2, Survey: "DSS2 Color", Order: 8, Status: "queued"}); err != nil {
		t.Fatalf("RecordRunQueued: %v", err)
	}

	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			rec := TileRecord{
				RunID: "run-2", GridX: x, GridY: y,
				Pixel: int64(100 + y*3 + x), RADeg: 10, DecDeg: 40,
				Downloaded: true, Size: 2048,
			}
			if x == 2 && y == 2 {
				rec.Downloaded = false
				rec.Error = "fetch: HTTP 404"
			}
			if err := s.RecordTileResult(rec); err != nil {
				t.Fatalf("RecordTileResult: %v", err)
			}
		}
	}

	recs, err := s.TileResults("run-2")
	if err != nil {
		t.Fatalf("TileResults: %v", err)
	}
	if len(recs) != 9 {
		t.Fatalf("got %d tiles, want 9", len(recs))
	}
	// Grid order: first record is (0,0), last is (2,2).
	if recs[0].GridX != 0 || recs[0].GridY != 0 {
		t.Fatalf("first tile at (%d,%d)", recs[0].GridX, recs[0].GridY)
	}
	last := recs[8]
	if last.GridX != 2 || last.GridY != 2 || last.Error == "" {
		t.Fatalf("last tile: %+v", last)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	if err := s.RecordRunQueued(RunRecord{ID: "x"}); err != nil {
		t.Fatalf("nil store write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil store close: %v", err)
	}
	if _, err := s.RecentRuns(1); err == nil {
		t.Fatalf("nil store read should error")
	}
}
