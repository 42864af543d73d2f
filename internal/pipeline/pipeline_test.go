package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"skymosaic/internal/healpix"
	"skymosaic/internal/storage"
)

type stubProcessor struct {
	processed atomic.Int64
	fail      bool
}

func (s *stubProcessor) Process(_ context.Context, job Job) Result {
	s.processed.Add(1)
	if s.fail {
		return Result{Job: job, Error: errors.New("boom")}
	}
	return Result{Job: job, Meta: map[string]any{"output": job.Output}}
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testJob(id string) Job {
	return Job{
		ID:     id,
		Target: healpix.SkyPosition{RADeg: 10.6847, DecDeg: 41.2687, Name: "Andromeda"},
		Survey: "DSS2 Color",
		Order:  8,
		Output: "/tmp/out.png",
	}
}

func TestPipelineProcessesAndBroadcasts(t *testing.T) {
	proc := &stubProcessor{}
	p := New(context.Background(), 2, discard(), nil, proc)
	defer p.Stop()

	ch, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(testJob("j1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-ch:
		if res.Job.ID != "j1" || res.Error != nil {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no result broadcast")
	}
	if proc.processed.Load() != 1 {
		t.Fatalf("processed %d jobs", proc.processed.Load())
	}
}

func TestPipelineRecordsRunLifecycle(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer store.Close()

	proc := &stubProcessor{}
	p := New(context.Background(), 1, discard(), store, proc)

	ch, unsub := p.Subscribe()
	if err := p.Submit(testJob("j2")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("no result")
	}
	unsub()
	p.Stop()

	rec, err := store.Run("j2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != "completed" || rec.Survey != "DSS2 Color" {
		t.Fatalf("run record: %+v", rec)
	}
}

func TestPipelineRecordsFailure(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer store.Close()

	proc := &stubProcessor{fail: true}
	p := New(context.Background(), 1, discard(), store, proc)

	ch, unsub := p.Subscribe()
	if err := p.Submit(testJob("j3")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case res := <-ch:
		if res.Error == nil {
			t.Fatalf("failure not propagated")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no result")
	}
	unsub()
	p.Stop()

	rec, err := store.Run("j3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != "failed" || rec.Error == "" {
		t.Fatalf("failure not recorded: %+v", rec)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p := New(context.Background(), 1, discard(), nil, &stubProcessor{})
	p.Stop()
	p.Stop()
}
