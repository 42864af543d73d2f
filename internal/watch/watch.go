// Package watch monitors a drop directory for target list files and
// submits a mosaic job for every target found in them.
package watch

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"skymosaic/internal/fsutil"
	"skymosaic/internal/healpix"
	"skymosaic/internal/pipeline"
)

// Submitter enqueues mosaic jobs. Satisfied by *pipeline.Pipeline.
type Submitter interface {
	Submit(job pipeline.Job) error
}

// Watcher turns target list files dropped into a directory into jobs.
// A target list is a plain text file, one target per line:
//
//	Andromeda Galaxy 10.6847 41.2687
//
// The last two fields are RA and Dec in degrees, everything before them
// is the target name. Lines starting with # are ignored.
type Watcher struct {
	watcher   *fsnotify.Watcher
	dir       string
	survey    string
	outputDir string
	pipe      Submitter
	log       *slog.Logger
	done      chan struct{}

	// seen debounces Create followed by Write for the same file.
	seen map[string]time.Time
}

// New creates a watcher over dir. Jobs are submitted against survey with
// outputs placed under outputDir.
func New(dir, survey, outputDir string, pipe Submitter, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:   fw,
		dir:       dir,
		survey:    survey,
		outputDir: outputDir,
		pipe:      pipe,
		log:       log,
		done:      make(chan struct{}),
		seen:      make(map[string]time.Time),
	}, nil
}

// Start begins monitoring the drop directory.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("watch dir: %w", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.log.Info("Watching for target lists", "dir", w.dir)
	go w.processEvents()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if strings.ToLower(filepath.Ext(event.Name)) != ".txt" {
				continue
			}
			if last, ok := w.seen[event.Name]; ok && time.Since(last) < time.Second {
				continue
			}
			w.seen[event.Name] = time.Now()
			w.handleFile(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleFile(path string) {
	targets, err := ParseTargetList(path)
	if err != nil {
		w.log.Warn("target list unreadable", "file", path, "error", err)
		return
	}
	w.log.Info("Target list picked up", "file", path, "targets", len(targets))
	for _, target := range targets {
		job := pipeline.Job{
			ID:     "watch-" + uuid.NewString()[:8],
			Target: target,
			Survey: w.survey,
			Output: filepath.Join(w.outputDir, fsutil.SafeName(target.Name)+".png"),
		}
		if err := w.pipe.Submit(job); err != nil {
			w.log.Warn("submit failed", "target", target.Name, "error", err)
		}
	}
}

// ParseTargetList reads a target list file. Blank lines and lines
// starting with # are skipped; a malformed line aborts the whole file
// so a half-submitted batch never happens silently.
func ParseTargetList(path string) ([]healpix.SkyPosition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var targets []healpix.SkyPosition
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		target, err := parseTargetLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), lineNo, err)
		}
		targets = append(targets, target)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}

func parseTargetLine(line string) (healpix.SkyPosition, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return healpix.SkyPosition{}, fmt.Errorf("want name ra dec, got %q", line)
	}
	ra, err := strconv.ParseFloat(fields[len(fields)-2], 64)
	if err != nil {
		return healpix.SkyPosition{}, fmt.Errorf("bad RA %q", fields[len(fields)-2])
	}
	dec, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return healpix.SkyPosition{}, fmt.Errorf("bad Dec %q", fields[len(fields)-1])
	}
	if ra < 0 || ra >= 360 || dec < -90 || dec > 90 {
		return healpix.SkyPosition{}, fmt.Errorf("coordinates out of range: %s %s", fields[len(fields)-2], fields[len(fields)-1])
	}
	return healpix.SkyPosition{
		Name:   strings.Join(fields[:len(fields)-2], " "),
		RADeg:  ra,
		DecDeg: dec,
	}, nil
}
