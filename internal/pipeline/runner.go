package pipeline

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"skymosaic/internal/cache"
	"skymosaic/internal/config"
	"skymosaic/internal/fetch"
	"skymosaic/internal/fsutil"
	"skymosaic/internal/grid"
	"skymosaic/internal/mosaic"
	"skymosaic/internal/report"
	"skymosaic/internal/storage"
)

// Runner is the Processor that executes mosaic runs: assemble, save the
// image, write manifests, persist tile outcomes.
type Runner struct {
	log     *slog.Logger
	store   *storage.Store
	surveys *fetch.SurveySet
	cache   *cache.Cache
	source  mosaic.TileSource
	mosaic  config.Mosaic
}

// NewRunner wires a runner from the shared components.
func NewRunner(log *slog.Logger, store *storage.Store, surveys *fetch.SurveySet, c *cache.Cache, source mosaic.TileSource, mcfg config.Mosaic) *Runner {
	return &Runner{
		log:     log,
		store:   store,
		surveys: surveys,
		cache:   c,
		source:  source,
		mosaic:  mcfg,
	}
}

// Process executes one mosaic run.
func (r *Runner) Process(ctx context.Context, job Job) Result {
	start := time.Now()

	survey, ok := r.surveys.Get(job.Survey)
	if !ok {
		return Result{Job: job, Error: fmt.Errorf("unknown survey %q", job.Survey)}
	}
	order := job.Order
	if order <= 0 {
		order = r.mosaic.Order
	}
	if survey.MaxOrder > 0 && order > survey.MaxOrder {
		order = survey.MaxOrder
	}

	assembler := mosaic.New(grid.NewResolver(order), r.cache, r.source, r.log)
	res, err := assembler.Run(ctx, mosaic.Request{
		Target:   job.Target,
		Survey:   survey,
		Order:    order,
		CropSize: r.cropFor(survey),
		Annotate: r.mosaic.Annotate,
	})
	if err != nil {
		return Result{Job: job, Error: err}
	}

	r.recordTiles(job.ID, res)

	outPath := job.Output
	if outPath == "" {
		outPath = fsutil.SafeName(job.Target.Name) + ".png"
	}
	if err := savePNG(outPath, res); err != nil {
		return Result{Job: job, Error: err}
	}

	info := report.RunInfo{
		RunID:      job.ID,
		Target:     job.Target,
		Survey:     survey.Name,
		Order:      order,
		CropSize:   res.Image.Bounds().Dx(),
		OutputPath: outPath,
		Duration:   time.Since(start),
		Result:     res,
	}
	dir := filepath.Dir(outPath)
	if _, err := report.WriteSummary(dir, info); err != nil {
		r.log.Warn("summary report failed", "run", job.ID, "error", err)
	}
	if _, err := report.WriteTileCSV(dir, info); err != nil {
		r.log.Warn("tile csv failed", "run", job.ID, "error", err)
	}

	resolved := 0
	for _, tr := range res.Tiles {
		if tr.Resolved() {
			resolved++
		}
	}
	return Result{
		Job: job,
		Meta: map[string]any{
			"output":     outPath,
			"survey":     survey.Name,
			"order":      order,
			"resolved":   resolved,
			"downloaded": res.Downloaded,
			"cache_hits": res.CacheHits,
			"target_x":   res.TargetX,
			"target_y":   res.TargetY,
		},
	}
}

// cropFor keeps the configured crop inside the survey's raw canvas.
func (r *Runner) cropFor(survey fetch.Survey) int {
	crop := r.mosaic.CropSize
	if max := 3 * survey.TileSize; crop > max || crop <= 0 {
		crop = max
	}
	return crop
}

func (r *Runner) recordTiles(runID string, res *mosaic.Result) {
	if r.store == nil {
		return
	}
	for _, tr := range res.Tiles {
		err := r.store.RecordTileResult(storage.TileRecord{
			RunID:        runID,
			GridX:        tr.GridX,
			GridY:        tr.GridY,
			Pixel:        tr.Pixel,
			RADeg:        tr.RADeg,
			DecDeg:       tr.DecDeg,
			EdgeFallback: tr.EdgeFallback,
			FromCache:    tr.FromCache,
			Downloaded:   tr.Downloaded,
			Size:         tr.Size,
			Error:        tr.Error,
		})
		if err != nil {
			r.log.Warn("tile record failed", "run", runID, "error", err)
		}
	}
}

func savePNG(path string, res *mosaic.Result) error {
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, res.Image); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
