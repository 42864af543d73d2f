// Package report writes per-run manifests: a human-readable summary and a
// CSV listing of the tile grid.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"skymosaic/internal/healpix"
	"skymosaic/internal/mosaic"
)

// RunInfo is everything the manifest needs about a completed run.
type RunInfo struct {
	RunID      string
	Target     healpix.SkyPosition
	Survey     string
	Order      int
	CropSize   int
	OutputPath string
	Duration   time.Duration
	Result     *mosaic.Result
}

// WriteSummary writes the text manifest next to the output image and returns
// its path.
func WriteSummary(dir string, info RunInfo) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "skymosaic run %s\n", info.RunID)
	fmt.Fprintf(&b, "generated: %s\n\n", time.Now().Format(time.RFC3339))
	if info.Target.Name != "" {
		fmt.Fprintf(&b, "target:   %s\n", info.Target.Name)
	}
	fmt.Fprintf(&b, "position: RA %.4f  Dec %.4f\n", info.Target.RADeg, info.Target.DecDeg)
	fmt.Fprintf(&b, "survey:   %s (order %d)\n", info.Survey, info.Order)
	fmt.Fprintf(&b, "output:   %s (%dx%d px)\n", info.OutputPath, info.CropSize, info.CropSize)
	fmt.Fprintf(&b, "duration: %s\n\n", info.Duration.Round(time.Millisecond))

	res := info.Result
	resolved := 0
	for _, tr := range res.Tiles {
		if tr.Resolved() {
			resolved++
		}
	}
	fmt.Fprintf(&b, "tiles: %d/%d resolved, %d downloaded, %d cache hits\n",
		resolved, len(res.Tiles), res.Downloaded, res.CacheHits)
	fmt.Fprintf(&b, "target pixel: (%d,%d) on %dx%d raw canvas, crop origin (%d,%d)\n\n",
		res.TargetX, res.TargetY, res.RawWidth, res.RawHeight, res.CropX, res.CropY)

	for _, tr := range res.Tiles {
		status := "ok"
		switch {
		case tr.Error != "":
			status = "FAILED: " + tr.Error
		case tr.EdgeFallback:
			status = "edge fallback"
		case tr.FromCache:
			status = "cached"
		}
		fmt.Fprintf(&b, "  (%d,%d) pixel %-10d RA %8.4f Dec %8.4f  %s\n",
			tr.GridX, tr.GridY, tr.Pixel, tr.RADeg, tr.DecDeg, status)
	}

	path := filepath.Join(dir, info.RunID+"-report.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("report: write summary: %w", err)
	}
	return path, nil
}

// WriteTileCSV writes the grid listing as CSV and returns its path.
func WriteTileCSV(dir string, info RunInfo) (string, error) {
	path := filepath.Join(dir, info.RunID+"-tiles.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"grid_x", "grid_y", "pixel", "ra_deg", "dec_deg", "edge_fallback", "from_cache", "downloaded", "size", "error"}); err != nil {
		return "", err
	}
	for _, tr := range info.Result.Tiles {
		rec := []string{
			strconv.Itoa(tr.GridX),
			strconv.Itoa(tr.GridY),
			strconv.FormatInt(tr.Pixel, 10),
			strconv.FormatFloat(tr.RADeg, 'f', 6, 64),
			strconv.FormatFloat(tr.DecDeg, 'f', 6, 64),
			strconv.FormatBool(tr.EdgeFallback),
			strconv.FormatBool(tr.FromCache),
			strconv.FormatBool(tr.Downloaded),
			strconv.FormatInt(tr.Size, 10),
			tr.Error,
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("report: flush csv: %w", err)
	}
	return path, nil
}

// ProbeResult is one survey/position probe outcome.
type ProbeResult struct {
	Survey   string
	Target   string
	RADeg    float64
	DecDeg   float64
	OK       bool
	Size     int64
	Error    string
	Duration time.Duration
}

// WriteProbeCSV writes survey probe results and returns the file path.
func WriteProbeCSV(dir string, results []ProbeResult) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("survey-probe-%s.csv", time.Now().Format("20060102-150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: create probe csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"survey", "target", "ra_deg", "dec_deg", "ok", "size", "duration_ms", "error"}); err != nil {
		return "", err
	}
	for _, r := range results {
		rec := []string{
			r.Survey,
			r.Target,
			strconv.FormatFloat(r.RADeg, 'f', 4, 64),
			strconv.FormatFloat(r.DecDeg, 'f', 4, 64),
			strconv.FormatBool(r.OK),
			strconv.FormatInt(r.Size, 10),
			strconv.FormatInt(r.Duration.Milliseconds(), 10),
			r.Error,
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("report: flush probe csv: %w", err)
	}
	return path, nil
}
