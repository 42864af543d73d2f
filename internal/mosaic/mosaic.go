// Package mosaic assembles a target-centered image from a 3x3 grid of sky
// tiles. The assembler is an explicit state machine; each run walks
// Idle -> GridBuilt -> FetchingTile -> AllTilesResolved -> RawAssembled ->
// Centered -> Done, or stops at Failed.
package mosaic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"

	_ "image/jpeg"
	_ "image/png"

	"skymosaic/internal/cache"
	"skymosaic/internal/fetch"
	"skymosaic/internal/grid"
	"skymosaic/internal/healpix"
)

// State names one phase of an assembly run.
type State string

const (
	StateIdle             State = "idle"
	StateGridBuilt        State = "grid_built"
	StateFetchingTile     State = "fetching_tile"
	StateAllTilesResolved State = "all_tiles_resolved"
	StateRawAssembled     State = "raw_assembled"
	StateCentered         State = "centered"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// AssemblyError is fatal for a run: no usable output can be produced.
type AssemblyError struct {
	Stage  State
	Reason string
	Err    error
}

func (e *AssemblyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mosaic: %s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("mosaic: %s: %s", e.Stage, e.Reason)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// TileSource downloads one tile. *fetch.Fetcher satisfies it; tests inject
// stubs.
type TileSource interface {
	Tile(ctx context.Context, survey fetch.Survey, pix int64, order int) ([]byte, error)
}

// Request describes one mosaic run.
type Request struct {
	Target   healpix.SkyPosition
	Survey   fetch.Survey
	Order    int
	CropSize int
	Annotate bool
}

// TileResult records the outcome for one grid cell.
type TileResult struct {
	GridX        int     `json:"grid_x"`
	GridY        int     `json:"grid_y"`
	Pixel        int64   `json:"pixel"`
	RADeg        float64 `json:"ra_deg"`
	DecDeg       float64 `json:"dec_deg"`
	EdgeFallback bool    `json:"edge_fallback"`
	FromCache    bool    `json:"from_cache"`
	Downloaded   bool    `json:"downloaded"`
	Size         int64   `json:"size"`
	Error        string  `json:"error,omitempty"`
}

// Resolved reports whether the cell produced usable image data.
func (t TileResult) Resolved() bool { return t.Error == "" }

// Result is a completed run.
type Result struct {
	Image      *image.RGBA
	RawWidth   int
	RawHeight  int
	TargetX    int
	TargetY    int
	CropX      int
	CropY      int
	Tiles      []TileResult
	Downloaded int
	CacheHits  int
}

// Assembler runs mosaic assemblies against a fixed resolver, cache and tile
// source. Safe to reuse across runs; per-run state lives on the stack.
type Assembler struct {
	resolver *grid.Resolver
	cache    *cache.Cache
	source   TileSource
	log      *slog.Logger

	// Progress, when set, observes every state transition. The int is the
	// tile ordinal during StateFetchingTile, -1 otherwise.
	Progress func(State, int)
}

// New returns an assembler. A nil logger discards output.
func New(resolver *grid.Resolver, c *cache.Cache, source TileSource, log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Assembler{resolver: resolver, cache: c, source: source, log: log}
}

func (a *Assembler) transition(s State, tile int) {
	if a.Progress != nil {
		a.Progress(s, tile)
	}
}

// Run executes one assembly. Per-tile failures are recoverable; the run
// fails only when indexing breaks, no tile at all resolves, or the context
// is canceled. Tiles fetched before a cancellation stay cached.
func (a *Assembler) Run(ctx context.Context, req Request) (*Result, error) {
	a.transition(StateIdle, -1)

	fail := func(stage State, reason string, err error) (*Result, error) {
		a.transition(StateFailed, -1)
		return nil, &AssemblyError{Stage: stage, Reason: reason, Err: err}
	}

	if req.Order != a.resolver.Order() {
		return fail(StateIdle, fmt.Sprintf("request order %d does not match resolver order %d", req.Order, a.resolver.Order()), nil)
	}
	tileSize := req.Survey.TileSize
	rawSize := 3 * tileSize
	if req.CropSize <= 0 {
		return fail(StateIdle, fmt.Sprintf("crop size %d must be positive", req.CropSize), nil)
	}
	// Oversized crops clamp to the raw canvas instead of failing.
	if req.CropSize > rawSize {
		a.log.Warn("crop size clamped to raw canvas", "requested", req.CropSize, "canvas", rawSize)
		req.CropSize = rawSize
	}

	center, err := healpix.IndexFor(req.Target, req.Order)
	if err != nil {
		return fail(StateIdle, "indexing target", err)
	}
	g, err := a.resolver.Build3x3(center)
	if err != nil {
		return fail(StateIdle, "building grid", err)
	}
	a.transition(StateGridBuilt, -1)
	a.log.Info("grid built",
		"target", req.Target.Name,
		"pixel", center.Value,
		"order", req.Order,
		"fallback_cells", g.FallbackCount())

	tiles, images, res := a.resolveTiles(ctx, req, g)
	if err := ctx.Err(); err != nil {
		return fail(StateFetchingTile, "canceled", err)
	}
	a.transition(StateAllTilesResolved, -1)

	resolved := 0
	for _, t := range tiles {
		if t.Resolved() {
			resolved++
		}
	}
	if resolved == 0 {
		return fail(StateAllTilesResolved, "no tile resolved", nil)
	}

	raw := a.assembleRaw(tileSize, g, images)
	a.transition(StateRawAssembled, -1)

	tx, ty := locateTargetPixel(req.Target, g, tileSize, req.Survey.ArcsecPerPixel)
	cropped, cx, cy := cropCentered(raw, tx, ty, req.CropSize)
	a.transition(StateCentered, -1)

	if req.Annotate {
		annotate(cropped, tx-cx, ty-cy, req.Target)
	}

	res.Image = cropped
	res.RawWidth = rawSize
	res.RawHeight = rawSize
	res.TargetX = tx
	res.TargetY = ty
	res.CropX = cx
	res.CropY = cy
	res.Tiles = tiles

	a.transition(StateDone, -1)
	a.log.Info("mosaic complete",
		"target", req.Target.Name,
		"resolved", resolved,
		"downloaded", res.Downloaded,
		"cache_hits", res.CacheHits)
	return res, nil
}

// resolveTiles walks the grid sequentially, cache first, network second.
// Fallback cells reuse the center pixel's tile, so at most the distinct
// pixels hit the network.
func (a *Assembler) resolveTiles(ctx context.Context, req Request, g *grid.TileGrid) ([]TileResult, map[int64]image.Image, *Result) {
	res := &Result{}
	images := make(map[int64]image.Image)
	failed := make(map[int64]string)
	var tiles []TileResult

	ordinal := 0
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			cell := g.Cell(x, y)
			tr := TileResult{
				GridX:        x,
				GridY:        y,
				Pixel:        cell.Pixel.Value,
				RADeg:        cell.Center.RADeg,
				DecDeg:       cell.Center.DecDeg,
				EdgeFallback: cell.EdgeFallback,
			}
			ordinal++
			a.transition(StateFetchingTile, ordinal)

			// Fallback cells share the center pixel; a pixel already
			// resolved (or already failed) in this run is not retried.
			if _, ok := images[cell.Pixel.Value]; ok {
				tiles = append(tiles, tr)
				continue
			}
			if reason, ok := failed[cell.Pixel.Value]; ok {
				tr.Error = reason
				tiles = append(tiles, tr)
				continue
			}
			if ctx.Err() != nil {
				tr.Error = ctx.Err().Error()
				tiles = append(tiles, tr)
				continue
			}

			data, tr2 := a.resolveOne(ctx, req, cell)
			tr.FromCache = tr2.FromCache
			tr.Downloaded = tr2.Downloaded
			tr.Size = tr2.Size
			tr.Error = tr2.Error

			if tr.Error == "" {
				img, _, err := image.Decode(bytes.NewReader(data))
				if err != nil {
					tr.Error = fmt.Sprintf("decode: %v", err)
				} else {
					images[cell.Pixel.Value] = img
					if tr.Downloaded {
						res.Downloaded++
					}
					if tr.FromCache {
						res.CacheHits++
					}
				}
			}
			if tr.Error != "" {
				failed[cell.Pixel.Value] = tr.Error
				a.log.Warn("tile unresolved",
					"grid_x", x, "grid_y", y,
					"pixel", cell.Pixel.Value,
					"error", tr.Error)
			}
			tiles = append(tiles, tr)
		}
	}
	return tiles, images, res
}

func (a *Assembler) resolveOne(ctx context.Context, req Request, cell *grid.Cell) ([]byte, TileResult) {
	var tr TileResult
	q := cache.Query{
		RADeg:  cell.Center.RADeg,
		DecDeg: cell.Center.DecDeg,
		Width:  req.Survey.TileSize,
		Height: req.Survey.TileSize,
		Survey: req.Survey.Name,
		Format: req.Survey.Format,
	}

	if a.cache != nil {
		data, ok, err := a.cache.Get(q)
		if ok {
			tr.FromCache = true
			tr.Size = int64(len(data))
			return data, tr
		}
		var corrupt *cache.CorruptionError
		if err != nil && errors.As(err, &corrupt) {
			a.log.Warn("corrupt cache entry dropped", "key", corrupt.Key, "reason", corrupt.Reason)
		}
	}

	data, err := a.source.Tile(ctx, req.Survey, cell.Pixel.Value, req.Order)
	if err != nil {
		tr.Error = err.Error()
		return nil, tr
	}
	tr.Downloaded = true
	tr.Size = int64(len(data))

	if a.cache != nil {
		if err := a.cache.Put(q, data); err != nil {
			a.log.Warn("cache store failed", "pixel", cell.Pixel.Value, "error", err)
		}
	}
	return data, tr
}

// assembleRaw blits every resolved tile onto a black canvas at its grid
// offset. Unresolved cells stay black.
func (a *Assembler) assembleRaw(tileSize int, g *grid.TileGrid, images map[int64]image.Image) *image.RGBA {
	rawSize := 3 * tileSize
	canvas := image.NewRGBA(image.Rect(0, 0, rawSize, rawSize))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			img, ok := images[g.Cell(x, y).Pixel.Value]
			if !ok {
				continue
			}
			dst := image.Rect(x*tileSize, y*tileSize, (x+1)*tileSize, (y+1)*tileSize)
			draw.Draw(canvas, dst, img, img.Bounds().Min, draw.Src)
		}
	}
	return canvas
}

// locateTargetPixel maps the target coordinate to raw-canvas pixels. The
// anchor is the angularly nearest non-fallback cell; the offset from its
// centroid is converted by the survey pixel scale, with the RA term
// compressed by cos(dec) and the Dec axis inverted (north is up, canvas y
// grows down).
func locateTargetPixel(target healpix.SkyPosition, g *grid.TileGrid, tileSize int, arcsecPerPixel float64) (int, int) {
	bestX, bestY := 1, 1
	bestDist := math.Inf(1)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			cell := g.Cell(x, y)
			if cell.EdgeFallback {
				continue
			}
			d := healpix.AngularDistance(target, cell.Center)
			if d < bestDist {
				bestDist = d
				bestX, bestY = x, y
			}
		}
	}
	anchor := g.Cell(bestX, bestY)

	dra := target.RADeg - anchor.Center.RADeg
	for dra > 180 {
		dra -= 360
	}
	for dra < -180 {
		dra += 360
	}
	dxArcsec := dra * math.Cos(target.DecDeg*math.Pi/180) * 3600
	dyArcsec := (target.DecDeg - anchor.Center.DecDeg) * 3600

	px := bestX*tileSize + tileSize/2 + int(math.Round(dxArcsec/arcsecPerPixel))
	py := bestY*tileSize + tileSize/2 - int(math.Round(dyArcsec/arcsecPerPixel))

	rawSize := 3 * tileSize
	px = clamp(px, 0, rawSize-1)
	py = clamp(py, 0, rawSize-1)
	return px, py
}

// cropCentered copies a size x size window around (tx, ty), sliding the
// window back inside the canvas at the edges rather than failing.
func cropCentered(raw *image.RGBA, tx, ty, size int) (*image.RGBA, int, int) {
	rawW := raw.Bounds().Dx()
	rawH := raw.Bounds().Dy()
	cx := clamp(tx-size/2, 0, rawW-size)
	cy := clamp(ty-size/2, 0, rawH-size)

	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), raw, image.Pt(cx, cy), draw.Src)
	return out, cx, cy
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
