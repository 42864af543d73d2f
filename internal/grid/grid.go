// Package grid resolves the eight pixels surrounding a center pixel into a
// geometrically consistent 3x3 tile grid. The pixelization's native neighbor
// enumeration order varies with pixel phase, so directions are always
// re-derived from angular offsets instead of trusting slot positions.
package grid

import (
	"fmt"
	"math"

	"skymosaic/internal/healpix"
)

// Direction is one of the eight compass octants around the center pixel.
type Direction string

const (
	North     Direction = "N"
	NorthEast Direction = "NE"
	East      Direction = "E"
	SouthEast Direction = "SE"
	South     Direction = "S"
	SouthWest Direction = "SW"
	West      Direction = "W"
	NorthWest Direction = "NW"
)

// compassOrder lists octants clockwise from North; octant i covers bearing
// i*45 degrees.
var compassOrder = [8]Direction{North, NorthEast, East, SouthEast, South, SouthWest, West, NorthWest}

// gridSlot maps each direction to its cell in the 3x3 layout. Row 0 is the
// north edge, column 0 the west edge.
var gridSlot = map[Direction][2]int{
	NorthWest: {0, 0}, North: {1, 0}, NorthEast: {2, 0},
	West: {0, 1}, East: {2, 1},
	SouthWest: {0, 2}, South: {1, 2}, SouthEast: {2, 2},
}

// DirectionalNeighbors maps compass octants to neighbor pixels. Entries may
// be missing near the pixelization's polar corner gaps.
type DirectionalNeighbors map[Direction]healpix.PixelIndex

// Cell is one slot of the 3x3 tile grid.
type Cell struct {
	GridX int
	GridY int
	Pixel healpix.PixelIndex
	// Center is the sky coordinate of the pixel centroid.
	Center healpix.SkyPosition
	// EdgeFallback marks a cell whose true neighbor is absent; it carries
	// the center pixel as a stand-in and must not be treated as distinct
	// image data in offset math.
	EdgeFallback bool
}

// TileGrid is the 3x3 arrangement around a center pixel. Cells[y][x], with
// (1,1) always the center pixel itself.
type TileGrid struct {
	Order int
	Cells [3][3]Cell
}

// Cell returns the cell at grid coordinates (x, y).
func (g *TileGrid) Cell(x, y int) *Cell { return &g.Cells[y][x] }

// FallbackCount returns how many cells carry the edge-fallback stand-in.
func (g *TileGrid) FallbackCount() int {
	n := 0
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			if g.Cells[y][x].EdgeFallback {
				n++
			}
		}
	}
	return n
}

// AmbiguityError reports duplicate pixels among non-fallback cells, which
// indicates a neighbor-resolution defect rather than a coverage edge.
type AmbiguityError struct {
	Pixel  int64
	Order  int
	CellsA [2]int
	CellsB [2]int
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("grid: pixel %d (order %d) appears at both (%d,%d) and (%d,%d)",
		e.Pixel, e.Order, e.CellsA[0], e.CellsA[1], e.CellsB[0], e.CellsB[1])
}

// Resolver derives compass-ordered neighbors for pixels at a fixed order.
// Adjacency is only valid within one order, so the order is bound at
// construction.
type Resolver struct {
	order int
}

// NewResolver returns a resolver for the given resolution order.
func NewResolver(order int) *Resolver {
	return &Resolver{order: order}
}

// Order returns the resolution order the resolver is bound to.
func (r *Resolver) Order() int { return r.order }

// NeighborsOf returns the center's adjacent pixels keyed by true compass
// direction. Each neighbor's bearing is computed from its centroid offset
// (RA cosine-corrected by declination) and bucketed into the nearest free
// octant; a neighbor that cannot be placed within one octant of its bearing
// is dropped rather than mislabeled.
func (r *Resolver) NeighborsOf(center healpix.PixelIndex) (DirectionalNeighbors, error) {
	if center.Order != r.order {
		return nil, fmt.Errorf("grid: pixel order %d does not match resolver order %d", center.Order, r.order)
	}
	centerPos, err := healpix.CenterOf(center)
	if err != nil {
		return nil, err
	}
	raw, err := healpix.Neighbors(center)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		pixel   healpix.PixelIndex
		bearing float64
		octant  int
		dev     float64
	}
	var cands []candidate
	for _, nb := range raw {
		if nb == healpix.NoNeighbor {
			continue
		}
		idx := healpix.PixelIndex{Value: nb, Order: r.order}
		pos, err := healpix.CenterOf(idx)
		if err != nil {
			return nil, err
		}
		b := bearingFrom(centerPos, pos)
		oct := int(math.Round(b/45)) % 8
		cands = append(cands, candidate{
			pixel:   idx,
			bearing: b,
			octant:  oct,
			dev:     octantDeviation(b, oct),
		})
	}

	// Assign best-fitting neighbors first so that a collision displaces
	// the worse fit, never the better one.
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].dev < cands[j-1].dev; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}

	taken := [8]bool{}
	result := make(DirectionalNeighbors, 8)
	for _, c := range cands {
		placed := false
		for _, oct := range []int{c.octant, (c.octant + 1) % 8, (c.octant + 7) % 8} {
			if !taken[oct] {
				taken[oct] = true
				result[compassOrder[oct]] = c.pixel
				placed = true
				break
			}
		}
		if !placed {
			// More than three neighbors crowding one octant pair only
			// happens at pathological pole phases; treat the leftover
			// as absent coverage.
			continue
		}
	}
	return result, nil
}

// Build3x3 assembles the tile grid around center. Missing neighbors fall
// back to the center pixel with EdgeFallback set; duplicate pixels among
// non-fallback cells surface as an AmbiguityError.
func (r *Resolver) Build3x3(center healpix.PixelIndex) (*TileGrid, error) {
	neighbors, err := r.NeighborsOf(center)
	if err != nil {
		return nil, err
	}
	centerPos, err := healpix.CenterOf(center)
	if err != nil {
		return nil, err
	}

	g := &TileGrid{Order: r.order}
	g.Cells[1][1] = Cell{GridX: 1, GridY: 1, Pixel: center, Center: centerPos}

	for dir, slot := range gridSlot {
		x, y := slot[0], slot[1]
		cell := Cell{GridX: x, GridY: y}
		if nb, ok := neighbors[dir]; ok {
			pos, err := healpix.CenterOf(nb)
			if err != nil {
				return nil, err
			}
			cell.Pixel = nb
			cell.Center = pos
		} else {
			cell.Pixel = center
			cell.Center = centerPos
			cell.EdgeFallback = true
		}
		g.Cells[y][x] = cell
	}

	if err := g.checkDistinct(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *TileGrid) checkDistinct() error {
	type loc struct{ x, y int }
	seen := map[int64]loc{}
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			cell := g.Cells[y][x]
			if cell.EdgeFallback {
				continue
			}
			if prev, ok := seen[cell.Pixel.Value]; ok {
				return &AmbiguityError{
					Pixel:  cell.Pixel.Value,
					Order:  g.Order,
					CellsA: [2]int{prev.x, prev.y},
					CellsB: [2]int{x, y},
				}
			}
			seen[cell.Pixel.Value] = loc{x, y}
		}
	}
	return nil
}

// bearingFrom returns the compass bearing from a to b in degrees [0,360):
// 0 = north (increasing Dec), 90 = east (increasing RA), with the RA offset
// compressed by cos(dec) to account for meridian convergence.
func bearingFrom(a, b healpix.SkyPosition) float64 {
	dra := b.RADeg - a.RADeg
	for dra > 180 {
		dra -= 360
	}
	for dra < -180 {
		dra += 360
	}
	dra *= math.Cos(a.DecDeg * math.Pi / 180)
	ddec := b.DecDeg - a.DecDeg

	bearing := math.Atan2(dra, ddec) * 180 / math.Pi
	if bearing < 0 {
		bearing += 360
	}
	return bearing
}

// octantDeviation is the absolute angular distance from a bearing to an
// octant's center direction.
func octantDeviation(bearing float64, octant int) float64 {
	d := math.Abs(bearing - float64(octant*45))
	if d > 180 {
		d = 360 - d
	}
	return d
}
