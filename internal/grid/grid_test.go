package grid

import (
	"errors"
	"math"
	"testing"

	"skymosaic/internal/healpix"
)

func TestBuild3x3Interior(t *testing.T) {
	const order = 8
	r := NewResolver(order)
	center, err := healpix.IndexFor(healpix.SkyPosition{RADeg: 10.6847, DecDeg: 41.2687}, order)
	if err != nil {
		t.Fatalf("IndexFor: %v", err)
	}
	g, err := r.Build3x3(center)
	if err != nil {
		t.Fatalf("Build3x3: %v", err)
	}

	if g.Cells[1][1].Pixel != center {
		t.Fatalf("center cell holds %v, want %v", g.Cells[1][1].Pixel, center)
	}
	if n := g.FallbackCount(); n != 0 {
		t.Fatalf("%d fallback cells for an interior pixel", n)
	}

	seen := map[int64]bool{}
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			cell := g.Cells[y][x]
			if cell.GridX != x || cell.GridY != y {
				t.Fatalf("cell at (%d,%d) carries coordinates (%d,%d)", x, y, cell.GridX, cell.GridY)
			}
			if seen[cell.Pixel.Value] {
				t.Fatalf("pixel %d appears twice", cell.Pixel.Value)
			}
			seen[cell.Pixel.Value] = true
		}
	}
}

func TestDirectionsMatchGeometry(t *testing.T) {
	// Each labeled neighbor's centroid must actually lie in (or within one
	// octant of) the labeled direction, across varied sky positions.
	const order = 8
	r := NewResolver(order)
	positions := []healpix.SkyPosition{
		{RADeg: 83.0, DecDeg: -5.4},
		{RADeg: 10.6847, DecDeg: 41.2687},
		{RADeg: 266.4, DecDeg: -29.0},
		{RADeg: 0.0, DecDeg: 0.0},
		{RADeg: 210.0, DecDeg: 54.0},
	}
	for _, pos := range positions {
		center, err := healpix.IndexFor(pos, order)
		if err != nil {
			t.Fatalf("IndexFor: %v", err)
		}
		centerPos, _ := healpix.CenterOf(center)
		nbs, err := r.NeighborsOf(center)
		if err != nil {
			t.Fatalf("NeighborsOf: %v", err)
		}
		for dir, nb := range nbs {
			nbPos, _ := healpix.CenterOf(nb)
			b := bearingFrom(centerPos, nbPos)
			oct := -1
			for i, d := range compassOrder {
				if d == dir {
					oct = i
				}
			}
			if dev := octantDeviation(b, oct); dev > 67.5 {
				t.Fatalf("RA=%.1f Dec=%.1f: neighbor labeled %s has bearing %.1f (off by %.1f)",
					pos.RADeg, pos.DecDeg, dir, b, dev)
			}
		}
	}
}

func TestNorthSouthOrientation(t *testing.T) {
	// The top row must sit at higher declination than the bottom row for an
	// equatorial target; this pins the row layout against axis flips.
	const order = 8
	r := NewResolver(order)
	center, err := healpix.IndexFor(healpix.SkyPosition{RADeg: 83.0, DecDeg: -5.4}, order)
	if err != nil {
		t.Fatalf("IndexFor: %v", err)
	}
	g, err := r.Build3x3(center)
	if err != nil {
		t.Fatalf("Build3x3: %v", err)
	}
	topDec := g.Cells[0][1].Center.DecDeg
	bottomDec := g.Cells[2][1].Center.DecDeg
	if topDec <= bottomDec {
		t.Fatalf("north row Dec %.4f not above south row Dec %.4f", topDec, bottomDec)
	}
}

func TestFallbackNearPole(t *testing.T) {
	// Pixels touching the polar corner gaps have fewer than 8 neighbors;
	// the grid must fill the gaps with flagged center stand-ins instead of
	// failing or duplicating silently.
	const order = 4
	r := NewResolver(order)
	npix := int64(12) << uint(2*order)

	sawFallback := false
	for pix := int64(0); pix < npix; pix++ {
		idx := healpix.PixelIndex{Value: pix, Order: order}
		nbs, err := healpix.Neighbors(idx)
		if err != nil {
			t.Fatalf("Neighbors(%d): %v", pix, err)
		}
		missing := 0
		for _, nb := range nbs {
			if nb == healpix.NoNeighbor {
				missing++
			}
		}
		if missing == 0 {
			continue
		}
		sawFallback = true

		g, err := r.Build3x3(idx)
		if err != nil {
			t.Fatalf("Build3x3(%d): %v", pix, err)
		}
		if g.FallbackCount() == 0 {
			t.Fatalf("pixel %d has %d missing neighbors but no fallback cells", pix, missing)
		}
		for y := 0; y < 3; y++ {
			for x := 0; x < 3; x++ {
				cell := g.Cells[y][x]
				if cell.EdgeFallback && cell.Pixel != idx {
					t.Fatalf("fallback cell (%d,%d) holds %v, want center", x, y, cell.Pixel)
				}
			}
		}
	}
	if !sawFallback {
		t.Fatalf("no corner-gap pixel found at order %d", order)
	}
}

func TestBuild3x3WholeSkyNoAmbiguity(t *testing.T) {
	// Non-fallback duplicates anywhere on the sphere are a resolver defect.
	const order = 5
	r := NewResolver(order)
	npix := int64(12) << uint(2*order)
	for pix := int64(0); pix < npix; pix += 7 {
		_, err := r.Build3x3(healpix.PixelIndex{Value: pix, Order: order})
		if err != nil {
			var amb *AmbiguityError
			if errors.As(err, &amb) {
				t.Fatalf("pixel %d: %v", pix, amb)
			}
			t.Fatalf("Build3x3(%d): %v", pix, err)
		}
	}
}

func TestResolverRejectsOrderMismatch(t *testing.T) {
	r := NewResolver(8)
	_, err := r.NeighborsOf(healpix.PixelIndex{Value: 0, Order: 4})
	if err == nil {
		t.Fatalf("expected order mismatch error")
	}
}

func TestBearingFrom(t *testing.T) {
	a := healpix.SkyPosition{RADeg: 100, DecDeg: 30}

	cases := []struct {
		b    healpix.SkyPosition
		want float64
	}{
		{healpix.SkyPosition{RADeg: 100, DecDeg: 31}, 0},    // due north
		{healpix.SkyPosition{RADeg: 101, DecDeg: 30}, 90},   // due east
		{healpix.SkyPosition{RADeg: 100, DecDeg: 29}, 180},  // due south
		{healpix.SkyPosition{RADeg: 99, DecDeg: 30}, 270},   // due west
	}
	for _, tc := range cases {
		got := bearingFrom(a, tc.b)
		if math.Abs(got-tc.want) > 0.01 {
			t.Fatalf("bearing to (%.1f,%.1f) = %.2f, want %.2f", tc.b.RADeg, tc.b.DecDeg, got, tc.want)
		}
	}

	// Wraparound: from RA 359.9 toward RA 0.1 is eastward.
	w := bearingFrom(healpix.SkyPosition{RADeg: 359.9, DecDeg: 0}, healpix.SkyPosition{RADeg: 0.1, DecDeg: 0})
	if math.Abs(w-90) > 0.01 {
		t.Fatalf("wraparound bearing = %.2f, want 90", w)
	}
}
