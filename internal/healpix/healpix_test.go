package healpix

import (
	"math"
	"testing"
)

var probePositions = []SkyPosition{
	{RADeg: 83.0, DecDeg: -5.4, Name: "Orion"},
	{RADeg: 10.6847, DecDeg: 41.2687, Name: "Andromeda"},
	{RADeg: 266.4, DecDeg: -29.0, Name: "Galactic_Center"},
	{RADeg: 186.25, DecDeg: 12.95, Name: "Virgo_Center"},
	{RADeg: 210.0, DecDeg: 54.0, Name: "Ursa_Major"},
	{RADeg: 0.0, DecDeg: 0.0, Name: "Equator_0h"},
	{RADeg: 180.0, DecDeg: 0.0, Name: "Equator_12h"},
	{RADeg: 201.0, DecDeg: -43.0, Name: "Centaurus"},
	{RADeg: 45.0, DecDeg: 89.5, Name: "Near_NCP"},
	{RADeg: 300.0, DecDeg: -89.5, Name: "Near_SCP"},
}

func TestIndexForRange(t *testing.T) {
	for _, pos := range probePositions {
		for order := 0; order <= 12; order++ {
			idx, err := IndexFor(pos, order)
			if err != nil {
				t.Fatalf("IndexFor(%s, %d): %v", pos.Name, order, err)
			}
			if idx.Value < 0 || idx.Value >= idx.Npix() {
				t.Fatalf("IndexFor(%s, %d) = %d, outside [0,%d)", pos.Name, order, idx.Value, idx.Npix())
			}
			if idx.Order != order {
				t.Fatalf("IndexFor(%s, %d) carried order %d", pos.Name, order, idx.Order)
			}
		}
	}
}

func TestRoundTripWithinCell(t *testing.T) {
	for _, pos := range probePositions {
		for order := 3; order <= 10; order++ {
			idx, err := IndexFor(pos, order)
			if err != nil {
				t.Fatalf("IndexFor(%s, %d): %v", pos.Name, order, err)
			}
			center, err := CenterOf(idx)
			if err != nil {
				t.Fatalf("CenterOf(%v): %v", idx, err)
			}
			dist := AngularDistance(pos, center)
			if dist > PixelAngularSize(order) {
				t.Fatalf("%s order %d: center %.4f rad away, cell size %.4f rad",
					pos.Name, order, dist, PixelAngularSize(order))
			}
		}
	}
}

func TestForwardInverseConsistency(t *testing.T) {
	// The centroid of every sampled pixel must map back to that pixel.
	const order = 6
	npix := int64(12) << uint(2*order)
	for pix := int64(0); pix < npix; pix += 101 {
		center, err := CenterOf(PixelIndex{Value: pix, Order: order})
		if err != nil {
			t.Fatalf("CenterOf(%d): %v", pix, err)
		}
		back, err := IndexFor(center, order)
		if err != nil {
			t.Fatalf("IndexFor(center of %d): %v", pix, err)
		}
		if back.Value != pix {
			t.Fatalf("pixel %d center maps back to %d", pix, back.Value)
		}
	}
}

func TestAngularDistanceProperties(t *testing.T) {
	a := SkyPosition{RADeg: 10.6847, DecDeg: 41.2687}
	b := SkyPosition{RADeg: 83.0, DecDeg: -5.4}

	if d := AngularDistance(a, a); d != 0 {
		t.Fatalf("distance to self = %g, want 0", d)
	}
	if AngularDistance(a, b) != AngularDistance(b, a) {
		t.Fatalf("distance not symmetric")
	}
	if d := AngularDistance(a, b); d < 0 || d > math.Pi {
		t.Fatalf("distance %g outside [0,pi]", d)
	}

	north := SkyPosition{RADeg: 0, DecDeg: 90}
	south := SkyPosition{RADeg: 0, DecDeg: -90}
	if d := AngularDistance(north, south); math.Abs(d-math.Pi) > 1e-12 {
		t.Fatalf("pole-to-pole distance %g, want pi", d)
	}

	// RA wraparound: 359.9 and 0.1 on the equator are 0.2 degrees apart.
	w1 := SkyPosition{RADeg: 359.9, DecDeg: 0}
	w2 := SkyPosition{RADeg: 0.1, DecDeg: 0}
	want := 0.2 * math.Pi / 180
	if d := AngularDistance(w1, w2); math.Abs(d-want) > 1e-9 {
		t.Fatalf("wraparound distance %g, want %g", d, want)
	}
}

func TestNormalized(t *testing.T) {
	p := SkyPosition{RADeg: -10, DecDeg: 95}.Normalized()
	if p.RADeg != 350 || p.DecDeg != 90 {
		t.Fatalf("Normalized gave RA=%g Dec=%g", p.RADeg, p.DecDeg)
	}
	p = SkyPosition{RADeg: 725, DecDeg: -95}.Normalized()
	if p.RADeg != 5 || p.DecDeg != -90 {
		t.Fatalf("Normalized gave RA=%g Dec=%g", p.RADeg, p.DecDeg)
	}
}

func TestIndexForRejectsBadInput(t *testing.T) {
	if _, err := IndexFor(SkyPosition{RADeg: math.NaN()}, 8); err == nil {
		t.Fatalf("expected error for NaN RA")
	}
	if _, err := IndexFor(SkyPosition{}, -1); err == nil {
		t.Fatalf("expected error for negative order")
	}
	if _, err := IndexFor(SkyPosition{}, MaxOrder+1); err == nil {
		t.Fatalf("expected error for order beyond MaxOrder")
	}
	if _, err := CenterOf(PixelIndex{Value: 1 << 40, Order: 3}); err == nil {
		t.Fatalf("expected error for pixel outside order range")
	}
}

func TestNeighborsInterior(t *testing.T) {
	// A mid-latitude pixel sits in a face interior and has 8 distinct
	// neighbors, each roughly one cell away from the center.
	const order = 8
	idx, err := IndexFor(SkyPosition{RADeg: 10.6847, DecDeg: 41.2687}, order)
	if err != nil {
		t.Fatalf("IndexFor: %v", err)
	}
	nbs, err := Neighbors(idx)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}

	center, _ := CenterOf(idx)
	seen := map[int64]bool{idx.Value: true}
	for i, nb := range nbs {
		if nb == NoNeighbor {
			t.Fatalf("slot %d missing for interior pixel %d", i, idx.Value)
		}
		if seen[nb] {
			t.Fatalf("duplicate neighbor %d", nb)
		}
		seen[nb] = true

		nbCenter, err := CenterOf(PixelIndex{Value: nb, Order: order})
		if err != nil {
			t.Fatalf("CenterOf(neighbor %d): %v", nb, err)
		}
		dist := AngularDistance(center, nbCenter)
		if dist > 3*PixelAngularSize(order) {
			t.Fatalf("neighbor %d is %.5f rad away, too far for adjacency", nb, dist)
		}
	}
}

func TestNeighborsMutual(t *testing.T) {
	// Adjacency is symmetric: the center must appear among each
	// neighbor's own neighbors, including across face boundaries.
	const order = 4
	npix := int64(12) << uint(2*order)
	for pix := int64(0); pix < npix; pix += 17 {
		idx := PixelIndex{Value: pix, Order: order}
		nbs, err := Neighbors(idx)
		if err != nil {
			t.Fatalf("Neighbors(%d): %v", pix, err)
		}
		for _, nb := range nbs {
			if nb == NoNeighbor {
				continue
			}
			back, err := Neighbors(PixelIndex{Value: nb, Order: order})
			if err != nil {
				t.Fatalf("Neighbors(%d): %v", nb, err)
			}
			found := false
			for _, b := range back {
				if b == pix {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("pixel %d lists %d as neighbor but not vice versa", pix, nb)
			}
		}
	}
}
