// Package healpix implements the NESTED scheme of the HEALPix equal-area
// sphere pixelization: forward and inverse mapping between sky coordinates
// and pixel indices, plus great-circle distance. Pure math, no I/O.
package healpix

import (
	"fmt"
	"math"
)

// MaxOrder is the highest resolution order representable with int64 pixel
// indices in the nested scheme.
const MaxOrder = 29

// SkyPosition is an equatorial coordinate in degrees.
type SkyPosition struct {
	RADeg       float64 `json:"ra_deg"`
	DecDeg      float64 `json:"dec_deg"`
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Normalized returns the position with RA wrapped into [0,360) and Dec
// clamped to [-90,90].
func (p SkyPosition) Normalized() SkyPosition {
	ra := math.Mod(p.RADeg, 360)
	if ra < 0 {
		ra += 360
	}
	dec := p.DecDeg
	if dec > 90 {
		dec = 90
	}
	if dec < -90 {
		dec = -90
	}
	p.RADeg = ra
	p.DecDeg = dec
	return p
}

// PixelIndex addresses one cell of the pixelization. It is only meaningful
// together with its resolution order.
type PixelIndex struct {
	Value int64 `json:"value"`
	Order int   `json:"order"`
}

// Nside returns the grid parameter 2^order.
func (p PixelIndex) Nside() int64 { return int64(1) << uint(p.Order) }

// Npix returns the total pixel count 12*4^order at this index's order.
func (p PixelIndex) Npix() int64 { return 12 * p.Nside() * p.Nside() }

func (p PixelIndex) String() string {
	return fmt.Sprintf("pixel %d (order %d)", p.Value, p.Order)
}

// IndexError reports an internal numerical failure in the forward or inverse
// mapping. It is fatal for the run that triggered it.
type IndexError struct {
	RADeg  float64
	DecDeg float64
	Order  int
	Reason string
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("healpix: indexing failed for RA=%.6f Dec=%.6f order=%d: %s",
		e.RADeg, e.DecDeg, e.Order, e.Reason)
}

// Face row/column anchors of the 12 base pixels, from the reference
// implementation.
var (
	jrll = [12]int64{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	jpll = [12]int64{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}
)

// spreadBits interleaves the low 32 bits of v into the even bit positions.
func spreadBits(v int64) int64 {
	x := uint64(v) & 0xffffffff
	x = (x | x<<16) & 0x0000ffff0000ffff
	x = (x | x<<8) & 0x00ff00ff00ff00ff
	x = (x | x<<4) & 0x0f0f0f0f0f0f0f0f
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return int64(x)
}

// compressBits is the inverse of spreadBits on the even bit positions.
func compressBits(v int64) int64 {
	x := uint64(v) & 0x5555555555555555
	x = (x | x>>1) & 0x3333333333333333
	x = (x | x>>2) & 0x0f0f0f0f0f0f0f0f
	x = (x | x>>4) & 0x00ff00ff00ff00ff
	x = (x | x>>8) & 0x0000ffff0000ffff
	x = (x | x>>16) & 0x00000000ffffffff
	return int64(x)
}

// xyfToNest builds a nested index from face coordinates.
func xyfToNest(order int, ix, iy, face int64) int64 {
	return face<<uint(2*order) | spreadBits(ix) | spreadBits(iy)<<1
}

// nestToXYF decomposes a nested index into face coordinates.
func nestToXYF(order int, pix int64) (ix, iy, face int64) {
	face = pix >> uint(2*order)
	p := pix & (int64(1)<<uint(2*order) - 1)
	ix = compressBits(p)
	iy = compressBits(p >> 1)
	return
}

// IndexFor maps a sky position to the nested pixel containing it at the
// given order. The position is normalized first; the only error condition
// is an invalid order or non-finite input.
func IndexFor(pos SkyPosition, order int) (PixelIndex, error) {
	if order < 0 || order > MaxOrder {
		return PixelIndex{}, &IndexError{pos.RADeg, pos.DecDeg, order, "order out of range"}
	}
	if math.IsNaN(pos.RADeg) || math.IsNaN(pos.DecDeg) ||
		math.IsInf(pos.RADeg, 0) || math.IsInf(pos.DecDeg, 0) {
		return PixelIndex{}, &IndexError{pos.RADeg, pos.DecDeg, order, "non-finite coordinate"}
	}
	p := pos.Normalized()
	theta := (90 - p.DecDeg) * math.Pi / 180
	phi := p.RADeg * math.Pi / 180
	return PixelIndex{Value: angToNest(order, theta, phi), Order: order}, nil
}

// CenterOf returns the sky coordinate of the pixel's centroid.
func CenterOf(index PixelIndex) (SkyPosition, error) {
	if index.Order < 0 || index.Order > MaxOrder {
		return SkyPosition{}, &IndexError{Order: index.Order, Reason: "order out of range"}
	}
	if index.Value < 0 || index.Value >= index.Npix() {
		return SkyPosition{}, &IndexError{Order: index.Order,
			Reason: fmt.Sprintf("pixel %d outside [0,%d)", index.Value, index.Npix())}
	}
	theta, phi := nestToAng(index.Order, index.Value)
	return SkyPosition{
		RADeg:  phi * 180 / math.Pi,
		DecDeg: 90 - theta*180/math.Pi,
	}, nil
}

// AngularDistance returns the great-circle separation of two positions in
// radians, using the haversine form for stability at small angles.
func AngularDistance(a, b SkyPosition) float64 {
	ra1 := a.RADeg * math.Pi / 180
	dec1 := a.DecDeg * math.Pi / 180
	ra2 := b.RADeg * math.Pi / 180
	dec2 := b.DecDeg * math.Pi / 180

	sdra := math.Sin((ra2 - ra1) / 2)
	sddec := math.Sin((dec2 - dec1) / 2)
	h := sddec*sddec + math.Cos(dec1)*math.Cos(dec2)*sdra*sdra
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// PixelAngularSize returns the characteristic angular size of one pixel at
// the given order, in radians (square root of the equal-area cell solid
// angle).
func PixelAngularSize(order int) float64 {
	nside := float64(int64(1) << uint(order))
	return math.Sqrt(4 * math.Pi / (12 * nside * nside))
}

func angToNest(order int, theta, phi float64) int64 {
	nside := int64(1) << uint(order)
	z := math.Cos(theta)
	za := math.Abs(z)
	tt := math.Mod(phi/(math.Pi/2), 4)
	if tt < 0 {
		tt += 4
	}

	var face, ix, iy int64
	if za <= 2.0/3.0 {
		// Equatorial region: locate the cell between the two edge lines.
		temp1 := float64(nside) * (0.5 + tt)
		temp2 := float64(nside) * (z * 0.75)
		jp := int64(temp1 - temp2)
		jm := int64(temp1 + temp2)
		ifp := jp >> uint(order)
		ifm := jm >> uint(order)
		switch {
		case ifp == ifm:
			face = ifp&3 + 4
		case ifp < ifm:
			face = ifp & 3
		default:
			face = ifm&3 + 8
		}
		ix = jm & (nside - 1)
		iy = nside - jp&(nside-1) - 1
	} else {
		// Polar caps.
		ntt := int64(tt)
		if ntt >= 4 {
			ntt = 3
		}
		tp := tt - float64(ntt)
		tmp := float64(nside) * math.Sqrt(3*(1-za))
		jp := int64(tp * tmp)
		jm := int64((1 - tp) * tmp)
		if jp >= nside {
			jp = nside - 1
		}
		if jm >= nside {
			jm = nside - 1
		}
		if z >= 0 {
			face = ntt
			ix = nside - jm - 1
			iy = nside - jp - 1
		} else {
			face = ntt + 8
			ix = jp
			iy = jm
		}
	}
	return xyfToNest(order, ix, iy, face)
}

func nestToAng(order int, pix int64) (theta, phi float64) {
	nside := int64(1) << uint(order)
	ix, iy, face := nestToXYF(order, pix)

	jr := jrll[face]*nside - ix - iy - 1
	var nr, kshift int64
	var z float64
	switch {
	case jr < nside: // north polar cap
		nr = jr
		z = 1 - float64(nr*nr)/(3*float64(nside)*float64(nside))
	case jr > 3*nside: // south polar cap
		nr = 4*nside - jr
		z = float64(nr*nr)/(3*float64(nside)*float64(nside)) - 1
	default: // equatorial belt
		nr = nside
		z = float64(2*nside-jr) * 2 / (3 * float64(nside))
		kshift = (jr - nside) & 1
	}

	jp := (jpll[face]*nr + ix - iy + 1 + kshift) / 2
	if jp > 4*nr {
		jp -= 4 * nr
	}
	if jp < 1 {
		jp += 4 * nr
	}

	theta = math.Acos(z)
	phi = (float64(jp) - float64(kshift+1)*0.5) * (math.Pi / 2) / float64(nr)
	return
}
