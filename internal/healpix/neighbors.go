package healpix

// Neighbor enumeration for the nested scheme, including the cross-face
// cases. The slot order of the result follows the reference implementation
// (SW, W, NW, N, NE, E, SE, S) but is NOT geometrically reliable across all
// pixel phases — callers that need true compass directions must re-derive
// them from the neighbor centroids.

var (
	nbXOffset = [8]int64{-1, -1, 0, 1, 1, 1, 0, -1}
	nbYOffset = [8]int64{0, 1, 1, 1, 0, -1, -1, -1}

	// nbFace[n][face] is the face reached by stepping off `face` in
	// boundary direction n; -1 where no neighbor exists (the corner gaps
	// of the polar faces).
	nbFace = [9][12]int64{
		{8, 9, 10, 11, -1, -1, -1, -1, 10, 11, 8, 9},
		{5, 6, 7, 4, 8, 9, 10, 11, 9, 10, 11, 8},
		{-1, -1, -1, -1, 5, 6, 7, 4, -1, -1, -1, -1},
		{4, 5, 6, 7, 11, 8, 9, 10, 11, 8, 9, 10},
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
		{1, 2, 3, 0, 0, 1, 2, 3, 5, 6, 7, 4},
		{-1, -1, -1, -1, 7, 4, 5, 6, -1, -1, -1, -1},
		{3, 0, 1, 2, 3, 0, 1, 2, 4, 5, 6, 7},
		{2, 3, 0, 1, -1, -1, -1, -1, 0, 1, 2, 3},
	}

	// nbSwap[n][face/4] encodes the coordinate transform on a face
	// crossing: bit 0 flips x, bit 1 flips y, bit 2 swaps axes.
	nbSwap = [9][3]int64{
		{0, 0, 3},
		{0, 0, 6},
		{0, 0, 0},
		{0, 0, 5},
		{0, 0, 0},
		{5, 0, 0},
		{0, 0, 0},
		{6, 0, 0},
		{3, 0, 0},
	}
)

// NoNeighbor marks an absent slot in a Neighbors result.
const NoNeighbor int64 = -1

// Neighbors returns the up-to-eight pixels adjacent to center, in the
// native enumeration order. Slots without a neighbor hold NoNeighbor.
func Neighbors(center PixelIndex) ([8]int64, error) {
	var result [8]int64
	if center.Order < 0 || center.Order > MaxOrder {
		return result, &IndexError{Order: center.Order, Reason: "order out of range"}
	}
	if center.Value < 0 || center.Value >= center.Npix() {
		return result, &IndexError{Order: center.Order, Reason: "pixel out of range"}
	}

	nside := center.Nside()
	ix, iy, face := nestToXYF(center.Order, center.Value)

	for i := 0; i < 8; i++ {
		x := ix + nbXOffset[i]
		y := iy + nbYOffset[i]
		nb := int64(4)
		if x < 0 {
			x += nside
			nb--
		} else if x >= nside {
			x -= nside
			nb++
		}
		if y < 0 {
			y += nside
			nb -= 3
		} else if y >= nside {
			y -= nside
			nb += 3
		}

		if nb == 4 {
			result[i] = xyfToNest(center.Order, x, y, face)
			continue
		}

		f := nbFace[nb][face]
		if f < 0 {
			result[i] = NoNeighbor
			continue
		}
		bits := nbSwap[nb][face>>2]
		if bits&1 != 0 {
			x = nside - x - 1
		}
		if bits&2 != 0 {
			y = nside - y - 1
		}
		if bits&4 != 0 {
			x, y = y, x
		}
		result[i] = xyfToNest(center.Order, x, y, f)
	}
	return result, nil
}
