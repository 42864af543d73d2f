package mosaic

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"skymosaic/internal/healpix"
)

const (
	crosshairArm   = 30
	crosshairGap   = 8
	crosshairThick = 3
)

var markerColor = color.RGBA{R: 255, G: 255, B: 0, A: 255}

// annotate draws a crosshair at the target's pixel position plus a name and
// coordinate label in the top-left corner.
func annotate(img *image.RGBA, tx, ty int, target healpix.SkyPosition) {
	drawCrosshair(img, tx, ty)

	label := fmt.Sprintf("RA: %.4f  Dec: %.4f", target.RADeg, target.DecDeg)
	y := 20
	if target.Name != "" {
		drawLabel(img, 10, y, target.Name)
		y += 16
	}
	drawLabel(img, 10, y, label)
}

// drawCrosshair renders four arms with a gap around the center so the
// target itself stays visible.
func drawCrosshair(img *image.RGBA, cx, cy int) {
	b := img.Bounds()
	set := func(x, y int) {
		if image.Pt(x, y).In(b) {
			img.SetRGBA(x, y, markerColor)
		}
	}
	for d := crosshairGap; d <= crosshairGap+crosshairArm; d++ {
		for t := -crosshairThick / 2; t <= crosshairThick/2; t++ {
			set(cx-d, cy+t) // west arm
			set(cx+d, cy+t) // east arm
			set(cx+t, cy-d) // north arm
			set(cx+t, cy+d) // south arm
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, text string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(markerColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
