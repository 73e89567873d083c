package overlay

import (
	"image"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LineHeight is the vertical distance between HUD lines
const LineHeight = 20

// HUD draws operator text onto display frames
type HUD struct {
	face   font.Face
	margin int
}

// NewHUD creates a HUD using the built-in 7x13 bitmap font
func NewHUD() *HUD {
	return &HUD{
		// basicfont keeps the binary free of font files
		face:   basicfont.Face7x13,
		margin: 20,
	}
}

// DrawString draws s with its baseline at (x, y): a black drop shadow first,
// then white text on top, so it reads on both light and dark frames.
func (h *HUD) DrawString(dst draw.Image, x, y int, s string) {
	h.draw(dst, x+1, y+1, s, image.Black)
	h.draw(dst, x, y, s, image.White)
}

func (h *HUD) draw(dst draw.Image, x, y int, s string, src image.Image) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  src,
		Face: h.face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(s)
}

// DrawLines draws lines top-down from the top-left margin
func (h *HUD) DrawLines(dst draw.Image, lines []string) {
	origin := dst.Bounds().Min
	for i, line := range lines {
		h.DrawString(dst, origin.X+h.margin, origin.Y+h.margin+i*LineHeight, line)
	}
}

// DrawFooter draws a single line near the bottom-left corner
func (h *HUD) DrawFooter(dst draw.Image, s string) {
	b := dst.Bounds()
	h.DrawString(dst, b.Min.X+h.margin, b.Max.Y-h.margin-10, s)
}

// MeasureString returns the width of s in pixels
func (h *HUD) MeasureString(s string) int {
	return font.MeasureString(h.face, s).Round()
}
