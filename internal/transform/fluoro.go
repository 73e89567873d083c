// Package transform implements the per-frame fluoroscopy look: grayscale,
// background subtraction, 180 degree flip, overlay compositing and histogram
// equalization.
//
// Every function here is a pure function of its inputs. Source frames and the
// background are only read, so they may be shared between concurrent calls.
package transform

import (
	"image"
	"math"
)

// Params selects the optional stages applied to a frame
type Params struct {
	Subtract bool `json:"subtract"`
	Overlay  bool `json:"overlay"`
	Equalize bool `json:"equalize"`
}

// DefaultOverlayWeight blends the overlay and the frame half and half
const DefaultOverlayWeight = 0.5

// Fluoro applies the fluoroscopy stages with a fixed overlay image.
type Fluoro struct {
	overlay *image.Gray
	weight  float64
}

// NewFluoro creates a transform. A nil overlay disables compositing even when
// Params.Overlay is set.
func NewFluoro(overlay *image.Gray, weight float64) *Fluoro {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	return &Fluoro{overlay: overlay, weight: weight}
}

// HasOverlay reports whether an overlay image is available
func (f *Fluoro) HasOverlay() bool {
	return f.overlay != nil
}

// Apply runs the enabled stages on raw and returns a new frame.
// A background whose size differs from the frame is ignored.
func (f *Fluoro) Apply(raw *image.RGBA, p Params, bg *image.Gray) *image.Gray {
	frame := Grayscale(raw)

	if p.Subtract && bg != nil && bg.Bounds().Size() == frame.Bounds().Size() {
		SubtractInvert(frame, bg)
	}

	Rotate180(frame)

	if p.Overlay && f.overlay != nil {
		Blend(frame, f.overlay, f.weight)
	}

	if p.Equalize {
		Equalize(frame)
	}

	return frame
}

// Grayscale converts an RGBA frame to luma using the same weights as
// color.GrayModel. The result always starts at the origin.
func Grayscale(src *image.RGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := 0; y < b.Dy(); y++ {
		si := (b.Min.Y+y-src.Rect.Min.Y)*src.Stride + (b.Min.X-src.Rect.Min.X)*4
		di := y * dst.Stride
		for x := 0; x < b.Dx(); x++ {
			r := uint32(src.Pix[si])
			g := uint32(src.Pix[si+1])
			bl := uint32(src.Pix[si+2])
			// 8-bit fixed point version of 0.299 R + 0.587 G + 0.114 B
			dst.Pix[di] = uint8((19595*r + 38470*g + 7471*bl + 1<<15) >> 16)
			si += 4
			di++
		}
	}
	return dst
}

// SubtractInvert replaces each pixel with 255 - |frame - bg|, so unchanged
// areas turn white and anything new in the scene shows up dark.
func SubtractInvert(frame, bg *image.Gray) {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	for y := 0; y < h; y++ {
		fi := y * frame.Stride
		bi := y * bg.Stride
		for x := 0; x < w; x++ {
			a, b := frame.Pix[fi+x], bg.Pix[bi+x]
			var d uint8
			if a > b {
				d = a - b
			} else {
				d = b - a
			}
			frame.Pix[fi+x] = 255 - d
		}
	}
}

// Rotate180 flips a frame horizontally and vertically in place
func Rotate180(frame *image.Gray) {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	for y := 0; y < (h+1)/2; y++ {
		top := y * frame.Stride
		bottom := (h - 1 - y) * frame.Stride
		for x := 0; x < w; x++ {
			i := top + x
			j := bottom + (w - 1 - x)
			if i >= j {
				break
			}
			frame.Pix[i], frame.Pix[j] = frame.Pix[j], frame.Pix[i]
		}
	}
}

// Blend mixes overlay into frame as weight*overlay + (1-weight)*frame.
// The overlay is sampled nearest-neighbour when its size differs.
func Blend(frame, overlay *image.Gray, weight float64) {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	ow, oh := overlay.Rect.Dx(), overlay.Rect.Dy()
	if w == 0 || h == 0 || ow == 0 || oh == 0 {
		return
	}

	for y := 0; y < h; y++ {
		oy := y * oh / h
		fi := y * frame.Stride
		oi := oy * overlay.Stride
		for x := 0; x < w; x++ {
			ox := x * ow / w
			v := weight*float64(overlay.Pix[oi+ox]) + (1-weight)*float64(frame.Pix[fi+x])
			frame.Pix[fi+x] = clamp8(v)
		}
	}
}

// Equalize spreads the frame's histogram over the full 0..255 range.
// A frame with a single intensity is left unchanged.
func Equalize(frame *image.Gray) {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	total := w * h
	if total == 0 {
		return
	}

	var hist [256]int
	for y := 0; y < h; y++ {
		row := frame.Pix[y*frame.Stride : y*frame.Stride+w]
		for _, v := range row {
			hist[v]++
		}
	}

	var cdf [256]int
	sum, cdfMin := 0, 0
	for i, n := range hist {
		sum += n
		cdf[i] = sum
		if cdfMin == 0 && sum > 0 {
			cdfMin = sum
		}
	}
	if total == cdfMin {
		return
	}

	var lut [256]uint8
	scale := 255.0 / float64(total-cdfMin)
	for i := range lut {
		if cdf[i] <= cdfMin {
			continue
		}
		lut[i] = clamp8(float64(cdf[i]-cdfMin) * scale)
	}

	for y := 0; y < h; y++ {
		row := frame.Pix[y*frame.Stride : y*frame.Stride+w]
		for i, v := range row {
			row[i] = lut[v]
		}
	}
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
