// Package overlay loads the overlay image composited onto frames and draws
// the heads-up display text.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// ErrAssetMissing is returned when the overlay image cannot be loaded
var ErrAssetMissing = errors.New("overlay asset missing")

// LoadGray reads an image file and converts it to grayscale
func LoadGray(path string) (*image.Gray, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no path configured", ErrAssetMissing)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetMissing, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", ErrAssetMissing, path, err)
	}

	return ToGray(img), nil
}

// ToGray converts any image to an origin-based grayscale copy
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
