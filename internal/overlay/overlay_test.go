package overlay

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGray(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skel.png")

	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, src))
	require.NoError(t, f.Close())

	gray, err := LoadGray(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), gray.Bounds())
	for _, v := range gray.Pix {
		assert.Equal(t, uint8(255), v)
	}
}

func TestLoadGray_Missing(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		_, err := LoadGray(filepath.Join(t.TempDir(), "nope.jpg"))
		assert.True(t, errors.Is(err, ErrAssetMissing))
	})

	t.Run("no path", func(t *testing.T) {
		_, err := LoadGray("")
		assert.True(t, errors.Is(err, ErrAssetMissing))
	})

	t.Run("not an image", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.png")
		require.NoError(t, os.WriteFile(path, []byte("not a png"), 0644))
		_, err := LoadGray(path)
		assert.True(t, errors.Is(err, ErrAssetMissing))
	})
}

func TestToGray_SubImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 4))
	src.SetGray(2, 2, color.Gray{Y: 99})

	got := ToGray(src.SubImage(image.Rect(2, 2, 4, 4)))
	assert.Equal(t, image.Rect(0, 0, 2, 2), got.Bounds())
	assert.Equal(t, uint8(99), got.GrayAt(0, 0).Y)
}

func TestHUD_DrawsShadowedText(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 200, 60))
	for i := range frame.Pix {
		frame.Pix[i] = 128
	}

	hud := NewHUD()
	hud.DrawLines(frame, []string{"PEDAL ACTIVE"})

	var white, black int
	for _, v := range frame.Pix {
		switch v {
		case 255:
			white++
		case 0:
			black++
		}
	}
	assert.Positive(t, white, "text pixels")
	assert.Positive(t, black, "shadow pixels")
	assert.Positive(t, hud.MeasureString("PEDAL ACTIVE"))
}

func TestHUD_FooterStaysInFrame(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 160, 80))
	NewHUD().DrawFooter(frame, "PEDAL ACTIVE")

	touched := 0
	for _, v := range frame.Pix {
		if v != 0 {
			touched++
		}
	}
	assert.Positive(t, touched)
}
