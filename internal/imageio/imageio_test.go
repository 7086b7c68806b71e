package imageio

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeGradient writes a w x h PNG whose red channel encodes x and green y.
func writeGradient(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	require.NoError(t, imaging.Save(img, path))
}

func TestLoad_NativeSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grad.png")
	writeGradient(t, path, 6, 4)

	img, err := Load(path, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, img.Height)
	assert.Equal(t, 6, img.Width)
	assert.Equal(t, []int{1, 3, 4, 6}, img.Shape())
	require.Len(t, img.Pixels, 3*4*6)

	plane := 4 * 6
	// Pixel (x=5, y=2).
	i := 2*6 + 5
	assert.InDelta(t, 5-Mean[0], img.Pixels[i], 1e-4)
	assert.InDelta(t, 2-Mean[1], img.Pixels[plane+i], 1e-4)
	assert.InDelta(t, 200-Mean[2], img.Pixels[2*plane+i], 1e-4)
}

func TestLoad_ResizesToHeight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wide.png")
	writeGradient(t, path, 30, 20)

	tests := []struct {
		height, width int
	}{
		{10, 15},
		{20, 30},
		{7, 10}, // 30 * 7/20 = 10.5 truncates
		{40, 60},
	}
	for _, tt := range tests {
		img, err := Load(path, tt.height)
		require.NoError(t, err)
		assert.Equal(t, tt.height, img.Height)
		assert.Equal(t, tt.width, img.Width)
		assert.Len(t, img.Pixels, 3*tt.height*tt.width)
	}
}

func TestLoadSized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.png")
	writeGradient(t, path, 30, 20)

	img, err := LoadSized(path, 9, 13)
	require.NoError(t, err)
	assert.Equal(t, 9, img.Height)
	assert.Equal(t, 13, img.Width)

	_, err = LoadSized(path, 0, 13)
	assert.Error(t, err)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.jpg"), 10)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nope.jpg")
}

func TestSave_RoundTrip(t *testing.T) {
	const h, w = 3, 5
	pixels := make([]float32, 3*h*w)
	for i := range pixels {
		// Integral values on the 0..255 scale survive the uint8 truncation.
		c := i / (h * w)
		pixels[i] = float32((i*17)%256) - Mean[c]
	}

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, Save(path, pixels, h, w))

	img, err := Load(path, 0)
	require.NoError(t, err)
	require.Equal(t, h, img.Height)
	require.Equal(t, w, img.Width)
	for i := range pixels {
		assert.InDelta(t, pixels[i], img.Pixels[i], 1e-3, "pixel %d", i)
	}
}

func TestToImage_Clips(t *testing.T) {
	pixels := []float32{
		-1000, // R below range
		1000,  // G above range
		0,     // B at mean
	}
	img, err := ToImage(pixels, 1, 1)
	require.NoError(t, err)

	c := img.NRGBAAt(0, 0)
	assert.Equal(t, uint8(0), c.R)
	assert.Equal(t, uint8(255), c.G)
	assert.Equal(t, uint8(103), c.B) // 103.53 truncated
	assert.Equal(t, uint8(255), c.A)
}

func TestSave_Errors(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, Save(filepath.Join(dir, "short.png"), make([]float32, 5), 2, 2))
	assert.Error(t, Save(filepath.Join(dir, "out.xyz"), make([]float32, 12), 2, 2))
	assert.NoError(t, Save(filepath.Join(dir, "out.jpg"), make([]float32, 12), 2, 2))
}
