// Package imageio converts between image files and the normalized planar
// float32 pixel layout consumed by the VGG feature extractor.
//
// Pixels are stored channel-major ([3, H, W] flattened, RGB order) on the
// 0..255 scale with the ImageNet mean subtracted. Values are not divided by
// the standard deviation.
package imageio

import (
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// Register WebP in addition to the formats imaging already decodes.
	_ "golang.org/x/image/webp"
)

// Channels is the number of color channels of every Image.
const Channels = 3

// Mean is the per-channel ImageNet mean on the 0..255 scale (RGB).
var Mean = [Channels]float32{123.675, 116.28, 103.53}

// JPEGQuality is used when saving .jpg/.jpeg files.
const JPEGQuality = 95

// Image is a normalized image in planar RGB layout.
type Image struct {
	Pixels []float32 // len == Channels*Height*Width
	Height int
	Width  int
}

// Shape returns the tensor shape [1, 3, H, W] of the image.
func (img Image) Shape() []int {
	return []int{1, Channels, img.Height, img.Width}
}

// Load reads the image at path and resizes it to the given height, keeping
// the aspect ratio. A non-positive height keeps the native size.
func Load(path string, height int) (Image, error) {
	src, err := open(path)
	if err != nil {
		return Image{}, err
	}
	b := src.Bounds()
	if height <= 0 || height == b.Dy() {
		return FromImage(src), nil
	}
	width := int(float64(b.Dx()) * (float64(height) / float64(b.Dy())))
	if width < 1 {
		width = 1
	}
	return FromImage(imaging.Resize(src, width, height, imaging.CatmullRom)), nil
}

// LoadSized reads the image at path and resizes it to exactly height x width.
func LoadSized(path string, height, width int) (Image, error) {
	if height <= 0 || width <= 0 {
		return Image{}, errors.Errorf("invalid target size %dx%d for %s", width, height, path)
	}
	src, err := open(path)
	if err != nil {
		return Image{}, err
	}
	return FromImage(imaging.Resize(src, width, height, imaging.CatmullRom)), nil
}

func open(path string) (image.Image, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %s", path)
	}
	if b := src.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.Errorf("image %s is empty", path)
	}
	return src, nil
}

// FromImage normalizes any image.Image into planar pixels.
func FromImage(src image.Image) Image {
	nrgba := imaging.Clone(src)
	h, w := nrgba.Rect.Dy(), nrgba.Rect.Dx()
	plane := h * w
	out := Image{
		Pixels: make([]float32, Channels*plane),
		Height: h,
		Width:  w,
	}
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			i := y*w + x
			for c := 0; c < Channels; c++ {
				out.Pixels[c*plane+i] = float32(px[c]) - Mean[c]
			}
		}
	}
	return out
}

// ToImage adds the mean back, clips to 0..255 and truncates to 8 bits.
func ToImage(pixels []float32, height, width int) (*image.NRGBA, error) {
	plane := height * width
	if height <= 0 || width <= 0 || len(pixels) != Channels*plane {
		return nil, errors.Errorf("pixel buffer of length %d does not match %dx%dx%d",
			len(pixels), Channels, height, width)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			dst.SetNRGBA(x, y, color.NRGBA{
				R: clip(pixels[i] + Mean[0]),
				G: clip(pixels[plane+i] + Mean[1]),
				B: clip(pixels[2*plane+i] + Mean[2]),
				A: 0xff,
			})
		}
	}
	return dst, nil
}

// Save writes pixels to path; the encoder is chosen from the extension.
func Save(path string, pixels []float32, height, width int) error {
	img, err := ToImage(pixels, height, width)
	if err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	if _, err := imaging.FormatFromFilename(path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	var opts []imaging.EncodeOption
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".jpg" || ext == ".jpeg" {
		opts = append(opts, imaging.JPEGQuality(JPEGQuality))
	}
	if err := imaging.Save(img, path, opts...); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}

func clip(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
