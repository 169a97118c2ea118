package imgproc

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Options controls size normalization before binarization.
type Options struct {
	MaxWidth     int     // downscale so the width fits
	MinHeight    int     // upscale short crops to this height
	HorizStretch float64 // horizontal stretch factor for stripe-shaped crops; <= 1 disables
	StripeRatio  float64 // h/w below this counts as a stripe
}

// DefaultOptions returns the tuned defaults for receipt crops rendered at 3x.
func DefaultOptions() Options {
	return Options{MaxWidth: 2048, MinHeight: 160, HorizStretch: 1.3, StripeRatio: 0.25}
}

const (
	minWindow   = 15
	defaultBias = 2
	minInkRatio = 0.01
)

// Preprocess normalizes the size of a region bitmap and binarizes it with a local
// adaptive threshold. The result is pure black ink on white. A zero-size input is
// returned unchanged.
func Preprocess(img image.Image, opt Options) image.Image {
	if img.Bounds().Dx() <= 0 || img.Bounds().Dy() <= 0 {
		return img
	}
	c := normalize(img, opt.MaxWidth, opt.MinHeight)
	if opt.HorizStretch > 1 {
		w, h := c.Bounds().Dx(), c.Bounds().Dy()
		if float64(h)/float64(max(1, w)) < opt.StripeRatio || h < opt.MinHeight {
			fx := math.Min(opt.HorizStretch, float64(opt.MaxWidth)/float64(max(1, w)))
			c = stretchX(c, fx)
		}
	}

	w, h := c.Bounds().Dx(), c.Bounds().Dy()
	gray := grayscale(c)
	win := max(minWindow, int(math.Floor(float64(min(w, h))*0.03))|1)
	ink, n := adaptiveThreshold(gray, w, h, win, defaultBias)
	if float64(n)/float64(w*h) < minInkRatio {
		ink, _ = adaptiveThreshold(gray, w, h, win, 0)
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for i, black := range ink {
		if black {
			out.Pix[i] = 0
		} else {
			out.Pix[i] = 255
		}
	}
	return out
}

// normalize rescales src by a single factor: up to minHeight when short, then down
// to maxWidth when too wide. The width constraint wins when both apply.
func normalize(src image.Image, maxWidth, minHeight int) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	scale := 1.0
	if h < minHeight {
		scale = math.Max(scale, float64(minHeight)/float64(max(1, h)))
	}
	if float64(w)*scale > float64(maxWidth) {
		scale = math.Min(scale, float64(maxWidth)/float64(max(1, w)))
	}
	if scale == 1 {
		return imaging.Clone(src)
	}
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	return imaging.Resize(src, nw, nh, imaging.Lanczos)
}

func stretchX(src *image.NRGBA, factor float64) *image.NRGBA {
	if math.IsInf(factor, 0) || math.IsNaN(factor) || factor <= 1.01 {
		return src
	}
	w := max(1, int(math.Round(float64(src.Bounds().Dx())*factor)))
	return imaging.Resize(src, w, src.Bounds().Dy(), imaging.Lanczos)
}

// adaptiveThreshold marks a pixel as ink when it is no brighter than the mean of
// its window minus bias. The window mean comes from a (w+1)x(h+1) integral image
// and is clipped at the borders. It also returns the ink pixel count.
func adaptiveThreshold(gray []uint8, w, h, window, bias int) ([]bool, int) {
	stride := w + 1
	ints := make([]int, stride*(h+1))
	for y := 1; y <= h; y++ {
		rowSum := 0
		off := y * stride
		for x := 1; x <= w; x++ {
			rowSum += int(gray[(y-1)*w+(x-1)])
			ints[off+x] = ints[off-stride+x] + rowSum
		}
	}
	half := window / 2
	ink := make([]bool, w*h)
	count := 0
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-half), min(h-1, y+half)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-half), min(w-1, x+half)
			A := ints[y0*stride+x0]
			B := ints[y0*stride+x1+1]
			C := ints[(y1+1)*stride+x0]
			D := ints[(y1+1)*stride+x1+1]
			area := (x1 - x0 + 1) * (y1 - y0 + 1)
			mean := float64(D-B-C+A) / float64(area)
			if float64(gray[y*w+x]) <= mean-float64(bias) {
				ink[y*w+x] = true
				count++
			}
		}
	}
	return ink, count
}

// IsBinary reports whether every pixel of img is pure black or pure white.
func IsBinary(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			if g != 0 && g != 255 {
				return false
			}
		}
	}
	return true
}
