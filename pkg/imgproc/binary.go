package imgproc

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Binary is a downsampled, globally thresholded copy of a bitmap used for layout analysis.
// Scale maps source pixels to Binary pixels (<= 1).
type Binary struct {
	W, H  int
	Scale float64
	white []bool
}

// White reports whether the pixel at (x, y) is at or above the global threshold.
func (b Binary) White(x, y int) bool {
	return b.white[y*b.W+x]
}

// Luma returns the 0.299/0.587/0.114 weighted luminance of an 8-bit pixel.
func Luma(r, g, b uint8) float64 {
	return float64(r)*0.299 + float64(g)*0.587 + float64(b)*0.114
}

// ToSmallBinary downsamples img to at most targetW wide and thresholds it at
// clamp(avg+20, 200, 250). A zero-size input yields an empty Binary.
func ToSmallBinary(img image.Image, targetW int) Binary {
	sw, sh := img.Bounds().Dx(), img.Bounds().Dy()
	if sw <= 0 || sh <= 0 {
		return Binary{Scale: 1}
	}
	scale := math.Min(1, float64(targetW)/float64(sw))
	w := max(1, int(math.Floor(float64(sw)*scale)))
	h := max(1, int(math.Floor(float64(sh)*scale)))

	var small *image.NRGBA
	if w == sw && h == sh {
		small = imaging.Clone(img)
	} else {
		small = imaging.Resize(img, w, h, imaging.Linear)
	}

	lum := make([]float64, w*h)
	sum := 0.0
	for y := 0; y < h; y++ {
		row := small.Pix[y*small.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			g := Luma(row[i], row[i+1], row[i+2])
			lum[y*w+x] = g
			sum += g
		}
	}
	thr := math.Min(250, math.Max(200, sum/float64(w*h)+20))
	white := make([]bool, w*h)
	for i, g := range lum {
		white[i] = g >= thr
	}
	return Binary{W: w, H: h, Scale: scale, white: white}
}

// grayscale converts img to a row-major slice of truncated luminance values.
func grayscale(img *image.NRGBA) []uint8 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			out[y*w+x] = uint8(Luma(row[i], row[i+1], row[i+2]))
		}
	}
	return out
}
