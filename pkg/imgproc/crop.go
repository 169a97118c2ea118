package imgproc

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

const (
	trimAnalysisWidth = 600
	trimDensity       = 0.02
	trimPad           = 8
)

// TrimMargins finds the bounding box of the inked area of img. Rows and columns whose
// black density exceeds 2% of a 600px-wide analysis copy bound the box, which is then
// padded by 8 analysis pixels. The box is in img's coordinate space.
func TrimMargins(img image.Image) image.Rectangle {
	bounds := img.Bounds()
	if bounds.Empty() {
		return bounds
	}
	bin := ToSmallBinary(img, trimAnalysisWidth)
	w, h := bin.W, bin.H

	rowDensity := make([]float64, h)
	colDensity := make([]float64, w)
	for y := 0; y < h; y++ {
		black := 0
		for x := 0; x < w; x++ {
			if !bin.White(x, y) {
				black++
				colDensity[x]++
			}
		}
		rowDensity[y] = float64(black) / float64(w)
	}
	for x := range colDensity {
		colDensity[x] /= float64(h)
	}

	top, bottom, left, right := 0, h-1, 0, w-1
	for y := 0; y < h; y++ {
		if rowDensity[y] > trimDensity {
			top = y
			break
		}
	}
	for y := h - 1; y >= 0; y-- {
		if rowDensity[y] > trimDensity {
			bottom = y
			break
		}
	}
	for x := 0; x < w; x++ {
		if colDensity[x] > trimDensity {
			left = x
			break
		}
	}
	for x := w - 1; x >= 0; x-- {
		if colDensity[x] > trimDensity {
			right = x
			break
		}
	}

	s := bin.Scale
	pad := int(math.Floor(trimPad / s))
	X := max(0, int(math.Floor(float64(left)/s))-pad)
	Y := max(0, int(math.Floor(float64(top)/s))-pad)
	W := min(bounds.Dx()-X, int(math.Ceil(float64(right-left+1)/s))+2*pad)
	H := min(bounds.Dy()-Y, int(math.Ceil(float64(bottom-top+1)/s))+2*pad)
	return image.Rect(X, Y, X+W, Y+H).Add(bounds.Min)
}

// FullReceiptCrop crops img to its trimmed box. It is the input of the fallback
// recognition attempt.
func FullReceiptCrop(img image.Image) (*image.NRGBA, image.Rectangle) {
	box := TrimMargins(img)
	return imaging.Crop(img, box), box
}

// StripGeometry places the SUMA line inside a receipt, in pixels of a receipt
// BaseWidth wide. Every measurement scales with the receipt width only.
type StripGeometry struct {
	BaseWidth int
	Top       int
	Height    int
	Left      int
	Right     int
}

// DefaultStripGeometry is measured on 576px-wide receipts.
func DefaultStripGeometry() StripGeometry {
	return StripGeometry{BaseWidth: 576, Top: 408, Height: 54}
}

// StripRect returns the strip rectangle for a receipt of the given size, clamped so
// it starts inside the receipt.
func (g StripGeometry) StripRect(w, h int) image.Rectangle {
	if w <= 0 || h <= 0 || g.BaseWidth <= 0 {
		return image.Rectangle{}
	}
	s := float64(w) / float64(g.BaseWidth)
	x := max(0, int(math.Floor(float64(g.Left)*s)))
	y := max(0, int(math.Floor(float64(g.Top)*s)))
	sw := max(1, w-x-int(math.Floor(float64(g.Right)*s)))
	sh := max(1, int(math.Floor(float64(g.Height)*s)))
	adjY := min(y, h-1)
	adjH := min(sh, h-adjY)
	return image.Rect(x, adjY, x+sw, adjY+adjH).Intersect(image.Rect(0, 0, w, h))
}

// StripCrop cuts the SUMA strip out of a receipt bitmap. The returned rectangle is
// relative to the receipt's top-left corner.
func StripCrop(receipt image.Image, g StripGeometry) (*image.NRGBA, image.Rectangle) {
	b := receipt.Bounds()
	r := g.StripRect(b.Dx(), b.Dy())
	return imaging.Crop(receipt, r.Add(b.Min)), r
}
