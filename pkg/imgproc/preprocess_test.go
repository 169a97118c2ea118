package imgproc

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/disintegration/imaging"
)

func whitePage(w, h int) *image.NRGBA {
	return imaging.New(w, h, color.NRGBA{255, 255, 255, 255})
}

func fillBlack(img draw.Image, r image.Rectangle) {
	draw.Draw(img, r, &image.Uniform{color.NRGBA{0, 0, 0, 255}}, image.Point{}, draw.Src)
}

func TestPreprocessZeroSize(t *testing.T) {
	empty := image.NewNRGBA(image.Rect(0, 0, 0, 0))
	out := Preprocess(empty, DefaultOptions())
	if out != image.Image(empty) {
		t.Fatalf("expected zero-size input returned unchanged")
	}
}

func TestPreprocessStripeWidening(t *testing.T) {
	src := whitePage(400, 40)
	fillBlack(src, image.Rect(20, 10, 200, 30))
	out := Preprocess(src, DefaultOptions())
	// 40px high -> x4 to 1600x160, then stripe stretch min(1.3, 2048/1600)
	if out.Bounds().Dx() != 2048 || out.Bounds().Dy() != 160 {
		t.Fatalf("expected 2048x160 got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
	if !IsBinary(out) {
		t.Fatalf("expected pure black/white output")
	}
}

func TestPreprocessDownscalesWideInput(t *testing.T) {
	src := whitePage(4096, 400)
	fillBlack(src, image.Rect(100, 100, 1000, 300))
	out := Preprocess(src, DefaultOptions())
	if out.Bounds().Dx() != 2048 || out.Bounds().Dy() != 200 {
		t.Fatalf("expected 2048x200 got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestPreprocessKeepsInkBlack(t *testing.T) {
	src := whitePage(600, 400)
	fillBlack(src, image.Rect(100, 100, 140, 300))
	fillBlack(src, image.Rect(300, 100, 340, 300))
	out := Preprocess(src, DefaultOptions())
	g := color.GrayModel.Convert(out.At(102, 200)).(color.Gray).Y
	if g != 0 {
		t.Fatalf("expected ink edge to be black got %d", g)
	}
	g = color.GrayModel.Convert(out.At(500, 50)).(color.Gray).Y
	if g != 255 {
		t.Fatalf("expected background white got %d", g)
	}
}

func TestAdaptiveThresholdBiasRetry(t *testing.T) {
	gray := make([]uint8, 20*20)
	for i := range gray {
		gray[i] = 200
	}
	_, n := adaptiveThreshold(gray, 20, 20, 15, 2)
	if n != 0 {
		t.Fatalf("expected no ink with bias 2 on flat input got %d", n)
	}
	_, n = adaptiveThreshold(gray, 20, 20, 15, 0)
	if n != 400 {
		t.Fatalf("expected every pixel inked with bias 0 got %d", n)
	}
}

func TestToSmallBinaryDownsample(t *testing.T) {
	bin := ToSmallBinary(whitePage(1600, 400), 800)
	if bin.W != 800 || bin.H != 200 || bin.Scale != 0.5 {
		t.Fatalf("expected 800x200 scale 0.5 got %dx%d scale %v", bin.W, bin.H, bin.Scale)
	}
	if !bin.White(10, 10) {
		t.Fatalf("expected white pixel")
	}
}

func TestTrimMargins(t *testing.T) {
	src := whitePage(600, 800)
	fillBlack(src, image.Rect(100, 200, 300, 400))
	got := TrimMargins(src)
	want := image.Rect(92, 192, 308, 416)
	if got != want {
		t.Fatalf("expected %v got %v", want, got)
	}
	_, full := FullReceiptCrop(src)
	if full != want {
		t.Fatalf("expected full receipt box %v got %v", want, full)
	}
}

func TestStripRect(t *testing.T) {
	g := DefaultStripGeometry()
	cases := []struct {
		w, h int
		want image.Rectangle
	}{
		{576, 902, image.Rect(0, 408, 576, 462)},
		{1152, 1804, image.Rect(0, 816, 1152, 924)},
		{576, 410, image.Rect(0, 408, 576, 410)},
		{576, 100, image.Rect(0, 99, 576, 100)},
	}
	for _, c := range cases {
		if got := g.StripRect(c.w, c.h); got != c.want {
			t.Fatalf("receipt %dx%d: expected %v got %v", c.w, c.h, c.want, got)
		}
	}
	strip, r := StripCrop(whitePage(576, 902), g)
	if strip.Bounds().Dx() != r.Dx() || strip.Bounds().Dy() != 54 {
		t.Fatalf("unexpected strip size %v", strip.Bounds())
	}
}
