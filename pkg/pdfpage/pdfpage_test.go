package pdfpage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

var letter = [4]float64{0, 0, 612, 792}

func TestTrackerMapsImageToDevice(t *testing.T) {
	tr := newTracker()
	tr.save()
	tr.concat(matrix{200, 0, 0, 300, 50, 100})
	tr.paintImage()
	tr.restore()
	// identity after restore: a 1pt image is 3px at scale 3 and gets dropped
	tr.paintImage()
	got := tr.deviceRects(letter, 0, 3)
	want := image.Rect(150, 1176, 750, 2076)
	if len(got) != 1 || got[0] != want {
		t.Fatalf("expected [%v] got %v", want, got)
	}
}

func TestTrackerNestedTransforms(t *testing.T) {
	tr := newTracker()
	tr.concat(matrix{1, 0, 0, 1, 306, 0}) // page half offset
	tr.save()
	tr.concat(matrix{0.5, 0, 0, 0.5, 0, 0})
	tr.concat(matrix{400, 0, 0, 400, 20, 20}) // image space inside the scaled form
	tr.paintImage()
	tr.restore()
	tr.save()
	tr.concat(matrix{0, 100, -200, 0, 200, 0}) // rotated by 90 degrees
	tr.paintImage()
	tr.restore()
	got := tr.deviceRects(letter, 0, 1)
	want := []image.Rectangle{
		image.Rect(316, 582, 516, 782),
		image.Rect(306, 692, 506, 792),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("placement %d: expected %v got %v", i, want[i], got[i])
		}
	}
}

func TestTrackerFollowsPageRotation(t *testing.T) {
	tr := newTracker()
	tr.concat(matrix{200, 0, 0, 300, 50, 100}) // x 50..250, y 100..400
	tr.paintImage()
	tests := []struct {
		rotate int
		want   image.Rectangle
	}{
		{0, image.Rect(50, 392, 250, 692)},
		{90, image.Rect(100, 50, 400, 250)},
		{180, image.Rect(362, 100, 562, 400)},
		{270, image.Rect(392, 362, 692, 562)},
	}
	for _, tt := range tests {
		got := tr.deviceRects(letter, tt.rotate, 1)
		if len(got) != 1 || got[0] != tt.want {
			t.Fatalf("rotate %d: expected [%v] got %v", tt.rotate, tt.want, got)
		}
	}
	// a rotated page with an offset media box is anchored at its own corner
	got := tr.deviceRects([4]float64{50, 100, 662, 892}, 90, 2)
	if want := image.Rect(0, 0, 600, 400); len(got) != 1 || got[0] != want {
		t.Fatalf("expected [%v] got %v", want, got)
	}
}

// writeRotatedPDF writes a one-page letter PDF whose page tree sets /Rotate and
// paints a single image at x 50..250, y 100..400.
func writeRotatedPDF(t *testing.T, rotate int) string {
	t.Helper()
	content := "q 200 0 0 300 50 100 cm /Im1 Do Q"
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 612 792] /Rotate %d >>", rotate),
		"<< /Type /Page /Parent 2 0 R /Resources << /XObject << /Im1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8 /Length 1 >>\nstream\n\xff\nendstream",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	p := filepath.Join(t.TempDir(), "rotated.pdf")
	if err := os.WriteFile(p, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return p
}

func TestCapturePlacementsInheritsRotate(t *testing.T) {
	doc, err := Open(writeRotatedPDF(t, 90))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer doc.Close()
	got, err := doc.CapturePlacements(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if want := image.Rect(100, 50, 400, 250); len(got) != 1 || got[0] != want {
		t.Fatalf("expected [%v] got %v", want, got)
	}
}

func TestMatrixMulIdentity(t *testing.T) {
	m := matrix{2, 0.5, -1, 3, 10, 20}
	if identity.mul(m) != m || m.mul(identity) != m {
		t.Fatalf("expected identity to be neutral")
	}
}

type fakeRunner struct {
	args   []string
	width  int
	err    error
	stderr string
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	f.args = args
	if f.err != nil {
		return nil, []byte(f.stderr), f.err
	}
	prefix := args[len(args)-1]
	img := imaging.New(f.width, f.width*2, color.NRGBA{255, 255, 255, 255})
	if err := imaging.Save(img, prefix+".png"); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

func TestRasterizeRunsPdftoppm(t *testing.T) {
	r := &fakeRunner{width: 120}
	img, err := rasterize(context.Background(), r, "pdftoppm", "in.pdf", 2, dpiFor(3))
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 240 {
		t.Fatalf("unexpected image size %v", img.Bounds())
	}
	joined := strings.Join(r.args[:len(r.args)-1], " ")
	if joined != "-r 216 -f 2 -l 2 -png -singlefile in.pdf" {
		t.Fatalf("unexpected pdftoppm args %q", joined)
	}
}

func TestRasterizeReportsStderr(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1"), stderr: "Syntax Error: broken xref"}
	_, err := rasterize(context.Background(), r, "pdftoppm", "in.pdf", 1, 216)
	if err == nil || !strings.Contains(err.Error(), "broken xref") {
		t.Fatalf("expected stderr in error got %v", err)
	}
}

func TestImagesDocument(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "scan.png")
	if err := imaging.Save(imaging.New(80, 60, color.NRGBA{0, 0, 0, 255}), p); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc := OpenImages(p)
	if doc.NumPages() != 1 {
		t.Fatalf("expected 1 page got %d", doc.NumPages())
	}
	img, err := doc.Rasterize(context.Background(), 1, 3)
	if err != nil || img.Bounds().Dx() != 80 {
		t.Fatalf("expected 80px wide page got %v err=%v", img, err)
	}
	if _, err := doc.Rasterize(context.Background(), 2, 3); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestFileKinds(t *testing.T) {
	if !IsPDF("a/B.PDF") || IsPDF("b.png") {
		t.Fatalf("IsPDF mismatch")
	}
	if !IsImage("x.JPG") || IsImage("x.pdf") {
		t.Fatalf("IsImage mismatch")
	}
}

func TestOpenFileByExtension(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "scan.JPG")
	if err := imaging.Save(imaging.New(40, 40, color.NRGBA{255, 255, 255, 255}), p); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc, err := OpenFile(p)
	if err != nil {
		t.Fatalf("open image: %v", err)
	}
	defer doc.Close()
	if doc.NumPages() != 1 {
		t.Fatalf("expected 1 page got %d", doc.NumPages())
	}
	if _, err := OpenFile(filepath.Join(dir, "notes.txt")); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported got %v", err)
	}
}
