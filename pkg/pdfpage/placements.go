package pdfpage

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/ledongthuc/pdf"
)

const (
	maxFormDepth  = 8
	minPlacedSide = 4
)

// matrix is a PDF transformation [a b c d e f] in row-vector convention.
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m followed by n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return x*m[0] + y*m[2] + m[4], x*m[1] + y*m[3] + m[5]
}

// tracker follows the graphics state stack and records where images are painted.
type tracker struct {
	ctm    matrix
	stack  []matrix
	placed [][4]float64 // user-space bounding boxes: minX, minY, maxX, maxY
}

func newTracker() *tracker { return &tracker{ctm: identity} }

func (t *tracker) save() { t.stack = append(t.stack, t.ctm) }

func (t *tracker) restore() {
	if n := len(t.stack); n > 0 {
		t.ctm = t.stack[n-1]
		t.stack = t.stack[:n-1]
	}
}

func (t *tracker) concat(m matrix) { t.ctm = m.mul(t.ctm) }

// paintImage records the unit square under the current CTM.
func (t *tracker) paintImage() {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x, y := t.ctm.apply(p[0], p[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	t.placed = append(t.placed, [4]float64{minX, minY, maxX, maxY})
}

// deviceRects maps the recorded boxes into the pixel space of a page rendered at
// scale and turned clockwise by rotate degrees, with the origin at the top-left of
// the displayed media box. Boxes 4px or thinner are dropped.
func (t *tracker) deviceRects(mediaBox [4]float64, rotate int, scale float64) []image.Rectangle {
	var out []image.Rectangle
	for _, b := range t.placed {
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, p := range [4][2]float64{{b[0], b[1]}, {b[2], b[1]}, {b[0], b[3]}, {b[2], b[3]}} {
			x, y := toDisplay(mediaBox, rotate, p[0], p[1])
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
		x := int(math.Round(minX * scale))
		y := int(math.Round(minY * scale))
		w := int(math.Round((maxX - minX) * scale))
		h := int(math.Round((maxY - minY) * scale))
		if w > minPlacedSide && h > minPlacedSide {
			out = append(out, image.Rect(x, y, x+w, y+h))
		}
	}
	return out
}

// toDisplay maps a user-space point to top-left based display coordinates in points.
func toDisplay(mb [4]float64, rotate int, x, y float64) (float64, float64) {
	llx, lly, urx, ury := mb[0], mb[1], mb[2], mb[3]
	switch rotate {
	case 90:
		return y - lly, x - llx
	case 180:
		return urx - x, y - lly
	case 270:
		return ury - y, urx - x
	default:
		return x - llx, ury - y
	}
}

// CapturePlacements interprets the page content stream and returns the device
// rectangles of every image XObject painted on it, including those inside form
// XObjects. Rectangles are in the pixel space of Rasterize at the same scale.
func (p *PDF) CapturePlacements(ctx context.Context, page int, scale float64) (rects []image.Rectangle, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 1 || page > p.reader.NumPage() {
		return nil, fmt.Errorf("page %d out of range 1..%d", page, p.reader.NumPage())
	}
	pg := p.reader.Page(page)
	if pg.V.IsNull() {
		return nil, fmt.Errorf("page %d not found", page)
	}
	defer func() {
		if r := recover(); r != nil {
			rects, err = nil, fmt.Errorf("interpret page %d: %v", page, r)
		}
	}()

	t := newTracker()
	interpretContents(t, pg.V.Key("Contents"), pg.Resources(), 0)
	// pdftoppm renders at an integral dpi
	s := float64(dpiFor(scale)) / 72
	return t.deviceRects(mediaBox(pg.V), rotation(pg.V), s), nil
}

func interpretContents(t *tracker, contents, resources pdf.Value, depth int) {
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			interpretStream(t, contents.Index(i), resources, depth)
		}
		return
	}
	interpretStream(t, contents, resources, depth)
}

func interpretStream(t *tracker, strm, resources pdf.Value, depth int) {
	if strm.Kind() != pdf.Stream {
		return
	}
	pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		switch op {
		case "q":
			t.save()
		case "Q":
			t.restore()
		case "cm":
			if len(args) == 6 {
				t.concat(matrixOf(args))
			}
		case "Do":
			if len(args) == 1 {
				doXObject(t, resources.Key("XObject").Key(args[0].Name()), resources, depth)
			}
		}
	})
}

func doXObject(t *tracker, xobj, parentRes pdf.Value, depth int) {
	switch xobj.Key("Subtype").Name() {
	case "Image":
		t.paintImage()
	case "Form":
		if depth >= maxFormDepth {
			return
		}
		res := xobj.Key("Resources")
		if res.IsNull() {
			res = parentRes
		}
		t.save()
		if m := xobj.Key("Matrix"); m.Kind() == pdf.Array && m.Len() == 6 {
			args := make([]pdf.Value, 6)
			for i := range args {
				args[i] = m.Index(i)
			}
			t.concat(matrixOf(args))
		}
		interpretStream(t, xobj, res, depth+1)
		t.restore()
	}
}

func matrixOf(args []pdf.Value) matrix {
	var m matrix
	for i := range m {
		m[i] = args[i].Float64()
	}
	return m
}

// mediaBox reads the possibly inherited /MediaBox, defaulting to US Letter.
func mediaBox(page pdf.Value) [4]float64 {
	for v := page; !v.IsNull(); v = v.Key("Parent") {
		if mb := v.Key("MediaBox"); mb.Kind() == pdf.Array && mb.Len() == 4 {
			var box [4]float64
			for i := range box {
				box[i] = mb.Index(i).Float64()
			}
			return box
		}
	}
	return [4]float64{0, 0, 612, 792}
}

// rotation returns the inherited /Rotate of page as 0, 90, 180 or 270.
func rotation(page pdf.Value) int {
	for v := page; !v.IsNull(); v = v.Key("Parent") {
		if r := v.Key("Rotate"); r.Kind() == pdf.Integer || r.Kind() == pdf.Real {
			deg := int(math.Round(r.Float64()/90)) * 90
			return (deg%360 + 360) % 360
		}
	}
	return 0
}
