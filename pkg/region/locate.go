package region

import (
	"errors"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"paragon/pkg/imgproc"
)

// Strategy names how the regions of a page were found.
type Strategy string

const (
	StrategyHints     Strategy = "hints"
	StrategyGutter    Strategy = "gutter"
	StrategyQuadrants Strategy = "quadrants"
)

// ErrNoRegions is returned when placement hints yield no usable region.
var ErrNoRegions = errors.New("no regions from placement hints")

const (
	MergeGap     = 4
	MinAreaRatio = 0.003

	analysisWidth = 800
	edgeMargin    = 20
)

var gutterThresholds = []float64{0.98, 0.92, 0.85}

// Locate returns the receipt regions of page. Placement hints win when at least one
// merged rectangle survives; otherwise the page is split along its whitespace gutters.
func Locate(page image.Image, hints []image.Rectangle) ([]image.Rectangle, Strategy) {
	if regions, err := FromHints(page.Bounds(), hints); err == nil {
		return regions, StrategyHints
	}
	return SplitGutters(page)
}

// FromHints merges placement hints into regions clipped to the page.
func FromHints(page image.Rectangle, hints []image.Rectangle) ([]image.Rectangle, error) {
	var clipped []image.Rectangle
	for _, r := range MergePlacements(hints, page, MergeGap, MinAreaRatio) {
		if r = r.Intersect(page); !r.Empty() {
			clipped = append(clipped, r)
		}
	}
	if len(clipped) == 0 {
		return nil, ErrNoRegions
	}
	return clipped, nil
}

// MergePlacements unions rectangles that overlap or touch once each is grown by gap,
// repeating until no pair qualifies. Rectangles smaller than minAreaRatio of the page
// are dropped and the rest sorted by top edge, then left edge.
func MergePlacements(rects []image.Rectangle, page image.Rectangle, gap int, minAreaRatio float64) []image.Rectangle {
	out := append([]image.Rectangle(nil), rects...)
	for merged := true; merged; {
		merged = false
	scan:
		for i := 0; i < len(out); i++ {
			for j := i + 1; j < len(out); j++ {
				if touches(out[i], out[j], gap) {
					out[i] = out[i].Union(out[j])
					out = append(out[:j], out[j+1:]...)
					merged = true
					break scan
				}
			}
		}
	}

	minArea := float64(page.Dx()*page.Dy()) * minAreaRatio
	kept := out[:0]
	for _, r := range out {
		if float64(r.Dx()*r.Dy()) >= minArea {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Min.Y != kept[j].Min.Y {
			return kept[i].Min.Y < kept[j].Min.Y
		}
		return kept[i].Min.X < kept[j].Min.X
	})
	return kept
}

// touches reports whether a and b overlap after growing both by gap. Shared edges count.
func touches(a, b image.Rectangle, gap int) bool {
	a, b = a.Inset(-gap), b.Inset(-gap)
	return !(a.Max.X < b.Min.X || b.Max.X < a.Min.X || a.Max.Y < b.Min.Y || b.Max.Y < a.Min.Y)
}

type axis int

const (
	columns axis = iota // scan columns for a vertical gutter
	rows                // scan rows for a horizontal gutter
)

// SplitGutters cuts page into four receipts: one vertical gutter for the whole page,
// then one horizontal gutter per column half. Without a vertical gutter the page is
// cut into exact quadrants. Regions are ordered top-left, top-right, bottom-left,
// bottom-right.
func SplitGutters(page image.Image) ([]image.Rectangle, Strategy) {
	b := page.Bounds()
	W, H := b.Dx(), b.Dy()
	bin := imgproc.ToSmallBinary(page, analysisWidth)
	sx, ok := findGutter(bin, columns)
	if !ok {
		return Quadrants(b), StrategyQuadrants
	}
	splitX := clampEdge(int(math.Round(float64(sx)/bin.Scale)), W)

	leftY := rowSplit(imaging.Crop(page, image.Rect(0, 0, splitX, H).Add(b.Min)), H)
	rightY := rowSplit(imaging.Crop(page, image.Rect(splitX, 0, W, H).Add(b.Min)), H)

	out := []image.Rectangle{
		image.Rect(0, 0, splitX, leftY),
		image.Rect(splitX, 0, W, rightY),
		image.Rect(0, leftY, splitX, H),
		image.Rect(splitX, rightY, W, H),
	}
	for i := range out {
		out[i] = out[i].Add(b.Min).Intersect(b)
	}
	return out, StrategyGutter
}

// Quadrants splits r at its exact midpoints.
func Quadrants(r image.Rectangle) []image.Rectangle {
	sx, sy := r.Dx()/2, r.Dy()/2
	W, H := r.Dx(), r.Dy()
	out := []image.Rectangle{
		image.Rect(0, 0, sx, sy),
		image.Rect(sx, 0, W, sy),
		image.Rect(0, sy, sx, H),
		image.Rect(sx, sy, W, H),
	}
	for i := range out {
		out[i] = out[i].Add(r.Min)
	}
	return out
}

// rowSplit finds the horizontal gutter of one column half, defaulting to H/2.
func rowSplit(col image.Image, H int) int {
	bin := imgproc.ToSmallBinary(col, analysisWidth)
	split := H / 2
	if y, ok := findGutter(bin, rows); ok {
		split = int(math.Round(float64(y) / bin.Scale))
	}
	return clampEdge(split, H)
}

func clampEdge(v, size int) int {
	return max(edgeMargin, min(size-edgeMargin, v))
}

// findGutter searches the centered third of the scan axis for the longest run of
// near-white lines, sampling every second pixel across each line. The white ratio
// required relaxes through gutterThresholds; a run must be at least max(5, n/50)
// lines long. It returns the midpoint of the run.
func findGutter(bin imgproc.Binary, a axis) (int, bool) {
	n, m := bin.W, bin.H
	white := bin.White
	if a == rows {
		n, m = bin.H, bin.W
		white = func(i, j int) bool { return bin.White(j, i) }
	}
	if n <= 0 || m <= 0 {
		return 0, false
	}
	window := max(10, n/3)
	start := max(0, n/2-window/2)
	end := min(n, start+window)
	minRun := max(5, n/50)
	half := float64(m) / 2

	for _, thr := range gutterThresholds {
		bestRun, bestMid := -1, 0
		run, runStart := 0, start
		for i := start; i < end; i++ {
			count := 0
			for j := 0; j < m; j += 2 {
				if white(i, j) {
					count++
				}
			}
			if float64(count)/half >= thr {
				if run == 0 {
					runStart = i
				}
				run++
				continue
			}
			if run > bestRun {
				bestRun, bestMid = run, runStart+run/2
			}
			run = 0
		}
		if run > bestRun {
			bestRun, bestMid = run, runStart+run/2
		}
		if bestRun >= minRun {
			return bestMid, true
		}
	}
	return 0, false
}
