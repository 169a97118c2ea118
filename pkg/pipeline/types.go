package pipeline

import (
	"context"
	"errors"
	"image"
	"time"

	"paragon/pkg/ocr"
	"paragon/pkg/region"
)

// ErrRegionTooSmall marks a region or strip below the minimum size; it is counted as
// missing without recognition.
var ErrRegionTooSmall = errors.New("region too small")

// Document is a multi-page input. Pages are numbered from 1.
type Document interface {
	NumPages() int
	Rasterize(ctx context.Context, page int, scale float64) (image.Image, error)
}

// PlacementCapturer is implemented by documents that can report where embedded
// images are drawn on a page, in the pixel space of Rasterize at the same scale.
type PlacementCapturer interface {
	CapturePlacements(ctx context.Context, page int, scale float64) ([]image.Rectangle, error)
}

// Totals are the running counters of a run. Found + Missing == Receipts.
type Totals struct {
	Expected   int // regions located so far
	Receipts   int // regions resolved so far
	Found      int
	Missing    int
	GrandTotal ocr.Amount
}

// RegionReport is the outcome of one receipt region.
type RegionReport struct {
	RunID    string
	Page     int
	Index    int // 1-based within the page
	Rect     image.Rectangle
	Found    bool
	Amount   ocr.Amount
	Tier     ocr.Tier
	Line     string
	Text     string // recognized text of the final attempt
	Attempts int
	Err      error
	Totals   Totals // snapshot after this region
}

// PageReport is sent once every region of a page resolved.
type PageReport struct {
	RunID      string
	Page       int
	PagesTotal int
	Strategy   region.Strategy
	Regions    []RegionReport
	PageTotal  ocr.Amount
	Missing    int
	Totals     Totals
}

// Summary is the result of Run.
type Summary struct {
	RunID      string
	PagesTotal int
	PagesDone  int
	Cancelled  bool
	Totals     Totals
	Duration   time.Duration
}

// Sink receives progress. Calls are serialized by the orchestrator.
type Sink interface {
	RegionDone(RegionReport)
	PageDone(PageReport)
}

type nopSink struct{}

func (nopSink) RegionDone(RegionReport) {}
func (nopSink) PageDone(PageReport)     {}

type multiSink []Sink

// MultiSink fans every report out to each sink in order.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) RegionDone(r RegionReport) {
	for _, s := range m {
		s.RegionDone(r)
	}
}

func (m multiSink) PageDone(p PageReport) {
	for _, s := range m {
		s.PageDone(p)
	}
}
