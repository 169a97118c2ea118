// Package pipeline turns documents of scanned receipt pages into SUMA totals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"paragon/pkg/imgproc"
	"paragon/pkg/metrics"
	"paragon/pkg/ocr"
	"paragon/pkg/region"
)

// Orchestrator runs pages one at a time and the regions of a page concurrently.
type Orchestrator struct {
	rec         ocr.Recognizer
	sink        Sink
	logger      *zap.Logger
	metrics     *metrics.Recorder
	scale       float64
	pre         imgproc.Options
	strip       imgproc.StripGeometry
	minRegionPx int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithSink(s Sink) Option { return func(o *Orchestrator) { o.sink = s } }

func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithMetrics(m *metrics.Recorder) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithScale sets the render scale relative to 72 dpi.
func WithScale(s float64) Option { return func(o *Orchestrator) { o.scale = s } }

func WithPreprocess(p imgproc.Options) Option { return func(o *Orchestrator) { o.pre = p } }

func WithStripGeometry(g imgproc.StripGeometry) Option { return func(o *Orchestrator) { o.strip = g } }

// New returns an orchestrator submitting recognition jobs to rec.
func New(rec ocr.Recognizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rec:         rec,
		sink:        nopSink{},
		logger:      zap.NewNop(),
		scale:       3,
		pre:         imgproc.DefaultOptions(),
		strip:       imgproc.DefaultStripGeometry(),
		minRegionPx: 8,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sink == nil {
		o.sink = nopSink{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// tally guards the running totals and serializes sink calls.
type tally struct {
	mu     sync.Mutex
	totals Totals
	sink   Sink
}

func (t *tally) expect(n int) {
	t.mu.Lock()
	t.totals.Expected += n
	t.mu.Unlock()
}

func (t *tally) region(r *RegionReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals.Receipts++
	if r.Found {
		t.totals.Found++
		t.totals.GrandTotal += r.Amount
	} else {
		t.totals.Missing++
	}
	r.Totals = t.totals
	t.sink.RegionDone(*r)
}

func (t *tally) page(p *PageReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.Totals = t.totals
	t.sink.PageDone(*p)
}

func (t *tally) snapshot() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

// Run processes every page of doc in order. Cancellation of ctx is checked before
// each page; a page already started runs to completion. A rasterization error stops
// the run and is returned with the summary collected so far.
func (o *Orchestrator) Run(ctx context.Context, doc Document) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString(), PagesTotal: doc.NumPages()}
	t := &tally{sink: o.sink}
	log := o.logger.With(zap.String("run", sum.RunID))
	log.Info("run started", zap.Int("pages", sum.PagesTotal))

	var runErr error
	for p := 1; p <= sum.PagesTotal; p++ {
		if ctx.Err() != nil {
			sum.Cancelled = true
			log.Info("run cancelled", zap.Int("page", p))
			break
		}
		pageCtx := context.WithoutCancel(ctx)
		stop := o.metrics.Start("page:render")
		img, err := doc.Rasterize(pageCtx, p, o.scale)
		stop()
		if err != nil {
			runErr = fmt.Errorf("rasterize page %d: %w", p, err)
			break
		}
		var hints []image.Rectangle
		if pc, ok := doc.(PlacementCapturer); ok {
			if hints, err = pc.CapturePlacements(pageCtx, p, o.scale); err != nil {
				log.Warn("placement capture failed", zap.Int("page", p), zap.Error(err))
				hints = nil
			}
		}
		o.processPage(pageCtx, log, sum.RunID, p, sum.PagesTotal, img, hints, t)
		sum.PagesDone++
	}

	sum.Totals = t.snapshot()
	sum.Duration = time.Since(start)
	log.Info("run finished",
		zap.Int("pages_done", sum.PagesDone),
		zap.Int("receipts", sum.Totals.Receipts),
		zap.Int("missing", sum.Totals.Missing),
		zap.String("grand_total", sum.Totals.GrandTotal.String()),
		zap.Bool("cancelled", sum.Cancelled),
		zap.Duration("took", sum.Duration))
	return sum, runErr
}

func (o *Orchestrator) processPage(ctx context.Context, log *zap.Logger, runID string, pageNum, pages int, page image.Image, hints []image.Rectangle, t *tally) PageReport {
	stop := o.metrics.Start("page:locate")
	regions, strategy := region.Locate(page, hints)
	stop()
	t.expect(len(regions))
	log.Info("page located",
		zap.Int("page", pageNum),
		zap.Int("hints", len(hints)),
		zap.Int("regions", len(regions)),
		zap.String("strategy", string(strategy)))

	reports := make([]RegionReport, len(regions))
	stopWall := o.metrics.Start("page:ocr-wall")
	var wg sync.WaitGroup
	for i, r := range regions {
		i, r := i, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep := o.processRegion(ctx, page, r)
			rep.RunID, rep.Page, rep.Index = runID, pageNum, i+1
			o.logRegion(log, rep)
			t.region(&rep)
			reports[i] = rep
		}()
	}
	wg.Wait()
	stopWall()

	pr := PageReport{RunID: runID, Page: pageNum, PagesTotal: pages, Strategy: strategy, Regions: reports}
	for _, r := range reports {
		if r.Found {
			pr.PageTotal += r.Amount
		} else {
			pr.Missing++
		}
	}
	t.page(&pr)
	return pr
}

// processRegion reads the SUMA strip and escalates once to the whole trimmed receipt
// when the strip yields no amount. The second answer is final.
func (o *Orchestrator) processRegion(ctx context.Context, page image.Image, r image.Rectangle) RegionReport {
	rep := RegionReport{Rect: r}
	if r.Dx() < o.minRegionPx || r.Dy() < o.minRegionPx {
		rep.Err = fmt.Errorf("%w: %dx%d", ErrRegionTooSmall, r.Dx(), r.Dy())
		return rep
	}
	stop := o.metrics.Start("page:crop+pre")
	receipt := imaging.Crop(page, r)
	strip, sr := imgproc.StripCrop(receipt, o.strip)
	if sr.Dx() < o.minRegionPx || sr.Dy() < o.minRegionPx {
		stop()
		rep.Err = fmt.Errorf("%w: strip %dx%d", ErrRegionTooSmall, sr.Dx(), sr.Dy())
		return rep
	}
	pre := imgproc.Preprocess(strip, o.pre)
	stop()

	stop = o.metrics.Start("roi:ocr-strip")
	text, err := o.rec.Submit(ctx, pre, ocr.StripProfile)
	stop()
	rep.Attempts = 1
	e := ocr.ExtractSuma(text)

	if !e.Found {
		stop = o.metrics.Start("page:full-trim-crops")
		full, _ := imgproc.FullReceiptCrop(receipt)
		pre = imgproc.Preprocess(full, o.pre)
		stop()
		stop = o.metrics.Start("roi:ocr-fallback")
		text, err = o.rec.Submit(ctx, pre, ocr.FallbackProfile)
		stop()
		rep.Attempts = 2
		e = ocr.ExtractSuma(text)
	}

	rep.Text = text
	if e.Found {
		rep.Found, rep.Amount, rep.Tier, rep.Line = true, e.Amount, e.Tier, e.Line
		return rep
	}
	if err != nil {
		rep.Err = err
	} else {
		rep.Err = ocr.ErrNoAmount
	}
	return rep
}

func (o *Orchestrator) logRegion(log *zap.Logger, r RegionReport) {
	fields := []zap.Field{zap.Int("page", r.Page), zap.Int("receipt", r.Index), zap.Int("attempts", r.Attempts)}
	switch {
	case r.Found:
		log.Debug("suma found", append(fields,
			zap.String("amount", r.Amount.String()),
			zap.String("tier", r.Tier.String()),
			zap.String("line", r.Line))...)
	case errors.Is(r.Err, ErrRegionTooSmall):
		log.Warn("roi too small", append(fields, zap.Error(r.Err))...)
	default:
		log.Debug("suma not found", append(fields,
			zap.String("text", ocr.Snippet(r.Text, 80)),
			zap.Error(r.Err))...)
	}
}
