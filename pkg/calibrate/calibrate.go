// Package calibrate searches for the vertical offset of the SUMA strip on sample
// receipts and suggests a SUMA_STRIP_TOP_PX value.
package calibrate

import (
	"context"
	"errors"
	"image"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"paragon/pkg/imgproc"
	"paragon/pkg/metrics"
	"paragon/pkg/ocr"
)

// MaxReceipts bounds how many receipts of the sample page are scanned.
const MaxReceipts = 4

// ErrNoReceipts is returned when the sample page has no regions.
var ErrNoReceipts = errors.New("no receipts on sample page")

var (
	sumaRE   = regexp.MustCompile(`(^|\b)S\s*U\s*M\s*A\b`)
	plnRE    = regexp.MustCompile(`\bPLN\b`)
	numberRE = regexp.MustCompile(`\d[\d\s.,]*`)
)

// Score rates recognized strip text: 100 for a SUMA label, 40 for PLN and 3 per
// digit of the last number, capped at 60.
func Score(text string) int {
	up := strings.ToUpper(text)
	score := 0
	if sumaRE.MatchString(up) {
		score += 100
	}
	if plnRE.MatchString(up) {
		score += 40
	}
	if nums := numberRE.FindAllString(up, -1); len(nums) > 0 {
		score += min(60, 3*len(ocr.OnlyDigits(nums[len(nums)-1])))
	}
	return score
}

// Candidate is the best strip position found on one receipt.
type Candidate struct {
	Receipt   int    `json:"receipt"`
	Y         int    `json:"y"`           // receipt pixels
	TopBasePx int    `json:"top_base_px"` // Y in base-width pixels
	Score     int    `json:"score"`
	Text      string `json:"text"`
}

// Result holds per-receipt candidates and the median suggestion.
type Result struct {
	Candidates   []Candidate `json:"candidates"`
	SuggestedTop int         `json:"suggested_top_px"`
}

// Calibrator scans strip positions with a recognizer.
type Calibrator struct {
	rec     ocr.Recognizer
	geom    imgproc.StripGeometry
	pre     imgproc.Options
	logger  *zap.Logger
	metrics *metrics.Recorder
}

type Option func(*Calibrator)

func WithGeometry(g imgproc.StripGeometry) Option { return func(c *Calibrator) { c.geom = g } }
func WithPreprocess(p imgproc.Options) Option     { return func(c *Calibrator) { c.pre = p } }
func WithLogger(l *zap.Logger) Option             { return func(c *Calibrator) { c.logger = l } }
func WithMetrics(m *metrics.Recorder) Option      { return func(c *Calibrator) { c.metrics = m } }

func New(rec ocr.Recognizer, opts ...Option) *Calibrator {
	c := &Calibrator{
		rec:    rec,
		geom:   imgproc.DefaultStripGeometry(),
		pre:    imgproc.DefaultOptions(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calibrate scans up to MaxReceipts regions of page in order. Each receipt is searched
// within ±160 base pixels of the configured strip top.
func (c *Calibrator) Calibrate(ctx context.Context, page image.Image, regions []image.Rectangle) (Result, error) {
	if len(regions) == 0 {
		return Result{}, ErrNoReceipts
	}
	if len(regions) > MaxReceipts {
		regions = regions[:MaxReceipts]
	}
	var res Result
	for i, r := range regions {
		receipt := imaging.Crop(page, r)
		cand, err := c.scan(ctx, receipt)
		if err != nil {
			return res, err
		}
		cand.Receipt = i + 1
		c.logger.Info("calibrate receipt",
			zap.Int("receipt", cand.Receipt),
			zap.Int("y", cand.Y),
			zap.Int("base_px", cand.TopBasePx),
			zap.Int("score", cand.Score))
		res.Candidates = append(res.Candidates, cand)
	}
	res.SuggestedTop = median(res.Candidates)
	return res, nil
}

func (c *Calibrator) scan(ctx context.Context, receipt *image.NRGBA) (Candidate, error) {
	w, h := receipt.Bounds().Dx(), receipt.Bounds().Dy()
	s := float64(w) / float64(c.geom.BaseWidth)
	est := c.geom.StripRect(w, h).Min.Y
	half := int(math.Round(160 * s))
	step := max(2, int(math.Round(6*s)))
	sh := min(h, max(8, int(math.Round(float64(c.geom.Height)*s))))
	start := clamp(est-half, 0, h-sh)
	end := clamp(est+half, 0, h-sh)

	best := Candidate{Y: est, Score: math.MinInt}
	for y := start; y <= end; y += step {
		stop := c.metrics.Start("calib:strip")
		strip := imaging.Crop(receipt, image.Rect(0, y, w, y+sh))
		text, err := c.rec.Submit(ctx, imgproc.Preprocess(strip, c.pre), ocr.StripProfile)
		stop()
		if err != nil {
			if ctx.Err() != nil {
				return best, ctx.Err()
			}
			c.logger.Debug("calibrate strip failed", zap.Int("y", y), zap.Error(err))
			text = ""
		}
		if sc := Score(text); sc > best.Score {
			best = Candidate{Y: y, Score: sc, Text: ocr.Snippet(strings.ToUpper(text), 80)}
		}
	}
	best.TopBasePx = int(math.Round(float64(best.Y) / s))
	return best, nil
}

func median(cands []Candidate) int {
	if len(cands) == 0 {
		return 0
	}
	bases := make([]int, len(cands))
	for i, c := range cands {
		bases[i] = c.TopBasePx
	}
	sort.Ints(bases)
	mid := len(bases) / 2
	if len(bases)%2 == 1 {
		return bases[mid]
	}
	return int(math.Round(float64(bases[mid-1]+bases[mid]) / 2))
}

func clamp(v, lo, hi int) int { return max(lo, min(hi, v)) }
