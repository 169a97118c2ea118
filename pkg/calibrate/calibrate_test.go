package calibrate

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/disintegration/imaging"

	"paragon/pkg/ocr"
)

func TestScore(t *testing.T) {
	cases := map[string]int{
		"":                 0,
		"SUMA PLN 12,34":   152,
		"s u m a 1 234,56": 118,
		"PLN":              40,
		"12 PLN 3456789012345678901234": 100, // digits capped at 60
	}
	for in, want := range cases {
		if got := Score(in); got != want {
			t.Fatalf("Score(%q): expected %d got %d", in, want, got)
		}
	}
}

// scriptedRecognizer answers by call index.
type scriptedRecognizer struct {
	mu       sync.Mutex
	calls    int
	answers  map[int]string
	profiles map[string]int
	failAt   int
}

func (s *scriptedRecognizer) Submit(_ context.Context, _ image.Image, p ocr.Profile) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls
	s.calls++
	if s.profiles == nil {
		s.profiles = map[string]int{}
	}
	s.profiles[p.Name]++
	if s.failAt > 0 && n == s.failAt {
		return "", errors.New("engine hiccup")
	}
	return s.answers[n], nil
}

func TestCalibrateSuggestsMedian(t *testing.T) {
	// 576 wide => scale 1, estimate 408, window 248..566 step 6 => 54 strips per receipt
	page := imaging.New(1152, 1000, color.NRGBA{255, 255, 255, 255})
	regions := []image.Rectangle{image.Rect(0, 0, 576, 1000), image.Rect(576, 0, 1152, 1000)}
	rec := &scriptedRecognizer{answers: map[int]string{
		10:      "SUMA PLN 12,34", // y=308
		11:      "PLN 1",
		54 + 12: "SUMA 99,99", // y=320
	}, failAt: 3}
	res, err := New(rec).Calibrate(context.Background(), page, regions)
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if rec.calls != 108 {
		t.Fatalf("expected 108 strips scanned got %d", rec.calls)
	}
	if rec.profiles["strip"] != 108 {
		t.Fatalf("expected strip profile for every call got %v", rec.profiles)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("expected 2 candidates got %d", len(res.Candidates))
	}
	if c := res.Candidates[0]; c.Y != 308 || c.TopBasePx != 308 || c.Score != 152 {
		t.Fatalf("unexpected first candidate %+v", c)
	}
	if c := res.Candidates[1]; c.Y != 320 || c.Score != 112 {
		t.Fatalf("unexpected second candidate %+v", c)
	}
	if res.SuggestedTop != 314 {
		t.Fatalf("expected suggestion 314 got %d", res.SuggestedTop)
	}
}

func TestCalibrateScalesToBase(t *testing.T) {
	// 1152 wide => scale 2, estimate 816, step 12, half 320
	page := imaging.New(1152, 2000, color.NRGBA{255, 255, 255, 255})
	rec := &scriptedRecognizer{answers: map[int]string{5: "SUMA PLN 1,00"}}
	res, err := New(rec).Calibrate(context.Background(), page, []image.Rectangle{page.Bounds()})
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	c := res.Candidates[0]
	if c.Y != 496+60 || c.TopBasePx != 278 {
		t.Fatalf("unexpected candidate %+v", c)
	}
}

func TestCalibrateLimitsAndErrors(t *testing.T) {
	if _, err := New(&scriptedRecognizer{}).Calibrate(context.Background(), image.NewGray(image.Rect(0, 0, 10, 10)), nil); !errors.Is(err, ErrNoReceipts) {
		t.Fatalf("expected ErrNoReceipts got %v", err)
	}
	page := imaging.New(576, 500, color.NRGBA{255, 255, 255, 255})
	regions := make([]image.Rectangle, 6)
	for i := range regions {
		regions[i] = image.Rect(0, 0, 576, 500)
	}
	res, err := New(&scriptedRecognizer{}).Calibrate(context.Background(), page, regions)
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if len(res.Candidates) != MaxReceipts {
		t.Fatalf("expected %d candidates got %d", MaxReceipts, len(res.Candidates))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &scriptedRecognizer{failAt: 1}
	if _, err := New(rec).Calibrate(ctx, page, regions[:1]); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
}
