package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestRecorderAggregates(t *testing.T) {
	r := NewRecorder()
	r.Observe("roi:ocr-strip", 10*time.Millisecond)
	r.Observe("roi:ocr-strip", 30*time.Millisecond)
	r.Observe("page:render", 100*time.Millisecond)
	stats := r.Stats()
	if len(stats) != 2 || stats[0].Name != "page:render" {
		t.Fatalf("expected page:render first got %+v", stats)
	}
	s := stats[1]
	if s.Count != 2 || s.Min != 10*time.Millisecond || s.Max != 30*time.Millisecond || s.Avg() != 20*time.Millisecond {
		t.Fatalf("unexpected stat %+v", s)
	}
	lines := r.SummaryLines()
	if lines[1] != "roi:ocr-strip: 40ms total (2x, avg 20ms)" {
		t.Fatalf("unexpected summary line %q", lines[1])
	}
}

func TestRecorderConcurrentAndNil(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Start("x")()
		}()
	}
	wg.Wait()
	if got := r.Stats()[0].Count; got != 50 {
		t.Fatalf("expected 50 observations got %d", got)
	}
	var none *Recorder
	none.Observe("x", time.Second)
	if len(none.SummaryLines()) != 0 {
		t.Fatalf("expected nil recorder to discard")
	}
}
