// Package metrics collects named timing statistics for one run.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Stat aggregates the observations of one name.
type Stat struct {
	Name  string
	Total time.Duration
	Count int
	Min   time.Duration
	Max   time.Duration
}

// Avg is Total divided by Count.
func (s Stat) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Recorder is safe for concurrent use. A nil *Recorder discards everything.
type Recorder struct {
	mu    sync.Mutex
	stats map[string]*Stat
}

func NewRecorder() *Recorder {
	return &Recorder{stats: map[string]*Stat{}}
}

// Observe adds one duration under name.
func (r *Recorder) Observe(name string, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[name]
	if !ok {
		s = &Stat{Name: name, Min: d, Max: d}
		r.stats[name] = s
	}
	s.Total += d
	s.Count++
	s.Min = min(s.Min, d)
	s.Max = max(s.Max, d)
}

// Start begins a measurement; calling the returned func records it and returns the
// elapsed time.
//
//	defer rec.Start("page:render")()
func (r *Recorder) Start(name string) func() time.Duration {
	t0 := time.Now()
	return func() time.Duration {
		d := time.Since(t0)
		r.Observe(name, d)
		return d
	}
}

// Stats returns a snapshot sorted by total time, largest first.
func (r *Recorder) Stats() []Stat {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]Stat, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SummaryLines formats Stats as "name: 120ms total (4x, avg 30ms)".
func (r *Recorder) SummaryLines() []string {
	stats := r.Stats()
	lines := make([]string, 0, len(stats))
	for _, s := range stats {
		lines = append(lines, fmt.Sprintf("%s: %dms total (%dx, avg %dms)",
			s.Name, s.Total.Milliseconds(), s.Count, s.Avg().Milliseconds()))
	}
	return lines
}
