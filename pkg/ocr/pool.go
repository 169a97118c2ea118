package ocr

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// slot is one engine instance. busy is guarded by the owning group's mutex.
type slot struct {
	id      int
	engine  Engine
	profile Profile
	busy    bool
}

// group is a set of slots that serve the same kind of job.
type group struct {
	name  string
	mu    sync.Mutex
	slots []*slot
}

func (g *group) tryAcquire() *slot {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.slots {
		if !s.busy {
			s.busy = true
			return s
		}
	}
	return nil
}

func (g *group) release(s *slot) {
	g.mu.Lock()
	s.busy = false
	g.mu.Unlock()
}

// acquire polls until a slot is free, backing off from minWait to maxWait.
func (g *group) acquire(ctx context.Context, minWait, maxWait time.Duration) (*slot, error) {
	wait := minWait
	for {
		if s := g.tryAcquire(); s != nil {
			return s, nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if wait *= 2; wait > maxWait {
			wait = maxWait
		}
	}
}

// poolMode decides which group serves a profile and how a slot is prepared for a job.
type poolMode interface {
	name() string
	groups() []*group
	route(p Profile) *group
	// bind prepares s for a job with profile p and returns a func restoring its state.
	bind(s *slot, p Profile) (restore func() error, err error)
}

// singleMode has one instance reconfigured for every job.
type singleMode struct{ g *group }

func (m singleMode) name() string         { return "single" }
func (m singleMode) groups() []*group     { return []*group{m.g} }
func (m singleMode) route(Profile) *group { return m.g }
func (m singleMode) bind(s *slot, p Profile) (func() error, error) {
	if err := s.engine.Configure(p); err != nil {
		return nil, err
	}
	return func() error { return s.engine.Configure(FallbackProfile) }, nil
}

// splitMode pins N-1 instances to the strip profile and one to the fallback profile.
// Instances are configured once at Init and never again.
type splitMode struct{ strip, fallback *group }

func (m splitMode) name() string     { return "split" }
func (m splitMode) groups() []*group { return []*group{m.strip, m.fallback} }
func (m splitMode) route(p Profile) *group {
	if p != FallbackProfile {
		return m.strip
	}
	return m.fallback
}
func (m splitMode) bind(*slot, Profile) (func() error, error) { return nil, nil }

// Pool schedules recognition jobs over a fixed set of engine instances.
type Pool struct {
	factory EngineFactory
	mode    poolMode
	size    int
	logger  *zap.Logger
	minWait time.Duration
	maxWait time.Duration

	mu     sync.RWMutex
	ready  bool
	closed bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPolling sets the backoff bounds used while waiting for a free instance.
func WithPolling(minWait, maxWait time.Duration) PoolOption {
	return func(p *Pool) {
		if minWait > 0 {
			p.minWait = minWait
		}
		if maxWait >= p.minWait {
			p.maxWait = maxWait
		}
	}
}

// NewPool lays out count slots. With count <= 1 the pool runs in single mode,
// otherwise in split mode. Engines are created by Init.
func NewPool(count int, factory EngineFactory, opts ...PoolOption) *Pool {
	if count < 1 {
		count = 1
	}
	p := &Pool{
		factory: factory,
		size:    count,
		logger:  zap.NewNop(),
		minWait: 2 * time.Millisecond,
		maxWait: 25 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	if count == 1 {
		p.mode = singleMode{g: &group{name: "single", slots: []*slot{{id: 0, profile: FallbackProfile}}}}
		return p
	}
	strip := &group{name: StripProfile.Name}
	for i := 0; i < count-1; i++ {
		strip.slots = append(strip.slots, &slot{id: i, profile: StripProfile})
	}
	fallback := &group{name: FallbackProfile.Name, slots: []*slot{{id: count - 1, profile: FallbackProfile}}}
	p.mode = splitMode{strip: strip, fallback: fallback}
	return p
}

// Size is the number of engine instances.
func (p *Pool) Size() int { return p.size }

// Mode is "single" or "split".
func (p *Pool) Mode() string { return p.mode.name() }

// Init creates and initializes every engine concurrently and applies each slot's
// profile. On failure all engines created so far are closed.
func (p *Pool) Init(ctx context.Context, languages string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.ready {
		return nil
	}
	start := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	for _, g := range p.mode.groups() {
		for _, s := range g.slots {
			s := s
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return err
				}
				e := p.factory()
				s.engine = e
				if err := e.Init(languages); err != nil {
					return fmt.Errorf("init engine %d: %w", s.id, err)
				}
				if err := e.Configure(s.profile); err != nil {
					return fmt.Errorf("configure engine %d (%s): %w", s.id, s.profile.Name, err)
				}
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		p.closeEngines()
		return err
	}
	p.ready = true
	p.logger.Info("recognition pool ready",
		zap.String("mode", p.mode.name()),
		zap.Int("workers", p.size),
		zap.String("lang", languages),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Submit runs one recognition job on a free instance of the group serving profile.
// In single mode the instance is configured for the job and reset to the default
// profile afterwards; in split mode the group's own profile applies. Engine failures
// are returned wrapped in ErrRecognition and are not retried.
func (p *Pool) Submit(ctx context.Context, img image.Image, profile Profile) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || !p.ready {
		return "", ErrPoolClosed
	}
	g := p.mode.route(profile)
	s, err := g.acquire(ctx, p.minWait, p.maxWait)
	if err != nil {
		return "", err
	}
	defer g.release(s)

	restore, err := p.mode.bind(s, profile)
	if err != nil {
		return "", fmt.Errorf("%w: configure %s: %w", ErrRecognition, profile.Name, err)
	}
	if restore != nil {
		defer func() {
			if err := restore(); err != nil {
				p.logger.Warn("reset engine profile", zap.Int("slot", s.id), zap.Error(err))
			}
		}()
	}
	text, err := s.engine.Recognize(ctx, img)
	if err != nil {
		return "", fmt.Errorf("%w: slot %d (%s): %w", ErrRecognition, s.id, g.name, err)
	}
	return text, nil
}

// Shutdown closes every engine. Failures are logged and otherwise ignored. It waits
// for in-flight jobs and is safe to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.closeEngines()
}

func (p *Pool) closeEngines() {
	for _, g := range p.mode.groups() {
		for _, s := range g.slots {
			if s.engine == nil {
				continue
			}
			if err := s.engine.Close(); err != nil {
				p.logger.Warn("close engine", zap.Int("slot", s.id), zap.String("group", g.name), zap.Error(err))
			}
			s.engine = nil
		}
	}
}
