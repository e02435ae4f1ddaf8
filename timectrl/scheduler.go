package timectrl

import (
	"context"
	"sync"
	"time"
)

// DefaultMinInterval is the minimum spacing between two updates.
const DefaultMinInterval = time.Second

// State describes the scheduler between frames.
type State int

const (
	// Idle means no frame is requested: before Run, while an update runs,
	// and after Run returns.
	Idle State = iota
	// Pending means a frame has been requested and not yet used for an
	// update. Skipped frames leave the scheduler Pending.
	Pending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// UpdateFunc performs one refresh. now is the scheduler clock's time when
// the update starts.
type UpdateFunc func(ctx context.Context, now time.Time)

// UpdateRecorder receives scheduler measurements.
type UpdateRecorder interface {
	ObserveUpdate(d time.Duration)
	IncFramesSkipped()
}

// Scheduler gates frame opportunities so the update runs at most once per
// MinInterval. The gate is measured from the completion of the previous
// update.
type Scheduler struct {
	mu          sync.Mutex
	clock       Clock
	minInterval time.Duration
	update      UpdateFunc
	metrics     UpdateRecorder

	state     State
	ran       bool
	completed time.Time
	updates   int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMinInterval overrides DefaultMinInterval. Non-positive values are
// ignored.
func WithMinInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.minInterval = d
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r UpdateRecorder) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// NewScheduler returns an idle scheduler for update.
func NewScheduler(update UpdateFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:       SystemClock{},
		minInterval: DefaultMinInterval,
		update:      update,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MinInterval returns the configured gate.
func (s *Scheduler) MinInterval() time.Duration { return s.minInterval }

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Updates returns how many updates have run.
func (s *Scheduler) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Await marks the scheduler Pending and returns the channel that will
// deliver the next frame from frames.
func (s *Scheduler) Await(frames FrameSource) <-chan time.Time {
	s.setState(Pending)
	return frames.RequestFrame()
}

// OnFrame handles one frame opportunity. It runs the update and returns true
// unless a previous update completed less than MinInterval ago. The
// scheduler is Idle from the start of the update until the next Await.
func (s *Scheduler) OnFrame(ctx context.Context) bool {
	now := s.clock.Now()

	s.mu.Lock()
	if s.ran && now.Sub(s.completed) < s.minInterval {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.IncFramesSkipped()
		}
		return false
	}
	s.state = Idle
	s.mu.Unlock()

	if s.update != nil {
		s.update(ctx, now)
	}
	done := s.clock.Now()

	s.mu.Lock()
	s.ran = true
	s.completed = done
	s.updates++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveUpdate(done.Sub(now))
	}
	return true
}

// Run requests frames from frames and handles each with OnFrame until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context, frames FrameSource) error {
	defer s.setState(Idle)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Await(frames):
			s.OnFrame(ctx)
		}
	}
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
