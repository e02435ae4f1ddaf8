package timectrl

import (
	"sync"
	"time"
)

// DefaultFrameRate approximates a display refresh rate.
const DefaultFrameRate = 60

// FrameSource offers opportunities to do work, the way a display offers
// animation frames. RequestFrame returns a channel that delivers the next
// opportunity; callers ask again after each delivery.
type FrameSource interface {
	RequestFrame() <-chan time.Time
}

// TickerFrameSource delivers frames at a fixed rate.
type TickerFrameSource struct {
	ticker *time.Ticker
	once   sync.Once
}

// NewTickerFrameSource starts a ticker at rate frames per second
// (DefaultFrameRate when rate is not positive). Call Stop when done.
func NewTickerFrameSource(rate int) *TickerFrameSource {
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	return &TickerFrameSource{ticker: time.NewTicker(time.Second / time.Duration(rate))}
}

// RequestFrame returns the ticker channel. Frames that nobody waits for are
// dropped by the ticker.
func (f *TickerFrameSource) RequestFrame() <-chan time.Time {
	return f.ticker.C
}

// Stop releases the ticker.
func (f *TickerFrameSource) Stop() {
	f.once.Do(f.ticker.Stop)
}

// ManualFrameSource delivers frames on demand. It is used by tests and by
// callers that drive updates from their own loop.
type ManualFrameSource struct {
	ch      chan time.Time
	waiting chan struct{}
}

// NewManualFrameSource returns a manual source with no frame pending.
func NewManualFrameSource() *ManualFrameSource {
	return &ManualFrameSource{
		ch:      make(chan time.Time),
		waiting: make(chan struct{}, 1),
	}
}

// RequestFrame records that a loop is waiting and returns the frame channel.
func (f *ManualFrameSource) RequestFrame() <-chan time.Time {
	select {
	case f.waiting <- struct{}{}:
	default:
	}
	return f.ch
}

// Waiting receives once per frame request. After a receive the requesting
// loop has finished handling every earlier frame.
func (f *ManualFrameSource) Waiting() <-chan struct{} {
	return f.waiting
}

// Deliver hands at to the waiting loop, blocking until it is received.
func (f *ManualFrameSource) Deliver(at time.Time) {
	f.ch <- at
}

// Frame waits for a request and delivers at to it.
func (f *ManualFrameSource) Frame(at time.Time) {
	<-f.waiting
	f.Deliver(at)
}
