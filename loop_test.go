package main

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"
)

// signalDriver counts renders and signals each one, so tests can pace the
// loop without sleeping.
type signalDriver struct {
	rect     image.Rectangle
	rendered chan struct{}

	mu    sync.Mutex
	fulls []bool
}

func newSignalDriver() *signalDriver {
	return &signalDriver{
		rect:     image.Rect(0, 0, 160, 96),
		rendered: make(chan struct{}, 32),
	}
}

func (d *signalDriver) Bounds() image.Rectangle { return d.rect }

func (d *signalDriver) Render(img image.Image, forceFull bool) error {
	d.mu.Lock()
	d.fulls = append(d.fulls, forceFull)
	d.mu.Unlock()
	d.rendered <- struct{}{}
	return nil
}

func (d *signalDriver) Close() error { return nil }

func (d *signalDriver) flags() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.fulls...)
}

func testLoop(m *Manager, events chan ButtonEvent, cycles int) (*Loop, *signalDriver) {
	d := newSignalDriver()
	r := NewRenderer(d, NewFontStore(nil))
	l := NewLoop(m, r, events, HardwareConfig{CycleSeconds: 1}, cycles)
	l.interval = 20 * time.Millisecond
	return l, d
}

func TestLoopCycleLimitRotatesBackToStart(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	c := &fakeProvider{name: "c"}
	m := managerWith(a, b, c)
	l, d := testLoop(m, make(chan ButtonEvent, 8), 3)

	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, p := range []*fakeProvider{a, b, c} {
		if p.renders != 1 {
			t.Errorf("provider %s renders = %d, want 1", p.name, p.renders)
		}
	}
	if got := m.ActiveIndex(); got != 0 {
		t.Errorf("active index after full rotation = %d, want 0", got)
	}
	if got := len(d.flags()); got != 3 {
		t.Errorf("driver renders = %d, want 3", got)
	}
}

func TestLoopNoProvidersShowsPlaceholder(t *testing.T) {
	l, d := testLoop(managerWith(), make(chan ButtonEvent, 8), 1)

	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(d.flags()); got != 1 {
		t.Fatalf("driver renders = %d, want 1 placeholder frame", got)
	}
}

func TestLoopRefreshEventForcesFullWithoutNavigating(t *testing.T) {
	a := &fakeProvider{name: "a"} // no refresh hook, falls back to tick
	b := &fakeProvider{name: "b"}
	m := managerWith(a, b)
	events := make(chan ButtonEvent, 8)
	l, d := testLoop(m, events, 0)
	l.interval = time.Hour // only events wake the loop

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-d.rendered
	events <- ButtonEvent{Button: ButtonRefresh}
	<-d.rendered
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	flags := d.flags()
	if len(flags) != 2 || flags[0] || !flags[1] {
		t.Fatalf("force flags = %v, want [false true]", flags)
	}
	if got := m.ActiveIndex(); got != 0 {
		t.Errorf("refresh must not navigate, active index = %d", got)
	}
	// Two loop ticks plus the refresh falling back to a tick.
	if a.ticks != 3 {
		t.Errorf("active provider ticks = %d, want 3", a.ticks)
	}
	if b.renders != 0 {
		t.Errorf("inactive provider rendered %d times", b.renders)
	}
}

func TestLoopNextEventNavigates(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	m := managerWith(a, b)
	events := make(chan ButtonEvent, 8)
	l, d := testLoop(m, events, 0)
	l.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-d.rendered
	events <- ButtonEvent{Button: ButtonNext}
	<-d.rendered
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if got := m.ActiveIndex(); got != 1 {
		t.Errorf("active index = %d, want 1", got)
	}
	if a.renders != 1 || b.renders != 1 {
		t.Errorf("renders a=%d b=%d, want 1 each", a.renders, b.renders)
	}
}

func TestLoopCoalescesEventBacklog(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	c := &fakeProvider{name: "c"}
	m := managerWith(a, b, c)
	events := make(chan ButtonEvent, 8)
	// A burst of presses queued before the loop reaches its wait step.
	events <- ButtonEvent{Button: ButtonNext}
	events <- ButtonEvent{Button: ButtonNext}
	events <- ButtonEvent{Button: ButtonPrev}

	l, d := testLoop(m, events, 0)
	l.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-d.rendered
	<-d.rendered
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// Three events collapse into a single re-render of the final state.
	if got := len(d.flags()); got != 2 {
		t.Errorf("driver renders = %d, want 2", got)
	}
	if got := m.ActiveIndex(); got != 1 {
		t.Errorf("active index = %d, want 1 after next next prev", got)
	}
	if b.renders != 1 || c.renders != 0 {
		t.Errorf("renders b=%d c=%d, want b=1 c=0", b.renders, c.renders)
	}
}

func TestLoopQuietHoursSuppressRendersAndDiscardEvents(t *testing.T) {
	a := &fakeProvider{name: "a"}
	m := managerWith(a)
	events := make(chan ButtonEvent, 8)
	events <- ButtonEvent{Button: ButtonNext}

	l, d := testLoop(m, events, 0)
	l.quiet = QuietHours{Start: "00:00", End: "23:59"}
	l.quietPoll = 2 * time.Millisecond
	l.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if got := len(d.flags()); got != 0 {
		t.Fatalf("rendered %d frames during quiet hours", got)
	}
	if a.renders != 0 {
		t.Fatalf("provider rendered %d times during quiet hours", a.renders)
	}
	if got := len(events); got != 0 {
		t.Fatalf("%d events still queued, want them discarded", got)
	}
}

func TestLoopSurvivesRenderErrors(t *testing.T) {
	a := &fakeProvider{name: "a", renderErr: errors.New("boom")}
	m := managerWith(a)
	l, d := testLoop(m, make(chan ButtonEvent, 8), 2)

	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.renders != 2 {
		t.Fatalf("render attempts = %d, want 2", a.renders)
	}
	if got := len(d.flags()); got != 0 {
		t.Fatalf("driver renders = %d, want 0 after render failures", got)
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	m := managerWith(&fakeProvider{name: "a"})
	l, d := testLoop(m, make(chan ButtonEvent, 8), 0)
	l.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-d.rendered
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after context cancellation")
	}
}
