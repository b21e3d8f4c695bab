package main

import (
	"context"
	"errors"
	"log"
	"time"
)

// Loop is the top-level control state machine: check quiet hours, render
// the active provider, run background ticks, then wait for either the
// cycle timeout or a button event. A timeout auto-advances to the next
// provider; a button event is routed instead and suppresses the advance,
// since a human already navigated.
//
// The loop goroutine is the single owner of the display driver. Button
// events reach it only through the bounded channel, so their state changes
// are applied here, before the next render.
type Loop struct {
	manager  *Manager
	renderer *Renderer
	events   <-chan ButtonEvent

	interval  time.Duration
	quiet     QuietHours
	quietPoll time.Duration
	cycles    int

	now func() time.Time
}

// NewLoop wires the loop up. cycles limits how many renders happen before
// a clean exit; 0 runs until the context ends.
func NewLoop(manager *Manager, renderer *Renderer, events <-chan ButtonEvent, cfg HardwareConfig, cycles int) *Loop {
	return &Loop{
		manager:   manager,
		renderer:  renderer,
		events:    events,
		interval:  time.Duration(cfg.CycleSeconds) * time.Second,
		quiet:     cfg.QuietHours,
		quietPoll: time.Minute,
		cycles:    cycles,
		now:       time.Now,
	}
}

// Run drives the loop until ctx is canceled or the cycle limit is
// reached. Both are clean shutdowns and return nil.
func (l *Loop) Run(ctx context.Context) error {
	log.Printf("loop: cycle interval %s, quiet hours %s", l.interval, l.quiet)

	count := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if l.quiet.Active(l.now()) {
			// Rendering is suspended. Pending button presses are
			// dropped rather than queued up into the morning.
			l.discardEvents()
			if !sleepCtx(ctx, l.quietPoll) {
				return nil
			}
			continue
		}

		l.render(ctx)
		l.manager.TickAll(ctx)

		count++
		if l.cycles > 0 && count >= l.cycles {
			// Complete the cycle's rotation before leaving, so a full
			// run of n cycles over n providers lands back on the first.
			l.manager.Advance()
			log.Printf("loop: completed %d render cycles", count)
			return nil
		}

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev := <-l.events:
			timer.Stop()
			l.consume(ctx, ev)
		case <-timer.C:
			l.manager.Advance()
		}
	}
}

// render draws the active provider, or the placeholder when none is
// loaded. Failures are logged and skipped; the loop keeps running.
func (l *Loop) render(ctx context.Context) {
	w, h := l.renderer.Size()
	content, err := l.manager.RenderActive(ctx, w, h)
	if errors.Is(err, ErrNoProviders) {
		if merr := l.renderer.ShowMessage("No providers enabled."); merr != nil {
			log.Printf("loop: render placeholder: %v", merr)
		}
		return
	}
	if err != nil {
		log.Printf("loop: %v", err)
		return
	}
	if err := l.renderer.Show(content); err != nil {
		log.Printf("loop: show frame: %v", err)
	}
}

// consume routes the event that woke the loop plus any backlog, so the
// single render that follows reflects the latest state.
func (l *Loop) consume(ctx context.Context, ev ButtonEvent) {
	l.apply(ctx, ev)
	for {
		select {
		case next := <-l.events:
			l.apply(ctx, next)
		default:
			return
		}
	}
}

func (l *Loop) apply(ctx context.Context, ev ButtonEvent) {
	log.Printf("loop: button %s", ev.Button)
	if err := l.manager.RouteButton(ctx, ev); err != nil {
		log.Printf("loop: route %s: %v", ev.Button, err)
	}
	if ev.Button == ButtonRefresh {
		l.renderer.ForceFullRefresh()
	}
}

// discardEvents drains pending button events without acting on them.
func (l *Loop) discardEvents() {
	for {
		select {
		case ev := <-l.events:
			log.Printf("loop: quiet hours, ignoring %s", ev.Button)
		default:
			return
		}
	}
}

// sleepCtx sleeps for d unless ctx ends first; false means canceled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
