package main

import (
	"context"
	"log"
	"time"

	evdev "github.com/holoplot/go-evdev"
)

// keyEvents maps input key codes onto logical button events. Any keyboard
// or gpio-keys device exposing one of these codes can drive the dashboard.
var keyEvents = map[evdev.EvCode]string{
	evdev.KEY_RIGHT:     ButtonNext,
	evdev.KEY_LEFT:      ButtonPrev,
	evdev.KEY_BACKSPACE: ButtonBack,
	evdev.KEY_R:         ButtonRefresh,
	evdev.KEY_ENTER:     ButtonAction,
}

const buttonDebounce = 200 * time.Millisecond

// Buttons feeds debounced logical button events into a bounded queue that
// the control loop drains at its wait step. The input goroutine never
// touches the display; it only publishes events.
type Buttons struct {
	device string
	events chan ButtonEvent
}

// NewButtons builds the collaborator. devicePath may be empty, in which
// case Watch scans for a suitable input device.
func NewButtons(devicePath string) *Buttons {
	return &Buttons{device: devicePath, events: make(chan ButtonEvent, 8)}
}

// Events is the queue the control loop consumes.
func (b *Buttons) Events() <-chan ButtonEvent { return b.events }

// Inject publishes one logical event without blocking. When the loop is
// too far behind the event is dropped; the loop coalesces renders anyway.
func (b *Buttons) Inject(ev ButtonEvent) {
	select {
	case b.events <- ev:
	default:
		log.Printf("buttons: queue full, dropping %s", ev.Button)
	}
}

// Watch opens the input device and publishes its key presses until ctx
// ends. A missing device is not an error: the dashboard still cycles on
// its own, it just cannot be navigated by hand.
func (b *Buttons) Watch(ctx context.Context) {
	dev, path := b.openDevice()
	if dev == nil {
		log.Printf("buttons: no input device found, button navigation disabled")
		return
	}
	defer dev.Ungrab()
	go func() {
		// Closing the device unblocks the ReadOne below on shutdown.
		<-ctx.Done()
		dev.Close()
	}()

	if err := dev.Grab(); err != nil {
		log.Printf("buttons: warning: failed to grab device: %v", err)
	}
	name, _ := dev.Name()
	log.Printf("buttons: using input device %s (%s)", path, name)

	var lastPress time.Time
	for {
		ev, err := dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("buttons: read: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if ev.Type != evdev.EV_KEY || ev.Value != 1 {
			continue
		}
		logical, ok := keyEvents[ev.Code]
		if !ok {
			continue
		}
		now := time.Now()
		if now.Sub(lastPress) < buttonDebounce {
			continue
		}
		lastPress = now
		b.Inject(ButtonEvent{Button: logical, When: now})
	}
}

// openDevice opens the configured path, or scans for the first device
// that can emit one of the mapped keys.
func (b *Buttons) openDevice() (*evdev.InputDevice, string) {
	if b.device != "" {
		dev, err := evdev.Open(b.device)
		if err != nil {
			log.Printf("buttons: open %s: %v", b.device, err)
			return nil, ""
		}
		return dev, b.device
	}

	paths, err := evdev.ListDevicePaths()
	if err != nil {
		log.Printf("buttons: list devices: %v", err)
		return nil, ""
	}
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		if hasMappedKey(dev) {
			return dev, p.Path
		}
		dev.Close()
	}
	return nil, ""
}

// hasMappedKey reports whether the device can emit any key we route.
func hasMappedKey(dev *evdev.InputDevice) bool {
	for _, code := range dev.CapableEvents(evdev.EV_KEY) {
		if _, ok := keyEvents[code]; ok {
			return true
		}
	}
	return false
}
