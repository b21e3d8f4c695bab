package main

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log"
	"os"

	xdraw "golang.org/x/image/draw"

	"github.com/epdash/epdash/epd"
	"github.com/epdash/epdash/epd/image1bit"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Driver is the output side of the render pipeline. Only the control loop
// goroutine may call Render: panel access is not safe for concurrent use.
type Driver interface {
	// Bounds is the canvas providers render onto, already accounting for
	// mounting rotation.
	Bounds() image.Rectangle
	// Render pushes one composed frame. forceFull requests the panel's
	// complete-update procedure regardless of the refresh schedule.
	Render(img image.Image, forceFull bool) error
	Close() error
}

// panelProfiles maps the config driver name onto panel options.
var panelProfiles = map[string]epd.Opts{
	"epd7in5_V2": epd.EPD7in5V2,
	"epd7in5":    epd.EPD7in5,
}

// newDriver builds the configured output driver. Hardware bring-up errors
// are fatal for the process: a panel that never initialized has no safe
// degraded mode.
func newDriver(cfg HardwareConfig) (Driver, error) {
	if cfg.Simulate {
		return NewSimDriver(cfg.SimOutput), nil
	}

	opts, ok := panelProfiles[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("display: unknown driver %q", cfg.Driver)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("display: host init: %w", err)
	}
	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("display: open spi %q: %w", cfg.SPIPort, err)
	}

	dc := gpioreg.ByName(cfg.Pins.DC)
	rst := gpioreg.ByName(cfg.Pins.Reset)
	busy := gpioreg.ByName(cfg.Pins.Busy)
	if dc == nil || rst == nil || busy == nil {
		port.Close()
		return nil, fmt.Errorf("display: pins dc=%q reset=%q busy=%q did not all resolve",
			cfg.Pins.DC, cfg.Pins.Reset, cfg.Pins.Busy)
	}

	dev, err := epd.NewSPI(port, dc, rst, busy, &opts)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("display: init %s: %w", cfg.Driver, err)
	}
	// Wipe whatever the panel kept across the downtime, stale content
	// ghosts into the first frames otherwise. Then sleep until the first
	// render wakes the panel again.
	if err := dev.Clear(); err != nil {
		port.Close()
		return nil, fmt.Errorf("display: clear panel: %w", err)
	}
	if err := dev.Sleep(); err != nil {
		port.Close()
		return nil, fmt.Errorf("display: sleep panel: %w", err)
	}
	log.Printf("display: %s ready (%s, partial refresh %t)", cfg.Driver, dev, dev.PartialSupported())

	d := NewPanelDriver(dev, cfg.Rotation, cfg.FullRefreshPeriod)
	d.port = port
	return d, nil
}

//---------------- Simulated Driver ----------------

// Nominal canvas of the simulated driver, same as the 7.5" V2 panel.
const (
	simWidth  = 800
	simHeight = 480
)

// SimDriver stands in for the panel during development: it logs each draw
// and can dump the latest frame as PNG for inspection.
type SimDriver struct {
	rect    image.Rectangle
	outPath string

	renders   int
	fullDraws int
}

func NewSimDriver(outPath string) *SimDriver {
	log.Printf("display: simulation mode, %dx%d canvas", simWidth, simHeight)
	return &SimDriver{rect: image.Rect(0, 0, simWidth, simHeight), outPath: outPath}
}

func (s *SimDriver) Bounds() image.Rectangle { return s.rect }

func (s *SimDriver) Render(img image.Image, forceFull bool) error {
	s.renders++
	if forceFull {
		s.fullDraws++
	}
	log.Printf("display: simulated draw %d (%dx%d, full=%t)",
		s.renders, img.Bounds().Dx(), img.Bounds().Dy(), forceFull)
	if s.outPath == "" {
		return nil
	}
	f, err := os.Create(s.outPath)
	if err != nil {
		return fmt.Errorf("display: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("display: encode frame: %w", err)
	}
	return nil
}

// Renders returns how many frames were pushed.
func (s *SimDriver) Renders() int { return s.renders }

// FullDraws returns how many of those requested a forced full refresh.
func (s *SimDriver) FullDraws() int { return s.fullDraws }

func (s *SimDriver) Close() error { return nil }

//---------------- Panel Driver ----------------

// panel is the slice of the epd device the refresh policy drives. Tests
// substitute a fake.
type panel interface {
	Init() error
	DrawFull(*image1bit.HorizontalMSB) error
	DrawPartial(*image1bit.HorizontalMSB) error
	PartialSupported() bool
	Sleep() error
	Halt() error
	Bounds() image.Rectangle
}

// PanelDriver owns the refresh schedule for a physical panel. Partial
// draws are fast but accumulate ghosting, so after fullRefreshPeriod of
// them the next draw runs the complete waveform and resets the schedule.
// The panel sleeps after every draw no matter how it went: leaving an
// e-paper panel energized between updates degrades the film.
type PanelDriver struct {
	panel    panel
	port     spi.PortCloser
	rotation int
	partial  bool

	counter           int
	fullRefreshPeriod int
}

// NewPanelDriver wraps an initialized panel. The counter starts saturated
// so the very first draw after startup is a full refresh.
func NewPanelDriver(p panel, rotation, fullRefreshPeriod int) *PanelDriver {
	return &PanelDriver{
		panel:             p,
		rotation:          rotation,
		partial:           p.PartialSupported(),
		counter:           fullRefreshPeriod,
		fullRefreshPeriod: fullRefreshPeriod,
	}
}

// Bounds is the logical canvas: the panel's native size, swapped when the
// display is mounted rotated by 90 or 270 degrees.
func (d *PanelDriver) Bounds() image.Rectangle {
	b := d.panel.Bounds()
	if d.rotation == 90 || d.rotation == 270 {
		return image.Rect(0, 0, b.Dy(), b.Dx())
	}
	return b
}

// Render wakes the panel, pushes the frame through the scheduled refresh
// mode and puts the panel back to sleep. The sleep step is unconditional;
// a draw error is still returned to the caller after it.
func (d *PanelDriver) Render(img image.Image, forceFull bool) (err error) {
	if err = d.panel.Init(); err != nil {
		return fmt.Errorf("display: wake panel: %w", err)
	}
	defer func() {
		if serr := d.panel.Sleep(); serr != nil {
			if err == nil {
				err = fmt.Errorf("display: sleep panel: %w", serr)
			} else {
				log.Printf("display: sleep panel after failed draw: %v", serr)
			}
		}
	}()

	frame := d.prepare(img)
	if forceFull || !d.partial || d.counter >= d.fullRefreshPeriod {
		if err := d.panel.DrawFull(frame); err != nil {
			return fmt.Errorf("display: full draw: %w", err)
		}
		d.counter = 0
		return nil
	}

	d.counter++
	if err := d.panel.DrawPartial(frame); err != nil {
		// Fall back to a full draw for this cycle only. The schedule is
		// untouched: the fallback is not the scheduled full refresh.
		log.Printf("display: partial draw failed, falling back to full: %v", err)
		if err := d.panel.DrawFull(frame); err != nil {
			return fmt.Errorf("display: full draw after partial fallback: %w", err)
		}
	}
	return nil
}

// Close puts the panel into permanent deep sleep. The last frame stays
// visible; bistable panels hold it without power.
func (d *PanelDriver) Close() error {
	err := d.panel.Halt()
	if d.port != nil {
		if cerr := d.port.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// prepare converts a composed frame to the panel's native format: scale to
// the logical canvas if the size is off, rotate to panel orientation, then
// threshold to 1-bit. The hard luminance cutoff keeps text edges crisp
// where dithering would shred thin glyph strokes.
func (d *PanelDriver) prepare(img image.Image) *image1bit.HorizontalMSB {
	logical := d.Bounds()
	if img.Bounds().Dx() != logical.Dx() || img.Bounds().Dy() != logical.Dy() {
		scaled := image.NewRGBA(logical)
		xdraw.NearestNeighbor.Scale(scaled, logical, img, img.Bounds(), xdraw.Src, nil)
		img = scaled
	}
	rotated := rotateImage(img, d.rotation)
	frame := image1bit.NewHorizontalMSB(d.panel.Bounds())
	draw.Draw(frame, frame.Rect, rotated, rotated.Bounds().Min, draw.Src)
	return frame
}

// rotateImage returns img rotated clockwise by 0, 90, 180 or 270 degrees.
func rotateImage(img image.Image, rotation int) image.Image {
	if rotation == 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	if rotation == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch rotation {
			case 90:
				dst.Set(h-1-y, x, c)
			case 180:
				dst.Set(w-1-x, h-1-y, c)
			case 270:
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}
