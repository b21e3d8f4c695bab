// Package epd controls UC8179-class e-paper panels (such as the Waveshare
// 7.5" V2) via SPI.
//
// These panels are bistable: they keep their image unpowered, refresh slowly,
// and must not be left energized between updates. The driver therefore exposes
// an explicit wake/draw/sleep cycle. A full refresh drives the complete
// waveform and removes ghosting; the optional partial mode loads a short
// custom LUT for faster, lower-quality updates between full refreshes.
//
// Deep sleep is only left through a hardware reset, so Init must be called
// again after Sleep before the next draw.
package epd

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/epdash/epdash/epd/image1bit"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Panel commands (UC8179 command set).
const (
	cmdPanelSetting      = 0x00
	cmdPowerSetting      = 0x01
	cmdPowerOff          = 0x02
	cmdPowerOn           = 0x04
	cmdBoosterSoftStart  = 0x06
	cmdDeepSleep         = 0x07
	cmdDataTransmission1 = 0x10 // old frame layer
	cmdDisplayRefresh    = 0x12
	cmdDataTransmission2 = 0x13 // new frame layer
	cmdDualSPI           = 0x15
	cmdVcomLUT           = 0x20
	cmdW2WLUT            = 0x21
	cmdB2WLUT            = 0x22
	cmdW2BLUT            = 0x23
	cmdB2BLUT            = 0x24
	cmdVcomInterval      = 0x50
	cmdTconSetting       = 0x60
	cmdResolution        = 0x61
	cmdVcomDC            = 0x82
	cmdPartialWindow     = 0x90
	cmdPartialIn         = 0x91
	cmdPartialOut        = 0x92
)

const (
	// A full refresh on a 7.5" panel takes several seconds; give it slack.
	refreshTimeout = 30 * time.Second
	// Power on/off settle within a couple hundred milliseconds normally.
	powerTimeout = 5 * time.Second
)

// ErrNoPartial is returned by DrawPartial on panels whose profile carries no
// partial-refresh waveform.
var ErrNoPartial = errors.New("epd: panel has no partial refresh waveform")

// Opts describes one panel model.
type Opts struct {
	W int // width in pixels, must be a multiple of 8
	H int // height in pixels

	// Partial marks panels with a validated fast-refresh waveform. When
	// false, DrawPartial returns ErrNoPartial and callers stick to full
	// refreshes.
	Partial bool
}

// EPD7in5V2 is the 800x480 V2 panel. Its partial waveform is usable as long
// as a full refresh runs periodically to clear ghosting.
var EPD7in5V2 = Opts{W: 800, H: 480, Partial: true}

// EPD7in5 is the first-generation 640x384 panel. It has no usable partial
// waveform, so every draw is a full refresh.
var EPD7in5 = Opts{W: 640, H: 384}

// Fast-refresh waveform tables: a single short drive phase instead of the
// factory waveform. Quick, but charge balance is imperfect, hence the
// scheduled full refreshes upstream.
var (
	lutVcomPartial = []byte{
		0x00, 0x19, 0x01, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00,
	}
	lutW2WPartial = []byte{
		0x00, 0x19, 0x01, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	lutB2WPartial = []byte{
		0x80, 0x19, 0x01, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	lutW2BPartial = []byte{
		0x40, 0x19, 0x01, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	lutB2BPartial = []byte{
		0x00, 0x19, 0x01, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

// command pairs one command byte with its data bytes.
type command struct {
	cmd  byte
	data []byte
}

// Dev is the device handle for the panel.
type Dev struct {
	c    conn.Conn   // SPI connection
	dc   gpio.PinOut // Data/Command pin
	rst  gpio.PinOut // Reset pin
	busy gpio.PinIO  // Busy pin, low while a waveform is running

	rect image.Rectangle
	opts Opts

	sleeping    bool // deep sleep, needs Init before the next draw
	partialMode bool // partial LUT loaded and window open
	halted      bool
}

// NewSPI creates a device handle connected via SPI and runs the full panel
// initialization, leaving the panel awake and configured for full refreshes.
//
// The SPI port is configured for 4MHz, Mode0, 8-bit transfers. All three GPIO
// pins are required. opts can be nil to use the 7.5" V2 defaults.
func NewSPI(p spi.Port, dc, rst gpio.PinOut, busy gpio.PinIO, opts *Opts) (*Dev, error) {
	if opts == nil {
		o := EPD7in5V2
		opts = &o
	}
	if err := validateOpts(opts); err != nil {
		return nil, err
	}
	if dc == nil || rst == nil || busy == nil {
		return nil, errors.New("epd: dc, rst and busy pins are all required")
	}

	c, err := p.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, err
	}

	d := &Dev{
		c:    c,
		dc:   dc,
		rst:  rst,
		busy: busy,
		rect: image.Rect(0, 0, opts.W, opts.H),
		opts: *opts,
	}
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

func validateOpts(opts *Opts) error {
	if opts.W <= 0 || opts.W%8 != 0 {
		return errors.New("epd: width must be a positive multiple of 8")
	}
	if opts.H <= 0 {
		return errors.New("epd: height must be positive")
	}
	return nil
}

// Init wakes the panel with a hardware reset and loads the full-refresh
// configuration. It is called by NewSPI and must be called again after Sleep.
func (d *Dev) Init() error {
	if d.halted {
		return errors.New("epd: halted")
	}
	if err := d.reset(); err != nil {
		return fmt.Errorf("epd: reset: %w", err)
	}

	pre := []command{
		{cmdPowerSetting, []byte{0x07, 0x07, 0x3F, 0x3F}},
		{cmdBoosterSoftStart, []byte{0x17, 0x17, 0x28, 0x17}},
		{cmdPowerOn, nil},
	}
	if err := d.sendSequence(pre); err != nil {
		return err
	}
	if err := d.waitUntilIdle(powerTimeout); err != nil {
		return err
	}

	post := []command{
		{cmdPanelSetting, []byte{0x1F}}, // KW mode, LUT from OTP
		{cmdResolution, []byte{byte(d.opts.W >> 8), byte(d.opts.W), byte(d.opts.H >> 8), byte(d.opts.H)}},
		{cmdDualSPI, []byte{0x00}},
		{cmdVcomInterval, []byte{0x10, 0x07}},
		{cmdTconSetting, []byte{0x22}},
	}
	if err := d.sendSequence(post); err != nil {
		return err
	}

	d.sleeping = false
	d.partialMode = false
	return nil
}

// Clear drives every pixel white through a full refresh, wiping any ghost of
// the previous image.
func (d *Dev) Clear() error {
	if err := d.checkAwake(); err != nil {
		return err
	}
	if err := d.leavePartial(); err != nil {
		return err
	}
	white := make([]byte, d.opts.W/8*d.opts.H) // 0x00 on the wire is white
	if err := d.sendCommand(cmdDataTransmission1); err != nil {
		return err
	}
	if err := d.sendData(white); err != nil {
		return err
	}
	if err := d.sendCommand(cmdDataTransmission2); err != nil {
		return err
	}
	if err := d.sendData(white); err != nil {
		return err
	}
	return d.turnOnDisplay()
}

// DrawFull pushes a complete frame and runs the panel's full refresh
// waveform.
func (d *Dev) DrawFull(img *image1bit.HorizontalMSB) error {
	if err := d.checkAwake(); err != nil {
		return err
	}
	if err := d.checkFrame(img); err != nil {
		return err
	}
	if err := d.leavePartial(); err != nil {
		return err
	}
	if err := d.sendCommand(cmdDataTransmission2); err != nil {
		return err
	}
	if err := d.sendFrame(img.Pix); err != nil {
		return err
	}
	return d.turnOnDisplay()
}

// DrawPartial pushes a complete frame through the fast partial waveform. The
// update is much quicker than DrawFull but accumulates ghosting, so callers
// schedule periodic full refreshes to clean the panel up.
func (d *Dev) DrawPartial(img *image1bit.HorizontalMSB) error {
	if !d.opts.Partial {
		return ErrNoPartial
	}
	if err := d.checkAwake(); err != nil {
		return err
	}
	if err := d.checkFrame(img); err != nil {
		return err
	}
	if !d.partialMode {
		if err := d.enterPartial(); err != nil {
			return err
		}
	}
	if err := d.sendCommand(cmdDataTransmission2); err != nil {
		return err
	}
	if err := d.sendFrame(img.Pix); err != nil {
		return err
	}
	return d.turnOnDisplay()
}

// PartialSupported reports whether this panel profile carries a fast-refresh
// waveform.
func (d *Dev) PartialSupported() bool {
	return d.opts.Partial
}

// Sleep powers the charge pumps off and enters deep sleep. The panel must
// sleep between refreshes: leaving the source drivers energized degrades the
// film. Only Init (hardware reset) wakes it again.
func (d *Dev) Sleep() error {
	if d.halted {
		return errors.New("epd: halted")
	}
	if d.sleeping {
		return nil
	}
	if err := d.leavePartial(); err != nil {
		return err
	}
	if err := d.sendCommand(cmdPowerOff); err != nil {
		return err
	}
	if err := d.waitUntilIdle(powerTimeout); err != nil {
		return err
	}
	if err := d.sendCommand(cmdDeepSleep); err != nil {
		return err
	}
	if err := d.sendData([]byte{0xA5}); err != nil {
		return err
	}
	d.sleeping = true
	return nil
}

// Halt puts the panel to sleep and marks the handle dead. The last frame
// stays visible; bistable panels hold it without power.
func (d *Dev) Halt() error {
	if d.halted {
		return nil
	}
	err := d.Sleep()
	d.halted = true
	return err
}

// ColorModel returns the 1-bit color model of the panel.
func (d *Dev) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds returns the panel dimensions.
func (d *Dev) Bounds() image.Rectangle {
	return d.rect
}

func (d *Dev) String() string {
	return fmt.Sprintf("epd.Dev{%dx%d}", d.rect.Dx(), d.rect.Dy())
}

//---------------- Internals ----------------

func (d *Dev) checkAwake() error {
	if d.halted {
		return errors.New("epd: halted")
	}
	if d.sleeping {
		return errors.New("epd: asleep, call Init first")
	}
	return nil
}

func (d *Dev) checkFrame(img *image1bit.HorizontalMSB) error {
	if img == nil || img.Rect != d.rect {
		return fmt.Errorf("epd: frame must be exactly %dx%d", d.rect.Dx(), d.rect.Dy())
	}
	return nil
}

// reset pulses the RST line. Required to leave deep sleep.
func (d *Dev) reset() error {
	if err := d.rst.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	if err := d.rst.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(2 * time.Millisecond)
	if err := d.rst.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	return nil
}

// enterPartial loads the fast waveform tables and opens a full-panel partial
// window.
func (d *Dev) enterPartial() error {
	w, h := d.opts.W, d.opts.H
	seq := []command{
		{cmdVcomInterval, []byte{0x10, 0x07}},
		{cmdVcomDC, []byte{0x1A}},
		{cmdVcomLUT, lutVcomPartial},
		{cmdW2WLUT, lutW2WPartial},
		{cmdB2WLUT, lutB2WPartial},
		{cmdW2BLUT, lutW2BPartial},
		{cmdB2BLUT, lutB2BPartial},
		{cmdPartialIn, nil},
		{cmdPartialWindow, []byte{
			0x00, 0x00, // x start
			byte((w - 1) >> 8), byte(w - 1), // x end
			0x00, 0x00, // y start
			byte((h - 1) >> 8), byte(h - 1), // y end
			0x01, // scan inside window only
		}},
	}
	if err := d.sendSequence(seq); err != nil {
		return err
	}
	d.partialMode = true
	return nil
}

// leavePartial closes the partial window and returns to the OTP waveform.
func (d *Dev) leavePartial() error {
	if !d.partialMode {
		return nil
	}
	if err := d.sendCommand(cmdPartialOut); err != nil {
		return err
	}
	if err := d.sendCommand(cmdPanelSetting); err != nil {
		return err
	}
	if err := d.sendData([]byte{0x1F}); err != nil {
		return err
	}
	d.partialMode = false
	return nil
}

// turnOnDisplay latches the transmitted frame and runs the refresh waveform.
func (d *Dev) turnOnDisplay() error {
	if err := d.sendCommand(cmdDisplayRefresh); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return d.waitUntilIdle(refreshTimeout)
}

// waitUntilIdle polls the BUSY line until the panel releases it. The panel
// holds BUSY low while a waveform is running, several seconds on a full
// refresh.
func (d *Dev) waitUntilIdle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for d.busy.Read() == gpio.Low {
		if time.Now().After(deadline) {
			return fmt.Errorf("epd: busy timeout after %s", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// sendFrame streams a packed 1-bit frame. The transmission layers use
// inverted polarity: a set bit is white in image1bit but 0 on the wire.
func (d *Dev) sendFrame(pix []byte) error {
	inverted := make([]byte, len(pix))
	for i, b := range pix {
		inverted[i] = ^b
	}
	return d.sendData(inverted)
}

func (d *Dev) sendSequence(seq []command) error {
	for _, c := range seq {
		if err := d.sendCommand(c.cmd); err != nil {
			return err
		}
		if len(c.data) > 0 {
			if err := d.sendData(c.data); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendCommand sends a single command byte with DC low.
func (d *Dev) sendCommand(cmd byte) error {
	if err := d.dc.Out(gpio.Low); err != nil {
		return err
	}
	return d.c.Tx([]byte{cmd}, nil)
}

// sendData sends data bytes with DC high.
func (d *Dev) sendData(data []byte) error {
	if err := d.dc.Out(gpio.High); err != nil {
		return err
	}
	return d.c.Tx(data, nil)
}
