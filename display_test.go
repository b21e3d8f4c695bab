package main

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/epdash/epdash/epd/image1bit"
)

// fakePanel records the wake/draw/sleep call sequence.
type fakePanel struct {
	rect    image.Rectangle
	partial bool

	calls  []string
	frames []*image1bit.HorizontalMSB

	initErr    error
	fullErr    error
	partialErr error
	sleepErr   error
}

func (f *fakePanel) Init() error {
	f.calls = append(f.calls, "init")
	return f.initErr
}

func (f *fakePanel) DrawFull(img *image1bit.HorizontalMSB) error {
	f.calls = append(f.calls, "full")
	f.frames = append(f.frames, img)
	return f.fullErr
}

func (f *fakePanel) DrawPartial(img *image1bit.HorizontalMSB) error {
	f.calls = append(f.calls, "partial")
	if f.partialErr != nil {
		return f.partialErr
	}
	f.frames = append(f.frames, img)
	return nil
}

func (f *fakePanel) PartialSupported() bool { return f.partial }

func (f *fakePanel) Sleep() error {
	f.calls = append(f.calls, "sleep")
	return f.sleepErr
}

func (f *fakePanel) Halt() error {
	f.calls = append(f.calls, "halt")
	return nil
}

func (f *fakePanel) Bounds() image.Rectangle { return f.rect }

func testPanel(partial bool) *fakePanel {
	return &fakePanel{rect: image.Rect(0, 0, 80, 48), partial: partial}
}

func whiteFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return img
}

// drawModes runs n renders and reports which draw mode each one used.
func drawModes(t *testing.T, d *PanelDriver, n int) []string {
	t.Helper()
	p := d.panel.(*fakePanel)
	var modes []string
	for i := 0; i < n; i++ {
		before := len(p.calls)
		if err := d.Render(whiteFrame(80, 48), false); err != nil {
			t.Fatalf("render %d: %v", i+1, err)
		}
		for _, call := range p.calls[before:] {
			if call == "full" || call == "partial" {
				modes = append(modes, call)
			}
		}
	}
	return modes
}

func TestPanelDriverFirstRenderIsFull(t *testing.T) {
	p := testPanel(true)
	d := NewPanelDriver(p, 0, 10)

	if err := d.Render(whiteFrame(80, 48), false); err != nil {
		t.Fatal(err)
	}
	want := []string{"init", "full", "sleep"}
	if got := strings.Join(p.calls, " "); got != strings.Join(want, " ") {
		t.Fatalf("calls = %q, want %q", got, strings.Join(want, " "))
	}
}

func TestPanelDriverRefreshCadence(t *testing.T) {
	p := testPanel(true)
	d := NewPanelDriver(p, 0, 3)

	got := drawModes(t, d, 8)
	// Exactly three partial draws between scheduled full refreshes.
	want := []string{"full", "partial", "partial", "partial", "full", "partial", "partial", "partial"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("draw modes = %v, want %v", got, want)
	}
}

func TestPanelDriverForceFullResetsSchedule(t *testing.T) {
	p := testPanel(true)
	d := NewPanelDriver(p, 0, 3)

	if got := drawModes(t, d, 2); strings.Join(got, " ") != "full partial" {
		t.Fatalf("warmup draw modes = %v", got)
	}
	if err := d.Render(whiteFrame(80, 48), true); err != nil {
		t.Fatal(err)
	}
	// The forced full restarted the schedule: three partials follow again.
	want := []string{"partial", "partial", "partial", "full"}
	if got := drawModes(t, d, 4); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("draw modes after forced full = %v, want %v", got, want)
	}
}

func TestPanelDriverPartialFallback(t *testing.T) {
	p := testPanel(true)
	d := NewPanelDriver(p, 0, 2)

	if err := d.Render(whiteFrame(80, 48), false); err != nil {
		t.Fatal(err)
	}

	p.calls = nil
	p.partialErr = errors.New("boom")
	if err := d.Render(whiteFrame(80, 48), false); err != nil {
		t.Fatalf("fallback render: %v", err)
	}
	want := "init partial full sleep"
	if got := strings.Join(p.calls, " "); got != want {
		t.Fatalf("calls = %q, want %q", got, want)
	}

	// The fallback did not reset the schedule: one more partial is due
	// before the next scheduled full.
	p.partialErr = nil
	if got := drawModes(t, d, 2); strings.Join(got, " ") != "partial full" {
		t.Fatalf("draw modes after fallback = %v, want [partial full]", got)
	}
}

func TestPanelDriverSleepsAfterFailedDraw(t *testing.T) {
	p := testPanel(true)
	p.fullErr = errors.New("boom")
	d := NewPanelDriver(p, 0, 3)

	err := d.Render(whiteFrame(80, 48), false)
	if err == nil || !strings.Contains(err.Error(), "full draw") {
		t.Fatalf("err = %v, want full draw error", err)
	}
	if got := strings.Join(p.calls, " "); got != "init full sleep" {
		t.Fatalf("calls = %q, panel must sleep even after a failed draw", got)
	}
}

func TestPanelDriverSleepErrorSurfaces(t *testing.T) {
	p := testPanel(true)
	p.sleepErr = errors.New("stuck")
	d := NewPanelDriver(p, 0, 3)

	err := d.Render(whiteFrame(80, 48), false)
	if err == nil || !strings.Contains(err.Error(), "sleep panel") {
		t.Fatalf("err = %v, want sleep error", err)
	}
}

func TestPanelDriverWithoutPartialSupport(t *testing.T) {
	p := testPanel(false)
	d := NewPanelDriver(p, 0, 3)

	want := []string{"full", "full", "full", "full"}
	if got := drawModes(t, d, 4); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("draw modes = %v, want all full", got)
	}
}

func TestPanelDriverBounds(t *testing.T) {
	data := []struct {
		rotation int
		want     image.Rectangle
	}{
		{0, image.Rect(0, 0, 80, 48)},
		{90, image.Rect(0, 0, 48, 80)},
		{180, image.Rect(0, 0, 80, 48)},
		{270, image.Rect(0, 0, 48, 80)},
	}
	for _, line := range data {
		d := NewPanelDriver(testPanel(true), line.rotation, 10)
		if got := d.Bounds(); got != line.want {
			t.Errorf("rotation %d: Bounds = %v, want %v", line.rotation, got, line.want)
		}
	}
}

func TestPrepareThreshold(t *testing.T) {
	p := testPanel(true)
	d := NewPanelDriver(p, 0, 10)

	img := whiteFrame(80, 48)
	img.Set(0, 0, color.RGBA{100, 100, 100, 255}) // below the 50% cutoff
	img.Set(1, 0, color.RGBA{200, 200, 200, 255}) // above it

	frame := d.prepare(img)
	if got := frame.BitAt(0, 0); got != image1bit.Off {
		t.Errorf("dark gray = %v, want Off", got)
	}
	if got := frame.BitAt(1, 0); got != image1bit.On {
		t.Errorf("light gray = %v, want On", got)
	}
}

func TestPrepareRotation(t *testing.T) {
	p := testPanel(true)
	d := NewPanelDriver(p, 90, 10)

	// Logical canvas is 48x80; mark its top-left pixel.
	img := whiteFrame(48, 80)
	img.Set(0, 0, color.Black)

	frame := d.prepare(img)
	if got := frame.BitAt(79, 0); got != image1bit.Off {
		t.Errorf("rotated pixel = %v, want Off at (79,0)", got)
	}
	if got := frame.BitAt(0, 0); got != image1bit.On {
		t.Errorf("pixel (0,0) = %v, want On", got)
	}
}

func TestPrepareScalesMismatchedContent(t *testing.T) {
	p := testPanel(true)
	d := NewPanelDriver(p, 0, 10)

	// All-black content at half the canvas size must still cover the
	// whole panel after scaling.
	img := image.NewRGBA(image.Rect(0, 0, 40, 24))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)

	frame := d.prepare(img)
	for _, pt := range []image.Point{{0, 0}, {79, 0}, {0, 47}, {79, 47}, {40, 24}} {
		if got := frame.BitAt(pt.X, pt.Y); got != image1bit.Off {
			t.Errorf("pixel %v = %v, want Off", pt, got)
		}
	}
}

func TestRotateImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	draw.Draw(src, src.Bounds(), image.White, image.Point{}, draw.Src)
	src.Set(0, 0, color.Black)

	isBlack := func(img image.Image, x, y int) bool {
		r, g, b, _ := img.At(x, y).RGBA()
		return r == 0 && g == 0 && b == 0
	}

	data := []struct {
		rotation   int
		wantBounds image.Rectangle
		wantX      int
		wantY      int
	}{
		{90, image.Rect(0, 0, 2, 4), 1, 0},
		{180, image.Rect(0, 0, 4, 2), 3, 1},
		{270, image.Rect(0, 0, 2, 4), 0, 3},
	}
	for _, line := range data {
		got := rotateImage(src, line.rotation)
		if got.Bounds() != line.wantBounds {
			t.Errorf("rotation %d: bounds = %v, want %v", line.rotation, got.Bounds(), line.wantBounds)
			continue
		}
		if !isBlack(got, line.wantX, line.wantY) {
			t.Errorf("rotation %d: marker not at (%d,%d)", line.rotation, line.wantX, line.wantY)
		}
	}

	if got := rotateImage(src, 0); got != image.Image(src) {
		t.Error("rotation 0 should return the source unchanged")
	}
}

func TestNewDriverSimulate(t *testing.T) {
	d, err := newDriver(HardwareConfig{Simulate: true})
	if err != nil {
		t.Fatal(err)
	}
	sim, ok := d.(*SimDriver)
	if !ok {
		t.Fatalf("driver = %T, want *SimDriver", d)
	}
	if got, want := sim.Bounds(), image.Rect(0, 0, 800, 480); got != want {
		t.Fatalf("Bounds = %v, want %v", got, want)
	}
}

func TestNewDriverUnknownProfile(t *testing.T) {
	_, err := newDriver(HardwareConfig{Driver: "epd9in9"})
	if err == nil || !strings.Contains(err.Error(), "epd9in9") {
		t.Fatalf("err = %v, want unknown driver error", err)
	}
}

func TestSimDriverCountsAndDumps(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frame.png")
	s := NewSimDriver(out)

	if err := s.Render(whiteFrame(800, 480), false); err != nil {
		t.Fatal(err)
	}
	if err := s.Render(whiteFrame(800, 480), true); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Renders(), 2; got != want {
		t.Errorf("Renders = %d, want %d", got, want)
	}
	if got, want := s.FullDraws(), 1; got != want {
		t.Errorf("FullDraws = %d, want %d", got, want)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := img.Bounds(), image.Rect(0, 0, 800, 480); got != want {
		t.Fatalf("dumped frame bounds = %v, want %v", got, want)
	}
}
