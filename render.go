package main

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// Renderer composes content onto the display canvas and pushes it to the
// driver. Every frame gets the same cosmetic treatment, a doubled rounded
// border, whether it came from a provider or the built-in message screen.
//
// Only the control loop renders. The mutex guards the last composed frame,
// which the debug server reads concurrently.
type Renderer struct {
	driver Driver
	fonts  *FontStore

	// forceFull is owned by the control loop goroutine: set when a refresh
	// button event is consumed, cleared once a frame reached the driver.
	forceFull bool

	mu        sync.RWMutex
	lastFrame *image.RGBA
}

func NewRenderer(driver Driver, fonts *FontStore) *Renderer {
	return &Renderer{driver: driver, fonts: fonts}
}

// Size returns the canvas dimensions providers should render for.
func (r *Renderer) Size() (width, height int) {
	b := r.driver.Bounds()
	return b.Dx(), b.Dy()
}

// ForceFullRefresh makes the next frame use the panel's complete-update
// procedure. The flag survives a failed render and clears only once a
// frame actually reached the driver.
func (r *Renderer) ForceFullRefresh() {
	r.forceFull = true
}

// Show composes the content onto a white canvas, applies the border
// decoration and hands the frame to the driver.
func (r *Renderer) Show(content image.Image) error {
	w, h := r.Size()
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(frame, frame.Bounds(), image.White, image.Point{}, draw.Src)
	if content != nil {
		draw.Draw(frame, frame.Bounds(), content, content.Bounds().Min, draw.Over)
	}
	decorateFrame(frame)

	r.mu.Lock()
	r.lastFrame = frame
	r.mu.Unlock()

	if err := r.driver.Render(frame, r.forceFull); err != nil {
		return err
	}
	r.forceFull = false
	return nil
}

// ShowMessage rasterizes a text-only frame and routes it through the same
// pipeline as provider content, so the refresh policy treats both alike.
func (r *Renderer) ShowMessage(text string) error {
	w, h := r.Size()
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	face := r.fonts.Face("default")
	lines := wrapText(face, text, w-120)
	lineH := faceHeight(face) + 8
	y := (h - len(lines)*lineH) / 2
	for _, line := range lines {
		drawText(canvas, line, w/2, y, face, color.Black, true)
		y += lineH
	}
	return r.Show(canvas)
}

// LastFrame returns a copy of the frame most recently composed, or nil
// before the first render.
func (r *Renderer) LastFrame() *image.RGBA {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastFrame == nil {
		return nil
	}
	cp := image.NewRGBA(r.lastFrame.Rect)
	copy(cp.Pix, r.lastFrame.Pix)
	return cp
}

// decorateFrame strokes the two nested rounded rectangles framing every
// screen.
func decorateFrame(frame *image.RGBA) {
	strokeRoundedBorder(frame, 4, 12, 2, color.Black)
	strokeRoundedBorder(frame, 10, 8, 1, color.Black)
}
