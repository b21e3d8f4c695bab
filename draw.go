package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	svg "github.com/ajstarks/svgo"
	"github.com/llgcode/draw2d/draw2dimg"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Rendered SVGs keyed by content and target size. The gauges cycle through a
// handful of variants, so the cache stays small. Only the render goroutine
// touches it.
var svgCache = map[string]*image.RGBA{}

//---------------- Drawing Functions ----------------

// drawText draws a string onto an *image.RGBA at (x,y) using the given font
// face and color. posY is the top of the text, not the baseline. When center
// is set, posX is the horizontal midpoint instead of the left edge.
func drawText(img *image.RGBA, text string, posX, posY int, face font.Face, clr color.Color, center bool) (finishX, finishY int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(clr),
		Face: face,
	}

	metrics := face.Metrics()

	x := posX
	if center {
		x = posX - d.MeasureString(text).Round()/2
	}
	y := posY + metrics.Ascent.Round()

	d.Dot = fixed.P(x, y)
	d.DrawString(text)

	finishX = x + d.MeasureString(text).Round()
	finishY = posY + metrics.Ascent.Round() + metrics.Descent.Round()
	return
}

func measureText(face font.Face, text string) int {
	return font.MeasureString(face, text).Round()
}

func faceHeight(face font.Face) int {
	m := face.Metrics()
	return m.Ascent.Round() + m.Descent.Round()
}

// wrapText splits text into lines that each fit within maxWidth when drawn
// with face. A word longer than the limit gets a line of its own.
func wrapText(face font.Face, text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	line := words[0]
	for _, word := range words[1:] {
		candidate := line + " " + word
		if measureText(face, candidate) <= maxWidth {
			line = candidate
			continue
		}
		lines = append(lines, line)
		line = word
	}
	return append(lines, line)
}

// copyImageAt copies src into dst with its top-left corner at (x0, y0).
func copyImageAt(dst *image.RGBA, src image.Image, x0, y0 int) {
	b := src.Bounds()
	r := image.Rect(x0, y0, x0+b.Dx(), y0+b.Dy())
	draw.Draw(dst, r, src, b.Min, draw.Over)
}

// drawRoundedRect traces a rounded rectangle path on the graphic context.
// The caller strokes or fills it.
func drawRoundedRect(gc *draw2dimg.GraphicContext, x, y, w, h, r float64) {
	gc.MoveTo(x+r, y)
	gc.LineTo(x+w-r, y)
	// Top-right arc.
	gc.ArcTo(x+w-r, y+r, r, r, -90, 90)
	gc.LineTo(x+w, y+h-r)
	// Bottom-right arc.
	gc.ArcTo(x+w-r, y+h-r, r, r, 0, 90)
	gc.LineTo(x+r, y+h)
	// Bottom-left arc.
	gc.ArcTo(x+r, y+h-r, r, r, 90, 90)
	gc.LineTo(x, y+r)
	// Top-left arc.
	gc.ArcTo(x+r, y+r, r, r, 180, 90)
	gc.Close()
}

// strokeRoundedBorder strokes a rounded rectangle outline inset from the
// image edges.
func strokeRoundedBorder(img *image.RGBA, inset, radius, lineWidth float64, c color.Color) {
	gc := draw2dimg.NewGraphicContext(img)
	gc.SetStrokeColor(c)
	gc.SetLineWidth(lineWidth)
	b := img.Bounds()
	drawRoundedRect(gc,
		float64(b.Min.X)+inset,
		float64(b.Min.Y)+inset,
		float64(b.Dx())-2*inset,
		float64(b.Dy())-2*inset,
		radius)
	gc.Stroke()
}

// strokeRect strokes a plain rectangle outline.
func strokeRect(img *image.RGBA, r image.Rectangle, lineWidth float64, c color.Color) {
	gc := draw2dimg.NewGraphicContext(img)
	gc.SetStrokeColor(c)
	gc.SetLineWidth(lineWidth)
	gc.MoveTo(float64(r.Min.X), float64(r.Min.Y))
	gc.LineTo(float64(r.Max.X), float64(r.Min.Y))
	gc.LineTo(float64(r.Max.X), float64(r.Max.Y))
	gc.LineTo(float64(r.Min.X), float64(r.Max.Y))
	gc.Close()
	gc.Stroke()
}

// rasterizeSVG renders SVG markup to an RGBA image. Zero target dimensions
// fall back to the document's intrinsic size.
func rasterizeSVG(svgData []byte, targetWidth, targetHeight int) (*image.RGBA, error) {
	if targetWidth == 0 || targetHeight == 0 {
		icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
		if err != nil {
			return nil, err
		}
		if targetWidth == 0 {
			targetWidth = int(icon.ViewBox.W)
		}
		if targetHeight == 0 {
			targetHeight = int(icon.ViewBox.H)
		}
	}

	cacheKey := fmt.Sprintf("%d_%d_%s", targetWidth, targetHeight, svgData)
	if cached, ok := svgCache[cacheKey]; ok {
		return cached, nil
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, err
	}
	icon.SetTarget(0, 0, float64(targetWidth), float64(targetHeight))

	img := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	scanner := rasterx.NewScannerGV(targetWidth, targetHeight, img, img.Bounds())
	dasher := rasterx.NewDasher(targetWidth, targetHeight, scanner)
	icon.Draw(dasher, 1.0)

	svgCache[cacheKey] = img
	return img, nil
}

// drawSignalBars rasterizes a small bar gauge at (x0, y0): level of maxLevel
// bars filled, the rest drawn as outlines.
func drawSignalBars(img *image.RGBA, x0, y0, level, maxLevel int) error {
	const (
		barW   = 10
		barH   = 24
		barGap = 3
		minH   = 6
	)
	if level < 0 {
		level = 0
	}
	if level > maxLevel {
		level = maxLevel
	}

	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(barW*maxLevel+barGap*(maxLevel-1), barH+minH)
	for i := 0; i < maxLevel; i++ {
		h := barH/maxLevel*i + minH
		y := barH / maxLevel * (maxLevel - i)
		style := "fill:none;stroke:black;stroke-width:1"
		if i < level {
			style = "fill:black"
		}
		canvas.Roundrect(i*barW+i*barGap, y, barW, h, 2, 2, style)
	}
	canvas.End()

	bars, err := rasterizeSVG(buf.Bytes(), 0, 0)
	if err != nil {
		return err
	}
	copyImageAt(img, bars, x0, y0)
	return nil
}
