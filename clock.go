package main

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"gopkg.in/yaml.v3"
)

// clockProvider shows a large time-of-day readout over the date, centered
// with breathing room.
type clockProvider struct {
	BaseProvider
	timeFormat string
	dateFormat string
	timeFace   font.Face
	dateFace   font.Face
	now        func() time.Time
}

type clockSettings struct {
	TimeFormat string  `yaml:"time_format"`
	DateFormat string  `yaml:"date_format"`
	TimeSize   float64 `yaml:"time_size"`
	DateSize   float64 `yaml:"date_size"`
}

func newClockProvider(settings yaml.Node, fonts *FontStore) (Provider, error) {
	s := clockSettings{
		TimeFormat: "15:04",
		DateFormat: "Mon, Jan 02",
		TimeSize:   100,
		DateSize:   40,
	}
	if err := decodeSettings(settings, &s); err != nil {
		return nil, err
	}
	return &clockProvider{
		timeFormat: s.TimeFormat,
		dateFormat: s.DateFormat,
		timeFace:   fonts.FaceSized("clock", s.TimeSize),
		dateFace:   fonts.FaceSized("date", s.DateSize),
		now:        time.Now,
	}, nil
}

func (c *clockProvider) Name() string { return "clock" }

func (c *clockProvider) Render(ctx context.Context, width, height int, layoutName string) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	now := c.now()
	timeStr := now.Format(c.timeFormat)
	dateStr := now.Format(c.dateFormat)

	timeH := faceHeight(c.timeFace)
	dateH := faceHeight(c.dateFace)

	const verticalPadding = 40
	const gap = 30
	totalH := timeH + dateH + gap
	available := height - 2*verticalPadding
	if available < totalH {
		available = totalH
	}
	startY := verticalPadding + (available-totalH)/2

	drawText(img, timeStr, width/2, startY, c.timeFace, color.Black, true)
	drawText(img, dateStr, width/2, startY+timeH+gap, c.dateFace, color.Black, true)
	return img, nil
}
