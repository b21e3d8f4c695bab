package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log"
	"time"

	"github.com/go-ping/ping"
	"gopkg.in/yaml.v3"
)

// networkProvider probes a target host over ICMP and shows reachability,
// average latency and packet loss as a multi-slot panel.
type networkProvider struct {
	BaseProvider
	target     string
	count      int
	probeEvery time.Duration
	fonts      *FontStore
	now        func() time.Time
	probe      func(ctx context.Context) (probeResult, error)

	lastProbe time.Time
	online    bool
	avgRTT    time.Duration
	loss      float64
}

type probeResult struct {
	online bool
	avgRTT time.Duration
	loss   float64
}

type networkSettings struct {
	Target       string `yaml:"target"`
	Count        int    `yaml:"count"`
	ProbeSeconds int    `yaml:"probe_seconds"`
}

// networkSlotKeys maps panel roles onto slot keys per supported preset.
var networkSlotKeys = map[string]struct {
	headline, latency, loss, target, bars string
}{
	"compact_quads": {"main", "bottom_left", "bottom_right", "footer_left", "footer_right"},
	"striped_rows":  {"row1_left", "row2_left", "row2_center", "row2_right", "row1_right"},
}

func newNetworkProvider(settings yaml.Node, fonts *FontStore) (Provider, error) {
	s := networkSettings{Target: "1.1.1.1", Count: 3, ProbeSeconds: 60}
	if err := decodeSettings(settings, &s); err != nil {
		return nil, err
	}
	if s.Count <= 0 {
		s.Count = 3
	}
	if s.ProbeSeconds <= 0 {
		s.ProbeSeconds = 60
	}
	n := &networkProvider{
		target:     s.Target,
		count:      s.Count,
		probeEvery: time.Duration(s.ProbeSeconds) * time.Second,
		fonts:      fonts,
		now:        time.Now,
	}
	n.probe = n.runProbe
	return n, nil
}

func (n *networkProvider) Name() string { return "network" }

func (n *networkProvider) Layouts() []LayoutPreset {
	var presets []LayoutPreset
	for _, name := range []string{"compact_quads", "striped_rows"} {
		if p, ok := PresetByName(name); ok {
			presets = append(presets, p)
		}
	}
	return presets
}

// runProbe performs a blocking ICMP probe. Raw ICMP needs root; on most
// deployments the binary runs privileged anyway to reach SPI and GPIO.
func (n *networkProvider) runProbe(ctx context.Context) (probeResult, error) {
	pinger, err := ping.NewPinger(n.target)
	if err != nil {
		return probeResult{}, err
	}
	pinger.SetPrivileged(true)
	pinger.Count = n.count
	pinger.Timeout = 4 * time.Second

	if err := pinger.Run(); err != nil {
		return probeResult{}, err
	}
	stats := pinger.Statistics()
	return probeResult{
		online: stats.PacketsRecv > 0,
		avgRTT: stats.AvgRtt,
		loss:   stats.PacketLoss,
	}, nil
}

func (n *networkProvider) Tick(ctx context.Context) error {
	now := n.now()
	if !n.lastProbe.IsZero() && now.Sub(n.lastProbe) < n.probeEvery {
		return nil
	}
	n.lastProbe = now

	res, err := n.probe(ctx)
	if err != nil {
		n.online = false
		n.avgRTT = 0
		n.loss = 100
		return fmt.Errorf("network: probe %s: %w", n.target, err)
	}
	n.online = res.online
	n.avgRTT = res.avgRTT
	n.loss = res.loss
	return nil
}

// signalLevel buckets latency into 0..4 bars.
func (n *networkProvider) signalLevel() int {
	if !n.online {
		return 0
	}
	switch {
	case n.avgRTT < 20*time.Millisecond:
		return 4
	case n.avgRTT < 60*time.Millisecond:
		return 3
	case n.avgRTT < 150*time.Millisecond:
		return 2
	default:
		return 1
	}
}

func (n *networkProvider) Render(ctx context.Context, width, height int, layoutName string) (image.Image, error) {
	if n.lastProbe.IsZero() {
		if err := n.Tick(ctx); err != nil {
			log.Printf("providers: network initial probe: %v", err)
		}
	}

	preset := n.Layouts()[0]
	if layoutName != "" {
		for _, candidate := range n.Layouts() {
			if candidate.Name == layoutName {
				preset = candidate
			}
		}
	}
	keys := networkSlotKeys[preset.Name]
	regions := ResolveSlots(preset, width, height)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	headline := "Offline"
	latency := "n/a"
	if n.online {
		headline = "Online"
		latency = fmt.Sprintf("%d ms", n.avgRTT.Milliseconds())
	}

	main := slotRect(regions, keys.headline, width, height)
	headFace := n.fonts.Face("large")
	drawText(img, headline, main.Min.X+main.Dx()/2, main.Min.Y+(main.Dy()-faceHeight(headFace))/2, headFace, color.Black, true)

	n.drawCell(img, slotRect(regions, keys.latency, width, height), "Latency", latency)
	n.drawCell(img, slotRect(regions, keys.loss, width, height), "Loss", fmt.Sprintf("%.0f%%", n.loss))
	n.drawCell(img, slotRect(regions, keys.target, width, height), "Target", n.target)

	bars := slotRect(regions, keys.bars, width, height)
	strokeRect(img, bars.Inset(6), 1, color.Black)
	if err := drawSignalBars(img, bars.Min.X+bars.Dx()/2-24, bars.Min.Y+bars.Dy()/2-15, n.signalLevel(), 4); err != nil {
		return nil, err
	}
	return img, nil
}

// drawCell renders one labeled value inside a slot with a thin border.
func (n *networkProvider) drawCell(img *image.RGBA, r image.Rectangle, label, value string) {
	strokeRect(img, r.Inset(6), 1, color.Black)
	small := n.fonts.Face("small")
	body := n.fonts.Face("default")
	cx := r.Min.X + r.Dx()/2
	drawText(img, label, cx, r.Min.Y+14, small, color.Black, true)
	drawText(img, value, cx, r.Min.Y+14+faceHeight(small)+8, body, color.Black, true)
}
