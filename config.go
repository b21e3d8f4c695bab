package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath  = "config/config.yml"
	fallbackConfigPath = "config/config.example.yml"
)

// Config is the top-level configuration tree.
type Config struct {
	Hardware  HardwareConfig      `yaml:"hardware"`
	Providers ProvidersConfig     `yaml:"providers"`
	Fonts     map[string]FontSpec `yaml:"fonts"`
	HTTP      HTTPConfig          `yaml:"http"`
}

type HardwareConfig struct {
	Simulate bool   `yaml:"simulate"`
	Driver   string `yaml:"driver"`
	Rotation int    `yaml:"rotation"` // 0, 90, 180 or 270 degrees

	SPIPort string    `yaml:"spi_port"` // empty selects the first bus
	Pins    PinConfig `yaml:"pins"`

	// Partial draws allowed between two full refreshes. 0 keeps the
	// default; a full refresh on every draw is what simulate is for.
	FullRefreshPeriod int `yaml:"full_refresh_period"`

	CycleSeconds int        `yaml:"cycle_seconds"` // auto-advance period
	QuietHours   QuietHours `yaml:"quiet_hours"`

	// SimOutput makes the simulated driver dump each frame as PNG.
	SimOutput string `yaml:"sim_output"`

	InputDevice string `yaml:"input_device"` // evdev path, empty scans all
}

// PinConfig names the control pins, resolvable by periph's GPIO registry.
type PinConfig struct {
	DC    string `yaml:"dc"`
	Reset string `yaml:"reset"`
	Busy  string `yaml:"busy"`
}

// QuietHours is a wall-clock window ("HH:MM") during which the loop idles.
// A window with start after end crosses midnight.
type QuietHours struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Active reports whether t falls inside the window. Times compare as
// zero-padded "HH:MM" strings, the config format. The window is half-open:
// the start minute is quiet, the end minute is not.
func (q QuietHours) Active(t time.Time) bool {
	if q.Start == "" || q.End == "" {
		return false
	}
	now := t.Format("15:04")
	if q.Start > q.End {
		return now >= q.Start || now < q.End
	}
	return q.Start <= now && now < q.End
}

func (q QuietHours) String() string {
	if q.Start == "" || q.End == "" {
		return "off"
	}
	return q.Start + "-" + q.End
}

type ProvidersConfig struct {
	// Enabled lists providers to load, in screen order. Empty loads every
	// registered provider alphabetically.
	Enabled []string `yaml:"enabled"`

	// Layouts picks a layout preset per provider, by name.
	Layouts map[string]string `yaml:"layouts"`

	// Settings holds one opaque fragment per provider, decoded by its
	// factory.
	Settings map[string]yaml.Node `yaml:"settings"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"` // empty disables the debug server
}

func defaultConfig() Config {
	return Config{
		Hardware: HardwareConfig{
			Simulate:          true,
			Driver:            "epd7in5_V2",
			Pins:              PinConfig{DC: "GPIO25", Reset: "GPIO17", Busy: "GPIO24"},
			FullRefreshPeriod: 10,
			CycleSeconds:      30,
		},
	}
}

// loadConfig reads and unmarshals the config file over the built-in
// defaults. A missing file falls back to the example config, then to the
// defaults alone.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && os.IsNotExist(err) && path == defaultConfigPath {
		data, err = os.ReadFile(fallbackConfigPath)
		if err == nil {
			log.Printf("config: using fallback %s", fallbackConfigPath)
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("config: no configuration found, using defaults")
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if cfg.Hardware.CycleSeconds <= 0 {
		cfg.Hardware.CycleSeconds = 30
	}
	if cfg.Hardware.FullRefreshPeriod <= 0 {
		cfg.Hardware.FullRefreshPeriod = 10
	}
	switch cfg.Hardware.Rotation {
	case 0, 90, 180, 270:
	default:
		return cfg, fmt.Errorf("config: rotation must be 0, 90, 180 or 270, got %d", cfg.Hardware.Rotation)
	}
	return cfg, nil
}
