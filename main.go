package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagSimulate bool
	flagCycles   int
)

var rootCmd = &cobra.Command{
	Use:   "epdash",
	Short: "E-paper dashboard daemon",
	Long: `epdash drives an e-paper panel as a rotating dashboard. Content
providers render screens (clock, meal plan, tasks, network health), the
control loop cycles through them, and physical buttons or the debug web
UI navigate between them.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", defaultConfigPath, "path to the YAML config file")
	rootCmd.Flags().BoolVar(&flagSimulate, "simulate", false, "render in memory instead of driving a panel")
	rootCmd.Flags().IntVar(&flagCycles, "cycles", 0, "exit after this many display cycles, 0 runs forever")
}

func run() error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagSimulate {
		cfg.Hardware.Simulate = true
	}

	fonts := NewFontStore(cfg.Fonts)
	manager := NewManager(&cfg, fonts)

	driver, err := newDriver(cfg.Hardware)
	if err != nil {
		return err
	}
	defer func() {
		if err := driver.Close(); err != nil {
			log.Printf("display: close: %v", err)
		}
	}()

	renderer := NewRenderer(driver, fonts)
	buttons := NewButtons(cfg.Hardware.InputDevice)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go buttons.Watch(ctx)
	if cfg.HTTP.Listen != "" {
		startHTTPServer(cfg.HTTP.Listen, renderer, manager, buttons)
	}

	loop := NewLoop(manager, renderer, buttons.Events(), cfg.Hardware, flagCycles)
	return loop.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
