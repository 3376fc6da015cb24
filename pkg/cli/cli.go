// Package cli provides the command-line interface for ride-scanner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config.yaml (default: <home>/config.yaml if present)",
		EnvVars: []string{"RIDESCANNER_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "appium-url",
		Usage: "Appium server URL (overrides config and APPIUM_URL)",
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"udid"},
		Usage:   "Device ID to drive (overrides config)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable debug logging",
		EnvVars: []string{"RIDESCANNER_VERBOSE"},
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Also write JSON logs to this file",
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "ride-scanner",
		Usage:   "Ride fare and ETA extraction from ride-hailing apps",
		Version: Version,
		Description: `ride-scanner drives ride-hailing Android apps through Appium and
reports the fare and ETA of every ride option for a route.

Examples:
  ride-scanner serve --listen :8080
  ride-scanner extract --pickup 12.9716,77.5946 --dropoff 12.935,77.624
  ride-scanner extract -s uber -s ola --pickup 12.97,77.59 --dropoff 12.93,77.62 --diagnose
  ride-scanner services
  ride-scanner doctor`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand,
			extractCommand,
			servicesCommand,
			doctorCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
