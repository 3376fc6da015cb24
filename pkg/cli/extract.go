package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
	"github.com/devicelab-dev/ride-scanner/pkg/extract"
	"github.com/devicelab-dev/ride-scanner/pkg/logger"
)

var extractCommand = &cli.Command{
	Name:      "extract",
	Usage:     "Extract ride quotes once and print them as JSON",
	ArgsUsage: " ",
	Description: `Drive the configured apps for one route and print the quotes.
With --diagnose the full per-service results, including the navigation
trail, are printed instead. A summary table goes to stderr.

Examples:
  ride-scanner extract --pickup 12.9716,77.5946 --dropoff 12.935,77.624
  ride-scanner extract -s uber --pickup 12.97,77.59 --dropoff 12.93,77.62 --diagnose`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "service",
			Aliases: []string{"s"},
			Usage:   "Service to query (repeatable, default: all)",
		},
		&cli.StringFlag{
			Name:     "pickup",
			Usage:    "Pickup as lat,lng",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "dropoff",
			Usage:    "Dropoff as lat,lng",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "diagnose",
			Usage: "Print per-service results with navigation trails",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Maximum services extracted at once",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-service extraction timeout",
		},
		&cli.BoolFlag{
			Name:  "no-cache",
			Usage: "Disable the quote cache",
		},
	},
	Action: runExtract,
}

func runExtract(c *cli.Context) error {
	pickup, err := parseCoordinate(c.String("pickup"))
	if err != nil {
		return fmt.Errorf("--pickup: %w", err)
	}
	dropoff, err := parseCoordinate(c.String("dropoff"))
	if err != nil {
		return fmt.Errorf("--dropoff: %w", err)
	}

	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Close()

	rt, err := newRuntime(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	services := c.StringSlice("service")
	for _, name := range services {
		if _, ok := rt.orch.Service(name); !ok {
			return core.ErrUnknownService.WithMessage(fmt.Sprintf("unknown service %q (available: %s)",
				name, strings.Join(rt.orch.Services(), ", ")))
		}
	}

	start := time.Now()
	results := rt.orch.ExtractAllResults(c.Context, services, pickup, dropoff)
	elapsed := time.Since(start)

	var out interface{} = extract.Concat(results)
	if c.Bool("diagnose") {
		out = results
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	printSummary(c.App.ErrWriter, results, extract.Summarize(results, elapsed))
	return nil
}

// parseCoordinate parses "lat,lng".
func parseCoordinate(s string) (core.Coordinate, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return core.Coordinate{}, fmt.Errorf("expected lat,lng, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return core.Coordinate{}, fmt.Errorf("invalid latitude %q", latStr)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return core.Coordinate{}, fmt.Errorf("invalid longitude %q", lngStr)
	}
	if lat < -90 || lat > 90 {
		return core.Coordinate{}, fmt.Errorf("latitude %v out of range", lat)
	}
	if lng < -180 || lng > 180 {
		return core.Coordinate{}, fmt.Errorf("longitude %v out of range", lng)
	}
	return core.Coordinate{Lat: lat, Lng: lng}, nil
}

var servicesCommand = &cli.Command{
	Name:  "services",
	Usage: "List configured services and their app packages",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		for _, name := range cfg.ServiceNames() {
			fmt.Fprintf(c.App.Writer, "%-12s %s\n", name, cfg.Services[name].Package)
		}
		return nil
	},
}
