package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/ride-scanner/pkg/device"
	"github.com/devicelab-dev/ride-scanner/pkg/driver/appium"
)

// newADB opens the device named in config. Replaced in tests.
var newADB = func(serial string) (*device.ADB, error) {
	return device.New(serial)
}

var doctorCommand = &cli.Command{
	Name:  "doctor",
	Usage: "Check Appium, the device and the installed apps",
	Description: `Preflight checks before serving:
  - the Appium server answers /status and is ready
  - the configured device is online in adb
  - every configured service's app is installed`,
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "appium-timeout",
			Usage: "Timeout for the Appium status probe",
			Value: 10 * time.Second,
		},
	},
	Action: runDoctor,
}

func runDoctor(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	w := c.App.Writer
	ok := true

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("appium-timeout"))
	st, err := appium.NewClient(cfg.Appium.URL, 0).Status(ctx)
	cancel()
	switch {
	case err != nil:
		ok = false
		check(w, false, "Appium %s", cfg.Appium.URL)
		hint(w, err.Error())
	case !st.Ready:
		ok = false
		check(w, false, "Appium %s not ready", cfg.Appium.URL)
		hint(w, st.Message)
	default:
		check(w, true, "Appium %s (%s)", cfg.Appium.URL, st.Version)
	}

	adb, err := newADB(cfg.Appium.Device)
	if err != nil {
		check(w, false, "adb")
		hint(w, err.Error())
		return errors.New("preflight failed")
	}

	packages := make(map[string]string, len(cfg.Services))
	for name, sc := range cfg.Services {
		packages[name] = sc.Package
	}
	report := adb.Check(c.Context, packages)
	if !report.Connected {
		check(w, false, "Device %s offline", report.Serial)
		return errors.New("preflight failed")
	}
	check(w, true, "Device %s (%s %s, SDK %s)", report.Serial, report.Info.Brand, report.Info.Model, report.Info.SDK)

	for _, p := range report.Packages {
		check(w, p.Installed, "%-12s %s", p.Service, p.Package)
		if p.Error != "" {
			hint(w, p.Error)
		}
	}

	if !ok || !report.Ready() {
		return errors.New("preflight failed")
	}
	return nil
}

func check(w io.Writer, passed bool, format string, args ...interface{}) {
	if passed {
		fmt.Fprintf(w, "  %s✓%s %s\n", color(colorGreen), color(colorReset), fmt.Sprintf(format, args...))
		return
	}
	fmt.Fprintf(w, "  %s✗%s %s\n", color(colorRed), color(colorReset), fmt.Sprintf(format, args...))
}

func hint(w io.Writer, msg string) {
	if msg != "" {
		fmt.Fprintf(w, "    %s╰─%s %s\n", color(colorGray), color(colorReset), msg)
	}
}
