// Package device inspects Android devices via ADB.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// Runner executes one adb invocation and returns its stdout.
type Runner func(ctx context.Context, args ...string) (string, error)

// Device is one line of `adb devices`.
type Device struct {
	Serial string `json:"serial"`
	State  string `json:"state"` // device, offline, unauthorized
}

// Info contains basic device information.
type Info struct {
	Model      string `json:"model,omitempty"`
	SDK        string `json:"sdk,omitempty"`
	Brand      string `json:"brand,omitempty"`
	IsEmulator bool   `json:"is_emulator"`
}

// ADB talks to one device (or the adb server when serial is empty).
type ADB struct {
	serial string
	run    Runner
}

// New locates the adb binary. serial may be empty for server-wide commands.
func New(serial string) (*ADB, error) {
	adbPath, err := findADB()
	if err != nil {
		return nil, err
	}
	return NewWithRunner(serial, execRunner(adbPath)), nil
}

// NewWithRunner builds an ADB over an arbitrary runner.
func NewWithRunner(serial string, run Runner) *ADB {
	return &ADB{serial: serial, run: run}
}

// Serial returns the device serial number.
func (a *ADB) Serial() string {
	return a.serial
}

// Devices lists devices known to the adb server.
func (a *ADB) Devices(ctx context.Context) ([]Device, error) {
	out, err := a.run(ctx, "devices")
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			devices = append(devices, Device{Serial: parts[0], State: parts[1]})
		}
	}
	return devices, nil
}

// IsConnected reports whether the device is online.
func (a *ADB) IsConnected(ctx context.Context) bool {
	out, err := a.adb(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "device"
}

// Shell executes a shell command on the device.
func (a *ADB) Shell(ctx context.Context, cmd string) (string, error) {
	return a.adb(ctx, "shell", cmd)
}

// IsInstalled checks if a package is installed. pm filters by substring, so
// the match is on the exact package line.
func (a *ADB) IsInstalled(ctx context.Context, pkg string) (bool, error) {
	out, err := a.Shell(ctx, "pm list packages "+pkg)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "package:"+pkg {
			return true, nil
		}
	}
	return false, nil
}

// Info returns device information. Missing properties are left empty.
func (a *ADB) Info(ctx context.Context) Info {
	var info Info
	prop := func(name string) string {
		out, err := a.Shell(ctx, "getprop "+name)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(out)
	}
	info.Model = prop("ro.product.model")
	info.SDK = prop("ro.build.version.sdk")
	info.Brand = prop("ro.product.brand")
	info.IsEmulator = prop("ro.kernel.qemu") == "1"
	return info
}

// PackageCheck is the install state of one service's app.
type PackageCheck struct {
	Service   string `json:"service"`
	Package   string `json:"package"`
	Installed bool   `json:"installed"`
	Error     string `json:"error,omitempty"`
}

// Report is the outcome of Check.
type Report struct {
	Serial    string         `json:"serial"`
	Connected bool           `json:"connected"`
	Info      Info           `json:"info"`
	Packages  []PackageCheck `json:"packages"`
}

// Ready reports whether the device is online with every app installed.
func (r Report) Ready() bool {
	if !r.Connected {
		return false
	}
	for _, p := range r.Packages {
		if !p.Installed {
			return false
		}
	}
	return true
}

// Check verifies the device is online and each service's app is installed.
// services maps service name to package.
func (a *ADB) Check(ctx context.Context, services map[string]string) Report {
	r := Report{Serial: a.serial, Packages: []PackageCheck{}}
	if !a.IsConnected(ctx) {
		return r
	}
	r.Connected = true
	r.Info = a.Info(ctx)

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := PackageCheck{Service: name, Package: services[name]}
		installed, err := a.IsInstalled(ctx, pc.Package)
		if err != nil {
			pc.Error = err.Error()
		}
		pc.Installed = installed
		r.Packages = append(r.Packages, pc)
	}
	return r
}

// adb runs a device-scoped command.
func (a *ADB) adb(ctx context.Context, args ...string) (string, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if a.serial != "" {
		cmdArgs = append(cmdArgs, "-s", a.serial)
	}
	cmdArgs = append(cmdArgs, args...)
	return a.run(ctx, cmdArgs...)
}

func execRunner(adbPath string) Runner {
	return func(ctx context.Context, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, adbPath, args...) //#nosec G204 -- adb arguments are built internally
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			errMsg := stderr.String()
			if errMsg == "" {
				errMsg = stdout.String()
			}
			return "", fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(errMsg))
		}
		return stdout.String(), nil
	}
}

// findADB locates the ADB binary.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("adb not found in PATH; ensure Android SDK is installed")
}
