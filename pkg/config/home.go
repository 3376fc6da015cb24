package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "RIDESCANNER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the ride-scanner home directory, where config.yaml and
// .env are looked up when no explicit path is given.
//
// Resolution order:
//  1. $RIDESCANNER_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetDotEnvPath returns <home>/.env.
func GetDotEnvPath() string {
	return filepath.Join(GetHome(), ".env")
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
