// Package config handles configuration for ride-scanner.
//
// Precedence, lowest first: built-in defaults, config.yaml, .env and process
// environment, command-line flags (applied by the cli package).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lpernett/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
	"github.com/devicelab-dev/ride-scanner/pkg/extract"
	"github.com/devicelab-dev/ride-scanner/pkg/navigation"
)

// Config represents the service configuration (config.yaml).
type Config struct {
	Appium     AppiumConfig             `yaml:"appium"`
	Server     ServerConfig             `yaml:"server"`
	Extract    ExtractConfig            `yaml:"extract"`
	Cache      CacheConfig              `yaml:"cache"`
	Navigation navigation.Timing        `yaml:"navigation"`
	Services   map[string]ServiceConfig `yaml:"services"` // service name -> app
	Log        LogConfig                `yaml:"log"`
}

// AppiumConfig describes the automation server and target device.
type AppiumConfig struct {
	URL               string        `yaml:"url"`
	Platform          string        `yaml:"platform"`
	Device            string        `yaml:"device"`
	AutomationName    string        `yaml:"automationName"`
	NewCommandTimeout time.Duration `yaml:"newCommandTimeout"` // idle time before Appium drops a session
	NoReset           bool          `yaml:"noReset"`
	HTTPTimeout       time.Duration `yaml:"httpTimeout"`
	ValidateSessions  bool          `yaml:"validateSessions"` // ping reused sessions before handing them out
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// ExtractConfig bounds multi-service extraction.
type ExtractConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"` // per service
}

// CacheConfig configures the quote cache. An empty RedisAddr keeps it in memory.
type CacheConfig struct {
	Disabled      bool          `yaml:"disabled"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
}

// ServiceConfig maps a service to its app. In YAML either a bare package
// name or a mapping with package and locator overrides.
type ServiceConfig struct {
	Package  string              `yaml:"package"`
	Locators navigation.Locators `yaml:"locators"`
}

// UnmarshalYAML accepts "uber: com.ubercab" as well as the full mapping.
func (s *ServiceConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Package = node.Value
		return nil
	}
	type plain ServiceConfig
	return node.Decode((*plain)(s))
}

// LogConfig configures logging.
type LogConfig struct {
	File    string `yaml:"file"`
	Verbose bool   `yaml:"verbose"`
}

// DefaultServices returns the built-in service map.
func DefaultServices() map[string]ServiceConfig {
	return map[string]ServiceConfig{
		"uber":   {Package: "com.ubercab"},
		"ola":    {Package: "com.olacabs.customer"},
		"rapido": {Package: "com.rapido.passenger"},
	}
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Appium: AppiumConfig{
			URL:               "http://localhost:4723/wd/hub",
			Platform:          "Android",
			Device:            "emulator-5554",
			AutomationName:    "UiAutomator2",
			NewCommandTimeout: 300 * time.Second,
			NoReset:           true,
			HTTPTimeout:       2 * time.Minute,
		},
		Server:     ServerConfig{Listen: "0.0.0.0:8080"},
		Extract:    ExtractConfig{Concurrency: extract.DefaultConcurrency, Timeout: extract.DefaultTimeout},
		Cache:      CacheConfig{TTL: 2 * time.Minute},
		Navigation: navigation.DefaultTiming(),
		Services:   DefaultServices(),
	}
}

// Load loads configuration from a file on top of the defaults.
// A services section replaces the default service map entirely.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	cfg.Services = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(cfg.Services) == 0 {
		cfg.Services = DefaultServices()
	}

	return cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, use defaults
	return Defaults(), nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Environment variables read by ApplyEnv.
const (
	EnvAppiumURL     = "APPIUM_URL"
	EnvDevice        = "RIDESCANNER_DEVICE"
	EnvPlatform      = "RIDESCANNER_PLATFORM"
	EnvListen        = "RIDESCANNER_LISTEN"
	EnvPort          = "PORT"
	EnvConcurrency   = "RIDESCANNER_CONCURRENCY"
	EnvTimeout       = "RIDESCANNER_TIMEOUT"
	EnvCacheTTL      = "RIDESCANNER_CACHE_TTL"
	EnvRedisHost     = "REDIS_HOST"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvLogFile       = "RIDESCANNER_LOG_FILE"
)

// ApplyEnv overrides fields from the environment. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return core.ErrInvalidConfig.WithCause(err).WithDetails(map[string]interface{}{"env": key})
		}
		*dst = d
		return nil
	}

	str(EnvAppiumURL, &c.Appium.URL)
	str(EnvDevice, &c.Appium.Device)
	str(EnvPlatform, &c.Appium.Platform)
	if v, ok := lookup(EnvPort); ok && v != "" {
		c.Server.Listen = ":" + v
	}
	str(EnvListen, &c.Server.Listen)
	str(EnvRedisHost, &c.Cache.RedisAddr)
	str(EnvRedisPassword, &c.Cache.RedisPassword)
	str(EnvLogFile, &c.Log.File)

	if v, ok := lookup(EnvConcurrency); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return core.ErrInvalidConfig.WithCause(err).WithDetails(map[string]interface{}{"env": EnvConcurrency})
		}
		c.Extract.Concurrency = n
	}
	if err := dur(EnvTimeout, &c.Extract.Timeout); err != nil {
		return err
	}
	return dur(EnvCacheTTL, &c.Cache.TTL)
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var problems []string
	if c.Appium.URL == "" {
		problems = append(problems, "appium.url is empty")
	}
	if c.Server.Listen == "" {
		problems = append(problems, "server.listen is empty")
	}
	if c.Extract.Concurrency <= 0 {
		problems = append(problems, fmt.Sprintf("extract.concurrency must be positive, got %d", c.Extract.Concurrency))
	}
	if c.Extract.Timeout <= 0 {
		problems = append(problems, fmt.Sprintf("extract.timeout must be positive, got %s", c.Extract.Timeout))
	}
	if !c.Cache.Disabled && c.Cache.TTL <= 0 {
		problems = append(problems, fmt.Sprintf("cache.ttl must be positive, got %s", c.Cache.TTL))
	}
	if len(c.Services) == 0 {
		problems = append(problems, "no services configured")
	}
	for _, name := range c.ServiceNames() {
		if c.Services[name].Package == "" {
			problems = append(problems, fmt.Sprintf("service %q has no package", name))
		}
	}

	if len(problems) > 0 {
		return core.ErrInvalidConfig.WithMessage("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// ServiceNames returns configured service names, sorted.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExtractServices resolves the service map for the orchestrator, with locator
// overrides applied on top of the defaults.
func (c *Config) ExtractServices() []extract.Service {
	base := navigation.DefaultLocators()
	var out []extract.Service
	for _, name := range c.ServiceNames() {
		sc := c.Services[name]
		out = append(out, extract.Service{
			Name:     name,
			Package:  sc.Package,
			Locators: base.Merge(sc.Locators),
		})
	}
	return out
}
