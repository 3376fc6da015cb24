package appium

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
)

// Defaults mirror a local Appium + Android emulator setup.
const (
	DefaultPlatform          = "Android"
	DefaultAutomationName    = "UiAutomator2"
	DefaultDeviceName        = "emulator-5554"
	DefaultNewCommandTimeout = 300 * time.Second
)

// FactoryConfig configures the capabilities of new sessions.
type FactoryConfig struct {
	ServerURL         string
	Platform          string
	DeviceName        string
	AutomationName    string
	NewCommandTimeout time.Duration // idle time before Appium drops the session
	NoReset           bool          // keep app state between sessions
	HTTPTimeout       time.Duration // per-request timeout towards Appium
}

// Factory implements core.SessionFactory for an Appium server.
type Factory struct {
	cfg FactoryConfig
}

// NewFactory creates a session factory, filling unset fields with defaults.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Platform == "" {
		cfg.Platform = DefaultPlatform
	}
	if cfg.AutomationName == "" {
		cfg.AutomationName = DefaultAutomationName
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = DefaultDeviceName
	}
	if cfg.NewCommandTimeout <= 0 {
		cfg.NewCommandTimeout = DefaultNewCommandTimeout
	}
	return &Factory{cfg: cfg}
}

// Capabilities returns the W3C capabilities used for pkg.
func (f *Factory) Capabilities(pkg string) map[string]interface{} {
	return map[string]interface{}{
		"platformName":                f.cfg.Platform,
		"appium:deviceName":           f.cfg.DeviceName,
		"appium:automationName":       f.cfg.AutomationName,
		"appium:appPackage":           pkg,
		"appium:noReset":              f.cfg.NoReset,
		"appium:newCommandTimeout":    int(f.cfg.NewCommandTimeout / time.Second),
		"appium:autoGrantPermissions": true,
	}
}

// Create implements core.SessionFactory.
func (f *Factory) Create(ctx context.Context, pkg string) (core.Session, error) {
	client := NewClient(f.cfg.ServerURL, f.cfg.HTTPTimeout)
	if err := client.Connect(ctx, f.Capabilities(pkg)); err != nil {
		return nil, fmt.Errorf("connect %s: %w", pkg, err)
	}
	return &Session{client: client, pkg: pkg}, nil
}

// Session implements core.Session on top of a connected Client.
type Session struct {
	client *Client
	pkg    string
}

// NewSession wraps an already connected client.
func NewSession(client *Client, pkg string) *Session {
	return &Session{client: client, pkg: pkg}
}

// Package implements core.Session.
func (s *Session) Package() string {
	return s.pkg
}

// ID returns the Appium session ID.
func (s *Session) ID() string {
	return s.client.SessionID()
}

// FindElement implements core.Session.
func (s *Session) FindElement(ctx context.Context, loc core.Locator) (string, error) {
	return s.client.FindElement(ctx, strategy(loc), loc.Value)
}

// FindElements implements core.Session.
func (s *Session) FindElements(ctx context.Context, loc core.Locator) ([]string, error) {
	return s.client.FindElements(ctx, strategy(loc), loc.Value)
}

// FindChildElement implements core.Session.
func (s *Session) FindChildElement(ctx context.Context, parentID string, loc core.Locator) (string, error) {
	return s.client.FindChildElement(ctx, parentID, strategy(loc), loc.Value)
}

// Click implements core.Session.
func (s *Session) Click(ctx context.Context, elementID string) error {
	return s.client.ClickElement(ctx, elementID)
}

// Clear implements core.Session.
func (s *Session) Clear(ctx context.Context, elementID string) error {
	return s.client.ClearElement(ctx, elementID)
}

// SendText implements core.Session.
func (s *Session) SendText(ctx context.Context, elementID, text string) error {
	return s.client.SetElementValue(ctx, elementID, text)
}

// PressKey implements core.Session.
func (s *Session) PressKey(ctx context.Context, keycode int) error {
	return s.client.PressKeyCode(ctx, keycode)
}

// Text implements core.Session.
func (s *Session) Text(ctx context.Context, elementID string) (string, error) {
	return s.client.GetElementText(ctx, elementID)
}

// Ping implements core.Session.
func (s *Session) Ping(ctx context.Context) error {
	_, _, err := s.client.WindowRect(ctx)
	return err
}

// Close implements core.Session.
func (s *Session) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func strategy(loc core.Locator) string {
	if loc.Strategy == "" {
		return core.StrategyXPath
	}
	return loc.Strategy
}
