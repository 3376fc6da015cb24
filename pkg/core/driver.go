package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Default locator strategy and Android key codes used by navigation.
const (
	StrategyXPath = "xpath"
	KeyCodeEnter  = 66
)

// Locator identifies UI elements the way the automation backend expects
// (strategy + value, e.g. xpath + "//android.widget.Button[@text='Close']").
type Locator struct {
	Strategy string `yaml:"strategy" json:"strategy"`
	Value    string `yaml:"value" json:"value"`
}

// XPath returns an xpath locator.
func XPath(expr string) Locator {
	return Locator{Strategy: StrategyXPath, Value: expr}
}

// UnmarshalYAML accepts a bare string as an xpath locator.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = XPath(node.Value)
		return nil
	}
	type plain Locator
	return node.Decode((*plain)(l))
}

// IsZero reports whether the locator has no value.
func (l Locator) IsZero() bool {
	return l.Value == ""
}

// String renders the locator for logs.
func (l Locator) String() string {
	strategy := l.Strategy
	if strategy == "" {
		strategy = StrategyXPath
	}
	return strategy + "=" + l.Value
}

// Session is a live remote-control connection bound to one app package.
// Implementations: Appium (W3C WebDriver), mock.
// Element handles are opaque IDs issued by the backend.
// Lookups that match nothing return an error matching ErrElementNotFound;
// calls against a session the backend has dropped return ErrSessionExpired.
type Session interface {
	// Package returns the app package the session drives
	Package() string

	// FindElement returns the first element matching the locator
	FindElement(ctx context.Context, loc Locator) (string, error)

	// FindElements returns all matching elements (possibly none, without error)
	FindElements(ctx context.Context, loc Locator) ([]string, error)

	// FindChildElement looks up an element scoped to a parent element
	FindChildElement(ctx context.Context, parentID string, loc Locator) (string, error)

	Click(ctx context.Context, elementID string) error
	Clear(ctx context.Context, elementID string) error
	SendText(ctx context.Context, elementID, text string) error
	PressKey(ctx context.Context, keycode int) error
	Text(ctx context.Context, elementID string) (string, error)

	// Ping checks that the backend still knows the session
	Ping(ctx context.Context) error

	// Close deletes the session on the backend
	Close(ctx context.Context) error
}

// SessionFactory creates sessions for app packages.
type SessionFactory interface {
	Create(ctx context.Context, pkg string) (Session, error)
}
