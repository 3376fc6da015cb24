// Package mock provides an in-memory automation backend for testing without a real device.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
)

// Element is one node on the mock screen.
type Element struct {
	ID   string
	Text string

	// Children are looked up by locator value via FindChildElement
	Children map[string]*Element

	// OnClick runs after a click, e.g. to reveal the next screen
	OnClick func(s *Session)
}

// Config configures mock session behavior.
type Config struct {
	// Package the session is bound to
	Package string
	// CallDelay adds artificial latency to every call (honours ctx)
	CallDelay time.Duration
	// FailOn makes the named method ("Click", "FindElements", ...) return the error
	FailOn map[string]error
	// PanicOn makes the named method panic
	PanicOn string
}

// Session is a mock implementation of core.Session.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	screen   map[string][]*Element // locator value -> elements
	elements map[string]*Element
	typed    map[string]string
	calls    []string
	keys     []int
	expired  bool
	closed   bool
}

// New creates a new mock session with an empty screen.
func New(cfg Config) *Session {
	if cfg.Package == "" {
		cfg.Package = "com.example.mock"
	}
	return &Session{
		cfg:      cfg,
		screen:   make(map[string][]*Element),
		elements: make(map[string]*Element),
		typed:    make(map[string]string),
	}
}

// Show puts elements on screen under the given locator.
func (s *Session) Show(loc core.Locator, elems ...*Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showLocked(loc, elems...)
}

func (s *Session) showLocked(loc core.Locator, elems ...*Element) {
	s.screen[loc.Value] = append(s.screen[loc.Value], elems...)
	for _, e := range elems {
		s.register(e)
	}
}

// Hide removes every element shown under the locator.
func (s *Session) Hide(loc core.Locator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.screen, loc.Value)
}

// ShowAfter shows elements once delay has elapsed, simulating a late render.
func (s *Session) ShowAfter(delay time.Duration, loc core.Locator, elems ...*Element) {
	time.AfterFunc(delay, func() { s.Show(loc, elems...) })
}

// Expire makes every subsequent call fail with core.ErrSessionExpired.
func (s *Session) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = true
}

// Calls returns the recorded method calls in order.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Typed returns the text entered into an element.
func (s *Session) Typed(elementID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typed[elementID]
}

// Keys returns the key codes pressed.
func (s *Session) Keys() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.keys...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) register(e *Element) {
	s.elements[e.ID] = e
	for _, c := range e.Children {
		s.register(c)
	}
}

// enter records the call and applies configured delay/failure.
func (s *Session) enter(ctx context.Context, method, arg string) error {
	if s.cfg.PanicOn == method {
		panic(fmt.Sprintf("mock panic in %s", method))
	}
	if s.cfg.CallDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.CallDelay):
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method+" "+arg)
	if s.expired {
		return core.ErrSessionExpired
	}
	if err := s.cfg.FailOn[method]; err != nil {
		return err
	}
	return nil
}

func (s *Session) lookup(id string) (*Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elements[id]
	if !ok {
		return nil, fmt.Errorf("stale element reference: %s", id)
	}
	return e, nil
}

// Package implements core.Session.
func (s *Session) Package() string {
	return s.cfg.Package
}

// FindElement implements core.Session.
func (s *Session) FindElement(ctx context.Context, loc core.Locator) (string, error) {
	if err := s.enter(ctx, "FindElement", loc.Value); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if elems := s.screen[loc.Value]; len(elems) > 0 {
		return elems[0].ID, nil
	}
	return "", core.ErrElementNotFound.WithDetails(map[string]interface{}{"locator": loc.String()})
}

// FindElements implements core.Session.
func (s *Session) FindElements(ctx context.Context, loc core.Locator) ([]string, error) {
	if err := s.enter(ctx, "FindElements", loc.Value); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, e := range s.screen[loc.Value] {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// FindChildElement implements core.Session.
func (s *Session) FindChildElement(ctx context.Context, parentID string, loc core.Locator) (string, error) {
	if err := s.enter(ctx, "FindChildElement", parentID+" "+loc.Value); err != nil {
		return "", err
	}
	parent, err := s.lookup(parentID)
	if err != nil {
		return "", err
	}
	if child, ok := parent.Children[loc.Value]; ok {
		return child.ID, nil
	}
	return "", core.ErrElementNotFound.WithDetails(map[string]interface{}{"locator": loc.String()})
}

// Click implements core.Session.
func (s *Session) Click(ctx context.Context, elementID string) error {
	if err := s.enter(ctx, "Click", elementID); err != nil {
		return err
	}
	e, err := s.lookup(elementID)
	if err != nil {
		return err
	}
	if e.OnClick != nil {
		e.OnClick(s)
	}
	return nil
}

// Clear implements core.Session.
func (s *Session) Clear(ctx context.Context, elementID string) error {
	if err := s.enter(ctx, "Clear", elementID); err != nil {
		return err
	}
	if _, err := s.lookup(elementID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.typed, elementID)
	return nil
}

// SendText implements core.Session.
func (s *Session) SendText(ctx context.Context, elementID, text string) error {
	if err := s.enter(ctx, "SendText", elementID); err != nil {
		return err
	}
	if _, err := s.lookup(elementID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typed[elementID] += text
	return nil
}

// PressKey implements core.Session.
func (s *Session) PressKey(ctx context.Context, keycode int) error {
	if err := s.enter(ctx, "PressKey", fmt.Sprint(keycode)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, keycode)
	return nil
}

// Text implements core.Session.
func (s *Session) Text(ctx context.Context, elementID string) (string, error) {
	if err := s.enter(ctx, "Text", elementID); err != nil {
		return "", err
	}
	e, err := s.lookup(elementID)
	if err != nil {
		return "", err
	}
	return e.Text, nil
}

// Ping implements core.Session.
func (s *Session) Ping(ctx context.Context) error {
	return s.enter(ctx, "Ping", "")
}

// Close implements core.Session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Card builds a ride-option card whose fields are keyed by child locator.
func Card(id string, fields map[core.Locator]string) *Element {
	card := &Element{ID: id, Children: make(map[string]*Element)}
	keys := make([]string, 0, len(fields))
	byValue := make(map[string]string, len(fields))
	for loc, text := range fields {
		keys = append(keys, loc.Value)
		byValue[loc.Value] = text
	}
	sort.Strings(keys)
	for i, k := range keys {
		card.Children[k] = &Element{ID: fmt.Sprintf("%s/%d", id, i), Text: byValue[k]}
	}
	return card
}

// Factory is a mock core.SessionFactory counting creations per package.
type Factory struct {
	mu      sync.Mutex
	creates map[string]int
	errs    map[string]error

	// Delay slows down Create, to widen race windows in tests
	Delay time.Duration
	// Build returns the session for a package; defaults to an empty mock session
	Build func(pkg string) *Session
}

// NewFactory creates a mock factory.
func NewFactory(build func(pkg string) *Session) *Factory {
	return &Factory{
		creates: make(map[string]int),
		errs:    make(map[string]error),
		Build:   build,
	}
}

// FailWith makes Create for pkg fail until cleared with a nil error.
func (f *Factory) FailWith(pkg string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, pkg)
		return
	}
	f.errs[pkg] = err
}

// Creates returns how many times Create was called for pkg.
func (f *Factory) Creates(pkg string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates[pkg]
}

// Create implements core.SessionFactory.
func (f *Factory) Create(ctx context.Context, pkg string) (core.Session, error) {
	f.mu.Lock()
	f.creates[pkg]++
	err := f.errs[pkg]
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.Delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if f.Build != nil {
		return f.Build(pkg), nil
	}
	return New(Config{Package: pkg}), nil
}
