// Package navigation drives a ride-hailing app from whatever screen it is on
// to a populated list of ride options and harvests the option cards.
//
// Every step is best-effort: a step that cannot find or operate its target
// is recorded in the trail and the run moves on. Run never returns an error.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
)

// Timing bounds every wait in a run. Waits poll for the element they need
// instead of sleeping for a fixed time.
type Timing struct {
	PollInterval      time.Duration `yaml:"pollInterval"`
	StepTimeout       time.Duration `yaml:"stepTimeout"`       // search box, destination field
	PickupTimeout     time.Duration `yaml:"pickupTimeout"`     // current-location / pickup field probe
	SuggestionTimeout time.Duration `yaml:"suggestionTimeout"` // address suggestions after typing
	RenderTimeout     time.Duration `yaml:"renderTimeout"`     // first ride card after route is set
	SettlePause       time.Duration `yaml:"settlePause"`       // after each overlay dismissal
}

// DefaultTiming returns the timings used when config leaves them unset.
func DefaultTiming() Timing {
	return Timing{
		PollInterval:      200 * time.Millisecond,
		StepTimeout:       5 * time.Second,
		PickupTimeout:     2 * time.Second,
		SuggestionTimeout: 3 * time.Second,
		RenderTimeout:     10 * time.Second,
		SettlePause:       time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.StepTimeout <= 0 {
		t.StepTimeout = d.StepTimeout
	}
	if t.PickupTimeout <= 0 {
		t.PickupTimeout = d.PickupTimeout
	}
	if t.SuggestionTimeout <= 0 {
		t.SuggestionTimeout = d.SuggestionTimeout
	}
	if t.RenderTimeout <= 0 {
		t.RenderTimeout = d.RenderTimeout
	}
	if t.SettlePause < 0 {
		t.SettlePause = 0
	}
	return t
}

// Geocoder turns a coordinate into the text typed into an address field.
type Geocoder interface {
	Text(ctx context.Context, c core.Coordinate) (string, error)
}

// CoordinateText types the raw "lat,lng" pair and lets the app resolve it.
type CoordinateText struct{}

// Text implements Geocoder.
func (CoordinateText) Text(_ context.Context, c core.Coordinate) (string, error) {
	return c.String(), nil
}

// Result is the output of one run.
type Result struct {
	Cards []core.RawRideCard
	Trail Trail
}

// Pipeline runs the navigation steps against one session.
type Pipeline struct {
	timing   Timing
	geocoder Geocoder
	log      *zap.Logger
}

// New creates a pipeline. A nil geocoder types raw coordinates.
func New(timing Timing, geocoder Geocoder, log *zap.Logger) *Pipeline {
	if geocoder == nil {
		geocoder = CoordinateText{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{timing: timing.withDefaults(), geocoder: geocoder, log: log.Named("navigation")}
}

// run holds the state of one pipeline execution.
type run struct {
	p       *Pipeline
	sess    core.Session
	loc     Locators
	pickup  core.Coordinate
	dropoff core.Coordinate
	log     *zap.Logger
	cards   []core.RawRideCard
}

type stepFunc func(ctx context.Context) (core.StepStatus, string, error)

// Run executes the steps in order. It stops early only when the context is
// done or the backend reports the session gone; either way it returns what
// was harvested so far.
func (p *Pipeline) Run(ctx context.Context, sess core.Session, loc Locators, pickup, dropoff core.Coordinate) Result {
	r := &run{
		p:       p,
		sess:    sess,
		loc:     loc,
		pickup:  pickup,
		dropoff: dropoff,
		log:     p.log.With(zap.String("package", sess.Package())),
	}

	steps := []struct {
		name string
		fn   stepFunc
	}{
		{StepDismissOverlays, r.dismissOverlays},
		{StepOpenSearch, r.openSearch},
		{StepSetPickup, r.setPickup},
		{StepSetDropoff, r.setDropoff},
		{StepAwaitRender, r.awaitRender},
		{StepCollectCards, r.collectCards},
	}

	var trail Trail
	for _, s := range steps {
		outcome := r.exec(ctx, s.name, s.fn)
		trail = append(trail, outcome)

		if ctx.Err() != nil || errors.Is(outcome.Err, core.ErrSessionExpired) {
			r.log.Warn("navigation aborted", zap.String("step", s.name), zap.Error(outcome.Err))
			break
		}
	}

	return Result{Cards: r.cards, Trail: trail}
}

// exec runs one step, converting panics and errors into an outcome.
func (r *run) exec(ctx context.Context, name string, fn stepFunc) (out StepOutcome) {
	start := time.Now()
	out.Step = name

	defer func() {
		if rec := recover(); rec != nil {
			out.Status = core.StatusFailed
			out.Err = core.ErrNavigationStepFailed.WithCause(fmt.Errorf("panic: %v", rec))
		}
		out.Duration = time.Since(start)
		out.DurationMs = out.Duration.Milliseconds()
		if out.Err != nil {
			out.Error = out.Err.Error()
		}

		switch out.Status {
		case core.StatusFailed:
			r.log.Warn("step failed", zap.String("step", name), zap.Error(out.Err))
		case core.StatusSkipped:
			r.log.Info("step skipped", zap.String("step", name), zap.String("detail", out.Detail))
		default:
			r.log.Debug("step passed", zap.String("step", name), zap.String("detail", out.Detail),
				zap.Duration("took", out.Duration))
		}
	}()

	if err := ctx.Err(); err != nil {
		out.Status = core.StatusFailed
		out.Err = err
		return out
	}

	status, detail, err := fn(ctx)
	out.Status, out.Detail, out.Err = status, detail, err
	if status == core.StatusFailed && err != nil && !isCtxOrExpired(err) {
		out.Err = core.ErrNavigationStepFailed.WithCause(err).WithDetails(map[string]interface{}{"step": name})
	}
	return out
}

// Steps

func (r *run) dismissOverlays(ctx context.Context) (core.StepStatus, string, error) {
	ids, err := r.sess.FindElements(ctx, r.loc.CloseButton)
	if err != nil {
		return core.StatusFailed, "", err
	}
	if len(ids) == 0 {
		return core.StatusSkipped, "no overlays", nil
	}

	dismissed := 0
	var lastErr error
	for _, id := range ids {
		if err := r.sess.Click(ctx, id); err != nil {
			if isCtxOrExpired(err) {
				return core.StatusFailed, "", err
			}
			lastErr = err
			continue
		}
		dismissed++
		if err := sleep(ctx, r.p.timing.SettlePause); err != nil {
			return core.StatusFailed, "", err
		}
	}

	detail := fmt.Sprintf("dismissed %d of %d", dismissed, len(ids))
	if dismissed == 0 {
		return core.StatusFailed, detail, lastErr
	}
	return core.StatusPassed, detail, nil
}

func (r *run) openSearch(ctx context.Context) (core.StepStatus, string, error) {
	id, err := r.waitFor(ctx, r.loc.WhereTo, r.p.timing.StepTimeout)
	if err != nil {
		return absentOrFailed(err, "search entry not found")
	}
	if err := r.sess.Click(ctx, id); err != nil {
		return core.StatusFailed, "", err
	}
	return core.StatusPassed, "search opened", nil
}

func (r *run) setPickup(ctx context.Context) (core.StepStatus, string, error) {
	id, err := r.waitFor(ctx, r.loc.CurrentLocation, r.p.timing.PickupTimeout)
	if err == nil {
		if err := r.sess.Click(ctx, id); err != nil {
			return core.StatusFailed, "", err
		}
		return core.StatusPassed, "current location", nil
	}
	if !errors.Is(err, core.ErrElementNotFound) {
		return core.StatusFailed, "", err
	}

	// Fall back to typing the pickup into its field
	if r.loc.PickupInput.IsZero() {
		return core.StatusSkipped, "no current-location control", nil
	}
	id, err = r.waitFor(ctx, r.loc.PickupInput, r.p.timing.PickupTimeout)
	if err != nil {
		return absentOrFailed(err, "no pickup control")
	}
	text, err := r.p.geocoder.Text(ctx, r.pickup)
	if err != nil {
		return core.StatusFailed, "", fmt.Errorf("geocode pickup: %w", err)
	}
	if err := r.enterText(ctx, id, text); err != nil {
		return core.StatusFailed, "", err
	}
	return core.StatusPassed, "manual entry " + text, nil
}

func (r *run) setDropoff(ctx context.Context) (core.StepStatus, string, error) {
	id, err := r.waitFor(ctx, r.loc.DestinationInput, r.p.timing.StepTimeout)
	if err != nil {
		return absentOrFailed(err, "destination field not found")
	}
	text, err := r.p.geocoder.Text(ctx, r.dropoff)
	if err != nil {
		return core.StatusFailed, "", fmt.Errorf("geocode dropoff: %w", err)
	}
	if err := r.enterText(ctx, id, text); err != nil {
		return core.StatusFailed, "", err
	}

	suggestion, err := r.waitFor(ctx, r.loc.FirstSuggestion, r.p.timing.SuggestionTimeout)
	switch {
	case err == nil:
		if err := r.sess.Click(ctx, suggestion); err != nil {
			return core.StatusFailed, "", err
		}
		return core.StatusPassed, "picked first suggestion", nil
	case errors.Is(err, core.ErrElementNotFound):
		if err := r.sess.PressKey(ctx, core.KeyCodeEnter); err != nil {
			return core.StatusFailed, "", err
		}
		return core.StatusPassed, "submitted with enter", nil
	default:
		return core.StatusFailed, "", err
	}
}

func (r *run) awaitRender(ctx context.Context) (core.StepStatus, string, error) {
	if _, err := r.waitFor(ctx, r.loc.RideCard, r.p.timing.RenderTimeout); err != nil {
		return absentOrFailed(err, "no ride options rendered")
	}
	return core.StatusPassed, "ride options visible", nil
}

func (r *run) collectCards(ctx context.Context) (core.StepStatus, string, error) {
	ids, err := r.sess.FindElements(ctx, r.loc.RideCard)
	if err != nil {
		return core.StatusFailed, "", err
	}
	if len(ids) == 0 {
		return core.StatusSkipped, "no ride cards", nil
	}

	var dropped []string
	for _, id := range ids {
		card, err := r.readCard(ctx, id)
		if err != nil {
			if isCtxOrExpired(err) {
				return core.StatusFailed, "", err
			}
			r.log.Info("dropping ride card", zap.String("card", id), zap.Error(err))
			dropped = append(dropped, id)
			continue
		}
		r.cards = append(r.cards, card)
	}

	detail := fmt.Sprintf("harvested %d of %d cards", len(r.cards), len(ids))
	if len(dropped) > 0 {
		detail += fmt.Sprintf("; dropped %s (%s)", strings.Join(dropped, ", "), core.ErrCardFieldMissing.Code)
	}
	if len(r.cards) == 0 {
		return core.StatusSkipped, detail, nil
	}
	return core.StatusPassed, detail, nil
}

// Helpers

func (r *run) readCard(ctx context.Context, cardID string) (core.RawRideCard, error) {
	var card core.RawRideCard
	fields := []struct {
		name string
		loc  core.Locator
		dst  *string
	}{
		{"label", r.loc.CardLabel, &card.Label},
		{"price", r.loc.CardPrice, &card.PriceText},
		{"eta", r.loc.CardETA, &card.ETAText},
	}

	for _, f := range fields {
		childID, err := r.sess.FindChildElement(ctx, cardID, f.loc)
		if err != nil {
			if isCtxOrExpired(err) {
				return card, err
			}
			return card, core.ErrCardFieldMissing.WithCause(err).WithDetails(map[string]interface{}{"field": f.name})
		}
		text, err := r.sess.Text(ctx, childID)
		if err != nil {
			if isCtxOrExpired(err) {
				return card, err
			}
			return card, core.ErrCardFieldMissing.WithCause(err).WithDetails(map[string]interface{}{"field": f.name})
		}
		*f.dst = text
	}
	return card, nil
}

func (r *run) enterText(ctx context.Context, id, text string) error {
	if err := r.sess.Click(ctx, id); err != nil {
		return err
	}
	if err := r.sess.Clear(ctx, id); err != nil {
		return err
	}
	return r.sess.SendText(ctx, id, text)
}

// waitFor polls until the element shows up, the timeout passes, or the
// backend returns something other than "not found".
func (r *run) waitFor(ctx context.Context, loc core.Locator, timeout time.Duration) (string, error) {
	if loc.IsZero() {
		return "", core.ErrElementNotFound.WithMessage("no locator configured")
	}
	deadline := time.Now().Add(timeout)

	for {
		id, err := r.sess.FindElement(ctx, loc)
		if err == nil && id != "" {
			return id, nil
		}
		if err != nil && !errors.Is(err, core.ErrElementNotFound) {
			return "", err
		}

		if time.Now().After(deadline) {
			if err != nil {
				return "", err
			}
			return "", core.ErrElementNotFound.WithDetails(map[string]interface{}{"locator": loc.String()})
		}
		if err := sleep(ctx, r.p.timing.PollInterval); err != nil {
			return "", err
		}
	}
}

func absentOrFailed(err error, absentDetail string) (core.StepStatus, string, error) {
	if errors.Is(err, core.ErrElementNotFound) {
		return core.StatusSkipped, absentDetail, nil
	}
	return core.StatusFailed, "", err
}

func isCtxOrExpired(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, core.ErrSessionExpired)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
