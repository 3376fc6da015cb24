package navigation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
	"github.com/devicelab-dev/ride-scanner/pkg/driver/mock"
)

var (
	pickup  = core.Coordinate{Lat: 12.9716, Lng: 77.5946}
	dropoff = core.Coordinate{Lat: 12.935, Lng: 77.624}
)

func fastTiming() Timing {
	return Timing{
		PollInterval:      2 * time.Millisecond,
		StepTimeout:       30 * time.Millisecond,
		PickupTimeout:     15 * time.Millisecond,
		SuggestionTimeout: 15 * time.Millisecond,
		RenderTimeout:     200 * time.Millisecond,
	}
}

func newPipeline() *Pipeline {
	return New(fastTiming(), nil, nil)
}

func card(loc Locators, id, label, price, eta string) *mock.Element {
	fields := map[core.Locator]string{}
	if label != "" {
		fields[loc.CardLabel] = label
	}
	if price != "" {
		fields[loc.CardPrice] = price
	}
	if eta != "" {
		fields[loc.CardETA] = eta
	}
	return mock.Card(id, fields)
}

// homeScreen lays out a full booking flow: one promo overlay, search entry,
// current-location shortcut, destination field and a suggestion list.
func homeScreen(s *mock.Session, loc Locators) {
	s.Show(loc.CloseButton, &mock.Element{
		ID:      "promo-close",
		OnClick: func(s *mock.Session) { s.Hide(loc.CloseButton) },
	})
	s.Show(loc.WhereTo, &mock.Element{ID: "where-to"})
	s.Show(loc.CurrentLocation, &mock.Element{ID: "current-location"})
	s.Show(loc.DestinationInput, &mock.Element{ID: "destination"})
	s.Show(loc.FirstSuggestion, &mock.Element{ID: "suggestion-1"})
}

func statuses(t Trail) map[string]core.StepStatus {
	out := make(map[string]core.StepStatus, len(t))
	for _, o := range t {
		out[o.Step] = o.Status
	}
	return out
}

func TestRun_HappyPath(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{Package: "com.ubercab"})
	homeScreen(s, loc)
	s.Show(loc.RideCard,
		card(loc, "card-1", "UberGo", "₹120-140", "4 min"),
		card(loc, "card-2", "UberXL", "₹200-240", "9 min"),
	)

	res := newPipeline().Run(context.Background(), s, loc, pickup, dropoff)

	require.Len(t, res.Cards, 2)
	assert.Equal(t, core.RawRideCard{Label: "UberGo", PriceText: "₹120-140", ETAText: "4 min"}, res.Cards[0])
	assert.Equal(t, core.RawRideCard{Label: "UberXL", PriceText: "₹200-240", ETAText: "9 min"}, res.Cards[1])

	require.Len(t, res.Trail, 6)
	for _, o := range res.Trail {
		assert.Equal(t, core.StatusPassed, o.Status, "step %s: %s", o.Step, o.Error)
	}
	assert.Empty(t, res.Trail.Failed())
	assert.False(t, res.Trail.SessionExpired())

	assert.Equal(t, "12.935,77.624", s.Typed("destination"))
	assert.Empty(t, s.Keys())
	assert.Contains(t, s.Calls(), "Click promo-close")
	assert.Contains(t, s.Calls(), "Click suggestion-1")
}

func TestRun_StepOrder(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{})
	homeScreen(s, loc)

	res := newPipeline().Run(context.Background(), s, loc, pickup, dropoff)

	var steps []string
	for _, o := range res.Trail {
		steps = append(steps, o.Step)
	}
	assert.Equal(t, []string{
		StepDismissOverlays, StepOpenSearch, StepSetPickup,
		StepSetDropoff, StepAwaitRender, StepCollectCards,
	}, steps)
}

func TestRun_EmptyScreenSkipsEverything(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{})

	res := newPipeline().Run(context.Background(), s, loc, pickup, dropoff)

	assert.Empty(t, res.Cards)
	require.Len(t, res.Trail, 6)
	for _, o := range res.Trail {
		assert.Equal(t, core.StatusSkipped, o.Status, "step %s", o.Step)
		assert.NoError(t, o.Err)
	}
}

func TestRun_ManualPickupFallback(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{})
	homeScreen(s, loc)
	s.Hide(loc.CurrentLocation)
	s.Show(loc.PickupInput, &mock.Element{ID: "pickup"})

	res := newPipeline().Run(context.Background(), s, loc, pickup, dropoff)

	o, ok := res.Trail.Step(StepSetPickup)
	require.True(t, ok)
	assert.Equal(t, core.StatusPassed, o.Status)
	assert.Equal(t, "12.9716,77.5946", s.Typed("pickup"))
	assert.Contains(t, s.Calls(), "Clear pickup")
}

func TestRun_EnterWhenNoSuggestion(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{})
	homeScreen(s, loc)
	s.Hide(loc.FirstSuggestion)

	res := newPipeline().Run(context.Background(), s, loc, pickup, dropoff)

	o, _ := res.Trail.Step(StepSetDropoff)
	assert.Equal(t, core.StatusPassed, o.Status)
	assert.Equal(t, "submitted with enter", o.Detail)
	assert.Equal(t, []int{core.KeyCodeEnter}, s.Keys())
}

func TestRun_DropsIncompleteCards(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{})
	homeScreen(s, loc)
	s.Show(loc.RideCard,
		card(loc, "card-1", "UberGo", "₹120-140", "4 min"),
		card(loc, "card-2", "Auto", "", "2 min"),
		card(loc, "card-3", "Moto", "₹45", "3 min"),
	)

	res := newPipeline().Run(context.Background(), s, loc, pickup, dropoff)

	require.Len(t, res.Cards, 2)
	assert.Equal(t, "UberGo", res.Cards[0].Label)
	assert.Equal(t, "Moto", res.Cards[1].Label)

	o, _ := res.Trail.Step(StepCollectCards)
	assert.Equal(t, core.StatusPassed, o.Status)
	assert.Contains(t, o.Detail, "card-2")
	assert.Contains(t, o.Detail, core.ErrCardFieldMissing.Code)
}

func TestRun_LateRender(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{})
	homeScreen(s, loc)
	s.ShowAfter(40*time.Millisecond, loc.RideCard, card(loc, "card-1", "Mini", "₹99", "5 min"))

	res := newPipeline().Run(context.Background(), s, loc, pickup, dropoff)

	o, _ := res.Trail.Step(StepAwaitRender)
	assert.Equal(t, core.StatusPassed, o.Status)
	require.Len(t, res.Cards, 1)
	assert.Equal(t, "Mini", res.Cards[0].Label)
}

func TestRun_RecoversPanic(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{PanicOn: "PressKey"})
	homeScreen(s, loc)
	s.Hide(loc.FirstSuggestion)
	s.Show(loc.RideCard, card(loc, "card-1", "Mini", "₹99", "5 min"))

	var res Result
	require.NotPanics(t, func() {
		res = newPipeline().Run(context.Background(), s, loc, pickup, dropoff)
	})

	o, _ := res.Trail.Step(StepSetDropoff)
	assert.Equal(t, core.StatusFailed, o.Status)
	assert.ErrorIs(t, o.Err, core.ErrNavigationStepFailed)
	assert.Contains(t, o.Error, "panic")

	// Later steps still run
	assert.Len(t, res.Cards, 1)
	assert.Len(t, res.Trail.Failed(), 1)
}

func TestRun_BackendErrorFailsStepButContinues(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{FailOn: map[string]error{"FindElements": errors.New("socket hang up")}})
	homeScreen(s, loc)

	res := newPipeline().Run(context.Background(), s, loc, pickup, dropoff)

	st := statuses(res.Trail)
	assert.Equal(t, core.StatusFailed, st[StepDismissOverlays])
	assert.Equal(t, core.StatusPassed, st[StepOpenSearch])
	assert.Equal(t, core.StatusFailed, st[StepCollectCards])
	assert.Len(t, res.Trail, 6)
}

func TestRun_ExpiredSessionStops(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{})
	homeScreen(s, loc)
	s.Expire()

	res := newPipeline().Run(context.Background(), s, loc, pickup, dropoff)

	assert.Empty(t, res.Cards)
	require.Len(t, res.Trail, 1)
	assert.Equal(t, core.StatusFailed, res.Trail[0].Status)
	assert.True(t, res.Trail.SessionExpired())
}

func TestRun_CancelledContextStops(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{})
	homeScreen(s, loc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newPipeline().Run(ctx, s, loc, pickup, dropoff)

	require.Len(t, res.Trail, 1)
	assert.ErrorIs(t, res.Trail[0].Err, context.Canceled)
	assert.Empty(t, s.Calls())
}

type fixedGeocoder map[core.Coordinate]string

func (g fixedGeocoder) Text(_ context.Context, c core.Coordinate) (string, error) {
	if text, ok := g[c]; ok {
		return text, nil
	}
	return "", errors.New("no address")
}

func TestRun_UsesGeocoder(t *testing.T) {
	loc := DefaultLocators()
	s := mock.New(mock.Config{})
	homeScreen(s, loc)

	p := New(fastTiming(), fixedGeocoder{dropoff: "Koramangala"}, nil)
	p.Run(context.Background(), s, loc, pickup, dropoff)

	assert.Equal(t, "Koramangala", s.Typed("destination"))
}

func TestLocators_Merge(t *testing.T) {
	base := DefaultLocators()
	merged := base.Merge(Locators{
		WhereTo:  core.Locator{Value: "//android.widget.TextView[@text='Search']"},
		RideCard: core.Locator{Strategy: "id", Value: "ride_option"},
	})

	assert.Equal(t, core.XPath("//android.widget.TextView[@text='Search']"), merged.WhereTo)
	assert.Equal(t, core.Locator{Strategy: "id", Value: "ride_option"}, merged.RideCard)
	assert.Equal(t, base.CloseButton, merged.CloseButton)
	assert.Equal(t, base.CardETA, merged.CardETA)
}

func TestTiming_Defaults(t *testing.T) {
	got := Timing{SettlePause: -1}.withDefaults()
	want := DefaultTiming()
	want.SettlePause = 0
	assert.Equal(t, want, got)
}
