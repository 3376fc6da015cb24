package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/ride-scanner/pkg/cache"
	"github.com/devicelab-dev/ride-scanner/pkg/core"
	"github.com/devicelab-dev/ride-scanner/pkg/driver/mock"
	"github.com/devicelab-dev/ride-scanner/pkg/navigation"
	"github.com/devicelab-dev/ride-scanner/pkg/session"
)

const (
	uberPkg   = "com.ubercab"
	olaPkg    = "com.olacabs.customer"
	rapidoPkg = "com.rapido.passenger"
)

var (
	pickup  = core.Coordinate{Lat: 12.9716, Lng: 77.5946}
	dropoff = core.Coordinate{Lat: 12.935, Lng: 77.624}
)

func testServices() []Service {
	loc := navigation.DefaultLocators()
	return []Service{
		{Name: "uber", Package: uberPkg, Locators: loc},
		{Name: "ola", Package: olaPkg, Locators: loc},
		{Name: "rapido", Package: rapidoPkg, Locators: loc},
	}
}

func fastPipeline() *navigation.Pipeline {
	return navigation.New(navigation.Timing{
		PollInterval:      2 * time.Millisecond,
		StepTimeout:       20 * time.Millisecond,
		PickupTimeout:     10 * time.Millisecond,
		SuggestionTimeout: 10 * time.Millisecond,
		RenderTimeout:     30 * time.Millisecond,
	}, nil, nil)
}

type rideOption struct {
	label, price, eta string
}

// bookingScreen builds a session already showing search, route entry and
// the given ride options.
func bookingScreen(cfg mock.Config, options ...rideOption) *mock.Session {
	loc := navigation.DefaultLocators()
	s := mock.New(cfg)
	s.Show(loc.WhereTo, &mock.Element{ID: "where-to"})
	s.Show(loc.CurrentLocation, &mock.Element{ID: "current-location"})
	s.Show(loc.DestinationInput, &mock.Element{ID: "destination"})
	s.Show(loc.FirstSuggestion, &mock.Element{ID: "suggestion-1"})

	var cards []*mock.Element
	for i, o := range options {
		cards = append(cards, mock.Card(cfg.Package+"/card-"+string(rune('a'+i)), map[core.Locator]string{
			loc.CardLabel: o.label,
			loc.CardPrice: o.price,
			loc.CardETA:   o.eta,
		}))
	}
	if len(cards) > 0 {
		s.Show(loc.RideCard, cards...)
	}
	return s
}

// screens maps packages to the options their app shows.
type screens map[string][]rideOption

func (sc screens) factory(cfg mock.Config) *mock.Factory {
	return mock.NewFactory(func(pkg string) *mock.Session {
		c := cfg
		c.Package = pkg
		return bookingScreen(c, sc[pkg]...)
	})
}

var defaultScreens = screens{
	uberPkg: {
		{"UberGo", "₹120-140", "4 min"},
		{"UberXL", "₹200-240", "9 min"},
	},
	olaPkg: {
		{"Mini", "₹115", "6 min"},
	},
	rapidoPkg: {
		{"Bike", "₹45", "2 min"},
	},
}

func newOrchestrator(t *testing.T, factory core.SessionFactory, cfg Config, opts ...Option) (*Orchestrator, *session.Pool) {
	t.Helper()
	pool := session.NewPool(factory, nil, session.Options{})
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	return New(testServices(), pool, fastPipeline(), cfg, opts...), pool
}

func TestExtractOne_ParsesCards(t *testing.T) {
	o, _ := newOrchestrator(t, defaultScreens.factory(mock.Config{}), Config{})

	quotes := o.ExtractOne(context.Background(), "uber", pickup, dropoff)

	assert.Equal(t, []core.RideQuote{
		{VehicleType: "UberGo", PriceEstimate: 130, ETASeconds: 240, Service: "uber"},
		{VehicleType: "UberXL", PriceEstimate: 220, ETASeconds: 540, Service: "uber"},
	}, quotes)
}

func TestExtractOne_NoCardsIsEmptyNotNil(t *testing.T) {
	o, _ := newOrchestrator(t, screens{}.factory(mock.Config{}), Config{})

	quotes := o.ExtractOne(context.Background(), "ola", pickup, dropoff)

	assert.NotNil(t, quotes)
	assert.Empty(t, quotes)
}

func TestExtract_SessionFailureThenRetry(t *testing.T) {
	factory := defaultScreens.factory(mock.Config{})
	o, _ := newOrchestrator(t, factory, Config{})
	ctx := context.Background()

	factory.FailWith(rapidoPkg, errors.New("could not find a connected Android device"))
	r := o.Extract(ctx, "rapido", pickup, dropoff)
	assert.NotNil(t, r.Quotes)
	assert.Empty(t, r.Quotes)
	assert.ErrorIs(t, r.Err, core.ErrSessionUnavailable)
	assert.Equal(t, OutcomeError, r.Outcome())

	factory.FailWith(rapidoPkg, nil)
	r = o.Extract(ctx, "rapido", pickup, dropoff)
	require.NoError(t, r.Err)
	assert.Len(t, r.Quotes, 1)
	assert.Equal(t, 2, factory.Creates(rapidoPkg))
}

func TestExtract_UnknownService(t *testing.T) {
	o, _ := newOrchestrator(t, defaultScreens.factory(mock.Config{}), Config{})

	r := o.Extract(context.Background(), "lyft", pickup, dropoff)

	assert.ErrorIs(t, r.Err, core.ErrUnknownService)
	assert.NotNil(t, r.Quotes)
	assert.Empty(t, r.Quotes)
}

func TestExtract_NameIsCaseInsensitive(t *testing.T) {
	o, _ := newOrchestrator(t, defaultScreens.factory(mock.Config{}), Config{})

	r := o.Extract(context.Background(), " Uber ", pickup, dropoff)

	require.NoError(t, r.Err)
	assert.Equal(t, "uber", r.Service)
	assert.Equal(t, uberPkg, r.Package)
}

func TestExtract_ReusesSession(t *testing.T) {
	factory := defaultScreens.factory(mock.Config{})
	o, _ := newOrchestrator(t, factory, Config{})
	ctx := context.Background()

	o.ExtractOne(ctx, "uber", pickup, dropoff)
	o.ExtractOne(ctx, "uber", dropoff, pickup)

	assert.Equal(t, 1, factory.Creates(uberPkg))
}

func TestExtract_TimeoutReturnsPromptly(t *testing.T) {
	factory := defaultScreens.factory(mock.Config{CallDelay: 100 * time.Millisecond})
	o, _ := newOrchestrator(t, factory, Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	r := o.Extract(context.Background(), "uber", pickup, dropoff)

	assert.ErrorIs(t, r.Err, core.ErrServiceTimeout)
	assert.Equal(t, OutcomeTimeout, r.Outcome())
	assert.Empty(t, r.Quotes)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestExtract_ParentCancelIsNotTimeout(t *testing.T) {
	o, _ := newOrchestrator(t, defaultScreens.factory(mock.Config{}), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := o.Extract(ctx, "uber", pickup, dropoff)

	assert.ErrorIs(t, r.Err, context.Canceled)
	assert.NotErrorIs(t, r.Err, core.ErrServiceTimeout)
	assert.Empty(t, r.Quotes)
}

func TestExtract_ExpiredSessionIsEvicted(t *testing.T) {
	var builds atomic.Int32
	factory := mock.NewFactory(func(pkg string) *mock.Session {
		s := bookingScreen(mock.Config{Package: pkg}, defaultScreens[pkg]...)
		if builds.Add(1) == 1 {
			s.Expire()
		}
		return s
	})
	o, pool := newOrchestrator(t, factory, Config{})
	ctx := context.Background()

	r := o.Extract(ctx, "uber", pickup, dropoff)
	assert.ErrorIs(t, r.Err, core.ErrSessionExpired)
	assert.Empty(t, r.Quotes)
	assert.Empty(t, pool.Packages())

	r = o.Extract(ctx, "uber", pickup, dropoff)
	require.NoError(t, r.Err)
	assert.Len(t, r.Quotes, 2)
	assert.Equal(t, 2, factory.Creates(uberPkg))
}

func TestExtract_CacheHitSkipsDevice(t *testing.T) {
	factory := defaultScreens.factory(mock.Config{})
	store := cache.NewMemory(time.Minute)
	obs := &recordingObserver{}
	o, pool := newOrchestrator(t, factory, Config{}, WithCache(store), WithObserver(obs))
	ctx := context.Background()

	first := o.Extract(ctx, "uber", pickup, dropoff)
	require.NoError(t, first.Err)
	sess, err := pool.Acquire(ctx, uberPkg)
	require.NoError(t, err)
	callsAfterFirst := len(sess.(*mock.Session).Calls())

	second := o.Extract(ctx, "uber", pickup, dropoff)
	require.NoError(t, second.Err)
	assert.True(t, second.Cached)
	assert.Equal(t, OutcomeCached, second.Outcome())
	assert.Equal(t, first.Quotes, second.Quotes)
	assert.Len(t, sess.(*mock.Session).Calls(), callsAfterFirst)

	assert.Equal(t, []bool{false, true}, obs.lookups())
}

func TestExtract_FailuresAreNotCached(t *testing.T) {
	factory := defaultScreens.factory(mock.Config{})
	store := cache.NewMemory(time.Minute)
	o, _ := newOrchestrator(t, factory, Config{}, WithCache(store))
	ctx := context.Background()

	factory.FailWith(uberPkg, errors.New("boom"))
	o.Extract(ctx, "uber", pickup, dropoff)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Size)
}

func TestExtract_ConcurrentIdenticalRequestsShareRun(t *testing.T) {
	factory := defaultScreens.factory(mock.Config{CallDelay: 5 * time.Millisecond})
	o, pool := newOrchestrator(t, factory, Config{})

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([][]core.RideQuote, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = o.ExtractOne(context.Background(), "uber", pickup, dropoff)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, quotes := range results {
		assert.Len(t, quotes, 2)
	}

	sess, err := pool.Acquire(context.Background(), uberPkg)
	require.NoError(t, err)
	runs := 0
	for _, c := range sess.(*mock.Session).Calls() {
		if strings.HasPrefix(c, "FindElements") && strings.Contains(c, "Close") {
			runs++
		}
	}
	assert.Equal(t, 1, runs)
}

// callersOf reports how many callers wait on the in-flight run for key.
func callersOf(o *Orchestrator, key string) int {
	o.runs.mu.Lock()
	defer o.runs.mu.Unlock()
	if run, ok := o.runs.m[key]; ok {
		return run.callers
	}
	return 0
}

func TestExtract_CancelledCallerDoesNotAbortSharedRun(t *testing.T) {
	factory := defaultScreens.factory(mock.Config{})
	factory.Delay = 200 * time.Millisecond
	o, _ := newOrchestrator(t, factory, Config{})
	key := core.RouteKey("uber", pickup, dropoff)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	first := make(chan ServiceResult, 1)
	go func() { first <- o.Extract(firstCtx, "uber", pickup, dropoff) }()
	require.Eventually(t, func() bool { return callersOf(o, key) == 1 }, time.Second, time.Millisecond)

	second := make(chan ServiceResult, 1)
	go func() { second <- o.Extract(context.Background(), "uber", pickup, dropoff) }()
	require.Eventually(t, func() bool { return callersOf(o, key) == 2 }, time.Second, time.Millisecond)

	cancelFirst()

	r1 := <-first
	assert.ErrorIs(t, r1.Err, context.Canceled)
	assert.Empty(t, r1.Quotes)

	r2 := <-second
	require.NoError(t, r2.Err)
	assert.Len(t, r2.Quotes, 2)
	assert.Equal(t, 1, factory.Creates(uberPkg))
}

func TestExtract_JoinerKeepsItsOwnDeadline(t *testing.T) {
	factory := defaultScreens.factory(mock.Config{})
	factory.Delay = 600 * time.Millisecond
	o, _ := newOrchestrator(t, factory, Config{Timeout: 500 * time.Millisecond})

	first := make(chan ServiceResult, 1)
	go func() { first <- o.Extract(context.Background(), "uber", pickup, dropoff) }()
	require.Eventually(t, func() bool { return factory.Creates(uberPkg) == 1 }, time.Second, time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	r2 := o.Extract(context.Background(), "uber", pickup, dropoff)

	r1 := <-first
	assert.ErrorIs(t, r1.Err, core.ErrServiceTimeout)
	require.NoError(t, r2.Err)
	assert.Len(t, r2.Quotes, 2)
	assert.Equal(t, 1, factory.Creates(uberPkg))
}

func TestExtract_RunIsCancelledWhenLastCallerLeaves(t *testing.T) {
	factory := defaultScreens.factory(mock.Config{})
	factory.Delay = time.Second
	o, _ := newOrchestrator(t, factory, Config{Timeout: 50 * time.Millisecond})

	r := o.Extract(context.Background(), "uber", pickup, dropoff)

	assert.ErrorIs(t, r.Err, core.ErrServiceTimeout)
	key := core.RouteKey("uber", pickup, dropoff)
	assert.Zero(t, callersOf(o, key))
	o.runs.mu.Lock()
	_, inFlight := o.runs.m[key]
	o.runs.mu.Unlock()
	assert.False(t, inFlight)
}

func TestPackageLocks_HonourContext(t *testing.T) {
	locks := packageLocks{m: make(map[string]chan struct{})}

	unlock, err := locks.lock(context.Background(), uberPkg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.lock(ctx, uberPkg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other packages are independent
	unlockOla, err := locks.lock(context.Background(), olaPkg)
	require.NoError(t, err)
	unlockOla()

	unlock()
	unlock, err = locks.lock(context.Background(), uberPkg)
	require.NoError(t, err)
	unlock()
}

func TestServiceResult_JSON(t *testing.T) {
	r := ServiceResult{
		Service:  "uber",
		Package:  uberPkg,
		Err:      core.ErrServiceTimeout.WithDetails(map[string]interface{}{"service": "uber"}),
		Duration: 1500 * time.Millisecond,
	}

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "uber", got["service"])
	assert.Equal(t, "timeout", got["outcome"])
	assert.Equal(t, "service_timeout", got["error_code"])
	assert.Equal(t, float64(1500), got["duration_ms"])
	assert.Equal(t, []interface{}{}, got["quotes"])
	assert.Equal(t, []interface{}{}, got["trail"])
}

func TestNew_Defaults(t *testing.T) {
	o := New([]Service{{Name: "Uber", Package: uberPkg}, {Name: "uber", Package: "com.other"}}, nil, nil, Config{})

	assert.Equal(t, DefaultConcurrency, o.cfg.Concurrency)
	assert.Equal(t, DefaultTimeout, o.cfg.Timeout)
	assert.Equal(t, []string{"uber"}, o.Services())
	svc, ok := o.Service("UBER")
	require.True(t, ok)
	assert.Equal(t, "com.other", svc.Package)
}

type recordingObserver struct {
	mu       sync.Mutex
	finished []ServiceResult
	hits     []bool
}

func (r *recordingObserver) ExtractionFinished(res ServiceResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, res)
}

func (r *recordingObserver) CacheLookup(_ string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = append(r.hits, hit)
}

func (r *recordingObserver) lookups() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.hits...)
}
