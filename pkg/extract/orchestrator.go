// Package extract turns a route into ride quotes, for one service or many
// at once, on top of the session pool and the navigation pipeline.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/devicelab-dev/ride-scanner/pkg/cache"
	"github.com/devicelab-dev/ride-scanner/pkg/core"
	"github.com/devicelab-dev/ride-scanner/pkg/estimate"
	"github.com/devicelab-dev/ride-scanner/pkg/navigation"
)

// Defaults for Config.
const (
	DefaultConcurrency = 3
	DefaultTimeout     = 30 * time.Second
)

// Service is a ride-hailing app the orchestrator can drive.
type Service struct {
	Name     string
	Package  string
	Locators navigation.Locators
}

// Sessions hands out live sessions per app package. Implemented by session.Pool.
type Sessions interface {
	Acquire(ctx context.Context, pkg string) (core.Session, error)
	Invalidate(pkg string, sess core.Session)
}

// Observer receives per-service outcomes. Implemented by the metrics package.
type Observer interface {
	ExtractionFinished(r ServiceResult)
	CacheLookup(service string, hit bool)
}

// Config bounds the fan-out.
type Config struct {
	// Concurrency caps how many services run at once
	Concurrency int
	// Timeout bounds each service, measured from when its task starts
	Timeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache serves repeated routes from store.
func WithCache(store cache.Store) Option {
	return func(o *Orchestrator) { o.cache = store }
}

// WithObserver reports outcomes to obs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log.Named("extract")
		}
	}
}

// Orchestrator extracts quotes from configured services.
type Orchestrator struct {
	services map[string]Service
	order    []string
	sessions Sessions
	pipeline *navigation.Pipeline
	cfg      Config

	cache    cache.Store
	observer Observer
	log      *zap.Logger

	flight singleflight.Group
	runs   sharedRuns
	locks  packageLocks
}

// New creates an orchestrator. Services keep the given order; a later
// duplicate name replaces an earlier one.
func New(services []Service, sessions Sessions, pipeline *navigation.Pipeline, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if pipeline == nil {
		pipeline = navigation.New(navigation.DefaultTiming(), nil, nil)
	}

	o := &Orchestrator{
		services: make(map[string]Service, len(services)),
		sessions: sessions,
		pipeline: pipeline,
		cfg:      cfg,
		log:      zap.NewNop(),
		runs:     sharedRuns{m: make(map[string]*sharedRun)},
		locks:    packageLocks{m: make(map[string]chan struct{})},
	}
	for _, s := range services {
		name := normalize(s.Name)
		if _, dup := o.services[name]; !dup {
			o.order = append(o.order, name)
		}
		s.Name = name
		o.services[name] = s
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Services lists the configured service names in configuration order.
func (o *Orchestrator) Services() []string {
	return append([]string(nil), o.order...)
}

// Service looks up a configured service.
func (o *Orchestrator) Service(name string) (Service, bool) {
	s, ok := o.services[normalize(name)]
	return s, ok
}

// ExtractOne returns the quotes of one service, or an empty slice on any failure.
func (o *Orchestrator) ExtractOne(ctx context.Context, service string, pickup, dropoff core.Coordinate) []core.RideQuote {
	return o.Extract(ctx, service, pickup, dropoff).Quotes
}

// Extract runs one service under the per-service timeout and reports what happened.
// When the timeout fires first, Extract returns immediately with ErrServiceTimeout
// and the abandoned run's result is discarded. A run shared with other callers
// keeps going for them and stops once none is left.
func (o *Orchestrator) Extract(ctx context.Context, service string, pickup, dropoff core.Coordinate) ServiceResult {
	start := time.Now()
	name := normalize(service)

	svc, ok := o.services[name]
	if !ok {
		r := ServiceResult{
			Service: name,
			Quotes:  []core.RideQuote{},
			Err:     core.ErrUnknownService.WithDetails(map[string]interface{}{"service": service}),
		}
		o.finish(&r, start)
		return r
	}

	if err := ctx.Err(); err != nil {
		r := ServiceResult{Service: svc.Name, Package: svc.Package, Quotes: []core.RideQuote{}, Err: err}
		o.finish(&r, start)
		return r
	}

	taskCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	key := core.RouteKey(svc.Name, pickup, dropoff)
	if quotes, hit := o.lookup(taskCtx, svc.Name, key); hit {
		r := ServiceResult{Service: svc.Name, Package: svc.Package, Quotes: quotes, Cached: true}
		o.finish(&r, start)
		return r
	}

	// Identical concurrent requests share one run. The run belongs to no
	// single caller: it is cancelled only once every caller has left.
	run := o.runs.join(ctx, key)
	defer o.runs.leave(key, run)
	ch := o.flight.DoChan(run.flightKey, func() (interface{}, error) {
		return o.extract(run.ctx, svc, pickup, dropoff, key), nil
	})

	var r ServiceResult
	select {
	case res := <-ch:
		r = res.Val.(ServiceResult)
	case <-taskCtx.Done():
		r = ServiceResult{Service: svc.Name, Package: svc.Package, Quotes: []core.RideQuote{}, Err: taskCtx.Err()}
	}
	if errors.Is(r.Err, context.DeadlineExceeded) && ctx.Err() == nil {
		r.Err = core.ErrServiceTimeout.WithDetails(map[string]interface{}{
			"service": svc.Name,
			"timeout": o.cfg.Timeout.String(),
		})
	}
	o.finish(&r, start)
	return r
}

// extract does the work of one run. It never panics.
func (o *Orchestrator) extract(ctx context.Context, svc Service, pickup, dropoff core.Coordinate, key string) (r ServiceResult) {
	r = ServiceResult{Service: svc.Name, Package: svc.Package, Quotes: []core.RideQuote{}}
	log := o.log.With(zap.String("service", svc.Name), zap.String("package", svc.Package))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("extraction panicked", zap.Any("panic", rec))
			r.Quotes = []core.RideQuote{}
			r.Err = fmt.Errorf("extraction panicked: %v", rec)
		}
	}()

	unlock, err := o.locks.lock(ctx, svc.Package)
	if err != nil {
		r.Err = err
		return r
	}
	defer unlock()

	sess, err := o.sessions.Acquire(ctx, svc.Package)
	if err != nil {
		log.Warn("no session", zap.Error(err))
		r.Err = err
		return r
	}

	res := o.pipeline.Run(ctx, sess, svc.Locators, pickup, dropoff)
	r.Trail = res.Trail

	switch {
	case res.Trail.SessionExpired():
		o.sessions.Invalidate(svc.Package, sess)
		r.Err = core.ErrSessionExpired.WithDetails(map[string]interface{}{"package": svc.Package})
		log.Warn("session expired during navigation")
		return r
	case ctx.Err() != nil:
		r.Err = ctx.Err()
		return r
	}

	r.Quotes = estimate.Quotes(svc.Name, res.Cards)
	if len(r.Quotes) > 0 {
		o.store(ctx, key, r.Quotes)
	}
	log.Info("extracted quotes", zap.Int("quotes", len(r.Quotes)), zap.Int("failed_steps", len(res.Trail.Failed())))
	return r
}

func (o *Orchestrator) lookup(ctx context.Context, service, key string) ([]core.RideQuote, bool) {
	if o.cache == nil {
		return nil, false
	}
	quotes, hit, err := o.cache.Get(ctx, key)
	if err != nil {
		o.log.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		hit = false
	}
	if o.observer != nil {
		o.observer.CacheLookup(service, hit)
	}
	if hit {
		o.log.Debug("cache hit", zap.String("key", key), zap.Int("quotes", len(quotes)))
		if quotes == nil {
			quotes = []core.RideQuote{}
		}
	}
	return quotes, hit
}

func (o *Orchestrator) store(ctx context.Context, key string, quotes []core.RideQuote) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Set(ctx, key, quotes); err != nil {
		o.log.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	}
}

func (o *Orchestrator) finish(r *ServiceResult, start time.Time) {
	r.Duration = time.Since(start)
	if r.Err != nil {
		o.log.Warn("service failed", zap.String("service", r.Service), zap.Error(r.Err),
			zap.Duration("took", r.Duration))
	}
	if o.observer != nil {
		o.observer.ExtractionFinished(*r)
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// packageLocks serializes pipeline runs per app package. A device shows one
// app screen at a time, so two routes on one app must not interleave.
type packageLocks struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func (l *packageLocks) lock(ctx context.Context, pkg string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.m[pkg]
	if !ok {
		ch = make(chan struct{}, 1)
		l.m[pkg] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sharedRuns reference-counts the callers of each in-flight run. A run's
// context survives any one caller's cancellation or deadline and is
// cancelled when its last caller leaves.
type sharedRuns struct {
	mu   sync.Mutex
	m    map[string]*sharedRun
	next uint64
}

type sharedRun struct {
	ctx       context.Context
	cancel    context.CancelFunc
	flightKey string // unique per run, so a cancelled run is never joined
	callers   int
}

func (s *sharedRuns) join(ctx context.Context, key string) *sharedRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.m[key]
	if !ok {
		s.next++
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		run = &sharedRun{ctx: runCtx, cancel: cancel, flightKey: fmt.Sprintf("%s#%d", key, s.next)}
		s.m[key] = run
	}
	run.callers++
	return run
}

func (s *sharedRuns) leave(key string, run *sharedRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.callers--
	if run.callers > 0 {
		return
	}
	if s.m[key] == run {
		delete(s.m, key)
	}
	run.cancel()
}
