// Package session owns the automation sessions, one per app package.
//
// Reuse of an existing session is lock-free. Creation is serialized by a
// single pool-wide mutex so a cold start never opens two sessions for one
// package and never storms the automation backend with parallel creates.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
)

// Observer receives pool events. Implemented by the metrics package.
type Observer interface {
	SessionCreated(pkg string, d time.Duration)
	SessionCreateFailed(pkg string)
	SessionEvicted(pkg string)
}

// Options tune pool behaviour.
type Options struct {
	// ValidateOnAcquire pings a reused session and recreates it if the backend dropped it
	ValidateOnAcquire bool
	// PingTimeout bounds the liveness probe
	PingTimeout time.Duration
	Observer    Observer
}

type entry struct {
	session   core.Session
	createdAt time.Time
}

// Pool maps app packages to live sessions.
type Pool struct {
	factory core.SessionFactory
	log     *zap.Logger
	opts    Options

	createMu sync.Mutex
	sessions sync.Map // package -> *entry
}

// NewPool creates an empty pool.
func NewPool(factory core.SessionFactory, log *zap.Logger, opts Options) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}
	return &Pool{factory: factory, log: log.Named("session"), opts: opts}
}

// Acquire returns the session for pkg, creating it on first use.
// A failed creation returns an error matching core.ErrSessionUnavailable and
// leaves no entry behind, so the next call retries.
func (p *Pool) Acquire(ctx context.Context, pkg string) (core.Session, error) {
	if e, ok := p.load(pkg); ok {
		if !p.opts.ValidateOnAcquire || p.alive(ctx, e.session) {
			return e.session, nil
		}
		p.Invalidate(pkg, e.session)
	}

	p.createMu.Lock()
	defer p.createMu.Unlock()

	// Another caller may have created it while we waited for the lock
	if e, ok := p.load(pkg); ok {
		return e.session, nil
	}

	start := time.Now()
	sess, err := p.factory.Create(ctx, pkg)
	if err != nil {
		p.log.Error("failed to create session", zap.String("package", pkg), zap.Error(err))
		if p.opts.Observer != nil {
			p.opts.Observer.SessionCreateFailed(pkg)
		}
		return nil, core.ErrSessionUnavailable.
			WithCause(err).
			WithDetails(map[string]interface{}{"package": pkg})
	}

	p.sessions.Store(pkg, &entry{session: sess, createdAt: time.Now()})
	p.log.Info("created session", zap.String("package", pkg), zap.Duration("took", time.Since(start)))
	if p.opts.Observer != nil {
		p.opts.Observer.SessionCreated(pkg, time.Since(start))
	}
	return sess, nil
}

// Invalidate evicts sess if it is still the registered session for pkg and
// closes it best-effort. Stale handles from earlier generations are ignored.
func (p *Pool) Invalidate(pkg string, sess core.Session) {
	e, ok := p.load(pkg)
	if !ok || e.session != sess {
		return
	}
	if !p.sessions.CompareAndDelete(pkg, e) {
		return
	}

	p.log.Warn("evicted session", zap.String("package", pkg), zap.Duration("age", time.Since(e.createdAt)))
	if p.opts.Observer != nil {
		p.opts.Observer.SessionEvicted(pkg)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.PingTimeout)
		defer cancel()
		_ = sess.Close(ctx)
	}()
}

// Packages lists packages with a live session, sorted.
func (p *Pool) Packages() []string {
	var pkgs []string
	p.sessions.Range(func(k, _ interface{}) bool {
		pkgs = append(pkgs, k.(string))
		return true
	})
	sort.Strings(pkgs)
	return pkgs
}

// Close deletes every session on the backend and empties the pool.
func (p *Pool) Close(ctx context.Context) error {
	p.createMu.Lock()
	defer p.createMu.Unlock()

	var errs []error
	p.sessions.Range(func(k, v interface{}) bool {
		p.sessions.Delete(k)
		if err := v.(*entry).session.Close(ctx); err != nil {
			p.log.Warn("failed to close session", zap.String("package", k.(string)), zap.Error(err))
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

func (p *Pool) load(pkg string) (*entry, bool) {
	v, ok := p.sessions.Load(pkg)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// alive reports false only when the backend says the session is gone;
// transient probe failures keep the session.
func (p *Pool) alive(ctx context.Context, sess core.Session) bool {
	ctx, cancel := context.WithTimeout(ctx, p.opts.PingTimeout)
	defer cancel()

	err := sess.Ping(ctx)
	if errors.Is(err, core.ErrSessionExpired) {
		p.log.Info("session expired on backend", zap.String("package", sess.Package()))
		return false
	}
	return true
}
