package cli

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/devicelab-dev/ride-scanner/pkg/cache"
	"github.com/devicelab-dev/ride-scanner/pkg/config"
	"github.com/devicelab-dev/ride-scanner/pkg/core"
	"github.com/devicelab-dev/ride-scanner/pkg/driver/appium"
	"github.com/devicelab-dev/ride-scanner/pkg/extract"
	"github.com/devicelab-dev/ride-scanner/pkg/logger"
	"github.com/devicelab-dev/ride-scanner/pkg/metrics"
	"github.com/devicelab-dev/ride-scanner/pkg/navigation"
	"github.com/devicelab-dev/ride-scanner/pkg/session"
)

// newSessionFactory builds the automation backend. Replaced in tests.
var newSessionFactory = func(cfg *config.Config) core.SessionFactory {
	return appium.NewFactory(appium.FactoryConfig{
		ServerURL:         cfg.Appium.URL,
		Platform:          cfg.Appium.Platform,
		DeviceName:        cfg.Appium.Device,
		AutomationName:    cfg.Appium.AutomationName,
		NewCommandTimeout: cfg.Appium.NewCommandTimeout,
		NoReset:           cfg.Appium.NoReset,
		HTTPTimeout:       cfg.Appium.HTTPTimeout,
	})
}

// loadConfig resolves configuration: defaults, config file, .env and
// environment, then command-line flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(".env", config.GetDotEnvPath()); err != nil {
		return nil, err
	}

	var cfg *config.Config
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(config.GetHome())
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if v := c.String("appium-url"); v != "" {
		cfg.Appium.URL = v
	}
	if v := c.String("device"); v != "" {
		cfg.Appium.Device = v
	}
	if v := c.String("log-file"); v != "" {
		cfg.Log.File = v
	}
	if c.Bool("verbose") {
		cfg.Log.Verbose = true
	}
	if c.IsSet("listen") {
		cfg.Server.Listen = c.String("listen")
	}
	if c.IsSet("concurrency") {
		cfg.Extract.Concurrency = c.Int("concurrency")
	}
	if c.IsSet("timeout") {
		cfg.Extract.Timeout = c.Duration("timeout")
	}
	if c.Bool("no-cache") {
		cfg.Cache.Disabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runtime is the wired object graph shared by serve and extract.
type runtime struct {
	cfg     *config.Config
	log     *zap.Logger
	pool    *session.Pool
	store   cache.Store
	metrics *metrics.Metrics
	orch    *extract.Orchestrator
	closers []func() error
}

func newRuntime(ctx context.Context, cfg *config.Config, log *zap.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log, metrics: metrics.New()}

	rt.pool = session.NewPool(newSessionFactory(cfg), log, session.Options{
		ValidateOnAcquire: cfg.Appium.ValidateSessions,
		Observer:          rt.metrics,
	})
	rt.closers = append(rt.closers, func() error { return rt.pool.Close(context.Background()) })

	store, err := rt.openCache(ctx)
	if err != nil {
		return nil, err
	}
	rt.store = store

	opts := []extract.Option{extract.WithLogger(log), extract.WithObserver(rt.metrics)}
	if store != nil {
		opts = append(opts, extract.WithCache(store))
	}
	pipeline := navigation.New(cfg.Navigation, navigation.CoordinateText{}, log)
	rt.orch = extract.New(cfg.ExtractServices(), rt.pool, pipeline, extract.Config{
		Concurrency: cfg.Extract.Concurrency,
		Timeout:     cfg.Extract.Timeout,
	}, opts...)

	return rt, nil
}

// openCache returns nil when caching is disabled. An unreachable Redis falls
// back to the in-memory cache.
func (rt *runtime) openCache(ctx context.Context) (cache.Store, error) {
	cc := rt.cfg.Cache
	if cc.Disabled {
		return nil, nil
	}
	if cc.RedisAddr == "" {
		return cache.NewMemory(cc.TTL), nil
	}

	r, err := cache.NewRedis(ctx, cache.RedisOptions{
		Addr:     cc.RedisAddr,
		Password: cc.RedisPassword,
		DB:       cc.RedisDB,
		TTL:      cc.TTL,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		rt.log.Warn("redis unavailable, using in-memory cache", zap.String("addr", cc.RedisAddr), zap.Error(err))
		return cache.NewMemory(cc.TTL), nil
	}
	rt.closers = append(rt.closers, r.Close)
	rt.log.Info("using redis cache", zap.String("addr", cc.RedisAddr))
	return r, nil
}

func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// setup loads config and the logger for a command.
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.Init(cfg.Log.File, cfg.Log.Verbose)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
