package cli

import (
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/devicelab-dev/ride-scanner/pkg/api"
	"github.com/devicelab-dev/ride-scanner/pkg/logger"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the HTTP extraction API",
	Description: `Start the HTTP API. Sessions are opened lazily on the first request
for each app and reused until they expire.

Routes:
  POST   /extract/:service   quotes from one service
  POST   /extract-uber       alias of /extract/uber
  POST   /extract-all        quotes from all (or selected) services
  POST   /diagnose/:service  quotes with the navigation trail
  GET    /health             liveness, open sessions, services
  GET    /cache/stats        cache size and oldest entry age
  DELETE /cache              drop all cached quotes
  GET    /metrics            Prometheus metrics`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "Listen address (overrides config, RIDESCANNER_LISTEN and PORT)",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Maximum services extracted at once",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-service extraction timeout",
		},
		&cli.BoolFlag{
			Name:  "no-cache",
			Usage: "Disable the quote cache",
		},
	},
	Action: runServe,
}

func runServe(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	h := api.NewHandler(api.Deps{
		Extractor: rt.orch,
		Sessions:  rt.pool,
		Cache:     rt.store,
		Metrics:   rt.metrics.Handler(),
		Log:       log,
	})

	// Writes must outlive the slowest multi-service extraction.
	writeTimeout := cfg.Extract.Timeout*2 + cfg.Appium.HTTPTimeout
	srv := api.NewServer(cfg.Server.Listen, api.NewRouter(h, log), writeTimeout, log)

	log.Info("ride-scanner starting",
		zap.String("version", Version),
		zap.String("appium", cfg.Appium.URL),
		zap.String("device", cfg.Appium.Device),
		zap.Strings("services", rt.orch.Services()))

	return srv.Run(ctx)
}
