package extract

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
)

// workItem is a service and its index in the request.
type workItem struct {
	service string
	index   int
}

// ExtractAll runs every service concurrently and concatenates their quotes in
// request order. Failed or timed-out services contribute nothing.
func (o *Orchestrator) ExtractAll(ctx context.Context, services []string, pickup, dropoff core.Coordinate) []core.RideQuote {
	return Concat(o.ExtractAllResults(ctx, services, pickup, dropoff))
}

// ExtractAllResults dispatches the services onto a work queue drained by at
// most Concurrency workers. An empty list means every configured service.
// Results are in request order.
func (o *Orchestrator) ExtractAllResults(ctx context.Context, services []string, pickup, dropoff core.Coordinate) []ServiceResult {
	if len(services) == 0 {
		services = o.Services()
	}
	if len(services) == 0 {
		return []ServiceResult{}
	}
	startTime := time.Now()

	workQueue := make(chan workItem, len(services))
	for i, s := range services {
		workQueue <- workItem{service: s, index: i}
	}
	close(workQueue)

	results := make([]ServiceResult, len(services))
	var wg sync.WaitGroup

	workers := min(o.cfg.Concurrency, len(services))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each item has its own slot, so no lock is needed
			for item := range workQueue {
				results[item.index] = o.Extract(ctx, item.service, pickup, dropoff)
			}
		}()
	}
	wg.Wait()

	summary := Summarize(results, time.Since(startTime))
	o.log.Info("extraction finished",
		zap.Int("services", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("empty", summary.Empty),
		zap.Int("failed", summary.Failed),
		zap.Int("timed_out", summary.TimedOut),
		zap.Int("quotes", summary.Quotes),
		zap.Duration("took", summary.Duration))

	return results
}
