// Package cache keeps recent per-service extraction results keyed by route,
// so repeated lookups for the same trip within the TTL skip the device.
package cache

import (
	"context"
	"time"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
)

// DefaultTTL keeps prices fresh enough to quote.
const DefaultTTL = 2 * time.Minute

// Stats describes the cache contents.
type Stats struct {
	Size                  int   `json:"size"`
	OldestEntryAgeSeconds int64 `json:"oldest_entry_age_seconds"`
}

// Store is a TTL cache of quotes. Keys come from core.RouteKey.
// Implementations: Memory, Redis.
type Store interface {
	// Get returns the cached quotes and true on a fresh hit
	Get(ctx context.Context, key string) ([]core.RideQuote, bool, error)
	Set(ctx context.Context, key string, quotes []core.RideQuote) error
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// entry is the stored form of one result.
type entry struct {
	Quotes   []core.RideQuote `json:"quotes"`
	StoredAt time.Time        `json:"stored_at"`
}
