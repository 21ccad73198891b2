package intel

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sentinelops/backplane/pkg/kv"
	"github.com/sentinelops/backplane/pkg/metrics"
	"github.com/sentinelops/backplane/pkg/models"
)

// CacheTTL bounds how long a resolved indicator is reused before the
// upstream service is asked again.
const CacheTTL = 24 * time.Hour

// VTLookup resolves a file hash reputation.
type VTLookup interface {
	Lookup(ctx context.Context, hash string) (models.VTResult, error)
}

// OTXLookup resolves indicator pulse counts.
type OTXLookup interface {
	LookupFile(ctx context.Context, hash string) (models.OTXResult, error)
	LookupIP(ctx context.Context, ip string) (models.OTXResult, error)
}

// Cache fronts the intel clients with the shared KV store. Within the TTL a
// given indicator causes at most one outbound call; a lookup failure after
// retries degrades to the zero ("unknown") result and never blocks the
// pipeline. A nil KV store disables caching but keeps lookups working.
type Cache struct {
	KV  *kv.Store
	VT  VTLookup
	OTX OTXLookup
}

// cached runs the fill function behind a KV key. Cache errors other than a
// miss are logged and treated as misses so a degraded KV never stalls
// enrichment.
func cached[T any](ctx context.Context, store *kv.Store, key string, fill func() (T, error)) T {
	provider, _, _ := strings.Cut(key, ":")
	var zero T
	if store != nil {
		var hit T
		err := store.GetJSON(ctx, key, &hit)
		if err == nil {
			metrics.IntelLookups.WithLabelValues(provider, "hit").Inc()
			return hit
		}
		if !errors.Is(err, kv.ErrNotFound) {
			slog.Warn("Intel cache read failed", "key", key, "error", err)
		}
	}
	val, err := fill()
	if err != nil {
		slog.Error("Intel lookup failed, treating as unknown", "key", key, "error", err)
		metrics.IntelLookups.WithLabelValues(provider, "error").Inc()
		return zero
	}
	metrics.IntelLookups.WithLabelValues(provider, "miss").Inc()
	if store != nil {
		if err := store.SetJSON(ctx, key, val, CacheTTL); err != nil {
			slog.Warn("Intel cache write failed", "key", key, "error", err)
		}
	}
	return val
}

// VTFile resolves a file hash seen in a file event (key vt:{hash}).
func (c *Cache) VTFile(ctx context.Context, hash string) models.VTResult {
	return cached(ctx, c.KV, "vt:"+hash, func() (models.VTResult, error) {
		return c.VT.Lookup(ctx, hash)
	})
}

// VTProcess resolves a binary hash seen in a process event. The key space is
// distinct from file events (vt:proc:{hash}).
func (c *Cache) VTProcess(ctx context.Context, hash string) models.VTResult {
	return cached(ctx, c.KV, "vt:proc:"+hash, func() (models.VTResult, error) {
		return c.VT.Lookup(ctx, hash)
	})
}

// OTXFile resolves pulse counts for a file hash (key otx:file:{hash}).
func (c *Cache) OTXFile(ctx context.Context, hash string) models.OTXResult {
	return cached(ctx, c.KV, "otx:file:"+hash, func() (models.OTXResult, error) {
		return c.OTX.LookupFile(ctx, hash)
	})
}

// OTXIP resolves pulse counts for a remote address (key otx:ip:{ip}).
func (c *Cache) OTXIP(ctx context.Context, ip string) models.OTXResult {
	return cached(ctx, c.KV, "otx:ip:"+ip, func() (models.OTXResult, error) {
		return c.OTX.LookupIP(ctx, ip)
	})
}
