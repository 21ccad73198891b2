package intel

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/sentinelops/backplane/pkg/kv"
	"github.com/sentinelops/backplane/pkg/models"
)

// GeoIPResolver looks up city-level location for remote addresses, caching
// results in the shared KV store (key geoip:{ip}). A missing database file
// yields a resolver that returns empty results rather than an error at
// lookup time.
type GeoIPResolver struct {
	reader *geoip2.Reader
	kv     *kv.Store
}

// OpenGeoIP opens a MaxMind city database. The KV store may be nil.
func OpenGeoIP(path string, store *kv.Store) (*GeoIPResolver, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &GeoIPResolver{reader: r, kv: store}, nil
}

// NoGeoIP returns a resolver without a database; every lookup is empty.
func NoGeoIP(store *kv.Store) *GeoIPResolver {
	return &GeoIPResolver{kv: store}
}

// Close releases the database handle.
func (g *GeoIPResolver) Close() error {
	if g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

// Resolve returns location data for ip. Failures degrade to an empty record.
func (g *GeoIPResolver) Resolve(ctx context.Context, ip string) models.GeoIP {
	return cached(ctx, g.kv, "geoip:"+ip, func() (models.GeoIP, error) {
		if g.reader == nil {
			return models.GeoIP{}, nil
		}
		parsed := net.ParseIP(ip)
		if parsed == nil {
			return models.GeoIP{}, fmt.Errorf("invalid ip %q", ip)
		}
		rec, err := g.reader.City(parsed)
		if err != nil {
			slog.Warn("GeoIP lookup failed", "ip", ip, "error", err)
			return models.GeoIP{}, nil
		}
		return models.GeoIP{
			Country: rec.Country.Names["en"],
			City:    rec.City.Names["en"],
			Lat:     rec.Location.Latitude,
			Lon:     rec.Location.Longitude,
		}, nil
	})
}
