package geo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/singleflight"

	"security-monitor/internal/models"
	"security-monitor/internal/util"
)

// Resolver looks up geolocation data for an IP address. Implementations wrap
// an external provider; the engine only depends on this interface.
type Resolver interface {
	Resolve(ctx context.Context, ipAddress string) (*models.LocationData, error)
}

// LocationHasher derives the digest used for known-location membership.
type LocationHasher interface {
	LocationHash(latitude, longitude float64, country, city string) string
}

// CachedResolver memoizes lookups for the process lifetime and collapses
// concurrent lookups for the same IP into one provider call. Provider calls
// are bounded by a timeout; a slow or failed lookup degrades to a nil
// location rather than stalling analysis.
type CachedResolver struct {
	inner   Resolver
	timeout time.Duration
	group   singleflight.Group
	mu      sync.RWMutex
	cache   map[string]*models.LocationData
}

func NewCachedResolver(inner Resolver, timeout time.Duration) *CachedResolver {
	return &CachedResolver{
		inner:   inner,
		timeout: timeout,
		cache:   make(map[string]*models.LocationData),
	}
}

func (r *CachedResolver) Resolve(ctx context.Context, ipAddress string) (*models.LocationData, error) {
	r.mu.RLock()
	cached, ok := r.cache[ipAddress]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	result, err, _ := r.group.Do(ipAddress, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		loc, err := r.inner.Resolve(lookupCtx, ipAddress)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[ipAddress] = loc
		r.mu.Unlock()
		return loc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("geolocation lookup for %s: %w", ipAddress, err)
	}
	return result.(*models.LocationData), nil
}

// CacheSize returns the number of memoized IPs.
func (r *CachedResolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// SimulatedResolver derives stable, deterministic locations from the IP
// digest. It stands in for a real provider in development and tests; the
// Resolver boundary is where a production deployment plugs in a commercial
// geolocation service.
type SimulatedResolver struct {
	hasher LocationHasher
}

var simulatedRegions = []struct {
	country string
	city    string
	lat     float64
	lon     float64
}{
	{"US", "New York", 40.7128, -74.0060},
	{"US", "San Francisco", 37.7749, -122.4194},
	{"GB", "London", 51.5074, -0.1278},
	{"DE", "Frankfurt", 50.1109, 8.6821},
	{"SG", "Singapore", 1.3521, 103.8198},
	{"AU", "Sydney", -33.8688, 151.2093},
	{"JP", "Tokyo", 35.6762, 139.6503},
	{"BR", "Sao Paulo", -23.5505, -46.6333},
	{"IN", "Mumbai", 19.0760, 72.8777},
	{"ZA", "Johannesburg", -26.2041, 28.0473},
}

func NewSimulatedResolver(hasher LocationHasher) *SimulatedResolver {
	return &SimulatedResolver{hasher: hasher}
}

func (r *SimulatedResolver) Resolve(ctx context.Context, ipAddress string) (*models.LocationData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if util.SanitizeIP(ipAddress) == "" {
		return nil, fmt.Errorf("invalid ip address %q", ipAddress)
	}
	if IsPrivate(ipAddress) {
		return nil, fmt.Errorf("no geolocation for private address %q", ipAddress)
	}

	digest := murmur3.Sum64([]byte(ipAddress))
	region := simulatedRegions[digest%uint64(len(simulatedRegions))]

	// Jitter within ~0.5 degrees keeps distinct IPs in a region apart
	latOffset := float64(digest>>8%100)/100.0 - 0.5
	lonOffset := float64(digest>>16%100)/100.0 - 0.5

	loc := &models.LocationData{
		IPAddress: ipAddress,
		Country:   region.country,
		City:      region.city,
		Latitude:  region.lat + latOffset,
		Longitude: region.lon + lonOffset,
		ISP:       fmt.Sprintf("AS%d", digest%65536),
		IsProxy:   digest%97 == 0,
		IsTor:     digest%211 == 0,
		HasCoords: true,
	}
	loc.LocationHash = r.hasher.LocationHash(loc.Latitude, loc.Longitude, loc.Country, loc.City)
	return loc, nil
}

// privatePrefixes are the ranges the simulated resolver treats as
// unresolvable.
var privatePrefixes = []string{"10.", "192.168.", "172.16.", "127.", "169.254."}

// IsPrivate reports whether an address falls in a non-routable range.
func IsPrivate(ipAddress string) bool {
	for _, prefix := range privatePrefixes {
		if strings.HasPrefix(ipAddress, prefix) {
			return true
		}
	}
	return false
}
