package engine

import (
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"security-monitor/internal/models"
	"security-monitor/internal/util"
)

// PatternStore owns the per-identity behavioral baselines. Callers never
// touch the underlying maps; a multi-process deployment can substitute an
// implementation backed by an external cache behind this interface.
type PatternStore interface {
	// GetOrCreate lazily initializes an empty baseline on first lookup and
	// is idempotent on repeat lookups.
	GetOrCreate(identityKey string) *models.UserPattern

	// Get returns an existing baseline without creating one.
	Get(identityKey string) (*models.UserPattern, bool)

	// Sync runs fn under the lock serializing access to identityKey's
	// baseline. Any read of a live *models.UserPattern and the Update that
	// follows it must run inside the same Sync call, so concurrent events
	// for one identity never interleave map reads with a write.
	Sync(identityKey string, fn func())

	// Update folds one processed event into the baseline. It must run after
	// analysis so analyzers always observe the pre-update state.
	Update(pattern *models.UserPattern, event *models.SecurityEvent, location *models.LocationData, userAgentHash string)

	// Len reports the number of tracked identities.
	Len() int

	// PruneStale drops baselines idle for longer than maxAge and returns
	// the number removed.
	PruneStale(maxAge time.Duration) int
}

// identityLockStripes bounds the per-identity lock table; identities hash
// onto a fixed set of stripes instead of growing a lock per key.
const identityLockStripes = 64

type memoryPatternStore struct {
	mu         sync.RWMutex
	stripes    [identityLockStripes]sync.Mutex
	patterns   map[string]*models.UserPattern
	windowSize int
	now        func() time.Time
}

// NewMemoryPatternStore builds the in-process store. windowSize bounds the
// per-identity activity ring used for velocity counting.
func NewMemoryPatternStore(windowSize int) PatternStore {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &memoryPatternStore{
		patterns:   make(map[string]*models.UserPattern),
		windowSize: windowSize,
		now:        time.Now,
	}
}

func (s *memoryPatternStore) GetOrCreate(identityKey string) *models.UserPattern {
	s.mu.RLock()
	pattern, ok := s.patterns[identityKey]
	s.mu.RUnlock()
	if ok {
		return pattern
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pattern, ok = s.patterns[identityKey]; ok {
		return pattern
	}
	pattern = models.NewUserPattern(identityKey, s.now().UTC())
	s.patterns[identityKey] = pattern
	return pattern
}

func (s *memoryPatternStore) Get(identityKey string) (*models.UserPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pattern, ok := s.patterns[identityKey]
	return pattern, ok
}

func (s *memoryPatternStore) Sync(identityKey string, fn func()) {
	stripe := &s.stripes[murmur3.Sum64([]byte(identityKey))%identityLockStripes]
	stripe.Lock()
	defer stripe.Unlock()
	fn()
}

func (s *memoryPatternStore) Update(pattern *models.UserPattern, event *models.SecurityEvent, location *models.LocationData, userAgentHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := event.Timestamp

	if location != nil && location.LocationHash != "" {
		pattern.KnownLocations[location.LocationHash] = struct{}{}
		pattern.RememberLocation(location)
		if location.Country != "" {
			pattern.KnownCountries[location.Country] = struct{}{}
		}
	}
	if event.IPAddress != "" {
		pattern.KnownIPs[event.IPAddress] = struct{}{}
	}
	if userAgentHash != "" {
		pattern.UserAgentHashes[userAgentHash] = struct{}{}
	}

	pattern.TypicalHours[ts.Hour()]++
	pattern.TypicalDays[ts.Weekday()]++
	pattern.TotalLogins++
	pattern.LastActivityTime = ts
	pattern.LastUpdated = s.now().UTC()

	pattern.RecentActivity = appendBounded(pattern.RecentActivity, ts, s.windowSize)
	if event.EventType == models.EventLoginFailure {
		pattern.RecentFailures = appendBounded(pattern.RecentFailures, ts, s.windowSize)
	}
}

func (s *memoryPatternStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

func (s *memoryPatternStore) PruneStale(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, pattern := range s.patterns {
		last := pattern.LastActivityTime
		if last.IsZero() {
			last = pattern.FirstSeen
		}
		if last.Before(cutoff) {
			delete(s.patterns, key)
			removed++
		}
	}
	if removed > 0 {
		util.Debug("Pruned stale baselines", zap.Int("removed", removed))
	}
	return removed
}

// appendBounded appends to a ring slice, dropping the oldest entries once
// the bound is exceeded.
func appendBounded(ring []time.Time, ts time.Time, bound int) []time.Time {
	ring = append(ring, ts)
	if len(ring) > bound {
		ring = ring[len(ring)-bound:]
	}
	return ring
}
