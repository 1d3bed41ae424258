package engine

import (
	"testing"
	"time"

	"security-monitor/internal/models"
)

func TestPatternStoreGetOrCreateIdempotent(t *testing.T) {
	store := NewMemoryPatternStore(100)

	first := store.GetOrCreate("user:u1")
	second := store.GetOrCreate("user:u1")
	if first != second {
		t.Error("repeat GetOrCreate should return the same baseline")
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
	if first.IdentityKey != "user:u1" {
		t.Errorf("IdentityKey = %q, want user:u1", first.IdentityKey)
	}
}

func TestPatternStoreGetDoesNotCreate(t *testing.T) {
	store := NewMemoryPatternStore(100)

	if _, ok := store.Get("user:ghost"); ok {
		t.Error("Get should miss on an untracked identity")
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d, want 0 after a read-only miss", store.Len())
	}

	store.GetOrCreate("user:u1")
	if _, ok := store.Get("user:u1"); !ok {
		t.Error("Get should hit after GetOrCreate")
	}
}

func TestPatternStoreUpdate(t *testing.T) {
	store := NewMemoryPatternStore(100)
	pattern := store.GetOrCreate("user:u1")

	ts := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC) // Wednesday
	event := &models.SecurityEvent{
		EventType: models.EventLoginSuccess,
		UserID:    "u1",
		IPAddress: "203.0.113.7",
		Timestamp: ts,
	}
	location := &models.LocationData{
		Latitude:     40.7128,
		Longitude:    -74.0060,
		Country:      "US",
		City:         "New York",
		LocationHash: "h-nyc",
	}

	store.Update(pattern, event, location, "ua-hash-1")

	if _, ok := pattern.KnownLocations["h-nyc"]; !ok {
		t.Error("location hash not recorded")
	}
	if _, ok := pattern.KnownCountries["US"]; !ok {
		t.Error("country not recorded")
	}
	if _, ok := pattern.KnownIPs["203.0.113.7"]; !ok {
		t.Error("IP not recorded")
	}
	if _, ok := pattern.UserAgentHashes["ua-hash-1"]; !ok {
		t.Error("user agent hash not recorded")
	}
	if pattern.TypicalHours[10] != 1 {
		t.Errorf("TypicalHours[10] = %d, want 1", pattern.TypicalHours[10])
	}
	if pattern.TypicalDays[time.Wednesday] != 1 {
		t.Errorf("TypicalDays[Wednesday] = %d, want 1", pattern.TypicalDays[time.Wednesday])
	}
	if pattern.TotalLogins != 1 {
		t.Errorf("TotalLogins = %d, want 1", pattern.TotalLogins)
	}
	if !pattern.LastActivityTime.Equal(ts) {
		t.Errorf("LastActivityTime = %v, want %v", pattern.LastActivityTime, ts)
	}
	if len(pattern.RecentActivity) != 1 {
		t.Errorf("RecentActivity length = %d, want 1", len(pattern.RecentActivity))
	}
	if len(pattern.RecentFailures) != 0 {
		t.Errorf("RecentFailures length = %d, want 0 for a success", len(pattern.RecentFailures))
	}
	if got := pattern.KnownLocationData(); len(got) != 1 || got[0].City != "New York" {
		t.Errorf("KnownLocationData = %v, want the cached NYC entry", got)
	}

	// Failures land in both rings.
	event.EventType = models.EventLoginFailure
	store.Update(pattern, event, nil, "")
	if len(pattern.RecentFailures) != 1 {
		t.Errorf("RecentFailures length = %d, want 1 after a failure", len(pattern.RecentFailures))
	}
	if len(pattern.RecentActivity) != 2 {
		t.Errorf("RecentActivity length = %d, want 2", len(pattern.RecentActivity))
	}
}

func TestPatternStoreActivityRingBound(t *testing.T) {
	store := NewMemoryPatternStore(5)
	pattern := store.GetOrCreate("user:u1")
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		event := &models.SecurityEvent{
			EventType: models.EventLoginSuccess,
			UserID:    "u1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		store.Update(pattern, event, nil, "")
	}

	if len(pattern.RecentActivity) != 5 {
		t.Fatalf("RecentActivity length = %d, want the ring bound of 5", len(pattern.RecentActivity))
	}
	oldest := pattern.RecentActivity[0]
	if !oldest.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("oldest retained entry = %v, want the fourth event", oldest)
	}
}

func TestPatternStorePruneStale(t *testing.T) {
	store := NewMemoryPatternStore(100).(*memoryPatternStore)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	active := store.GetOrCreate("user:active")
	stale := store.GetOrCreate("user:stale")
	untouched := store.GetOrCreate("user:untouched") // never updated, FirstSeen = now

	activeEvent := &models.SecurityEvent{EventType: models.EventLoginSuccess, UserID: "active", Timestamp: now.Add(-time.Hour)}
	store.Update(active, activeEvent, nil, "")
	staleEvent := &models.SecurityEvent{EventType: models.EventLoginSuccess, UserID: "stale", Timestamp: now.Add(-60 * 24 * time.Hour)}
	store.Update(stale, staleEvent, nil, "")

	removed := store.PruneStale(30 * 24 * time.Hour)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := store.Get("user:stale"); ok {
		t.Error("stale baseline should be pruned")
	}
	if _, ok := store.Get("user:active"); !ok {
		t.Error("recently active baseline should survive")
	}
	if _, ok := store.Get("user:untouched"); !ok {
		t.Error("fresh baseline with no activity should survive via FirstSeen")
	}
	_ = untouched
}
