package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"security-monitor/internal/config"
	"security-monitor/internal/models"
)

// stubResolver returns a fixed location (or error) for every IP.
type stubResolver struct {
	loc *models.LocationData
	err error
}

func (s *stubResolver) Resolve(ctx context.Context, ipAddress string) (*models.LocationData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.loc, nil
}

type stubHasher struct{}

func (stubHasher) UserAgentHash(userAgent string) string { return "ua-" + userAgent }

func testDetectionConfig() *config.DetectionConfig {
	return &config.DetectionConfig{
		GeolocationEnabled:      true,
		MaxDistanceKm:           1000,
		ImpossibleTravelSpeed:   900,
		TimeAnalysisEnabled:     true,
		BusinessHoursStart:      8,
		BusinessHoursEnd:        18,
		WeekendRiskMultiplier:   1.5,
		UserAgentEnabled:        true,
		SuspiciousUserAgents:    []string{"curl", "wget", "python-requests", "bot", "sqlmap"},
		BehavioralEnabled:       true,
		MinimumBaselineEvents:   10,
		BaseRiskScore:           10,
		MaxRiskScore:            100,
		SuspiciousThreshold:     40,
		CriticalThreshold:       70,
		AlertThreshold:          50,
		CriticalAlertThreshold:  70,
		GeoLookupTimeout:        time.Second,
		ProfileRetention:        90 * 24 * time.Hour,
		ProfileSweepInterval:    time.Hour,
		VelocityWindowSize:      100,
		VelocityHourlyLimit:     50,
		FailureWindow:           5 * time.Minute,
		FailureThreshold:        3,
		DormantAccountThreshold: 90 * 24 * time.Hour,
	}
}

func newTestEngine(cfg *config.DetectionConfig, resolver *stubResolver) (*Engine, PatternStore) {
	store := NewMemoryPatternStore(cfg.VelocityWindowSize)
	eng := NewEngine(cfg, store, resolver, stubHasher{}, zap.NewNop())
	return eng, store
}

// businessHour is a Wednesday at 10:00 UTC.
var businessHour = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func loginEvent(userID, ip, userAgent string, ts time.Time) *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:        "evt-" + userID + "-" + ts.Format("150405"),
		EventType: models.EventLoginSuccess,
		Severity:  models.SeverityInfo,
		UserID:    userID,
		IPAddress: ip,
		UserAgent: userAgent,
		Timestamp: ts,
	}
}

func nycLocation() *models.LocationData {
	return &models.LocationData{
		IPAddress:    "198.51.100.10",
		Country:      "US",
		City:         "New York",
		Latitude:     40.7128,
		Longitude:    -74.0060,
		HasCoords:    true,
		LocationHash: "h-nyc",
	}
}

func londonLocation() *models.LocationData {
	return &models.LocationData{
		IPAddress:    "203.0.113.20",
		Country:      "GB",
		City:         "London",
		Latitude:     51.5074,
		Longitude:    -0.1278,
		HasCoords:    true,
		LocationHash: "h-lon",
	}
}

// seedBaseline folds ten weekly logins from New York into the store so the
// identity has a mature baseline anchored at businessHour's weekday/hour.
func seedBaseline(store PatternStore, userID string) *models.UserPattern {
	event := loginEvent(userID, "198.51.100.10", "Mozilla/5.0", businessHour)
	pattern := store.GetOrCreate(event.IdentityKey())
	for i := 0; i < 10; i++ {
		seed := loginEvent(userID, "198.51.100.10", "Mozilla/5.0", businessHour.AddDate(0, 0, -7*(9-i)))
		store.Update(pattern, seed, nycLocation(), "ua-Mozilla/5.0")
	}
	return pattern
}

func TestAnalyzeActivityIneligibleEventType(t *testing.T) {
	eng, _ := newTestEngine(testDetectionConfig(), &stubResolver{loc: nycLocation()})

	event := loginEvent("u1", "198.51.100.10", "Mozilla/5.0", businessHour)
	event.EventType = models.EventPasswordChange

	result, err := eng.AnalyzeActivity(context.Background(), event)
	if err != nil {
		t.Fatalf("AnalyzeActivity returned error: %v", err)
	}
	if result.IsSuspicious {
		t.Error("ineligible event type should not be suspicious")
	}
	if result.RiskScore.Score != 0 {
		t.Errorf("score = %d, want 0", result.RiskScore.Score)
	}
	if result.RiskFactors["skipped"] != "ineligible_event_type" {
		t.Errorf("skipped factor = %v, want ineligible_event_type", result.RiskFactors["skipped"])
	}
}

func TestAnalyzeActivityMissingIdentity(t *testing.T) {
	eng, store := newTestEngine(testDetectionConfig(), &stubResolver{loc: nycLocation()})

	event := loginEvent("", "198.51.100.10", "Mozilla/5.0", businessHour)
	result, err := eng.AnalyzeActivity(context.Background(), event)
	if err != nil {
		t.Fatalf("AnalyzeActivity returned error: %v", err)
	}
	if result.RiskFactors["skipped"] != "missing_identity" {
		t.Errorf("skipped factor = %v, want missing_identity", result.RiskFactors["skipped"])
	}
	if store.Len() != 0 {
		t.Errorf("store.Len() = %d, identity-less events must not create baselines", store.Len())
	}
}

func TestAnalyzeFirstLoginInsufficientBaseline(t *testing.T) {
	eng, _ := newTestEngine(testDetectionConfig(), &stubResolver{loc: nycLocation()})

	event := loginEvent("u1", "198.51.100.10", "Mozilla/5.0", businessHour)
	result, _ := eng.AnalyzeActivity(context.Background(), event)

	if !result.HasActivity(models.ActivityNewLocation) {
		t.Error("first login should flag new_location")
	}
	if !result.HasActivity(models.ActivityNewUserAgent) {
		t.Error("first login should flag new_user_agent")
	}
	if !result.HasActivity(models.ActivityInsufficientBaseline) {
		t.Error("immature baseline should carry insufficient_baseline")
	}
	if result.RiskScore.Score != 15 {
		t.Errorf("score = %d, want 15 (insufficient-baseline cap)", result.RiskScore.Score)
	}
	if result.RiskScore.Confidence > 0.25 {
		t.Errorf("confidence = %v, want <= 0.25", result.RiskScore.Confidence)
	}
	if raw, ok := result.RiskFactors["aggregate.raw_score"].(int); !ok || raw != 35 {
		t.Errorf("aggregate.raw_score = %v, want 35", result.RiskFactors["aggregate.raw_score"])
	}
	if result.IsSuspicious {
		t.Error("capped score must stay below the suspicious threshold")
	}
}

func TestAnalyzeMissingIPSkipsLocationSignals(t *testing.T) {
	eng, _ := newTestEngine(testDetectionConfig(), &stubResolver{loc: nycLocation()})

	event := loginEvent("u1", "", "Mozilla/5.0", businessHour)
	result, _ := eng.AnalyzeActivity(context.Background(), event)

	for _, tag := range []models.ActivityType{
		models.ActivityNewLocation,
		models.ActivityUnknownLocation,
		models.ActivityGeolocationAnomaly,
		models.ActivityImpossibleTravel,
	} {
		if result.HasActivity(tag) {
			t.Errorf("missing IP must not produce %s", tag)
		}
	}
}

func TestAnalyzeUnresolvableIPFlagsUnknownLocation(t *testing.T) {
	eng, _ := newTestEngine(testDetectionConfig(), &stubResolver{err: fmt.Errorf("provider down")})

	event := loginEvent("u1", "198.51.100.10", "Mozilla/5.0", businessHour)
	result, _ := eng.AnalyzeActivity(context.Background(), event)

	if !result.HasActivity(models.ActivityUnknownLocation) {
		t.Error("unresolvable IP should flag unknown_location")
	}
}

func TestAnalyzeImpossibleTravel(t *testing.T) {
	resolver := &stubResolver{loc: nycLocation()}
	eng, store := newTestEngine(testDetectionConfig(), resolver)
	seedBaseline(store, "u1")

	// Thirty minutes after the last New York login, the same identity
	// appears in London: ~5570 km away, requiring >11000 km/h.
	resolver.loc = londonLocation()
	event := loginEvent("u1", "203.0.113.20", "Mozilla/5.0", businessHour.Add(30*time.Minute))
	result, _ := eng.AnalyzeActivity(context.Background(), event)

	if !result.HasActivity(models.ActivityNewLocation) {
		t.Error("expected new_location")
	}
	if !result.HasActivity(models.ActivityGeolocationAnomaly) {
		t.Error("expected geolocation_anomaly")
	}
	if !result.HasActivity(models.ActivityImpossibleTravel) {
		t.Error("expected impossible_travel")
	}
	// base 10 + new location 15 + distance cap 30 + impossible travel 40
	if result.RiskScore.Score != 95 {
		t.Errorf("score = %d, want 95", result.RiskScore.Score)
	}
	if result.RiskScore.Level != models.RiskCritical {
		t.Errorf("level = %s, want critical", result.RiskScore.Level)
	}
	if !result.IsSuspicious {
		t.Error("impossible travel should be suspicious")
	}

	wantRecs := []string{
		"Verify user location and consider requiring additional authentication",
		"Investigate potential account compromise - impossible travel detected",
		"CRITICAL: Consider immediate account lockout and investigation",
	}
	if len(result.Recommendations) != len(wantRecs) {
		t.Fatalf("recommendations = %v, want %v", result.Recommendations, wantRecs)
	}
	for i, want := range wantRecs {
		if result.Recommendations[i] != want {
			t.Errorf("recommendation[%d] = %q, want %q", i, result.Recommendations[i], want)
		}
	}
}

func TestAnalyzeSuspiciousUserAgent(t *testing.T) {
	eng, _ := newTestEngine(testDetectionConfig(), &stubResolver{loc: nycLocation()})

	event := loginEvent("u1", "198.51.100.10", "curl/8.5.0", businessHour)
	result, _ := eng.AnalyzeActivity(context.Background(), event)

	if !result.HasActivity(models.ActivitySuspiciousUserAgent) {
		t.Error("curl user agent should flag suspicious_user_agent")
	}
	if result.RiskFactors["device.suspicious_pattern"] != "curl" {
		t.Errorf("matched pattern = %v, want curl", result.RiskFactors["device.suspicious_pattern"])
	}
}

func TestAnalyzeRepeatedFailures(t *testing.T) {
	resolver := &stubResolver{loc: nycLocation()}
	eng, _ := newTestEngine(testDetectionConfig(), resolver)

	// First three failures seed the ring; the fourth crosses the threshold
	// because the analyzer counts the pre-update buffer.
	var result *models.ActivityAnalysisResult
	for i := 0; i < 4; i++ {
		event := loginEvent("u1", "198.51.100.10", "Mozilla/5.0", businessHour.Add(time.Duration(i)*10*time.Second))
		event.EventType = models.EventLoginFailure
		result, _ = eng.AnalyzeActivity(context.Background(), event)
		if i < 3 && result.HasActivity(models.ActivityRepeatedFailures) {
			t.Fatalf("failure %d should not yet flag repeated_failures", i+1)
		}
	}
	if !result.HasActivity(models.ActivityRepeatedFailures) {
		t.Error("fourth rapid failure should flag repeated_failures")
	}
}

func TestAnalyzeMatureKnownActivityStaysLow(t *testing.T) {
	resolver := &stubResolver{loc: nycLocation()}
	eng, store := newTestEngine(testDetectionConfig(), resolver)
	seedBaseline(store, "u1")

	event := loginEvent("u1", "198.51.100.10", "Mozilla/5.0", businessHour.Add(30*time.Minute))
	result, _ := eng.AnalyzeActivity(context.Background(), event)

	if result.RiskScore.Score != 10 {
		t.Errorf("score = %d, want base score 10 for fully known activity", result.RiskScore.Score)
	}
	if result.IsSuspicious {
		t.Error("known activity must not be suspicious")
	}
	if result.RiskScore.Confidence < 0.3 {
		t.Errorf("confidence = %v, want >= 0.3 for mature baseline", result.RiskScore.Confidence)
	}
}

func TestConfidenceProgression(t *testing.T) {
	eng, _ := newTestEngine(testDetectionConfig(), &stubResolver{loc: nycLocation()})

	tests := []struct {
		name         string
		totalLogins  int
		insufficient bool
		min, max     float64
	}{
		{"empty baseline", 0, true, 0.05, 0.05},
		{"half baseline", 5, true, 0.125, 0.125},
		{"just mature", 10, false, 0.3, 0.3},
		{"growing", 35, false, 0.65, 0.65},
		{"saturated", 500, false, 1.0, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eng.confidence(tt.totalLogins, tt.insufficient)
			if got < tt.min-1e-9 || got > tt.max+1e-9 {
				t.Errorf("confidence(%d, %v) = %v, want %v", tt.totalLogins, tt.insufficient, got, tt.min)
			}
		})
	}
}

func TestEngineStatsCounters(t *testing.T) {
	eng, _ := newTestEngine(testDetectionConfig(), &stubResolver{loc: nycLocation()})

	for i := 0; i < 3; i++ {
		event := loginEvent("u1", "198.51.100.10", "Mozilla/5.0", businessHour.Add(time.Duration(i)*time.Minute))
		eng.AnalyzeActivity(context.Background(), event)
	}

	stats := eng.Stats()
	if analyzed := stats["events_analyzed"].(int64); analyzed != 3 {
		t.Errorf("events_analyzed = %d, want 3", analyzed)
	}
	if tracked := stats["tracked_identities"].(int); tracked != 1 {
		t.Errorf("tracked_identities = %d, want 1", tracked)
	}
}

// Exercises the per-identity serialization of analysis and baseline update.
// Run with -race: analyzer reads of the baseline maps and Update's writes
// for one identity must never interleave across goroutines.
func TestAnalyzeActivityConcurrentSameIdentity(t *testing.T) {
	eng, store := newTestEngine(testDetectionConfig(), &stubResolver{loc: nycLocation()})

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ts := businessHour.Add(time.Duration(w*perWorker+i) * time.Second)
				event := loginEvent("carol", "198.51.100.10", fmt.Sprintf("agent-%d-%d", w, i), ts)
				result, err := eng.AnalyzeActivity(context.Background(), event)
				if err != nil || result == nil {
					t.Errorf("AnalyzeActivity: result=%v err=%v", result, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	pattern, ok := store.Get("user:carol")
	if !ok {
		t.Fatal("baseline missing after concurrent ingest")
	}
	if pattern.TotalLogins != workers*perWorker {
		t.Errorf("TotalLogins = %d, want %d", pattern.TotalLogins, workers*perWorker)
	}
	if len(pattern.UserAgentHashes) != workers*perWorker {
		t.Errorf("distinct user agents = %d, want %d", len(pattern.UserAgentHashes), workers*perWorker)
	}
	if analyzed := eng.Stats()["events_analyzed"].(int64); analyzed != workers*perWorker {
		t.Errorf("events_analyzed = %d, want %d", analyzed, workers*perWorker)
	}
}
