package engine

import (
	"context"
	"testing"
	"time"

	"security-monitor/internal/models"
)

func TestBehaviorAnalyzerDormantAccount(t *testing.T) {
	cfg := testDetectionConfig()
	cfg.DormantAccountThreshold = 30 * 24 * time.Hour
	analyzer := NewBehaviorAnalyzer(cfg)

	tests := []struct {
		name      string
		gapDays   int
		wantDelta int
		wantTag   bool
	}{
		{"recently active", 20, 0, false},
		{"one month idle", 35, 10, true},
		{"two months idle", 65, 20, true},
		{"three months idle", 100, 30, true},
		{"delta capped", 400, 30, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := businessHour
			pattern := models.NewUserPattern("user:u1", ts.AddDate(-1, 0, 0))
			pattern.LastActivityTime = ts.AddDate(0, 0, -tt.gapDays)

			event := loginEvent("u1", "", "Mozilla/5.0", ts)
			signal, err := analyzer.Analyze(context.Background(), event, pattern)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if signal.RiskDelta != tt.wantDelta {
				t.Errorf("RiskDelta = %d, want %d", signal.RiskDelta, tt.wantDelta)
			}
			if got := signalHasTag(signal, models.ActivityDormantAccount); got != tt.wantTag {
				t.Errorf("dormant_account_activation tag = %v, want %v", got, tt.wantTag)
			}
		})
	}
}

func TestBehaviorAnalyzerVelocity(t *testing.T) {
	analyzer := NewBehaviorAnalyzer(testDetectionConfig())
	ts := businessHour

	ringOf := func(n int) []time.Time {
		ring := make([]time.Time, 0, n)
		for i := 1; i <= n; i++ {
			ring = append(ring, ts.Add(-time.Duration(i)*time.Minute))
		}
		return ring
	}

	// At the hourly limit: quiet.
	pattern := models.NewUserPattern("user:u1", ts.AddDate(0, 0, -30))
	pattern.LastActivityTime = ts.Add(-time.Minute)
	pattern.RecentActivity = ringOf(50)

	event := loginEvent("u1", "", "Mozilla/5.0", ts)
	signal, err := analyzer.Analyze(context.Background(), event, pattern)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if signal.RiskDelta != 0 || signalHasTag(signal, models.ActivityVelocityAnomaly) {
		t.Errorf("50 events/hour should not fire, got delta %d tags %v", signal.RiskDelta, signal.Tags)
	}

	// One past the limit: velocity anomaly.
	pattern.RecentActivity = ringOf(51)
	signal, err = analyzer.Analyze(context.Background(), event, pattern)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !signalHasTag(signal, models.ActivityVelocityAnomaly) {
		t.Error("51 events/hour should tag velocity_anomaly")
	}
	if signal.RiskDelta != 20 {
		t.Errorf("RiskDelta = %d, want 20", signal.RiskDelta)
	}

	// Activity older than an hour does not count against the window.
	stale := make([]time.Time, 0, 60)
	for i := 0; i < 60; i++ {
		stale = append(stale, ts.Add(-2*time.Hour))
	}
	pattern.RecentActivity = stale
	signal, err = analyzer.Analyze(context.Background(), event, pattern)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if signalHasTag(signal, models.ActivityVelocityAnomaly) {
		t.Error("stale activity should not fire the velocity check")
	}
}
