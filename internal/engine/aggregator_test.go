package engine

import (
	"testing"
	"time"

	"security-monitor/internal/models"
)

func aggregatorEvent() *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:        "evt-agg",
		EventType: models.EventLoginSuccess,
		UserID:    "u1",
		Timestamp: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func signalWith(delta int, tags ...models.ActivityType) *Signal {
	s := newSignal()
	s.RiskDelta = delta
	for _, tag := range tags {
		s.addTag(tag)
	}
	return s
}

func TestAggregateScoreClampingAndLevels(t *testing.T) {
	tests := []struct {
		name      string
		delta     int
		wantScore int
		wantLevel models.RiskLevel
		wantSusp  bool
	}{
		{"low", 10, 20, models.RiskLow, false},
		{"medium", 35, 45, models.RiskMedium, true},
		{"high", 55, 65, models.RiskHigh, true},
		{"critical", 75, 85, models.RiskCritical, true},
		{"clamped to max", 300, 100, models.RiskCritical, true},
		{"clamped to zero", -50, 0, models.RiskLow, false},
	}

	ag := NewRiskAggregator(testDetectionConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals := map[string]*Signal{"location": signalWith(tt.delta)}
			result := ag.Aggregate(aggregatorEvent(), signals, 0.9, false)
			if result.RiskScore.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", result.RiskScore.Score, tt.wantScore)
			}
			if result.RiskScore.Level != tt.wantLevel {
				t.Errorf("level = %s, want %s", result.RiskScore.Level, tt.wantLevel)
			}
			if result.IsSuspicious != tt.wantSusp {
				t.Errorf("IsSuspicious = %v, want %v", result.IsSuspicious, tt.wantSusp)
			}
		})
	}
}

func TestAggregateRecommendationStrings(t *testing.T) {
	ag := NewRiskAggregator(testDetectionConfig())

	signals := map[string]*Signal{
		"location": signalWith(60,
			models.ActivityGeolocationAnomaly,
			models.ActivityImpossibleTravel,
		),
		"device": signalWith(35, models.ActivitySuspiciousUserAgent),
		"time":   signalWith(10, models.ActivityOffHoursAccess),
		"behavioral": signalWith(30,
			models.ActivityVelocityAnomaly,
			models.ActivityDormantAccount,
		),
	}

	result := ag.Aggregate(aggregatorEvent(), signals, 0.9, false)

	want := []string{
		"Verify user location and consider requiring additional authentication",
		"Investigate potential account compromise - impossible travel detected",
		"Block or monitor automated tool usage",
		"Consider implementing time-based access controls",
		"Implement rate limiting and monitor for automated attacks",
		"Require account verification after extended inactivity",
		"CRITICAL: Consider immediate account lockout and investigation",
	}
	if len(result.Recommendations) != len(want) {
		t.Fatalf("got %d recommendations, want %d: %v", len(result.Recommendations), len(want), result.Recommendations)
	}
	for i, msg := range want {
		if result.Recommendations[i] != msg {
			t.Errorf("recommendation[%d] = %q, want %q", i, result.Recommendations[i], msg)
		}
	}
}

func TestAggregateInsufficientBaselineCap(t *testing.T) {
	ag := NewRiskAggregator(testDetectionConfig())

	signals := map[string]*Signal{
		"location": signalWith(50, models.ActivityNewLocation),
	}
	result := ag.Aggregate(aggregatorEvent(), signals, 0.1, true)

	if result.RiskScore.Score != 15 {
		t.Errorf("score = %d, want 15", result.RiskScore.Score)
	}
	if !result.HasActivity(models.ActivityInsufficientBaseline) {
		t.Error("insufficient_baseline tag missing")
	}
	if raw := result.RiskFactors["aggregate.raw_score"]; raw != 60 {
		t.Errorf("aggregate.raw_score = %v, want 60", raw)
	}
	if result.IsSuspicious {
		t.Error("capped result must not be suspicious")
	}
}

func TestAggregatePreservesAnalyzerOrderAndDeltas(t *testing.T) {
	ag := NewRiskAggregator(testDetectionConfig())

	locSignal := signalWith(15, models.ActivityNewLocation)
	devSignal := signalWith(10, models.ActivityNewUserAgent)
	signals := map[string]*Signal{
		"device":   devSignal,
		"location": locSignal,
	}

	result := ag.Aggregate(aggregatorEvent(), signals, 0.5, false)

	// Location precedes device in the fixed fold order regardless of map
	// iteration order.
	if len(result.DetectedActivities) != 2 ||
		result.DetectedActivities[0] != models.ActivityNewLocation ||
		result.DetectedActivities[1] != models.ActivityNewUserAgent {
		t.Errorf("DetectedActivities = %v, want [new_location new_user_agent]", result.DetectedActivities)
	}
	if result.RiskFactors["location.risk_delta"] != 15 {
		t.Errorf("location.risk_delta = %v, want 15", result.RiskFactors["location.risk_delta"])
	}
	if result.RiskFactors["device.risk_delta"] != 10 {
		t.Errorf("device.risk_delta = %v, want 10", result.RiskFactors["device.risk_delta"])
	}
	if result.RiskScore.Score != 35 {
		t.Errorf("score = %d, want 35", result.RiskScore.Score)
	}
}
