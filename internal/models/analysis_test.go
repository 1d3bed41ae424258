package models

import (
	"testing"
	"time"
)

func TestLevelForScoreBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskLow},
		{39, RiskLow},
		{40, RiskMedium},
		{59, RiskMedium},
		{60, RiskHigh},
		{79, RiskHigh},
		{80, RiskCritical},
		{100, RiskCritical},
	}
	for _, tt := range tests {
		if got := LevelForScore(tt.score); got != tt.want {
			t.Errorf("LevelForScore(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestNewRiskScoreClamps(t *testing.T) {
	if rs := NewRiskScore(-10, nil, 0.5); rs.Score != 0 || rs.Level != RiskLow {
		t.Errorf("negative score: got %d/%s, want 0/low", rs.Score, rs.Level)
	}
	if rs := NewRiskScore(150, nil, 0.5); rs.Score != 100 || rs.Level != RiskCritical {
		t.Errorf("oversized score: got %d/%s, want 100/critical", rs.Score, rs.Level)
	}
	if rs := NewRiskScore(50, nil, -0.2); rs.Confidence != 0 {
		t.Errorf("negative confidence = %v, want 0", rs.Confidence)
	}
	if rs := NewRiskScore(50, nil, 1.7); rs.Confidence != 1 {
		t.Errorf("oversized confidence = %v, want 1", rs.Confidence)
	}
}

func TestHasActivity(t *testing.T) {
	result := &ActivityAnalysisResult{
		DetectedActivities: []ActivityType{ActivityNewLocation, ActivityOffHoursAccess},
	}
	if !result.HasActivity(ActivityNewLocation) {
		t.Error("HasActivity should find a present tag")
	}
	if result.HasActivity(ActivityImpossibleTravel) {
		t.Error("HasActivity should miss an absent tag")
	}
}

func TestUserPatternRememberLocation(t *testing.T) {
	pattern := NewUserPattern("user:u1", time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))
	loc := &LocationData{LocationHash: "h-nyc", Latitude: 40.71, Longitude: -74.0, Country: "US", City: "New York"}

	pattern.RememberLocation(loc)
	if got := pattern.KnownLocationData(); len(got) != 0 {
		t.Errorf("unknown hash should not surface, got %d entries", len(got))
	}

	pattern.KnownLocations["h-nyc"] = struct{}{}
	got := pattern.KnownLocationData()
	if len(got) != 1 || got[0].City != "New York" {
		t.Errorf("KnownLocationData = %v, want the NYC entry", got)
	}

	pattern.RememberLocation(nil)
	pattern.RememberLocation(&LocationData{})
	if len(pattern.KnownLocationData()) != 1 {
		t.Error("nil and hashless locations should be ignored")
	}
}
