package engine

import (
	"context"
	"fmt"
	"testing"

	"security-monitor/internal/models"
)

func rotatingPattern(distinct, totalLogins int) *models.UserPattern {
	pattern := models.NewUserPattern("user:u1", businessHour.AddDate(0, 0, -30))
	pattern.TotalLogins = totalLogins
	for i := 0; i < distinct; i++ {
		pattern.UserAgentHashes[fmt.Sprintf("ua-agent-%d", i)] = struct{}{}
	}
	return pattern
}

func TestUserAgentAnalyzerRotation(t *testing.T) {
	analyzer := NewUserAgentAnalyzer(stubHasher{}, testDetectionConfig())

	// 11 distinct agents over 20 logins: rotation fires. The current agent
	// is already known, so the delta is the rotation contribution alone.
	pattern := rotatingPattern(11, 20)
	event := loginEvent("u1", "", "agent-0", businessHour)

	signal, err := analyzer.Analyze(context.Background(), event, pattern)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !signalHasTag(signal, models.ActivityUserAgentRotation) {
		t.Error("11 agents at ratio 0.55 should tag user_agent_rotation")
	}
	if signalHasTag(signal, models.ActivityNewUserAgent) {
		t.Error("known agent should not tag new_user_agent")
	}
	if signal.RiskDelta != 25 {
		t.Errorf("RiskDelta = %d, want 25", signal.RiskDelta)
	}
}

func TestUserAgentAnalyzerRotationThresholds(t *testing.T) {
	analyzer := NewUserAgentAnalyzer(stubHasher{}, testDetectionConfig())
	event := loginEvent("u1", "", "agent-0", businessHour)

	tests := []struct {
		name        string
		distinct    int
		totalLogins int
		wantFire    bool
	}{
		{"too few distinct agents", 10, 12, false},
		{"ratio at the boundary", 11, 22, false},
		{"ratio above the boundary", 11, 20, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern := rotatingPattern(tt.distinct, tt.totalLogins)
			signal, err := analyzer.Analyze(context.Background(), event, pattern)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if got := signalHasTag(signal, models.ActivityUserAgentRotation); got != tt.wantFire {
				t.Errorf("user_agent_rotation = %v, want %v", got, tt.wantFire)
			}
		})
	}
}

func TestUserAgentAnalyzerEmptyAgent(t *testing.T) {
	analyzer := NewUserAgentAnalyzer(stubHasher{}, testDetectionConfig())
	pattern := rotatingPattern(11, 20)

	event := loginEvent("u1", "", "", businessHour)
	signal, err := analyzer.Analyze(context.Background(), event, pattern)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if signal.RiskDelta != 0 || len(signal.Tags) != 0 {
		t.Errorf("missing agent should be neutral, got delta %d tags %v", signal.RiskDelta, signal.Tags)
	}
}
