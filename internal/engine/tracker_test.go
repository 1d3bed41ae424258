package engine

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"security-monitor/internal/config"
	"security-monitor/internal/models"
)

func testTrackerConfig() *config.TrackerConfig {
	return &config.TrackerConfig{
		Sensitivity:      0.7,
		CleanupInterval:  30 * time.Second,
		LogRetention:     time.Hour,
		DecayFactor:      0.95,
		LearningEnabled:  false,
		LearningMaxFires: 100,
		CriticalWeight:   10,
		WarningWeight:    2,
		DefaultWeight:    1,
	}
}

func trackerEvent(eventType models.EventType, userID string, riskScore int, ts time.Time) *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:        "evt-tracker",
		EventType: eventType,
		UserID:    userID,
		RiskScore: riskScore,
		Timestamp: ts,
	}
}

func TestTrackerBruteForceDetection(t *testing.T) {
	tracker := NewSuspicionTracker(testTrackerConfig(), zap.NewNop())
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	// Sensitivity 0.7 lowers the brute-force threshold of 5 to an
	// effective 4; the fourth rapid failure is the first to fire.
	var result *TrackerResult
	for i := 0; i < 6; i++ {
		event := trackerEvent(models.EventLoginFailure, "victim", 10, base.Add(time.Duration(i)*time.Second))
		result = tracker.Observe(event)
		fired := containsPattern(result.DetectedPatterns, "brute_force")
		if i < 3 && fired {
			t.Fatalf("failure %d fired brute_force too early", i+1)
		}
		if i >= 3 && !fired {
			t.Fatalf("failure %d should fire brute_force", i+1)
		}
	}

	// Three critical detections at weight 10 each.
	if result.Score != 30 {
		t.Errorf("score = %v, want 30", result.Score)
	}
	if result.IsSuspicious {
		t.Error("score 30 is below the 70-point suspicion threshold")
	}
}

func TestTrackerSuspicionThreshold(t *testing.T) {
	tracker := NewSuspicionTracker(testTrackerConfig(), zap.NewNop())
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	var result *TrackerResult
	for i := 0; i < 11; i++ {
		event := trackerEvent(models.EventLoginFailure, "victim", 10, base.Add(time.Duration(i)*time.Second))
		result = tracker.Observe(event)
	}

	if !result.IsSuspicious {
		t.Errorf("11 rapid failures should mark the entity suspicious, score = %v", result.Score)
	}
	entities := tracker.SuspiciousEntities()
	if len(entities) != 1 || entities[0] != "user:victim" {
		t.Errorf("SuspiciousEntities = %v, want [user:victim]", entities)
	}
}

func TestTrackerPrivilegeEscalation(t *testing.T) {
	cfg := testTrackerConfig()
	cfg.Sensitivity = 0.5 // effective threshold = 3
	tracker := NewSuspicionTracker(cfg, zap.NewNop())
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	var result *TrackerResult
	for i := 0; i < 3; i++ {
		event := trackerEvent(models.EventPermissionChange, "admin-wannabe", 20, base.Add(time.Duration(i)*time.Minute))
		result = tracker.Observe(event)
	}
	if !containsPattern(result.DetectedPatterns, "privilege_escalation") {
		t.Errorf("third permission change should fire privilege_escalation, got %v", result.DetectedPatterns)
	}
}

func TestTrackerAccountTakeoverDeviation(t *testing.T) {
	tracker := NewSuspicionTracker(testTrackerConfig(), zap.NewNop())
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	// Ten quiet data-access events build the history; the deviation check
	// needs at least ten prior events.
	for i := 0; i < 10; i++ {
		tracker.Observe(trackerEvent(models.EventDataAccess, "u1", 5, base.Add(time.Duration(i)*time.Minute)))
	}

	spike := trackerEvent(models.EventDataAccess, "u1", 90, base.Add(11*time.Minute))
	result := tracker.Observe(spike)
	if !containsPattern(result.DetectedPatterns, "account_takeover") {
		t.Errorf("risk spike of 85 over a flat history should fire account_takeover, got %v", result.DetectedPatterns)
	}
}

func TestTrackerMaintenanceDecayAndPrune(t *testing.T) {
	cfg := testTrackerConfig()
	cfg.DecayFactor = 0.5
	tracker := NewSuspicionTracker(cfg, zap.NewNop())
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		tracker.Observe(trackerEvent(models.EventLoginFailure, "victim", 10, base.Add(time.Duration(i)*time.Second)))
	}
	score, ok := tracker.EntityScore("user:victim")
	if !ok || score != 20 {
		t.Fatalf("score = %v (%v), want 20 before decay", score, ok)
	}

	tracker.runMaintenance(base.Add(10 * time.Second))
	score, ok = tracker.EntityScore("user:victim")
	if !ok || score != 10 {
		t.Fatalf("score = %v (%v), want 10 after one decay pass", score, ok)
	}

	// Four more passes decay 10 -> 0.625, dropping below the 1.0 floor.
	for i := 0; i < 4; i++ {
		tracker.runMaintenance(base.Add(time.Duration(11+i) * time.Second))
	}
	if _, ok := tracker.EntityScore("user:victim"); ok {
		t.Error("fully decayed entity should be dropped from scoring")
	}

	// Activity older than the retention window is pruned entirely.
	tracker.runMaintenance(base.Add(2 * time.Hour))
	stats := tracker.Stats()
	if tracked := stats["tracked_entities"].(int); tracked != 0 {
		t.Errorf("tracked_entities = %d, want 0 after retention prune", tracked)
	}
}

func TestTrackerLearningModeRelaxesThresholds(t *testing.T) {
	cfg := testTrackerConfig()
	cfg.LearningEnabled = true
	cfg.LearningMaxFires = 2
	tracker := NewSuspicionTracker(cfg, zap.NewNop())
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	// Effective threshold 4: failures 4..7 fire, exceeding the learning cap.
	for i := 0; i < 7; i++ {
		tracker.Observe(trackerEvent(models.EventLoginFailure, "noisy", 10, base.Add(time.Duration(i)*time.Second)))
	}

	tracker.runMaintenance(base.Add(10 * time.Second))

	var bruteForce *ActivityPattern
	for _, pattern := range tracker.patterns {
		if pattern.Name == "brute_force" {
			bruteForce = pattern
		}
	}
	if bruteForce == nil {
		t.Fatal("brute_force pattern missing")
	}
	if bruteForce.Threshold != 7.5 {
		t.Errorf("threshold = %v, want 7.5 after relaxation", bruteForce.Threshold)
	}
	if tracker.detectionCount["brute_force"] != 0 {
		t.Errorf("detection counter = %d, want 0 after reset", tracker.detectionCount["brute_force"])
	}
}

func TestTrackerEntityKeyFallback(t *testing.T) {
	tracker := NewSuspicionTracker(testTrackerConfig(), zap.NewNop())
	ts := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		event *models.SecurityEvent
		want  string
	}{
		{"user wins", &models.SecurityEvent{EventType: models.EventDataAccess, UserID: "u1", IPAddress: "1.2.3.4", Timestamp: ts}, "user:u1"},
		{"ip next", &models.SecurityEvent{EventType: models.EventDataAccess, IPAddress: "1.2.3.4", SessionID: "s1", Timestamp: ts}, "ip:1.2.3.4"},
		{"session next", &models.SecurityEvent{EventType: models.EventDataAccess, SessionID: "s1", Timestamp: ts}, "session:s1"},
		{"unknown last", &models.SecurityEvent{EventType: models.EventDataAccess, Timestamp: ts}, "session:unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tracker.Observe(tt.event)
			if result.EntityKey != tt.want {
				t.Errorf("EntityKey = %q, want %q", result.EntityKey, tt.want)
			}
		})
	}
}

func containsPattern(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}
	}
	return false
}
