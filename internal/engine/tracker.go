package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"security-monitor/internal/config"
	"security-monitor/internal/models"
	"security-monitor/internal/util"
)

// ActivityPattern is a named frequency rule: fire when at least
// threshold*(1.5-sensitivity) matching events land inside the window.
// Higher sensitivity lowers the effective threshold.
type ActivityPattern struct {
	Name       string
	Severity   models.EventSeverity
	Threshold  float64
	Window     time.Duration
	EventTypes []models.EventType // empty matches every event type
}

// DefaultActivityPatterns returns the built-in rule set.
func DefaultActivityPatterns() []*ActivityPattern {
	return []*ActivityPattern{
		{Name: "brute_force", Severity: models.SeverityCritical, Threshold: 5, Window: 60 * time.Second,
			EventTypes: []models.EventType{models.EventLoginFailure}},
		{Name: "credential_stuffing", Severity: models.SeverityCritical, Threshold: 10, Window: 120 * time.Second,
			EventTypes: []models.EventType{models.EventLoginFailure}},
		{Name: "privilege_escalation", Severity: models.SeverityCritical, Threshold: 3, Window: 300 * time.Second,
			EventTypes: []models.EventType{models.EventPermissionChange}},
		{Name: "api_abuse", Severity: models.SeverityWarning, Threshold: 100, Window: 60 * time.Second},
		{Name: "geo_anomaly", Severity: models.SeverityWarning, Threshold: 1, Window: time.Hour,
			EventTypes: []models.EventType{models.EventSuspiciousActivity}},
		{Name: "time_anomaly", Severity: models.SeverityWarning, Threshold: 5, Window: time.Hour,
			EventTypes: []models.EventType{models.EventLoginSuccess, models.EventServiceTokenAuth}},
	}
}

type trackedEvent struct {
	timestamp time.Time
	eventType models.EventType
	riskScore int
}

// TrackerResult is the outcome of one Observe call.
type TrackerResult struct {
	EntityKey        string   `json:"entity_key"`
	DetectedPatterns []string `json:"detected_patterns,omitempty"`
	Score            float64  `json:"score"`
	IsSuspicious     bool     `json:"is_suspicious"`
}

// SuspicionTracker is the lightweight frequency-counting detector. Each
// entity (user, IP, or session) accumulates a suspicion score from matched
// patterns; a background loop prunes stale activity and decays scores.
type SuspicionTracker struct {
	cfg      *config.TrackerConfig
	patterns []*ActivityPattern
	logger   *zap.Logger

	mu             sync.Mutex
	activityLog    map[string][]trackedEvent
	scores         map[string]float64
	suspicious     map[string]struct{}
	detectionCount map[string]int
}

func NewSuspicionTracker(cfg *config.TrackerConfig, logger *zap.Logger) *SuspicionTracker {
	return &SuspicionTracker{
		cfg:            cfg,
		patterns:       DefaultActivityPatterns(),
		logger:         logger,
		activityLog:    make(map[string][]trackedEvent),
		scores:         make(map[string]float64),
		suspicious:     make(map[string]struct{}),
		detectionCount: make(map[string]int),
	}
}

// Observe folds one event into the entity's rolling log, tests every
// applicable pattern, and updates the entity's suspicion score.
func (t *SuspicionTracker) Observe(event *models.SecurityEvent) *TrackerResult {
	entityKey := event.IdentityKey()
	now := event.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	log := append(t.activityLog[entityKey], trackedEvent{
		timestamp: now,
		eventType: event.EventType,
		riskScore: event.RiskScore,
	})
	t.activityLog[entityKey] = log

	var detected []string
	for _, pattern := range t.patterns {
		if !pattern.applies(event.EventType) {
			continue
		}
		effective := pattern.Threshold * (1.5 - t.cfg.Sensitivity)
		count := 0
		cutoff := now.Add(-pattern.Window)
		for _, entry := range log {
			if entry.timestamp.After(cutoff) && pattern.applies(entry.eventType) {
				count++
			}
		}
		if float64(count) >= effective {
			detected = append(detected, pattern.Name)
			t.detectionCount[pattern.Name]++
		}
	}

	if name := t.checkBehavioralDeviation(log, event); name != "" {
		detected = append(detected, name)
	}

	for _, name := range detected {
		t.scores[entityKey] += t.weightFor(name)
	}

	score := t.scores[entityKey]
	if score > t.cfg.Sensitivity*100 {
		if _, already := t.suspicious[entityKey]; !already {
			t.suspicious[entityKey] = struct{}{}
			t.logger.Warn("Entity marked suspicious",
				util.String("entity", entityKey),
				zap.Float64("score", score),
			)
		}
	}

	_, isSuspicious := t.suspicious[entityKey]
	return &TrackerResult{
		EntityKey:        entityKey,
		DetectedPatterns: detected,
		Score:            score,
		IsSuspicious:     isSuspicious,
	}
}

// checkBehavioralDeviation compares the event's advisory risk score with the
// mean of the entity's last ten events.
func (t *SuspicionTracker) checkBehavioralDeviation(log []trackedEvent, event *models.SecurityEvent) string {
	// The current event is already appended; history excludes it.
	history := log[:len(log)-1]
	if len(history) < 10 {
		return ""
	}
	recent := history[len(history)-10:]
	sum := 0
	for _, entry := range recent {
		sum += entry.riskScore
	}
	mean := float64(sum) / float64(len(recent))
	deviation := float64(event.RiskScore) - mean
	if deviation < 0 {
		deviation = -deviation
	}
	if deviation > 30*t.cfg.Sensitivity {
		return "account_takeover"
	}
	return ""
}

func (t *SuspicionTracker) weightFor(patternName string) float64 {
	for _, pattern := range t.patterns {
		if pattern.Name == patternName {
			switch pattern.Severity {
			case models.SeverityCritical:
				return t.cfg.CriticalWeight
			case models.SeverityWarning:
				return t.cfg.WarningWeight
			}
			return t.cfg.DefaultWeight
		}
	}
	return t.cfg.DefaultWeight
}

// Start launches the maintenance loop; it stops when ctx is cancelled.
func (t *SuspicionTracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.runMaintenance(time.Now().UTC())
			}
		}
	}()
}

// runMaintenance prunes old log entries, decays scores, drops cold
// entities, and applies learning-mode threshold tuning.
func (t *SuspicionTracker) runMaintenance(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.cfg.LogRetention)
	for key, log := range t.activityLog {
		kept := log[:0]
		for _, entry := range log {
			if entry.timestamp.After(cutoff) {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			delete(t.activityLog, key)
		} else {
			t.activityLog[key] = kept
		}
	}

	for key := range t.scores {
		t.scores[key] *= t.cfg.DecayFactor
		if t.scores[key] < 1.0 {
			delete(t.scores, key)
			delete(t.suspicious, key)
		}
	}

	if t.cfg.LearningEnabled {
		t.tuneThresholds()
	}
}

// tuneThresholds relaxes patterns that fire excessively, self-tuning the
// false-positive rate.
func (t *SuspicionTracker) tuneThresholds() {
	for _, pattern := range t.patterns {
		fires := t.detectionCount[pattern.Name]
		if fires > t.cfg.LearningMaxFires {
			old := pattern.Threshold
			pattern.Threshold *= 1.5
			t.detectionCount[pattern.Name] = 0
			t.logger.Info("Relaxed noisy pattern threshold",
				util.String("pattern", pattern.Name),
				zap.Float64("old_threshold", old),
				zap.Float64("new_threshold", pattern.Threshold),
			)
		}
	}
}

// SuspiciousEntities returns the entities currently above threshold.
func (t *SuspicionTracker) SuspiciousEntities() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.suspicious))
	for key := range t.suspicious {
		out = append(out, key)
	}
	return out
}

// EntityScore returns the current suspicion score for an entity.
func (t *SuspicionTracker) EntityScore(entityKey string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	score, ok := t.scores[entityKey]
	return score, ok
}

// Stats reports tracker counters for the dashboard endpoint.
func (t *SuspicionTracker) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	detections := make(map[string]int, len(t.detectionCount))
	for name, count := range t.detectionCount {
		detections[name] = count
	}
	return map[string]interface{}{
		"tracked_entities":    len(t.activityLog),
		"scored_entities":     len(t.scores),
		"suspicious_entities": len(t.suspicious),
		"pattern_detections":  detections,
	}
}

func (p *ActivityPattern) applies(eventType models.EventType) bool {
	if len(p.EventTypes) == 0 {
		return true
	}
	for _, t := range p.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}
