package engine

import (
	"context"

	"security-monitor/internal/models"
)

// Signal is one analyzer's contribution to an analysis pass. Deltas
// accumulate across analyzers; the aggregator clamps the total.
type Signal struct {
	RiskDelta int
	Tags      []models.ActivityType
	// Factors carry namespaced raw sub-values for audit/explainability.
	// Key collisions merge last-write-wins, so analyzers prefix their keys.
	Factors map[string]interface{}
	// Details is the analyzer's own detail map surfaced on the result.
	Details map[string]interface{}
}

func newSignal() *Signal {
	return &Signal{
		Factors: make(map[string]interface{}),
		Details: make(map[string]interface{}),
	}
}

func (s *Signal) addTag(tag models.ActivityType) {
	s.Tags = append(s.Tags, tag)
}

// SignalAnalyzer inspects one event against the identity's pre-update
// baseline. Implementations must not mutate the event or the pattern.
type SignalAnalyzer interface {
	Name() string
	Analyze(ctx context.Context, event *models.SecurityEvent, pattern *models.UserPattern) (*Signal, error)
}
