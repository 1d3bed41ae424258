package engine

import (
	"context"
	"math"
	"time"

	"security-monitor/internal/config"
	"security-monitor/internal/models"
)

// BehaviorAnalyzer scores activity-shape anomalies: dormant accounts waking
// up, bursts of events inside the velocity window, and repeated
// authentication failures. It reads only the pre-update ring buffers; the
// pattern store appends the current event afterwards.
type BehaviorAnalyzer struct {
	cfg *config.DetectionConfig
}

func NewBehaviorAnalyzer(cfg *config.DetectionConfig) *BehaviorAnalyzer {
	return &BehaviorAnalyzer{cfg: cfg}
}

func (a *BehaviorAnalyzer) Name() string { return "behavioral" }

func (a *BehaviorAnalyzer) Analyze(ctx context.Context, event *models.SecurityEvent, pattern *models.UserPattern) (*Signal, error) {
	signal := newSignal()
	ts := event.Timestamp

	if !pattern.LastActivityTime.IsZero() {
		gap := ts.Sub(pattern.LastActivityTime)
		if gap > a.cfg.DormantAccountThreshold {
			inactiveDays := int(gap.Hours() / 24)
			delta := int(math.Min(30, float64(inactiveDays/30*10)))
			signal.addTag(models.ActivityDormantAccount)
			signal.RiskDelta += delta
			signal.Factors["behavioral.inactive_days"] = inactiveDays
			signal.Details["inactive_days"] = inactiveDays
		}
	}

	recentHour := countSince(pattern.RecentActivity, ts.Add(-time.Hour))
	signal.Details["events_last_hour"] = recentHour
	if recentHour > a.cfg.VelocityHourlyLimit {
		signal.addTag(models.ActivityVelocityAnomaly)
		signal.RiskDelta += 20
		signal.Factors["behavioral.events_last_hour"] = recentHour
	}

	if event.EventType == models.EventLoginFailure {
		recentFailures := countSince(pattern.RecentFailures, ts.Add(-a.cfg.FailureWindow))
		signal.Details["recent_failures"] = recentFailures
		if recentFailures >= a.cfg.FailureThreshold {
			signal.addTag(models.ActivityRepeatedFailures)
			signal.RiskDelta += 15
			signal.Factors["behavioral.recent_failures"] = recentFailures
		}
	}

	return signal, nil
}

func countSince(ring []time.Time, cutoff time.Time) int {
	count := 0
	for _, ts := range ring {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}
