package engine

import (
	"time"

	"security-monitor/internal/config"
	"security-monitor/internal/models"
)

// Recommendation text is part of the external contract; downstream
// consumers match on these exact strings.
const (
	recGeolocationAnomaly = "Verify user location and consider requiring additional authentication"
	recImpossibleTravel   = "Investigate potential account compromise - impossible travel detected"
	recSuspiciousAgent    = "Block or monitor automated tool usage"
	recOffHoursAccess     = "Consider implementing time-based access controls"
	recVelocityAnomaly    = "Implement rate limiting and monitor for automated attacks"
	recDormantAccount     = "Require account verification after extended inactivity"
	recCriticalLockout    = "CRITICAL: Consider immediate account lockout and investigation"
)

var recommendationByTag = map[models.ActivityType]string{
	models.ActivityGeolocationAnomaly:  recGeolocationAnomaly,
	models.ActivityImpossibleTravel:    recImpossibleTravel,
	models.ActivitySuspiciousUserAgent: recSuspiciousAgent,
	models.ActivityOffHoursAccess:      recOffHoursAccess,
	models.ActivityVelocityAnomaly:     recVelocityAnomaly,
	models.ActivityDormantAccount:      recDormantAccount,
}

// recommendationOrder fixes the output ordering of tag-driven messages.
var recommendationOrder = []models.ActivityType{
	models.ActivityGeolocationAnomaly,
	models.ActivityImpossibleTravel,
	models.ActivitySuspiciousUserAgent,
	models.ActivityOffHoursAccess,
	models.ActivityVelocityAnomaly,
	models.ActivityDormantAccount,
}

// RiskAggregator merges analyzer signals into one bounded, classified score.
type RiskAggregator struct {
	cfg *config.DetectionConfig
}

func NewRiskAggregator(cfg *config.DetectionConfig) *RiskAggregator {
	return &RiskAggregator{cfg: cfg}
}

// Aggregate folds per-analyzer signals into the result envelope. Tags are
// extended without dedup, factors merge last-write-wins, and deltas sum
// onto the base score before clamping.
func (ag *RiskAggregator) Aggregate(event *models.SecurityEvent, signals map[string]*Signal, confidence float64, insufficientBaseline bool) *models.ActivityAnalysisResult {
	result := &models.ActivityAnalysisResult{
		EventID:     event.ID,
		IdentityKey: event.IdentityKey(),
		RiskFactors: make(map[string]interface{}),
		AnalyzedAt:  time.Now().UTC(),
	}

	total := ag.cfg.BaseRiskScore
	var factors []string

	for _, name := range []string{"location", "time", "device", "behavioral"} {
		signal, ok := signals[name]
		if !ok || signal == nil {
			continue
		}
		result.DetectedActivities = append(result.DetectedActivities, signal.Tags...)
		for key, value := range signal.Factors {
			result.RiskFactors[key] = value
		}
		for _, tag := range signal.Tags {
			factors = append(factors, string(tag))
		}
		total += signal.RiskDelta
		result.RiskFactors[name+".risk_delta"] = signal.RiskDelta

		switch name {
		case "location":
			result.LocationDetails = signal.Details
		case "time":
			result.TimeDetails = signal.Details
		case "device":
			result.DeviceDetails = signal.Details
		case "behavioral":
			result.BehavioralDetails = signal.Details
		}
	}

	if insufficientBaseline {
		result.DetectedActivities = append(result.DetectedActivities, models.ActivityInsufficientBaseline)
		factors = append(factors, string(models.ActivityInsufficientBaseline))
		result.RiskFactors["baseline.insufficient"] = true
		result.RiskFactors["aggregate.raw_score"] = total
		// Immature baselines cannot justify a high score; the advisory
		// deltas stay visible in the factors above.
		if total > 15 {
			total = 15
		}
		if total < ag.cfg.BaseRiskScore {
			total = ag.cfg.BaseRiskScore
		}
	}

	if total > ag.cfg.MaxRiskScore {
		total = ag.cfg.MaxRiskScore
	}
	if total < 0 {
		total = 0
	}

	result.RiskScore = models.NewRiskScore(total, factors, confidence)
	result.IsSuspicious = total >= ag.cfg.SuspiciousThreshold
	result.Recommendations = ag.recommendations(result, total)

	return result
}

// recommendations emits one fixed message per detected tag plus the
// critical-lockout escalation.
func (ag *RiskAggregator) recommendations(result *models.ActivityAnalysisResult, score int) []string {
	var recs []string
	for _, tag := range recommendationOrder {
		if result.HasActivity(tag) {
			recs = append(recs, recommendationByTag[tag])
		}
	}
	if score >= ag.cfg.CriticalThreshold {
		recs = append(recs, recCriticalLockout)
	}
	return recs
}
