package engine

import (
	"context"
	"strings"

	"security-monitor/internal/config"
	"security-monitor/internal/models"
)

// UserAgentHasher digests a user-agent string for baseline membership.
type UserAgentHasher interface {
	UserAgentHash(userAgent string) string
}

// UserAgentAnalyzer scores client anomalies: automation-tool signatures,
// user agents never seen for this identity, and rapid agent rotation that
// signals scripted cycling.
type UserAgentAnalyzer struct {
	hasher UserAgentHasher
	cfg    *config.DetectionConfig
}

func NewUserAgentAnalyzer(hasher UserAgentHasher, cfg *config.DetectionConfig) *UserAgentAnalyzer {
	return &UserAgentAnalyzer{hasher: hasher, cfg: cfg}
}

func (a *UserAgentAnalyzer) Name() string { return "device" }

func (a *UserAgentAnalyzer) Analyze(ctx context.Context, event *models.SecurityEvent, pattern *models.UserPattern) (*Signal, error) {
	signal := newSignal()
	if event.UserAgent == "" {
		return signal, nil
	}

	lowered := strings.ToLower(event.UserAgent)
	for _, pattern := range a.cfg.SuspiciousUserAgents {
		if strings.Contains(lowered, pattern) {
			signal.addTag(models.ActivitySuspiciousUserAgent)
			signal.RiskDelta += 35
			signal.Factors["device.suspicious_pattern"] = pattern
			signal.Details["matched_pattern"] = pattern
			// first match wins
			break
		}
	}

	uaHash := a.hasher.UserAgentHash(event.UserAgent)
	signal.Details["user_agent_hash"] = uaHash

	if _, known := pattern.UserAgentHashes[uaHash]; !known {
		signal.addTag(models.ActivityNewUserAgent)
		signal.RiskDelta += 10
		signal.Factors["device.new_user_agent"] = true
	}

	distinct := len(pattern.UserAgentHashes)
	if distinct > 10 && pattern.TotalLogins > 0 {
		rotationRatio := float64(distinct) / float64(pattern.TotalLogins)
		signal.Details["rotation_ratio"] = rotationRatio
		if rotationRatio > 0.5 {
			signal.addTag(models.ActivityUserAgentRotation)
			signal.RiskDelta += 25
			signal.Factors["device.rotation_ratio"] = rotationRatio
		}
	}

	return signal, nil
}
