package engine

import (
	"context"
	"time"

	"security-monitor/internal/config"
	"security-monitor/internal/models"
)

// TimeAnalyzer scores temporal anomalies: access outside business hours and,
// once the baseline is mature, deviation from the identity's own hour and
// weekday distributions.
type TimeAnalyzer struct {
	cfg *config.DetectionConfig
}

func NewTimeAnalyzer(cfg *config.DetectionConfig) *TimeAnalyzer {
	return &TimeAnalyzer{cfg: cfg}
}

func (a *TimeAnalyzer) Name() string { return "time" }

func (a *TimeAnalyzer) Analyze(ctx context.Context, event *models.SecurityEvent, pattern *models.UserPattern) (*Signal, error) {
	signal := newSignal()

	ts := event.Timestamp
	hour := ts.Hour()
	weekday := ts.Weekday()
	isWeekend := weekday == time.Saturday || weekday == time.Sunday

	signal.Details["hour"] = hour
	signal.Details["weekday"] = weekday.String()

	offHours := hour < a.cfg.BusinessHoursStart || hour >= a.cfg.BusinessHoursEnd
	if offHours || isWeekend {
		delta := 10.0
		if isWeekend {
			delta *= a.cfg.WeekendRiskMultiplier
		}
		signal.addTag(models.ActivityOffHoursAccess)
		signal.RiskDelta += int(delta)
		signal.Factors["time.off_hours"] = true
		signal.Factors["time.weekend"] = isWeekend
	}

	// Baseline-deviation checks need a mature history
	if pattern.TotalLogins < a.cfg.MinimumBaselineEvents {
		return signal, nil
	}

	totalHourLogins := 0
	for _, count := range pattern.TypicalHours {
		totalHourLogins += count
	}
	if totalHourLogins > 0 {
		hourFreq := float64(pattern.TypicalHours[hour]) / float64(totalHourLogins)
		signal.Details["hour_frequency"] = hourFreq
		if hourFreq < 0.05 {
			signal.addTag(models.ActivityUnusualTimePattern)
			signal.RiskDelta += 20
			signal.Factors["time.hour_frequency"] = hourFreq
		}
	}

	totalDayLogins := 0
	for _, count := range pattern.TypicalDays {
		totalDayLogins += count
	}
	if totalDayLogins > 0 {
		dayFreq := float64(pattern.TypicalDays[weekday]) / float64(totalDayLogins)
		signal.Details["weekday_frequency"] = dayFreq
		if dayFreq < 0.10 {
			signal.RiskDelta += 15
			signal.Factors["time.weekday_frequency"] = dayFreq
		}
	}

	return signal, nil
}
