package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-monitor/internal/client"
	"security-monitor/internal/config"
	"security-monitor/internal/models"
	redisrepo "security-monitor/internal/repository/redis"
	"security-monitor/internal/util"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is the message published to the alert topic for downstream
// responders (SOC tooling, pager integrations).
type Alert struct {
	AlertID            string                `json:"alert_id"`
	EventID            string                `json:"event_id"`
	IdentityKey        string                `json:"identity_key"`
	UserID             string                `json:"user_id,omitempty"`
	EventType          string                `json:"event_type"`
	Severity           string                `json:"severity"`
	RiskScore          int                   `json:"risk_score"`
	RiskLevel          string                `json:"risk_level"`
	DetectedActivities []models.ActivityType `json:"detected_activities"`
	Recommendations    []string              `json:"recommendations,omitempty"`
	Timestamp          time.Time             `json:"timestamp"`
}

// Dispatcher publishes alerts for high-risk analysis results, throttled
// per identity through Redis so repeated detections do not flood the topic.
type Dispatcher struct {
	cfg      *config.Config
	producer *client.KafkaProducer
	throttle *redisrepo.AlertThrottle
	logger   *zap.Logger

	published  atomic.Int64
	suppressed atomic.Int64
	failed     atomic.Int64
}

func NewDispatcher(cfg *config.Config, producer *client.KafkaProducer, throttle *redisrepo.AlertThrottle, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		producer: producer,
		throttle: throttle,
		logger:   logger,
	}
}

// Dispatch publishes an alert when the result's score reaches the alert
// threshold. Results below the threshold are ignored. Throttling failures
// fail open: losing a duplicate alert is worse than an occasional repeat.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.SecurityEvent, result *models.ActivityAnalysisResult) error {
	score := result.RiskScore.Score
	if score < d.cfg.Detection.AlertThreshold {
		return nil
	}

	severity := SeverityWarning
	if score >= d.cfg.Detection.CriticalAlertThreshold {
		severity = SeverityCritical
	}

	allowed, err := d.throttle.TryAcquire(ctx, result.IdentityKey, d.cfg.Alerting.Cooldown)
	if err != nil {
		util.Warn("Alert throttle unavailable, dispatching anyway",
			zap.String("identity_key", result.IdentityKey),
			util.ErrorField(err))
		allowed = true
	}
	if !allowed {
		d.suppressed.Add(1)
		return nil
	}

	inWindow, count, err := d.throttle.AllowInWindow(ctx, result.IdentityKey,
		d.cfg.Alerting.WindowLimit, d.cfg.Alerting.Window)
	if err == nil && !inWindow {
		d.suppressed.Add(1)
		util.Warn("Alert window exhausted for identity",
			zap.String("identity_key", result.IdentityKey),
			zap.Int("window_count", count))
		return nil
	}

	alert := &Alert{
		AlertID:            uuid.NewString(),
		EventID:            result.EventID,
		IdentityKey:        result.IdentityKey,
		UserID:             event.UserID,
		EventType:          string(event.EventType),
		Severity:           severity,
		RiskScore:          score,
		RiskLevel:          string(result.RiskScore.Level),
		DetectedActivities: result.DetectedActivities,
		Recommendations:    result.Recommendations,
		Timestamp:          time.Now().UTC(),
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		d.failed.Add(1)
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	headers := map[string]string{
		"severity":   severity,
		"event_type": string(event.EventType),
	}
	if err := d.producer.ProduceMessage(ctx, d.producer.AlertTopic(),
		[]byte(result.IdentityKey), payload, headers); err != nil {
		d.failed.Add(1)
		// Free the cooldown so the next detection can retry the alert.
		if relErr := d.throttle.Release(ctx, result.IdentityKey); relErr != nil {
			util.Warn("Failed to release alert cooldown after publish failure",
				zap.String("identity_key", result.IdentityKey),
				util.ErrorField(relErr))
		}
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	d.published.Add(1)
	if err := d.throttle.RecordSent(ctx, severity); err != nil {
		util.Debug("Failed to record alert counter", util.ErrorField(err))
	}

	util.Info("Security alert published",
		zap.String("alert_id", alert.AlertID),
		zap.String("identity_key", result.IdentityKey),
		zap.String("severity", severity),
		zap.Int("risk_score", score))

	return nil
}

// Stats returns dispatcher counters for the stats endpoint.
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"published":  d.published.Load(),
		"suppressed": d.suppressed.Load(),
		"failed":     d.failed.Load(),
	}
}

// SentToday reports today's published alert counts by severity from the
// throttle's daily counters. Counters survive process restarts, unlike the
// in-memory Stats.
func (d *Dispatcher) SentToday(ctx context.Context) map[string]int64 {
	counts := make(map[string]int64, 2)
	for _, severity := range []string{SeverityWarning, SeverityCritical} {
		count, err := d.throttle.SentToday(ctx, severity)
		if err != nil {
			util.Debug("Failed to read alert counter",
				zap.String("severity", severity),
				util.ErrorField(err))
			continue
		}
		counts[severity] = int64(count)
	}
	return counts
}
