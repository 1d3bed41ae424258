package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"security-monitor/internal/alerting"
	"security-monitor/internal/engine"
	"security-monitor/internal/models"
	"security-monitor/internal/repository/clickhouse"
	"security-monitor/internal/repository/elastic"
	"security-monitor/internal/repository/scylla"
	"security-monitor/internal/util"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// IngestRequest is the wire form of a reported security event.
type IngestRequest struct {
	EventType string            `json:"event_type"`
	Severity  string            `json:"severity"`
	UserID    string            `json:"user_id"`
	IPAddress string            `json:"ip_address"`
	UserAgent string            `json:"user_agent"`
	SessionID string            `json:"session_id"`
	Details   map[string]string `json:"details"`
	RiskScore int               `json:"risk_score"`
	Timestamp time.Time         `json:"timestamp"`
}

// IngestResponse carries the synchronous analysis outcome back to the
// reporting service.
type IngestResponse struct {
	EventID  string                         `json:"event_id"`
	Analysis *models.ActivityAnalysisResult `json:"analysis"`
	Tracker  *engine.TrackerResult          `json:"tracker,omitempty"`
}

// SecurityService runs the full per-event pipeline: sanitize, score,
// track, persist, index, alert. Analysis is synchronous; persistence,
// indexing, and alerting run concurrently and their failures are logged
// rather than surfaced, so a storage outage never blocks detection.
type SecurityService struct {
	engine    *engine.Engine
	tracker   *engine.SuspicionTracker
	events    *scylla.EventRepository
	analytics *clickhouse.AnalyticsRepository
	results   *elastic.ResultRepository
	alerts    *alerting.Dispatcher
	logger    *zap.Logger

	eventsIngested atomic.Int64
	sideErrors     atomic.Int64
}

func NewSecurityService(
	riskEngine *engine.Engine,
	tracker *engine.SuspicionTracker,
	events *scylla.EventRepository,
	analytics *clickhouse.AnalyticsRepository,
	results *elastic.ResultRepository,
	alerts *alerting.Dispatcher,
	logger *zap.Logger,
) *SecurityService {
	return &SecurityService{
		engine:    riskEngine,
		tracker:   tracker,
		events:    events,
		analytics: analytics,
		results:   results,
		alerts:    alerts,
		logger:    logger,
	}
}

var validEventTypes = map[models.EventType]struct{}{
	models.EventLoginSuccess:       {},
	models.EventLoginFailure:       {},
	models.EventServiceTokenAuth:   {},
	models.EventSuspiciousActivity: {},
	models.EventPasswordChange:     {},
	models.EventPermissionChange:   {},
	models.EventSessionRevoked:     {},
	models.EventDataAccess:         {},
}

// ProcessEvent validates and runs one reported event through the pipeline.
func (s *SecurityService) ProcessEvent(ctx context.Context, req *IngestRequest) (*IngestResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: missing request body", ErrInvalidInput)
	}

	eventType := models.EventType(req.EventType)
	if _, ok := validEventTypes[eventType]; !ok {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, req.EventType)
	}

	severity := models.EventSeverity(req.Severity)
	switch severity {
	case models.SeverityInfo, models.SeverityWarning, models.SeverityCritical:
	case "":
		severity = models.SeverityInfo
	default:
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, req.Severity)
	}

	if req.UserID == "" && req.IPAddress == "" && req.SessionID == "" {
		return nil, fmt.Errorf("%w: event must carry at least one of user_id, ip_address, session_id", ErrInvalidInput)
	}

	event := models.NewSecurityEvent(eventType, severity, req.UserID, req.IPAddress,
		req.UserAgent, req.SessionID, req.Details, req.RiskScore, req.Timestamp)

	// Analysis never fails; the engine degrades internally.
	analysis, _ := s.engine.AnalyzeActivity(ctx, event)
	trackerResult := s.tracker.Observe(event)

	s.runSideEffects(ctx, event, analysis)
	s.eventsIngested.Add(1)

	return &IngestResponse{
		EventID:  event.ID,
		Analysis: analysis,
		Tracker:  trackerResult,
	}, nil
}

// runSideEffects fans out persistence, indexing, analytics, and alerting.
// Each leg is independent; one failing does not stop the others, and none
// of them affect the response already computed.
func (s *SecurityService) runSideEffects(ctx context.Context, event *models.SecurityEvent, analysis *models.ActivityAnalysisResult) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.events.SaveEvent(gctx, event); err != nil {
			s.sideErrors.Add(1)
			util.Error("Failed to persist security event",
				zap.String("event_id", event.ID), util.ErrorField(err))
		}
		return nil
	})

	g.Go(func() error {
		if err := s.analytics.RecordResult(gctx, analysis, event); err != nil {
			s.sideErrors.Add(1)
			util.Error("Failed to record analysis result",
				zap.String("event_id", event.ID), util.ErrorField(err))
		}
		return nil
	})

	g.Go(func() error {
		if !analysis.IsSuspicious {
			return nil
		}
		if err := s.results.IndexResult(gctx, analysis); err != nil {
			s.sideErrors.Add(1)
			util.Error("Failed to index analysis result",
				zap.String("event_id", event.ID), util.ErrorField(err))
		}
		return nil
	})

	g.Go(func() error {
		if err := s.alerts.Dispatch(gctx, event, analysis); err != nil {
			s.sideErrors.Add(1)
			util.Error("Failed to dispatch alert",
				zap.String("event_id", event.ID), util.ErrorField(err))
		}
		return nil
	})

	_ = g.Wait()
}

// GetRecentEvents returns persisted events for one user.
func (s *SecurityService) GetRecentEvents(ctx context.Context, userID string, since time.Time, limit int) ([]*models.SecurityEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if since.IsZero() {
		since = time.Now().UTC().Add(-24 * time.Hour)
	}
	return s.events.GetRecentEventsByUser(ctx, userID, since, limit)
}

// GetSuspiciousResults searches indexed detections, optionally scoped to
// one identity key.
func (s *SecurityService) GetSuspiciousResults(ctx context.Context, identityKey string, limit int) ([]*models.ActivityAnalysisResult, error) {
	return s.results.SearchSuspicious(ctx, identityKey, limit)
}

// SuspiciousEntities lists entities the tracker currently flags.
func (s *SecurityService) SuspiciousEntities() []string {
	return s.tracker.SuspiciousEntities()
}

// GetIdentityPattern returns the behavioral baseline and tracker state for
// one identity, or false when nothing is known about it.
func (s *SecurityService) GetIdentityPattern(identityKey string) (map[string]interface{}, bool) {
	summary, ok := s.engine.PatternSummary(identityKey)
	if score, tracked := s.tracker.EntityScore(identityKey); tracked {
		if summary == nil {
			summary = map[string]interface{}{"identity_key": identityKey}
		}
		summary["tracker_score"] = score
		ok = true
	}
	return summary, ok
}

// GetDashboardStats aggregates ClickHouse analytics with live counters.
func (s *SecurityService) GetDashboardStats(ctx context.Context, windowHours int) (map[string]interface{}, error) {
	analytics, err := s.analytics.GetDashboardStats(ctx, windowHours)
	if err != nil {
		return nil, fmt.Errorf("failed to load dashboard stats: %w", err)
	}

	return map[string]interface{}{
		"analytics": analytics,
		"engine":    s.engine.Stats(),
		"tracker":   s.tracker.Stats(),
		"alerting": map[string]interface{}{
			"counters":   s.alerts.Stats(),
			"sent_today": s.alerts.SentToday(ctx),
		},
		"service": map[string]int64{
			"events_ingested":   s.eventsIngested.Load(),
			"side_effect_fails": s.sideErrors.Load(),
		},
	}, nil
}

// HealthCheck verifies the storage backends the pipeline writes to.
func (s *SecurityService) HealthCheck(ctx context.Context) error {
	if err := s.events.HealthCheck(ctx); err != nil {
		return fmt.Errorf("event store unhealthy: %w", err)
	}
	if err := s.analytics.HealthCheck(ctx); err != nil {
		return fmt.Errorf("analytics store unhealthy: %w", err)
	}
	if err := s.results.HealthCheck(); err != nil {
		return fmt.Errorf("result index unhealthy: %w", err)
	}
	return nil
}
