package engine

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"security-monitor/internal/config"
	"security-monitor/internal/geo"
	"security-monitor/internal/models"
	"security-monitor/internal/util"
)

// Engine is the real-time risk-scoring orchestrator. AnalyzeActivity runs
// the full pipeline for one event: eligibility, baseline lookup, analyzer
// fan-in, aggregation, baseline update. It never returns an error or lets a
// panic escape; every failure mode degrades to a valid low-confidence result.
type Engine struct {
	cfg        *config.DetectionConfig
	store      PatternStore
	resolver   geo.Resolver
	uaHasher   UserAgentHasher
	analyzers  []SignalAnalyzer
	aggregator *RiskAggregator
	logger     *zap.Logger

	eventsAnalyzed   atomic.Int64
	suspiciousEvents atomic.Int64
	analysisErrors   atomic.Int64
}

// eligibleTypes are the only event types that feed baselines; every other
// type short-circuits to a neutral result.
var eligibleTypes = map[models.EventType]struct{}{
	models.EventLoginSuccess:       {},
	models.EventLoginFailure:       {},
	models.EventServiceTokenAuth:   {},
	models.EventSuspiciousActivity: {},
}

func NewEngine(cfg *config.DetectionConfig, store PatternStore, resolver geo.Resolver, uaHasher UserAgentHasher, logger *zap.Logger) *Engine {
	e := &Engine{
		cfg:        cfg,
		store:      store,
		resolver:   resolver,
		uaHasher:   uaHasher,
		aggregator: NewRiskAggregator(cfg),
		logger:     logger,
	}

	if cfg.GeolocationEnabled {
		e.analyzers = append(e.analyzers, NewLocationAnalyzer(resolver, cfg))
	}
	if cfg.TimeAnalysisEnabled {
		e.analyzers = append(e.analyzers, NewTimeAnalyzer(cfg))
	}
	if cfg.UserAgentEnabled {
		e.analyzers = append(e.analyzers, NewUserAgentAnalyzer(uaHasher, cfg))
	}
	if cfg.BehavioralEnabled {
		e.analyzers = append(e.analyzers, NewBehaviorAnalyzer(cfg))
	}

	return e
}

// AnalyzeActivity is the sole analysis entry point. The returned result is
// always non-nil and the error is always nil; the signature keeps the error
// slot so callers can treat the engine like any other collaborator.
func (e *Engine) AnalyzeActivity(ctx context.Context, event *models.SecurityEvent) (result *models.ActivityAnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.analysisErrors.Add(1)
			e.logger.Error("Analysis panicked, degrading to neutral result",
				util.String("event_id", event.ID),
				util.Any("panic", r),
			)
			result = e.degradedResult(event, fmt.Sprintf("panic: %v", r))
			err = nil
		}
	}()

	if _, eligible := eligibleTypes[event.EventType]; !eligible {
		return e.neutralResult(event, "ineligible_event_type"), nil
	}
	if event.UserID == "" {
		return e.neutralResult(event, "missing_identity"), nil
	}

	start := time.Now()
	identityKey := event.IdentityKey()
	pattern := e.store.GetOrCreate(identityKey)

	// Resolved before taking the identity lock; the cached resolver turns
	// the location analyzer's in-lock lookup into a map hit.
	location := e.resolveForUpdate(ctx, event)
	uaHash := ""
	if event.UserAgent != "" {
		uaHash = e.uaHasher.UserAgentHash(event.UserAgent)
	}

	// Concurrent events for the same identity serialize here: analyzers
	// read the live baseline maps and the trailing Update mutates them.
	e.store.Sync(identityKey, func() {
		insufficient := pattern.TotalLogins < e.cfg.MinimumBaselineEvents

		signals := make(map[string]*Signal, len(e.analyzers))
		analyzerFailed := false
		for _, analyzer := range e.analyzers {
			signal, analyzeErr := analyzer.Analyze(ctx, event, pattern)
			if analyzeErr != nil {
				analyzerFailed = true
				e.analysisErrors.Add(1)
				e.logger.Warn("Analyzer failed, continuing with remaining signals",
					util.String("analyzer", analyzer.Name()),
					util.String("event_id", event.ID),
					util.ErrorField(analyzeErr),
				)
				errSignal := newSignal()
				errSignal.addTag(models.ActivityAnalysisError)
				errSignal.Factors[analyzer.Name()+".error"] = analyzeErr.Error()
				signals[analyzer.Name()] = errSignal
				continue
			}
			signals[analyzer.Name()] = signal
		}

		confidence := e.confidence(pattern.TotalLogins, insufficient)
		if analyzerFailed {
			confidence = math.Min(confidence, 0.3)
		}

		result = e.aggregator.Aggregate(event, signals, confidence, insufficient)

		// Baseline update runs last so every analyzer saw the pre-update state.
		e.store.Update(pattern, event, location, uaHash)
	})

	e.eventsAnalyzed.Add(1)
	if result.IsSuspicious {
		e.suspiciousEvents.Add(1)
	}

	elapsed := time.Since(start)
	if elapsed > 100*time.Millisecond {
		e.logger.Warn("Slow analysis pass",
			util.String("event_id", event.ID),
			util.Duration("elapsed", elapsed),
		)
	}

	return result, nil
}

// resolveForUpdate fetches the (cached) location for the baseline update.
// Resolution failures leave the location out of the baseline; the next
// event from the same IP retries.
func (e *Engine) resolveForUpdate(ctx context.Context, event *models.SecurityEvent) *models.LocationData {
	if !e.cfg.GeolocationEnabled || event.IPAddress == "" {
		return nil
	}
	location, err := e.resolver.Resolve(ctx, event.IPAddress)
	if err != nil || location == nil || !location.HasCoords {
		return nil
	}
	return location
}

// confidence reflects baseline maturity: capped at 0.25 below the minimum
// event count, growing toward 1.0 with history beyond it.
func (e *Engine) confidence(totalLogins int, insufficient bool) float64 {
	if insufficient {
		if e.cfg.MinimumBaselineEvents <= 0 {
			return 0.25
		}
		c := 0.25 * float64(totalLogins) / float64(e.cfg.MinimumBaselineEvents)
		return math.Max(0.05, math.Min(0.25, c))
	}
	extra := float64(totalLogins-e.cfg.MinimumBaselineEvents) / 50.0
	return math.Min(1.0, 0.3+0.7*math.Min(1.0, extra))
}

func (e *Engine) neutralResult(event *models.SecurityEvent, reason string) *models.ActivityAnalysisResult {
	return &models.ActivityAnalysisResult{
		EventID:      event.ID,
		IdentityKey:  event.IdentityKey(),
		IsSuspicious: false,
		RiskScore:    models.NewRiskScore(0, nil, 1.0),
		RiskFactors:  map[string]interface{}{"skipped": reason},
		AnalyzedAt:   time.Now().UTC(),
	}
}

func (e *Engine) degradedResult(event *models.SecurityEvent, detail string) *models.ActivityAnalysisResult {
	return &models.ActivityAnalysisResult{
		EventID:            event.ID,
		IdentityKey:        event.IdentityKey(),
		IsSuspicious:       false,
		RiskScore:          models.NewRiskScore(e.cfg.BaseRiskScore, []string{string(models.ActivityAnalysisError)}, 0.2),
		DetectedActivities: []models.ActivityType{models.ActivityAnalysisError},
		RiskFactors:        map[string]interface{}{"analysis_error": detail},
		AnalyzedAt:         time.Now().UTC(),
	}
}

// PatternSummary exposes a read-only view of an identity's baseline for
// the investigation endpoint. It never creates a baseline.
func (e *Engine) PatternSummary(identityKey string) (map[string]interface{}, bool) {
	pattern, ok := e.store.Get(identityKey)
	if !ok {
		return nil, false
	}

	var summary map[string]interface{}
	e.store.Sync(identityKey, func() {
		hours := make(map[string]int, len(pattern.TypicalHours))
		for hour, count := range pattern.TypicalHours {
			hours[fmt.Sprintf("%02d", hour)] = count
		}
		days := make(map[string]int, len(pattern.TypicalDays))
		for day, count := range pattern.TypicalDays {
			days[day.String()] = count
		}

		summary = map[string]interface{}{
			"identity_key":       identityKey,
			"total_logins":       pattern.TotalLogins,
			"known_locations":    len(pattern.KnownLocations),
			"known_countries":    len(pattern.KnownCountries),
			"known_ips":          len(pattern.KnownIPs),
			"known_user_agents":  len(pattern.UserAgentHashes),
			"typical_hours":      hours,
			"typical_days":       days,
			"recent_activity":    len(pattern.RecentActivity),
			"recent_failures":    len(pattern.RecentFailures),
			"first_seen":         pattern.FirstSeen,
			"last_activity_time": pattern.LastActivityTime,
		}
	})
	return summary, true
}

// Stats reports engine counters for the dashboard endpoint.
func (e *Engine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"events_analyzed":    e.eventsAnalyzed.Load(),
		"suspicious_events":  e.suspiciousEvents.Load(),
		"analysis_errors":    e.analysisErrors.Load(),
		"tracked_identities": e.store.Len(),
	}
}

// StartHousekeeping runs the periodic stale-baseline sweep until the
// context is cancelled.
func (e *Engine) StartHousekeeping(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ProfileSweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := e.store.PruneStale(e.cfg.ProfileRetention)
				if removed > 0 {
					e.logger.Info("Stale baseline sweep completed", util.Int("removed", removed))
				}
			}
		}
	}()
}
