package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"security-monitor/internal/client"
	"security-monitor/internal/models"
	"security-monitor/internal/util"
)

const (
	analysisTable = "security_analysis_results"

	// Results are buffered and flushed in batches; ClickHouse prefers
	// fewer, larger inserts over row-at-a-time writes.
	flushBatchSize = 200
	flushInterval  = 5 * time.Second
)

const createAnalysisTableQuery = `
CREATE TABLE IF NOT EXISTS ` + analysisTable + ` (
	analyzed_at DateTime64(3),
	event_id String,
	identity_key String,
	user_id String,
	event_type LowCardinality(String),
	severity LowCardinality(String),
	risk_score UInt8,
	risk_level LowCardinality(String),
	is_suspicious UInt8,
	detected_activities Array(String)
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(analyzed_at)
ORDER BY (identity_key, analyzed_at)
TTL toDateTime(analyzed_at) + INTERVAL 90 DAY
`

const insertAnalysisQuery = `
INSERT INTO ` + analysisTable + `
	(analyzed_at, event_id, identity_key, user_id, event_type, severity,
	 risk_score, risk_level, is_suspicious, detected_activities)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// DashboardStats is the aggregate view served on the dashboard endpoint.
type DashboardStats struct {
	WindowHours      int              `json:"window_hours"`
	TotalAnalyzed    uint64           `json:"total_analyzed"`
	SuspiciousCount  uint64           `json:"suspicious_count"`
	AverageRiskScore float64          `json:"average_risk_score"`
	MaxRiskScore     uint8            `json:"max_risk_score"`
	ByRiskLevel      map[string]int64 `json:"by_risk_level"`
	TopActivities    map[string]int64 `json:"top_activities"`
}

// AnalyticsRepository persists analysis results to ClickHouse for
// dashboard aggregation and offline investigation queries.
type AnalyticsRepository struct {
	client *client.ClickHouseClient
	logger *zap.Logger

	mu      sync.Mutex
	pending [][]interface{}
}

func NewAnalyticsRepository(chClient *client.ClickHouseClient, logger *zap.Logger) (*AnalyticsRepository, error) {
	repo := &AnalyticsRepository{
		client: chClient,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := chClient.Exec(ctx, createAnalysisTableQuery); err != nil {
		return nil, fmt.Errorf("failed to create analysis table: %w", err)
	}

	util.Info("ClickHouse analytics repository initialized",
		zap.String("table", analysisTable))

	return repo, nil
}

// RecordResult buffers a result row. The buffer is flushed when it
// reaches flushBatchSize or on the periodic flush loop.
func (r *AnalyticsRepository) RecordResult(ctx context.Context, result *models.ActivityAnalysisResult, event *models.SecurityEvent) error {
	row := []interface{}{
		result.AnalyzedAt,
		result.EventID,
		result.IdentityKey,
		event.UserID,
		string(event.EventType),
		string(event.Severity),
		uint8(result.RiskScore.Score),
		string(result.RiskScore.Level),
		boolToUInt8(result.IsSuspicious),
		activityStrings(result.DetectedActivities),
	}

	r.mu.Lock()
	r.pending = append(r.pending, row)
	shouldFlush := len(r.pending) >= flushBatchSize
	r.mu.Unlock()

	if shouldFlush {
		return r.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered rows in a single batch insert.
func (r *AnalyticsRepository) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := r.client.BatchInsert(ctx, insertAnalysisQuery, batch); err != nil {
		// Re-queue so a transient failure does not drop rows.
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return fmt.Errorf("failed to flush analysis batch: %w", err)
	}

	util.Debug("Flushed analysis batch to ClickHouse", zap.Int("rows", len(batch)))
	return nil
}

// StartFlushLoop periodically flushes buffered rows until ctx is done.
func (r *AnalyticsRepository) StartFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.Flush(flushCtx); err != nil {
				util.Error("Final analysis flush failed", util.ErrorField(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				util.Error("Periodic analysis flush failed", util.ErrorField(err))
			}
		}
	}
}

// GetDashboardStats aggregates results over the trailing window.
func (r *AnalyticsRepository) GetDashboardStats(ctx context.Context, windowHours int) (*DashboardStats, error) {
	if windowHours <= 0 {
		windowHours = 24
	}

	stats := &DashboardStats{
		WindowHours:   windowHours,
		ByRiskLevel:   make(map[string]int64),
		TopActivities: make(map[string]int64),
	}

	summaryQuery := `
		SELECT count(), countIf(is_suspicious = 1),
		       coalesce(avg(risk_score), 0), coalesce(max(risk_score), 0)
		FROM ` + analysisTable + `
		WHERE analyzed_at >= now() - INTERVAL ? HOUR`

	rows, err := r.client.QueryRows(ctx, summaryQuery, windowHours)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary stats: %w", err)
	}
	if rows.Next() {
		if err := rows.Scan(&stats.TotalAnalyzed, &stats.SuspiciousCount,
			&stats.AverageRiskScore, &stats.MaxRiskScore); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan summary stats: %w", err)
		}
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to close summary rows: %w", err)
	}

	levelQuery := `
		SELECT risk_level, count()
		FROM ` + analysisTable + `
		WHERE analyzed_at >= now() - INTERVAL ? HOUR
		GROUP BY risk_level`

	levelRows, err := r.client.QueryRows(ctx, levelQuery, windowHours)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk level stats: %w", err)
	}
	for levelRows.Next() {
		var level string
		var count uint64
		if err := levelRows.Scan(&level, &count); err != nil {
			levelRows.Close()
			return nil, fmt.Errorf("failed to scan risk level stats: %w", err)
		}
		stats.ByRiskLevel[level] = int64(count)
	}
	if err := levelRows.Close(); err != nil {
		return nil, fmt.Errorf("failed to close risk level rows: %w", err)
	}

	activityQuery := `
		SELECT activity, count() AS c
		FROM ` + analysisTable + `
		ARRAY JOIN detected_activities AS activity
		WHERE analyzed_at >= now() - INTERVAL ? HOUR
		GROUP BY activity
		ORDER BY c DESC
		LIMIT 10`

	activityRows, err := r.client.QueryRows(ctx, activityQuery, windowHours)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity stats: %w", err)
	}
	for activityRows.Next() {
		var activity string
		var count uint64
		if err := activityRows.Scan(&activity, &count); err != nil {
			activityRows.Close()
			return nil, fmt.Errorf("failed to scan activity stats: %w", err)
		}
		stats.TopActivities[activity] = int64(count)
	}
	if err := activityRows.Close(); err != nil {
		return nil, fmt.Errorf("failed to close activity rows: %w", err)
	}

	return stats, nil
}

func (r *AnalyticsRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func activityStrings(activities []models.ActivityType) []string {
	out := make([]string, 0, len(activities))
	for _, a := range activities {
		out = append(out, string(a))
	}
	return out
}
