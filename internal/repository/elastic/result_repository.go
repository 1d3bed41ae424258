package elastic

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"security-monitor/internal/client"
	"security-monitor/internal/models"
	"security-monitor/internal/util"
)

// ResultRepository indexes analysis results in Elasticsearch so analysts
// can search detections by identity, activity tag, or score range.
type ResultRepository struct {
	esClient *client.ESClient
	logger   *zap.Logger
}

func NewResultRepository(esClient *client.ESClient, logger *zap.Logger) *ResultRepository {
	return &ResultRepository{
		esClient: esClient,
		logger:   logger,
	}
}

// IndexResult stores one analysis result, keyed by event ID.
func (r *ResultRepository) IndexResult(ctx context.Context, result *models.ActivityAnalysisResult) error {
	res, err := r.esClient.IndexDocument(ctx, r.esClient.Index(), result.EventID, result)
	if err != nil {
		return fmt.Errorf("failed to index analysis result: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch rejected result %s: %s", result.EventID, res.Status())
	}

	util.Debug("Indexed analysis result",
		zap.String("event_id", result.EventID),
		zap.String("identity_key", result.IdentityKey))
	return nil
}

// SearchSuspicious returns the most recent suspicious results, optionally
// filtered to one identity key.
func (r *ResultRepository) SearchSuspicious(ctx context.Context, identityKey string, limit int) ([]*models.ActivityAnalysisResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	must := []map[string]interface{}{
		{"term": map[string]interface{}{"is_suspicious": true}},
	}
	if identityKey != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"identity_key.keyword": identityKey},
		})
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"analyzed_at": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
	}

	res, err := r.esClient.Search(ctx, r.esClient.Index(), query)
	if err != nil {
		return nil, fmt.Errorf("failed to search suspicious results: %w", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source *models.ActivityAnalysisResult `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := r.esClient.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	results := make([]*models.ActivityAnalysisResult, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		if hit.Source != nil {
			results = append(results, hit.Source)
		}
	}
	return results, nil
}

func (r *ResultRepository) HealthCheck() error {
	return r.esClient.HealthCheck()
}
