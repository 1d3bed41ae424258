package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"security-monitor/internal/bucketing"
	"security-monitor/internal/encryption"
	"security-monitor/internal/models"
	"security-monitor/internal/util"
)

// EventRepository persists security events. Event detail maps are envelope
// encrypted before they leave the process; everything else is stored as-is
// for query support.
type EventRepository struct {
	client        *ScyllaClient
	encryptionMgr *encryption.EncryptionManager
	bucketingMgr  *bucketing.BucketingManager
}

func NewEventRepository(client *ScyllaClient, encryptionMgr *encryption.EncryptionManager, bucketingMgr *bucketing.BucketingManager, logger *zap.Logger) *EventRepository {
	return &EventRepository{
		client:        client,
		encryptionMgr: encryptionMgr,
		bucketingMgr:  bucketingMgr,
	}
}

// SaveEvent writes one event. The details map, if present, is serialized and
// encrypted; encryption failure falls back to storing no details rather than
// failing the ingest path.
func (r *EventRepository) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	eventBucket := r.bucketingMgr.GetIdentityBucket(event.IdentityKey())
	eventDate := r.bucketingMgr.GetDateBucket(event.Timestamp)

	detailsBlob, keyID := r.encryptDetails(ctx, event)

	query := r.client.Prepared.InsertEvent.Bind(
		eventBucket, eventDate, event.Timestamp, event.ID,
		string(event.EventType), string(event.Severity),
		event.UserID, event.IPAddress, event.UserAgent, event.SessionID,
		detailsBlob, keyID, event.RiskScore,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to persist security event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
		return fmt.Errorf("failed to persist security event: %w", err)
	}

	util.Debug("Security event persisted",
		zap.String("event_id", event.ID),
		zap.Int("event_bucket", eventBucket))

	return nil
}

// GetRecentEventsByUser fetches a user's events newer than since.
func (r *EventRepository) GetRecentEventsByUser(ctx context.Context, userID string, since time.Time, limit int) ([]*models.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := r.client.Prepared.GetEventsByUser.Bind(userID, since, limit).WithContext(ctx).Iter()
	events, err := r.scanEvents(ctx, iter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for user %s: %w", userID, err)
	}
	return events, nil
}

func (r *EventRepository) scanEvents(ctx context.Context, iter interface {
	Scan(...interface{}) bool
	Close() error
}) ([]*models.SecurityEvent, error) {
	var events []*models.SecurityEvent

	for {
		var (
			eventBucket int
			eventDate   string
			event       models.SecurityEvent
			eventType   string
			severity    string
			detailsBlob string
			keyID       string
		)
		if !iter.Scan(&eventBucket, &eventDate, &event.Timestamp, &event.ID,
			&eventType, &severity, &event.UserID, &event.IPAddress,
			&event.UserAgent, &event.SessionID, &detailsBlob, &keyID,
			&event.RiskScore) {
			break
		}
		event.EventBucket = eventBucket
		event.EventType = models.EventType(eventType)
		event.Severity = models.EventSeverity(severity)
		event.Details = r.decryptDetails(ctx, detailsBlob, event.ID)
		events = append(events, &event)
	}

	if err := iter.Close(); err != nil {
		return nil, err
	}
	return events, nil
}

// HealthCheck verifies the underlying session is still serving queries.
func (r *EventRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}

func (r *EventRepository) encryptDetails(ctx context.Context, event *models.SecurityEvent) (blob, keyID string) {
	if len(event.Details) == 0 {
		return "", ""
	}

	raw, err := json.Marshal(event.Details)
	if err != nil {
		util.Warn("Failed to serialize event details, storing without them",
			zap.String("event_id", event.ID), zap.Error(err))
		return "", ""
	}

	encrypted, err := r.encryptionMgr.EncryptField(ctx, string(raw), "event_details")
	if err != nil {
		util.Warn("Failed to encrypt event details, storing without them",
			zap.String("event_id", event.ID), zap.Error(err))
		return "", ""
	}

	envelope, err := json.Marshal(encrypted)
	if err != nil {
		return "", ""
	}
	return string(envelope), encrypted.KeyID
}

func (r *EventRepository) decryptDetails(ctx context.Context, blob, eventID string) map[string]string {
	if blob == "" {
		return nil
	}

	var envelope encryption.EncryptedData
	if err := json.Unmarshal([]byte(blob), &envelope); err != nil {
		util.Warn("Malformed details envelope", zap.String("event_id", eventID), zap.Error(err))
		return nil
	}

	plaintext, err := r.encryptionMgr.DecryptField(ctx, &envelope)
	if err != nil {
		util.Warn("Failed to decrypt event details", zap.String("event_id", eventID), zap.Error(err))
		return nil
	}

	var details map[string]string
	if err := json.Unmarshal([]byte(plaintext), &details); err != nil {
		return nil
	}
	return details
}
