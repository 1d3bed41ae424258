package models

import (
	"time"

	"github.com/google/uuid"

	"security-monitor/internal/util"
)

// EventType identifies the kind of security event being reported.
type EventType string

const (
	EventLoginSuccess       EventType = "login_success"
	EventLoginFailure       EventType = "login_failure"
	EventServiceTokenAuth   EventType = "service_token_auth"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventPasswordChange     EventType = "password_change"
	EventPermissionChange   EventType = "permission_change"
	EventSessionRevoked     EventType = "session_revoked"
	EventDataAccess         EventType = "data_access"
)

// EventSeverity is the reporter-assigned severity of an event.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// SecurityEvent is an immutable authentication/security event. Build one with
// NewSecurityEvent so the input-hygiene invariants hold (sanitized IP and
// user-agent, bounded details map).
type SecurityEvent struct {
	ID          string            `json:"id" db:"id"`
	EventBucket int               `json:"event_bucket" db:"event_bucket"`
	EventType   EventType         `json:"event_type" db:"event_type"`
	Severity    EventSeverity     `json:"severity" db:"severity"`
	UserID      string            `json:"user_id,omitempty" db:"user_id"`
	IPAddress   string            `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent   string            `json:"user_agent,omitempty" db:"user_agent"`
	SessionID   string            `json:"session_id,omitempty" db:"session_id"`
	Details     map[string]string `json:"details,omitempty" db:"details"`
	RiskScore   int               `json:"risk_score" db:"risk_score"` // advisory, 0-100
	Timestamp   time.Time         `json:"timestamp" db:"event_time"`
}

// NewSecurityEvent constructs a sanitized event. A zero timestamp is replaced
// with the current UTC time; the advisory risk score is clamped to [0,100].
func NewSecurityEvent(eventType EventType, severity EventSeverity, userID, ipAddress, userAgent, sessionID string, details map[string]string, riskScore int, timestamp time.Time) *SecurityEvent {
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	if riskScore < 0 {
		riskScore = 0
	}
	if riskScore > 100 {
		riskScore = 100
	}
	return &SecurityEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		Severity:  severity,
		UserID:    util.SanitizeInput(userID),
		IPAddress: util.SanitizeIP(ipAddress),
		UserAgent: util.SanitizeUserAgent(userAgent),
		SessionID: util.SanitizeInput(sessionID),
		Details:   util.SanitizeDetails(details),
		RiskScore: riskScore,
		Timestamp: timestamp.UTC(),
	}
}

// IdentityKey returns the baseline lookup key for the event's subject:
// user id first, then IP, then session.
func (e *SecurityEvent) IdentityKey() string {
	switch {
	case e.UserID != "":
		return "user:" + e.UserID
	case e.IPAddress != "":
		return "ip:" + e.IPAddress
	case e.SessionID != "":
		return "session:" + e.SessionID
	default:
		return "session:unknown"
	}
}
