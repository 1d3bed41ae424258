package models

import "time"

// ActivityType tags a detected anomaly. The aggregator maps these to fixed
// recommendation strings consumed by alerting and reporting.
type ActivityType string

const (
	ActivityUnknownLocation      ActivityType = "unknown_location"
	ActivityNewLocation          ActivityType = "new_location"
	ActivityGeolocationAnomaly   ActivityType = "geolocation_anomaly"
	ActivityImpossibleTravel     ActivityType = "impossible_travel"
	ActivityAnonymizationService ActivityType = "anonymization_service"
	ActivityOffHoursAccess       ActivityType = "off_hours_access"
	ActivityUnusualTimePattern   ActivityType = "unusual_time_pattern"
	ActivitySuspiciousUserAgent  ActivityType = "suspicious_user_agent"
	ActivityNewUserAgent         ActivityType = "new_user_agent"
	ActivityUserAgentRotation    ActivityType = "user_agent_rotation"
	ActivityDormantAccount       ActivityType = "dormant_account_activation"
	ActivityVelocityAnomaly      ActivityType = "velocity_anomaly"
	ActivityRepeatedFailures     ActivityType = "repeated_failures"
	ActivityInsufficientBaseline ActivityType = "insufficient_baseline"
	ActivityAnalysisError        ActivityType = "analysis_error"
)

// RiskLevel classifies a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskScore is the aggregated outcome of one analysis pass. Score is clamped
// to [0,100] and Level derives deterministically from it.
type RiskScore struct {
	Score      int       `json:"score"`
	Level      RiskLevel `json:"level"`
	Factors    []string  `json:"factors,omitempty"`
	Confidence float64   `json:"confidence"` // [0,1], baseline maturity
}

// NewRiskScore clamps the score and derives the level.
func NewRiskScore(score int, factors []string, confidence float64) RiskScore {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return RiskScore{
		Score:      score,
		Level:      LevelForScore(score),
		Factors:    factors,
		Confidence: confidence,
	}
}

// LevelForScore maps a score to its classification band.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ActivityAnalysisResult is the envelope returned for every analyzed event.
// DetectedActivities preserves analyzer order and may carry duplicates;
// RiskFactors keeps raw per-signal values for audit.
type ActivityAnalysisResult struct {
	EventID            string                 `json:"event_id"`
	IdentityKey        string                 `json:"identity_key"`
	IsSuspicious       bool                   `json:"is_suspicious"`
	RiskScore          RiskScore              `json:"risk_score"`
	DetectedActivities []ActivityType         `json:"detected_activities"`
	RiskFactors        map[string]interface{} `json:"risk_factors,omitempty"`
	Recommendations    []string               `json:"recommendations,omitempty"`
	LocationDetails    map[string]interface{} `json:"location_details,omitempty"`
	TimeDetails        map[string]interface{} `json:"time_details,omitempty"`
	DeviceDetails      map[string]interface{} `json:"device_details,omitempty"`
	BehavioralDetails  map[string]interface{} `json:"behavioral_details,omitempty"`
	AnalyzedAt         time.Time              `json:"analyzed_at"`
}

// HasActivity reports whether a tag was detected.
func (r *ActivityAnalysisResult) HasActivity(activity ActivityType) bool {
	for _, a := range r.DetectedActivities {
		if a == activity {
			return true
		}
	}
	return false
}

// LocationData is the geolocation resolution for an IP, cached by the engine
// for the process lifetime.
type LocationData struct {
	IPAddress    string  `json:"ip_address"`
	Country      string  `json:"country"`
	City         string  `json:"city"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	ISP          string  `json:"isp,omitempty"`
	IsProxy      bool    `json:"is_proxy"`
	IsTor        bool    `json:"is_tor"`
	HasCoords    bool    `json:"has_coords"`
	LocationHash string  `json:"location_hash,omitempty"`
}

// UserPattern is the mutable behavioral baseline for one identity. It is
// owned by the pattern store; analyzers only ever read the pre-update state.
type UserPattern struct {
	IdentityKey       string
	KnownLocations    map[string]struct{}
	KnownCountries    map[string]struct{}
	KnownIPs          map[string]struct{}
	TypicalHours      map[int]int
	TypicalDays       map[time.Weekday]int
	UserAgentHashes   map[string]struct{}
	TotalLogins       int
	LastActivityTime  time.Time
	FirstSeen         time.Time
	LastUpdated       time.Time
	RecentActivity    []time.Time // bounded ring, velocity window
	RecentFailures    []time.Time // bounded ring, login failures
	locationsByHash   map[string]*LocationData
}

// NewUserPattern creates an empty baseline with first_seen set to now.
func NewUserPattern(identityKey string, now time.Time) *UserPattern {
	return &UserPattern{
		IdentityKey:     identityKey,
		KnownLocations:  make(map[string]struct{}),
		KnownCountries:  make(map[string]struct{}),
		KnownIPs:        make(map[string]struct{}),
		TypicalHours:    make(map[int]int),
		TypicalDays:     make(map[time.Weekday]int),
		UserAgentHashes: make(map[string]struct{}),
		FirstSeen:       now,
		LastUpdated:     now,
		locationsByHash: make(map[string]*LocationData),
	}
}

// RememberLocation caches the resolved coordinates behind a known hash so
// later events can measure distance to previously seen locations.
func (p *UserPattern) RememberLocation(loc *LocationData) {
	if loc == nil || loc.LocationHash == "" {
		return
	}
	if p.locationsByHash == nil {
		p.locationsByHash = make(map[string]*LocationData)
	}
	p.locationsByHash[loc.LocationHash] = loc
}

// KnownLocationData returns the cached coordinates for every known location
// hash that has been resolved.
func (p *UserPattern) KnownLocationData() []*LocationData {
	out := make([]*LocationData, 0, len(p.locationsByHash))
	for hash := range p.KnownLocations {
		if loc, ok := p.locationsByHash[hash]; ok {
			out = append(out, loc)
		}
	}
	return out
}
