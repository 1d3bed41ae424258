package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded once from the environment.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
	Detection     DetectionConfig
	Tracker       TrackerConfig
	Alerting      AlertingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type BucketingConfig struct {
	UserBuckets int
}

// DetectionConfig controls the behavioral risk-scoring engine.
type DetectionConfig struct {
	GeolocationEnabled      bool
	MaxDistanceKm           float64
	ImpossibleTravelSpeed   float64 // km/h
	TimeAnalysisEnabled     bool
	BusinessHoursStart      int
	BusinessHoursEnd        int
	WeekendRiskMultiplier   float64
	UserAgentEnabled        bool
	SuspiciousUserAgents    []string
	BehavioralEnabled       bool
	HistoricalWindowDays    int
	MinimumBaselineEvents   int
	BaseRiskScore           int
	MaxRiskScore            int
	SuspiciousThreshold     int
	CriticalThreshold       int
	AlertThreshold          int
	CriticalAlertThreshold  int
	GeoLookupTimeout        time.Duration
	ProfileRetention        time.Duration
	ProfileSweepInterval    time.Duration
	VelocityWindowSize      int
	VelocityHourlyLimit     int
	FailureWindow           time.Duration
	FailureThreshold        int
	DormantAccountThreshold time.Duration
}

// TrackerConfig controls the lightweight entity suspicion tracker.
type TrackerConfig struct {
	Sensitivity      float64
	CleanupInterval  time.Duration
	LogRetention     time.Duration
	DecayFactor      float64
	LearningEnabled  bool
	LearningMaxFires int
	CriticalWeight   float64
	WarningWeight    float64
	DefaultWeight    float64
}

// AlertingConfig controls throttling of outbound Kafka alerts.
type AlertingConfig struct {
	Cooldown    time.Duration // per-identity suppression after an alert fires
	WindowLimit int           // max alerts per identity inside Window
	Window      time.Duration
}

var (
	globalConfig *Config
	once         sync.Once
)

// LoadConfig reads configuration from the environment (and .env if present).
func LoadConfig() *Config {
	once.Do(func() {
		// .env is optional; deployments usually inject the environment directly
		_ = godotenv.Load()

		globalConfig = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Hosts:    getEnvSlice("SCYLLA_HOSTS", []string{"localhost:9042"}),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "security_monitor"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
				Timeout:  getEnvDuration("SCYLLA_TIMEOUT", 5*time.Second),
			},
			Kafka: KafkaConfig{
				Brokers:    getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
				AlertTopic: getEnv("KAFKA_ALERT_TOPIC", "security-alerts"),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
				Username: getEnv("ELASTICSEARCH_USERNAME", ""),
				Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
				Index:    getEnv("ELASTICSEARCH_INDEX", "security-analysis"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "security_monitor"),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("KMS_REGION", "us-east-1"),
			},
			Bucketing: BucketingConfig{
				UserBuckets: getEnvInt("BUCKETING_USER_BUCKETS", 1024),
			},
			Detection: loadDetectionConfig(),
			Tracker:   loadTrackerConfig(),
			Alerting: AlertingConfig{
				Cooldown:    getEnvDuration("ALERTING_COOLDOWN", 5*time.Minute),
				WindowLimit: getEnvInt("ALERTING_WINDOW_LIMIT", 20),
				Window:      getEnvDuration("ALERTING_WINDOW", time.Hour),
			},
		}
	})

	return globalConfig
}

func loadDetectionConfig() DetectionConfig {
	return DetectionConfig{
		GeolocationEnabled:      getEnvBool("DETECTION_GEOLOCATION_ENABLED", true),
		MaxDistanceKm:           getEnvFloat("DETECTION_MAX_DISTANCE_KM", 1000),
		ImpossibleTravelSpeed:   getEnvFloat("DETECTION_IMPOSSIBLE_TRAVEL_SPEED_KMH", 900),
		TimeAnalysisEnabled:     getEnvBool("DETECTION_TIME_ANALYSIS_ENABLED", true),
		BusinessHoursStart:      getEnvInt("DETECTION_BUSINESS_HOURS_START", 8),
		BusinessHoursEnd:        getEnvInt("DETECTION_BUSINESS_HOURS_END", 18),
		WeekendRiskMultiplier:   getEnvFloat("DETECTION_WEEKEND_RISK_MULTIPLIER", 1.5),
		UserAgentEnabled:        getEnvBool("DETECTION_USER_AGENT_ENABLED", true),
		SuspiciousUserAgents:    getEnvSlice("DETECTION_SUSPICIOUS_USER_AGENTS", defaultSuspiciousAgents()),
		BehavioralEnabled:       getEnvBool("DETECTION_BEHAVIORAL_ENABLED", true),
		HistoricalWindowDays:    getEnvInt("DETECTION_HISTORICAL_WINDOW_DAYS", 30),
		MinimumBaselineEvents:   getEnvInt("DETECTION_MINIMUM_BASELINE_EVENTS", 10),
		BaseRiskScore:           getEnvInt("DETECTION_BASE_RISK_SCORE", 10),
		MaxRiskScore:            getEnvInt("DETECTION_MAX_RISK_SCORE", 100),
		SuspiciousThreshold:     getEnvInt("DETECTION_SUSPICIOUS_THRESHOLD", 40),
		CriticalThreshold:       getEnvInt("DETECTION_CRITICAL_THRESHOLD", 70),
		AlertThreshold:          getEnvInt("DETECTION_ALERT_THRESHOLD", 50),
		CriticalAlertThreshold:  getEnvInt("DETECTION_CRITICAL_ALERT_THRESHOLD", 70),
		GeoLookupTimeout:        getEnvDuration("DETECTION_GEO_LOOKUP_TIMEOUT", 2*time.Second),
		ProfileRetention:        getEnvDuration("DETECTION_PROFILE_RETENTION", 90*24*time.Hour),
		ProfileSweepInterval:    getEnvDuration("DETECTION_PROFILE_SWEEP_INTERVAL", time.Hour),
		VelocityWindowSize:      getEnvInt("DETECTION_VELOCITY_WINDOW_SIZE", 100),
		VelocityHourlyLimit:     getEnvInt("DETECTION_VELOCITY_HOURLY_LIMIT", 50),
		FailureWindow:           getEnvDuration("DETECTION_FAILURE_WINDOW", 5*time.Minute),
		FailureThreshold:        getEnvInt("DETECTION_FAILURE_THRESHOLD", 3),
		DormantAccountThreshold: getEnvDuration("DETECTION_DORMANT_THRESHOLD", 90*24*time.Hour),
	}
}

func loadTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Sensitivity:      getEnvFloat("TRACKER_SENSITIVITY", 0.7),
		CleanupInterval:  getEnvDuration("TRACKER_CLEANUP_INTERVAL", 30*time.Second),
		LogRetention:     getEnvDuration("TRACKER_LOG_RETENTION", time.Hour),
		DecayFactor:      getEnvFloat("TRACKER_DECAY_FACTOR", 0.95),
		LearningEnabled:  getEnvBool("TRACKER_LEARNING_ENABLED", false),
		LearningMaxFires: getEnvInt("TRACKER_LEARNING_MAX_FIRES", 100),
		CriticalWeight:   getEnvFloat("TRACKER_CRITICAL_WEIGHT", 10),
		WarningWeight:    getEnvFloat("TRACKER_WARNING_WEIGHT", 2),
		DefaultWeight:    getEnvFloat("TRACKER_DEFAULT_WEIGHT", 1),
	}
}

func defaultSuspiciousAgents() []string {
	return []string{
		"curl", "wget", "python-requests", "bot", "crawler", "scanner",
		"postman", "insomnia", "sqlmap", "nmap", "masscan", "nikto",
		"headless", "phantom", "selenium",
	}
}

// Get returns the loaded global configuration.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ===================== ENV HELPERS =====================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
