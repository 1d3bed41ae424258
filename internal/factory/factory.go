package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"security-monitor/internal/alerting"
	"security-monitor/internal/bucketing"
	"security-monitor/internal/client"
	"security-monitor/internal/config"
	"security-monitor/internal/encryption"
	"security-monitor/internal/engine"
	"security-monitor/internal/geo"
	"security-monitor/internal/repository/clickhouse"
	"security-monitor/internal/repository/elastic"
	redisrepo "security-monitor/internal/repository/redis"
	"security-monitor/internal/repository/scylla"
	"security-monitor/internal/service"
	"security-monitor/internal/tls"
	"security-monitor/internal/util"

	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Detection core
	geoResolver *geo.CachedResolver
	riskEngine  *engine.Engine
	tracker     *engine.SuspicionTracker

	// Repositories and pipeline
	eventRepository     *scylla.EventRepository
	analyticsRepository *clickhouse.AnalyticsRepository
	resultRepository    *elastic.ResultRepository
	alertThrottle       *redisrepo.AlertThrottle
	alertDispatcher     *alerting.Dispatcher
	serviceFactory      *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()
	factory.initializeDetection()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if client, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = client
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if client, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = client
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if client, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = client
		util.Info("Elasticsearch client initialized and healthy")
	}

	// ClickHouse
	if client, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = client
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes encryption and bucketing managers
func (f *Factory) initializeManagers() {
	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		kmsClient = nil
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)
}

// initializeDetection wires the geolocation resolver, the risk engine,
// and the suspicion tracker
func (f *Factory) initializeDetection() {
	simulated := geo.NewSimulatedResolver(f.bucketingManager)
	f.geoResolver = geo.NewCachedResolver(simulated, f.config.Detection.GeoLookupTimeout)

	patternStore := engine.NewMemoryPatternStore(f.config.Detection.VelocityWindowSize)
	f.riskEngine = engine.NewEngine(&f.config.Detection, patternStore, f.geoResolver, f.bucketingManager, util.Get())
	f.tracker = engine.NewSuspicionTracker(&f.config.Tracker, util.Get())

	util.Info("Detection core initialized",
		util.Int("velocity_window", f.config.Detection.VelocityWindowSize),
		util.Int("alert_threshold", f.config.Detection.AlertThreshold),
	)
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) EventRepository() *scylla.EventRepository {
	if f.eventRepository == nil {
		f.eventRepository = scylla.NewEventRepository(
			f.ScyllaClient(),
			f.EncryptionManager(),
			f.BucketingManager(),
			util.Get(),
		)
	}
	return f.eventRepository
}

func (f *Factory) AnalyticsRepository() (*clickhouse.AnalyticsRepository, error) {
	if f.analyticsRepository == nil {
		repo, err := clickhouse.NewAnalyticsRepository(f.clickhouseClient, util.Get())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize analytics repository: %w", err)
		}
		f.analyticsRepository = repo
	}
	return f.analyticsRepository, nil
}

func (f *Factory) ResultRepository() *elastic.ResultRepository {
	if f.resultRepository == nil {
		f.resultRepository = elastic.NewResultRepository(f.esClient, util.Get())
	}
	return f.resultRepository
}

func (f *Factory) AlertThrottle() *redisrepo.AlertThrottle {
	if f.alertThrottle == nil {
		f.alertThrottle = redisrepo.NewAlertThrottle(f.redisClient)
	}
	return f.alertThrottle
}

func (f *Factory) AlertDispatcher() *alerting.Dispatcher {
	if f.alertDispatcher == nil {
		f.alertDispatcher = alerting.NewDispatcher(f.config, f.kafkaProducer, f.AlertThrottle(), util.Get())
	}
	return f.alertDispatcher
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() (*service.ServiceFactory, error) {
	if f.serviceFactory == nil {
		analytics, err := f.AnalyticsRepository()
		if err != nil {
			return nil, err
		}
		f.serviceFactory = service.NewServiceFactory(
			f.RiskEngine(),
			f.Tracker(),
			f.EventRepository(),
			analytics,
			f.ResultRepository(),
			f.AlertDispatcher(),
			util.Get(),
		)
	}
	return f.serviceFactory, nil
}

// StartBackgroundLoops launches the housekeeping loops owned by the
// factory's components. They stop when ctx is cancelled.
func (f *Factory) StartBackgroundLoops(ctx context.Context) {
	f.riskEngine.StartHousekeeping(ctx)
	f.tracker.Start(ctx)
	if f.analyticsRepository != nil {
		go f.analyticsRepository.StartFlushLoop(ctx)
	}
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	} else {
		healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}
	if f.bucketingManager == nil {
		healthErrors["bucketing"] = fmt.Errorf("bucketing manager not initialized")
	}
	if f.riskEngine == nil {
		healthErrors["engine"] = fmt.Errorf("risk engine not initialized")
	}
	if f.tracker == nil {
		healthErrors["tracker"] = fmt.Errorf("suspicion tracker not initialized")
	}

	return healthErrors
}

// ==============================
// Other Utility Methods
// ==============================

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.analyticsRepository != nil {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := f.analyticsRepository.Flush(flushCtx); err != nil {
				util.Error("Failed to flush analytics buffer", util.ErrorField(err))
			}
			cancel()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) EncryptionManager() *encryption.EncryptionManager {
	return f.encryptionManager
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}

func (f *Factory) RiskEngine() *engine.Engine {
	return f.riskEngine
}

func (f *Factory) Tracker() *engine.SuspicionTracker {
	return f.tracker
}
