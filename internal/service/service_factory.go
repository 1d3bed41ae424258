package service

import (
	"go.uber.org/zap"

	"security-monitor/internal/alerting"
	"security-monitor/internal/engine"
	"security-monitor/internal/repository/clickhouse"
	"security-monitor/internal/repository/elastic"
	"security-monitor/internal/repository/scylla"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	riskEngine *engine.Engine
	tracker    *engine.SuspicionTracker
	events     *scylla.EventRepository
	analytics  *clickhouse.AnalyticsRepository
	results    *elastic.ResultRepository
	alerts     *alerting.Dispatcher
	logger     *zap.Logger

	securityService *SecurityService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	riskEngine *engine.Engine,
	tracker *engine.SuspicionTracker,
	events *scylla.EventRepository,
	analytics *clickhouse.AnalyticsRepository,
	results *elastic.ResultRepository,
	alerts *alerting.Dispatcher,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		riskEngine: riskEngine,
		tracker:    tracker,
		events:     events,
		analytics:  analytics,
		results:    results,
		alerts:     alerts,
		logger:     logger,
	}
}

// SecurityService returns the security service instance (singleton)
func (f *ServiceFactory) SecurityService() *SecurityService {
	if f.securityService == nil {
		f.securityService = NewSecurityService(
			f.riskEngine,
			f.tracker,
			f.events,
			f.analytics,
			f.results,
			f.alerts,
			f.logger,
		)
	}
	return f.securityService
}
