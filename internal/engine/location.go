package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"security-monitor/internal/config"
	"security-monitor/internal/geo"
	"security-monitor/internal/models"
)

// LocationAnalyzer scores geographic novelty: unknown and new locations,
// implausible distances from the baseline, impossible travel, and
// anonymization services. Missing IP yields a zero contribution - absence
// of signal is not signal.
type LocationAnalyzer struct {
	resolver geo.Resolver
	cfg      *config.DetectionConfig
}

func NewLocationAnalyzer(resolver geo.Resolver, cfg *config.DetectionConfig) *LocationAnalyzer {
	return &LocationAnalyzer{resolver: resolver, cfg: cfg}
}

func (a *LocationAnalyzer) Name() string { return "location" }

func (a *LocationAnalyzer) Analyze(ctx context.Context, event *models.SecurityEvent, pattern *models.UserPattern) (*Signal, error) {
	signal := newSignal()
	if event.IPAddress == "" {
		return signal, nil
	}

	location, err := a.resolver.Resolve(ctx, event.IPAddress)
	if err != nil || location == nil || !location.HasCoords {
		signal.addTag(models.ActivityUnknownLocation)
		signal.RiskDelta += 10
		signal.Factors["location.unresolved_ip"] = event.IPAddress
		if err != nil {
			signal.Details["resolve_error"] = err.Error()
		}
		return signal, nil
	}

	signal.Details["country"] = location.Country
	signal.Details["city"] = location.City
	signal.Details["location_hash"] = location.LocationHash

	if _, known := pattern.KnownLocations[location.LocationHash]; !known {
		signal.addTag(models.ActivityNewLocation)
		signal.RiskDelta += 15
		signal.Factors["location.new_country"] = location.Country
		signal.Factors["location.new_city"] = location.City
	}

	knownLocations := pattern.KnownLocationData()
	if len(knownLocations) > 0 {
		nearest := a.nearestDistanceKm(location, knownLocations)
		signal.Details["nearest_known_km"] = math.Round(nearest*100) / 100

		if nearest > a.cfg.MaxDistanceKm {
			delta := int(math.Min(30, nearest/1000*10))
			signal.addTag(models.ActivityGeolocationAnomaly)
			signal.RiskDelta += delta
			signal.Factors["location.distance_km"] = math.Round(nearest*100) / 100
		}

		if !pattern.LastActivityTime.IsZero() {
			elapsed := event.Timestamp.Sub(pattern.LastActivityTime)
			if elapsed >= 0 && elapsed < 24*time.Hour {
				required := geo.RequiredSpeedKmH(nearest, elapsed.Hours())
				if required > a.cfg.ImpossibleTravelSpeed {
					signal.addTag(models.ActivityImpossibleTravel)
					signal.RiskDelta += 40
					signal.Factors["location.required_speed_kmh"] = math.Round(required*100) / 100
					signal.Factors["location.max_possible_speed_kmh"] = a.cfg.ImpossibleTravelSpeed
					signal.Details["impossible_travel"] = fmt.Sprintf(
						"%.0f km in %.0f minutes requires %.0f km/h",
						nearest, elapsed.Minutes(), required,
					)
				}
			}
		}
	}

	if location.IsTor {
		signal.addTag(models.ActivityAnonymizationService)
		signal.RiskDelta += 25
		signal.Factors["location.anonymization"] = "tor"
	} else if location.IsProxy {
		signal.addTag(models.ActivityAnonymizationService)
		signal.RiskDelta += 15
		signal.Factors["location.anonymization"] = "proxy"
	}

	return signal, nil
}

func (a *LocationAnalyzer) nearestDistanceKm(current *models.LocationData, known []*models.LocationData) float64 {
	nearest := math.MaxFloat64
	for _, loc := range known {
		d := geo.HaversineDistance(current.Latitude, current.Longitude, loc.Latitude, loc.Longitude)
		if d < nearest {
			nearest = d
		}
	}
	return nearest
}
