package geo

import "math"

const earthRadiusKm = 6371.0

// HaversineDistance calculates the great-circle distance between two points
// on Earth. Returns distance in kilometers.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// RequiredSpeedKmH returns the travel speed needed to cover distanceKm in
// elapsedHours. Sub-microsecond elapsed times are floored to avoid division
// by zero on duplicate timestamps.
func RequiredSpeedKmH(distanceKm, elapsedHours float64) float64 {
	const floatEpsilon = 1e-9
	if math.Abs(elapsedHours) < floatEpsilon {
		elapsedHours = 0.001
	}
	return distanceKm / elapsedHours
}
