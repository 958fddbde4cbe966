package automation

import "math"

const earthRadiusMeters = 6371000.0

// Distance returns the great-circle distance between two coordinates in
// metres using the haversine formula.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// OffsetNorth returns the coordinate that lies the given number of metres
// due north of c. Useful for building fixtures at known distances.
func OffsetNorth(c Coordinate, meters float64) Coordinate {
	return Coordinate{
		Latitude:  c.Latitude + (meters/earthRadiusMeters)*180/math.Pi,
		Longitude: c.Longitude,
	}
}
