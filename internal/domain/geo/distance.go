package geo

import "math"

func degToRad(d float64) float64 { return d * math.Pi / 180 }

// Distance returns the haversine great-circle distance between a and b in
// meters. Callers validate both points first.
func Distance(a, b Point) float64 {
	lat1 := degToRad(a.Lat)
	lat2 := degToRad(b.Lat)
	dLat := lat2 - lat1
	dLng := degToRad(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	// Rounding can push h slightly past 1 for antipodal points.
	h = math.Min(1, h)

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}
