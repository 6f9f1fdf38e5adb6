package proximity

// Classify returns the first ring whose threshold is at or above
// distanceMeters. It reports false when the distance lies beyond every ring.
func (r Rings) Classify(distanceMeters float64) (Zone, bool) {
	for _, ring := range r.rings {
		if ring.ThresholdMeters >= distanceMeters {
			return Zone{Label: ring.Label, ThresholdMeters: ring.ThresholdMeters, Color: ring.Color}, true
		}
	}
	return Zone{Label: FarLabel}, false
}

// Label is Classify reduced to the zone label, FarLabel when unzoned.
func (r Rings) Label(distanceMeters float64) string {
	z, _ := r.Classify(distanceMeters)
	return z.Label
}
