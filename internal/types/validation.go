package types

import "fmt"

// Validation constraint constants.
const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0
)

// ValidateCoordinates checks that lat/lon are finite and inside WGS84 bounds.
func ValidateCoordinates(lat, lon float64) error {
	if !isFinite(lat) || lat < MinLat || lat > MaxLat {
		return fmt.Errorf("%s: latitude %v outside [%.0f, %.0f]", ErrCodeValidationInvalidLat, lat, MinLat, MaxLat)
	}
	if !isFinite(lon) || lon < MinLon || lon > MaxLon {
		return fmt.Errorf("%s: longitude %v outside [%.0f, %.0f]", ErrCodeValidationInvalidLon, lon, MinLon, MaxLon)
	}
	return nil
}

// ValidateSample checks every invariant of a PositionSample.
func ValidateSample(p PositionSample) error {
	if err := ValidateCoordinates(p.Latitude, p.Longitude); err != nil {
		return err
	}
	if !isFinite(p.AccuracyMeters) || p.AccuracyMeters < 0 {
		return fmt.Errorf("%s: accuracy %v must be finite and non-negative", ErrCodeValidationInvalidAccuracy, p.AccuracyMeters)
	}
	return nil
}
