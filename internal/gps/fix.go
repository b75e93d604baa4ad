// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package gps is the NMEA-backed provider manager used by the legacy
// location tier.
package gps

import (
	"time"

	"github.com/relabs-tech/locfix/internal/location"
)

// knotsToMPS converts speed over ground from knots to meters per second.
const knotsToMPS = 0.514444

// hdopToMeters turns horizontal dilution of precision into a rough accuracy
// radius for a consumer receiver.
const hdopToMeters = 5.0

// Fix is the receiver state combined from RMC and GGA sentences.
type Fix struct {
	Time       time.Time
	Latitude   float64 // decimal degrees
	Longitude  float64 // decimal degrees
	SpeedKnots float64 // speed over ground
	CourseDeg  float64 // course over ground
	Validity   string  // "A" (valid) / "V" (void)
	AltitudeM  float64 // from GGA, meters MSL
	HDOP       float64 // from GGA, 0 until one is seen
}

// Location converts the fix for delivery under the given provider name.
func (f Fix) Location(provider string) location.Location {
	return location.Location{
		Provider:  provider,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Accuracy:  f.HDOP * hdopToMeters,
		Altitude:  f.AltitudeM,
		Speed:     f.SpeedKnots * knotsToMPS,
		Bearing:   f.CourseDeg,
		Time:      f.Time,
	}
}
