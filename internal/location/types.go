// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package location obtains a single position fix from whichever location
// back-end the platform offers and delivers it, or a typed failure, exactly
// once.
package location

import (
	"math"
	"time"
)

// Provider names known to the legacy provider manager.
const (
	GPSProvider     = "gps"
	NetworkProvider = "network"
	MockProvider    = "mock"
)

// Request is the caller input for one fix. Immutable once submitted.
type Request struct {
	HighAccuracy bool
	Timeout      time.Duration // 0 = no timeout
}

// Options is the host-facing form of a Request. Unknown JSON fields are ignored.
type Options struct {
	EnableHighAccuracy bool    `json:"enableHighAccuracy"`
	Timeout            float64 `json:"timeout"` // milliseconds
}

// maxTimeoutMS is the longest timeout a time.Duration can hold.
const maxTimeoutMS = float64(math.MaxInt64 / int64(time.Millisecond))

// Request validates the options and converts them.
func (o Options) Request() (Request, error) {
	if math.IsNaN(o.Timeout) || o.Timeout < 0 || o.Timeout > maxTimeoutMS {
		return Request{}, &Error{Kind: KindError, Message: "Invalid location timeout"}
	}
	return Request{
		HighAccuracy: o.EnableHighAccuracy,
		Timeout:      time.Duration(int64(o.Timeout)) * time.Millisecond,
	}, nil
}

// Location is a raw fix as a back-end delivers it.
type Location struct {
	Provider  string
	Latitude  float64 // decimal degrees
	Longitude float64 // decimal degrees
	Accuracy  float64 // meters, 68% radius
	Altitude  float64 // meters above WGS84 ellipsoid / MSL, back-end dependent
	Speed     float64 // m/s over ground
	Bearing   float64 // degrees true
	Time      time.Time

	// FromMockProvider is the native synthetic flag. Only meaningful when
	// the platform advertises SyntheticFlag.
	FromMockProvider bool
}

// Fix is the normalized result delivered to the caller.
type Fix struct {
	Provider       string  `json:"provider"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Accuracy       float64 `json:"accuracy"`
	Altitude       float64 `json:"altitude"`
	Speed          float64 `json:"speed"`
	Bearing        float64 `json:"bearing"`
	Time           int64   `json:"time"` // epoch millis
	IsFakeLocation bool    `json:"isFakeLocation"`
}

// NewFix normalizes loc for delivery, classifying it with p.
func NewFix(p Platform, loc Location) Fix {
	return Fix{
		Provider:       loc.Provider,
		Latitude:       loc.Latitude,
		Longitude:      loc.Longitude,
		Accuracy:       loc.Accuracy,
		Altitude:       loc.Altitude,
		Speed:          loc.Speed,
		Bearing:        loc.Bearing,
		Time:           unixMilli(loc.Time),
		IsFakeLocation: IsSuspectedMock(p, &loc),
	}
}

// unixMilli reports t in epoch milliseconds, or 0 when the back-end gave no
// time.
func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Platform describes the capability tier and settings of the host.
type Platform struct {
	// FusedUpdates selects the modern tier when a fused client is present.
	FusedUpdates bool
	// SyntheticFlag is set when back-ends mark synthetic fixes natively.
	SyntheticFlag bool
	// AllowMockLocation is the system-wide "mock location allowed" setting.
	AllowMockLocation string
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Location) float64 {
	const earthRadius = 6371000 // meters

	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Latitude*math.Pi/180)*math.Cos(b.Latitude*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
