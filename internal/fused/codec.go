// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fused is the modern location back-end: a producer publishes
// batched fixes over MQTT and a client turns them into fused update
// callbacks.
package fused

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/relabs-tech/locfix/internal/location"
)

// Ops carried by a request message.
const (
	OpAdd    = "add"
	OpRemove = "remove"
)

// WireLocation is one fix inside a batch message.
type WireLocation struct {
	Provider   string  `json:"provider"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	AccuracyM  float64 `json:"accuracy_m"`
	AltM       float64 `json:"alt_m"`
	SpeedMPS   float64 `json:"speed_mps"`
	BearingDeg float64 `json:"bearing_deg"`
	TimeMS     int64   `json:"time_ms"`
	Mock       bool    `json:"mock"`
}

// Batch is published on the updates topic, oldest fix first.
type Batch struct {
	Locations []WireLocation `json:"locations"`
}

// Request is published on the requests topic to start or stop updates.
type Request struct {
	ClientID     string  `json:"client_id"`
	Op           string  `json:"op"`
	Priority     string  `json:"priority,omitempty"`
	IntervalMS   int64   `json:"interval_ms,omitempty"`
	Granularity  string  `json:"granularity,omitempty"`
	MinDistanceM float64 `json:"min_distance_m,omitempty"`
}

// FromLocation converts a location for the wire.
func FromLocation(loc location.Location) WireLocation {
	w := WireLocation{
		Provider:   loc.Provider,
		Lat:        loc.Latitude,
		Lon:        loc.Longitude,
		AccuracyM:  loc.Accuracy,
		AltM:       loc.Altitude,
		SpeedMPS:   loc.Speed,
		BearingDeg: loc.Bearing,
		Mock:       loc.FromMockProvider,
	}
	if !loc.Time.IsZero() {
		w.TimeMS = loc.Time.UnixMilli()
	}
	return w
}

// Location converts a wire fix back.
func (w WireLocation) Location() location.Location {
	loc := location.Location{
		Provider:         w.Provider,
		Latitude:         w.Lat,
		Longitude:        w.Lon,
		Accuracy:         w.AccuracyM,
		Altitude:         w.AltM,
		Speed:            w.SpeedMPS,
		Bearing:          w.BearingDeg,
		FromMockProvider: w.Mock,
	}
	if w.TimeMS != 0 {
		loc.Time = time.UnixMilli(w.TimeMS).UTC()
	}
	return loc
}

// EncodeBatch marshals locs as a batch message.
func EncodeBatch(locs []location.Location) ([]byte, error) {
	b := Batch{Locations: make([]WireLocation, 0, len(locs))}
	for _, loc := range locs {
		b.Locations = append(b.Locations, FromLocation(loc))
	}
	return json.Marshal(b)
}

// DecodeBatch parses a batch message.
func DecodeBatch(payload []byte) ([]location.Location, error) {
	var b Batch
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	locs := make([]location.Location, 0, len(b.Locations))
	for _, w := range b.Locations {
		locs = append(locs, w.Location())
	}
	return locs, nil
}

// NewAddRequest builds the request message for req.
func NewAddRequest(clientID string, req location.UpdateRequest) Request {
	return Request{
		ClientID:     clientID,
		Op:           OpAdd,
		Priority:     req.Priority.String(),
		IntervalMS:   req.Interval.Milliseconds(),
		Granularity:  req.Granularity.String(),
		MinDistanceM: req.MinUpdateDistance,
	}
}
