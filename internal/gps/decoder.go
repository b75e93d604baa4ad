package gps

import (
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/locfix/internal/location"
)

// Decoder accumulates NMEA sentences from one receiver into locations.
// It is not safe for concurrent use.
type Decoder struct {
	provider string
	current  Fix
}

// NewDecoder returns a decoder that tags its locations with provider.
func NewDecoder(provider string) *Decoder {
	return &Decoder{provider: provider}
}

// Decode consumes one line. It returns a location and true for every valid
// RMC sentence that carries a date and time; GGA sentences only update
// altitude and HDOP. Lines that are
// not NMEA are ignored, malformed sentences return the parse error.
func (d *Decoder) Decode(line string) (location.Location, bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return location.Location{}, false, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return location.Location{}, false, err
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		d.current.AltitudeM = m.Altitude
		d.current.HDOP = m.HDOP

	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		d.current.Validity = m.Validity
		if m.Validity != nmea.ValidRMC {
			return location.Location{}, false, nil
		}
		ts := fixTime(m.Date, m.Time)
		if ts.IsZero() {
			return location.Location{}, false, nil
		}
		d.current.Time = ts
		d.current.Latitude = m.Latitude
		d.current.Longitude = m.Longitude
		d.current.SpeedKnots = m.Speed
		d.current.CourseDeg = m.Course
		return d.current.Location(d.provider), true, nil
	}
	return location.Location{}, false, nil
}

// Current returns the accumulated receiver state.
func (d *Decoder) Current() Fix { return d.current }

func fixTime(date nmea.Date, t nmea.Time) time.Time {
	if !date.Valid || !t.Valid {
		return time.Time{}
	}
	return time.Date(2000+date.YY, time.Month(date.MM), date.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
