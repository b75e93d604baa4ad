package gps

import (
	"context"
	"fmt"
	"io"
	"net"

	serial "github.com/jacobsa/go-serial/serial"
)

// Opener opens one NMEA byte stream. The manager calls it again after the
// stream fails.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// OpenSerial returns an Opener for a serial GNSS receiver, e.g. /dev/serial0,
// /dev/ttyAMA0 or /dev/ttyUSB0.
func OpenSerial(port string, baud uint) Opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		opts := serial.OpenOptions{
			PortName:              port,
			BaudRate:              baud,
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		}
		rwc, err := serial.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", port, err)
		}
		return rwc, nil
	}
}

// DialTCP returns an Opener for an NMEA-over-TCP feed such as gpsd's raw
// port or a network base station.
func DialTCP(addr string) Opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial nmea %s: %w", addr, err)
		}
		return conn, nil
	}
}
