package gps

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"

	"github.com/relabs-tech/locfix/internal/location"
)

// DeviceAccess reports whether the process may read and write the GNSS
// serial device. A missing device is not a permission problem and passes.
type DeviceAccess struct {
	Path string
}

// CheckPermission implements location.PermissionChecker.
func (d DeviceAccess) CheckPermission() error {
	err := unix.Access(d.Path, unix.R_OK|unix.W_OK)
	switch {
	case err == nil, errors.Is(err, fs.ErrNotExist):
		return nil
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", d.Path, location.ErrPermissionDenied)
	default:
		return fmt.Errorf("check %s: %w", d.Path, err)
	}
}
