//go:build !linux

package hardware

import "fmt"

// Stub implementations for non-Linux platforms: every backend reports
// ErrUnavailable so callers run in software-only mode.

func (d *gpiocdevDriver) Open() (Context, error) {
	return nil, fmt.Errorf("%w: gpiocdev needs linux", ErrUnavailable)
}

func (d *sysfsDriver) Open() (Context, error) {
	return nil, fmt.Errorf("%w: sysfs pwm needs linux", ErrUnavailable)
}

func (d *rpioDriver) Open() (Context, error) {
	return nil, fmt.Errorf("%w: rpio needs linux", ErrUnavailable)
}

// BoardModel always returns "" off Linux.
func BoardModel() string { return "" }
