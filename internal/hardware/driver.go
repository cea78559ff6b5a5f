package hardware

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable reports that the requested PWM hardware does not exist on this
// host (wrong platform, missing device node, pin without PWM support).
//
// Callers treat it as an expected condition and fall back to software-only mode.
var ErrUnavailable = errors.New("hardware: pwm unavailable")

// DefaultFrequencyHz is the PWM frequency used when none is configured.
const DefaultFrequencyHz = 1500

// Driver acquires access to a GPIO/PWM backend.
type Driver interface {
	Name() string
	Open() (Context, error)
}

// Context is an acquired hardware session. Close releases every resource the
// context still holds, including PWM channels that were not closed explicitly.
type Context interface {
	NewPWM(cfg PWMConfig) (PWM, error)
	Close() error
}

// PWMConfig describes one PWM channel to create.
type PWMConfig struct {
	ID          string
	Pin         int // BCM GPIO numbering
	FrequencyHz int
	DutyPercent float64
}

// PWM is a single output channel. Duty is expressed in percent (0..100).
//
// Close should be best-effort and leave the pin driven low.
type PWM interface {
	SetDutyPercent(p float64) error
	Close() error
}

func (c PWMConfig) validate() error {
	if c.Pin < 0 {
		return fmt.Errorf("hardware: invalid gpio pin %d", c.Pin)
	}
	if c.FrequencyHz <= 0 {
		return fmt.Errorf("hardware: invalid frequency %d", c.FrequencyHz)
	}
	return nil
}

// Backend names accepted by New.
const (
	BackendAuto     = "auto"
	BackendGPIOCDev = "gpiocdev"
	BackendSysfs    = "sysfs"
	BackendRPIO     = "rpio"
)

// Options selects and parameterizes a backend.
type Options struct {
	Backend string
	// GPIOChip pins the gpiocdev backend to one chip (e.g. "gpiochip0").
	// Empty means every /dev/gpiochip* is searched for the line names.
	GPIOChip string
	// SysfsBase overrides /sys/class/pwm.
	SysfsBase string
}

// New returns the driver for the configured backend. The returned driver is
// cheap; nothing touches the hardware until Open is called.
func New(opts Options) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendAuto, BackendGPIOCDev:
		return &gpiocdevDriver{chip: opts.GPIOChip}, nil
	case BackendSysfs:
		base := opts.SysfsBase
		if base == "" {
			base = pwmSysfsBase
		}
		return &sysfsDriver{base: base}, nil
	case BackendRPIO:
		return &rpioDriver{}, nil
	default:
		return nil, fmt.Errorf("hardware: unknown backend %q", opts.Backend)
	}
}

type gpiocdevDriver struct {
	chip string
}

func (d *gpiocdevDriver) Name() string { return BackendGPIOCDev }

type sysfsDriver struct {
	base string
}

func (d *sysfsDriver) Name() string { return BackendSysfs }

var pwmSysfsBase = "/sys/class/pwm"

type rpioDriver struct{}

func (d *rpioDriver) Name() string { return BackendRPIO }

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
