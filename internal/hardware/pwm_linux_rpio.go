//go:build linux

package hardware

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// rpioCycleLen is the number of clock ticks per PWM period. The PWM clock is
// set to FrequencyHz*rpioCycleLen so the output runs at FrequencyHz.
const rpioCycleLen = 1000

// rpioPWMPins are the BCM pins that can be routed to the PWM peripheral.
var rpioPWMPins = map[int]bool{12: true, 13: true, 18: true, 19: true}

// go-rpio maps the peripheral registers directly, which only works on the
// BCM283x/BCM2711 SoCs. Pi 5 moved GPIO to the RP1 chip.
var isRaspberryPi5Fn = isRaspberryPi5

var (
	rpioOpenFn  = rpio.Open
	rpioCloseFn = rpio.Close
)

func (d *rpioDriver) Open() (Context, error) {
	if isRaspberryPi5Fn() {
		return nil, fmt.Errorf("%w: rpio backend does not support Raspberry Pi 5", ErrUnavailable)
	}
	if err := rpioOpenFn(); err != nil {
		return nil, fmt.Errorf("%w: rpio open: %w", ErrUnavailable, err)
	}
	return &rpioContext{}, nil
}

type rpioContext struct {
	mu     sync.Mutex
	pwms   []*rpioPWM
	closed bool
}

func (c *rpioContext) NewPWM(cfg PWMConfig) (PWM, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !rpioPWMPins[cfg.Pin] {
		return nil, fmt.Errorf("%w: gpio%d is not a hardware pwm pin", ErrUnavailable, cfg.Pin)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("hardware: rpio context closed")
	}

	pin := rpio.Pin(cfg.Pin)
	pin.Mode(rpio.Pwm)
	pin.Freq(cfg.FrequencyHz * rpioCycleLen)
	p := &rpioPWM{pin: pin}
	if err := p.SetDutyPercent(cfg.DutyPercent); err != nil {
		return nil, err
	}
	c.pwms = append(c.pwms, p)
	return p, nil
}

func (c *rpioContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, p := range c.pwms {
		_ = p.Close()
	}
	c.pwms = nil
	return rpioCloseFn()
}

type rpioPWM struct {
	mu     sync.Mutex
	pin    rpio.Pin
	closed bool
}

func (p *rpioPWM) SetDutyPercent(pct float64) error {
	if math.IsNaN(pct) {
		return errors.New("hardware: duty is NaN")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("hardware: gpio%d closed", p.pin)
	}
	p.pin.DutyCycle(rpioDutyLen(pct), rpioCycleLen)
	return nil
}

func (p *rpioPWM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.pin.DutyCycle(0, rpioCycleLen)
	p.pin.Mode(rpio.Input)
	return nil
}

func rpioDutyLen(pct float64) uint32 {
	return uint32(math.Round(clampPercent(pct) / 100 * rpioCycleLen))
}
