//go:build linux

package hardware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

const gpioConsumer = "pwmctl"

type gpioChip interface {
	Name() string
	FindLine(name string) (int, error)
	RequestOutput(offset int) (gpioLine, error)
	Close() error
}

type cdevChip struct {
	path string
	c    *gpiocdev.Chip
}

func (c *cdevChip) Name() string { return c.path }

func (c *cdevChip) FindLine(name string) (int, error) { return c.c.FindLine(name) }

func (c *cdevChip) RequestOutput(offset int) (gpioLine, error) {
	l, err := c.c.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(gpioConsumer))
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (c *cdevChip) Close() error { return c.c.Close() }

func openCDevChip(path string) (gpioChip, error) {
	c, err := gpiocdev.NewChip(path)
	if err != nil {
		return nil, err
	}
	return &cdevChip{path: path, c: c}, nil
}

var openChipFn = openCDevChip

// chipCandidates lists the character devices to probe. Pi 5 kernel variants
// expose the header GPIOs on gpiochip0 or gpiochip4.
func chipCandidates(pinned string) []string {
	if pinned != "" {
		if !strings.HasPrefix(pinned, "/") {
			pinned = filepath.Join("/dev", pinned)
		}
		return []string{pinned}
	}
	out := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		p := filepath.Join("/dev", e.Name())
		if strings.HasPrefix(e.Name(), "gpiochip") && !contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// Open acquires every GPIO chip it can. Pins are later resolved by line name
// ("GPIO12") across those chips.
func (d *gpiocdevDriver) Open() (Context, error) {
	var chips []gpioChip
	var errs []error
	for _, path := range chipCandidates(d.chip) {
		c, err := openChipFn(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		chips = append(chips, c)
	}
	if len(chips) == 0 {
		return nil, fmt.Errorf("%w: no gpio chip could be opened: %w", ErrUnavailable, errors.Join(errs...))
	}
	return &gpiocdevContext{chips: chips}, nil
}

type gpiocdevContext struct {
	mu     sync.Mutex
	chips  []gpioChip
	pwms   []*softPWM
	closed bool
}

func (c *gpiocdevContext) NewPWM(cfg PWMConfig) (PWM, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("hardware: gpiocdev context closed")
	}

	lineName := fmt.Sprintf("GPIO%d", cfg.Pin)
	for _, chip := range c.chips {
		offset, err := chip.FindLine(lineName)
		if err != nil {
			continue
		}
		line, err := chip.RequestOutput(offset)
		if err != nil {
			return nil, fmt.Errorf("hardware: request %s on %s: %w", lineName, chip.Name(), err)
		}
		p := startSoftPWM(line, cfg.FrequencyHz, cfg.DutyPercent)
		c.pwms = append(c.pwms, p)
		return p, nil
	}
	return nil, fmt.Errorf("%w: gpio line %q not found", ErrUnavailable, lineName)
}

func (c *gpiocdevContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, p := range c.pwms {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, chip := range c.chips {
		if err := chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", chip.Name(), err))
		}
	}
	c.pwms = nil
	c.chips = nil
	return errors.Join(errs...)
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
