//go:build linux

package hardware

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// sysfsChannelForPin maps BCM GPIO numbers to the channel they are routed to
// on the Raspberry Pi PWM controller.
//
// On the Pi you typically need `dtoverlay=pwm-2chan` (or equivalent) so the
// channels show up under /sys/class/pwm. Other pins have no hardware PWM.
var sysfsChannelForPin = map[int]int{
	12: 0,
	18: 0,
	13: 1,
	19: 1,
}

func (d *sysfsDriver) Open() (Context, error) {
	chipPath, npwm, err := findPWMChip(d.base)
	if err != nil {
		return nil, err
	}
	return &sysfsContext{chipPath: chipPath, npwm: npwm, open: map[int]*sysfsPWM{}}, nil
}

func findPWMChip(base string) (chipPath string, npwm int, err error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read %s: %w", ErrUnavailable, base, err)
	}

	// Prefer pwmchip0 if present (common on Pi).
	preferred := []string{"pwmchip0", "pwmchip1", "pwmchip2"}
	// Note: in sysfs, pwmchipN entries are commonly symlinks, not directories.
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "pwmchip") {
			seen[name] = true
		}
	}
	candidates := make([]string, 0, len(preferred)+len(entries))
	for _, name := range preferred {
		if seen[name] {
			candidates = append(candidates, name)
		}
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "pwmchip") && !contains(candidates, name) {
			candidates = append(candidates, name)
		}
	}

	for _, name := range candidates {
		chip := filepath.Join(base, name)
		n, rerr := readInt(filepath.Join(chip, "npwm"))
		if rerr != nil || n <= 0 {
			continue
		}
		return chip, n, nil
	}

	return "", 0, fmt.Errorf("%w: no sysfs pwmchip found (is the pwm overlay enabled?)", ErrUnavailable)
}

type sysfsContext struct {
	chipPath string
	npwm     int

	mu   sync.Mutex
	open map[int]*sysfsPWM // by channel
}

func (c *sysfsContext) NewPWM(cfg PWMConfig) (PWM, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	channel, ok := sysfsChannelForPin[cfg.Pin]
	if !ok || channel >= c.npwm {
		return nil, fmt.Errorf("%w: gpio%d has no sysfs pwm channel", ErrUnavailable, cfg.Pin)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return nil, fmt.Errorf("hardware: sysfs context closed")
	}
	if other, busy := c.open[channel]; busy {
		return nil, fmt.Errorf("hardware: pwm channel %d already used by gpio%d", channel, other.pin)
	}

	d := &sysfsPWM{
		chipPath: c.chipPath,
		channel:  channel,
		pin:      cfg.Pin,
		pwmPath:  filepath.Join(c.chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	if err := d.setFrequencyHz(cfg.FrequencyHz); err != nil {
		return nil, err
	}
	if err := d.SetDutyPercent(cfg.DutyPercent); err != nil {
		return nil, err
	}
	c.open[channel] = d
	return d, nil
}

func (c *sysfsContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, d := range c.open {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.open = nil
	return errors.Join(errs...)
}

// sysfsPWM drives a hardware PWM channel via /sys/class/pwm.
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int
	pin      int

	mu       sync.Mutex
	periodNS uint64
	enabled  bool
	closed   bool
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	// Export channel.
	exportPath := filepath.Join(d.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(d.channel)); err != nil {
		// If already exported by someone else, ignore.
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("hardware: export pwm: %w", err)
	}

	// Wait briefly for sysfs node to appear.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("hardware: pwm path not created after export: %w", err)
	}
	return nil
}

func (d *sysfsPWM) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err1 := d.writeUint("duty_cycle", 0)
	err2 := d.writeBool("enable", false)
	d.enabled = false
	return errors.Join(err1, err2)
}

func (d *sysfsPWM) setFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("hardware: invalid frequency %d", hz)
	}
	periodNS := uint64(1_000_000_000 / hz)
	if periodNS == 0 {
		periodNS = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Disable before changing period/duty (common sysfs requirement).
	_ = d.writeBool("enable", false)
	d.enabled = false

	// duty_cycle must never exceed period; reset it before shrinking the period.
	_ = d.writeUint("duty_cycle", 0)
	if err := d.writeUint("period", periodNS); err != nil {
		return err
	}
	d.periodNS = periodNS
	return nil
}

func (d *sysfsPWM) SetDutyPercent(p float64) error {
	if math.IsNaN(p) {
		return errors.New("hardware: duty is NaN")
	}
	p = clampPercent(p)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("hardware: pwm%d closed", d.channel)
	}
	if d.periodNS == 0 {
		d.periodNS = 1_000_000_000 / DefaultFrequencyHz
	}

	duty := uint64(math.Round(float64(d.periodNS) * (p / 100.0)))
	if duty > d.periodNS {
		duty = d.periodNS
	}
	if err := d.writeUint("duty_cycle", duty); err != nil {
		return err
	}

	if !d.enabled {
		if err := d.writeBool("enable", true); err != nil {
			return err
		}
		d.enabled = true
	}
	return nil
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	p := filepath.Join(d.pwmPath, name)
	return writeSysfs(p, strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	p := filepath.Join(d.pwmPath, name)
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(p, val)
}

var sysfsRetryWindow = 2 * time.Second

// sysfsOpenFlags is O_WRONLY only: some sysfs attributes reject O_TRUNC/O_CREATE
// even when the mode bits allow writes.
var sysfsOpenFlags = os.O_WRONLY

func writeSysfs(path string, value string) error {
	// Right after exporting a PWM channel udev may still be adjusting
	// permissions, so EACCES/ENOENT are retried for a short window.
	deadline := time.Now().Add(sysfsRetryWindow)
	var lastErr error
	for {
		f, err := os.OpenFile(path, sysfsOpenFlags, 0)
		if err != nil {
			lastErr = err
			if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
				time.Sleep(25 * time.Millisecond)
				continue
			}
			return err
		}
		_, werr := f.WriteString(value)
		cerr := f.Close()
		if werr == nil && cerr == nil {
			return nil
		}
		lastErr = errors.Join(werr, cerr)
		if time.Now().Before(deadline) && isRetryableSysfsErr(lastErr) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return lastErr
	}
}

func isRetryableSysfsErr(err error) bool {
	return errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
