package pwm

import (
	"errors"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"pwmctl/internal/hardware"
)

// Channel binds an output id to a BCM GPIO pin.
type Channel struct {
	ID  string
	Pin int
}

type Config struct {
	Channels []Channel
	// HardwareEnabled=false skips every hardware call (test/dev mode).
	HardwareEnabled bool
	// FrequencyHz is the PWM frequency for every channel.
	FrequencyHz int
}

// HardwareStatus is a UI-friendly view of the hardware mode.
type HardwareStatus struct {
	Enabled     bool     `json:"enabled"`
	Active      bool     `json:"active"`
	Backend     string   `json:"backend,omitempty"`
	FrequencyHz int      `json:"frequency_hz"`
	Channels    []string `json:"channels_with_handle"`
	LastError   string   `json:"last_error,omitempty"`
}

type channel struct {
	// mu serializes the registry write and the hardware forward for one id,
	// so the last stored value is also the last value sent to the pin.
	mu  sync.Mutex
	pwm hardware.PWM
}

// Controller is the single authority for reading and changing PWM state.
//
// If the hardware cannot be acquired the controller keeps serving reads and
// writes against the registry and simply skips forwarding (software-only mode).
type Controller struct {
	cfg    Config
	driver hardware.Driver

	reg   *Registry
	chans map[string]*channel

	hwActive atomic.Bool

	hwMu      sync.Mutex
	hwCtx     hardware.Context
	lastHWErr string

	subsMu sync.RWMutex
	subs   []func(Output)

	shutdownOnce sync.Once
}

// NewController returns an uninitialized controller. driver may be nil when
// hardware is disabled.
func NewController(cfg Config, driver hardware.Driver) *Controller {
	if cfg.FrequencyHz <= 0 {
		cfg.FrequencyHz = hardware.DefaultFrequencyHz
	}
	return &Controller{cfg: cfg, driver: driver, reg: NewRegistry(nil)}
}

// Initialize creates every configured output at value 0 and then, if enabled,
// acquires the hardware. Hardware problems are logged, never returned.
//
// Must complete before any other method is called concurrently.
func (c *Controller) Initialize() {
	log.WithField("hardware_enabled", c.cfg.HardwareEnabled).Info("initializing pwm output controller")

	outputs := make([]Output, 0, len(c.cfg.Channels))
	c.chans = make(map[string]*channel, len(c.cfg.Channels))
	for _, ch := range c.cfg.Channels {
		o, _ := NewOutput(ch.ID, ch.Pin, 0) // 0 is always in range
		outputs = append(outputs, o)
		c.chans[ch.ID] = &channel{}
	}
	c.reg = NewRegistry(outputs)

	if !c.cfg.HardwareEnabled || c.driver == nil {
		log.Info("hardware disabled - running in software-only mode")
		return
	}
	c.initHardware()
}

func (c *Controller) initHardware() {
	l := log.WithField("backend", c.driver.Name())

	hwCtx, err := c.driver.Open()
	if err != nil {
		c.hardwareFailed(l, err, "unable to acquire hardware context, running in software-only mode")
		return
	}

	handles := 0
	for _, ch := range c.cfg.Channels {
		cl := l.WithFields(log.Fields{"id": ch.ID, "pin": ch.Pin})
		p, err := hwCtx.NewPWM(hardware.PWMConfig{
			ID:          ch.ID,
			Pin:         ch.Pin,
			FrequencyHz: c.cfg.FrequencyHz,
			DutyPercent: 0,
		})
		if err != nil {
			c.hardwareFailed(cl, err, "unable to create pwm channel, output will not drive its pin")
			continue
		}
		c.chans[ch.ID].pwm = p
		handles++
		cl.WithField("frequency_hz", c.cfg.FrequencyHz).Info("initialized pwm output")
	}

	if handles == 0 {
		l.Warn("no pwm channel could be created, running in software-only mode")
		if err := hwCtx.Close(); err != nil {
			l.WithError(err).Warn("error releasing hardware context")
		}
		return
	}

	c.hwMu.Lock()
	c.hwCtx = hwCtx
	c.hwMu.Unlock()
	c.hwActive.Store(true)
}

// hardwareFailed logs a hardware error. Expected absence (ErrUnavailable) is a
// warning; anything else is logged as an error but is still not fatal.
func (c *Controller) hardwareFailed(l *log.Entry, err error, msg string) {
	c.hwMu.Lock()
	c.lastHWErr = err.Error()
	c.hwMu.Unlock()

	if errors.Is(err, hardware.ErrUnavailable) {
		l.WithError(err).Warn(msg)
		return
	}
	l.WithError(err).WithField("unexpected", true).Error(msg)
}

// Outputs returns a snapshot of every output.
func (c *Controller) Outputs() []Output {
	return c.reg.List()
}

// Output returns the current state of id; ok is false for unknown ids.
func (c *Controller) Output(id string) (Output, bool) {
	return c.reg.Get(id)
}

// SetValue validates value, stores it, and forwards it to the pin when the
// hardware is active. It fails with *UnknownIDError or *ValidationError and
// leaves the state untouched in that case. Hardware errors are only logged.
func (c *Controller) SetValue(id string, value float64) (Output, error) {
	ch, ok := c.chans[id]
	if !ok {
		return Output{}, &UnknownIDError{ID: id}
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	cur, ok := c.reg.Get(id)
	if !ok {
		return Output{}, &UnknownIDError{ID: id}
	}
	updated, err := cur.WithValue(value)
	if err != nil {
		return Output{}, err
	}
	if err := c.reg.Put(id, updated); err != nil {
		return Output{}, err
	}

	c.forward(ch, updated)
	c.notify(updated)
	return updated, nil
}

func (c *Controller) forward(ch *channel, o Output) {
	if !c.hwActive.Load() || ch.pwm == nil {
		return
	}
	l := log.WithFields(log.Fields{"id": o.ID, "pin": o.Pin, "value": o.Value, "duty_percent": o.DutyPercent()})
	if err := ch.pwm.SetDutyPercent(o.DutyPercent()); err != nil {
		c.hardwareFailed(l, err, "unable to set pwm duty cycle")
		return
	}
	l.Info("set pwm output")
}

// Subscribe registers fn to be called after every successful SetValue.
// fn runs while the output's lock is held and must not block or call back
// into SetValue for the same id.
func (c *Controller) Subscribe(fn func(Output)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs = append(c.subs, fn)
}

func (c *Controller) notify(o Output) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for _, fn := range c.subs {
		fn(o)
	}
}

// HardwareActive reports whether values are forwarded to the pins.
func (c *Controller) HardwareActive() bool {
	return c.hwActive.Load()
}

func (c *Controller) Status() HardwareStatus {
	st := HardwareStatus{
		Enabled:     c.cfg.HardwareEnabled,
		Active:      c.hwActive.Load(),
		FrequencyHz: c.cfg.FrequencyHz,
		Channels:    []string{},
	}
	if c.driver != nil && c.cfg.HardwareEnabled {
		st.Backend = c.driver.Name()
	}
	for _, ch := range c.cfg.Channels {
		cc, ok := c.chans[ch.ID]
		if !ok {
			continue
		}
		cc.mu.Lock()
		if cc.pwm != nil && st.Active {
			st.Channels = append(st.Channels, ch.ID)
		}
		cc.mu.Unlock()
	}
	c.hwMu.Lock()
	st.LastError = c.lastHWErr
	c.hwMu.Unlock()
	return st
}

// Shutdown drives every output to 0 and releases the hardware. Failures are
// logged per channel so one bad channel does not keep the others on.
// Calling it more than once is a no-op.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		log.Info("shutting down pwm output controller")

		for _, ch := range c.cfg.Channels {
			if _, err := c.SetValue(ch.ID, 0); err != nil {
				log.WithError(err).WithField("id", ch.ID).Warn("failed to turn off output")
			}
		}

		c.hwActive.Store(false)
		for _, ch := range c.cfg.Channels {
			cc, ok := c.chans[ch.ID]
			if !ok {
				continue
			}
			cc.mu.Lock()
			if cc.pwm != nil {
				if err := cc.pwm.Close(); err != nil {
					log.WithError(err).WithField("id", ch.ID).Warn("error closing pwm channel")
				}
				cc.pwm = nil
			}
			cc.mu.Unlock()
		}

		c.hwMu.Lock()
		hwCtx := c.hwCtx
		c.hwCtx = nil
		c.hwMu.Unlock()
		if hwCtx != nil {
			if err := hwCtx.Close(); err != nil {
				log.WithError(err).Warn("error during hardware shutdown")
			}
		}
	})
}
