package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"pwmctl/internal/hardware"
	"pwmctl/internal/pwm"
)

type Config struct {
	Listen   string         `yaml:"listen"`
	Log      LogConfig      `yaml:"log"`
	Hardware HardwareConfig `yaml:"hardware"`
	Outputs  []OutputConfig `yaml:"outputs"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// BufferLines is how many recent lines /api/logs keeps.
	BufferLines int `yaml:"buffer_lines"`
}

type HardwareConfig struct {
	// Enabled defaults to true; set false to run without touching GPIO.
	Enabled     *bool  `yaml:"enabled"`
	Backend     string `yaml:"backend"`
	GPIOChip    string `yaml:"gpio_chip"`
	SysfsBase   string `yaml:"sysfs_base"`
	FrequencyHz int    `yaml:"frequency_hz"`
}

// OutputConfig binds a channel id to a BCM GPIO pin.
type OutputConfig struct {
	ID  string `yaml:"id"`
	Pin int    `yaml:"pin"`
}

type MQTTConfig struct {
	Enable      bool   `yaml:"enable"`
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// DefaultOutputs is the reference channel map.
func DefaultOutputs() []OutputConfig {
	return []OutputConfig{
		{ID: "zk", Pin: 12},
		{ID: "mb", Pin: 16},
		{ID: "lk", Pin: 20},
		{ID: "kk", Pin: 21},
		{ID: "bk", Pin: 26},
	}
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	cfg := Config{}
	if err := cfg.applyDefaults(); err != nil {
		// Defaults are static; they always validate.
		panic(err)
	}
	return cfg
}

// Load reads a YAML config file. A missing file yields Default().
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("path", path).Warn("config file not found, using defaults")
			return Default(), nil
		}
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, rejecting unknown fields, then applies defaults and
// validation.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown or invalid fields: %s", strings.Join(te.Errors, "; "))
		}
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.Log.BufferLines <= 0 {
		cfg.Log.BufferLines = 2000
	}

	if cfg.Hardware.Enabled == nil {
		enabled := true
		cfg.Hardware.Enabled = &enabled
	}
	if cfg.Hardware.Backend == "" {
		cfg.Hardware.Backend = hardware.BackendAuto
	}
	if _, err := hardware.New(cfg.Hardware.driverOptions()); err != nil {
		return fmt.Errorf("hardware.backend %q is not supported (want auto, gpiocdev, sysfs or rpio)", cfg.Hardware.Backend)
	}
	if cfg.Hardware.FrequencyHz == 0 {
		cfg.Hardware.FrequencyHz = hardware.DefaultFrequencyHz
	}
	if cfg.Hardware.FrequencyHz < 0 {
		return fmt.Errorf("hardware.frequency_hz must be > 0")
	}

	if len(cfg.Outputs) == 0 {
		cfg.Outputs = DefaultOutputs()
	}
	ids := make(map[string]bool, len(cfg.Outputs))
	pins := make(map[int]string, len(cfg.Outputs))
	for i, o := range cfg.Outputs {
		if strings.TrimSpace(o.ID) == "" {
			return fmt.Errorf("outputs[%d].id is required", i)
		}
		if strings.ContainsAny(o.ID, "/#+ ") {
			return fmt.Errorf("outputs[%d].id %q must not contain '/', '#', '+' or spaces", i, o.ID)
		}
		if ids[o.ID] {
			return fmt.Errorf("outputs[%d].id %q is duplicated", i, o.ID)
		}
		ids[o.ID] = true
		if o.Pin < 0 {
			return fmt.Errorf("outputs[%d].pin must be >= 0", i)
		}
		if other, dup := pins[o.Pin]; dup {
			return fmt.Errorf("outputs[%d].pin %d is already used by %q", i, o.Pin, other)
		}
		pins[o.Pin] = o.ID
	}

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "pwmctl"
	}
	cfg.MQTT.TopicPrefix = strings.TrimRight(cfg.MQTT.TopicPrefix, "/")
	if cfg.MQTT.Enable && strings.TrimSpace(cfg.MQTT.Broker) == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}
	return nil
}

func (h HardwareConfig) driverOptions() hardware.Options {
	return hardware.Options{Backend: h.Backend, GPIOChip: h.GPIOChip, SysfsBase: h.SysfsBase}
}

// HardwareEnabled reports the effective hardware toggle.
func (cfg Config) HardwareEnabled() bool {
	return cfg.Hardware.Enabled == nil || *cfg.Hardware.Enabled
}

// Driver builds the configured hardware driver.
func (cfg Config) Driver() (hardware.Driver, error) {
	return hardware.New(cfg.Hardware.driverOptions())
}

// ControllerConfig maps the file layout onto the controller's configuration.
func (cfg Config) ControllerConfig() pwm.Config {
	chans := make([]pwm.Channel, 0, len(cfg.Outputs))
	for _, o := range cfg.Outputs {
		chans = append(chans, pwm.Channel{ID: o.ID, Pin: o.Pin})
	}
	return pwm.Config{
		Channels:        chans,
		HardwareEnabled: cfg.HardwareEnabled(),
		FrequencyHz:     cfg.Hardware.FrequencyHz,
	}
}
