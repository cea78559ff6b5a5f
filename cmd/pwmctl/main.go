package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"pwmctl/internal/config"
	"pwmctl/internal/hardware"
	"pwmctl/internal/mqtt"
	"pwmctl/internal/pwm"
	"pwmctl/internal/web"
)

type options struct {
	Config     string `short:"c" long:"config" default:"./pwmctl.yaml" description:"Path to YAML config"`
	Listen     string `short:"l" long:"listen" description:"HTTP listen address (overrides config)"`
	NoHardware bool   `long:"no-hardware" description:"Track output state in memory only, never touch GPIO"`
	LogLevel   string `long:"log-level" description:"Log level (overrides config)"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.WithError(err).WithField("path", opts.Config).Fatal("config load failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Error("pwmctl failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.NoHardware {
		disabled := false
		cfg.Hardware.Enabled = &disabled
	}
	if opts.LogLevel != "" {
		if _, err := log.ParseLevel(opts.LogLevel); err != nil {
			return config.Config{}, err
		}
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) *web.LogBuffer {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	buf := web.NewLogBuffer(cfg.Log.BufferLines)
	log.AddHook(buf)
	return buf
}

func newController(cfg config.Config) (*pwm.Controller, error) {
	var drv hardware.Driver
	if cfg.HardwareEnabled() {
		d, err := cfg.Driver()
		if err != nil {
			return nil, err
		}
		drv = d
	}
	return pwm.NewController(cfg.ControllerConfig(), drv), nil
}

func run(ctx context.Context, cfg config.Config) error {
	logs := setupLogging(cfg)

	board := hardware.BoardModel()
	log.WithFields(log.Fields{
		"listen":  cfg.Listen,
		"outputs": len(cfg.Outputs),
		"board":   board,
	}).Info("pwmctl starting")

	ctl, err := newController(cfg)
	if err != nil {
		return err
	}
	ctl.Initialize()
	defer ctl.Shutdown()

	status := web.NewStatus()
	status.SetBoard(board)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.MQTT.Enable {
		bridge := mqtt.NewBridge(ctl, cfg.MQTT.TopicPrefix)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Run(ctx, cfg.MQTT.Broker, cfg.MQTT.ClientID); err != nil {
				// HTTP keeps serving without the bridge.
				log.WithError(err).Error("mqtt bridge stopped")
			}
		}()
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Debug("sd_notify ready failed")
	}

	err = web.Serve(ctx, cfg.Listen, web.Handler(ctl, status, logs))
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	log.Info("pwmctl stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	wg.Wait()
	return err
}
