package hardware

import (
	"errors"
	"math"
	"sync"
	"time"
)

// gpioLine is a requested output line.
type gpioLine interface {
	SetValue(v int) error
	Close() error
}

// softPWM bit-bangs a PWM waveform on a plain GPIO output line.
//
// Duty 0 and 100 hold the line steady and park the goroutine until the duty
// changes. Duty updates take effect at the start of the next period.
type softPWM struct {
	line   gpioLine
	period time.Duration

	mu      sync.Mutex
	duty    float64
	lastErr error

	update    chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func startSoftPWM(line gpioLine, hz int, duty float64) *softPWM {
	if hz <= 0 {
		hz = DefaultFrequencyHz
	}
	s := &softPWM{
		line:   line,
		period: time.Second / time.Duration(hz),
		duty:   clampPercent(duty),
		update: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *softPWM) SetDutyPercent(p float64) error {
	if math.IsNaN(p) {
		return errors.New("hardware: duty is NaN")
	}
	s.mu.Lock()
	s.duty = clampPercent(p)
	err := s.lastErr
	s.lastErr = nil
	s.mu.Unlock()

	select {
	case s.update <- struct{}{}:
	default:
	}
	return err
}

func (s *softPWM) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		err1 := s.line.SetValue(0)
		err2 := s.line.Close()
		s.closeErr = errors.Join(err1, err2)
	})
	return s.closeErr
}

func (s *softPWM) snapshot() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duty
}

func (s *softPWM) set(v int) {
	if err := s.line.SetValue(v); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	}
}

func (s *softPWM) run() {
	defer close(s.done)

	t := time.NewTimer(time.Hour)
	t.Stop()
	defer t.Stop()

	wait := func(d time.Duration) bool {
		if d <= 0 {
			return true
		}
		t.Reset(d)
		select {
		case <-t.C:
			return true
		case <-s.stop:
			return false
		}
	}

	for {
		duty := s.snapshot()
		switch {
		case duty <= 0 || duty >= 100:
			v := 0
			if duty >= 100 {
				v = 1
			}
			s.set(v)
			select {
			case <-s.update:
			case <-s.stop:
				return
			}
		default:
			on := time.Duration(float64(s.period) * duty / 100.0)
			s.set(1)
			if !wait(on) {
				return
			}
			s.set(0)
			if !wait(s.period - on) {
				return
			}
		}
	}
}
