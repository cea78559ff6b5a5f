package web

import (
	"sync/atomic"
	"time"

	"pwmctl/internal/hardware"
	"pwmctl/internal/pwm"
)

type Status struct {
	startUnixNano int64
	board         atomic.Value // string
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.board.Store("")
	return s
}

// SetBoard records the host board model reported on /api/status.
func (s *Status) SetBoard(model string) {
	s.board.Store(model)
}

type StatusSnapshot struct {
	Service   string             `json:"service"`
	NowUTC    string             `json:"now_utc"`
	UptimeSec int64              `json:"uptime_sec"`
	Board     string             `json:"board,omitempty"`
	CPUTempC  *float64           `json:"cpu_temp_c,omitempty"`
	Outputs   int                `json:"outputs"`
	Hardware  pwm.HardwareStatus `json:"hardware"`
}

var readCPUTempFn = hardware.ReadCPUTempC

func (s *Status) Snapshot(nowUTC time.Time, ctl Controller) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   "pwmctl",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Board:     s.board.Load().(string),
	}
	if c, err := readCPUTempFn(); err == nil {
		snap.CPUTempC = &c
	}
	if ctl != nil {
		snap.Outputs = len(ctl.Outputs())
		snap.Hardware = ctl.Status()
	}
	return snap
}
