package hardware

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLine struct {
	mu      sync.Mutex
	values  []int
	closed  bool
	failSet error
}

func (l *fakeLine) SetValue(v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, v)
	return l.failSet
}

func (l *fakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLine) snapshot() ([]int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.values...), l.closed
}

func (l *fakeLine) last() int {
	vals, _ := l.snapshot()
	if len(vals) == 0 {
		return -1
	}
	return vals[len(vals)-1]
}

func TestSoftPWM_ZeroDutyHoldsLow(t *testing.T) {
	line := &fakeLine{}
	p := startSoftPWM(line, 1000, 0)

	require.Eventually(t, func() bool { return line.last() == 0 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	vals, _ := line.snapshot()
	for _, v := range vals {
		require.Equal(t, 0, v, "line toggled at duty 0")
	}
	require.NoError(t, p.Close())
}

func TestSoftPWM_FullDutyHoldsHigh(t *testing.T) {
	line := &fakeLine{}
	p := startSoftPWM(line, 1000, 0)
	require.NoError(t, p.SetDutyPercent(100))

	require.Eventually(t, func() bool { return line.last() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.Close())
}

func TestSoftPWM_PartialDutyToggles(t *testing.T) {
	line := &fakeLine{}
	p := startSoftPWM(line, 1000, 50)

	require.Eventually(t, func() bool {
		vals, _ := line.snapshot()
		highs, lows := 0, 0
		for _, v := range vals {
			if v == 1 {
				highs++
			} else {
				lows++
			}
		}
		return highs >= 3 && lows >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())
}

func TestSoftPWM_CloseDrivesLowAndReleasesLine(t *testing.T) {
	line := &fakeLine{}
	p := startSoftPWM(line, 1000, 100)
	require.Eventually(t, func() bool { return line.last() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, closed := line.snapshot()
	require.True(t, closed)
	require.Equal(t, 0, line.last())
}

func TestSoftPWM_SetDutyReportsLineError(t *testing.T) {
	line := &fakeLine{failSet: errors.New("line gone")}
	p := startSoftPWM(line, 1000, 0)
	defer p.Close()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.lastErr != nil
	}, time.Second, time.Millisecond)

	require.Error(t, p.SetDutyPercent(10))
}
