//go:build linux

package hardware

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeChip struct {
	name    string
	lines   map[string]int
	busy    bool
	closed  bool
	granted []*fakeLine
}

func (c *fakeChip) Name() string { return c.name }

func (c *fakeChip) FindLine(name string) (int, error) {
	off, ok := c.lines[name]
	if !ok {
		return 0, fmt.Errorf("line %q not found", name)
	}
	return off, nil
}

func (c *fakeChip) RequestOutput(offset int) (gpioLine, error) {
	if c.busy {
		return nil, errors.New("device or resource busy")
	}
	l := &fakeLine{}
	c.granted = append(c.granted, l)
	return l, nil
}

func (c *fakeChip) Close() error {
	c.closed = true
	return nil
}

func withFakeChips(t *testing.T, chips map[string]*fakeChip) {
	t.Helper()
	old := openChipFn
	openChipFn = func(path string) (gpioChip, error) {
		c, ok := chips[path]
		if !ok {
			return nil, errors.New("no such file or directory")
		}
		return c, nil
	}
	t.Cleanup(func() { openChipFn = old })
}

func TestGPIOCDev_OpenWithoutChipsIsUnavailable(t *testing.T) {
	withFakeChips(t, map[string]*fakeChip{})

	drv := &gpiocdevDriver{chip: "gpiochip9"}
	_, err := drv.Open()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnavailable), "err=%v", err)
}

func TestGPIOCDev_ResolvesPinByLineName(t *testing.T) {
	chip := &fakeChip{name: "/dev/gpiochip0", lines: map[string]int{"GPIO12": 12, "GPIO16": 16}}
	withFakeChips(t, map[string]*fakeChip{"/dev/gpiochip0": chip})

	drv := &gpiocdevDriver{chip: "gpiochip0"}
	ctx, err := drv.Open()
	require.NoError(t, err)

	p, err := ctx.NewPWM(PWMConfig{ID: "zk", Pin: 12, FrequencyHz: DefaultFrequencyHz})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Len(t, chip.granted, 1)

	_, err = ctx.NewPWM(PWMConfig{ID: "lk", Pin: 20, FrequencyHz: DefaultFrequencyHz})
	require.True(t, errors.Is(err, ErrUnavailable), "err=%v", err)

	require.NoError(t, ctx.Close())
	require.True(t, chip.closed)
	_, closed := chip.granted[0].snapshot()
	require.True(t, closed)

	_, err = ctx.NewPWM(PWMConfig{ID: "zk", Pin: 12, FrequencyHz: DefaultFrequencyHz})
	require.Error(t, err)
}

func TestGPIOCDev_BusyLineIsNotUnavailable(t *testing.T) {
	chip := &fakeChip{name: "/dev/gpiochip0", lines: map[string]int{"GPIO12": 12}, busy: true}
	withFakeChips(t, map[string]*fakeChip{"/dev/gpiochip0": chip})

	ctx, err := (&gpiocdevDriver{chip: "/dev/gpiochip0"}).Open()
	require.NoError(t, err)
	defer ctx.Close()

	_, err = ctx.NewPWM(PWMConfig{ID: "zk", Pin: 12, FrequencyHz: DefaultFrequencyHz})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrUnavailable))
}

func TestChipCandidates_Pinned(t *testing.T) {
	require.Equal(t, []string{"/dev/gpiochip4"}, chipCandidates("gpiochip4"))
	require.Equal(t, []string{"/dev/gpiochip0"}, chipCandidates("/dev/gpiochip0"))
}
