package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"pwmctl/internal/hardware"
	"pwmctl/internal/pwm"
)

func newTestServer(t *testing.T) (*httptest.Server, *pwm.Controller) {
	t.Helper()
	ctl := pwm.NewController(pwm.Config{Channels: []pwm.Channel{
		{ID: "zk", Pin: 12},
		{ID: "mb", Pin: 16},
		{ID: "lk", Pin: 20},
		{ID: "kk", Pin: 21},
		{ID: "bk", Pin: 26},
	}}, nil)
	ctl.Initialize()

	ts := httptest.NewServer(Handler(ctl, NewStatus(), nil))
	t.Cleanup(ts.Close)
	return ts, ctl
}

func do(t *testing.T, method, url string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestGetAllOutputs(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/pwm")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var outs []pwm.Output
	require.NoError(t, json.Unmarshal([]byte(body), &outs))
	require.Len(t, outs, 5)
	ids := []string{}
	for _, o := range outs {
		ids = append(ids, o.ID)
	}
	require.ElementsMatch(t, []string{"zk", "mb", "lk", "kk", "bk"}, ids)
}

func TestGetSingleOutput(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/pwm/mb")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"id":"mb","pin":16,"value":0}`, body)
}

func TestGetUnknownOutputIs404(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, http.MethodGet, ts.URL+"/pwm/unknown")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetPwmValue(t *testing.T) {
	ts, ctl := newTestServer(t)

	resp, body := do(t, http.MethodPut, ts.URL+"/pwm/zk?value=0.75")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"id":"zk","pin":12,"value":0.75}`, body)

	o, _ := ctl.Output("zk")
	require.Equal(t, 0.75, o.Value)

	resp, body = do(t, http.MethodGet, ts.URL+"/pwm/zk")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"id":"zk","pin":12,"value":0.75}`, body)
}

func TestSetPwmValue_BadRequests(t *testing.T) {
	cases := []struct {
		name string
		path string
		want string
	}{
		{"MissingValue", "/pwm/zk", "Missing required query parameter"},
		{"NotANumber", "/pwm/zk?value=half", "Invalid value: half"},
		{"OutOfRange", "/pwm/zk?value=1.5", "must be between 0.0 and 1.0"},
		{"Negative", "/pwm/zk?value=-0.1", "must be between 0.0 and 1.0"},
		{"NaN", "/pwm/zk?value=NaN", "must be between 0.0 and 1.0"},
		{"UnknownID", "/pwm/unknown?value=0.5", "Unknown output ID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, ctl := newTestServer(t)
			resp, body := do(t, http.MethodPut, ts.URL+tc.path)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
			require.Contains(t, body, tc.want)

			o, _ := ctl.Output("zk")
			require.Equal(t, 0.0, o.Value)
		})
	}
}

func TestWrongMethodIs405(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, http.MethodPost, ts.URL+"/pwm/zk?value=0.5")
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Allow"), http.MethodPut)
}

type failingController struct {
	*pwm.Controller
}

func (f failingController) SetValue(id string, v float64) (pwm.Output, error) {
	return pwm.Output{}, errors.New("disk on fire")
}

func TestSetPwmValue_UnexpectedErrorIs500(t *testing.T) {
	ctl := pwm.NewController(pwm.Config{Channels: []pwm.Channel{{ID: "zk", Pin: 12}}}, nil)
	ctl.Initialize()
	ts := httptest.NewServer(Handler(failingController{ctl}, nil, nil))
	defer ts.Close()

	resp, body := do(t, http.MethodPut, ts.URL+"/pwm/zk?value=0.5")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotContains(t, body, "disk on fire")
}

func TestAPIStatus(t *testing.T) {
	old := readCPUTempFn
	readCPUTempFn = func() (float64, error) { return 48.5, nil }
	t.Cleanup(func() { readCPUTempFn = old })

	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap StatusSnapshot
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	require.Equal(t, "pwmctl", snap.Service)
	require.Equal(t, 5, snap.Outputs)
	require.False(t, snap.Hardware.Enabled)
	require.False(t, snap.Hardware.Active)
	require.NotNil(t, snap.CPUTempC)
	require.Equal(t, 48.5, *snap.CPUTempC)
}

func TestAPIAbout(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/about")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var about AboutResponse
	require.NoError(t, json.Unmarshal([]byte(body), &about))
	require.Equal(t, "pwmctl", about.Service)
	require.NotEmpty(t, about.GoVersion)
	require.Empty(t, about.Backend)
	require.Equal(t, 1500, about.FrequencyHz)
	require.Len(t, about.Channels, 5)
	require.Equal(t, AboutChannel{ID: "zk", Pin: 12}, about.Channels[0])
	require.Equal(t, AboutChannel{ID: "bk", Pin: 26}, about.Channels[4])

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/about")
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPIAbout_ReportsBackendAndHandles(t *testing.T) {
	ctl := pwm.NewController(pwm.Config{
		Channels:        []pwm.Channel{{ID: "zk", Pin: 12}, {ID: "mb", Pin: 16}},
		HardwareEnabled: true,
		FrequencyHz:     800,
	}, aboutDriver{})
	ctl.Initialize()
	t.Cleanup(ctl.Shutdown)

	status := NewStatus()
	status.SetBoard("Raspberry Pi 4 Model B Rev 1.4")
	ts := httptest.NewServer(Handler(ctl, status, nil))
	t.Cleanup(ts.Close)

	_, body := do(t, http.MethodGet, ts.URL+"/api/about")
	var about AboutResponse
	require.NoError(t, json.Unmarshal([]byte(body), &about))
	require.Equal(t, "fake", about.Backend)
	require.Equal(t, 800, about.FrequencyHz)
	require.Equal(t, "Raspberry Pi 4 Model B Rev 1.4", about.Board)
	require.Equal(t, []AboutChannel{
		{ID: "zk", Pin: 12, HasHandle: true},
		{ID: "mb", Pin: 16, HasHandle: false},
	}, about.Channels)
}

func TestConcurrentPuts(t *testing.T) {
	ts, ctl := newTestServer(t)

	var wg sync.WaitGroup
	for _, v := range []string{"0.1", "0.2", "0.3", "0.4"} {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				req, _ := http.NewRequest(http.MethodPut, ts.URL+"/pwm/kk?value="+v, nil)
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					t.Errorf("put: %v", err)
					return
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}(v)
	}
	wg.Wait()

	o, _ := ctl.Output("kk")
	require.Contains(t, []float64{0.1, 0.2, 0.3, 0.4}, o.Value)
}

func TestLogsEndpoint(t *testing.T) {
	buf := NewLogBuffer(10)
	logger := log.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(buf)
	logger.WithField("id", "zk").Info("set pwm output")

	ctl := pwm.NewController(pwm.Config{}, nil)
	ctl.Initialize()
	ts := httptest.NewServer(Handler(ctl, nil, buf))
	defer ts.Close()

	resp, body := do(t, http.MethodGet, ts.URL+"/api/logs?format=text")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "set pwm output")
	require.Contains(t, body, "id=zk")

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/logs?tail=0")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// aboutDriver hands out handles for every pin except 16.
type aboutDriver struct{}

func (aboutDriver) Name() string                    { return "fake" }
func (aboutDriver) Open() (hardware.Context, error) { return aboutContext{}, nil }

type aboutContext struct{}

func (aboutContext) NewPWM(cfg hardware.PWMConfig) (hardware.PWM, error) {
	if cfg.Pin == 16 {
		return nil, hardware.ErrUnavailable
	}
	return nopPWM{}, nil
}
func (aboutContext) Close() error { return nil }

type nopPWM struct{}

func (nopPWM) SetDutyPercent(float64) error { return nil }
func (nopPWM) Close() error                 { return nil }
