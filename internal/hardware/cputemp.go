package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var thermalBase = "/sys/class/thermal"

// ReadCPUTempC returns the SoC temperature in degrees Celsius. It prefers the
// zone whose type is cpu-thermal and falls back to thermal_zone0.
func ReadCPUTempC() (float64, error) {
	return readCPUTempCFrom(thermalBase)
}

func readCPUTempCFrom(base string) (float64, error) {
	zone := filepath.Join(base, "thermal_zone0")
	if zs, _ := filepath.Glob(filepath.Join(base, "thermal_zone*")); len(zs) > 0 {
		for _, z := range zs {
			b, err := os.ReadFile(filepath.Join(z, "type"))
			if err == nil && strings.TrimSpace(string(b)) == "cpu-thermal" {
				zone = z
				break
			}
		}
	}
	b, err := os.ReadFile(filepath.Join(zone, "temp"))
	if err != nil {
		return 0, fmt.Errorf("read cpu temp: %w", err)
	}
	return parseMilliCelsius(string(b))
}

// parseMilliCelsius accepts milli-degrees (52345) and, on odd kernels, whole
// degrees (52).
func parseMilliCelsius(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("cpu temp empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse cpu temp %q: %w", s, err)
	}
	if n > 1000 || n < -1000 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}
