package hardware

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeZone(t *testing.T, base, name, typ, temp string) {
	t.Helper()
	dir := filepath.Join(base, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "type"), []byte(typ+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "temp"), []byte(temp+"\n"), 0o644))
}

func TestParseMilliCelsius(t *testing.T) {
	v, err := parseMilliCelsius("52345\n")
	require.NoError(t, err)
	require.InDelta(t, 52.345, v, 1e-9)

	v, err = parseMilliCelsius("52")
	require.NoError(t, err)
	require.Equal(t, 52.0, v)

	_, err = parseMilliCelsius("\n")
	require.Error(t, err)

	_, err = parseMilliCelsius("warm")
	require.Error(t, err)
}

func TestReadCPUTempC_PrefersCPUZone(t *testing.T) {
	base := t.TempDir()
	writeZone(t, base, "thermal_zone0", "gpu-thermal", "30000")
	writeZone(t, base, "thermal_zone1", "cpu-thermal", "48500")

	v, err := readCPUTempCFrom(base)
	require.NoError(t, err)
	require.InDelta(t, 48.5, v, 1e-9)
}

func TestReadCPUTempC_FallsBackToZone0(t *testing.T) {
	base := t.TempDir()
	writeZone(t, base, "thermal_zone0", "soc", "42000")

	v, err := readCPUTempCFrom(base)
	require.NoError(t, err)
	require.Equal(t, 42.0, v)
}

func TestReadCPUTempC_Missing(t *testing.T) {
	_, err := readCPUTempCFrom(t.TempDir())
	require.Error(t, err)
}
