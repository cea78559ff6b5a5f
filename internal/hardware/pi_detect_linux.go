//go:build linux

package hardware

import (
	"os"
	"strings"
)

var deviceTreeModelPaths = []string{
	"/sys/firmware/devicetree/base/model",
	"/proc/device-tree/model",
}

// BoardModel returns the device-tree model string ("Raspberry Pi 4 Model B
// Rev 1.4"), or "" when the host exposes none.
func BoardModel() string {
	for _, p := range deviceTreeModelPaths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		model := strings.Trim(strings.TrimSpace(string(b)), "\x00")
		if model != "" {
			return model
		}
	}
	return ""
}

func isRaspberryPi5() bool {
	return strings.Contains(BoardModel(), "Raspberry Pi 5")
}
