package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
)

// AboutChannel is one configured output as reported by /api/about.
type AboutChannel struct {
	ID        string `json:"id"`
	Pin       int    `json:"pin"`
	HasHandle bool   `json:"has_handle"`
}

// AboutResponse describes this build and the output wiring it runs with.
type AboutResponse struct {
	Service     string         `json:"service"`
	Version     string         `json:"version,omitempty"`
	Commit      string         `json:"commit,omitempty"`
	Dirty       bool           `json:"dirty,omitempty"`
	GoVersion   string         `json:"go_version"`
	Board       string         `json:"board,omitempty"`
	Backend     string         `json:"backend,omitempty"`
	FrequencyHz int            `json:"frequency_hz"`
	Channels    []AboutChannel `json:"channels"`
}

type buildInfo struct {
	version string
	commit  string
	dirty   bool
}

var readBuildInfo = sync.OnceValue(func() buildInfo {
	var bi buildInfo
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return bi
	}
	bi.version = info.Main.Version
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			bi.commit = s.Value
			if len(bi.commit) > 12 {
				bi.commit = bi.commit[:12]
			}
		case "vcs.modified":
			bi.dirty = s.Value == "true"
		}
	}
	return bi
})

func aboutHandler(ctl Controller, status *Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bi := readBuildInfo()
		hw := ctl.Status()

		withHandle := make(map[string]bool, len(hw.Channels))
		for _, id := range hw.Channels {
			withHandle[id] = true
		}
		outs := ctl.Outputs()
		chans := make([]AboutChannel, 0, len(outs))
		for _, o := range outs {
			chans = append(chans, AboutChannel{ID: o.ID, Pin: o.Pin, HasHandle: withHandle[o.ID]})
		}

		writeJSON(w, http.StatusOK, AboutResponse{
			Service:     "pwmctl",
			Version:     bi.version,
			Commit:      bi.commit,
			Dirty:       bi.dirty,
			GoVersion:   runtime.Version(),
			Board:       status.board.Load().(string),
			Backend:     hw.Backend,
			FrequencyHz: hw.FrequencyHz,
			Channels:    chans,
		})
	}
}
