// Package version provides information about the build version of the service.
package version

import (
	"runtime"
	"time"
)

// BuildInfo holds version information about the service build.
type BuildInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Info returns the build information. version, commit and date are set at build time:
//
//	-ldflags "-X 'ghdiscover/internal/core/version.version=v0.1.0'
//	          -X 'ghdiscover/internal/core/version.commit=abcd'
//	          -X 'ghdiscover/internal/core/version.date=2025-09-02'"
func Info() BuildInfo {
	return BuildInfo{
		Service:   "ghdiscover-scrape",
		Version:   version,
		Commit:    commit,
		Date:      date,
		GoVersion: runtime.Version(),
	}
}

// Started is the process start time, used for uptime reporting
var Started = time.Now()

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
