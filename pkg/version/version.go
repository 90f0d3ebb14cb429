// Package version reports how the recall binary was built.
//
// Release builds stamp the values with ldflags:
//
//	-X github.com/Aman-CERP/recall/pkg/version.Version=v0.4.0
//	-X github.com/Aman-CERP/recall/pkg/version.Commit=$(git rev-parse --short HEAD)
//	-X github.com/Aman-CERP/recall/pkg/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)
//
// A plain `go build` leaves them unset, and Current falls back to the VCS
// stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const unknown = "unknown"

// Set by ldflags.
var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Current returns the build metadata, filling unset ldflags values from
// the embedded VCS settings when available.
func Current() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromVCS(&info, bi.Settings)
	}
	return info
}

func fillFromVCS(info *BuildInfo, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == unknown && s.Value != "" {
				info.Commit = s.Value
				if len(info.Commit) > 12 {
					info.Commit = info.Commit[:12]
				}
			}
		case "vcs.time":
			if info.Date == unknown && s.Value != "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

// String renders the metadata on one line.
func (b BuildInfo) String() string {
	commit := b.Commit
	if b.Modified {
		commit += "+dirty"
	}
	return fmt.Sprintf("recall %s (commit %s, built %s, %s, %s)", b.Version, commit, b.Date, b.GoVersion, b.Platform)
}

// UserAgent identifies recall to remote model providers.
func UserAgent() string {
	return fmt.Sprintf("recall/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
