package version

import (
	"encoding/json"
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrent_ReportsRuntime(t *testing.T) {
	info := Current()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.Date)
}

func TestFillFromVCS(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	tests := []struct {
		name       string
		start      BuildInfo
		wantCommit string
		wantDate   string
	}{
		{
			name:       "unset values come from vcs",
			start:      BuildInfo{Commit: unknown, Date: unknown},
			wantCommit: "0123456789ab",
			wantDate:   "2026-03-01T10:00:00Z",
		},
		{
			name:       "ldflags values win",
			start:      BuildInfo{Commit: "abc1234", Date: "2026-01-01"},
			wantCommit: "abc1234",
			wantDate:   "2026-01-01",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.start

			fillFromVCS(&info, settings)

			assert.Equal(t, tt.wantCommit, info.Commit)
			assert.Equal(t, tt.wantDate, info.Date)
			assert.True(t, info.Modified)
		})
	}
}

func TestBuildInfo_String(t *testing.T) {
	info := BuildInfo{Version: "v1.2.0", Commit: "abc1234", Date: "2026-01-01", Modified: true, GoVersion: "go1.25.5", Platform: "linux/amd64"}

	assert.Equal(t, "recall v1.2.0 (commit abc1234+dirty, built 2026-01-01, go1.25.5, linux/amd64)", info.String())
}

func TestBuildInfo_JSONFields(t *testing.T) {
	data, err := json.Marshal(BuildInfo{Version: "v1.2.0", Commit: "abc1234"})
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	for _, key := range []string{"version", "commit", "date", "go_version", "platform"} {
		assert.Contains(t, parsed, key)
	}
	assert.NotContains(t, parsed, "modified")
}

func TestUserAgent_NamesProgramAndPlatform(t *testing.T) {
	ua := UserAgent()

	assert.True(t, strings.HasPrefix(ua, "recall/"+Version+" "))
	assert.Contains(t, ua, runtime.GOOS+"/"+runtime.GOARCH)
}
