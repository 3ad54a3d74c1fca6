package version

import (
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillPrefersLinkerValues(t *testing.T) {
	info := Info{Version: "v1.2.3", Commit: "abc", BuildTime: "today"}
	fill(&info, &debug.BuildInfo{
		Main:     debug.Module{Version: "v9.9.9"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "deadbeef"}},
	})
	assert.Equal(t, Info{Version: "v1.2.3", Commit: "abc", BuildTime: "today"}, info)
}

func TestFillFromBuildInfo(t *testing.T) {
	info := Info{Version: "unknown", Commit: "unknown", BuildTime: "unknown"}
	fill(&info, &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-10-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})
	assert.Equal(t, "v0.4.0", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-10-01T10:00:00Z", info.BuildTime)
	assert.True(t, info.Modified)
}

func TestFillIgnoresDevelVersion(t *testing.T) {
	info := Info{Version: "unknown"}
	fill(&info, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	assert.Equal(t, "unknown", info.Version)
}

func TestString(t *testing.T) {
	assert.True(t, strings.HasPrefix(String(), "storebuilder "))
}
