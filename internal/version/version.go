// Package version reports which storebuilder build is running.
package version

import (
	"runtime/debug"
	"sync"
)

// Overridden at link time, e.g.
// -ldflags "-X git.home.luguber.info/inful/storebuilder/internal/version.Version=v0.4.0".
var (
	Version   = "unknown"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Info is the resolved build identity.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	once     sync.Once
	resolved Info
)

// Get returns the build identity. Values not injected by the linker are
// filled from the module build info embedded by the Go toolchain.
func Get() Info {
	once.Do(func() {
		resolved = Info{Version: Version, Commit: GitCommit, BuildTime: BuildTime}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		fill(&resolved, bi)
	})
	return resolved
}

func fill(info *Info, bi *debug.BuildInfo) {
	if info.Version == "unknown" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = s.Value
				if len(info.Commit) > 12 {
					info.Commit = info.Commit[:12]
				}
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

// String renders the version line printed by the CLI.
func String() string {
	i := Get()
	s := "storebuilder " + i.Version + " (" + i.Commit
	if i.Modified {
		s += "+dirty"
	}
	return s + ", built " + i.BuildTime + ")"
}
