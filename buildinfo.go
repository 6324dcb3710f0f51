package hostlink

import (
	"runtime"
	"runtime/debug"
)

var (
	buildCommit = "dev"
	buildTime   = ""
)

// BuildInfo reports library build/runtime details, useful for diagnostics
// in a host application's About screen or a CLI's version command.
type BuildInfo struct {
	Commit    string
	BuildTime string
	GoVersion string
	GOOS      string
	GOARCH    string
	Dirty     bool
}

// GetBuildInfo returns build/runtime details for this binary.
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Commit:    buildCommit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.GoVersion != "" {
			info.GoVersion = bi.GoVersion
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" || info.Commit == "dev" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}
	return info
}
