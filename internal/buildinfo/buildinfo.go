// Package buildinfo reports the version stamped at link time, falling back
// to the VCS data the Go toolchain embeds.
package buildinfo

import (
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X granix/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	commit, builtAt := Commit, BuiltAt
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && commit == "":
				commit = s.Value
			case s.Key == "vcs.time" && builtAt == "":
				builtAt = s.Value
			}
		}
	}
	return map[string]string{
		"version": Version,
		"commit":  commit,
		"builtAt": builtAt,
		"go":      runtime.Version(),
	}
}
