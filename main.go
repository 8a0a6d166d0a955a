package main

import (
	"runtime/debug"

	"github.com/marcus/gridsync/cmd"
)

// Version is set with -ldflags "-X main.Version=...".
var Version = "dev"

// buildVersion falls back to the module version, then the VCS revision.
func buildVersion() string {
	if Version != "dev" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return "dev+" + s.Value[:12]
		}
	}
	return Version
}

func main() {
	cmd.SetVersion(buildVersion())
	cmd.Execute()
}
