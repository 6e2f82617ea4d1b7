// Package version reports the version of the jmon binaries: the Version set
// at link time, or else what the Go build info knows about the module.
package version

import "runtime/debug"

// Set at build time with:
// go build -ldflags "-X github.com/jmonlabs/jmon-daw-sub001/version.Version=$(git describe --dirty)"
var Version string

// Hash is the short VCS revision the binary was built from, with "-dirty"
// appended if the tree had local modifications, or "" if unknown.
var Hash = revision(debug.ReadBuildInfo())

// VersionOrHash is Version, or the module version when installed with go
// install, or Hash.
var VersionOrHash = func() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Hash
}()

func revision(info *debug.BuildInfo, ok bool) string {
	if !ok {
		return ""
	}
	settings := map[string]string{}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	rev := settings["vcs.revision"]
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if rev != "" && settings["vcs.modified"] == "true" {
		rev += "-dirty"
	}
	return rev
}
