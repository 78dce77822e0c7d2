// Package version reports the build version of the estimator binary.
package version

import "runtime/debug"

// version is overridden at link time with -ldflags "-X estimator/pkg/version.version=...".
var version = ""

// Version returns the linked version, the module version, or "dev".
func Version() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
