// Package version holds build-time metadata injected via -ldflags.
package version

import "runtime"

var (
	// GitRelease is the tagged release, set via -ldflags at build time.
	GitRelease = "dev"
	// GitCommit is the commit hash, set via -ldflags at build time.
	GitCommit = "unknown"
	// GitCommitDate is the commit timestamp, set via -ldflags at build time.
	GitCommitDate = "unknown"
)

// GoInfo reports the Go toolchain version used to build the binary.
var GoInfo = runtime.Version()
