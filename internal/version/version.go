// Package version carries build identity stamped in via -ldflags.
package version

import "fmt"

var (
	// Version is the release tag, or "dev" for untagged builds.
	Version = "dev"
	// GitSHA is the git commit SHA the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String renders the build identity for startup logs and debug output.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
