// Package version carries build metadata stamped in with -ldflags.
package version

import "fmt"

var (
	// Version is the release version.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for -version.
func String() string {
	return fmt.Sprintf("unsquare %s (%s, built %s)", Version, GitSHA, BuildTime)
}
