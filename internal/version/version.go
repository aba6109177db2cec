// Package version carries build information stamped in with -ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build information for logs and --version.
func String() string {
	return fmt.Sprintf("grasp %s (%s, built %s)", Version, GitSHA, BuildTime)
}
