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

// String returns the build identity recorded in FITS ORIGIN cards and
// catalog rows, e.g. "bullseye dev (unknown)".
func String() string {
	return fmt.Sprintf("bullseye %s (%s)", Version, GitSHA)
}
