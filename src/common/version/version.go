// Package version provides build version information for ibforge.
package version

import (
	"fmt"
	"runtime"
)

// Info holds version information. Values are set at build time via ldflags.
type Info struct {
	// Version is the full version string, e.g. "v1.2.0-4f9f297"
	Version string

	// ReleaseVersion is the semantic version (e.g., "1.2.0")
	ReleaseVersion string

	// BuildDate is the ISO 8601 build timestamp
	BuildDate string

	// GitCommit is the short git commit hash
	GitCommit string
}

// Default values for unset version info
var (
	DefaultVersion        = "dev"
	DefaultReleaseVersion = "0.0.0"
	DefaultBuildDate      = "unknown"
	DefaultGitCommit      = "unknown"
)

// New creates a new Info with default values
func New() *Info {
	return &Info{
		Version:        DefaultVersion,
		ReleaseVersion: DefaultReleaseVersion,
		BuildDate:      DefaultBuildDate,
		GitCommit:      DefaultGitCommit,
	}
}

// GoVersion returns the Go runtime version
func GoVersion() string {
	return runtime.Version()
}

// String returns the full version string
func (i *Info) String() string {
	return i.Version
}

// Short returns a short version string (release version + commit)
func (i *Info) Short() string {
	return fmt.Sprintf("v%s-%s", i.ReleaseVersion, i.GitCommit)
}

// UserAgent returns the HTTP User-Agent used for downloads
func (i *Info) UserAgent() string {
	return "ibforge/" + i.ReleaseVersion
}

// Full returns a detailed multi-line version string
func (i *Info) Full() string {
	return fmt.Sprintf(`ibforge %s
  Version:    %s
  Build Date: %s
  Git Commit: %s
  Go Version: %s
  Platform:   %s/%s`,
		i.Version,
		i.ReleaseVersion,
		i.BuildDate,
		i.GitCommit,
		GoVersion(),
		runtime.GOOS,
		runtime.GOARCH,
	)
}
