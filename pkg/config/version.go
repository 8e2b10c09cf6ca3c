// Package config carries the build identity stamped into the binaries.
package config

import (
	"fmt"
	"runtime"
)

// Set at build time via -ldflags:
//
//	-X github.com/spanlight/spanlight/pkg/config.Version=v1.2.3
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildInfo is the serializable build identity exposed by the version
// commands and the /health endpoint.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns the current build identity.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// VersionString returns the one-line human form.
func VersionString() string {
	return fmt.Sprintf("spanlight %s (%s) built at %s with %s",
		Version, Commit, BuildTime, runtime.Version())
}

// UserAgent identifies this build to upstream services on outbound
// requests.
func UserAgent() string {
	return "spanlight/" + Version
}
