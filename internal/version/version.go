// Package version reports the build version of agentcore.
package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit is set at build time with -ldflags "-X .../version.Commit=<sha>".
var Commit = "unknown"

// Get returns the release version with whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}

// String returns the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("agentcore %s (commit %s, %s %s/%s)", Get(), Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
