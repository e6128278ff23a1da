// Package version holds build information reported by the server and CLI.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is overridden at build time with -ldflags.
	Version = "2.0.0"

	// APIProtocol changes only when the request surface breaks compatibility.
	APIProtocol = "1"
)

func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

func String() string {
	return fmt.Sprintf("profilebridge v%s (%s, %s)", Version, runtime.Version(), Platform())
}
