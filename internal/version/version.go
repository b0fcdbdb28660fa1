package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func String() string {
	return fmt.Sprintf("carrier %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}

// UserAgent identifies the synchronizer and its runtime on outgoing HTTP
// requests (index RPCs and file downloads).
func UserAgent() string {
	return fmt.Sprintf("carrier/%s %s %s/%s", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
