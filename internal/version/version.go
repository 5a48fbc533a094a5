// Package version provides build-time version information
// injected via ldflags during compilation.
package version

import "fmt"

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// String returns a one-line description suitable for startup logs and the
// health endpoint.
func String() string {
	return fmt.Sprintf("espota %s (built %s)", Version, BuildTime)
}
