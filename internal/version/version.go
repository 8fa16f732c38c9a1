// Package version holds build metadata set via -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line build description.
func Info() string {
	return fmt.Sprintf("llmrelay %s (commit %s, built %s)", Version, Commit, Date)
}
