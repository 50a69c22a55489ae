package runner

// Reserved exit codes. Any other value is the real exit status of the
// container process.
const (
	// ExitTimeout is returned when the invocation was still running at its
	// deadline and had to be force-killed.
	ExitTimeout = 124

	// ExitLaunchFailure is returned when the process could not be started or
	// waited on (missing runtime binary, bad image reference, and so on).
	ExitLaunchFailure = 1
)

// ExecResult is the outcome of one container invocation. It is the only value
// this package surfaces for an execution; callers treat it as immutable.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}
