package runner

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePOSIXShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test relies on a POSIX shell")
	}
}

func TestOSProcessRunnerNormalExit(t *testing.T) {
	requirePOSIXShell(t)
	proc := newOSProcessRunner(0)

	res := proc.Run([]string{"sh", "-c", "printf hello; printf world >&2"}, 5*time.Second)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello", res.Stdout)
	assert.Equal(t, "world", res.Stderr)
}

func TestOSProcessRunnerRealExitCode(t *testing.T) {
	requirePOSIXShell(t)
	proc := newOSProcessRunner(0)

	res := proc.Run([]string{"sh", "-c", "exit 3"}, 5*time.Second)
	assert.Equal(t, 3, res.ExitCode)
}

func TestOSProcessRunnerTimeout(t *testing.T) {
	requirePOSIXShell(t)
	proc := newOSProcessRunner(0)

	start := time.Now()
	res := proc.Run([]string{"sh", "-c", "printf early; sleep 5"}, 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, ExitTimeout, res.ExitCode)
	assert.Equal(t, "timeout", res.Stderr)
	// Partial output written before the kill is preserved.
	assert.Equal(t, "early", res.Stdout)
	// Kill happens promptly at the deadline, not after the sleep finishes.
	require.Less(t, elapsed, 1500*time.Millisecond)
}

func TestOSProcessRunnerExitWithLingeringDescendant(t *testing.T) {
	requirePOSIXShell(t)
	proc := newOSProcessRunner(0)

	// The backgrounded sleep inherits the output pipes and outlives the
	// shell. The result must carry the shell's real exit code as soon as it
	// exits, not wait for the descendant or misreport a timeout.
	start := time.Now()
	res := proc.Run([]string{"sh", "-c", "sleep 3 & printf hi; exit 7"}, 2*time.Second)
	elapsed := time.Since(start)

	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "hi", res.Stdout)
	assert.NotEqual(t, "timeout", res.Stderr)
	require.Less(t, elapsed, 1500*time.Millisecond)
}

func TestOSProcessRunnerLaunchFailure(t *testing.T) {
	proc := newOSProcessRunner(0)

	res := proc.Run([]string{"definitely-not-a-real-binary-4af1"}, time.Second)
	assert.Equal(t, ExitLaunchFailure, res.ExitCode)
	assert.NotEmpty(t, res.Stderr)

	res = proc.Run(nil, time.Second)
	assert.Equal(t, ExitLaunchFailure, res.ExitCode)
}

func TestOSProcessRunnerOutputCap(t *testing.T) {
	requirePOSIXShell(t)
	proc := newOSProcessRunner(16)

	res := proc.Run([]string{"sh", "-c", "printf '0123456789012345678901234567890123456789'"}, 5*time.Second)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "0123456789012345", res.Stdout)
}

func TestCappedBuffer(t *testing.T) {
	t.Run("CapsAtLimit", func(t *testing.T) {
		b := newCappedBuffer(4)
		b.Write([]byte("abc"))
		b.Write([]byte("defg"))
		assert.Equal(t, "abcd", b.String())
	})

	t.Run("UnlimitedWhenZero", func(t *testing.T) {
		b := newCappedBuffer(0)
		b.Write([]byte("abc"))
		b.Write([]byte("def"))
		assert.Equal(t, "abcdef", b.String())
	})
}
