package runner

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// readerJoinGrace is how long Run waits for the stream readers after the
// process has exited (or been killed). A descendant that inherited the pipes
// can hold them open past the parent's exit; output it writes after the grace
// window is dropped rather than delaying the result.
const readerJoinGrace = 200 * time.Millisecond

// ProcessRunner runs a fully built argument vector as a child process and
// captures its output. Implementations never return an error: every failure
// mode is folded into the ExecResult so callers see exactly one shape.
type ProcessRunner interface {
	Run(argv []string, timeout time.Duration) ExecResult
}

// osProcessRunner is the real ProcessRunner backed by os/exec.
type osProcessRunner struct {
	maxOutputBytes int64
}

func newOSProcessRunner(maxOutputBytes int64) *osProcessRunner {
	return &osProcessRunner{maxOutputBytes: maxOutputBytes}
}

// Run spawns argv[0] with the remaining arguments, drains stdout and stderr
// concurrently, and waits up to timeout. Completion is gated on process exit,
// not on pipe EOF: a child that exits on time but leaves a descendant holding
// the pipes still reports its real exit code. A process still running at the
// deadline is force-killed and reported as ExitTimeout with whatever output
// was captured so far. Launch and wait failures become ExitLaunchFailure.
func (r *osProcessRunner) Run(argv []string, timeout time.Duration) ExecResult {
	if len(argv) == 0 {
		return ExecResult{ExitCode: ExitLaunchFailure, Stderr: "empty command"}
	}

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv is built by CommandBuilder, not user input

	// Hand the child raw pipe ends so Wait tracks only the process itself;
	// the read ends are drained by this side's goroutines.
	outRead, outWrite, err := os.Pipe()
	if err != nil {
		return ExecResult{ExitCode: ExitLaunchFailure, Stderr: err.Error()}
	}
	errRead, errWrite, err := os.Pipe()
	if err != nil {
		outRead.Close()
		outWrite.Close()
		return ExecResult{ExitCode: ExitLaunchFailure, Stderr: err.Error()}
	}
	cmd.Stdout = outWrite
	cmd.Stderr = errWrite

	if startErr := cmd.Start(); startErr != nil {
		outRead.Close()
		outWrite.Close()
		errRead.Close()
		errWrite.Close()
		return ExecResult{ExitCode: ExitLaunchFailure, Stderr: startErr.Error()}
	}

	// The child owns its copies now; closing ours lets the readers see EOF
	// once every pipe holder is gone.
	outWrite.Close()
	errWrite.Close()

	// The process is reaped on every exit path, and closing the read ends
	// unblocks any reader still waiting on a lingering descendant. Killing an
	// already-exited process is a no-op.
	defer func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		outRead.Close()
		errRead.Close()
	}()

	stdout := newCappedBuffer(r.maxOutputBytes)
	stderr := newCappedBuffer(r.maxOutputBytes)

	// Two independent readers so a full pipe on one stream never blocks
	// draining of the other.
	var readers sync.WaitGroup
	readers.Add(2)
	go drain(outRead, stdout, &readers)
	go drain(errRead, stderr, &readers)

	readersDone := make(chan struct{})
	go func() {
		readers.Wait()
		close(readersDone)
	}()

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case waitErr := <-waitDone:
		joinReaders(readersDone)
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				return ExecResult{ExitCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}
			}
			return ExecResult{ExitCode: ExitLaunchFailure, Stdout: stdout.String(), Stderr: waitErr.Error()}
		}
		return ExecResult{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}

	case <-deadline.C:
		_ = cmd.Process.Kill()
		joinReaders(readersDone)
		return ExecResult{ExitCode: ExitTimeout, Stdout: stdout.String(), Stderr: "timeout"}
	}
}

// joinReaders gives the stream readers a short window to flush what the
// process wrote before exiting; it never blocks past the grace period.
func joinReaders(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(readerJoinGrace):
	}
}

func drain(src io.Reader, dst *cappedBuffer, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			dst.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// cappedBuffer accumulates stream output up to a byte limit and keeps
// accepting (and discarding) writes past it, so the producing pipe is always
// drained. Safe for one writer and one reader on different goroutines.
type cappedBuffer struct {
	mu    sync.Mutex
	limit int64
	data  []byte
}

func newCappedBuffer(limit int64) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		b.data = append(b.data, p...)
		return
	}
	room := b.limit - int64(len(b.data))
	if room <= 0 {
		return
	}
	if int64(len(p)) > room {
		p = p[:room]
	}
	b.data = append(b.data, p...)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
