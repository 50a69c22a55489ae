package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// Paths inside the mounted workspace.
const (
	venvPython    = containerWorkspace + "/.venv/bin/python"
	venvMount     = containerWorkspace + "/.venv"
	entryFileName = "main.py"
)

// Timeouts bounds each invocation phase. Expiry is always a forced kill.
type Timeouts struct {
	VenvBootstrap time.Duration
	PipProbe      time.Duration
	PipInstall    time.Duration
}

// FileSystem abstracts the host presence checks so tests can simulate venv
// state without touching disk.
type FileSystem interface {
	FileExists(path string) (bool, error)
}

// RealFileSystem implements FileSystem against the host filesystem.
type RealFileSystem struct{}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// EphemeralRunner prepares and executes untrusted Python in disposable
// containers over a persistent per-user workspace. Its public operations are
// synchronous; the calling goroutine blocks for the full invocation, bounded
// by the phase timeout.
type EphemeralRunner struct {
	logger    *zap.Logger
	profile   *Profile
	timeouts  Timeouts
	proc      ProcessRunner
	fs        FileSystem
	envLookup func(string) string
}

// Option is a functional option for EphemeralRunner.
type Option func(*EphemeralRunner)

// WithProcessRunner replaces the real process runner, for tests.
func WithProcessRunner(proc ProcessRunner) Option {
	return func(r *EphemeralRunner) {
		r.proc = proc
	}
}

// WithFileSystem replaces the host filesystem probe, for tests.
func WithFileSystem(fs FileSystem) Option {
	return func(r *EphemeralRunner) {
		r.fs = fs
	}
}

// WithEnvLookup replaces the proxy environment source, for tests.
func WithEnvLookup(lookup func(string) string) Option {
	return func(r *EphemeralRunner) {
		r.envLookup = lookup
	}
}

// New creates an EphemeralRunner with real process and filesystem backends.
func New(logger *zap.Logger, profile *Profile, timeouts Timeouts, opts ...Option) *EphemeralRunner {
	r := &EphemeralRunner{
		logger:    logger,
		profile:   profile,
		timeouts:  timeouts,
		proc:      newOSProcessRunner(profile.MaxOutputBytes),
		fs:        RealFileSystem{},
		envLookup: os.Getenv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureVenv idempotently bootstraps the user's virtual environment at
// <userRoot>/.venv. A venv that already exists (either host family) is left
// alone. Bootstrap failure is fatal for the caller: nothing can be installed
// or executed until it is resolved.
func (r *EphemeralRunner) EnsureVenv(userRoot string) error {
	posix := venvInterpreterPosix(userRoot)
	windows := venvInterpreterWindows(userRoot)
	if exists, _ := r.fs.FileExists(posix); exists {
		return nil
	}
	if exists, _ := r.fs.FileExists(windows); exists {
		return nil
	}

	args := r.baseArgs(userRoot, PhaseInstall)
	args = append(args, r.profile.Image,
		"python", "-X", "utf8", "-m", "venv", "--system-site-packages", venvMount)

	r.logger.Info("bootstrapping venv", zap.String("user_root", userRoot))
	res := r.proc.Run(args, r.timeouts.VenvBootstrap)
	if res.ExitCode != 0 {
		return fmt.Errorf("create venv failed (exit %d): %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// PipInstall installs the missing subset of the given pip specifiers into the
// user's venv. Each specifier is probed with `pip show` first; only probes
// that positively confirm the package skip it, every other outcome schedules
// an install. Surviving specifiers go into one networked batch invocation.
func (r *EphemeralRunner) PipInstall(userRoot string, specs []string) error {
	if len(specs) == 0 {
		return nil
	}

	toInstall := make([]string, 0, len(specs))
	for _, spec := range specs {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		name := extractPipName(spec)
		if name == "" {
			// Unparseable specifier: let pip sort it out.
			toInstall = append(toInstall, spec)
			continue
		}

		// pip show only reads installed metadata; the invocation still runs
		// in the install phase so its network posture matches the batch.
		args := r.baseArgs(userRoot, PhaseInstall)
		args = append(args, r.profile.Image,
			venvPython, "-X", "utf8", "-m", "pip", "show", name)

		probe := r.proc.Run(args, r.timeouts.PipProbe)
		if probe.ExitCode != 0 {
			toInstall = append(toInstall, spec)
		} else {
			r.logger.Debug("pip package already installed",
				zap.String("spec", spec), zap.String("user_root", userRoot))
		}
	}

	if len(toInstall) == 0 {
		return nil
	}

	args := r.baseArgs(userRoot, PhaseInstall)
	args = append(args, r.profile.Image,
		venvPython, "-X", "utf8", "-m", "pip", "install", "--no-cache-dir")
	args = append(args, toInstall...)

	r.logger.Info("pip installing", zap.Strings("specs", toInstall), zap.String("user_root", userRoot))
	res := r.proc.Run(args, r.timeouts.PipInstall)
	if res.ExitCode != 0 {
		return fmt.Errorf("pip install failed (exit %d): %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// ExecPython runs the venv interpreter against main.py in the conversation
// directory, with network denied per the profile. The result is returned as
// data even on non-zero exit; the error return covers only path validation.
func (r *EphemeralRunner) ExecPython(userRoot, convDir string, timeout time.Duration) (ExecResult, error) {
	workdir, err := containerWorkdir(userRoot, convDir)
	if err != nil {
		return ExecResult{}, err
	}

	args := r.baseArgs(userRoot, PhaseExecute)
	args = append(args, "-w", workdir, r.profile.Image,
		venvPython, "-X", "utf8", "-u", "-B", entryFileName)

	r.logger.Debug("executing python",
		zap.String("workdir", workdir), zap.Duration("timeout", timeout))
	return r.proc.Run(args, timeout), nil
}

func (r *EphemeralRunner) baseArgs(userRoot string, phase Phase) []string {
	return buildRunArgs(r.profile, SnapshotProxyEnv(r.envLookup), userRoot, phase)
}

func venvInterpreterPosix(userRoot string) string {
	return filepath.Join(userRoot, ".venv", "bin", "python")
}

func venvInterpreterWindows(userRoot string) string {
	return filepath.Join(userRoot, ".venv", "Scripts", "python.exe")
}

// pipNameSeparators are the characters that end the distribution name in a
// pip requirement specifier (version operators and the extras bracket).
const pipNameSeparators = "<>=!~["

// extractPipName reduces a raw pip specifier to its distribution name: cut at
// the first whitespace or separator, then strip one surrounding quote pair.
// Returns "" when nothing sensible remains.
func extractPipName(spec string) string {
	s := strings.TrimSpace(spec)
	if s == "" {
		return ""
	}
	cut := len(s)
	for i, c := range s {
		if unicode.IsSpace(c) || strings.ContainsRune(pipNameSeparators, c) {
			cut = i
			break
		}
	}
	s = s[:cut]
	if strings.HasPrefix(s, "'") || strings.HasPrefix(s, `"`) {
		s = s[1:]
	}
	if strings.HasSuffix(s, "'") || strings.HasSuffix(s, `"`) {
		s = s[:len(s)-1]
	}
	return s
}
