// Package runner provides resource-bounded execution of untrusted Python code.
//
// The runner package implements the execution engine for running agent-written
// Python in disposable containers. Every invocation is a single `docker run
// --rm` process: the container is created, runs one command, and is removed.
// What persists between invocations is the per-user workspace mounted at /ws,
// which holds a virtual environment (/ws/.venv) and one directory per
// conversation.
//
// Invocations run in one of two phases. The install phase (venv bootstrap,
// pip install) keeps container networking enabled so the package index is
// reachable. The execute phase runs the agent's code and, by default, adds
// --network none so untrusted code gets no network at all.
//
// Usage:
//
//	r := runner.New(logger, profile, timeouts)
//	if err := r.EnsureVenv(userRoot); err != nil { ... }
//	if err := r.PipInstall(userRoot, []string{"requests"}); err != nil { ... }
//	result, err := r.ExecPython(userRoot, convDir, 15*time.Second)
//
// Concurrent calls against the same user root are not serialized here; the
// caller owns per-user mutual exclusion. Separate service instances may share
// a workspace root, so an in-process lock would not be a real guarantee.
package runner
