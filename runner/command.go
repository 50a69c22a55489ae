package runner

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Phase selects the network and working-directory policy for one invocation.
type Phase int

const (
	// PhaseInstall covers venv bootstrap and pip installs. Networking stays
	// enabled so the package index is reachable.
	PhaseInstall Phase = iota

	// PhaseExecute runs agent code. When the profile denies network at
	// execution, the invocation gets --network none.
	PhaseExecute
)

// Profile is the immutable invocation profile shared by all phases. It is set
// once at startup from configuration and read concurrently.
type Profile struct {
	// Image is the container image reference, pulled lazily by the runtime.
	Image string

	// WorkspaceRoot is the host directory under which per-user roots live.
	WorkspaceRoot string

	// User is the uid:gid the container runs as; empty means the image default.
	User string

	// ReadOnlyRoot mounts the container root filesystem read-only.
	ReadOnlyRoot bool

	// CPUs and Memory are passed through to --cpus / --memory.
	CPUs   string
	Memory string

	// ExtraRunArgs are whitespace-separated flags forwarded verbatim, e.g.
	// "--pids-limit 256 --tmpfs /tmp --security-opt no-new-privileges".
	ExtraRunArgs string

	// DenyNetworkAtExec disables networking for execute-phase invocations.
	DenyNetworkAtExec bool

	// HostGatewayAlias is the container-internal name that routes to the
	// host's network stack. Proxies bound to the host loopback are rewritten
	// to it, since 127.0.0.1 inside a container is the container itself.
	HostGatewayAlias string

	// MaxOutputBytes caps captured stdout and stderr per stream; <=0 is
	// unlimited.
	MaxOutputBytes int64
}

// containerWorkspace is where the per-user root is mounted inside every
// invocation.
const containerWorkspace = "/ws"

// buildRunArgs assembles the full `docker run` argument vector for one
// invocation, up to but not including the image and command. It is a pure
// function of its inputs and never fails; a malformed profile surfaces when
// the vector is actually run.
func buildRunArgs(p *Profile, env ProxyEnv, userRoot string, phase Phase) []string {
	args := []string{
		"docker", "run", "--rm",
		"-v", absPath(userRoot) + ":" + containerWorkspace,
		"--cpus", p.CPUs,
		"--memory", p.Memory,
	}
	if p.ReadOnlyRoot {
		args = append(args, "--read-only")
	}
	if strings.TrimSpace(p.User) != "" {
		args = append(args, "-u", p.User)
	}
	args = append(args, strings.Fields(p.ExtraRunArgs)...)

	if v := rewriteLoopbackProxy(env.HTTPProxy, p.HostGatewayAlias); v != "" {
		args = append(args, "-e", "HTTP_PROXY="+v, "-e", "http_proxy="+v)
	}
	if v := rewriteLoopbackProxy(env.HTTPSProxy, p.HostGatewayAlias); v != "" {
		args = append(args, "-e", "HTTPS_PROXY="+v, "-e", "https_proxy="+v)
	}
	// NO_PROXY is a host/domain list; nothing to rewrite.
	if env.NoProxy != "" {
		args = append(args, "-e", "NO_PROXY="+env.NoProxy, "-e", "no_proxy="+env.NoProxy)
	}

	if phase == PhaseExecute && p.DenyNetworkAtExec {
		args = append(args, "--network", "none")
	}
	return args
}

// rewriteLoopbackProxy rewrites a proxy URL whose host is the host loopback
// (127.0.0.1 or localhost) to point at alias instead, preserving scheme,
// credentials, port, path, query and fragment. Other hosts pass through
// unchanged. Schemeless input is parsed with a synthesized http:// that is
// stripped back out of the result.
func rewriteLoopbackProxy(proxy, alias string) string {
	if proxy == "" || alias == "" {
		return proxy
	}

	hadScheme := strings.Contains(proxy, "://")
	withScheme := proxy
	if !hadScheme {
		withScheme = "http://" + proxy
	}

	u, err := url.Parse(withScheme)
	if err != nil {
		// Last resort: literal substitution of the two loopback spellings.
		replaced := strings.ReplaceAll(proxy, "127.0.0.1", alias)
		return strings.ReplaceAll(replaced, "localhost", alias)
	}

	host := u.Hostname()
	if host == "" {
		return proxy
	}
	if host != "127.0.0.1" && !strings.EqualFold(host, "localhost") {
		return proxy
	}

	if port := u.Port(); port != "" {
		u.Host = alias + ":" + port
	} else {
		u.Host = alias
	}

	result := u.String()
	if !hadScheme {
		result = strings.TrimPrefix(result, "http://")
	}
	return result
}

// containerWorkdir maps a host conversation directory to its path inside the
// container: /ws plus the path relative to userRoot, with separators
// normalized to '/'. The directory must descend from userRoot.
func containerWorkdir(userRoot, convDir string) (string, error) {
	rel, err := filepath.Rel(absPath(userRoot), absPath(convDir))
	if err != nil {
		return "", fmt.Errorf("relativize %s against %s: %w", convDir, userRoot, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("conversation dir %s is outside user root %s", convDir, userRoot)
	}
	if rel == "." {
		return containerWorkspace, nil
	}
	sub := "/" + filepath.ToSlash(rel)
	if strings.HasPrefix(sub, "//") {
		sub = sub[1:]
	}
	return containerWorkspace + sub, nil
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
