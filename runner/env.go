package runner

import "os"

// ProxyEnv is a snapshot of the host's proxy environment taken at command
// build time. It is an explicit value rather than an ambient os.Getenv read
// so tests can inject deterministic synthetic proxies.
type ProxyEnv struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// SnapshotProxyEnv reads the three proxy variables through lookup, preferring
// the upper-case spelling of each pair. A nil lookup uses os.Getenv.
func SnapshotProxyEnv(lookup func(string) string) ProxyEnv {
	if lookup == nil {
		lookup = os.Getenv
	}
	return ProxyEnv{
		HTTPProxy:  firstNonEmpty(lookup("HTTP_PROXY"), lookup("http_proxy")),
		HTTPSProxy: firstNonEmpty(lookup("HTTPS_PROXY"), lookup("https_proxy")),
		NoProxy:    firstNonEmpty(lookup("NO_PROXY"), lookup("no_proxy")),
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
