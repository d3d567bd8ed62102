package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BackendTarget is the resolved upstream for one country ISO code.
// Immutable once the country→target map is built at startup.
type BackendTarget struct {
	URL    string
	Host   string
	Port   int
	Secure bool
}

// ParseBackendURL parses a "http(s)://host[:port]" value into a BackendTarget,
// defaulting the port to 80/443 by scheme when absent.
func ParseBackendURL(raw string) (BackendTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return BackendTarget{}, fmt.Errorf("invalid backend url %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return BackendTarget{}, fmt.Errorf("invalid backend url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return BackendTarget{}, fmt.Errorf("invalid backend url %q: missing host", raw)
	}

	host := u.Hostname()
	port := 80
	if scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return BackendTarget{}, fmt.Errorf("invalid backend url %q: bad port %q", raw, p)
		}
		port = n
	}

	return BackendTarget{
		URL:    raw,
		Host:   host,
		Port:   port,
		Secure: scheme == "https",
	}, nil
}
