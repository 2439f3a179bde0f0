package helpers

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned for targets the renderer must never navigate to
var ErrInvalidURL = errors.New("invalid url")

// ParseTargetURL validates that raw is an absolute http(s) URL with a host
func ParseTargetURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	return u, nil
}

// NormalizeURL returns the cache key form of a target URL: lower-cased scheme
// and host, default port dropped, fragment removed, empty path as "/".
func NormalizeURL(raw string) (string, error) {
	u, err := ParseTargetURL(raw)
	if err != nil {
		return "", err
	}

	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	host := strings.ToLower(n.Hostname())
	port := n.Port()
	if (n.Scheme == "http" && port == "80") || (n.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	n.Host = host
	n.Fragment = ""
	n.RawFragment = ""
	if n.Path == "" {
		n.Path = "/"
	}

	return n.String(), nil
}

// ResolveURL resolves ref against base and returns an absolute http(s) URL,
// or "" when ref is empty or resolves to any other scheme.
func ResolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return ""
	}

	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	abs := r
	if base != nil {
		abs = base.ResolveReference(r)
	}

	switch strings.ToLower(abs.Scheme) {
	case "http", "https":
		if abs.Host == "" {
			return ""
		}
		return abs.String()
	default:
		return ""
	}
}
