package util

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// ResolveURLPath joins a backend path onto a base URL, keeping any path
// prefix the base carries. Absolute URLs are returned untouched.
//
// We avoid url.ResolveReference here because it treats "/api/tags" as an
// absolute reference and drops a base prefix such as "/ollama".
func ResolveURLPath(baseURL, pathOrURL string) string {
	if baseURL == "" {
		return pathOrURL
	}
	if pathOrURL == "" {
		return baseURL
	}

	if parsed, err := url.Parse(pathOrURL); err == nil && parsed.IsAbs() {
		return pathOrURL
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return pathOrURL
	}

	base.Path = path.Join("/", base.Path, pathOrURL)
	return base.String()
}

// NormaliseBaseURL ensures the base URL ends without a trailing slash
func NormaliseBaseURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/")
}

// ParseEndpoint parses and normalises an endpoint address: scheme and host
// are lower-cased, the scheme default port is made explicit, trailing slashes
// and query strings are dropped. Two spellings of the same endpoint produce
// the same string, which is what dedup and cache keys rely on.
func ParseEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty endpoint address")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint address %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint address %q: missing host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = defaultPortFor(u.Scheme)
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil

	return u, nil
}

// NormaliseAddress is ParseEndpoint as a string, falling back to a trimmed
// lower-case copy when the address can't be parsed
func NormaliseAddress(raw string) string {
	u, err := ParseEndpoint(raw)
	if err != nil {
		return strings.ToLower(NormaliseBaseURL(strings.TrimSpace(raw)))
	}
	return u.String()
}

// BuildEndpoint composes scheme://host:port
func BuildEndpoint(scheme, host string, port int) string {
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func defaultPortFor(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
