package mirror

import (
	"fmt"
	"net/url"
	"strings"
)

// SubdomainHost reduces a configured subdomain ("https://blog.example.com/",
// "blog.example.com") to its bare host.
func SubdomainHost(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty subdomain")
	}
	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("parse subdomain %q: %w", raw, err)
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return "", fmt.Errorf("subdomain %q has no host", raw)
	}
	return host, nil
}

// HostOf returns the lowercase host of an absolute URL, or "unknown".
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObjectName flattens a canonical path into a filesystem-safe object name.
func ObjectName(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "_root"
	}
	var b strings.Builder
	for _, r := range path {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	const maxName = 180
	if len(name) > maxName {
		name = name[:maxName]
	}
	return name
}
