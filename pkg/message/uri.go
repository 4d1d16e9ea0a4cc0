package message

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// URI is the parsed form of an absolute or origin-form request URI.
type URI struct {
	Scheme    string
	Authority string
	Host      string
	Port      *int
	Path      string
	Query     *Query
	Fragment  string
}

// ParseURI parses a URI string into its components. An absolute-form URI
// (one with a scheme) must also have a non-empty authority, and a port
// outside 0-65535 is rejected; both failures return a plain error.
func ParseURI(raw string) (*URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("not a uri: %w", err)
	}
	if u.Scheme != "" && u.Host == "" {
		return nil, fmt.Errorf("not a uri: %q has a scheme but no authority", raw)
	}

	out := &URI{
		Scheme:    u.Scheme,
		Authority: u.Host,
		Host:      u.Hostname(),
		Path:      u.Path,
		Query:     ParseQuery(u.RawQuery),
		Fragment:  u.Fragment,
	}

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 0 || p > 65535 {
			return nil, fmt.Errorf("not a valid port number: %q", portStr)
		}
		out.Port = &p
	}

	return out, nil
}

// String reassembles the URI.
func (u *URI) String() string {
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	if u.Authority != "" {
		b.WriteString(u.Authority)
	} else if u.Host != "" {
		b.WriteString(u.Host)
		if u.Port != nil {
			b.WriteString(":")
			b.WriteString(strconv.Itoa(*u.Port))
		}
	}
	b.WriteString(u.Path)
	if q := u.Query.String(); q != "" {
		b.WriteString("?")
		b.WriteString(q)
	}
	if u.Fragment != "" {
		b.WriteString("#")
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// EffectivePort returns the explicit port, or the scheme's default (80/443).
func (u *URI) EffectivePort() int {
	if u.Port != nil {
		return *u.Port
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}
