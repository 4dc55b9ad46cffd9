// Package urls holds the url rules shared by prediction matching,
// speculation and origin verification.
package urls

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// Normalize checks that raw is an absolute http or https url and returns it
// with a lower-cased scheme and an ASCII host.
func Normalize(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			host = "[" + ip.String() + "]"
		}
	} else if host, err = NormalizeHost(host); err != nil {
		return "", false
	}
	if port := u.Port(); port != "" {
		host = host + ":" + port
	}
	u.Host = host
	return u.String(), true
}

// NormalizeHost lower-cases host and converts IDNs to punycode.
func NormalizeHost(host string) (string, error) {
	return idna.Lookup.ToASCII(strings.ToLower(strings.TrimSuffix(host, ".")))
}

// StripFragment drops everything from the first '#'.
func StripFragment(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

// Match reports whether two urls are equal, or equal once fragments are
// dropped when ignoreFragments is set.
func Match(a, b string, ignoreFragments bool) bool {
	if a == b {
		return true
	}
	return ignoreFragments && StripFragment(a) == StripFragment(b)
}

// Origin returns scheme://host[:port] of an http(s) url.
func Origin(raw string) (string, bool) {
	n, ok := Normalize(raw)
	if !ok {
		return "", false
	}
	u, _ := url.Parse(n)
	return u.Scheme + "://" + u.Host, true
}
