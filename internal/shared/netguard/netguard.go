// Package netguard validates fetch targets before any upstream request is made.
//
// Every gateway entry point shares one rule: targets that resolve to loopback,
// private, or link-local address space are refused. The checks deliberately
// over-block: any host string with a `10.`, `172.`, or `192.168.` prefix is
// refused even where the exact CIDR would allow it (e.g. 172.200.0.1).
// Narrowing the prefix match to exact ranges could reintroduce an SSRF gap, so
// the broad behavior is kept as policy.
package netguard

import (
	"errors"
	"net/netip"
	"net/url"
	"strings"
)

var (
	// ErrInvalidURL marks a malformed or non-HTTP target. Not retryable.
	ErrInvalidURL = errors.New("invalid target url")
	// ErrBlockedAddress marks a target in private or loopback address space. Not retryable.
	ErrBlockedAddress = errors.New("target address is blocked")
)

// blockedPrefixes are literal host-string prefixes refused without parsing.
var blockedPrefixes = []string{"10.", "172.", "192.168.", "127.", "0.", "169.254."}

// ValidateTarget parses raw and applies the SSRF guard. It returns the parsed
// URL only when the target is safe to fetch.
func ValidateTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrInvalidURL
	}
	if u.Hostname() == "" {
		return nil, ErrInvalidURL
	}
	if BlockedHost(u.Hostname()) {
		return nil, ErrBlockedAddress
	}
	return u, nil
}

// BlockedHost reports whether host must not be fetched.
func BlockedHost(host string) bool {
	h := strings.ToLower(strings.Trim(host, "[]"))
	if h == "localhost" || strings.HasSuffix(h, ".localhost") || h == "" {
		return true
	}
	for _, p := range blockedPrefixes {
		if strings.HasPrefix(h, p) {
			return true
		}
	}
	if addr, err := netip.ParseAddr(h); err == nil {
		return addr.IsLoopback() ||
			addr.IsPrivate() ||
			addr.IsLinkLocalUnicast() ||
			addr.IsLinkLocalMulticast() ||
			addr.IsUnspecified()
	}
	return false
}
