// Package rewrite turns upstream content inward: every URL embedded in
// HTML or CSS is rewritten so the browser's next request re-enters the
// gateway instead of contacting the target or a third party directly.
package rewrite

import (
	"net/url"
	"strings"
)

// Gateway paths that rewritten references route through.
const (
	BrowsePath   = "/browse"
	ExternalPath = "/external"
	NavigatePath = "/navigate"
)

// RefKind classifies a reference for mapping purposes: navigations and
// form posts may route differently from sub-resources.
type RefKind int

const (
	RefLink RefKind = iota
	RefResource
	RefForm
)

// skipPrefixes are reference schemes and forms that must never be rewritten.
var skipPrefixes = []string{
	"data:", "javascript:", "mailto:", "tel:", "vbscript:", "#",
}

// rewrittenPrefixes mark references already pointing at the gateway;
// rewriting is idempotent because these are left alone.
var rewrittenPrefixes = []string{
	BrowsePath, ExternalPath, NavigatePath, "/relay", "/sw.js", "/shim.js",
}

// Skip reports whether ref must be left untouched.
func Skip(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	if lower == "" {
		return true
	}
	for _, p := range skipPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, p := range rewrittenPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Resolve makes ref absolute against the target origin. Resolution always
// uses the target as base, never the gateway's own origin; that is what
// keeps relative links on the proxied site pointing at the right host.
func Resolve(ref string, target *url.URL) (*url.URL, bool) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, false
	}
	abs := target.ResolveReference(parsed)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	if abs.Hostname() == "" {
		return nil, false
	}
	return abs, true
}

// RewriteURL maps one reference relative to the target origin: same-host
// references route through /browse, foreign hosts through /external.
// Pure function of (ref, target); skipped references return unchanged.
func RewriteURL(ref string, target *url.URL) string {
	if Skip(ref) {
		return ref
	}
	abs, ok := Resolve(ref, target)
	if !ok {
		return ref
	}
	if strings.EqualFold(abs.Hostname(), target.Hostname()) {
		return browseRef(abs)
	}
	return ExternalRef(abs.String())
}

// RewriteURLForNavigation maps one reference on a foreign page reached via
// /navigate: links and forms keep flowing through /navigate so the next
// click resolves its own redirect chain; sub-resources go to /external.
func RewriteURLForNavigation(ref string, base *url.URL, kind RefKind) string {
	if Skip(ref) {
		return ref
	}
	abs, ok := Resolve(ref, base)
	if !ok {
		return ref
	}
	if kind == RefResource {
		return ExternalRef(abs.String())
	}
	return NavigateRef(abs.String())
}

// ExternalRef builds the cross-origin encoded path for an absolute URL.
// DecodeExternalRef inverts it exactly.
func ExternalRef(abs string) string {
	return ExternalPath + "/" + url.QueryEscape(abs)
}

// DecodeExternalRef recovers the absolute URL from an /external path segment.
func DecodeExternalRef(segment string) (string, error) {
	return url.QueryUnescape(segment)
}

// NavigateRef builds the navigation path for an absolute URL.
func NavigateRef(abs string) string {
	return NavigatePath + "?url=" + url.QueryEscape(abs)
}

func browseRef(abs *url.URL) string {
	path := abs.EscapedPath()
	if path == "" {
		path = "/"
	}
	var b strings.Builder
	b.WriteString(BrowsePath)
	b.WriteString(path)
	if abs.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(abs.RawQuery)
	}
	if abs.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(abs.Fragment)
	}
	return b.String()
}
