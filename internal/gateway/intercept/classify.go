// Package intercept is the server half of in-browser request
// interception: a pure URL classifier shared with the relay endpoint,
// plus the embedded worker and shim scripts the browser runs. All
// classification logic lives here so the scripts stay thin.
package intercept

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Class is the routing decision for one intercepted request URL.
type Class int

const (
	// ClassBypass marks the gateway's own control paths; never relayed.
	ClassBypass Class = iota
	// ClassAd marks ad or tracking endpoints; relayed with origin substitution.
	ClassAd
	// ClassExternalNav marks a foreign-origin navigation; routed to /navigate.
	ClassExternalNav
	// ClassExternalResource marks a foreign-origin sub-resource; relayed or /external.
	ClassExternalResource
	// ClassSameOrigin marks target-origin traffic already on gateway paths.
	ClassSameOrigin
)

func (c Class) String() string {
	switch c {
	case ClassBypass:
		return "bypass"
	case ClassAd:
		return "ad"
	case ClassExternalNav:
		return "external_nav"
	case ClassExternalResource:
		return "external_resource"
	default:
		return "same_origin"
	}
}

// bypassPrefixes are paths the interceptor must let straight through.
var bypassPrefixes = []string{
	"/browse", "/external", "/navigate", "/relay",
	"/sw.js", "/shim.js", "/health", "/metrics", "/session",
}

// Classifier decides how one intercepted URL routes. Pure after
// construction and safe for concurrent use.
type Classifier struct {
	target    *url.URL
	adDomains []string
	adGlobs   []string
}

// NewClassifier builds a classifier for the target origin. extraDomains
// and extraGlobs come from the deployment's domain list file and extend
// the built-in sets.
func NewClassifier(target *url.URL, extraDomains, extraGlobs []string) *Classifier {
	c := &Classifier{
		target:    target,
		adDomains: append(append([]string{}, defaultAdDomains...), extraDomains...),
		adGlobs:   append(append([]string{}, defaultAdPathGlobs...), extraGlobs...),
	}
	for i, d := range c.adDomains {
		c.adDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	return c
}

// AdDomains returns the merged domain list, for injection into the
// browser-side scripts.
func (c *Classifier) AdDomains() []string {
	out := make([]string, len(c.adDomains))
	copy(out, c.adDomains)
	return out
}

// Classify routes one intercepted URL. navigation distinguishes
// top-level or iframe navigations from sub-resource loads; foreign
// navigations must stay live HTML and so never relay as raw bytes.
func (c *Classifier) Classify(raw string, navigation bool) Class {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		for _, p := range bypassPrefixes {
			if strings.HasPrefix(raw, p) {
				return ClassBypass
			}
		}
		return ClassSameOrigin
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ClassSameOrigin
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return ClassBypass
	}
	host := u.Hostname()
	if host == "" || strings.EqualFold(host, c.target.Hostname()) {
		return ClassSameOrigin
	}

	if c.IsAd(u) {
		return ClassAd
	}
	if navigation {
		return ClassExternalNav
	}
	return ClassExternalResource
}

// IsAd reports whether the URL hits an ad/tracking domain or path glob.
func (c *Classifier) IsAd(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, d := range c.adDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	for _, g := range c.adGlobs {
		if ok, err := doublestar.Match(g, u.Path); err == nil && ok {
			return true
		}
	}
	return false
}
