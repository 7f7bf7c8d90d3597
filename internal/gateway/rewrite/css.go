package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

// cssURLRe matches url(...) references in stylesheets and inline styles,
// with or without quotes.
var cssURLRe = regexp.MustCompile(`(?i)url\(\s*(?:'([^']*)'|"([^"]*)"|([^)'"\s]+))\s*\)`)

// cssImportRe matches bare @import "..." forms (the url() form is already
// covered by cssURLRe).
var cssImportRe = regexp.MustCompile(`(?i)@import\s+(?:'([^']*)'|"([^"]*)")`)

// RewriteCSS rewrites every url() and @import reference in a stylesheet
// against the target origin. Pure; references already routed through the
// gateway are skipped, so applying it twice is a no-op.
func RewriteCSS(body []byte, target *url.URL) string {
	mapper := func(ref string) string { return RewriteURL(ref, target) }
	return rewriteCSSWith(string(body), mapper)
}

// RewriteCSSAt rewrites a stylesheet fetched from a foreign host. Every
// reference resolves against the stylesheet's own URL and routes through
// /external, keeping the foreign origin's relative imports working.
func RewriteCSSAt(body []byte, base *url.URL) string {
	return rewriteCSSWith(string(body), func(ref string) string {
		return RewriteURLForNavigation(ref, base, RefResource)
	})
}

func rewriteCSSWith(css string, mapper func(string) string) string {
	out := cssURLRe.ReplaceAllStringFunc(css, func(match string) string {
		ref := extractCSSRef(cssURLRe, match)
		if ref == "" {
			return match
		}
		mapped := mapper(ref)
		if mapped == ref {
			return match
		}
		return `url("` + mapped + `")`
	})
	out = cssImportRe.ReplaceAllStringFunc(out, func(match string) string {
		ref := extractCSSRef(cssImportRe, match)
		if ref == "" {
			return match
		}
		mapped := mapper(ref)
		if mapped == ref {
			return match
		}
		return `@import "` + mapped + `"`
	})
	return out
}

func extractCSSRef(re *regexp.Regexp, match string) string {
	groups := re.FindStringSubmatch(match)
	for _, g := range groups[1:] {
		if g != "" {
			return strings.TrimSpace(g)
		}
	}
	return ""
}
