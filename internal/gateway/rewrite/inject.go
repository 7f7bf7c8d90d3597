package rewrite

import (
	"regexp"
	"strings"
)

var headOpenRe = regexp.MustCompile(`(?i)<head[^>]*>`)

// InjectScript inserts a script tag right after the opening <head> so the
// interception shim patches the page's network entry points before any
// page script runs. Documents without a head get the tag prepended.
// Idempotent for a given src.
func InjectScript(html, src string) string {
	tag := `<script src="` + src + `"></script>`
	if strings.Contains(html, tag) {
		return html
	}
	if loc := headOpenRe.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + tag + html[loc[1]:]
	}
	return tag + html
}
