package redirect

import (
	"bytes"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mirrorgate/mirrorgate/internal/gateway/rewrite"
)

// interstitialPhrases mark HTML bodies that are redirect notices rather
// than destination content.
var interstitialPhrases = []string{
	"you are being redirected",
	"redirecting you",
	"redirecting to",
	"if you are not redirected",
	"click here to continue",
	"click here if",
	"you are now leaving",
	"please wait while we redirect",
	"taking you to",
}

// labelWords are anchor texts that name the onward action on a notice page.
var labelWords = []string{
	"continue", "proceed", "click here", "skip", "go to site", "take me there",
}

// returnLabels are anchor texts that lead back where the visitor came
// from; never the destination.
var returnLabels = []string{
	"back", "return", "previous page", "cancel",
}

var (
	// jsAssignRe matches direct location assignments in inline script.
	jsAssignRe = regexp.MustCompile(`(?:window\.|document\.|top\.|self\.)?location(?:\.href)?\s*=\s*["']([^"']+)["']`)
	// jsCallRe matches location.replace / location.assign calls.
	jsCallRe = regexp.MustCompile(`location\.(?:replace|assign)\(\s*["']([^"']+)["']\s*\)`)
	// bareURLRe scavenges absolute URLs out of raw markup as a last resort.
	bareURLRe = regexp.MustCompile(`https?://[^\s"'<>\\)]+`)
)

// assetExts disqualify a scavenged URL from being a navigation target.
var assetExts = map[string]bool{
	".css": true, ".js": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".svg": true, ".ico": true, ".woff": true, ".woff2": true,
	".ttf": true, ".webp": true, ".mp4": true,
}

func parseDoc(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// LooksInterstitial reports whether an HTML page is a redirect notice:
// either its text carries a known phrase or it declares a meta refresh.
func LooksInterstitial(doc *goquery.Document, body []byte) bool {
	if doc.Find(`meta[http-equiv]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		return strings.EqualFold(equiv, "refresh")
	}).Length() > 0 {
		return true
	}

	lower := strings.ToLower(string(body))
	for _, phrase := range interstitialPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// strategy extracts one candidate onward URL from a notice page.
type strategy struct {
	name string
	fn   func(doc *goquery.Document, body []byte, base *url.URL) (string, bool)
}

// strategies run in order of reliability. The first hit wins.
var strategies = []strategy{
	{"anchor", externalAnchor},
	{"meta_refresh", metaRefresh},
	{"js_assignment", jsAssignment},
	{"labelled_link", labelledLink},
	{"pattern_scan", patternScan},
}

// ExtractNext tries each strategy and returns the first extracted URL
// along with the name of the strategy that produced it.
func ExtractNext(doc *goquery.Document, body []byte, base *url.URL) (string, string, bool) {
	for _, s := range strategies {
		if next, ok := s.fn(doc, body, base); ok {
			if validated, ok := resolveNext(base, next); ok {
				return validated, s.name, true
			}
		}
	}
	return "", "", false
}

// externalAnchor picks the first anchor pointing off the notice page's
// own host whose text is not a "go back" label. Notice pages are usually
// a sentence plus the onward link.
func externalAnchor(doc *goquery.Document, _ []byte, base *url.URL) (string, bool) {
	var ref string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		if href == "" || strings.HasPrefix(lower, "#") ||
			strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
			return true
		}
		parsed, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(parsed)
		if strings.EqualFold(abs.Hostname(), base.Hostname()) {
			return true
		}
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		for _, label := range returnLabels {
			if strings.Contains(text, label) {
				return true
			}
		}
		ref = abs.String()
		return false
	})
	return ref, ref != ""
}

func metaRefresh(doc *goquery.Document, _ []byte, _ *url.URL) (string, bool) {
	var ref string
	doc.Find(`meta[http-equiv]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(equiv, "refresh") {
			return true
		}
		content, _ := s.Attr("content")
		if _, r, ok := rewrite.ParseMetaRefresh(content); ok {
			ref = r
			return false
		}
		return true
	})
	return ref, ref != ""
}

// jsAssignment scans inline script elements only. Assignments buried in
// onclick handlers require a user gesture and are not part of the chain.
func jsAssignment(doc *goquery.Document, _ []byte, _ *url.URL) (string, bool) {
	var ref string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if m := jsAssignRe.FindStringSubmatch(text); m != nil {
			ref = m[1]
			return false
		}
		if m := jsCallRe.FindStringSubmatch(text); m != nil {
			ref = m[1]
			return false
		}
		return true
	})
	return ref, ref != ""
}

func labelledLink(doc *goquery.Document, _ []byte, _ *url.URL) (string, bool) {
	var ref string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if text == "" {
			return true
		}
		for _, word := range labelWords {
			if strings.Contains(text, word) {
				href, _ := s.Attr("href")
				if strings.TrimSpace(href) != "" {
					ref = href
					return false
				}
			}
		}
		return true
	})
	return ref, ref != ""
}

// patternScan is the last resort: the first absolute URL in the raw
// markup that points off the current host and is not an asset.
func patternScan(_ *goquery.Document, body []byte, base *url.URL) (string, bool) {
	for _, m := range bareURLRe.FindAll(body, 32) {
		candidate := string(m)
		parsed, err := url.Parse(candidate)
		if err != nil {
			continue
		}
		if strings.EqualFold(parsed.Hostname(), base.Hostname()) {
			continue
		}
		if assetExts[strings.ToLower(path.Ext(parsed.Path))] {
			continue
		}
		if strings.Contains(parsed.Hostname(), "w3.org") ||
			strings.Contains(parsed.Hostname(), "schema.org") {
			continue
		}
		return candidate, true
	}
	return "", false
}
