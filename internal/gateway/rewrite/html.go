package rewrite

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// urlMapper maps one reference to its gateway-routed form.
type urlMapper func(ref string, kind RefKind) string

// lazyAttrs are the lazy-load attribute variants rewritten alongside src.
var lazyAttrs = []string{"data-src", "data-lazy-src", "data-original"}

// RewriteHTML rewrites every URL-bearing attribute in an HTML document
// against the target origin: same-host references route through /browse,
// foreign ones through /external. Pure single pass over the parsed tree.
func RewriteHTML(body []byte, target *url.URL) (string, error) {
	return rewriteHTMLWith(body, func(ref string, _ RefKind) string {
		return RewriteURL(ref, target)
	})
}

// RewriteHTMLForNavigation rewrites a page reached through /navigate:
// links and forms route through /navigate, resources through /external,
// all resolved against the page's own URL.
func RewriteHTMLForNavigation(body []byte, pageURL *url.URL) (string, error) {
	return rewriteHTMLWith(body, func(ref string, kind RefKind) string {
		return RewriteURLForNavigation(ref, pageURL, kind)
	})
}

func rewriteHTMLWith(body []byte, mapper urlMapper) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(DecodeToUTF8(body)))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	rewriteLinks(doc, mapper)
	rewriteImages(doc, mapper)
	rewriteStylesheets(doc, mapper)
	rewriteScripts(doc, mapper)
	rewriteForms(doc, mapper)
	rewriteMedia(doc, mapper)
	rewriteEmbeds(doc, mapper)
	rewriteInlineStyles(doc, mapper)
	rewriteMetaRefresh(doc, mapper)

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	return out, nil
}

func rewriteAttr(s *goquery.Selection, attr string, kind RefKind, mapper urlMapper) {
	val, exists := s.Attr(attr)
	if !exists || val == "" {
		return
	}
	mapped := mapper(val, kind)
	if mapped != val {
		s.SetAttr(attr, mapped)
	}
}

func rewriteLinks(doc *goquery.Document, mapper urlMapper) {
	doc.Find("a[href], area[href]").Each(func(_ int, s *goquery.Selection) {
		rewriteAttr(s, "href", RefLink, mapper)
	})
}

func rewriteImages(doc *goquery.Document, mapper urlMapper) {
	doc.Find("img, source").Each(func(_ int, s *goquery.Selection) {
		rewriteAttr(s, "src", RefResource, mapper)
		for _, attr := range lazyAttrs {
			rewriteAttr(s, attr, RefResource, mapper)
		}
		for _, attr := range []string{"srcset", "data-srcset"} {
			if val, exists := s.Attr(attr); exists && val != "" {
				mapped := rewriteSrcset(val, mapper)
				if mapped != val {
					s.SetAttr(attr, mapped)
				}
			}
		}
	})
}

func rewriteStylesheets(doc *goquery.Document, mapper urlMapper) {
	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		rewriteAttr(s, "href", RefResource, mapper)
	})
}

func rewriteScripts(doc *goquery.Document, mapper urlMapper) {
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		rewriteAttr(s, "src", RefResource, mapper)
	})
}

func rewriteForms(doc *goquery.Document, mapper urlMapper) {
	doc.Find("form[action]").Each(func(_ int, s *goquery.Selection) {
		rewriteAttr(s, "action", RefForm, mapper)
	})
}

func rewriteMedia(doc *goquery.Document, mapper urlMapper) {
	doc.Find("audio, video").Each(func(_ int, s *goquery.Selection) {
		rewriteAttr(s, "src", RefResource, mapper)
		rewriteAttr(s, "poster", RefResource, mapper)
	})
}

func rewriteEmbeds(doc *goquery.Document, mapper urlMapper) {
	doc.Find("iframe[src], embed[src]").Each(func(_ int, s *goquery.Selection) {
		rewriteAttr(s, "src", RefResource, mapper)
	})
	doc.Find("object[data]").Each(func(_ int, s *goquery.Selection) {
		rewriteAttr(s, "data", RefResource, mapper)
	})
}

func rewriteInlineStyles(doc *goquery.Document, mapper urlMapper) {
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		val, _ := s.Attr("style")
		if val == "" || !strings.Contains(strings.ToLower(val), "url(") {
			return
		}
		mapped := rewriteCSSWith(val, func(ref string) string {
			return mapper(ref, RefResource)
		})
		if mapped != val {
			s.SetAttr("style", mapped)
		}
	})
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		css := s.Text()
		if css == "" || !strings.Contains(strings.ToLower(css), "url(") {
			return
		}
		mapped := rewriteCSSWith(css, func(ref string) string {
			return mapper(ref, RefResource)
		})
		if mapped != css {
			s.SetText(mapped)
		}
	})
}

func rewriteMetaRefresh(doc *goquery.Document, mapper urlMapper) {
	doc.Find(`meta[http-equiv]`).Each(func(_ int, s *goquery.Selection) {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(equiv, "refresh") {
			return
		}
		content, _ := s.Attr("content")
		delay, ref, ok := ParseMetaRefresh(content)
		if !ok {
			return
		}
		mapped := mapper(ref, RefLink)
		if mapped != ref {
			s.SetAttr("content", fmt.Sprintf("%s;url=%s", delay, mapped))
		}
	})
}

// ParseMetaRefresh splits a meta refresh content value into its delay and
// URL parts. Returns ok=false when no url= component is present.
func ParseMetaRefresh(content string) (delay, ref string, ok bool) {
	parts := strings.SplitN(content, ";", 2)
	if len(parts) < 2 {
		return "", "", false
	}
	delay = strings.TrimSpace(parts[0])
	rest := strings.TrimSpace(parts[1])
	if len(rest) < 4 || !strings.EqualFold(rest[:4], "url=") {
		return "", "", false
	}
	ref = strings.Trim(strings.TrimSpace(rest[4:]), `'"`)
	if ref == "" {
		return "", "", false
	}
	return delay, ref, true
}

// rewriteSrcset maps each candidate URL in a srcset value, preserving
// width/density descriptors.
func rewriteSrcset(srcset string, mapper urlMapper) string {
	candidates := strings.Split(srcset, ",")
	for i, candidate := range candidates {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}
		fields[0] = mapper(fields[0], RefResource)
		candidates[i] = strings.Join(fields, " ")
	}
	return strings.Join(candidates, ", ")
}
