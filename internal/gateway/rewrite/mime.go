package rewrite

import (
	"bytes"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// extTypes maps trailing path extensions to their authoritative MIME type.
// An extension wins over whatever content-type the upstream declared.
var extTypes = map[string]string{
	".css":   "text/css",
	".js":    "application/javascript",
	".mjs":   "application/javascript",
	".json":  "application/json",
	".xml":   "application/xml",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".mp3":   "audio/mpeg",
	".ogg":   "audio/ogg",
	".wasm":  "application/wasm",
}

// errorMarkers flag bodies that are generic upstream error pages.
var errorMarkers = []string{
	"<title>404", "<title>error", "404 not found", "page not found",
	"<title>403", "access denied",
}

// ExpectedType returns the MIME type implied by the resolved path's
// extension, or by the request's Accept header when the path has none.
// Empty means "no expectation".
func ExpectedType(urlPath, accept string) string {
	if t, ok := extTypes[strings.ToLower(path.Ext(urlPath))]; ok {
		return t
	}
	switch {
	case strings.HasPrefix(accept, "text/css"):
		return "text/css"
	case strings.HasPrefix(accept, "application/javascript"),
		strings.HasPrefix(accept, "text/javascript"):
		return "application/javascript"
	case strings.HasPrefix(accept, "image/"):
		return strings.SplitN(accept, ",", 2)[0]
	}
	return ""
}

// LooksLikeHTMLDocument reports whether body starts like an HTML document
// or carries generic error-page markers.
func LooksLikeHTMLDocument(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return false
	}
	lower := strings.ToLower(string(trimmed[:min(len(trimmed), 2048)]))
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		return true
	}
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// CorrectType reconciles the upstream's declared content-type with the
// type the resolved path implies.
//
// When the upstream declares text/html for a resource expected to be
// non-HTML and the body looks like an HTML document or error page, the
// body is replaced with an empty one of the expected type: a broken
// upstream 404 page must never reach the browser as CSS or JS.
func CorrectType(urlPath, accept, declared string, body []byte) (string, []byte) {
	expected := ExpectedType(urlPath, accept)

	if expected != "" && !strings.HasPrefix(expected, "text/html") {
		if strings.HasPrefix(declared, "text/html") && LooksLikeHTMLDocument(body) {
			return expected, nil
		}
		if declared == "" || strings.HasPrefix(declared, "text/plain") ||
			strings.HasPrefix(declared, "application/octet-stream") {
			return expected, body
		}
		return declared, body
	}

	if declared != "" {
		return declared, body
	}
	if expected != "" {
		return expected, body
	}
	return mimetype.Detect(body).String(), body
}
