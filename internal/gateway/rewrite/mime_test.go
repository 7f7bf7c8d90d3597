package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedType(t *testing.T) {
	assert.Equal(t, "text/css", ExpectedType("/assets/site.css", ""))
	assert.Equal(t, "application/javascript", ExpectedType("/bundle.js", ""))
	assert.Equal(t, "font/woff2", ExpectedType("/f/inter.woff2", ""))
	assert.Equal(t, "text/css", ExpectedType("/style", "text/css,*/*;q=0.1"))
	assert.Equal(t, "", ExpectedType("/page", "text/html"))
}

func TestCorrectTypeSuppressesHTMLErrorPageForCSS(t *testing.T) {
	body := []byte("<!DOCTYPE html>\n<html><head><title>404 Not Found</title></head></html>")

	ct, out := CorrectType("/theme.css", "", "text/html; charset=utf-8", body)
	assert.Equal(t, "text/css", ct)
	assert.Empty(t, out)
}

func TestCorrectTypeExtensionOverridesGenericDeclared(t *testing.T) {
	body := []byte("body{color:red}")

	ct, out := CorrectType("/theme.css", "", "application/octet-stream", body)
	assert.Equal(t, "text/css", ct)
	assert.Equal(t, body, out)
}

func TestCorrectTypeKeepsRealContent(t *testing.T) {
	body := []byte(`{"ok":true}`)
	ct, out := CorrectType("/api/data.json", "", "application/json", body)
	assert.Equal(t, "application/json", ct)
	assert.Equal(t, body, out)

	html := []byte("<!DOCTYPE html><html></html>")
	ct, out = CorrectType("/index.html", "", "text/html", html)
	assert.Equal(t, "text/html", ct)
	assert.Equal(t, html, out)
}

func TestCorrectTypeSniffsWhenNothingDeclared(t *testing.T) {
	ct, _ := CorrectType("/blob", "", "", []byte("\x89PNG\r\n\x1a\n000000"))
	assert.Equal(t, "image/png", ct)
}

func TestLooksLikeHTMLDocument(t *testing.T) {
	assert.True(t, LooksLikeHTMLDocument([]byte("  <!DOCTYPE html><html>")))
	assert.True(t, LooksLikeHTMLDocument([]byte("<HTML><body>x</body>")))
	assert.True(t, LooksLikeHTMLDocument([]byte("<div><title>404</title></div>")))
	assert.False(t, LooksLikeHTMLDocument([]byte("body { color: red }")))
	assert.False(t, LooksLikeHTMLDocument([]byte("")))
}
