package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorgate/mirrorgate/internal/domain/session"
	"github.com/mirrorgate/mirrorgate/internal/gateway/intercept"
	"github.com/mirrorgate/mirrorgate/internal/gateway/redirect"
	"github.com/mirrorgate/mirrorgate/internal/gateway/rewrite"
	"github.com/mirrorgate/mirrorgate/internal/gateway/upstream"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/config"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/logging"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/monitoring"
)

// One registry-backed collector per test binary.
var testMetrics = monitoring.NewMetrics()

type stubFetcher struct {
	responses map[string]*upstream.Result
	err       error
	calls     []string
	lastOpts  upstream.Options
	closed    []string
}

func (s *stubFetcher) FetchWithRetry(_ context.Context, rawURL string, _ upstream.Pinned, opts upstream.Options) (*upstream.Result, error) {
	s.calls = append(s.calls, rawURL)
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	if r, ok := s.responses[rawURL]; ok {
		return r, nil
	}
	return &upstream.Result{
		Status:      http.StatusOK,
		Header:      http.Header{},
		Body:        []byte("ok"),
		ContentType: "text/plain",
	}, nil
}

func (s *stubFetcher) CloseCredential(credentialID string) {
	s.closed = append(s.closed, credentialID)
}

type stubResolver struct {
	resolution *redirect.Resolution
	err        error
	calls      []string
	lastFirst  upstream.Options
}

func (s *stubResolver) Resolve(_ context.Context, startURL string, _ upstream.Pinned, first upstream.Options) (*redirect.Resolution, error) {
	s.calls = append(s.calls, startURL)
	s.lastFirst = first
	if s.err != nil {
		return nil, s.err
	}
	return s.resolution, nil
}

func newTestRouter(t *testing.T, fetcher *stubFetcher, resolver *stubResolver) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Target.Origin = "https://shop.example.com"
	target, err := url.Parse(cfg.Target.Origin)
	require.NoError(t, err)

	logger := logging.NewNop()
	classifier := intercept.NewClassifier(target, nil, nil)
	assets, err := intercept.NewAssets(target, classifier.AdDomains())
	require.NoError(t, err)
	sessions := session.NewManager(cfg.Session.TTL, logger, nil)

	h := NewHandlers(cfg, target, logger, testMetrics, sessions, fetcher, resolver, classifier, assets)
	r := gin.New()
	h.Register(r)
	return r
}

func htmlResult(body string) *upstream.Result {
	return &upstream.Result{
		Status:      http.StatusOK,
		Header:      http.Header{},
		Body:        []byte(body),
		ContentType: "text/html; charset=utf-8",
	}
}

func perform(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Host = "gw.example"
	if method == http.MethodPost && strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBrowseRewritesHTMLAndMintsSession(t *testing.T) {
	fetcher := &stubFetcher{responses: map[string]*upstream.Result{
		"https://shop.example.com/products": htmlResult(
			`<html><head></head><body><a href="/cart">Cart</a></body></html>`),
	}}
	r := newTestRouter(t, fetcher, &stubResolver{})

	w := perform(r, http.MethodGet, "/browse/products", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `href="/browse/cart"`)
	assert.Contains(t, w.Body.String(), `src="/shim.js"`)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "mg_session=")
}

func TestBrowsePreservesQueryAndForwardsCookieJar(t *testing.T) {
	fetcher := &stubFetcher{}
	r := newTestRouter(t, fetcher, &stubResolver{})

	perform(r, http.MethodGet, "/browse/search?q=widgets&page=2", "")

	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, "https://shop.example.com/search?q=widgets&page=2", fetcher.calls[0])
	assert.False(t, fetcher.lastOpts.FollowRedirects)
}

func TestBrowsePreservesEncodedSeparators(t *testing.T) {
	fetcher := &stubFetcher{}
	r := newTestRouter(t, fetcher, &stubResolver{})

	perform(r, http.MethodGet, "/browse/docs%2Fguide/page", "")

	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, "https://shop.example.com/docs%2Fguide/page", fetcher.calls[0])
}

func TestBrowseRewritesRedirectLocation(t *testing.T) {
	h := http.Header{}
	h.Set("Location", "https://shop.example.com/login")
	fetcher := &stubFetcher{responses: map[string]*upstream.Result{
		"https://shop.example.com/account": {Status: http.StatusFound, Header: h},
	}}
	r := newTestRouter(t, fetcher, &stubResolver{})

	w := perform(r, http.MethodGet, "/browse/account", "")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/browse/login", w.Header().Get("Location"))
}

func TestBrowseCorrectsMislabelledStylesheet(t *testing.T) {
	fetcher := &stubFetcher{responses: map[string]*upstream.Result{
		"https://shop.example.com/theme.css": {
			Status:      http.StatusOK,
			Header:      http.Header{},
			Body:        []byte("<!DOCTYPE html><html><title>404</title></html>"),
			ContentType: "text/html; charset=utf-8",
		},
	}}
	r := newTestRouter(t, fetcher, &stubResolver{})

	w := perform(r, http.MethodGet, "/browse/theme.css", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/css")
	assert.Empty(t, w.Body.String())
}

func TestBrowseFailureShapes(t *testing.T) {
	fetcher := &stubFetcher{err: &upstream.ExhaustedError{Attempts: 3, LastErr: errors.New("connect refused")}}
	r := newTestRouter(t, fetcher, &stubResolver{})

	// Navigation failure renders the error page.
	w := perform(r, http.MethodGet, "/browse/checkout", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "could not be loaded")
	assert.Contains(t, w.Body.String(), "3 attempts")

	// Sub-resource failure degrades to an empty typed body.
	w = perform(r, http.MethodGet, "/browse/logo.png", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestExternalRewritesForeignStylesheet(t *testing.T) {
	cssURL := "https://cdn.other.net/style.css"
	fetcher := &stubFetcher{responses: map[string]*upstream.Result{
		cssURL: {
			Status:      http.StatusOK,
			Header:      http.Header{},
			Body:        []byte(`body { background: url(img.png); }`),
			ContentType: "text/css",
		},
	}}
	r := newTestRouter(t, fetcher, &stubResolver{})

	w := perform(r, http.MethodGet, rewrite.ExternalRef(cssURL), "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), rewrite.ExternalRef("https://cdn.other.net/img.png"))
	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, cssURL, fetcher.calls[0])
	assert.True(t, fetcher.lastOpts.FollowRedirects)
}

func TestNavigateServesRewrittenFinalPage(t *testing.T) {
	resolver := &stubResolver{resolution: &redirect.Resolution{
		FinalURL: "https://landing.example.org/offer",
		Result:   htmlResult(`<html><head></head><body><a href="/claim">Claim</a></body></html>`),
		Hops:     3,
	}}
	r := newTestRouter(t, &stubFetcher{}, resolver)

	w := perform(r, http.MethodGet, "/navigate?url="+url.QueryEscape("https://click.adnet.example/go"), "")

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resolver.calls, 1)
	assert.Equal(t, "https://click.adnet.example/go", resolver.calls[0])
	assert.Contains(t, w.Body.String(), "/navigate?url="+url.QueryEscape("https://landing.example.org/claim"))
	assert.Contains(t, w.Body.String(), `src="/shim.js"`)
}

func TestNavigateForwardsFormSubmission(t *testing.T) {
	resolver := &stubResolver{resolution: &redirect.Resolution{
		FinalURL: "https://landing.example.org/thanks",
		Result:   htmlResult(`<html><head></head><body>Thanks</body></html>`),
		Hops:     2,
	}}
	r := newTestRouter(t, &stubFetcher{}, resolver)

	form := "email=a%40b.c&consent=yes"
	req := httptest.NewRequest(http.MethodPost,
		"/navigate?url="+url.QueryEscape("https://signup.example.org/join"),
		strings.NewReader(form))
	req.Host = "gw.example"
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resolver.calls, 1)
	assert.Equal(t, http.MethodPost, resolver.lastFirst.Method)
	assert.Equal(t, form, string(resolver.lastFirst.Body))
	assert.Equal(t, "application/x-www-form-urlencoded", resolver.lastFirst.Headers["Content-Type"])
}

func TestNavigateMissingURL(t *testing.T) {
	r := newTestRouter(t, &stubFetcher{}, &stubResolver{})
	w := perform(r, http.MethodGet, "/navigate", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrivateTargetsRejectedAtEveryEntryPoint(t *testing.T) {
	for _, blocked := range []string{
		"http://127.0.0.1/admin",
		"http://10.0.0.1/",
		"http://192.168.1.1/router",
	} {
		fetcher := &stubFetcher{}
		resolver := &stubResolver{}
		r := newTestRouter(t, fetcher, resolver)

		w := perform(r, http.MethodGet, rewrite.ExternalRef(blocked), "")
		assert.Equal(t, http.StatusForbidden, w.Code, "external %q", blocked)

		w = perform(r, http.MethodGet, "/navigate?url="+url.QueryEscape(blocked), "")
		assert.Equal(t, http.StatusForbidden, w.Code, "navigate %q", blocked)

		w = perform(r, http.MethodPost, "/relay", `{"url":"`+blocked+`"}`)
		assert.Equal(t, http.StatusForbidden, w.Code, "relay %q", blocked)

		// Rejection happens before any upstream activity.
		assert.Empty(t, fetcher.calls, "fetches for %q", blocked)
		assert.Empty(t, resolver.calls, "resolutions for %q", blocked)
	}
}

func TestSessionResetRotatesCredential(t *testing.T) {
	fetcher := &stubFetcher{}
	r := newTestRouter(t, fetcher, &stubResolver{})

	w := perform(r, http.MethodPost, "/session/reset", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"credential":"cred_`)
	require.Len(t, fetcher.closed, 1)
	assert.True(t, strings.HasPrefix(fetcher.closed[0], "cred_"))
}

func TestRootRedirectsIntoBrowse(t *testing.T) {
	r := newTestRouter(t, &stubFetcher{}, &stubResolver{})
	w := perform(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/browse/", w.Header().Get("Location"))
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, &stubFetcher{}, &stubResolver{})
	w := perform(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), "shop.example.com")
}

func TestServeWorkerHeaders(t *testing.T) {
	r := newTestRouter(t, &stubFetcher{}, &stubResolver{})
	w := perform(r, http.MethodGet, "/sw.js", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/", w.Header().Get("Service-Worker-Allowed"))
	assert.Contains(t, w.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, w.Body.String(), "shop.example.com")
}
