// Package http implements the gateway's HTTP surface: the proxied
// browse/external/navigate paths, the interception relay, the embedded
// browser scripts, and the operational endpoints.
package http

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirrorgate/mirrorgate/internal/domain/session"
	"github.com/mirrorgate/mirrorgate/internal/gateway/intercept"
	"github.com/mirrorgate/mirrorgate/internal/gateway/redirect"
	"github.com/mirrorgate/mirrorgate/internal/gateway/rewrite"
	"github.com/mirrorgate/mirrorgate/internal/gateway/upstream"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/config"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/logging"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/monitoring"
	"github.com/mirrorgate/mirrorgate/internal/shared/id"
	"github.com/mirrorgate/mirrorgate/internal/shared/netguard"
)

// Fetcher is the upstream surface handlers depend on. *upstream.Fetcher
// satisfies it; tests substitute stubs.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, rawURL string, sess upstream.Pinned, opts upstream.Options) (*upstream.Result, error)
	CloseCredential(credentialID string)
}

// Resolver drives redirect chains for navigation-class requests. The
// options apply to the chain's first hop.
type Resolver interface {
	Resolve(ctx context.Context, startURL string, sess upstream.Pinned, first upstream.Options) (*redirect.Resolution, error)
}

// Handlers holds all HTTP endpoint implementations.
type Handlers struct {
	cfg        *config.Config
	target     *url.URL
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	sessions   *session.Manager
	fetcher    Fetcher
	resolver   Resolver
	classifier *intercept.Classifier
	assets     *intercept.Assets
}

// NewHandlers creates the handler set.
func NewHandlers(
	cfg *config.Config,
	target *url.URL,
	logger *logging.Logger,
	metrics *monitoring.Metrics,
	sessions *session.Manager,
	fetcher Fetcher,
	resolver Resolver,
	classifier *intercept.Classifier,
	assets *intercept.Assets,
) *Handlers {
	return &Handlers{
		cfg:        cfg,
		target:     target,
		logger:     logger,
		metrics:    metrics,
		sessions:   sessions,
		fetcher:    fetcher,
		resolver:   resolver,
		classifier: classifier,
		assets:     assets,
	}
}

// session returns the visitor session for this request, minting the
// session cookie on first contact.
func (h *Handlers) session(c *gin.Context) *session.Session {
	sid, err := c.Cookie(h.cfg.Session.CookieName)
	if err != nil || !id.IsValid(sid) {
		sid = id.NewVisitID().String()
		c.SetCookie(h.cfg.Session.CookieName, sid, int(h.cfg.Session.TTL.Seconds()), "/", "", false, true)
	}
	sess := h.sessions.GetOrCreate(sid)
	sess.Touch()
	return sess
}

// upstreamHeaders builds the header subset forwarded upstream, including
// the session's server-side cookie jar for the target site.
func (h *Handlers) upstreamHeaders(c *gin.Context, sess *session.Session) map[string]string {
	headers := make(map[string]string, 4)
	for _, name := range []string{"Accept", "Accept-Language", "Content-Type", "Range"} {
		if v := c.GetHeader(name); v != "" {
			headers[name] = v
		}
	}
	if cookie := sess.CookieHeader(); cookie != "" {
		headers["Cookie"] = cookie
	}
	if ref := sess.Referer(); ref != "" {
		headers["Referer"] = ref
	}
	return headers
}

// Browse proxies same-origin traffic: /browse/<path> maps to the target
// origin's <path> with the query string preserved.
func (h *Handlers) Browse(c *gin.Context) {
	sess := h.session(c)

	// Like /external, take the path from the raw URL: the router has
	// already percent-decoded c.Param, which would corrupt encoded
	// separators in the proxied path.
	rest := strings.TrimPrefix(c.Request.URL.EscapedPath(), rewrite.BrowsePath)
	if rest == "" {
		rest = "/"
	}
	targetURL := h.target.Scheme + "://" + h.target.Host + rest
	if q := c.Request.URL.RawQuery; q != "" {
		targetURL += "?" + q
	}

	accept := c.GetHeader("Accept")
	expected := rewrite.ExpectedType(rest, accept)
	isDocument := expected == "" || strings.HasPrefix(expected, "text/html")

	res, err := h.fetchUpstream(c, sess, targetURL, false)
	if err != nil {
		h.failFetch(c, err, isDocument, expected)
		return
	}
	sess.AbsorbCookies(res.Header)

	if res.IsRedirect() {
		loc := rewrite.RewriteURL(res.Header.Get("Location"), h.target)
		c.Redirect(res.Status, loc)
		return
	}

	ct, body := rewrite.CorrectType(rest, accept, res.ContentType, res.Body)
	switch {
	case strings.HasPrefix(ct, "text/html"):
		start := time.Now()
		html, rerr := rewrite.RewriteHTML(body, h.target)
		if rerr != nil {
			h.logger.Warn("HTML rewrite failed, serving raw",
				zap.String("url", targetURL), zap.Error(rerr))
			h.respond(c, res, ct, body)
			return
		}
		html = rewrite.InjectScript(html, "/shim.js")
		h.metrics.RecordRewrite("html", time.Since(start))
		sess.SetReferer(targetURL)
		h.respond(c, res, "text/html; charset=utf-8", []byte(html))
	case strings.HasPrefix(ct, "text/css"):
		start := time.Now()
		css := rewrite.RewriteCSS(body, h.target)
		h.metrics.RecordRewrite("css", time.Since(start))
		h.respond(c, res, ct, []byte(css))
	default:
		h.respond(c, res, ct, body)
	}
}

// External proxies one cross-origin sub-resource addressed by its
// percent-encoded absolute URL.
func (h *Handlers) External(c *gin.Context) {
	sess := h.session(c)

	// The encoded URL must come from the raw path: the router has already
	// percent-decoded c.Param, which would corrupt nested query strings.
	segment := strings.TrimPrefix(c.Request.URL.EscapedPath(), rewrite.ExternalPath+"/")
	raw, err := rewrite.DecodeExternalRef(segment)
	if err != nil {
		h.failResource(c, "")
		return
	}
	target, err := netguard.ValidateTarget(raw)
	if err != nil {
		h.failFetch(c, err, false, "")
		return
	}

	res, err := h.fetchUpstream(c, sess, raw, true)
	if err != nil {
		h.failFetch(c, err, false, rewrite.ExpectedType(target.Path, c.GetHeader("Accept")))
		return
	}

	ct, body := rewrite.CorrectType(target.Path, c.GetHeader("Accept"), res.ContentType, res.Body)
	switch {
	case strings.HasPrefix(ct, "text/css"):
		base := finalURL(res, target)
		h.respond(c, res, ct, []byte(rewrite.RewriteCSSAt(body, base)))
	case strings.HasPrefix(ct, "text/html"):
		// Foreign HTML reached as a resource is an iframe document; keep
		// it navigable.
		base := finalURL(res, target)
		html, rerr := rewrite.RewriteHTMLForNavigation(body, base)
		if rerr != nil {
			h.respond(c, res, ct, body)
			return
		}
		h.respond(c, res, ct, []byte(html))
	default:
		h.respond(c, res, ct, body)
	}
}

// Navigate resolves a foreign link's full redirect chain server-side and
// serves the terminal page rewritten for further navigation.
func (h *Handlers) Navigate(c *gin.Context) {
	sess := h.session(c)

	raw := c.Query("url")
	if raw == "" {
		h.failNavigation(c, http.StatusBadRequest, "missing url parameter")
		return
	}
	if _, err := netguard.ValidateTarget(raw); err != nil {
		h.failFetch(c, err, true, "")
		return
	}

	resolution, err := h.resolver.Resolve(c.Request.Context(), raw, sess, upstream.Options{
		Method:  c.Request.Method,
		Headers: h.upstreamHeaders(c, sess),
		Body:    requestBody(c),
	})
	if err != nil {
		h.failFetch(c, err, true, "")
		return
	}
	res := resolution.Result
	h.logger.Info("navigation resolved",
		zap.String("start", raw),
		zap.String("final", resolution.FinalURL),
		zap.Int("hops", resolution.Hops),
		zap.Bool("unresolved", resolution.Unresolved),
	)

	if res.IsRedirect() {
		// Hop cap ended on a redirect; let the browser re-enter /navigate.
		loc := res.Header.Get("Location")
		c.Redirect(http.StatusFound, rewrite.NavigateRef(loc))
		return
	}

	base, perr := url.Parse(resolution.FinalURL)
	if perr != nil {
		base = h.target
	}
	ct, body := rewrite.CorrectType(base.Path, c.GetHeader("Accept"), res.ContentType, res.Body)
	if strings.HasPrefix(ct, "text/html") {
		html, rerr := rewrite.RewriteHTMLForNavigation(body, base)
		if rerr == nil {
			body = []byte(rewrite.InjectScript(html, "/shim.js"))
			ct = "text/html; charset=utf-8"
		}
	}
	h.respond(c, res, ct, body)
}

// fetchUpstream runs one retried fetch with the request's method, header
// subset, and body.
func (h *Handlers) fetchUpstream(c *gin.Context, sess *session.Session, rawURL string, follow bool) (*upstream.Result, error) {
	return h.fetcher.FetchWithRetry(c.Request.Context(), rawURL, sess, upstream.Options{
		Method:          c.Request.Method,
		Headers:         h.upstreamHeaders(c, sess),
		Body:            requestBody(c),
		FollowRedirects: follow,
	})
}

// requestBody drains the inbound body for forwarding, bounded at 10MB.
func requestBody(c *gin.Context) []byte {
	if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Body == nil {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(c.Request.Body, 10<<20))
	return body
}

// respond writes an upstream result back to the browser, passing through
// caching metadata.
func (h *Handlers) respond(c *gin.Context, res *upstream.Result, contentType string, body []byte) {
	if cc := res.Header.Get("Cache-Control"); cc != "" {
		c.Header("Cache-Control", cc)
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	c.Data(status, contentType, body)
}

func finalURL(res *upstream.Result, fallback *url.URL) *url.URL {
	if res.FinalURL != "" {
		if u, err := url.Parse(res.FinalURL); err == nil && u.Hostname() != "" {
			return u
		}
	}
	return fallback
}
