// Package upstream owns the session-pinned fetch path: SOCKS5 credential
// construction, per-credential anonymized tunnels, request execution, and
// retry with credential rotation.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/mirrorgate/mirrorgate/internal/infrastructure/config"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/logging"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/monitoring"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/resilience"
	"github.com/mirrorgate/mirrorgate/internal/shared/netguard"
)

// maxTransparentHops bounds redirect following when the caller asks for it.
const maxTransparentHops = 20

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// Pinned is the session surface the fetcher needs: read the current
// credential, and rotate it in place on failure. *session.Session
// satisfies it.
type Pinned interface {
	CredentialID() string
	RotateFrom(old string) string
}

// Options controls a single fetch.
type Options struct {
	Method  string
	Headers map[string]string
	Body    []byte
	// FollowRedirects makes the client follow up to 20 hops transparently.
	// When false, 3xx responses come back raw with their Location header so
	// the redirect resolver can drive each hop itself.
	FollowRedirects bool
}

// Result is one upstream response. Body is opaque bytes until a
// content-type decision is made downstream.
type Result struct {
	Status      int
	Header      http.Header
	Body        []byte
	ContentType string
	FinalURL    string
}

// IsRedirect reports whether the response is a 3xx with a Location header.
func (r *Result) IsRedirect() bool {
	return r.Status >= 300 && r.Status < 400 && r.Header.Get("Location") != ""
}

// Fetcher executes upstream requests through per-credential SOCKS5 identities.
type Fetcher struct {
	cfg     config.UpstreamConfig
	logger  *logging.Logger
	metrics *monitoring.Metrics
	breaker *resilience.Breaker

	mu      sync.Mutex
	tunnels map[string]*Tunnel       // credential id -> live tunnel
	clients map[string]*resty.Client // credential id + scheme + follow -> client

	// fetchFn is the single-attempt fetch; replaced in tests.
	fetchFn func(ctx context.Context, rawURL string, sess Pinned, opts Options) (*Result, error)
}

// NewFetcher creates the fetcher with an explicit tunnel/client cache, so
// lifecycle (rotation closes, shutdown closes all) is visible at the type
// level rather than hidden in package globals.
func NewFetcher(cfg config.UpstreamConfig, logger *logging.Logger, metrics *monitoring.Metrics) *Fetcher {
	f := &Fetcher{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tunnels: make(map[string]*Tunnel),
		clients: make(map[string]*resty.Client),
		breaker: resilience.New("upstream", resilience.Settings{
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				// Rotation already absorbs per-exit-IP failures; the breaker
				// only trips when the provider itself looks dead.
				return counts.ConsecutiveFailures >= 10 ||
					(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
			},
		}),
	}
	f.fetchFn = f.fetch
	return f
}

// Fetch executes one request under the session's current credential.
// Responses with status >= 500 pass through as results, not errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, sess Pinned, opts Options) (*Result, error) {
	return f.fetchFn(ctx, rawURL, sess, opts)
}

// FetchWithRetry retries failed fetches up to the configured budget. Each
// failure closes the current credential's tunnel, rotates the session's
// credential in place (new exit IP), and backs off briefly. Callers must
// re-read the session's credential after this returns rather than caching
// it across calls.
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string, sess Pinned, opts Options) (*Result, error) {
	maxRetries := f.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := f.fetchFn(ctx, rawURL, sess, opts)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if decide(attempt, maxRetries, err) == GiveUp {
			break
		}

		old := sess.CredentialID()
		f.CloseCredential(old)
		fresh := sess.RotateFrom(old)
		if f.metrics != nil {
			f.metrics.RecordRotation()
		}
		f.logger.Warn("upstream fetch failed, rotated credential",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.String("old_credential", old),
			zap.String("new_credential", fresh),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, &UpstreamError{URL: rawURL, Err: ctx.Err()}
		case <-time.After(f.cfg.RetryBackoff):
		}
	}

	var ue *UpstreamError
	if !errors.As(lastErr, &ue) {
		// Validation failures surface as-is; they are not exhaustion.
		return nil, lastErr
	}
	if f.metrics != nil {
		f.metrics.RecordFetch("exhausted")
	}
	return nil, &ExhaustedError{Attempts: maxRetries, LastErr: lastErr}
}

// fetch is the single-attempt implementation behind Fetch.
func (f *Fetcher) fetch(ctx context.Context, rawURL string, sess Pinned, opts Options) (*Result, error) {
	target, err := netguard.ValidateTarget(rawURL)
	if err != nil {
		return nil, err
	}

	cred := sess.CredentialID()
	client, err := f.clientFor(cred, target.Scheme, opts.FollowRedirects)
	if err != nil {
		return nil, &UpstreamError{URL: rawURL, Err: err}
	}

	req := client.R().SetContext(ctx)
	for k, v := range opts.Headers {
		req.SetHeader(k, v)
	}
	if len(opts.Body) > 0 {
		req.SetBody(opts.Body)
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	respAny, err := f.breaker.Execute(func() (interface{}, error) {
		return req.Execute(method, rawURL)
	})
	if err != nil {
		outcome := "error"
		if ctx.Err() != nil || strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "Client.Timeout") {
			outcome = "timeout"
		}
		if f.metrics != nil {
			f.metrics.RecordFetch(outcome)
		}
		return nil, &UpstreamError{URL: rawURL, Err: err}
	}
	resp := respAny.(*resty.Response)
	if f.metrics != nil {
		f.metrics.RecordFetch("ok")
	}

	body, err := maybeGunzip(resp.Header(), resp.Body())
	if err != nil {
		return nil, &UpstreamError{URL: rawURL, Err: err}
	}

	finalURL := rawURL
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		finalURL = resp.RawResponse.Request.URL.String()
	}

	return &Result{
		Status:      resp.StatusCode(),
		Header:      resp.Header(),
		Body:        body,
		ContentType: resp.Header().Get("Content-Type"),
		FinalURL:    finalURL,
	}, nil
}

// clientFor returns the cached client for (credential, scheme, follow),
// materializing the tunnel lazily for HTTPS targets. Plain HTTP targets
// dial through the SOCKS5 handle directly and skip the CONNECT hop.
func (f *Fetcher) clientFor(credentialID, scheme string, follow bool) (*resty.Client, error) {
	key := credentialID + "|" + scheme + "|" + boolKey(follow)

	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[key]; ok {
		return client, nil
	}

	tunnel, err := f.tunnelLocked(credentialID)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}
	if scheme == "https" {
		transport.Proxy = http.ProxyURL(tunnel.URL())
	} else {
		transport.DialContext = tunnel.dialContext
	}

	// retryablehttp supplies the transport-level client, resty the request
	// surface. Transport retries stay off because the rotation loop owns
	// failure handling.
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	rc.HTTPClient.Timeout = f.cfg.FetchTimeout
	rc.HTTPClient.Transport = transport
	if follow {
		rc.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxTransparentHops {
				return http.ErrUseLastResponse
			}
			return nil
		}
	} else {
		rc.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	client := resty.NewWithClient(rc.StandardClient())
	client.SetHeader("User-Agent", defaultUserAgent)

	f.clients[key] = client
	return client, nil
}

// tunnelLocked returns the live tunnel for a credential, creating it on
// first use. Caller holds f.mu.
func (f *Fetcher) tunnelLocked(credentialID string) (*Tunnel, error) {
	if t, ok := f.tunnels[credentialID]; ok {
		return t, nil
	}

	auth := buildAuth(f.cfg.Username, f.cfg.Password, credentialID)
	t, err := NewTunnel(f.cfg.ProxyAddr, auth, credentialID)
	if err != nil {
		return nil, err
	}
	f.tunnels[credentialID] = t
	if f.metrics != nil {
		f.metrics.RecordTunnelOpened()
	}
	f.logger.Debug("tunnel opened",
		zap.String("credential_id", credentialID),
		zap.String("local_endpoint", t.Addr()),
	)
	return t, nil
}

// CloseCredential tears down the tunnel and cached clients for a
// credential. Requests in flight against the old tunnel may fail and will
// retry under the new credential; that loss is accepted.
func (f *Fetcher) CloseCredential(credentialID string) {
	f.mu.Lock()
	tunnel := f.tunnels[credentialID]
	delete(f.tunnels, credentialID)
	for key := range f.clients {
		if strings.HasPrefix(key, credentialID+"|") {
			delete(f.clients, key)
		}
	}
	f.mu.Unlock()

	if tunnel != nil {
		_ = tunnel.Close()
		if f.metrics != nil {
			f.metrics.RecordTunnelClosed()
		}
		f.logger.Debug("tunnel closed", zap.String("credential_id", credentialID))
	}
}

// Close tears down every live tunnel. Called on shutdown and when a
// session expires.
func (f *Fetcher) Close() {
	f.mu.Lock()
	tunnels := f.tunnels
	f.tunnels = make(map[string]*Tunnel)
	f.clients = make(map[string]*resty.Client)
	f.mu.Unlock()

	for id, t := range tunnels {
		_ = t.Close()
		if f.metrics != nil {
			f.metrics.RecordTunnelClosed()
		}
		f.logger.Debug("tunnel closed", zap.String("credential_id", id))
	}
}

func maybeGunzip(header http.Header, body []byte) ([]byte, error) {
	if !strings.EqualFold(header.Get("Content-Encoding"), "gzip") || len(body) == 0 {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		// Transport already decoded it; pass through.
		return body, nil
	}
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func boolKey(b bool) string {
	if b {
		return "follow"
	}
	return "raw"
}
