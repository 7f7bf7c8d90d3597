// Package redirect drives a URL through its full redirect chain. Ad and
// affiliate links rarely stop at HTTP 3xx: many hops are HTML notice
// pages whose onward URL hides in an anchor, a meta refresh, or an
// inline script assignment. The resolver fetches each hop itself and
// extracts the next URL until it reaches a terminal page or the hop cap.
package redirect

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mirrorgate/mirrorgate/internal/gateway/upstream"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/logging"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/monitoring"
	"github.com/mirrorgate/mirrorgate/internal/shared/netguard"
)

// maxHops caps the chain length. Legitimate ad chains run 3-8 hops;
// anything past 20 is a loop or a tarpit.
const maxHops = 20

// Fetcher is the upstream surface the resolver needs. *upstream.Fetcher
// satisfies it; tests substitute a scripted stub.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, rawURL string, sess upstream.Pinned, opts upstream.Options) (*upstream.Result, error)
}

// Resolution is the outcome of driving one chain.
type Resolution struct {
	// FinalURL is the URL the returned Result was fetched from.
	FinalURL string
	// Result is the last response fetched, terminal or not.
	Result *upstream.Result
	// Hops is the number of upstream fetches performed.
	Hops int
	// Unresolved is set when the last page looks like a redirect notice
	// but no onward URL could be extracted from it.
	Unresolved bool
}

// Resolver follows chains hop by hop under a pinned session credential.
type Resolver struct {
	fetcher Fetcher
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

func NewResolver(fetcher Fetcher, logger *logging.Logger, metrics *monitoring.Metrics) *Resolver {
	return &Resolver{fetcher: fetcher, logger: logger, metrics: metrics}
}

// Resolve fetches startURL and walks the chain: 3xx hops advance via the
// Location header, HTML notice pages advance via extraction strategies.
// Every hop is fetched with redirect following disabled so each 3xx is
// observed and counted here. The caller's method and body apply to the
// first hop only; onward hops are plain GETs, matching how a browser
// follows a redirect after a form post.
func (r *Resolver) Resolve(ctx context.Context, startURL string, sess upstream.Pinned, first upstream.Options) (*Resolution, error) {
	current := startURL
	res := &Resolution{}

	opts := first
	opts.FollowRedirects = false

	for res.Hops < maxHops {
		fetched, err := r.fetcher.FetchWithRetry(ctx, current, sess, opts)
		if err != nil {
			return nil, err
		}
		res.Hops++
		res.Result = fetched
		res.FinalURL = current
		if res.Hops == 1 {
			opts = onwardOptions(opts)
		}

		next, ok := r.nextHop(current, fetched, res)
		if !ok {
			break
		}
		r.logger.Debug("redirect hop",
			zap.String("from", current),
			zap.String("to", next),
			zap.Int("hop", res.Hops),
		)
		current = next
	}

	if r.metrics != nil {
		r.metrics.RecordRedirectChain(res.Hops, res.Unresolved)
	}
	return res, nil
}

// nextHop extracts the onward URL from one response, or reports the
// chain is done. Extracted URLs pass the address guard before they are
// followed; an interstitial pointing into private address space ends
// the chain instead of reaching it.
func (r *Resolver) nextHop(current string, fetched *upstream.Result, res *Resolution) (string, bool) {
	base, err := url.Parse(current)
	if err != nil {
		return "", false
	}

	if fetched.IsRedirect() {
		loc := fetched.Header.Get("Location")
		next, ok := resolveNext(base, loc)
		if !ok {
			return "", false
		}
		return next, true
	}

	if !isHTML(fetched.ContentType) {
		return "", false
	}
	doc, err := parseDoc(fetched.Body)
	if err != nil {
		return "", false
	}
	if !LooksInterstitial(doc, fetched.Body) {
		return "", false
	}

	next, strat, ok := ExtractNext(doc, fetched.Body, base)
	if !ok {
		res.Unresolved = true
		r.logger.Warn("interstitial page with no extractable destination",
			zap.String("url", current))
		return "", false
	}
	r.logger.Debug("interstitial destination extracted",
		zap.String("url", current),
		zap.String("strategy", strat),
	)
	return next, true
}

// onwardOptions strips the method, body, and content type carried by the
// first hop so redirect targets never see the submitted payload.
func onwardOptions(first upstream.Options) upstream.Options {
	headers := make(map[string]string, len(first.Headers))
	for k, v := range first.Headers {
		if strings.EqualFold(k, "Content-Type") {
			continue
		}
		headers[k] = v
	}
	return upstream.Options{Headers: headers}
}

// resolveNext makes ref absolute against base and validates it.
func resolveNext(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(parsed)
	if _, err := netguard.ValidateTarget(abs.String()); err != nil {
		return "", false
	}
	return abs.String(), true
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "text/html")
}
