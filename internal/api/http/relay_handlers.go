package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirrorgate/mirrorgate/internal/gateway/intercept"
	"github.com/mirrorgate/mirrorgate/internal/gateway/relay"
	"github.com/mirrorgate/mirrorgate/internal/gateway/upstream"
	"github.com/mirrorgate/mirrorgate/internal/shared/netguard"
)

// Relay is the server half of in-browser interception: it accepts a JSON
// envelope, re-classifies the target, applies ad origin substitution,
// and returns the raw upstream bytes with the true content metadata on
// X-Original-* headers.
func (h *Handlers) Relay(c *gin.Context) {
	sess := h.session(c)

	env, err := h.relayEnvelope(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := env.Validate(); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, netguard.ErrBlockedAddress) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": "target rejected"})
		return
	}

	class := h.classifier.Classify(env.URL, false)
	h.metrics.RecordRelay(class.String())
	switch class {
	case intercept.ClassBypass, intercept.ClassSameOrigin:
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is not relayable"})
		return
	case intercept.ClassAd:
		relay.RewriteAdRequest(env, h.gatewayOrigin(c), h.targetOrigin())
	}

	headers := make(map[string]string, len(env.Headers))
	for name, value := range env.Headers {
		headers[name] = value
	}

	res, err := h.fetcher.FetchWithRetry(c.Request.Context(), env.URL, sess, upstream.Options{
		Method:          env.Method,
		Headers:         headers,
		Body:            []byte(env.Body),
		FollowRedirects: true,
	})
	if err != nil {
		h.logger.Warn("relay fetch failed",
			zap.String("url", env.URL),
			zap.String("class", class.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream fetch failed"})
		return
	}

	c.Header("X-Original-Content-Type", res.ContentType)
	if cc := res.Header.Get("Cache-Control"); cc != "" {
		c.Header("X-Original-Cache-Control", cc)
	}
	c.Data(res.Status, "application/octet-stream", res.Body)
}

// relayEnvelope builds the envelope from either form of the endpoint:
// the POST JSON body, or the GET convenience form's query parameter.
func (h *Handlers) relayEnvelope(c *gin.Context) (*relay.Envelope, error) {
	if c.Request.Method == http.MethodGet {
		raw := c.Query("url")
		if raw == "" {
			return nil, relay.ErrProtocol
		}
		return &relay.Envelope{
			URL:     raw,
			Method:  http.MethodGet,
			Headers: map[string]string{"accept": c.GetHeader("Accept")},
		}, nil
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 10<<20))
	if err != nil {
		return nil, relay.ErrProtocol
	}
	return relay.Decode(data)
}

// ServeWorker serves the rendered service worker script.
func (h *Handlers) ServeWorker(c *gin.Context) {
	c.Header("Service-Worker-Allowed", "/")
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(h.assets.Worker()))
}

// ServeShim serves the pre-activation interception shim.
func (h *Handlers) ServeShim(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(h.assets.Shim()))
}

func (h *Handlers) gatewayOrigin(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func (h *Handlers) targetOrigin() string {
	return h.target.Scheme + "://" + h.target.Host
}
