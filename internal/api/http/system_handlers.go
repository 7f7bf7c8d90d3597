package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Root sends the visitor into the proxied site.
func (h *Handlers) Root(c *gin.Context) {
	c.Redirect(http.StatusFound, "/browse/")
}

// Health reports liveness and basic gauges.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"service":        "mirrorgate",
		"target":         h.targetOrigin(),
		"sessions":       h.sessions.Count(),
		"uptime_seconds": h.metrics.UptimeSeconds(),
	})
}

// MetricsJSON exposes the metrics snapshot for dashboards that do not
// scrape Prometheus.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.GetSnapshot())
}

// SessionReset discards the visitor's upstream identity and cookie jar.
// The next request leaves through a fresh exit IP with no site state.
func (h *Handlers) SessionReset(c *gin.Context) {
	sess := h.session(c)

	old := sess.CredentialID()
	fresh := sess.Reset()
	h.fetcher.CloseCredential(old)

	h.logger.Info("session reset",
		zap.String("old_credential", old),
		zap.String("new_credential", fresh),
	)
	c.JSON(http.StatusOK, gin.H{
		"status":     "reset",
		"credential": fresh,
	})
}
