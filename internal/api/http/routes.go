package http

import "github.com/gin-gonic/gin"

// Register wires every gateway endpoint onto the router. The Prometheus
// scrape endpoint is attached separately by the server, which owns the
// registry handler.
func (h *Handlers) Register(r *gin.Engine) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics/json", h.MetricsJSON)
	r.POST("/session/reset", h.SessionReset)

	r.GET("/sw.js", h.ServeWorker)
	r.GET("/shim.js", h.ServeShim)

	r.Any("/browse/*path", h.Browse)
	r.Any("/external/*encoded", h.External)
	r.GET("/navigate", h.Navigate)
	r.POST("/navigate", h.Navigate)
	r.GET("/relay", h.Relay)
	r.POST("/relay", h.Relay)
}
