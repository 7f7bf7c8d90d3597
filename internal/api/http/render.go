package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirrorgate/mirrorgate/internal/gateway/upstream"
	"github.com/mirrorgate/mirrorgate/internal/shared/netguard"
)

const errorPageTemplate = `<!DOCTYPE html>
<html>
<head><title>Gateway error</title>
<style>body{font-family:sans-serif;max-width:40em;margin:4em auto;color:#333}
h1{font-size:1.4em}a{color:#0366d6}</style>
</head>
<body>
<h1>The page could not be loaded</h1>
<p>%s</p>
<p><a href="/browse/">Return to the start page</a></p>
</body>
</html>`

// failFetch maps a fetch error to the right response shape for the
// request class. Navigations get a readable error page; sub-resources
// get a benign typed empty body so the embedding page keeps rendering.
// Guard rejections are explicit at every entry point.
func (h *Handlers) failFetch(c *gin.Context, err error, isDocument bool, expectedType string) {
	switch {
	case errors.Is(err, netguard.ErrBlockedAddress):
		c.String(http.StatusForbidden, "target address is not allowed")
	case errors.Is(err, netguard.ErrInvalidURL):
		c.String(http.StatusBadRequest, "invalid target url")
	default:
		h.logger.Warn("upstream fetch failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		var exhausted *upstream.ExhaustedError
		message := "The upstream site did not respond."
		if errors.As(err, &exhausted) {
			message = fmt.Sprintf("The upstream site did not respond after %d attempts.", exhausted.Attempts)
		}
		if isDocument {
			h.failNavigation(c, http.StatusBadGateway, message)
		} else {
			h.failResource(c, expectedType)
		}
	}
	c.Abort()
}

// failNavigation renders the user-facing error page.
func (h *Handlers) failNavigation(c *gin.Context, status int, message string) {
	c.Data(status, "text/html; charset=utf-8", []byte(fmt.Sprintf(errorPageTemplate, message)))
}

// failResource answers a failed sub-resource with an empty body of the
// expected type. A 204 here keeps a missing image or script from
// visibly breaking the page.
func (h *Handlers) failResource(c *gin.Context, expectedType string) {
	if expectedType != "" {
		c.Header("Content-Type", expectedType)
	}
	c.Status(http.StatusNoContent)
}
