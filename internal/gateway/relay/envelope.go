// Package relay implements the server half of browser-side
// interception: the JSON envelope contract and the ad-request origin
// substitution applied before an envelope is forwarded upstream.
package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/mirrorgate/mirrorgate/internal/shared/netguard"
)

// ErrProtocol marks a malformed envelope. Handlers map it to 400.
var ErrProtocol = errors.New("malformed relay envelope")

// allowedHeaders is the subset of browser headers an envelope may carry
// upstream. Everything else is dropped on decode.
var allowedHeaders = map[string]bool{
	"accept":          true,
	"accept-language": true,
	"content-type":    true,
	"origin":          true,
	"range":           true,
	"referer":         true,
}

// Envelope is one relayed request from the in-browser interceptor.
type Envelope struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	// Class is the interceptor's own routing decision, advisory only;
	// the server re-classifies before applying ad rewriting.
	Class string `json:"class,omitempty"`
}

// Decode parses and normalizes an envelope: method defaults to GET,
// header names are lowercased and filtered to the allowed subset.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := sonic.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if strings.TrimSpace(e.URL) == "" {
		return nil, fmt.Errorf("%w: missing url", ErrProtocol)
	}

	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	if e.Method == "" {
		e.Method = http.MethodGet
	}
	switch e.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions, http.MethodPatch:
	default:
		return nil, fmt.Errorf("%w: method %q", ErrProtocol, e.Method)
	}

	filtered := make(map[string]string, len(e.Headers))
	for name, value := range e.Headers {
		lower := strings.ToLower(strings.TrimSpace(name))
		if allowedHeaders[lower] && value != "" {
			filtered[lower] = value
		}
	}
	e.Headers = filtered
	return &e, nil
}

// Validate applies the address guard to the envelope target.
func (e *Envelope) Validate() error {
	_, err := netguard.ValidateTarget(e.URL)
	return err
}
