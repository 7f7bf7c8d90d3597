package relay

import (
	"net/url"
	"strings"
)

// RewriteAdRequest makes an ad or tracking request look like it left the
// target site rather than the gateway: the gateway origin is substituted
// with the target origin inside query parameter values and the Referer
// header. Ad verification scripts compare these against the domain they
// were served for; seeing the gateway origin flags the impression.
func RewriteAdRequest(e *Envelope, gatewayOrigin, targetOrigin string) {
	gatewayOrigin = strings.TrimSuffix(gatewayOrigin, "/")
	targetOrigin = strings.TrimSuffix(targetOrigin, "/")

	if u, err := url.Parse(e.URL); err == nil {
		q := u.Query()
		changed := false
		for name, values := range q {
			for i, v := range values {
				if sub := substituteOrigin(v, gatewayOrigin, targetOrigin); sub != v {
					values[i] = sub
					changed = true
				}
			}
			q[name] = values
		}
		if changed {
			u.RawQuery = q.Encode()
			e.URL = u.String()
		}
	}

	if ref, ok := e.Headers["referer"]; ok {
		e.Headers["referer"] = rewriteReferer(ref, gatewayOrigin, targetOrigin)
	}
}

// substituteOrigin replaces the gateway origin in both its literal and
// percent-encoded forms; ad pixels routinely nest encoded URLs inside
// query values.
func substituteOrigin(s, gateway, target string) string {
	if s == "" {
		return s
	}
	out := strings.ReplaceAll(s, gateway, target)
	out = strings.ReplaceAll(out, url.QueryEscape(gateway), url.QueryEscape(target))
	return out
}

// rewriteReferer maps a gateway referer back to the target page the
// visitor is actually on: /browse paths translate to their target-origin
// equivalent, anything else on the gateway collapses to the target root.
func rewriteReferer(ref, gateway, target string) string {
	if !strings.HasPrefix(ref, gateway) {
		return substituteOrigin(ref, gateway, target)
	}
	rest := strings.TrimPrefix(ref, gateway)
	if strings.HasPrefix(rest, "/browse") {
		page := strings.TrimPrefix(rest, "/browse")
		if page == "" {
			page = "/"
		}
		return target + page
	}
	return target + "/"
}
