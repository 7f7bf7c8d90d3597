package upstream

import (
	"strings"

	xproxy "golang.org/x/net/proxy"
)

// sessionMarker is the placeholder in the configured username template that
// gets replaced with the credential id. Providers route every request whose
// username carries the same embedded id through the same exit IP for their
// sticky window (provider-side, typically ~10 minutes). That window is
// independent of the gateway's session TTL: rotation mints a fresh id and
// thereby a fresh exit IP without waiting for either clock.
const sessionMarker = "{session}"

// buildAuth constructs SOCKS5 credentials pinning credentialID to one exit IP.
func buildAuth(usernameTemplate, password, credentialID string) *xproxy.Auth {
	username := strings.ReplaceAll(usernameTemplate, sessionMarker, credentialID)
	if username == "" && password == "" {
		return nil
	}
	return &xproxy.Auth{User: username, Password: password}
}
