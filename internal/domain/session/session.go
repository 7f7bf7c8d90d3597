// Package session holds the per-visitor state: the upstream credential that
// pins one exit IP to one visitor, and the server-side cookie jar that
// preserves the target site's state across the many proxied requests a
// single page view generates.
package session

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirrorgate/mirrorgate/internal/shared/id"
)

// Session is the identity unit for one browsing visit.
//
// Exactly one credential id is current at any time. Rotation uses a
// compare-and-swap so that concurrent failures rotate once: all concurrent
// requests observe either the same current id or a strictly newer one,
// never a stale id after rotation completes.
type Session struct {
	ID        string
	CreatedAt time.Time

	credential atomic.Pointer[string]
	lastSeen   atomic.Int64 // unix nanos
	active     atomic.Bool

	mu      sync.RWMutex
	cookies map[string]string
	referer string
}

// New creates a session with a fresh credential.
func New(sessionID string) *Session {
	s := &Session{
		ID:        sessionID,
		CreatedAt: time.Now(),
		cookies:   make(map[string]string),
	}
	cred := id.NewCredentialID().String()
	s.credential.Store(&cred)
	s.lastSeen.Store(time.Now().UnixNano())
	s.active.Store(true)
	return s
}

// CredentialID returns the current upstream credential id. Callers must
// re-read after every fetch call rather than caching across calls, because
// a failed fetch rotates the credential in place.
func (s *Session) CredentialID() string {
	return *s.credential.Load()
}

// RotateFrom replaces the credential observed as old with a freshly
// generated one and returns the id now current. If another request already
// rotated past old, the newer id wins and is returned unchanged.
func (s *Session) RotateFrom(old string) string {
	oldPtr := s.credential.Load()
	if *oldPtr != old {
		return *oldPtr
	}
	fresh := id.NewCredentialID().String()
	if s.credential.CompareAndSwap(oldPtr, &fresh) {
		return fresh
	}
	return *s.credential.Load()
}

// Reset discards the credential and cookie jar, giving the visitor a clean
// upstream identity on the next request.
func (s *Session) Reset() string {
	fresh := id.NewCredentialID().String()
	s.credential.Store(&fresh)

	s.mu.Lock()
	s.cookies = make(map[string]string)
	s.referer = ""
	s.mu.Unlock()

	return fresh
}

// Touch refreshes the idle timer.
func (s *Session) Touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the last activity time.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Active reports whether the session has not been torn down.
func (s *Session) Active() bool {
	return s.active.Load()
}

// deactivate marks the session destroyed; the manager calls this on expiry.
func (s *Session) deactivate() {
	s.active.Store(false)
}

// AbsorbCookies merges every Set-Cookie entry in headers into the jar.
// Only name=value is kept; attributes (Path, Expires, HttpOnly, ...) are
// ignored. Last write wins per name, which tolerates the out-of-order
// absorption a parallel resource burst produces.
func (s *Session) AbsorbCookies(headers http.Header) {
	entries := headers.Values("Set-Cookie")
	if len(entries) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if i := strings.IndexByte(entry, ';'); i >= 0 {
			entry = entry[:i]
		}
		name, value, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		s.cookies[name] = strings.TrimSpace(value)
	}
}

// CookieHeader serializes the jar as a single Cookie header value. Names
// are sorted so the header is deterministic for a given jar state.
func (s *Session) CookieHeader() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.cookies))
	for name := range s.cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(s.cookies[name])
	}
	return b.String()
}

// CookieCount returns the number of stored cookies.
func (s *Session) CookieCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cookies)
}

// SetReferer records the last navigated page, replayed as Referer on
// subsequent same-session fetches.
func (s *Session) SetReferer(url string) {
	s.mu.Lock()
	s.referer = url
	s.mu.Unlock()
}

// Referer returns the recorded referer, if any.
func (s *Session) Referer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referer
}
