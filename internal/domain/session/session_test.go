package session

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorgate/mirrorgate/internal/infrastructure/logging"
)

func headerWithCookies(cookies ...string) http.Header {
	h := http.Header{}
	for _, c := range cookies {
		h.Add("Set-Cookie", c)
	}
	return h
}

func TestAbsorbCookiesCommutativeForDistinctNames(t *testing.T) {
	a := New("visit_a")
	a.AbsorbCookies(headerWithCookies("a=1; Path=/; HttpOnly"))
	a.AbsorbCookies(headerWithCookies("b=2; Secure"))

	b := New("visit_b")
	b.AbsorbCookies(headerWithCookies("b=2; Secure"))
	b.AbsorbCookies(headerWithCookies("a=1; Path=/; HttpOnly"))

	assert.Equal(t, a.CookieHeader(), b.CookieHeader())
	assert.Equal(t, "a=1; b=2", a.CookieHeader())
}

func TestAbsorbCookiesLastWriteWins(t *testing.T) {
	s := New("visit_x")
	s.AbsorbCookies(headerWithCookies("sid=first; Path=/"))
	s.AbsorbCookies(headerWithCookies("sid=second; Path=/"))

	assert.Equal(t, "sid=second", s.CookieHeader())
	assert.Equal(t, 1, s.CookieCount())
}

func TestAbsorbCookiesIgnoresAttributesAndGarbage(t *testing.T) {
	s := New("visit_x")
	s.AbsorbCookies(headerWithCookies(
		"token=abc123; Expires=Wed, 09 Jun 2027 10:18:14 GMT; HttpOnly",
		"no-equals-entry",
		"=orphan-value",
	))

	assert.Equal(t, "token=abc123", s.CookieHeader())
}

func TestCookieHeaderEmptyJar(t *testing.T) {
	s := New("visit_x")
	assert.Equal(t, "", s.CookieHeader())
}

func TestRotateFromReplacesCurrentCredential(t *testing.T) {
	s := New("visit_x")
	before := s.CredentialID()

	after := s.RotateFrom(before)
	assert.NotEqual(t, before, after)
	assert.Equal(t, after, s.CredentialID())
}

func TestRotateFromStaleObserverDoesNotDoubleRotate(t *testing.T) {
	s := New("visit_x")
	first := s.CredentialID()

	second := s.RotateFrom(first)
	// A request that still holds the old id must land on the existing
	// rotation, not trigger another one.
	third := s.RotateFrom(first)
	assert.Equal(t, second, third)
}

func TestConcurrentRotationConverges(t *testing.T) {
	s := New("visit_x")
	stale := s.CredentialID()

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.RotateFrom(stale)
		}(i)
	}
	wg.Wait()

	// Exactly one rotation happened: every goroutine saw the same new id.
	for _, r := range results {
		assert.Equal(t, results[0], r)
		assert.NotEqual(t, stale, r)
	}
}

func TestResetClearsJarAndCredential(t *testing.T) {
	s := New("visit_x")
	s.AbsorbCookies(headerWithCookies("sid=abc"))
	before := s.CredentialID()

	fresh := s.Reset()
	assert.NotEqual(t, before, fresh)
	assert.Equal(t, "", s.CookieHeader())
}

func TestManagerGetOrCreateIsIdempotent(t *testing.T) {
	m := NewManager(time.Minute, logging.NewNop(), nil)

	a := m.GetOrCreate("visit_1")
	b := m.GetOrCreate("visit_1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, m.Count())
}

func TestManagerJanitorExpiresIdleSessions(t *testing.T) {
	m := NewManager(10*time.Millisecond, logging.NewNop(), nil)

	s := m.GetOrCreate("visit_1")
	require.True(t, s.Active())

	var expired []*Session
	var mu sync.Mutex
	m.StartJanitor(context.Background(), func(s *Session) {
		mu.Lock()
		expired = append(expired, s)
		mu.Unlock()
	})
	defer m.StopJanitor()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 1 && !expired[0].Active()
	}, 3*time.Second, 10*time.Millisecond)

	_, ok := m.Get("visit_1")
	assert.False(t, ok)
}
