package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorgate/mirrorgate/internal/domain/session"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/config"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/logging"
	"github.com/mirrorgate/mirrorgate/internal/shared/netguard"
)

func testConfig() config.UpstreamConfig {
	cfg := config.Default().Upstream
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func TestFetchWithRetryRotatesOnFailureThenSucceeds(t *testing.T) {
	f := NewFetcher(testConfig(), logging.NewNop(), nil)

	calls := 0
	f.fetchFn = func(ctx context.Context, rawURL string, sess Pinned, opts Options) (*Result, error) {
		calls++
		if calls <= 2 {
			return nil, &UpstreamError{URL: rawURL, Err: errors.New("connect refused")}
		}
		return &Result{Status: 200, Header: http.Header{}, Body: []byte("ok")}, nil
	}

	sess := session.New("visit_test")
	before := sess.CredentialID()

	res, err := f.FetchWithRetry(context.Background(), "https://example.com/", sess, Options{})
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, 3, calls)
	// Rotation happened at least once: the pre-call credential is gone.
	assert.NotEqual(t, before, sess.CredentialID())
}

func TestFetchWithRetryExhaustsBudget(t *testing.T) {
	f := NewFetcher(testConfig(), logging.NewNop(), nil)

	calls := 0
	f.fetchFn = func(ctx context.Context, rawURL string, sess Pinned, opts Options) (*Result, error) {
		calls++
		return nil, &UpstreamError{URL: rawURL, Err: errors.New("connect refused")}
	}

	sess := session.New("visit_test")
	_, err := f.FetchWithRetry(context.Background(), "https://example.com/", sess, Options{})

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, 3, calls)
}

func TestFetchWithRetryDoesNotRetryValidationFailures(t *testing.T) {
	f := NewFetcher(testConfig(), logging.NewNop(), nil)

	calls := 0
	f.fetchFn = func(ctx context.Context, rawURL string, sess Pinned, opts Options) (*Result, error) {
		calls++
		return nil, netguard.ErrBlockedAddress
	}

	sess := session.New("visit_test")
	before := sess.CredentialID()

	_, err := f.FetchWithRetry(context.Background(), "http://10.0.0.1/", sess, Options{})
	assert.ErrorIs(t, err, netguard.ErrBlockedAddress)
	assert.Equal(t, 1, calls)
	assert.Equal(t, before, sess.CredentialID())
}

func TestFetchRejectsBlockedTargetBeforeDialing(t *testing.T) {
	f := NewFetcher(testConfig(), logging.NewNop(), nil)
	sess := session.New("visit_test")

	for _, target := range []string{
		"http://127.0.0.1/",
		"http://10.0.0.1/",
		"http://192.168.1.1/",
	} {
		_, err := f.Fetch(context.Background(), target, sess, Options{})
		assert.ErrorIs(t, err, netguard.ErrBlockedAddress, target)
	}
	// No tunnel may exist: validation runs before any credential is used.
	assert.Empty(t, f.tunnels)
}

func TestDecide(t *testing.T) {
	netErr := &UpstreamError{URL: "https://example.com", Err: errors.New("timeout")}

	assert.Equal(t, Retry, decide(0, 3, netErr))
	assert.Equal(t, Retry, decide(1, 3, netErr))
	assert.Equal(t, GiveUp, decide(2, 3, netErr), "final attempt never retries")
	assert.Equal(t, GiveUp, decide(0, 3, netguard.ErrInvalidURL))
	assert.Equal(t, GiveUp, decide(0, 3, netguard.ErrBlockedAddress))
}

func TestBuildAuthEmbedsCredential(t *testing.T) {
	auth := buildAuth("cust-session-{session}-ttl-10m", "pw", "cred_ABC")
	require.NotNil(t, auth)
	assert.Equal(t, "cust-session-cred_ABC-ttl-10m", auth.User)
	assert.Equal(t, "pw", auth.Password)

	assert.Nil(t, buildAuth("", "", "cred_ABC"))
}

func TestTunnelLifecycle(t *testing.T) {
	tun, err := NewTunnel("127.0.0.1:9", nil, "cred_test")
	require.NoError(t, err)

	assert.Contains(t, tun.Addr(), "127.0.0.1:")
	assert.Equal(t, "http", tun.URL().Scheme)
	require.NoError(t, tun.Close())
}

func TestCloseCredentialDropsTunnelAndClients(t *testing.T) {
	f := NewFetcher(testConfig(), logging.NewNop(), nil)

	_, err := f.clientFor("cred_a", "https", true)
	require.NoError(t, err)
	assert.Len(t, f.tunnels, 1)
	assert.Len(t, f.clients, 1)

	f.CloseCredential("cred_a")
	assert.Empty(t, f.tunnels)
	assert.Empty(t, f.clients)
}

func TestMaybeGunzip(t *testing.T) {
	plain := http.Header{}
	body, err := maybeGunzip(plain, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), body)

	// Already-decoded body with a stale header passes through untouched.
	stale := http.Header{"Content-Encoding": []string{"gzip"}}
	body, err = maybeGunzip(stale, []byte("not gzip"))
	require.NoError(t, err)
	assert.Equal(t, []byte("not gzip"), body)
}
