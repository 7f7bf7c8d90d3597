package netguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockedHost(t *testing.T) {
	blocked := []string{
		"127.0.0.1",
		"10.0.0.1",
		"192.168.1.1",
		"172.16.0.5",
		"172.200.0.1", // over-blocking by prefix, kept as policy
		"169.254.10.10",
		"localhost",
		"internal.localhost",
		"0.0.0.0",
		"::1",
	}
	for _, h := range blocked {
		assert.True(t, BlockedHost(h), "expected %s to be blocked", h)
	}

	allowed := []string{
		"example.com",
		"93.184.216.34",
		"cdn.adnetwork.example",
		"8.8.8.8",
	}
	for _, h := range allowed {
		assert.False(t, BlockedHost(h), "expected %s to be allowed", h)
	}
}

func TestValidateTarget(t *testing.T) {
	u, err := ValidateTarget("https://example.com/path?q=1")
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Hostname())

	_, err = ValidateTarget("http://127.0.0.1/admin")
	assert.ErrorIs(t, err, ErrBlockedAddress)

	_, err = ValidateTarget("http://10.0.0.1/")
	assert.ErrorIs(t, err, ErrBlockedAddress)

	_, err = ValidateTarget("http://192.168.1.1/")
	assert.ErrorIs(t, err, ErrBlockedAddress)

	_, err = ValidateTarget("ftp://example.com/file")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = ValidateTarget("http://")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = ValidateTarget("://not a url")
	assert.ErrorIs(t, err, ErrInvalidURL)
}
