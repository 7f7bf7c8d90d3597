package intercept

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T) *Classifier {
	target, err := url.Parse("https://shop.example.com")
	require.NoError(t, err)
	return NewClassifier(target, []string{"custom-ads.example"}, []string{"/sponsored/**"})
}

func TestClassify(t *testing.T) {
	c := newTestClassifier(t)

	cases := []struct {
		url        string
		navigation bool
		want       Class
	}{
		{"/browse/products", false, ClassBypass},
		{"/relay", false, ClassBypass},
		{"/sw.js", false, ClassBypass},
		{"/some/page", false, ClassSameOrigin},
		{"https://shop.example.com/cart", false, ClassSameOrigin},
		{"https://SHOP.example.com/cart", false, ClassSameOrigin},
		{"https://ad.doubleclick.net/impress", false, ClassAd},
		{"https://cdn.custom-ads.example/pixel", false, ClassAd},
		{"https://partner.example.org/sponsored/slot1", false, ClassAd},
		{"https://partner.example.org/deal", true, ClassExternalNav},
		{"https://cdn.other.net/lib.js", false, ClassExternalResource},
		{"data:image/png;base64,xyz", false, ClassBypass},
		{"blob:https://shop.example.com/abc", false, ClassBypass},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Classify(tc.url, tc.navigation), "url %q", tc.url)
	}
}

func TestIsAdMatchesSubdomainsNotInfixes(t *testing.T) {
	c := newTestClassifier(t)

	ad, _ := url.Parse("https://securepubads.g.doubleclick.net/tag")
	assert.True(t, c.IsAd(ad))

	// A host merely containing an ad domain as an infix is not a match.
	notAd, _ := url.Parse("https://doubleclick.net.evil.example/x")
	assert.False(t, c.IsAd(notAd))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "ad", ClassAd.String())
	assert.Equal(t, "external_nav", ClassExternalNav.String())
	assert.Equal(t, "bypass", ClassBypass.String())
}

func TestNewAssetsInjectsDeploymentValues(t *testing.T) {
	target, err := url.Parse("https://shop.example.com")
	require.NoError(t, err)
	c := NewClassifier(target, []string{"custom-ads.example"}, nil)

	assets, err := NewAssets(target, c.AdDomains())
	require.NoError(t, err)

	for _, script := range []string{assets.Worker(), assets.Shim()} {
		assert.Contains(t, script, `'https://shop.example.com'`)
		assert.Contains(t, script, `'shop.example.com'`)
		assert.Contains(t, script, `"custom-ads.example"`)
		assert.Contains(t, script, `"doubleclick.net"`)
		assert.NotContains(t, script, "__TARGET_ORIGIN__")
		assert.NotContains(t, script, "__AD_DOMAINS__")
	}

	// Same-origin reroutes carry the original request so form posts keep
	// their method and body.
	assert.Contains(t, assets.Worker(), "url.pathname + url.search, request)")
}

func TestAdDomainsReturnsCopy(t *testing.T) {
	c := newTestClassifier(t)
	domains := c.AdDomains()
	domains[0] = "mutated.example"

	fresh := c.AdDomains()
	assert.NotEqual(t, "mutated.example", fresh[0])
	assert.True(t, strings.Contains(strings.Join(fresh, ","), "custom-ads.example"))
}
