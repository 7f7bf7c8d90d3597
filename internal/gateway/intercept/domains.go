package intercept

// defaultAdDomains are ad-serving and tracking hosts matched by suffix:
// the entry "doubleclick.net" covers every subdomain. The list merges
// with per-deployment additions from the domain list file.
var defaultAdDomains = []string{
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"googletagservices.com",
	"googletagmanager.com",
	"google-analytics.com",
	"2mdn.net",
	"adnxs.com",
	"adsrvr.org",
	"adsafeprotected.com",
	"amazon-adsystem.com",
	"casalemedia.com",
	"criteo.com",
	"criteo.net",
	"doubleverify.com",
	"moatads.com",
	"openx.net",
	"outbrain.com",
	"pubmatic.com",
	"quantserve.com",
	"rubiconproject.com",
	"scorecardresearch.com",
	"smartadserver.com",
	"taboola.com",
	"yieldmo.com",
}

// defaultAdPathGlobs catch ad endpoints on hosts that are not dedicated
// ad domains. Matched against the URL path with doublestar semantics.
var defaultAdPathGlobs = []string{
	"/pagead/**",
	"**/adserver/**",
	"**/ads/js/**",
	"**/ad-request/**",
	"**/prebid/**",
}
