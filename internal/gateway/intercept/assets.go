package intercept

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
)

//go:embed sw.js
var workerTemplate string

//go:embed shim.js
var shimTemplate string

// Assets holds the browser-side interception scripts with deployment
// values injected. Rendered once at startup; served verbatim after.
type Assets struct {
	worker string
	shim   string
}

// NewAssets renders the worker and shim against the target origin and
// the merged ad-domain list.
func NewAssets(target *url.URL, adDomains []string) (*Assets, error) {
	domainsJSON, err := sonic.MarshalString(adDomains)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ad domains: %w", err)
	}

	render := func(tpl string) string {
		out := strings.ReplaceAll(tpl, "__TARGET_ORIGIN__", target.Scheme+"://"+target.Host)
		out = strings.ReplaceAll(out, "__TARGET_HOST__", target.Hostname())
		out = strings.ReplaceAll(out, "__AD_DOMAINS__", domainsJSON)
		return out
	}

	return &Assets{
		worker: render(workerTemplate),
		shim:   render(shimTemplate),
	}, nil
}

// Worker returns the rendered service worker script.
func (a *Assets) Worker() string { return a.worker }

// Shim returns the rendered pre-activation shim script.
func (a *Assets) Shim() string { return a.shim }
