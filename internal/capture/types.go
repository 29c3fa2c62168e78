package capture

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Target identifies a demo site to capture. It is owned by the catalog and
// treated as read-only here.
type Target struct {
	Slug             string `json:"slug" yaml:"slug"`
	URL              string `json:"url" yaml:"url"`
	KnownProblematic bool   `json:"known_problematic" yaml:"known_problematic"`
}

// Hostname returns the lowercase host of the target URL, or "" when unparsable.
func (t Target) Hostname() string {
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Request is a single capture invocation.
type Request struct {
	Target         Target
	ViewportWidth  int
	ViewportHeight int
	FullPage       bool
}

// Options are caller-supplied knobs for one capture.
type Options struct {
	Width    int
	Height   int
	FullPage bool
}

// Default viewport dimensions.
const (
	DefaultViewportWidth  = 1440
	DefaultViewportHeight = 900
)

// NewRequest builds a Request applying viewport defaults.
func NewRequest(target Target, opts Options) Request {
	req := Request{
		Target:         target,
		ViewportWidth:  opts.Width,
		ViewportHeight: opts.Height,
		FullPage:       opts.FullPage,
	}
	if req.ViewportWidth <= 0 {
		req.ViewportWidth = DefaultViewportWidth
	}
	if req.ViewportHeight <= 0 {
		req.ViewportHeight = DefaultViewportHeight
	}
	return req
}

// Validate checks that the request can be attempted.
func (r Request) Validate() error {
	u, err := url.Parse(r.Target.URL)
	if err != nil {
		return fmt.Errorf("parse target url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("target url %q must be an absolute http(s) URL", r.Target.URL)
	}
	if r.ViewportWidth <= 0 || r.ViewportHeight <= 0 {
		return fmt.Errorf("viewport %dx%d must be positive", r.ViewportWidth, r.ViewportHeight)
	}
	return nil
}

// WaitPolicy selects the page lifecycle milestone that ends navigation.
type WaitPolicy string

// Supported wait policies.
const (
	WaitNetworkIdle      WaitPolicy = "networkidle"
	WaitDOMContentLoaded WaitPolicy = "domcontentloaded"
)

// StrategyConfig is one immutable attempt policy.
type StrategyConfig struct {
	Name           string
	Timeout        time.Duration
	PostLoadDelay  time.Duration
	WaitPolicy     WaitPolicy
	BlockedDomains []string
	ChromiumFlags  []string
}

// Validate enforces the attempt preconditions.
func (c StrategyConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("strategy %q: timeout must be > 0", c.Name)
	}
	switch c.WaitPolicy {
	case WaitNetworkIdle, WaitDOMContentLoaded:
	default:
		return fmt.Errorf("strategy %q: unknown wait policy %q", c.Name, c.WaitPolicy)
	}
	return nil
}

// Canonical strategy names.
const (
	StrategyPrimary     = "primary"
	StrategyFallback    = "fallback"
	StrategyProblematic = "problematic"
)

// DefaultChromiumFlags are applied to every attempt.
var DefaultChromiumFlags = []string{
	"--hide-scrollbars",
	"--mute-audio",
	"--disable-gpu",
	"--disable-dev-shm-usage",
	"--disable-background-networking",
	"--disable-notifications",
	"--no-first-run",
	"--no-default-browser-check",
}

// DefaultTrackerDomains are blocked by the fallback strategy.
var DefaultTrackerDomains = []string{
	"*.google-analytics.com",
	"*.googletagmanager.com",
	"*.doubleclick.net",
	"*.googlesyndication.com",
	"*.facebook.net",
	"connect.facebook.net",
	"*.hotjar.com",
	"*.segment.io",
	"*.segment.com",
	"*.mixpanel.com",
	"*.intercom.io",
	"*.intercomcdn.com",
	"*.hubspot.com",
	"*.hs-analytics.net",
	"*.clarity.ms",
	"*.newrelic.com",
	"*.nr-data.net",
	"*.fullstory.com",
	"*.optimizely.com",
	"*.tiktok.com",
}

// PrimaryStrategy waits for network idle with a short settle delay.
func PrimaryStrategy() StrategyConfig {
	return StrategyConfig{
		Name:          StrategyPrimary,
		Timeout:       30 * time.Second,
		PostLoadDelay: 1500 * time.Millisecond,
		WaitPolicy:    WaitNetworkIdle,
		ChromiumFlags: cloneStrings(DefaultChromiumFlags),
	}
}

// FallbackStrategy only waits for DOMContentLoaded, blocks trackers and
// sleeps longer to let the page settle.
func FallbackStrategy() StrategyConfig {
	return StrategyConfig{
		Name:           StrategyFallback,
		Timeout:        45 * time.Second,
		PostLoadDelay:  5 * time.Second,
		WaitPolicy:     WaitDOMContentLoaded,
		BlockedDomains: cloneStrings(DefaultTrackerDomains),
		ChromiumFlags:  cloneStrings(DefaultChromiumFlags),
	}
}

// ProblematicStrategy is the first attempt for targets flagged as known
// problematic: lenient wait, long fixed delay.
func ProblematicStrategy() StrategyConfig {
	return StrategyConfig{
		Name:           StrategyProblematic,
		Timeout:        45 * time.Second,
		PostLoadDelay:  8 * time.Second,
		WaitPolicy:     WaitDOMContentLoaded,
		BlockedDomains: cloneStrings(DefaultTrackerDomains),
		ChromiumFlags:  cloneStrings(DefaultChromiumFlags),
	}
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
