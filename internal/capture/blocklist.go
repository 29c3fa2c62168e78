package capture

import (
	"net/url"
	"strings"
)

// DomainBlocklist stores exact hosts and suffix wildcards from a strategy's
// blocked domain list.
type DomainBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainBlocklist parses patterns such as "tracker.io", "*.tracker.io" or
// ".tracker.io". It returns nil when no usable pattern is present.
func NewDomainBlocklist(patterns []string) *DomainBlocklist {
	matcher := &DomainBlocklist{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			if suffix := strings.TrimPrefix(value, "*."); suffix != "" {
				matcher.addSuffix(suffix)
			}
		case strings.HasPrefix(value, "."):
			if suffix := strings.TrimPrefix(value, "."); suffix != "" {
				matcher.addSuffix(suffix)
			}
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (b *DomainBlocklist) addSuffix(suffix string) {
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether host matches the list. A nil list blocks nothing.
func (b *DomainBlocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// BlocksURL reports whether the host of rawURL is blocked.
func (b *DomainBlocklist) BlocksURL(rawURL string) bool {
	if b == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return b.IsBlocked(u.Hostname())
}
