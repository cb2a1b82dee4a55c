package crawler

import (
	"net/url"
	"strings"
)

// DomainBlocklist rejects resources whose host matches a configured pattern.
// Patterns are exact hosts ("example.org") or suffix wildcards ("*.example.org"
// or ".example.org"). A nil blocklist blocks nothing.
type DomainBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainBlocklist compiles patterns into a blocklist. It returns nil when no
// usable pattern is supplied.
func NewDomainBlocklist(patterns []string) *DomainBlocklist {
	bl := &DomainBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."), strings.HasPrefix(value, "."):
			suffix := strings.TrimLeft(value, "*.")
			if suffix != "" && !containsString(bl.suffixes, suffix) {
				bl.suffixes = append(bl.suffixes, suffix)
			}
		default:
			bl.exact[value] = struct{}{}
		}
	}
	if len(bl.exact) == 0 && len(bl.suffixes) == 0 {
		return nil
	}
	return bl
}

// IsBlocked reports whether host matches any pattern.
func (b *DomainBlocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// BlocksURL is IsBlocked applied to the hostname of rawURL. Unparseable URLs
// are not blocked here; URL validation happens elsewhere.
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

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
