package blocks

import (
	"net/url"
	"strings"
)

// DomainBlockSet is the set of domains under hard suspension. A block on a
// domain also covers every subdomain of it.
type DomainBlockSet map[string]struct{}

// NewDomainBlockSet builds a set from the store rows, lowercasing each
// domain so lookups are case-insensitive.
func NewDomainBlockSet(domains []string) DomainBlockSet {
	set := make(DomainBlockSet, len(domains))
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		set[domain] = struct{}{}
	}
	return set
}

// BlocksHost reports whether the hostname, or any of its parent domains, is
// suspended. "sub.example.com" is blocked when "example.com" is.
func (s DomainBlockSet) BlocksHost(host string) bool {
	if len(s) == 0 || host == "" {
		return false
	}

	host = strings.ToLower(host)
	parts := strings.Split(host, ".")
	for i := range parts {
		candidate := strings.Join(parts[i:], ".")
		if _, ok := s[candidate]; ok {
			return true
		}
	}

	return false
}

// BlocksURI extracts the hostname from a post URI and checks it against the
// set. Unparseable URIs are not blocked; they fail later at decode or fetch.
func (s DomainBlockSet) BlocksURI(uri string) bool {
	if len(s) == 0 {
		return false
	}

	parsed, err := url.Parse(uri)
	if err != nil || parsed.Hostname() == "" {
		return false
	}

	return s.BlocksHost(parsed.Hostname())
}
