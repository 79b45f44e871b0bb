package outreach

import (
	"net/url"
	"slices"
	"strings"
)

// NormalizeURL trims raw and adds an https scheme when none is present.
func NormalizeURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		value = "https://" + strings.TrimPrefix(value, "//")
	}
	return value
}

// IsValidURL reports whether raw is an absolute http(s) URL with a host.
func IsValidURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Hostname() != ""
}

// NormalizeDomain lowercases a host and strips a leading "www.".
func NormalizeDomain(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	host = strings.TrimSuffix(host, ".")
	return strings.TrimPrefix(host, "www.")
}

// DomainOf returns the normalized host of raw, or "" when it cannot be parsed.
func DomainOf(raw string) string {
	normalized := NormalizeURL(raw)
	if normalized == "" {
		return ""
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return NormalizeDomain(parsed.Hostname())
}

// SiteHash hashes the normalized host of site so path or scheme changes do not
// trigger a re-check.
func SiteHash(h Hasher, site string) (string, error) {
	domain := DomainOf(site)
	if domain == "" {
		return "", nil
	}
	return h.Hash([]byte(domain))
}

// CanonicalSite picks the site to extract contacts from: the first valid
// non-social URL that is not blocked, else the first non-blocked social URL,
// else the first valid URL.
func CanonicalSite(websites []Website, blocked DomainChecker) string {
	valid := validSites(websites)
	if len(valid) == 0 {
		return ""
	}
	for _, candidate := range valid {
		if !IsSocialURL(candidate) && !isBlocked(blocked, candidate) {
			return candidate
		}
	}
	for _, candidate := range valid {
		if !isBlocked(blocked, candidate) {
			return candidate
		}
	}
	return valid[0]
}

// Sites lists the sites worth trying for a creator: the canonical site first,
// then every other valid, unblocked URL in listing order.
func Sites(websites []Website, blocked DomainChecker) []string {
	primary := CanonicalSite(websites, blocked)
	if primary == "" {
		return nil
	}
	sites := []string{primary}
	for _, candidate := range validSites(websites) {
		if slices.Contains(sites, candidate) || isBlocked(blocked, candidate) {
			continue
		}
		sites = append(sites, candidate)
	}
	return sites
}

func validSites(websites []Website) []string {
	var valid []string
	for _, site := range websites {
		normalized := NormalizeURL(site.URL)
		if IsValidURL(normalized) {
			valid = append(valid, normalized)
		}
	}
	return valid
}

func isBlocked(blocked DomainChecker, raw string) bool {
	if blocked == nil {
		return false
	}
	_, ok := blocked.IsBlocked(DomainOf(raw))
	return ok
}
