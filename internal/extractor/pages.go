package extractor

import (
	"net/url"
	"sort"
	"strings"
)

// fallbackPaths are tried when discovery returns nothing.
var fallbackPaths = []string{"/contact", "/pages/contact", "/contact-us", "/about"}

var contactHints = []string{"contact", "about", "faq", "support", "help"}

// isContactLike reports whether a page path suggests contact details.
func isContactLike(pageURL string) bool {
	u, err := url.Parse(pageURL)
	path := pageURL
	if err == nil {
		path = u.Path
	}
	lower := strings.ToLower(path)
	for _, hint := range contactHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// contactRank orders pages: contact first, then about/faq style pages, then the rest.
func contactRank(pageURL string) int {
	lower := strings.ToLower(pageURL)
	switch {
	case strings.Contains(lower, "contact"):
		return 0
	case isContactLike(pageURL):
		return 1
	default:
		return 2
	}
}

// planPages dedupes discovered links, puts contact-like pages first and caps
// the list. Empty discovery falls back to conventional contact paths.
func planPages(site string, links []string, maxPages int) (pages []string, fallback bool) {
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		key := strings.TrimRight(link, "/")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		pages = append(pages, link)
	}
	if len(pages) == 0 {
		pages = fallbackURLs(site)
		fallback = true
	}
	sort.SliceStable(pages, func(i, j int) bool {
		return contactRank(pages[i]) < contactRank(pages[j])
	})
	if maxPages > 0 && len(pages) > maxPages {
		pages = pages[:maxPages]
	}
	return pages, fallback
}

func fallbackURLs(site string) []string {
	u, err := url.Parse(site)
	if err != nil || u.Host == "" {
		return nil
	}
	base := u.Scheme + "://" + u.Host
	out := make([]string, 0, len(fallbackPaths))
	for _, path := range fallbackPaths {
		out = append(out, base+path)
	}
	return out
}
