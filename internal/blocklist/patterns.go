package blocklist

import "strings"

// patternMatcher stores exact hosts and suffix wildcards derived from configuration.
type patternMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

func newPatternMatcher(patterns []string) *patternMatcher {
	matcher := &patternMatcher{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
			continue
		case strings.HasPrefix(value, "*."), strings.HasPrefix(value, "."):
			suffix := strings.TrimLeft(value, "*.")
			if suffix != "" && !matcher.hasSuffix(suffix) {
				matcher.suffixes = append(matcher.suffixes, suffix)
			}
		default:
			matcher.exact[strings.TrimPrefix(value, "www.")] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (m *patternMatcher) hasSuffix(suffix string) bool {
	for _, existing := range m.suffixes {
		if existing == suffix {
			return true
		}
	}
	return false
}

// matches expects an already normalized domain.
func (m *patternMatcher) matches(domain string) bool {
	if m == nil || domain == "" {
		return false
	}
	if _, exact := m.exact[domain]; exact {
		return true
	}
	for _, suffix := range m.suffixes {
		if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
			return true
		}
	}
	return false
}
