package outreach

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// excludedEmailPatterns are placeholder and platform addresses that never
// reach the creator.
var excludedEmailPatterns = []string{
	"noreply@",
	"no-reply@",
	"donotreply@",
	"info@example.",
	"admin@example.",
	"support@linktree",
	"hello@linktree",
	"support@shopify",
	"@sentry.",
	"@wixpress.com",
}

// assetSuffixes catch image names that look like addresses (logo@2x.png).
var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

// CleanEmail lowercases and trims an address, dropping a mailto: prefix and query.
func CleanEmail(raw string) string {
	value := strings.TrimSpace(strings.ToLower(raw))
	value = strings.TrimPrefix(value, "mailto:")
	if idx := strings.IndexByte(value, '?'); idx >= 0 {
		value = value[:idx]
	}
	return strings.Trim(value, ".,;:()<>[]\"' ")
}

// IsValidEmail reports whether email is well formed and not an excluded address.
func IsValidEmail(email string) bool {
	if !emailPattern.MatchString(email) {
		return false
	}
	lower := strings.ToLower(email)
	for _, pattern := range excludedEmailPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return true
}
