package outreach

import "strings"

// socialHosts maps host suffixes to the platform flag they set.
var socialHosts = map[string]string{
	"instagram.com": "instagram",
	"facebook.com":  "facebook",
	"fb.com":        "facebook",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"youtube.com":   "youtube",
	"youtu.be":      "youtube",
	"tiktok.com":    "tiktok",
	"linkedin.com":  "linkedin",
	"patreon.com":   "patreon",
	"discord.gg":    "discord",
	"discord.com":   "discord",
	"twitch.tv":     "twitch",
	"bsky.app":      "bluesky",
}

// PlatformOf returns the social platform of raw, or "" for ordinary sites.
func PlatformOf(raw string) string {
	domain := DomainOf(raw)
	if domain == "" {
		return ""
	}
	for suffix, platform := range socialHosts {
		if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
			return platform
		}
	}
	return ""
}

// IsSocialURL reports whether raw points at a known social platform.
func IsSocialURL(raw string) bool {
	return PlatformOf(raw) != ""
}

// DeriveFlags computes the has_* flags from a creator's link list.
func DeriveFlags(websites []Website) SocialFlags {
	var flags SocialFlags
	for _, site := range websites {
		normalized := NormalizeURL(site.URL)
		if !IsValidURL(normalized) {
			continue
		}
		switch PlatformOf(normalized) {
		case "instagram":
			flags.Instagram = true
		case "facebook":
			flags.Facebook = true
		case "twitter":
			flags.Twitter = true
		case "youtube":
			flags.YouTube = true
		case "tiktok":
			flags.TikTok = true
		case "linkedin":
			flags.LinkedIn = true
		case "patreon":
			flags.Patreon = true
		case "discord":
			flags.Discord = true
		case "twitch":
			flags.Twitch = true
		case "bluesky":
			flags.Bluesky = true
		default:
			flags.OtherWebsite = true
		}
	}
	return flags
}
