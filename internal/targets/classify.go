// Package targets classifies link destinations and resolves Telegram
// targets to the chats where member activity can be observed.
package targets

import (
	"strings"

	"github.com/xaenox/link-tracker-bot/internal/models"
)

type socialPlatform struct {
	name    string
	domains []string
}

// Checked in order; the first platform with a matching domain wins.
var socialPlatforms = []socialPlatform{
	{"x", []string{"twitter.com", "x.com"}},
	{"discord", []string{"discord.com", "discord.gg"}},
	{"reddit", []string{"reddit.com"}},
	{"tiktok", []string{"tiktok.com"}},
	{"youtube", []string{"youtube.com", "youtu.be"}},
}

// Classify decides what kind of destination raw points at and normalizes it.
// Telegram targets are reduced to a bare handle.
func Classify(raw string) models.Target {
	input := strings.TrimSpace(raw)
	lower := strings.ToLower(input)

	for _, p := range socialPlatforms {
		for _, domain := range p.domains {
			if strings.Contains(lower, domain) {
				return models.Target{
					URL:      withScheme(input),
					Kind:     models.SocialTarget,
					Platform: p.name,
				}
			}
		}
	}

	switch {
	case strings.HasPrefix(lower, "http") && !strings.Contains(lower, "t.me/"):
		return models.Target{URL: input, Kind: models.ExternalTarget}
	case strings.Contains(lower, "t.me/"):
		return models.Target{URL: handleFromTMe(input), Kind: models.TelegramTarget}
	default:
		return models.Target{URL: strings.ReplaceAll(input, "@", ""), Kind: models.TelegramTarget}
	}
}

func withScheme(u string) string {
	if strings.HasPrefix(strings.ToLower(u), "http") {
		return u
	}
	return "https://" + u
}

func handleFromTMe(u string) string {
	idx := strings.LastIndex(strings.ToLower(u), "t.me/")
	rest := u[idx+len("t.me/"):]
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// HandleFromURL extracts a Telegram handle from a stored item URL. It reports
// false for web URLs that do not point at t.me.
func HandleFromURL(u string) (string, bool) {
	u = strings.TrimSpace(u)
	switch {
	case u == "":
		return "", false
	case strings.Contains(strings.ToLower(u), "t.me/"):
		h := handleFromTMe(u)
		return h, h != ""
	case strings.HasPrefix(u, "@"):
		return u[1:], len(u) > 1
	case strings.HasPrefix(strings.ToLower(u), "http"):
		return "", false
	default:
		return u, true
	}
}

// PublicURL is the link shown to a user for an item.
func PublicURL(item models.LinkItem) string {
	if item.Kind == models.TelegramTarget && !strings.HasPrefix(strings.ToLower(item.TargetURL), "http") {
		return "https://t.me/" + item.TargetURL
	}
	return item.TargetURL
}
