package model

import (
	"regexp"
	"strings"
)

var (
	mentionRe = regexp.MustCompile(`@([A-Za-z0-9_\-]+)`)
	hashtagRe = regexp.MustCompile(`#([A-Za-z0-9_\-]+)`)
	urlRe     = regexp.MustCompile(`https?://[^\s<>"]+`)
)

// ExtractEntities pulls @mentions, #hashtags and URLs out of a message body.
// Mentions and hashtags are deduplicated, URLs are kept in order of appearance.
func ExtractEntities(body string) (mentions, hashtags, urls []string) {
	seen := map[string]bool{}
	for _, m := range mentionRe.FindAllStringSubmatch(body, -1) {
		if !seen["@"+m[1]] {
			seen["@"+m[1]] = true
			mentions = append(mentions, m[1])
		}
	}
	for _, h := range hashtagRe.FindAllStringSubmatch(body, -1) {
		if !seen["#"+h[1]] {
			seen["#"+h[1]] = true
			hashtags = append(hashtags, strings.ToLower(h[1]))
		}
	}
	urls = urlRe.FindAllString(body, -1)
	return mentions, hashtags, urls
}
