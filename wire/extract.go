package wire

import (
	"regexp"
	"strings"
)

var (
	mentionPattern = regexp.MustCompile(`^@([A-Za-z0-9_]{4,25})(?:[^A-Za-z0-9_]|$)`)
	linkPattern    = regexp.MustCompile(`https?://\S+`)
)

// Mentions returns the handles mentioned in content, in order of appearance and
// without the leading '@'. A word counts only when it starts with '@' followed
// by a 4 to 25 character handle; trailing punctuation is not part of it, and
// longer handles are skipped rather than truncated.
func Mentions(content string) []string {
	var out []string
	for _, word := range strings.Fields(content) {
		if m := mentionPattern.FindStringSubmatch(word); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}

// Links returns the http(s) URLs found in content, in order of appearance.
// Each word contributes at most one URL, running from the scheme to the end of
// the word.
func Links(content string) []string {
	var out []string
	for _, word := range strings.Fields(content) {
		if m := linkPattern.FindString(word); m != "" {
			out = append(out, m)
		}
	}
	return out
}
