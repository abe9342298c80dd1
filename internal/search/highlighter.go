package search

import (
	"strings"
	"unicode/utf8"
)

// Snippet returns a window of at most maxRunes runes of content around the first
// case-insensitive occurrence of term, with "..." marking cut edges. Without a match the
// window starts at the beginning. maxRunes <= 0 returns content as-is.
func Snippet(content, term string, maxRunes int) string {
	runes := []rune(content)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return content
	}
	start := 0
	if term != "" {
		if i := strings.Index(strings.ToLower(content), strings.ToLower(term)); i >= 0 && isRuneIndexStable(content) {
			hit := utf8.RuneCountInString(content[:i])
			start = max(0, hit-maxRunes/4)
		}
	}
	end := min(len(runes), start+maxRunes)
	if end-start < maxRunes {
		start = max(0, end-maxRunes)
	}
	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}

// isRuneIndexStable reports whether lower-casing keeps every byte offset of s, so an
// index found in the lower-cased text is valid in s.
func isRuneIndexStable(s string) bool {
	return len(strings.ToLower(s)) == len(s)
}
