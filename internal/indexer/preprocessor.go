package indexer

import (
	"regexp"

	"github.com/hyperjump/callscope/pkg/utils"
)

var (
	boldRe = regexp.MustCompile(`\*\*(.*?)\*\*`)
	// Go's \b is ASCII-only, so word edges are spelled out to keep "ahí" or "esteban" intact.
	fillerRe    = regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])(?:eh|este|pues|bueno|o sea|um+|uh+|hm+|m{3,}|ah)[,.]*([^\p{L}\p{N}]|$)`)
	tagRe       = regexp.MustCompile(`(?i)[,]?\s*¿(?:sabes|no|vale|entiendes)\?`)
	spacePuncRe = regexp.MustCompile(`\s+([,.;:!?])`)
	leadPuncRe  = regexp.MustCompile(`^[,.;:\s]+`)
)

// Clean normalizes transcript text before anonymization: markdown bold markers are
// stripped, Spanish filler words and tag questions removed and whitespace collapsed.
func Clean(text string) string {
	text = boldRe.ReplaceAllString(text, "$1")
	text = tagRe.ReplaceAllString(text, "")
	// Adjacent fillers share a separator, so one pass can leave the second one behind.
	for i := 0; i < 3; i++ {
		next := fillerRe.ReplaceAllString(text, "${1}${2}")
		if next == text {
			break
		}
		text = next
	}
	text = utils.CollapseSpaces(text)
	text = spacePuncRe.ReplaceAllString(text, "$1")
	return leadPuncRe.ReplaceAllString(text, "")
}
