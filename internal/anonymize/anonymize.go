// Package anonymize redacts personally identifying information from transcript text.
package anonymize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/callscope/pkg/utils"
)

// Category is a kind of personally identifying information.
type Category string

const (
	Email  Category = "email"
	URL    Category = "url"
	RUT    Category = "rut"
	Card   Category = "card"
	Phone  Category = "phone"
	Person Category = "person"
)

// Placeholders replacing each category. Redaction keeps the sentence shape intact.
var Placeholders = map[Category]string{
	Email:  "<EMAIL>",
	URL:    "<URL>",
	RUT:    "<RUT>",
	Card:   "<TARJETA>",
	Phone:  "<TELEFONO>",
	Person: "<PERSONA>",
}

// maxPasses bounds the fixed-point loop in AnonymizeWithReport.
const maxPasses = 4

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	urlRe   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"]*[^\s<>".,;:!?)\]]`)
	rutRe   = regexp.MustCompile(`\b(\d{1,2}(?:\.\d{3}){2}|\d{1,2}(?:\s\d{3}){2}|\d{1,2}(?:-\d{3}){2}|\d{7,8})-([\dkK])\b`)
	cardRe  = regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)
	phoneRe = regexp.MustCompile(`(?:\+56[\s-]?|\b56[\s-]?|\b)[2-9](?:[\s-]?\d){8}\b`)
	cueRe   = regexp.MustCompile(`(?:^|[^\p{L}])(?i:mi nombre es|me llamo|le atiende|le habla|habla con|hablo con|soy|señor|señora|señorita|sr\.|sra\.|srta\.|don|doña)\s+(\p{Lu}\p{Ll}+(?:\s+\p{Lu}\p{Ll}+){0,2})`)
)

type detector struct {
	category Category
	re       *regexp.Regexp
	group    int
	valid    func(string) bool
}

// Anonymizer redacts PII. It is safe for concurrent use.
type Anonymizer struct {
	detectors []detector
	names     map[string]struct{}
}

// Option configures an Anonymizer.
type Option func(*Anonymizer)

// WithNames adds first names or surnames that are always redacted, matched on whole
// words, case- and accent-insensitively.
func WithNames(names ...string) Option {
	return func(a *Anonymizer) {
		for _, n := range names {
			n = utils.FoldAccents(strings.TrimSpace(n))
			if utf8.RuneCountInString(n) >= 2 {
				a.names[n] = struct{}{}
			}
		}
	}
}

// New returns an Anonymizer with the default detectors.
func New(opts ...Option) *Anonymizer {
	a := &Anonymizer{
		names: make(map[string]struct{}),
		detectors: []detector{
			{category: Email, re: emailRe},
			{category: URL, re: urlRe},
			{category: RUT, re: rutRe, valid: ValidRUT},
			{category: Card, re: cardRe, valid: ValidLuhn},
			{category: Phone, re: phoneRe},
			{category: Person, re: cueRe, group: 1},
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Anonymize returns text with every detected PII span replaced by its placeholder.
// Applying it to its own output returns the output unchanged.
func (a *Anonymizer) Anonymize(text string) string {
	out, _ := a.AnonymizeWithReport(text)
	return out
}

// AnonymizeWithReport is Anonymize plus the number of redactions per category.
func (a *Anonymizer) AnonymizeWithReport(text string) (string, map[Category]int) {
	report := make(map[Category]int)
	if strings.TrimSpace(text) == "" {
		return text, report
	}
	for i := 0; i < maxPasses; i++ {
		next := a.pass(text, report)
		if next == text {
			break
		}
		text = next
	}
	return text, report
}

func (a *Anonymizer) pass(text string, report map[Category]int) string {
	for _, d := range a.detectors {
		var n int
		text, n = replace(text, d, Placeholders[d.category])
		report[d.category] += n
	}
	if len(a.names) > 0 {
		var n int
		text, n = a.replaceNames(text)
		report[Person] += n
	}
	return text
}

func replace(text string, d detector, placeholder string) (string, int) {
	matches := d.re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, 0
	}
	var b strings.Builder
	last, count := 0, 0
	for _, m := range matches {
		start, end := m[2*d.group], m[2*d.group+1]
		if start < 0 {
			continue
		}
		if d.valid != nil && !d.valid(text[m[0]:m[1]]) {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(placeholder)
		last = end
		count++
	}
	b.WriteString(text[last:])
	return b.String(), count
}

// replaceNames redacts whole words found in the name list. Words enclosed in angle
// brackets are placeholders and are left alone.
func (a *Anonymizer) replaceNames(text string) (string, int) {
	var b strings.Builder
	count := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsLetter(r) {
			b.WriteString(text[i : i+size])
			i += size
			continue
		}
		j := i
		for j < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsLetter(r2) {
				break
			}
			j += s2
		}
		word := text[i:j]
		_, listed := a.names[utils.FoldAccents(word)]
		bracketed := i > 0 && text[i-1] == '<' && j < len(text) && text[j] == '>'
		if listed && !bracketed {
			b.WriteString(Placeholders[Person])
			count++
		} else {
			b.WriteString(word)
		}
		i = j
	}
	return b.String(), count
}
