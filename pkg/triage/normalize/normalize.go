// Package normalize cleans raw report text before classification.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	tagPattern     = regexp.MustCompile(`[@#]\w+`)
	disallowed     = regexp.MustCompile(`[^\w\s.,!?']`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// Normalizer turns raw text into the form the classifier sees.
type Normalizer interface {
	Normalize(text string) string
}

// Func adapts a plain function to Normalizer.
type Func func(text string) string

// Normalize calls f.
func (f Func) Normalize(text string) string { return f(text) }

// Default is the standard text normalizer.
var Default Normalizer = Func(Normalize)

// Normalize strips URLs and @/# tags, reduces the text to word characters
// and basic punctuation, collapses whitespace and lower-cases the result.
// Accented letters are folded to their base form first so "évacuer" keeps
// its letters. It never fails; empty input yields "".
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	out := foldAccents(text)
	out = urlPattern.ReplaceAllString(out, "")
	out = tagPattern.ReplaceAllString(out, "")
	out = disallowed.ReplaceAllString(out, " ")
	out = whitespaceRuns.ReplaceAllString(out, " ")
	return strings.ToLower(strings.TrimSpace(out))
}

func foldAccents(text string) string {
	// transform.Chain keeps state, so build one per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return folded
}
