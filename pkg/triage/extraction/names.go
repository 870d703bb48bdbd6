package extraction

import (
	"regexp"
	"unicode/utf8"
)

// Keywords match in any case; the captured name must be capitalized.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i:contact)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
	regexp.MustCompile(`(?i:name)\s*[:=]\s*([A-Z][a-z]+)`),
	regexp.MustCompile(`(?i:call|phone|text)\s+([A-Z][a-z]+)`),
}

// minNameLength is the shortest accepted name, in characters.
const minNameLength = 3

// ExtractNames returns person names introduced by "contact", "name:" or
// "call/phone/text", de-duplicated in first-seen order.
func ExtractNames(text string) []string {
	var names []string
	for _, p := range namePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if len(m) > 1 && utf8.RuneCountInString(m[1]) >= minNameLength {
				names = append(names, m[1])
			}
		}
	}
	return uniq(names)
}
