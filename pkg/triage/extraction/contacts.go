// Package extraction pulls structured entities out of raw report text:
// phone numbers, email addresses, names, address-like locations,
// quantities and the dominant help type.
//
// Every Extract* function is pure and total.
package extraction

import (
	"regexp"
	"strings"
)

var (
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	nonDigit     = regexp.MustCompile(`\D`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

// ExtractPhones returns phone numbers as digit strings, de-duplicated in
// first-seen order.
func ExtractPhones(text string) []string {
	matches := phonePattern.FindAllString(text, -1)
	digits := make([]string, 0, len(matches))
	for _, m := range matches {
		digits = append(digits, nonDigit.ReplaceAllString(m, ""))
	}
	return uniq(digits)
}

// ExtractEmails returns lower-cased email addresses, de-duplicated in
// first-seen order.
func ExtractEmails(text string) []string {
	matches := emailPattern.FindAllString(text, -1)
	for i, m := range matches {
		matches[i] = strings.ToLower(m)
	}
	return uniq(matches)
}

func uniq(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
