package extraction

import (
	"strings"
	"unicode"

	"github.com/otherjamesbrown/relief/pkg/triage"
)

// MaxLocations caps how many location phrases are returned.
const MaxLocations = 3

var streetWords = map[string]bool{
	"street": true, "st": true, "avenue": true, "ave": true,
	"road": true, "rd": true, "boulevard": true, "blvd": true,
	"lane": true, "ln": true, "drive": true, "dr": true,
	"court": true, "ct": true, "highway": true, "hwy": true,
}

// ExtractLocations returns up to MaxLocations address-like phrases. A
// phrase is the two tokens before an anchor, the anchor, and the two
// tokens after it; an anchor is a street word or any token with a digit.
// Repeated phrases are kept. Coordinates are left nil.
func ExtractLocations(text string) []triage.Location {
	tokens := strings.Fields(text)
	locations := make([]triage.Location, 0, MaxLocations)

	for i, tok := range tokens {
		if len(locations) == MaxLocations {
			break
		}
		if !isLocationAnchor(tok) {
			continue
		}
		name := strings.Join(tokens[max(0, i-2):min(len(tokens), i+3)], " ")
		locations = append(locations, triage.Location{Name: name})
	}
	return locations
}

func isLocationAnchor(tok string) bool {
	word := strings.ToLower(strings.TrimRight(tok, ".,!?;:"))
	if streetWords[word] {
		return true
	}
	return strings.IndexFunc(tok, unicode.IsDigit) >= 0
}
