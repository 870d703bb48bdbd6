package extraction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/otherjamesbrown/relief/pkg/triage"
)

var (
	// "12 people", "3 children"
	headcountPattern = regexp.MustCompile(`(?i)\b(\d+)\s+(people|persons|adults|children|kids|babies|families|elderly|injured)\b`)
	// "20 liters of water", "5 boxes of food"
	measurePattern = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(liters|litres|gallons|kg|bottles|boxes|packs|bags|blankets)\s+of\s+([a-z]+)\b`)
)

// ExtractQuantities returns headcounts and measured supplies mentioned in
// the text, in order of appearance within each pattern.
func ExtractQuantities(text string) []triage.Quantity {
	quantities := make([]triage.Quantity, 0)

	for _, m := range headcountPattern.FindAllStringSubmatch(text, -1) {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		quantities = append(quantities, triage.Quantity{
			Item:   strings.ToLower(m[2]),
			Amount: amount,
		})
	}

	for _, m := range measurePattern.FindAllStringSubmatch(text, -1) {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		quantities = append(quantities, triage.Quantity{
			Item:   strings.ToLower(m[3]),
			Amount: amount,
			Unit:   strings.ToLower(m[2]),
		})
	}
	return quantities
}
