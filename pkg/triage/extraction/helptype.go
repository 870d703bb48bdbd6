package extraction

import (
	"strings"

	"github.com/otherjamesbrown/relief/pkg/triage"
)

// helpTypeKeywords are scored in declaration order; on a tie the earlier
// category wins.
var helpTypeKeywords = []struct {
	helpType triage.HelpType
	keywords []string
}{
	{triage.HelpTypeRescue, []string{"rescue", "trapped", "stuck", "evacuate", "save", "emergency", "urgent"}},
	{triage.HelpTypeMedical, []string{"medical", "doctor", "hospital", "medicine", "injured", "hurt", "bleeding"}},
	{triage.HelpTypeFood, []string{"food", "hungry", "starving", "eat", "meal", "water", "thirsty"}},
	{triage.HelpTypeShelter, []string{"shelter", "home", "house", "roof", "warm", "cold", "sleep"}},
	{triage.HelpTypeEvacuation, []string{"evacuate", "evacuation", "leave", "exit"}},
	{triage.HelpTypeInformation, []string{"information", "info", "news", "update"}},
}

// ExtractHelpType returns the category with the most distinct keyword
// hits (substring match on lower-cased text), or Other when none match.
func ExtractHelpType(text string) triage.HelpType {
	lower := strings.ToLower(text)

	best, bestScore := triage.HelpTypeOther, 0
	for _, c := range helpTypeKeywords {
		score := 0
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c.helpType, score
		}
	}
	return best
}
