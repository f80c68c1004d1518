package orchestrator

import (
	"regexp"
	"strings"

	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/nlu"
)

// Correction phrases are deliberately narrow: fixed patterns, scoped to
// patient-identity fields only. A correction overwrites stale collected
// data and forces the conversation back through verification, so false
// positives are worse than misses.
var correctionPatterns = []struct {
	re  *regexp.Regexp
	key string
}{
	{
		regexp.MustCompile(`(?i)\b(?:actually,?\s+)?my name is(?:\s+actually)?\s+([a-z][a-z'\-]+(?:\s+[a-z][a-z'\-]+){0,2})`),
		model.EntityPatientName,
	},
	{
		regexp.MustCompile(`(?i)\b(?:actually,?\s+)?my (?:phone|number|phone number) is(?:\s+actually)?\s+(\+?\d[\d\s\-\(\)]{7,}\d)`),
		model.EntityPhone,
	},
	{
		regexp.MustCompile(`(?i)\b(?:actually,?\s+)?(?:my (?:date of birth|dob|birthday) is|i was born on?)\s*:?\s*(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})`),
		model.EntityDateOfBirth,
	},
}

// detectCorrection scans the message for an identity correction phrase
// and returns the corrected field and its normalized value.
func detectCorrection(text string) (string, string, bool) {
	for _, p := range correctionPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		switch p.key {
		case model.EntityPhone:
			value = nlu.NormalizePhone(value)
		case model.EntityDateOfBirth:
			normalized, ok := nlu.NormalizeDate(value)
			if !ok {
				continue
			}
			value = normalized
		}
		return p.key, value, true
	}
	return "", "", false
}
