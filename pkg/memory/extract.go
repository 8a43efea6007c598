package memory

import (
	"regexp"
	"strings"
)

// Detail is a personal detail disclosed in a message.
type Detail struct {
	Field string
	Value string
}

var detailPatterns = []struct {
	field string
	re    *regexp.Regexp
}{
	{FieldName, regexp.MustCompile(`(?i)\b(?:my name is|my name's|call me)\s+([a-z][a-z'\-]{1,30})`)},
	{FieldAge, regexp.MustCompile(`(?i)\b(?:i'?m|i am)\s+(\d{1,3})\s*(?:years?|yrs?|y/?o)\b`)},
	{FieldLocation, regexp.MustCompile(`(?i)\b(?:i live in|i'?m from|i am from)\s+([a-z][a-z .'\-]{1,40}?)(?:[.,!?]|$)`)},
	{FieldOccupation, regexp.MustCompile(`(?i)\b(?:i work as an?|i'?m an?|i am an?)\s+([a-z][a-z \-]{1,40}?)(?:\s+at\b|[.,!?]|$)`)},
	{FieldInterest, regexp.MustCompile(`(?i)\b(?:i love|i really like|i'?m into|i enjoy)\s+([a-z][a-z \-]{1,40}?)(?:[.,!?]|$)`)},
}

// occupations that are really moods or states ("i'm a mess").
var occupationStopwords = map[string]bool{
	"mess": true, "bit": true, "little": true, "lot": true, "fan": true,
}

// ExtractDetails finds simple self-disclosures such as "my name is Sam" or
// "i live in Lisbon". At most one value per field is returned.
func ExtractDetails(text string) []Detail {
	var out []Detail
	for _, p := range detailPatterns {
		m := p.re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		value := strings.TrimSpace(m[1])
		if value == "" {
			continue
		}
		if p.field == FieldOccupation && occupationStopwords[strings.ToLower(strings.Fields(value)[0])] {
			continue
		}
		if p.field == FieldInterest && strings.HasPrefix(strings.ToLower(value), "you") {
			continue
		}
		if p.field == FieldName {
			value = strings.ToUpper(value[:1]) + value[1:]
		}
		out = append(out, Detail{Field: p.field, Value: value})
	}
	return out
}
