package intent

import (
	"strings"
)

// Label is a coarse classification of a user utterance.
type Label string

const (
	Neutral       Label = "neutral"
	Casual        Label = "casual"
	Contemplation Label = "contemplation"
)

// Detector maps an utterance to an intent label.
type Detector interface {
	Detect(utterance string) (Label, error)
}

// Rule pairs an intent with the keywords that trigger it.
type Rule struct {
	Intent   Label    `yaml:"intent"`
	Keywords []string `yaml:"keywords"`
}

// KeywordDetector walks its rules in declared order and returns the first intent
// with a keyword contained in the lower-cased utterance. Declared order is the
// tie-break when an utterance matches several intents.
type KeywordDetector struct {
	rules    []Rule
	fallback Label
}

func NewKeywordDetector(rules []Rule, fallback Label) *KeywordDetector {
	if fallback == "" {
		fallback = Neutral
	}
	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		normalized = append(normalized, Rule{Intent: r.Intent, Keywords: kws})
	}
	return &KeywordDetector{rules: normalized, fallback: fallback}
}

func (d *KeywordDetector) Detect(utterance string) (Label, error) {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	if lower == "" {
		return d.fallback, nil
	}
	for _, r := range d.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				return r.Intent, nil
			}
		}
	}
	return d.fallback, nil
}

// Fallback returns the label used when nothing matches.
func (d *KeywordDetector) Fallback() Label {
	return d.fallback
}

// Known reports whether label is one of the detector's intents or its fallback.
func (d *KeywordDetector) Known(label Label) bool {
	if label == d.fallback {
		return true
	}
	for _, r := range d.rules {
		if r.Intent == label {
			return true
		}
	}
	return false
}

// Topics returns the topics mentioned in message, in the order they are listed.
func Topics(message string, topics []string) []string {
	lower := strings.ToLower(message)
	var found []string
	for _, topic := range topics {
		if topic != "" && strings.Contains(lower, strings.ToLower(topic)) {
			found = append(found, topic)
		}
	}
	return found
}
