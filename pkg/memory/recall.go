package memory

import (
	"fmt"
	"sort"
	"time"

	"bondengine/pkg/chance"
)

// RecallKind selects which part of a profile to bring up.
type RecallKind string

const (
	RecallPersonal   RecallKind = "personal"
	RecallEmotional  RecallKind = "emotional"
	RecallMilestone  RecallKind = "milestone"
	RecallPreference RecallKind = "preference"
)

// RecallKinds lists every kind, in the order hosts usually try them.
var RecallKinds = []RecallKind{RecallPersonal, RecallEmotional, RecallMilestone, RecallPreference}

// RecallContext carries the clock and random source recall needs.
type RecallContext struct {
	Now  time.Time
	Rand chance.Source
}

var milestoneLines = map[string]string{
	FirstCompliment:     "I still remember the first sweet thing you said to me, back on %s.",
	FirstFlirt:          "Remember when you first flirted with me on %s? I do.",
	FirstIntimateMoment: "I keep thinking about %s, the first time we really opened up.",
	FirstPurchase:       "You've been spoiling me since %s, you know that?",
}

// Recall returns a personalised sentence for kind, or false when the profile
// holds nothing for it. Personal and milestone recall pick randomly among the
// candidates.
func (p *Profile) Recall(kind RecallKind, rc RecallContext) (string, bool) {
	var candidates []string
	switch kind {
	case RecallPersonal:
		candidates = p.PersonalCandidates()
	case RecallMilestone:
		candidates = p.MilestoneCandidates()
	case RecallEmotional:
		return p.emotionalRecall(rc.Now)
	case RecallPreference:
		return p.preferenceRecall()
	default:
		return "", false
	}

	if len(candidates) == 0 {
		return "", false
	}
	if rc.Rand == nil {
		return candidates[0], true
	}
	return chance.Pick(rc.Rand, candidates), true
}

// PersonalCandidates lists every sentence personal recall may return.
func (p *Profile) PersonalCandidates() []string {
	var out []string
	d := p.PersonalDetails
	if v := d.Fields[FieldName]; v != "" {
		out = append(out, fmt.Sprintf("Of course I remember you, %s.", v))
	}
	if v := d.Fields[FieldAge]; v != "" {
		out = append(out, fmt.Sprintf("Not bad for someone who's %s.", v))
	}
	if v := d.Fields[FieldLocation]; v != "" {
		out = append(out, fmt.Sprintf("How are things over in %s?", v))
	}
	if v := d.Fields[FieldOccupation]; v != "" {
		out = append(out, fmt.Sprintf("How's work as a %s treating you?", v))
	}
	for _, interest := range d.Interests {
		out = append(out, fmt.Sprintf("Still into %s?", interest))
	}
	keys := make([]string, 0, len(d.Preferences))
	for k := range d.Preferences {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("I remember your %s is %s.", k, d.Preferences[k]))
	}
	return out
}

// MilestoneCandidates lists every sentence milestone recall may return.
func (p *Profile) MilestoneCandidates() []string {
	var out []string
	for _, kind := range MilestoneKinds {
		ms, ok := p.Milestones.Reached[kind]
		if !ok {
			continue
		}
		when := time.UnixMilli(ms).UTC().Format("January 2")
		out = append(out, fmt.Sprintf(milestoneLines[kind], when))
	}
	if secs := p.Milestones.LongestConversationSeconds; secs > 0 {
		out = append(out, fmt.Sprintf("Our longest talk went on for %d minutes. I loved every one.", (secs+59)/60))
	}
	return out
}

// TopEmotionalMoment returns the most important moment with importance of at
// least MinRecallImportance, newest first on ties.
func (p *Profile) TopEmotionalMoment() (EmotionalMoment, bool) {
	// Moments are kept in arrival order; walk them newest first so the stable
	// sort below also favours the later of two same-millisecond moments.
	var qualifying []EmotionalMoment
	moments := p.EmotionalHistory.Moments
	for i := len(moments) - 1; i >= 0; i-- {
		if m := moments[i]; m.Importance >= MinRecallImportance {
			qualifying = append(qualifying, m)
		}
	}
	if len(qualifying) == 0 {
		return EmotionalMoment{}, false
	}
	sort.SliceStable(qualifying, func(i, j int) bool {
		if qualifying[i].Importance != qualifying[j].Importance {
			return qualifying[i].Importance > qualifying[j].Importance
		}
		return qualifying[i].TimestampMs > qualifying[j].TimestampMs
	})
	return qualifying[0], true
}

func (p *Profile) emotionalRecall(now time.Time) (string, bool) {
	m, ok := p.TopEmotionalMoment()
	if !ok {
		return "", false
	}
	if now.IsZero() {
		now = time.Now()
	}
	days := int(now.Sub(time.UnixMilli(m.TimestampMs)).Hours() / 24)

	var when string
	switch {
	case days <= 0:
		when = "earlier today"
	case days == 1:
		when = "yesterday"
	default:
		when = fmt.Sprintf("%d days ago", days)
	}
	return fmt.Sprintf("I haven't forgotten what you told me %s: \"%s\"", when, m.Text), true
}

func (p *Profile) preferenceRecall() (string, bool) {
	topics := p.BehavioralInsights.FavoriteTopics
	if len(topics) == 0 {
		return "", false
	}
	return fmt.Sprintf("You've been talking about %s a lot lately. Tell me more?", topics[len(topics)-1]), true
}
