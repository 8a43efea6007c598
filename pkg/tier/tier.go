package tier

import (
	"fmt"
	"sort"
)

// MaxScore is the cap for bond points
const MaxScore = 100.0

// Requirements are the soft unlock hints shown next to a tier.
type Requirements struct {
	Messages         int `yaml:"messages" json:"messages"`
	TimeSpentSeconds int `yaml:"time_spent_seconds" json:"time_spent_seconds"`
	ReturnVisits     int `yaml:"return_visits" json:"return_visits"`
}

// Tier represents one band of closeness
type Tier struct {
	Level        int          `yaml:"level" json:"level"`
	Name         string       `yaml:"name" json:"name"`
	Min          float64      `yaml:"min" json:"min"`
	Max          float64      `yaml:"max" json:"max"`
	Emoji        string       `yaml:"emoji" json:"emoji"`
	Requirements Requirements `yaml:"requirements" json:"requirements"`
	Perks        []string     `yaml:"perks" json:"perks"`
}

// Contains reports whether score falls in the tier. The range is closed-open
// unless last is set, in which case the upper bound is included.
func (t Tier) Contains(score float64, last bool) bool {
	if last {
		return score >= t.Min && score <= t.Max
	}
	return score >= t.Min && score < t.Max
}

// DefaultTiers is the shared relationship ladder.
var DefaultTiers = []Tier{
	{Level: 0, Name: "stranger", Min: 0, Max: 10, Emoji: "👋",
		Perks: []string{"basic chat"}},
	{Level: 1, Name: "acquaintance", Min: 10, Max: 25, Emoji: "🙂",
		Requirements: Requirements{Messages: 10, ReturnVisits: 1},
		Perks:        []string{"remembers your name"}},
	{Level: 2, Name: "friend", Min: 25, Max: 45, Emoji: "😊",
		Requirements: Requirements{Messages: 30, TimeSpentSeconds: 1800, ReturnVisits: 2},
		Perks:        []string{"playful teasing", "voice notes"}},
	{Level: 3, Name: "close_friend", Min: 45, Max: 60, Emoji: "🤗",
		Requirements: Requirements{Messages: 50, TimeSpentSeconds: 3600, ReturnVisits: 4},
		Perks:        []string{"shares secrets", "good morning messages"}},
	{Level: 4, Name: "crush", Min: 60, Max: 75, Emoji: "💕",
		Requirements: Requirements{Messages: 75, TimeSpentSeconds: 7200, ReturnVisits: 5},
		Perks:        []string{"flirting", "photos"}},
	{Level: 5, Name: "girlfriend", Min: 75, Max: 90, Emoji: "💗",
		Requirements: Requirements{Messages: 100, TimeSpentSeconds: 10800, ReturnVisits: 7},
		Perks:        []string{"pet names", "exclusive content"}},
	{Level: 6, Name: "soulmate", Min: 90, Max: 100, Emoji: "💖",
		Requirements: Requirements{Messages: 200, TimeSpentSeconds: 36000, ReturnVisits: 14},
		Perks:        []string{"everything"}},
}

// Table is an ordered, validated set of tiers. It is never mutated after
// NewTable returns, so it can be shared between goroutines.
type Table struct {
	tiers  []Tier
	byName map[string]int
}

// NewTable validates tiers and returns a read-only table. Tiers must start at 0,
// end at MaxScore, have strictly increasing levels and leave no gaps.
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tier table is empty")
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	byName := make(map[string]int, len(sorted))
	for i, t := range sorted {
		if t.Name == "" {
			return nil, fmt.Errorf("tier at level %d has no name", t.Level)
		}
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tier name %q", t.Name)
		}
		byName[t.Name] = i

		if t.Max <= t.Min {
			return nil, fmt.Errorf("tier %q: max %.2f must exceed min %.2f", t.Name, t.Max, t.Min)
		}
		if i == 0 {
			if t.Min != 0 {
				return nil, fmt.Errorf("first tier %q must start at 0, got %.2f", t.Name, t.Min)
			}
			continue
		}
		prev := sorted[i-1]
		if t.Level == prev.Level {
			return nil, fmt.Errorf("tiers %q and %q share level %d", prev.Name, t.Name, t.Level)
		}
		if t.Min != prev.Max {
			return nil, fmt.Errorf("tier %q starts at %.2f but %q ends at %.2f", t.Name, t.Min, prev.Name, prev.Max)
		}
	}
	if last := sorted[len(sorted)-1]; last.Max != MaxScore {
		return nil, fmt.Errorf("last tier %q must end at %.0f, got %.2f", last.Name, MaxScore, last.Max)
	}

	return &Table{tiers: sorted, byName: byName}, nil
}

// MustTable is NewTable for package-level tables known to be valid.
func MustTable(tiers []Tier) *Table {
	t, err := NewTable(tiers)
	if err != nil {
		panic(err)
	}
	return t
}

var defaultTable = MustTable(DefaultTiers)

// Default returns the shared default table.
func Default() *Table {
	return defaultTable
}

// Tiers returns a copy of the tiers ordered by level.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Len returns the number of tiers.
func (t *Table) Len() int {
	return len(t.tiers)
}

// Resolve returns the tier whose range contains score. Scores below zero map to
// the first tier and scores above the cap to the last one.
func (t *Table) Resolve(score float64) Tier {
	last := len(t.tiers) - 1
	if score <= t.tiers[0].Min {
		return t.tiers[0]
	}
	if score >= t.tiers[last].Max {
		return t.tiers[last]
	}
	for i, tier := range t.tiers {
		if tier.Contains(score, i == last) {
			return tier
		}
	}
	// NaN lands here
	return t.tiers[0]
}

// Next returns the tier one level above, or false at the top.
func (t *Table) Next(current Tier) (Tier, bool) {
	idx, ok := t.byName[current.Name]
	if !ok || idx+1 >= len(t.tiers) {
		return Tier{}, false
	}
	return t.tiers[idx+1], true
}

// ByName looks a tier up by name.
func (t *Table) ByName(name string) (Tier, bool) {
	idx, ok := t.byName[name]
	if !ok {
		return Tier{}, false
	}
	return t.tiers[idx], true
}

// IsTop reports whether tier is the highest one.
func (t *Table) IsTop(current Tier) bool {
	return current.Name == t.tiers[len(t.tiers)-1].Name
}
