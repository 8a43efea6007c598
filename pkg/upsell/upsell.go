// Package upsell decides when a persona offers something for sale.
package upsell

import (
	"fmt"
	"strings"

	"bondengine/pkg/bond"
	"bondengine/pkg/intent"
	"bondengine/pkg/memory"
	"bondengine/pkg/tier"
)

const (
	TypeVoice = "voice"
	TypePhoto = "photo"
	// premiumPrefix is followed by the tier the premium offer unlocks, e.g. "premium:soulmate".
	premiumPrefix = "premium:"
)

// Offer is a monetization prompt. It is never persisted.
type Offer struct {
	Type    string  `yaml:"type" json:"type"`
	Message string  `yaml:"message" json:"message"`
	Price   float64 `yaml:"price" json:"price"`
}

// Rule fires when every set condition holds. An empty Intent matches any intent.
type Rule struct {
	Intent      intent.Label `yaml:"intent"`
	MinScore    float64      `yaml:"min_score"`
	MinMessages int          `yaml:"min_messages"`
	MinTier     string       `yaml:"min_tier"`
	Offer       Offer        `yaml:"offer"`
}

// Evaluator walks a persona's rules in priority order.
type Evaluator struct {
	rules     []Rule
	minLevels []int
	table     *tier.Table
	petName   string
}

// NewEvaluator validates rules against table. Unknown tiers, unknown offer
// types and negative prices are rejected.
func NewEvaluator(rules []Rule, table *tier.Table, petName string) (*Evaluator, error) {
	if table == nil {
		table = tier.Default()
	}
	if petName == "" {
		petName = "you"
	}

	levels := make([]int, len(rules))
	for i, r := range rules {
		levels[i] = -1
		if r.MinTier != "" {
			t, ok := table.ByName(r.MinTier)
			if !ok {
				return nil, fmt.Errorf("rule %d: unknown min_tier %q", i, r.MinTier)
			}
			levels[i] = t.Level
		}
		if err := validateOffer(r.Offer, table); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}

	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &Evaluator{rules: copied, minLevels: levels, table: table, petName: petName}, nil
}

func validateOffer(o Offer, table *tier.Table) error {
	switch {
	case o.Type == TypeVoice, o.Type == TypePhoto:
	case strings.HasPrefix(o.Type, premiumPrefix):
		name := strings.TrimPrefix(o.Type, premiumPrefix)
		if _, ok := table.ByName(name); !ok {
			return fmt.Errorf("premium offer for unknown tier %q", name)
		}
	default:
		return fmt.Errorf("unknown offer type %q", o.Type)
	}
	if o.Price < 0 {
		return fmt.Errorf("negative price %.2f", o.Price)
	}
	if strings.TrimSpace(o.Message) == "" {
		return fmt.Errorf("offer %q has no message", o.Type)
	}
	return nil
}

// Rules returns the number of rules.
func (e *Evaluator) Rules() int {
	return len(e.rules)
}

// Evaluate returns the offer of the first matching rule, or nil. The tier is
// resolved from state, so callers pass the state after this message's update.
func (e *Evaluator) Evaluate(label intent.Label, profile *memory.Profile, state bond.State) *Offer {
	current := e.table.Resolve(state.BondScore)
	messages := 0
	if profile != nil {
		messages = profile.MessageCount
	}

	for i, r := range e.rules {
		if r.Intent != "" && r.Intent != label {
			continue
		}
		if state.BondScore < r.MinScore {
			continue
		}
		if messages < r.MinMessages {
			continue
		}
		if e.minLevels[i] >= 0 && current.Level < e.minLevels[i] {
			continue
		}

		offer := r.Offer
		offer.Message = e.fill(offer.Message, profile)
		return &offer
	}
	return nil
}

func (e *Evaluator) fill(msg string, profile *memory.Profile) string {
	name := e.petName
	if profile != nil {
		if v := profile.PersonalDetails.Fields[memory.FieldName]; v != "" {
			name = v
		}
	}
	return strings.ReplaceAll(msg, "{name}", name)
}

// PremiumTier returns the tier a premium offer unlocks.
func (o Offer) PremiumTier() (string, bool) {
	if !strings.HasPrefix(o.Type, premiumPrefix) {
		return "", false
	}
	return strings.TrimPrefix(o.Type, premiumPrefix), true
}
