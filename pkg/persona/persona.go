// Package persona loads the declarative content that gives each character its
// voice: intent keywords, response templates, upsell rules and decay rates.
package persona

import (
	"regexp"
	"slices"
	"strings"

	"bondengine/pkg/bond"
	"bondengine/pkg/chance"
	"bondengine/pkg/intent"
	"bondengine/pkg/memory"
	"bondengine/pkg/tier"
	"bondengine/pkg/upsell"

	"go.uber.org/zap"
)

// AnyTier is the response key that applies to every tier.
const AnyTier = "*"

// EmotionalCue marks an intent as an emotional moment worth remembering.
type EmotionalCue struct {
	Emotion    string `yaml:"emotion"`
	Importance int    `yaml:"importance"`
}

// File is the on-disk shape of a persona.
type File struct {
	ID                   string                         `yaml:"id"`
	DisplayName          string                         `yaml:"display_name"`
	FallbackIntent       intent.Label                   `yaml:"fallback_intent"`
	NeutralResponse      string                         `yaml:"neutral_response"`
	ConnectivityResponse string                         `yaml:"connectivity_response"`
	DefaultPetName       string                         `yaml:"default_pet_name"`
	Tiers                []tier.Tier                    `yaml:"tiers"`
	Intents              []intent.Rule                  `yaml:"intents"`
	Topics               []string                       `yaml:"topics"`
	Responses            map[string]map[string][]string `yaml:"responses"`
	TierUp               map[string]string              `yaml:"tier_up"`
	Upsells              []upsell.Rule                  `yaml:"upsells"`
	Emotional            map[string]EmotionalCue        `yaml:"emotional"`
	Milestones           map[string]string              `yaml:"milestones"`
	Decay                bond.DecayPolicy               `yaml:"decay"`
}

// Persona is a validated, read-only persona. It is safe for concurrent use.
type Persona struct {
	ID                   string
	DisplayName          string
	NeutralResponse      string
	ConnectivityResponse string
	DefaultPetName       string
	Topics               []string
	Decay                bond.DecayPolicy

	resolver   *tier.Resolver
	keywords   *intent.KeywordDetector
	detector   intent.Detector
	upsell     *upsell.Evaluator
	responses  map[string]map[intent.Label][]string
	tierUp     map[string]string
	emotional  map[intent.Label]EmotionalCue
	milestones map[intent.Label]string
}

// Options tune how personas are built.
type Options struct {
	// IntentCacheSize enables an LRU in front of the keyword detector when > 0.
	IntentCacheSize int
	Logger          *zap.Logger
}

var idRegex = regexp.MustCompile(`^[a-z0-9_\-]+$`)

// New validates f and builds a Persona.
func New(f File, opts Options) (*Persona, error) {
	id := f.ID
	if !idRegex.MatchString(id) {
		return nil, configErr(id, "id", "must be lower-case letters, digits, '-' or '_'")
	}
	if strings.TrimSpace(f.NeutralResponse) == "" {
		return nil, configErr(id, "neutral_response", "is required")
	}
	if f.FallbackIntent == "" {
		return nil, configErr(id, "fallback_intent", "is required")
	}
	if len(f.Intents) == 0 {
		return nil, configErr(id, "intents", "table is empty")
	}
	if len(f.Upsells) == 0 {
		return nil, configErr(id, "upsells", "rule table is empty")
	}

	table := tier.Default()
	if len(f.Tiers) > 0 {
		t, err := tier.NewTable(f.Tiers)
		if err != nil {
			return nil, configErr(id, "tiers", "%v", err)
		}
		table = t
	}

	known := map[intent.Label]bool{f.FallbackIntent: true}
	for i, r := range f.Intents {
		if r.Intent == "" {
			return nil, configErr(id, "intents", "rule %d has no intent", i)
		}
		if known[r.Intent] && r.Intent != f.FallbackIntent {
			return nil, configErr(id, "intents", "intent %q declared twice", r.Intent)
		}
		if len(r.Keywords) == 0 {
			return nil, configErr(id, "intents", "intent %q has no keywords", r.Intent)
		}
		known[r.Intent] = true
	}

	responses := make(map[string]map[intent.Label][]string, len(f.Responses))
	for tierName, byIntent := range f.Responses {
		if tierName != AnyTier {
			if _, ok := table.ByName(tierName); !ok {
				return nil, configErr(id, "responses", "unknown tier %q", tierName)
			}
		}
		m := make(map[intent.Label][]string, len(byIntent))
		for label, templates := range byIntent {
			l := intent.Label(label)
			if !known[l] {
				return nil, configErr(id, "responses", "unknown intent %q under tier %q", label, tierName)
			}
			m[l] = slices.Clone(templates)
		}
		responses[tierName] = m
	}

	tierUp := make(map[string]string, len(f.TierUp))
	for name, line := range f.TierUp {
		if _, ok := table.ByName(name); !ok {
			return nil, configErr(id, "tier_up", "unknown tier %q", name)
		}
		tierUp[name] = line
	}

	emotional := make(map[intent.Label]EmotionalCue, len(f.Emotional))
	for label, cue := range f.Emotional {
		if !known[intent.Label(label)] {
			return nil, configErr(id, "emotional", "unknown intent %q", label)
		}
		if cue.Importance < 1 {
			return nil, configErr(id, "emotional", "intent %q needs importance >= 1", label)
		}
		emotional[intent.Label(label)] = cue
	}

	milestones := make(map[intent.Label]string, len(f.Milestones))
	for label, kind := range f.Milestones {
		if !known[intent.Label(label)] {
			return nil, configErr(id, "milestones", "unknown intent %q", label)
		}
		if !slices.Contains(memory.MilestoneKinds, kind) {
			return nil, configErr(id, "milestones", "unknown milestone %q", kind)
		}
		milestones[intent.Label(label)] = kind
	}

	for name, rate := range f.Decay.Rates {
		if _, ok := table.ByName(name); !ok {
			return nil, configErr(id, "decay", "unknown tier %q", name)
		}
		if rate < 0 {
			return nil, configErr(id, "decay", "negative rate for %q", name)
		}
	}

	ev, err := upsell.NewEvaluator(f.Upsells, table, f.DefaultPetName)
	if err != nil {
		return nil, configErr(id, "upsells", "%v", err)
	}

	p := &Persona{
		ID:                   id,
		DisplayName:          f.DisplayName,
		NeutralResponse:      f.NeutralResponse,
		ConnectivityResponse: f.ConnectivityResponse,
		DefaultPetName:       f.DefaultPetName,
		Topics:               slices.Clone(f.Topics),
		Decay:                f.Decay,
		resolver:             tier.NewResolver(table),
		keywords:             intent.NewKeywordDetector(f.Intents, f.FallbackIntent),
		upsell:               ev,
		responses:            responses,
		tierUp:               tierUp,
		emotional:            emotional,
		milestones:           milestones,
	}
	if p.DisplayName == "" {
		p.DisplayName = id
	}
	if p.ConnectivityResponse == "" {
		p.ConnectivityResponse = p.NeutralResponse
	}

	// Every tier must be able to answer the fallback intent.
	for _, t := range table.Tiers() {
		if len(p.templates(t.Name, f.FallbackIntent)) == 0 {
			return nil, configErr(id, "responses", "no %q response for tier %q", f.FallbackIntent, t.Name)
		}
	}

	p.detector = p.keywords
	if opts.IntentCacheSize > 0 {
		p.detector = intent.NewCachedDetector(p.keywords, opts.IntentCacheSize, id, opts.Logger)
	}
	return p, nil
}

// Resolver returns the persona's tier resolver.
func (p *Persona) Resolver() *tier.Resolver {
	return p.resolver
}

// Detector returns the intent detector, cached when configured.
func (p *Persona) Detector() intent.Detector {
	return p.detector
}

// FallbackIntent is the intent used when detection fails or nothing matches.
func (p *Persona) FallbackIntent() intent.Label {
	return p.keywords.Fallback()
}

// KnownIntent reports whether label belongs to this persona.
func (p *Persona) KnownIntent(label intent.Label) bool {
	return p.keywords.Known(label)
}

func (p *Persona) Upsell() *upsell.Evaluator {
	return p.upsell
}

// EmotionalCue returns the cue for label, if the intent is an emotional one.
func (p *Persona) EmotionalCue(label intent.Label) (EmotionalCue, bool) {
	cue, ok := p.emotional[label]
	return cue, ok
}

// Milestone returns the milestone kind label marks the first occurrence of.
func (p *Persona) Milestone(label intent.Label) (string, bool) {
	kind, ok := p.milestones[label]
	return kind, ok
}

// TierUpMessage returns the line celebrating a move into t.
func (p *Persona) TierUpMessage(t tier.Tier, vars map[string]string) string {
	line, ok := p.tierUp[t.Name]
	if !ok {
		return ""
	}
	return p.fill(line, vars)
}

func (p *Persona) templates(tierName string, label intent.Label) []string {
	if t := p.responses[tierName][label]; len(t) > 0 {
		return t
	}
	return p.responses[AnyTier][label]
}

// Respond picks a template for (tier, intent), falling back to the persona's
// fallback intent and then to its neutral response, and fills placeholders
// such as {name}, {pet_name} and {tier}.
func (p *Persona) Respond(t tier.Tier, label intent.Label, rng chance.Source, vars map[string]string) string {
	candidates := p.templates(t.Name, label)
	if len(candidates) == 0 {
		candidates = p.templates(t.Name, p.FallbackIntent())
	}
	if len(candidates) == 0 {
		return p.fill(p.NeutralResponse, vars)
	}

	line := candidates[0]
	if rng != nil {
		line = chance.Pick(rng, candidates)
	}
	return p.fill(line, vars)
}

// ResponseCandidates lists every template Respond may choose from, unfilled.
func (p *Persona) ResponseCandidates(t tier.Tier, label intent.Label) []string {
	candidates := p.templates(t.Name, label)
	if len(candidates) == 0 {
		candidates = p.templates(t.Name, p.FallbackIntent())
	}
	return slices.Clone(candidates)
}

// Fill replaces placeholders in a persona line.
func (p *Persona) Fill(line string, vars map[string]string) string {
	return p.fill(line, vars)
}

func (p *Persona) fill(line string, vars map[string]string) string {
	if !strings.Contains(line, "{") {
		return line
	}
	pet := p.DefaultPetName
	if pet == "" {
		pet = "you"
	}
	name := vars["name"]
	if name == "" {
		name = pet
	}

	pairs := []string{"{name}", name, "{pet_name}", pet}
	for k, v := range vars {
		if k == "name" {
			continue
		}
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(line)
}
