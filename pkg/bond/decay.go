package bond

import (
	"time"
)

// DecayPolicy describes how a persona lets the bond fade when a user stays away.
// Rates are points per day, keyed by tier name; closer tiers usually fade slower.
type DecayPolicy struct {
	Rates              map[string]float64 `yaml:"rates"`
	GraceDays          float64            `yaml:"grace_days"`
	RecoveryPerMessage float64            `yaml:"recovery_per_message"`
}

// Enabled reports whether the policy ever decays anything.
func (p DecayPolicy) Enabled() bool {
	for _, r := range p.Rates {
		if r > 0 {
			return true
		}
	}
	return false
}

// DecayPenalty returns the points to add to the penalty of a pair in tierName
// that has been inactive since lastInteraction. Inactivity already charged up
// to lastDecay is not charged twice.
func (p DecayPolicy) DecayPenalty(tierName string, lastInteraction, lastDecay, now time.Time) float64 {
	rate, ok := p.Rates[tierName]
	if !ok || rate <= 0 || lastInteraction.IsZero() {
		return 0
	}

	// No decay within the grace window
	graceEnd := lastInteraction.Add(time.Duration(p.GraceDays * float64(24*time.Hour)))
	from := graceEnd
	if lastDecay.After(from) {
		from = lastDecay
	}
	if !now.After(from) {
		return 0
	}

	days := now.Sub(from).Hours() / 24
	return rate * days
}

// Recover lowers penalty by the per-message recovery, never below zero.
func (p DecayPolicy) Recover(penalty float64) float64 {
	if penalty <= 0 {
		return 0
	}
	penalty -= p.RecoveryPerMessage
	if penalty < 0 {
		return 0
	}
	return penalty
}
