package bond

import "time"

// State is the persisted bond for one (user, persona) pair. The current tier is
// never stored; it is always resolved from BondScore.
type State struct {
	BondScore         float64   `json:"bond_score"`
	TotalInteractions int       `json:"total_interactions"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
	CreatedAt         time.Time `json:"created_at"`
	DecayPenalty      float64   `json:"decay_penalty"`
	LastDecayAt       time.Time `json:"last_decay_at"`

	// Host-reported totals, kept at their highest seen value so the score can
	// be recomputed between messages.
	TimeSpentSeconds int `json:"time_spent_seconds"`
	ReturnVisits     int `json:"return_visits"`
	DaysActive       int `json:"days_active"`
}

// NewState returns a zero bond created at now.
func NewState(now time.Time) State {
	return State{CreatedAt: now}
}

// Observe raises the host totals to the given values. Totals never go down.
func (s *State) Observe(timeSpentSeconds, returnVisits, daysActive int) {
	s.TimeSpentSeconds = max(s.TimeSpentSeconds, timeSpentSeconds)
	s.ReturnVisits = max(s.ReturnVisits, returnVisits)
	s.DaysActive = max(s.DaysActive, daysActive)
}
