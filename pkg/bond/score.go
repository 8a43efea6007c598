package bond

import (
	"math"
)

// Counters are the engagement totals a score is computed from.
type Counters struct {
	TotalMessages        int
	TotalTimeSeconds     int
	EmotionalMomentCount int
	ReturnVisits         int
	PersonalDetailsKnown int
	HasPurchased         bool
	DaysActive           int
}

// Weights control how much each counter contributes. Every per-unit weight has
// its own cap so one dimension cannot carry a user to the top tier alone.
type Weights struct {
	PerMessage         float64 `yaml:"per_message"`
	MessageCap         float64 `yaml:"message_cap"`
	PerHour            float64 `yaml:"per_hour"`
	TimeCap            float64 `yaml:"time_cap"`
	PerEmotionalMoment float64 `yaml:"per_emotional_moment"`
	EmotionalCap       float64 `yaml:"emotional_cap"`
	PerReturnVisit     float64 `yaml:"per_return_visit"`
	ReturnVisitCap     float64 `yaml:"return_visit_cap"`
	PerPersonalDetail  float64 `yaml:"per_personal_detail"`
	PersonalDetailCap  float64 `yaml:"personal_detail_cap"`
	PurchaseBonus      float64 `yaml:"purchase_bonus"`
	ConsistencyBonus   float64 `yaml:"consistency_bonus"`
	ConsistencyMinDays int     `yaml:"consistency_min_days"`
}

// DefaultWeights caps messages at 25, time at 20, emotional moments at 20 and
// return visits at 25 points.
func DefaultWeights() Weights {
	return Weights{
		PerMessage:         0.5,
		MessageCap:         25,
		PerHour:            3,
		TimeCap:            20,
		PerEmotionalMoment: 2,
		EmotionalCap:       20,
		PerReturnVisit:     3,
		ReturnVisitCap:     25,
		PerPersonalDetail:  2,
		PersonalDetailCap:  12,
		PurchaseBonus:      15,
		ConsistencyBonus:   10,
		ConsistencyMinDays: 3,
	}
}

// contribution is units*per limited to limit. A non-positive limit means uncapped.
func contribution(units, per, limit float64) float64 {
	if units <= 0 || per <= 0 {
		return 0
	}
	v := units * per
	if limit > 0 && v > limit {
		return limit
	}
	return v
}

// ComputeScore turns counters into a score in [0,100]. Negative counters count
// as zero, so the result never decreases when any single counter grows.
func ComputeScore(c Counters, w Weights) float64 {
	score := contribution(float64(c.TotalMessages), w.PerMessage, w.MessageCap)
	score += contribution(float64(c.TotalTimeSeconds)/3600, w.PerHour, w.TimeCap)
	score += contribution(float64(c.EmotionalMomentCount), w.PerEmotionalMoment, w.EmotionalCap)
	score += contribution(float64(c.ReturnVisits), w.PerReturnVisit, w.ReturnVisitCap)
	score += contribution(float64(c.PersonalDetailsKnown), w.PerPersonalDetail, w.PersonalDetailCap)

	if c.HasPurchased && w.PurchaseBonus > 0 {
		score += w.PurchaseBonus
	}
	if w.ConsistencyMinDays > 0 && c.DaysActive >= w.ConsistencyMinDays && w.ConsistencyBonus > 0 {
		score += w.ConsistencyBonus
	}

	return Clamp(score)
}

// Clamp limits score to [0,100]. NaN becomes 0.
func Clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ApplyPenalty subtracts an accumulated decay penalty and clamps the result.
func ApplyPenalty(score, penalty float64) float64 {
	if penalty <= 0 {
		return Clamp(score)
	}
	return Clamp(score - penalty)
}
