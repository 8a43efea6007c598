package tier

import (
	"fmt"
	"math"
	"strings"
)

// Resolver maps bond scores onto a table and reports progress inside a tier.
type Resolver struct {
	table *Table
}

func NewResolver(table *Table) *Resolver {
	if table == nil {
		table = Default()
	}
	return &Resolver{table: table}
}

func (r *Resolver) Table() *Table {
	return r.table
}

func (r *Resolver) Resolve(score float64) Tier {
	return r.table.Resolve(score)
}

func (r *Resolver) Next(current Tier) (Tier, bool) {
	return r.table.Next(current)
}

// ProgressToNext returns how far score sits inside current's range, as a
// percentage in [0,100]. The top tier reports 100 once its max is reached.
func (r *Resolver) ProgressToNext(score float64, current Tier) float64 {
	width := current.Max - current.Min
	if width <= 0 || math.IsNaN(score) {
		return 0
	}
	pct := (score - current.Min) / width * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Display renders the bond card shown by hosts: tier, progress bar and score.
func (r *Resolver) Display(score float64) string {
	current := r.Resolve(score)
	progress := r.ProgressToNext(score, current)

	const barLength = 10
	filled := int(progress / 10)
	if filled > barLength {
		filled = barLength
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barLength-filled)

	next, ok := r.Next(current)
	if !ok {
		return fmt.Sprintf("%s **%s** (MAX)\n%s\n`%.1f / %.0f`", current.Emoji, current.Name, bar, score, MaxScore)
	}
	return fmt.Sprintf("%s **%s**\n%s\n`%.1f / %.0f` to %s", current.Emoji, current.Name, bar, score, next.Min, next.Name)
}
