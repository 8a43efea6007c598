package engine

import (
	"context"
	"fmt"
	"strings"

	"bondengine/pkg/bond"
	"bondengine/pkg/memory"
	"bondengine/pkg/persona"
	"bondengine/pkg/tier"

	"go.uber.org/zap"
)

// Status is a read-only view of a pair, as shown by the bond card.
type Status struct {
	PersonaName string
	Profile     *memory.Profile
	Bond        bond.State
	Tier        tier.Tier
	// Progress is the percentage through the current tier.
	Progress float64
	Card     string
}

func (e *Engine) status(p *persona.Persona, rec *memory.Record) *Status {
	r := p.Resolver()
	t := r.Resolve(rec.Bond.BondScore)
	return &Status{
		PersonaName: p.DisplayName,
		Profile:     rec.Profile,
		Bond:        rec.Bond,
		Tier:        t,
		Progress:    r.ProgressToNext(rec.Bond.BondScore, t),
		Card:        r.Display(rec.Bond.BondScore),
	}
}

// Snapshot returns the current state of a pair, creating it on first contact.
func (e *Engine) Snapshot(ctx context.Context, userID, personaID string) (*Status, error) {
	p, err := e.lookup(userID, personaID)
	if err != nil {
		return nil, err
	}
	rec, err := e.memory.GetOrCreate(ctx, userID, personaID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return e.status(p, rec), nil
}

// EndSession records the length of a finished conversation. It feeds the
// behavioural insights only; time spent reaches the score through
// CounterSnapshot.
func (e *Engine) EndSession(ctx context.Context, userID, personaID string, seconds int64) error {
	if _, err := e.lookup(userID, personaID); err != nil {
		return err
	}
	if seconds <= 0 {
		return fmt.Errorf("%w: session length must be positive", ErrInvalidInput)
	}
	_, err := e.memory.Update(ctx, userID, personaID, func(r *memory.Record) error {
		r.Profile.RecordSession(seconds)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// RecordPurchase adds a purchase to the spending patterns and marks the first
// purchase milestone, which may move the pair up a tier.
func (e *Engine) RecordPurchase(ctx context.Context, userID, personaID, kind string, amount float64) (*Status, error) {
	p, err := e.lookup(userID, personaID)
	if err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrInvalidInput)
	}
	kind = strings.TrimSpace(kind)

	var prev tier.Tier
	rec, err := e.memory.Update(ctx, userID, personaID, func(r *memory.Record) error {
		prev = p.Resolver().Resolve(r.Bond.BondScore)
		r.Profile.RecordPurchase(kind, amount, e.now())
		r.Bond.BondScore = e.score(r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	st := e.status(p, rec)
	if st.Tier.Level > prev.Level {
		e.logger.Info("tier upgraded by purchase",
			zap.String("user_id", userID),
			zap.String("persona_id", personaID),
			zap.String("tier", st.Tier.Name),
			zap.Float64("score", st.Bond.BondScore))
		e.publish(TierUpgrade{
			UserID:    userID,
			PersonaID: personaID,
			FromTier:  prev,
			ToTier:    st.Tier,
			Message:   p.TierUpMessage(st.Tier, e.vars(rec.Profile, st.Tier)),
			At:        e.now(),
		})
	}
	return st, nil
}
