package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"bondengine/pkg/bond"
	"bondengine/pkg/intent"
	"bondengine/pkg/memory"
	"bondengine/pkg/persona"
	"bondengine/pkg/tier"

	"go.uber.org/zap"
)

func (e *Engine) handle(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, e.saveTimeout)
	defer cancel()

	env, err := e.process(ctx, j.persona, j.key, j.text, j.snap)
	j.result <- Result{Envelope: env, Err: err}
}

func (e *Engine) process(ctx context.Context, p *persona.Persona, key memory.Key, text string, snap CounterSnapshot) (*Envelope, error) {
	logger := e.logger.With(zap.String("user_id", key.UserID), zap.String("persona_id", key.PersonaID))

	if strings.TrimSpace(text) == "" {
		// Nothing to learn from; answer without touching the score.
		rec, err := e.memory.GetOrCreate(ctx, key.UserID, key.PersonaID)
		if err != nil {
			logger.Error("failed to load profile", zap.Error(err))
			return e.connectivityEnvelope(p, nil), fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		env := e.steadyEnvelope(p, rec)
		env.Response = e.fill(p, p.NeutralResponse, rec)
		return env, nil
	}

	var env *Envelope
	committed, err := e.memory.Update(ctx, key.UserID, key.PersonaID, func(r *memory.Record) error {
		var stepErr error
		env, stepErr = e.apply(p, r, text, snap, logger)
		return stepErr
	})

	var se *stepError
	switch {
	case err == nil:
	case errors.As(err, &se):
		logger.Error("message processing failed, returning fallback", zap.Error(err))
		return e.fallback(ctx, p, key, logger), nil
	default:
		logger.Error("failed to persist bond update", zap.Error(err))
		env := e.fallback(ctx, p, key, logger)
		env.Response = e.fill(p, p.ConnectivityResponse, nil)
		return env, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	env.Memory = committed.Profile
	logger.Debug("message processed",
		zap.String("intent", string(env.Intent)),
		zap.Float64("score", env.BondScore),
		zap.String("tier", env.Tier.Name))

	if env.TierUpgraded {
		logger.Info("tier upgraded", zap.String("tier", env.Tier.Name), zap.Float64("score", env.BondScore))
		e.publish(TierUpgrade{
			UserID:    key.UserID,
			PersonaID: key.PersonaID,
			FromTier:  env.PreviousTier,
			ToTier:    env.Tier,
			Message:   env.TierUpMessage,
			At:        e.now(),
		})
	}
	return env, nil
}

// apply performs every step of a message on the working copy r. Any error or
// panic is returned as a stepError so nothing is saved.
func (e *Engine) apply(p *persona.Persona, r *memory.Record, text string, snap CounterSnapshot, logger *zap.Logger) (env *Envelope, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic while processing message", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			env, err = nil, &stepError{err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	now := e.now()
	resolver := p.Resolver()
	prevScore := r.Bond.BondScore
	prevTier := resolver.Resolve(prevScore)

	label := e.detect(p, text, logger)

	profile := r.Profile
	profile.NoteOnline(now)
	profile.NoteIntent(string(label))
	profile.AppendMessage(memory.NewMessage(text, true, now, prevTier.Level, prevScore), e.memory.Limits().History)

	for _, d := range memory.ExtractDetails(text) {
		profile.SetDetail(d.Field, d.Value)
	}
	for _, topic := range intent.Topics(text, p.Topics) {
		profile.AddFavoriteTopic(topic, e.memory.Limits().Topics)
	}
	if cue, ok := p.EmotionalCue(label); ok {
		profile.AddEmotionalMoment(memory.EmotionalMoment{
			Text:        text,
			Emotion:     cue.Emotion,
			Context:     string(label),
			TimestampMs: now.UnixMilli(),
			Importance:  cue.Importance,
		})
		if cue.Importance >= memory.MinRecallImportance {
			profile.AddComfortTopic(string(label))
		}
	}
	if kind, ok := p.Milestone(label); ok {
		profile.MarkMilestone(kind, now)
	}
	if snap.HasPurchased {
		profile.MarkMilestone(memory.FirstPurchase, now)
	}

	r.Bond.Observe(snap.TimeSpentSeconds, snap.ReturnVisits, snap.DaysActive)
	r.Bond.DecayPenalty = p.Decay.Recover(r.Bond.DecayPenalty)
	r.Bond.BondScore = e.score(r)
	r.Bond.TotalInteractions++
	r.Bond.LastInteractionAt = now

	newTier := resolver.Resolve(r.Bond.BondScore)
	upgraded := newTier.Level > prevTier.Level

	offer := p.Upsell().Evaluate(label, profile, r.Bond)

	response := p.Respond(newTier, label, e.rand, e.vars(profile, newTier))
	if recall, ok := e.recall(profile); ok {
		response += " " + recall
	}
	profile.AppendMessage(memory.NewMessage(response, false, now, newTier.Level, r.Bond.BondScore), e.memory.Limits().History)

	env = &Envelope{
		BondScore:    r.Bond.BondScore,
		Tier:         newTier,
		PreviousTier: prevTier,
		TierUpgraded: upgraded,
		Upsell:       offer,
		Intent:       label,
		Response:     response,
	}
	if upgraded {
		env.TierUpMessage = p.TierUpMessage(newTier, e.vars(profile, newTier))
	}
	return env, nil
}

// detect never fails: errors and unknown labels become the fallback intent.
func (e *Engine) detect(p *persona.Persona, text string, logger *zap.Logger) intent.Label {
	label, err := e.detectorFor(p).Detect(text)
	if err != nil {
		logger.Warn("intent detection failed, using fallback", zap.Error(err))
		return p.FallbackIntent()
	}
	if !p.KnownIntent(label) {
		logger.Warn("detector returned unknown intent, using fallback", zap.String("intent", string(label)))
		return p.FallbackIntent()
	}
	return label
}

// counters gathers the score inputs from a record.
func counters(r *memory.Record) bond.Counters {
	_, purchased := r.Profile.Milestones.Reached[memory.FirstPurchase]
	return bond.Counters{
		TotalMessages:        r.Profile.MessageCount,
		TotalTimeSeconds:     r.Bond.TimeSpentSeconds,
		EmotionalMomentCount: len(r.Profile.EmotionalHistory.Moments),
		ReturnVisits:         r.Bond.ReturnVisits,
		PersonalDetailsKnown: r.Profile.KnownDetails(),
		HasPurchased:         purchased,
		DaysActive:           r.Bond.DaysActive,
	}
}

// score is the engagement score minus the decay penalty. The penalty never
// exceeds what it is subtracted from.
func (e *Engine) score(r *memory.Record) float64 {
	base := bond.ComputeScore(counters(r), e.weights)
	if r.Bond.DecayPenalty > base {
		r.Bond.DecayPenalty = base
	}
	return bond.ApplyPenalty(base, r.Bond.DecayPenalty)
}

func (e *Engine) recall(profile *memory.Profile) (string, bool) {
	if e.recallChance <= 0 || e.rand.Float64() >= e.recallChance {
		return "", false
	}
	rc := e.memory.RecallContext()
	start := e.rand.Intn(len(memory.RecallKinds))
	for i := range memory.RecallKinds {
		kind := memory.RecallKinds[(start+i)%len(memory.RecallKinds)]
		if text, ok := profile.Recall(kind, rc); ok {
			return text, true
		}
	}
	return "", false
}

func (e *Engine) vars(profile *memory.Profile, t tier.Tier) map[string]string {
	vars := map[string]string{"tier": t.Name}
	if profile != nil {
		if name := profile.PersonalDetails.Fields[memory.FieldName]; name != "" {
			vars["name"] = name
		}
	}
	return vars
}

func (e *Engine) fill(p *persona.Persona, line string, rec *memory.Record) string {
	var profile *memory.Profile
	score := 0.0
	if rec != nil {
		profile = rec.Profile
		score = rec.Bond.BondScore
	}
	return p.Fill(line, e.vars(profile, p.Resolver().Resolve(score)))
}

// steadyEnvelope describes the committed state with nothing changed.
func (e *Engine) steadyEnvelope(p *persona.Persona, rec *memory.Record) *Envelope {
	return &Envelope{
		Memory:    rec.Profile,
		BondScore: rec.Bond.BondScore,
		Tier:      p.Resolver().Resolve(rec.Bond.BondScore),
		Intent:    p.FallbackIntent(),
	}
}

// fallback is the neutral envelope: committed score and tier, no upsell.
func (e *Engine) fallback(ctx context.Context, p *persona.Persona, key memory.Key, logger *zap.Logger) *Envelope {
	rec, err := e.memory.GetOrCreate(ctx, key.UserID, key.PersonaID)
	if err != nil {
		logger.Warn("failed to load state for fallback", zap.Error(err))
		return e.connectivityEnvelope(p, nil)
	}
	env := e.steadyEnvelope(p, rec)
	env.Fallback = true
	env.Response = e.fill(p, p.NeutralResponse, rec)
	return env
}

func (e *Engine) connectivityEnvelope(p *persona.Persona, rec *memory.Record) *Envelope {
	return &Envelope{
		Tier:     p.Resolver().Resolve(0),
		Intent:   p.FallbackIntent(),
		Response: e.fill(p, p.ConnectivityResponse, rec),
		Fallback: true,
	}
}
