package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"bondengine/pkg/memory"
	"bondengine/pkg/persona"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ApplyDecay charges inactivity to every persisted pair whose persona decays.
// Pairs are swept in parallel, bounded by the decay worker count. It returns
// how many pairs lost points.
func (e *Engine) ApplyDecay(ctx context.Context, now time.Time) (int, error) {
	keys, err := e.memory.Pairs(ctx)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.decayWorkers)

	var decayed atomic.Int64
	for _, key := range keys {
		p, ok := e.personas.Get(key.PersonaID)
		if !ok || !p.Decay.Enabled() {
			continue
		}
		g.Go(func() error {
			changed, err := e.decayPair(gctx, p, key, now)
			if err != nil {
				return err
			}
			if changed {
				decayed.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	return int(decayed.Load()), err
}

func (e *Engine) decayPair(ctx context.Context, p *persona.Persona, key memory.Key, now time.Time) (bool, error) {
	logger := e.logger.With(zap.String("user_id", key.UserID), zap.String("persona_id", key.PersonaID))
	resolver := p.Resolver()

	var before, after float64
	_, err := e.memory.Update(ctx, key.UserID, key.PersonaID, func(r *memory.Record) error {
		before = r.Bond.BondScore
		t := resolver.Resolve(before)
		pts := p.Decay.DecayPenalty(t.Name, r.Bond.LastInteractionAt, r.Bond.LastDecayAt, now)
		if pts <= 0 {
			return errUnchanged
		}
		r.Bond.DecayPenalty += pts
		r.Bond.LastDecayAt = now
		r.Bond.BondScore = e.score(r)
		after = r.Bond.BondScore
		return nil
	})

	// Swept pairs without a live worker should not stay cached.
	defer func() {
		if !e.hasWorker(key) {
			e.memory.Unload(key.UserID, key.PersonaID)
		}
	}()

	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		logger.Error("failed to decay pair", zap.Error(err))
		return false, err
	}

	from, to := resolver.Resolve(before), resolver.Resolve(after)
	if to.Level < from.Level {
		logger.Info("tier lowered by inactivity", zap.String("tier", to.Name), zap.Float64("score", after))
	} else {
		logger.Debug("decayed", zap.Float64("score", after))
	}
	return after < before, nil
}

func (e *Engine) hasWorker(key memory.Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.workers[key]
	return ok
}

// RunDecayLoop sweeps every interval until ctx is done.
func (e *Engine) RunDecayLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.ApplyDecay(ctx, e.now())
			if err != nil {
				e.logger.Warn("decay sweep incomplete", zap.Int("decayed", n), zap.Error(err))
				continue
			}
			e.logger.Debug("decay sweep done", zap.Int("decayed", n))
		}
	}
}
