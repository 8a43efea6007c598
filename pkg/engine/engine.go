// Package engine turns chat messages into bond progress. Every message for a
// (user, persona) pair runs through that pair's own queue, so updates for one
// pair never interleave while distinct pairs proceed in parallel.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bondengine/pkg/bond"
	"bondengine/pkg/chance"
	"bondengine/pkg/intent"
	"bondengine/pkg/memory"
	"bondengine/pkg/persona"
	"bondengine/pkg/tier"
	"bondengine/pkg/upsell"

	"go.uber.org/zap"
)

// CounterSnapshot carries the host-side totals for a pair. Values are
// cumulative; a lower value than one already seen is ignored.
type CounterSnapshot struct {
	TimeSpentSeconds int
	ReturnVisits     int
	HasPurchased     bool
	DaysActive       int
}

// Envelope is the result of one processed message.
type Envelope struct {
	Memory        *memory.Profile
	BondScore     float64
	Tier          tier.Tier
	PreviousTier  tier.Tier
	TierUpgraded  bool
	Upsell        *upsell.Offer
	Intent        intent.Label
	Response      string
	TierUpMessage string
	// Fallback is set when processing failed and nothing was committed.
	Fallback bool
}

// TierUpgrade is published whenever a pair moves to a higher tier. Delivery is
// at-least-once; hosts should treat repeats as harmless.
type TierUpgrade struct {
	UserID    string
	PersonaID string
	FromTier  tier.Tier
	ToTier    tier.Tier
	Message   string
	At        time.Time
}

// Engine is the bond orchestrator. Create one per process with New.
type Engine struct {
	personas *persona.Registry
	memory   *memory.Service
	logger   *zap.Logger

	weights      bond.Weights
	recallChance float64
	queueSize    int
	idleTimeout  time.Duration
	saveTimeout  time.Duration
	decayWorkers int
	rand         chance.Source
	now          func() time.Time
	detectorFor  func(*persona.Persona) intent.Detector

	mu      sync.Mutex
	workers map[memory.Key]*worker
	closed  bool
	quit    chan struct{}
	wg      sync.WaitGroup

	subsMu  sync.RWMutex
	subs    map[int]chan TierUpgrade
	nextSub int
}

type Option func(*Engine)

func WithWeights(w bond.Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithRecallChance sets how often a response is followed by a memory recall.
func WithRecallChance(p float64) Option {
	return func(e *Engine) { e.recallChance = p }
}

func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithIdleTimeout sets how long a pair's worker waits for work before it
// exits and unloads the pair.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.idleTimeout = d
		}
	}
}

func WithSaveTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.saveTimeout = d
		}
	}
}

func WithDecayWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.decayWorkers = n
		}
	}
}

// WithRand seeds response selection.
func WithRand(src chance.Source) Option {
	return func(e *Engine) { e.rand = src }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDetectorFor replaces the persona's own intent detector.
func WithDetectorFor(fn func(*persona.Persona) intent.Detector) Option {
	return func(e *Engine) { e.detectorFor = fn }
}

func New(personas *persona.Registry, mem *memory.Service, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		personas:     personas,
		memory:       mem,
		logger:       logger,
		weights:      bond.DefaultWeights(),
		recallChance: 0.25,
		queueSize:    16,
		idleTimeout:  time.Minute,
		saveTimeout:  5 * time.Second,
		decayWorkers: 4,
		rand:         chance.New(0),
		now:          time.Now,
		detectorFor:  (*persona.Persona).Detector,
		workers:      make(map[memory.Key]*worker),
		quit:         make(chan struct{}),
		subs:         make(map[int]chan TierUpgrade),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is what Submit eventually delivers.
type Result struct {
	Envelope *Envelope
	Err      error
}

type job struct {
	persona *persona.Persona
	key     memory.Key
	text    string
	snap    CounterSnapshot
	ctx     context.Context
	result  chan Result
}

type worker struct {
	jobs    chan job
	pending int
}

func (e *Engine) lookup(userID, personaID string) (*persona.Persona, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidInput)
	}
	if strings.TrimSpace(personaID) == "" {
		return nil, fmt.Errorf("%w: missing persona id", ErrInvalidInput)
	}
	p, ok := e.personas.Get(personaID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown persona %q", ErrInvalidInput, personaID)
	}
	return p, nil
}

// ProcessMessage runs one user message through the pair's queue and waits for
// the envelope. A failed save returns ErrPersistence together with the
// fallback envelope; other internal failures return the fallback envelope and
// no error.
func (e *Engine) ProcessMessage(ctx context.Context, userID, personaID, rawText string, snap CounterSnapshot) (*Envelope, error) {
	ch, err := e.Submit(ctx, userID, personaID, rawText, snap)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.Envelope, res.Err
	case <-ctx.Done():
		// The message still runs to completion; only the wait is abandoned.
		return nil, ctx.Err()
	}
}

// Submit queues a message behind earlier messages of the same pair and returns
// a channel that receives exactly one Result. Submit blocks only while the
// pair's queue is full.
func (e *Engine) Submit(ctx context.Context, userID, personaID, rawText string, snap CounterSnapshot) (<-chan Result, error) {
	p, err := e.lookup(userID, personaID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := memory.Key{UserID: userID, PersonaID: personaID}
	j := job{
		persona: p,
		key:     key,
		text:    rawText,
		snap:    snap,
		ctx:     context.WithoutCancel(ctx),
		result:  make(chan Result, 1),
	}

	w, err := e.acquire(key)
	if err != nil {
		return nil, err
	}

	select {
	case w.jobs <- j:
		return j.result, nil
	case <-ctx.Done():
		e.release(key, w)
		return nil, ctx.Err()
	case <-e.quit:
		e.release(key, w)
		return nil, ErrClosed
	}
}

// acquire returns the pair's worker, starting one if needed, and reserves a
// slot so the worker does not exit before the job arrives.
func (e *Engine) acquire(key memory.Key) (*worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	w, ok := e.workers[key]
	if !ok {
		w = &worker{jobs: make(chan job, e.queueSize)}
		e.workers[key] = w
		e.wg.Add(1)
		go e.run(key, w)
	}
	w.pending++
	return w, nil
}

func (e *Engine) release(key memory.Key, w *worker) {
	e.mu.Lock()
	w.pending--
	e.mu.Unlock()
}

// run drains one pair's queue in order.
func (e *Engine) run(key memory.Key, w *worker) {
	defer e.wg.Done()

	idle := time.NewTimer(e.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case j := <-w.jobs:
			e.handle(j)
			e.release(key, w)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.idleTimeout)

		case <-idle.C:
			if e.retire(key, w) {
				return
			}
			idle.Reset(e.idleTimeout)

		case <-e.quit:
			e.drain(key, w)
			return
		}
	}
}

// drain finishes every job already reserved for w. A Submit racing Close
// either delivers its job or releases its slot, so pending reaches zero.
func (e *Engine) drain(key memory.Key, w *worker) {
	for {
		select {
		case j := <-w.jobs:
			e.handle(j)
			e.release(key, w)
		case <-time.After(5 * time.Millisecond):
			e.mu.Lock()
			done := w.pending == 0 && len(w.jobs) == 0
			if done {
				delete(e.workers, key)
			}
			e.mu.Unlock()
			if done {
				return
			}
		}
	}
}

// retire removes an idle worker and unloads its pair. It fails when a job was
// reserved in the meantime.
func (e *Engine) retire(key memory.Key, w *worker) bool {
	e.mu.Lock()
	if w.pending > 0 {
		e.mu.Unlock()
		return false
	}
	delete(e.workers, key)
	e.mu.Unlock()

	e.memory.Unload(key.UserID, key.PersonaID)
	e.logger.Debug("pair idle, unloaded",
		zap.String("user_id", key.UserID),
		zap.String("persona_id", key.PersonaID))
	return true
}

// ActivePairs returns how many pairs currently have a worker.
func (e *Engine) ActivePairs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// Subscribe returns a channel of tier upgrades and a function that stops the
// subscription. A subscriber that falls behind misses events rather than
// slowing the engine down.
func (e *Engine) Subscribe() (<-chan TierUpgrade, func()) {
	ch := make(chan TierUpgrade, 16)

	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			if _, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(ch)
			}
			e.subsMu.Unlock()
		})
	}
}

func (e *Engine) publish(ev TierUpgrade) {
	e.subsMu.RLock()
	defer e.subsMu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.logger.Warn("tier upgrade subscriber is full, dropping event",
				zap.String("user_id", ev.UserID),
				zap.String("persona_id", ev.PersonaID),
				zap.String("tier", ev.ToTier.Name))
		}
	}
}

// Close stops accepting messages, finishes queued ones and closes every
// subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.quit)
	e.mu.Unlock()

	e.wg.Wait()

	e.subsMu.Lock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.subsMu.Unlock()
}
