// Package bot is the Discord host of the bond engine. It routes direct
// messages and mentions to the engine, replies in the persona's voice and
// celebrates tier upgrades.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bondengine/pkg/engine"
	"bondengine/pkg/memory"
	"bondengine/pkg/retry"
	"bondengine/pkg/upsell"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Options struct {
	DefaultPersona   string
	CommandPrefix    string
	MaxMessageLength int
	// SessionGap is how long a user can stay quiet before the visit ends.
	SessionGap time.Duration
	Retry      retry.Config
	Now        func() time.Time
}

type Handler struct {
	engine   BondEngine
	personas Personas
	opts     Options
	logger   *zap.Logger
	botID    atomic.Pointer[string]
	tracker  *tracker

	choiceMu sync.RWMutex
	choice   map[string]string

	offersMu sync.Mutex
	offers   map[memory.Key]upsell.Offer
}

func NewHandler(eng BondEngine, personas Personas, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "!"
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 500
	}
	if opts.SessionGap <= 0 {
		opts.SessionGap = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Retry.ShouldRetry = engine.IsRetryable
	opts.Retry.Logger = logger

	return &Handler{
		engine:   eng,
		personas: personas,
		opts:     opts,
		logger:   logger,
		tracker:  newTracker(opts.SessionGap),
		choice:   make(map[string]string),
		offers:   make(map[memory.Key]upsell.Offer),
	}
}

// SetBotID may be called from the gateway's Ready handler while messages are
// already being handled.
func (h *Handler) SetBotID(id string) {
	h.botID.Store(&id)
}

func (h *Handler) selfID() string {
	if id := h.botID.Load(); id != nil {
		return *id
	}
	return ""
}

// personaFor returns the persona the user talks to.
func (h *Handler) personaFor(userID string) string {
	h.choiceMu.RLock()
	defer h.choiceMu.RUnlock()
	if id, ok := h.choice[userID]; ok {
		return id
	}
	return h.opts.DefaultPersona
}

func (h *Handler) choosePersona(userID, personaID string) {
	h.choiceMu.Lock()
	h.choice[userID] = personaID
	h.choiceMu.Unlock()
}

func (h *Handler) MessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	h.HandleMessage(&DiscordSession{s}, m)
}

func (h *Handler) HandleMessage(s Session, m *discordgo.MessageCreate) {
	botID := h.selfID()
	if m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return
	}

	channel, err := s.Channel(m.ChannelID)
	isDM := err == nil && channel.Type == discordgo.ChannelTypeDM

	isMentioned := false
	for _, user := range m.Mentions {
		if user.ID == botID {
			isMentioned = true
			break
		}
	}

	// Guild chatter is only answered when the bot is addressed
	if !isDM && !isMentioned {
		return
	}

	content := stripMention(m.Content, botID)
	if len(content) > h.opts.MaxMessageLength {
		s.ChannelMessageSendReply(m.ChannelID, "...", m.Reference())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if name, arg, ok := h.parseCommand(content); ok {
		reply := h.runCommand(ctx, m.Author.ID, name, arg)
		h.sendSplitMessage(s, m.ChannelID, reply, m.Reference())
		return
	}

	personaID := h.personaFor(m.Author.ID)
	key := memory.Key{UserID: m.Author.ID, PersonaID: personaID}
	logger := h.logger.With(zap.String("user_id", key.UserID), zap.String("persona_id", key.PersonaID))

	if !h.tracker.known(key) {
		if st, err := h.engine.Snapshot(ctx, key.UserID, key.PersonaID); err == nil {
			h.tracker.seed(key, st.Bond)
		} else {
			logger.Warn("failed to load bond for activity tracking", zap.Error(err))
		}
	}
	snap, ended := h.tracker.touch(key, m.ChannelID, h.opts.Now())
	if ended != nil {
		h.endSession(ctx, *ended)
	}

	s.ChannelTyping(m.ChannelID)

	var env *engine.Envelope
	err = retry.Do(ctx, h.opts.Retry, func() error {
		var err error
		env, err = h.engine.ProcessMessage(ctx, key.UserID, key.PersonaID, content, snap)
		return err
	})
	if err != nil {
		logger.Error("failed to process message", zap.Error(err))
		// The fallback envelope carries the persona's connectivity line.
		if env != nil && env.Response != "" {
			h.sendSplitMessage(s, m.ChannelID, env.Response, m.Reference())
		}
		return
	}

	h.sendSplitMessage(s, m.ChannelID, env.Response, m.Reference())

	if env.Upsell != nil {
		h.offersMu.Lock()
		h.offers[key] = *env.Upsell
		h.offersMu.Unlock()
		h.sendSplitMessage(s, m.ChannelID, h.formatOffer(*env.Upsell), nil)
	}
}

// stripMention removes the bot's own mention from the message text.
func stripMention(content, botID string) string {
	if botID != "" {
		content = strings.ReplaceAll(content, "<@"+botID+">", "")
		content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	}
	return strings.TrimSpace(content)
}

func (h *Handler) formatOffer(o upsell.Offer) string {
	return fmt.Sprintf("🎁 %s\n`%s%s` for $%.2f", o.Message, h.opts.CommandPrefix, cmdUnlock, o.Price)
}

func (h *Handler) endSession(ctx context.Context, s endedSession) {
	seconds := int64(s.length / time.Second)
	if seconds <= 0 {
		return
	}
	err := h.engine.EndSession(ctx, s.key.UserID, s.key.PersonaID, seconds)
	if err != nil && !errors.Is(err, engine.ErrInvalidInput) {
		h.logger.Warn("failed to record session",
			zap.String("user_id", s.key.UserID),
			zap.String("persona_id", s.key.PersonaID),
			zap.Error(err))
	}
}

// Start subscribes to tier upgrades and, in the background, celebrates them
// and closes idle sessions until ctx is done. The returned function waits for
// the background loop to exit.
func (h *Handler) Start(ctx context.Context, s Session, sweepEvery time.Duration) (wait func()) {
	events, cancel := h.engine.Subscribe()
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		h.loop(ctx, s, events, sweepEvery)
	}()
	return func() { <-done }
}

func (h *Handler) loop(ctx context.Context, s Session, events <-chan engine.TierUpgrade, sweepEvery time.Duration) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.celebrate(s, ev)
		case <-ticker.C:
			for _, ended := range h.tracker.expire(h.opts.Now()) {
				h.endSession(ctx, ended)
			}
		}
	}
}

// celebrate posts the tier-up line where the user last talked, or in a DM.
func (h *Handler) celebrate(s Session, ev engine.TierUpgrade) {
	key := memory.Key{UserID: ev.UserID, PersonaID: ev.PersonaID}
	channelID, ok := h.tracker.channel(key)
	if !ok {
		dm, err := s.UserChannelCreate(ev.UserID)
		if err != nil {
			h.logger.Warn("failed to open DM for tier upgrade", zap.String("user_id", ev.UserID), zap.Error(err))
			return
		}
		channelID = dm.ID
	}

	msg := ev.Message
	if msg == "" {
		msg = fmt.Sprintf("%s You're now **%s**!", ev.ToTier.Emoji, ev.ToTier.Name)
	}
	if _, err := s.ChannelMessageSend(channelID, "🎉 "+msg); err != nil {
		h.logger.Warn("failed to send tier upgrade", zap.String("user_id", ev.UserID), zap.Error(err))
	}
}
