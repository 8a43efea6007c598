package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bondengine/pkg/chance"
	"bondengine/pkg/engine"
	"bondengine/pkg/intent"
	"bondengine/pkg/memory"
	"bondengine/pkg/persona"
	"bondengine/pkg/retry"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	ChannelID string
	Content   string
}

// MockSession implements Session for testing
type MockSession struct {
	mu           sync.Mutex
	SentMessages []sentMessage
	Responses    []*discordgo.InteractionResponse
	TypingCalls  int
	ChannelType  discordgo.ChannelType
}

func (m *MockSession) record(channelID, content string) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = append(m.SentMessages, sentMessage{ChannelID: channelID, Content: content})
	return &discordgo.Message{ID: "mock_msg_id", ChannelID: channelID, Content: content}, nil
}

func (m *MockSession) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.record(channelID, content)
}

func (m *MockSession) ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.record(channelID, content)
}

func (m *MockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.record(channelID, data.Content)
}

func (m *MockSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	m.TypingCalls++
	m.mu.Unlock()
	return nil
}

func (m *MockSession) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	channelType := m.ChannelType
	if channelType == 0 {
		channelType = discordgo.ChannelTypeGuildText
	}
	return &discordgo.Channel{ID: channelID, Type: channelType}, nil
}

func (m *MockSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm_" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (m *MockSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	m.Responses = append(m.Responses, resp)
	m.mu.Unlock()
	return nil
}

func (m *MockSession) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.SentMessages))
	for i, s := range m.SentMessages {
		out[i] = s.Content
	}
	return out
}

func (m *MockSession) Last() string {
	sent := m.Sent()
	if len(sent) == 0 {
		return ""
	}
	return sent[len(sent)-1]
}

var errSaveFailed = errors.New("connection reset")

// flakyStore fails the next failNext saves.
type flakyStore struct {
	*memory.InMemoryStore
	failNext atomic.Int32
}

func (s *flakyStore) Save(ctx context.Context, rec *memory.Record) error {
	if s.failNext.Load() > 0 {
		s.failNext.Add(-1)
		return errSaveFailed
	}
	return s.InMemoryStore.Save(ctx, rec)
}

type fixture struct {
	handler  *Handler
	engine   *engine.Engine
	personas *persona.Registry
	store    *flakyStore
	session  *MockSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	set, err := persona.Embedded(persona.Options{})
	require.NoError(t, err)
	registry := persona.NewRegistry(set)

	store := &flakyStore{InMemoryStore: memory.NewInMemoryStore()}
	mem := memory.NewService(store, nil)
	eng := engine.New(registry, mem, nil, engine.WithRand(chance.New(1)), engine.WithRecallChance(0))
	t.Cleanup(eng.Close)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHandler(eng, registry, Options{
		DefaultPersona: "bonnie",
		Retry:          retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Now:            func() time.Time { return now },
	}, nil)
	h.SetBotID("bot")

	return &fixture{
		handler:  h,
		engine:   eng,
		personas: registry,
		store:    store,
		session:  &MockSession{ChannelType: discordgo.ChannelTypeDM},
	}
}

func (f *fixture) send(content string) {
	f.handler.HandleMessage(f.session, message("u1", content))
}

func message(userID, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   content,
		Author:    &discordgo.User{ID: userID, Username: "TestUser"},
	}}
}

func (f *fixture) status(t *testing.T, personaID string) *engine.Status {
	t.Helper()
	st, err := f.engine.Snapshot(context.Background(), "u1", personaID)
	require.NoError(t, err)
	return st
}

func TestHandleMessage_DirectMessage(t *testing.T) {
	f := newFixture(t)
	bonnie, _ := f.personas.Get("bonnie")

	f.send("what are you up to?")

	require.Len(t, f.session.Sent(), 1)
	var replies []string
	for _, c := range bonnie.ResponseCandidates(bonnie.Resolver().Resolve(0), intent.Casual) {
		replies = append(replies, bonnie.Fill(c, nil))
	}
	assert.Contains(t, replies, f.session.Last())
	assert.Equal(t, 1, f.session.TypingCalls)
	assert.Equal(t, 1, f.status(t, "bonnie").Profile.MessageCount)
}

func TestHandleMessage_GuildNeedsMention(t *testing.T) {
	f := newFixture(t)
	f.session.ChannelType = discordgo.ChannelTypeGuildText

	f.send("just chatting with friends")
	assert.Empty(t, f.session.Sent())

	m := message("u1", "<@bot> hi there")
	m.Mentions = []*discordgo.User{{ID: "bot"}}
	f.handler.HandleMessage(f.session, m)
	require.Len(t, f.session.Sent(), 1)

	history := f.status(t, "bonnie").Profile.ConversationHistory
	require.NotEmpty(t, history)
	assert.Equal(t, "hi there", history[0].Text)
}

func TestHandleMessage_Ignored(t *testing.T) {
	f := newFixture(t)

	f.handler.HandleMessage(f.session, message("bot", "talking to myself"))
	m := message("u2", "beep")
	m.Author.Bot = true
	f.handler.HandleMessage(f.session, m)

	assert.Empty(t, f.session.Sent())
}

func TestHandleMessage_BotIDSetConcurrently(t *testing.T) {
	f := newFixture(t)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				f.handler.SetBotID("bot")
			}
		}
	}()

	for i := 0; i < 5; i++ {
		f.send("what are you up to?")
	}
	f.handler.HandleMessage(f.session, message("bot", "talking to myself"))
	close(done)
	wg.Wait()

	assert.GreaterOrEqual(t, len(f.session.Sent()), 5)
	assert.Equal(t, 5, f.status(t, "bonnie").Profile.MessageCount)
}

func TestHandleMessage_TooLong(t *testing.T) {
	f := newFixture(t)
	f.send(strings.Repeat("a", 501))
	assert.Equal(t, []string{"..."}, f.session.Sent())
	assert.Zero(t, f.status(t, "bonnie").Profile.MessageCount)
}

func TestHandleMessage_RetriesPersistence(t *testing.T) {
	f := newFixture(t)
	bonnie, _ := f.personas.Get("bonnie")

	f.send("what are you up to?")
	f.store.failNext.Store(1)
	f.send("tell me about your day")

	require.Len(t, f.session.Sent(), 2)
	assert.NotEqual(t, bonnie.ConnectivityResponse, f.session.Last())
	assert.Equal(t, 2, f.status(t, "bonnie").Profile.MessageCount)
}

func TestHandleMessage_ConnectivityLineAfterRetries(t *testing.T) {
	f := newFixture(t)
	bonnie, _ := f.personas.Get("bonnie")

	f.send("what are you up to?")
	f.store.failNext.Store(3)
	f.send("tell me about your day")

	assert.Equal(t, bonnie.ConnectivityResponse, f.session.Last())
	assert.Equal(t, 1, f.status(t, "bonnie").Profile.MessageCount)
}

func TestCommands(t *testing.T) {
	f := newFixture(t)

	f.send("!bond")
	assert.Contains(t, f.session.Last(), "You & Bonnie")
	assert.Contains(t, f.session.Last(), "stranger")

	f.send("!persona")
	assert.Contains(t, f.session.Last(), "➜ `bonnie` Bonnie")
	assert.Contains(t, f.session.Last(), "`nova`")
	assert.Contains(t, f.session.Last(), "`galatea`")

	f.send("!persona nobody")
	assert.Contains(t, f.session.Last(), "nobody")

	f.send("!persona nova")
	assert.Contains(t, f.session.Last(), "Nova")
	f.send("hello there")
	assert.Equal(t, 1, f.status(t, "nova").Profile.MessageCount)
	assert.Zero(t, f.status(t, "bonnie").Profile.MessageCount)

	f.send("!unlock")
	assert.Equal(t, "There's nothing to unlock right now.", f.session.Last())

	// Unknown commands are ordinary messages.
	f.send("!dance")
	assert.Equal(t, 2, f.status(t, "nova").Profile.MessageCount)
}

func TestMemoryCommand(t *testing.T) {
	f := newFixture(t)

	f.send("!memory")
	assert.Contains(t, f.session.Last(), "Not much yet")

	f.send("my name is Sam")
	f.send("!memory")
	assert.Contains(t, f.session.Last(), "Sam")
	assert.Contains(t, f.session.Last(), "1 messages so far")
}

func TestUpsellUnlockCelebrates(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	wait := f.handler.Start(ctx, f.session, time.Hour)
	t.Cleanup(func() {
		cancel()
		wait()
	})

	for _, msg := range []string{"one", "two", "three", "four"} {
		f.send(msg)
	}
	f.send("can i get a voice note?")
	assert.Contains(t, f.session.Last(), "I recorded a little voice note for you, sweetie")
	assert.Contains(t, f.session.Last(), "!unlock")

	f.send("!unlock")
	assert.Equal(t, "Unlocked your voice! 💝", f.session.Last())

	st := f.status(t, "bonnie")
	assert.InDelta(t, 4.99, st.Profile.BehavioralInsights.SpendingPatterns["voice"], 1e-9)
	assert.Equal(t, "acquaintance", st.Tier.Name)

	assert.Eventually(t, func() bool {
		for _, m := range f.session.Sent() {
			if m == "🎉 Hey, I think we're starting to get to know each other, sweetie! 🙂" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestHandleInteraction(t *testing.T) {
	f := newFixture(t)

	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "u1"},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: cmdPersona,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "id", Type: discordgo.ApplicationCommandOptionString, Value: "galatea"},
			},
		},
	}}
	f.handler.HandleInteraction(f.session, i)

	require.Len(t, f.session.Responses, 1)
	resp := f.session.Responses[0]
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Contains(t, resp.Data.Content, "Galatea")
	assert.Equal(t, "galatea", f.handler.personaFor("u1"))
}
