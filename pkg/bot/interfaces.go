package bot

import (
	"context"

	"bondengine/pkg/engine"
	"bondengine/pkg/persona"

	"github.com/bwmarrin/discordgo"
)

// Session abstracts discordgo.Session for testing
type Session interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) (err error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// DiscordSession adapts discordgo.Session to the Session interface
type DiscordSession struct {
	*discordgo.Session
}

// BondEngine is the part of engine.Engine the host drives.
type BondEngine interface {
	ProcessMessage(ctx context.Context, userID, personaID, rawText string, snap engine.CounterSnapshot) (*engine.Envelope, error)
	Snapshot(ctx context.Context, userID, personaID string) (*engine.Status, error)
	EndSession(ctx context.Context, userID, personaID string, seconds int64) error
	RecordPurchase(ctx context.Context, userID, personaID, kind string, amount float64) (*engine.Status, error)
	Subscribe() (<-chan engine.TierUpgrade, func())
}

// Personas lists the personas a user can pick from.
type Personas interface {
	Get(id string) (*persona.Persona, bool)
	IDs() []string
}
