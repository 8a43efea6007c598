package bot

import (
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// sendSplitMessage sends every paragraph of content as its own message. Only
// the first part of a reply pings the user.
func (h *Handler) sendSplitMessage(s Session, channelID, content string, reference *discordgo.MessageReference) {
	parts := strings.Split(content, "\n\n")

	isFirstPart := true
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var err error
		switch {
		case reference == nil:
			_, err = s.ChannelMessageSend(channelID, part)
		case isFirstPart:
			_, err = s.ChannelMessageSendReply(channelID, part, reference)
			isFirstPart = false
		default:
			_, err = s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
				Content:   part,
				Reference: reference,
				AllowedMentions: &discordgo.MessageAllowedMentions{
					RepliedUser: false,
				},
			})
		}

		if err != nil {
			h.logger.Warn("failed to send message part", zap.String("channel_id", channelID), zap.Error(err))
		}
	}
}
