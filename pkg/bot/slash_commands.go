package bot

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"bondengine/pkg/memory"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	cmdBond    = "bond"
	cmdPersona = "persona"
	cmdMemory  = "memory"
	cmdUnlock  = "unlock"
)

// SlashCommands defines all available slash commands. Each one also works as
// a text command behind the configured prefix.
var SlashCommands = []*discordgo.ApplicationCommand{
	{
		Name:        cmdBond,
		Description: "Show your bond with the persona you are talking to",
	},
	{
		Name:        cmdPersona,
		Description: "List the personas or switch to another one",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "id",
				Description: "Persona to talk to",
				Required:    false,
			},
		},
	},
	{
		Name:        cmdMemory,
		Description: "See what the persona remembers about you",
	},
	{
		Name:        cmdUnlock,
		Description: "Accept the last offer you received",
	},
}

type commandFunc func(h *Handler, ctx context.Context, userID, arg string) string

var commandHandlers = map[string]commandFunc{
	cmdBond:    handleBondCommand,
	cmdPersona: handlePersonaCommand,
	cmdMemory:  handleMemoryCommand,
	cmdUnlock:  handleUnlockCommand,
}

// parseCommand splits "!persona nova" into its name and argument.
func (h *Handler) parseCommand(content string) (name, arg string, ok bool) {
	rest, found := strings.CutPrefix(content, h.opts.CommandPrefix)
	if !found {
		return "", "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", false
	}
	name = strings.ToLower(fields[0])
	if _, known := commandHandlers[name]; !known {
		return "", "", false
	}
	return name, strings.Join(fields[1:], " "), true
}

func (h *Handler) runCommand(ctx context.Context, userID, name, arg string) string {
	run, ok := commandHandlers[name]
	if !ok {
		return "I don't know that one."
	}
	return run(h, ctx, userID, arg)
}

func handleBondCommand(h *Handler, ctx context.Context, userID, _ string) string {
	st, err := h.engine.Snapshot(ctx, userID, h.personaFor(userID))
	if err != nil {
		h.logger.Warn("failed to load bond", zap.String("user_id", userID), zap.Error(err))
		return "I can't feel our bond right now... try again in a bit?"
	}
	return fmt.Sprintf("**You & %s**\n%s", st.PersonaName, st.Card)
}

func handlePersonaCommand(h *Handler, _ context.Context, userID, arg string) string {
	ids := h.personas.IDs()
	arg = strings.ToLower(strings.TrimSpace(arg))
	current := h.personaFor(userID)

	if arg == "" {
		var lines []string
		for _, id := range ids {
			p, _ := h.personas.Get(id)
			marker := "•"
			if id == current {
				marker = "➜"
			}
			lines = append(lines, fmt.Sprintf("%s `%s` %s", marker, id, p.DisplayName))
		}
		return "**Personas**\n" + strings.Join(lines, "\n")
	}

	if !slices.Contains(ids, arg) {
		return fmt.Sprintf("There's nobody called `%s` here. Try one of: %s", arg, strings.Join(ids, ", "))
	}
	h.choosePersona(userID, arg)
	p, _ := h.personas.Get(arg)
	return fmt.Sprintf("You're now talking to **%s**.", p.DisplayName)
}

func handleMemoryCommand(h *Handler, ctx context.Context, userID, _ string) string {
	st, err := h.engine.Snapshot(ctx, userID, h.personaFor(userID))
	if err != nil {
		h.logger.Warn("failed to load memory", zap.String("user_id", userID), zap.Error(err))
		return "Error fetching memories."
	}

	content := fmt.Sprintf("**🧠 What %s remembers**\n\n", st.PersonaName)
	details := st.Profile.PersonalCandidates()
	moments := st.Profile.MilestoneCandidates()
	if len(details) == 0 && len(moments) == 0 {
		return content + "_Not much yet! Tell me about yourself._"
	}
	for _, d := range details {
		content += "• " + d + "\n"
	}
	for _, m := range moments {
		content += "• " + m + "\n"
	}
	if n := st.Profile.MessageCount; n > 0 {
		content += fmt.Sprintf("\n_%d messages so far._", n)
	}
	return content
}

func handleUnlockCommand(h *Handler, ctx context.Context, userID, _ string) string {
	key := memory.Key{UserID: userID, PersonaID: h.personaFor(userID)}

	h.offersMu.Lock()
	offer, ok := h.offers[key]
	delete(h.offers, key)
	h.offersMu.Unlock()
	if !ok {
		return "There's nothing to unlock right now."
	}

	if _, err := h.engine.RecordPurchase(ctx, key.UserID, key.PersonaID, offer.Type, offer.Price); err != nil {
		h.logger.Error("failed to record purchase",
			zap.String("user_id", key.UserID),
			zap.String("persona_id", key.PersonaID),
			zap.Error(err))
		h.offersMu.Lock()
		h.offers[key] = offer
		h.offersMu.Unlock()
		return "Something went wrong, you weren't charged. Try again?"
	}
	if tier, ok := offer.PremiumTier(); ok {
		return fmt.Sprintf("Unlocked **%s**! 💖", tier)
	}
	return fmt.Sprintf("Unlocked your %s! 💝", offer.Type)
}

// getUserFromInteraction handles both guild (Member) and DM (User) contexts
func getUserFromInteraction(i *discordgo.InteractionCreate) (string, error) {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID, nil
	}
	if i.User != nil {
		return i.User.ID, nil
	}
	return "", fmt.Errorf("could not determine user from interaction")
}

// InteractionCreate handles all slash command interactions
func (h *Handler) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.HandleInteraction(&DiscordSession{s}, i)
}

func (h *Handler) HandleInteraction(s Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	userID, err := getUserFromInteraction(i)
	if err != nil {
		h.logger.Warn("slash command without user", zap.String("command", data.Name))
		return
	}

	var arg string
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			arg = opt.StringValue()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: h.runCommand(ctx, userID, data.Name, arg),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		h.logger.Warn("failed to respond to slash command", zap.String("command", data.Name), zap.Error(err))
	}
}

// RegisterSlashCommands registers all slash commands with Discord. An empty
// guildID registers them globally.
func RegisterSlashCommands(s *discordgo.Session, guildID string, logger *zap.Logger) ([]*discordgo.ApplicationCommand, error) {
	registered := make([]*discordgo.ApplicationCommand, 0, len(SlashCommands))
	for _, cmd := range SlashCommands {
		rc, err := s.ApplicationCommandCreate(s.State.User.ID, guildID, cmd)
		if err != nil {
			return registered, fmt.Errorf("cannot create %q command: %w", cmd.Name, err)
		}
		registered = append(registered, rc)
		logger.Debug("registered command", zap.String("command", cmd.Name))
	}
	return registered, nil
}

func UnregisterSlashCommands(s *discordgo.Session, guildID string, commands []*discordgo.ApplicationCommand) error {
	for _, cmd := range commands {
		if err := s.ApplicationCommandDelete(s.State.User.ID, guildID, cmd.ID); err != nil {
			return fmt.Errorf("cannot delete %q command: %w", cmd.Name, err)
		}
	}
	return nil
}
