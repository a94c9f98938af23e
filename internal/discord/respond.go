package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Interactor answers interactions over the REST API. *discordgo.Session
// implements it.
type Interactor interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// All command replies are only visible to the invoking user.

func respond(s Interactor, i *discordgo.InteractionCreate, kind discordgo.InteractionResponseType, data *discordgo.InteractionResponseData) {
	data.Flags |= discordgo.MessageFlagsEphemeral
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: kind, Data: data}); err != nil {
		slog.Warn("discord: interaction response failed", "interaction_id", i.ID, "kind", int(kind), "error", err)
	}
}

// RespondEphemeral answers i with text.
func RespondEphemeral(s Interactor, i *discordgo.InteractionCreate, text string) {
	respond(s, i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{Content: text})
}

// RespondEmbed answers i with an embed.
func RespondEmbed(s Interactor, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	respond(s, i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
}

// DeferReply acknowledges i within Discord's three second window. Answer
// later with [FollowUp].
func DeferReply(s Interactor, i *discordgo.InteractionCreate) {
	respond(s, i, discordgo.InteractionResponseDeferredChannelMessageWithSource, &discordgo.InteractionResponseData{})
}

// FollowUp completes a deferred reply.
func FollowUp(s Interactor, i *discordgo.InteractionCreate, text string) {
	params := &discordgo.WebhookParams{Content: text, Flags: discordgo.MessageFlagsEphemeral}
	if _, err := s.FollowupMessageCreate(i.Interaction, true, params); err != nil {
		slog.Warn("discord: follow-up failed", "interaction_id", i.ID, "error", err)
	}
}

// UserID returns the invoking user, from the member in guilds and from the
// user in direct messages.
func UserID(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}
