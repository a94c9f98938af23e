package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scribe/internal/discord/mock"
)

func commandInteraction(name string, sub string) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{{
			Name: sub,
			Type: discordgo.ApplicationCommandOptionSubCommand,
		}}
	}
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Data: data,
	}}
}

func TestCommandRouter_Definitions(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	r.Define(&discordgo.ApplicationCommand{Name: "scribe", Description: "old"})
	r.Define(&discordgo.ApplicationCommand{Name: "archive"})
	r.Define(&discordgo.ApplicationCommand{Name: "scribe", Description: "new"})

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("definitions = %d, want 2", len(defs))
	}
	if defs[0].Name != "archive" || defs[1].Name != "scribe" {
		t.Errorf("order = %s, %s", defs[0].Name, defs[1].Name)
	}
	if defs[1].Description != "new" {
		t.Errorf("redefinition not applied: %q", defs[1].Description)
	}
}

func TestCommandRouter_Dispatch(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	var got []string
	route := func(path string) {
		r.Route(path, func(Interactor, *discordgo.InteractionCreate) { got = append(got, path) })
	}
	route("scribe")
	route("scribe/pause")

	resp := &mock.Responder{}
	r.Dispatch(resp, commandInteraction("scribe", "pause"))
	r.Dispatch(resp, commandInteraction("scribe", ""))

	if len(got) != 2 || got[0] != "scribe/pause" || got[1] != "scribe" {
		t.Fatalf("dispatched = %v", got)
	}
	if len(resp.Responses) != 0 {
		t.Errorf("router answered by itself: %v", resp.Responses)
	}
}

func TestCommandRouter_DispatchUnrouted(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	r.Route("scribe", func(Interactor, *discordgo.InteractionCreate) { t.Error("wrong handler") })
	resp := &mock.Responder{}
	r.Dispatch(resp, commandInteraction("scribe", "rewind"))

	if got := resp.LastText(); got != "Unknown command." {
		t.Fatalf("response = %q", got)
	}
	if resp.LastResponse().Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Error("expected ephemeral response")
	}
}

func TestCommandRouter_IgnoresComponents(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	resp := &mock.Responder{}
	r.Dispatch(resp, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionMessageComponent,
	}})
	if len(resp.Responses) != 0 {
		t.Fatalf("expected no response, got %d", len(resp.Responses))
	}
}

func TestCommandPath(t *testing.T) {
	t.Parallel()

	data := discordgo.ApplicationCommandInteractionData{
		Name: "scribe",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel},
			{Name: "start", Type: discordgo.ApplicationCommandOptionSubCommand},
		},
	}
	if got := commandPath(data); got != "scribe/start" {
		t.Errorf("commandPath = %q", got)
	}
	data.Options = data.Options[:1]
	if got := commandPath(data); got != "scribe" {
		t.Errorf("commandPath without subcommand = %q", got)
	}
}
