// Package commands implements the /scribe slash command group.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scribe/internal/app"
	"github.com/MrWong99/scribe/internal/discord"
	"github.com/MrWong99/scribe/internal/session"
)

// Stop and pause wait for pending transcriptions and the summary, which can
// take minutes on a long chapter.
const (
	startTimeout      = time.Minute
	transitionTimeout = 10 * time.Minute
)

var mentionRE = regexp.MustCompile(`<@!?(\d+)>`)

// Sessions is the session manager as seen by the commands.
type Sessions interface {
	Start(ctx context.Context, req app.StartRequest) (app.SessionInfo, error)
	Pause(ctx context.Context, ownerID string) error
	Unpause(ctx context.Context, ownerID string) error
	Stop(ctx context.Context, ownerID string) error
}

// MemberLookup resolves guild members. *discordgo.Session implements it.
type MemberLookup interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// ScribeCommands holds the dependencies of the /scribe commands.
type ScribeCommands struct {
	sessions Sessions
	members  MemberLookup
	gate     *discord.RoleGate
}

// NewScribeCommands creates the command group. Call Register to route it.
func NewScribeCommands(sessions Sessions, members MemberLookup, gate *discord.RoleGate) *ScribeCommands {
	return &ScribeCommands{sessions: sessions, members: members, gate: gate}
}

// Register registers the /scribe command group with the router.
func (sc *ScribeCommands) Register(router *discord.CommandRouter) {
	router.Define(sc.Definition())
	router.Route("scribe", sc.handleHelp)
	router.Route("scribe/help", sc.handleHelp)
	router.Route("scribe/start", sc.handleStart)
	router.Route("scribe/stop", sc.handleStop)
	router.Route("scribe/pause", sc.handlePause)
	router.Route("scribe/unpause", sc.handleUnpause)
}

// Definition returns the ApplicationCommand definition for Discord.
func (sc *ScribeCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "scribe",
		Description: "Record and summarize a voice session",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "start",
				Description: "Start recording a voice channel",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "channel",
						Description:  "Voice channel to record",
						Required:     true,
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice},
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "players",
						Description: "Mention every player to record",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "pause",
				Description: "Summarize the chapter so far and stop recording",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "unpause",
				Description: "Resume recording",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "End the session and post the final summary",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "help",
				Description: "Explain the commands",
			},
		},
	}
}

func (sc *ScribeCommands) handleStart(s discord.Interactor, i *discordgo.InteractionCreate) {
	if !sc.gate.Allows(i) {
		discord.RespondEphemeral(s, i, "You need the recorder role to start a session.")
		return
	}
	if i.GuildID == "" {
		discord.RespondEphemeral(s, i, "Use this command in a server channel.")
		return
	}

	opts := subcommandOptions(i)
	voiceID := optionString(opts, "channel")
	players := mentionedUsers(optionString(opts, "players"))
	if voiceID == "" || len(players) == 0 {
		discord.RespondEphemeral(s, i, "Pick a voice channel and mention at least one player.")
		return
	}

	discord.DeferReply(s, i)

	ownerID := discord.UserID(i)
	participants := make(map[string]string, len(players)+1)
	for _, id := range append(players, ownerID) {
		participants[id] = sc.displayName(i.GuildID, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	info, err := sc.sessions.Start(ctx, app.StartRequest{
		OwnerID:        ownerID,
		GuildID:        i.GuildID,
		VoiceChannelID: voiceID,
		TextChannelID:  i.ChannelID,
		Participants:   participants,
	})
	if err != nil {
		slog.Warn("commands: start failed", "owner_id", ownerID, "error", err)
		discord.FollowUp(s, i, describeError(err))
		return
	}

	names := slices.Sorted(maps.Values(participants))
	discord.FollowUp(s, i, fmt.Sprintf(
		"Recording <#%s> with %s.\nUse `/scribe pause` to summarize a chapter and `/scribe stop` to finish.\n**Token budget:** %d",
		voiceID, strings.Join(names, ", "), info.MaxTokens,
	))
}

func (sc *ScribeCommands) handlePause(s discord.Interactor, i *discordgo.InteractionCreate) {
	sc.transition(s, i, "pause", sc.sessions.Pause,
		"Paused. Use `/scribe unpause` to continue the story.")
}

func (sc *ScribeCommands) handleUnpause(s discord.Interactor, i *discordgo.InteractionCreate) {
	sc.transition(s, i, "unpause", sc.sessions.Unpause, "Recording again.")
}

func (sc *ScribeCommands) handleStop(s discord.Interactor, i *discordgo.InteractionCreate) {
	sc.transition(s, i, "stop", sc.sessions.Stop, "Session stopped.")
}

// transition runs one lifecycle operation on the invoking user's session.
func (sc *ScribeCommands) transition(s discord.Interactor, i *discordgo.InteractionCreate, op string, fn func(context.Context, string) error, done string) {
	if !sc.gate.Allows(i) {
		discord.RespondEphemeral(s, i, fmt.Sprintf("You need the recorder role to %s a session.", op))
		return
	}
	discord.DeferReply(s, i)

	ownerID := discord.UserID(i)
	ctx, cancel := context.WithTimeout(context.Background(), transitionTimeout)
	defer cancel()

	if err := fn(ctx, ownerID); err != nil {
		slog.Warn("commands: "+op+" failed", "owner_id", ownerID, "error", err)
		discord.FollowUp(s, i, describeError(err))
		return
	}
	discord.FollowUp(s, i, done)
}

func (sc *ScribeCommands) handleHelp(s discord.Interactor, i *discordgo.InteractionCreate) {
	discord.RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Scribe",
		Description: "I record a voice channel, transcribe every player and write the story so far.",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "/scribe start channel players", Value: "Join the voice channel and record the mentioned players and you."},
			{Name: "/scribe pause", Value: "Stop recording and post a summary of the chapter. The next chapter continues from it."},
			{Name: "/scribe unpause", Value: "Rejoin the voice channel and keep recording."},
			{Name: "/scribe stop", Value: fmt.Sprintf("Post the final summary with the full transcript. For %s you can reply in its thread to ask for changes.", session.DefaultRevisionWindow)},
		},
	})
}

// displayName returns the member's nickname, global name or user name,
// falling back to the user id.
func (sc *ScribeCommands) displayName(guildID, userID string) string {
	m, err := sc.members.GuildMember(guildID, userID)
	if err != nil || m == nil {
		slog.Warn("commands: cannot resolve member name", "user_id", userID, "error", err)
		return userID
	}
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User != nil && m.User.GlobalName != "":
		return m.User.GlobalName
	case m.User != nil && m.User.Username != "":
		return m.User.Username
	}
	return userID
}

func describeError(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionExists):
		return "You already have a running session. Use `/scribe stop` first."
	case errors.Is(err, session.ErrNoSession):
		return "You have no running session. Start one with `/scribe start`."
	case errors.Is(err, session.ErrParticipantBusy):
		return "Some of these players are already being recorded in another session."
	case errors.Is(err, session.ErrInvalidTransition):
		return "Your session cannot do that right now."
	case errors.Is(err, session.ErrDrainTimeout):
		return "Pending transcriptions took too long. Please try again."
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}

func subcommandOptions(i *discordgo.InteractionCreate) []*discordgo.ApplicationCommandInteractionDataOption {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return nil
	}
	return data.Options[0].Options
}

// optionString returns the string or id value of the named option.
func optionString(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name != name {
			continue
		}
		if v, ok := o.Value.(string); ok {
			return v
		}
	}
	return ""
}

// mentionedUsers returns the distinct user ids mentioned in s, in order.
func mentionedUsers(s string) []string {
	var ids []string
	for _, m := range mentionRE.FindAllStringSubmatch(s, -1) {
		if !slices.Contains(ids, m[1]) {
			ids = append(ids, m[1])
		}
	}
	return ids
}
