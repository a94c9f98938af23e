package discord

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc answers one slash command interaction.
type HandlerFunc func(s Interactor, i *discordgo.InteractionCreate)

// CommandRouter dispatches slash commands by path. A path is the command
// name, optionally followed by "/" and the invoked subcommand, as in
// "scribe/pause".
type CommandRouter struct {
	mu       sync.RWMutex
	defs     map[string]*discordgo.ApplicationCommand
	handlers map[string]HandlerFunc
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{
		defs:     make(map[string]*discordgo.ApplicationCommand),
		handlers: make(map[string]HandlerFunc),
	}
}

// Define adds a top-level command definition that [Bot.Run] registers with
// Discord. Defining a name twice replaces the earlier definition.
func (r *CommandRouter) Define(cmd *discordgo.ApplicationCommand) {
	r.mu.Lock()
	r.defs[cmd.Name] = cmd
	r.mu.Unlock()
}

// Route binds h to path.
func (r *CommandRouter) Route(path string, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[path] = h
	r.mu.Unlock()
}

// Definitions returns the defined commands ordered by name.
func (r *CommandRouter) Definitions() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*discordgo.ApplicationCommand, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *discordgo.ApplicationCommand) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Dispatch runs the handler routed for i. Components and autocomplete
// requests are ignored; unrouted commands get an ephemeral notice.
func (r *CommandRouter) Dispatch(s Interactor, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord: ignoring interaction", "type", i.Type.String())
		return
	}
	path := commandPath(i.ApplicationCommandData())

	r.mu.RLock()
	h := r.handlers[path]
	r.mu.RUnlock()

	if h == nil {
		slog.Warn("discord: no route for command", "path", path)
		RespondEphemeral(s, i, "Unknown command.")
		return
	}
	h(s, i)
}

func commandPath(data discordgo.ApplicationCommandInteractionData) string {
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionSubCommand {
			return data.Name + "/" + opt.Name
		}
	}
	return data.Name
}
