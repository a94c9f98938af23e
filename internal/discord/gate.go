package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// RoleGate restricts the session commands to one guild role. Members with
// the Administrator or Manage Server permission always pass. A gate without
// a role lets every guild member through.
type RoleGate struct {
	roleID string
}

// NewRoleGate creates a gate for roleID. An empty roleID disables the check.
func NewRoleGate(roleID string) *RoleGate {
	return &RoleGate{roleID: roleID}
}

const bypassPermissions = discordgo.PermissionAdministrator | discordgo.PermissionManageServer

// Allows reports whether the author of i may control a recording. Direct
// messages carry no member and never pass a configured gate.
func (g *RoleGate) Allows(i *discordgo.InteractionCreate) bool {
	if g == nil || g.roleID == "" {
		return true
	}
	m := i.Member
	switch {
	case m == nil:
		return false
	case m.Permissions&bypassPermissions != 0:
		return true
	default:
		return slices.Contains(m.Roles, g.roleID)
	}
}
