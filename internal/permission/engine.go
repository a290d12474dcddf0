// Package permission implements Chorus's permission engine: a pure,
// stateless function from (action string, profile) to a decision, plus the
// built-in presets.
package permission

import (
	"fmt"

	"github.com/George-Strauch/Chorus/internal/errkind"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// Decision is the permission engine's verdict on one action string.
type Decision string

const (
	Allow Decision = "ALLOW"
	Ask   Decision = "ASK"
	Deny  Decision = "DENY"
)

// Decide applies profile to action: the first allow pattern that matches
// wins ALLOW, else the first ask pattern that matches wins ASK, else DENY.
// Pure, stateless, no I/O — matching is full-string against patterns
// already anchored and compiled by models.PermissionProfile.Compile.
func Decide(action string, profile *models.PermissionProfile) Decision {
	for _, re := range profile.AllowRegexps() {
		if re.MatchString(action) {
			return Allow
		}
	}
	for _, re := range profile.AskRegexps() {
		if re.MatchString(action) {
			return Ask
		}
	}
	return Deny
}

// FormatAction builds the action-string grammar tool calls are judged
// against: "tool:<tool-name>:<detail>".
func FormatAction(tool, detail string) string {
	return fmt.Sprintf("tool:%s:%s", tool, detail)
}

// Preset names recognized by the control plane when an agent's permission
// profile is a string rather than an inline pattern set.
const (
	PresetOpen     = "open"
	PresetStandard = "standard"
	PresetLocked   = "locked"
)

// gitSafeSubcommandsAllow enumerates non-destructive git subcommands for the
// standard preset's allow list. Go's regexp package is RE2-based and has no
// negative-lookahead support, so "everything except push/merge_request"
// cannot be expressed directly; enumerating the safe subcommands is the
// RE2-compatible equivalent (push and merge_request stay on the ask list).
// The subcommand token must be followed by whitespace or end-of-string, not
// just ".*": otherwise "merge" prefix-matches "merge_request" and the ask
// list is never consulted for it.
const gitSafeSubcommandsAllow = "tool:git:(status|diff|log|show|branch|checkout|add|commit|stash|fetch|pull|merge|rebase|tag|remote|blame|describe|rm|mv|reset|clone|init|cherry-pick|revert|config|rev-parse)(\\s.*)?"

// Preset returns a compiled PermissionProfile for a built-in preset name,
// or an error if name is not one of open|standard|locked.
func Preset(name string) (*models.PermissionProfile, error) {
	var profile models.PermissionProfile
	switch name {
	case PresetOpen:
		profile = models.PermissionProfile{
			Preset:        PresetOpen,
			AllowPatterns: []string{"tool:.*"},
			AskPatterns:   []string{},
		}
	case PresetStandard:
		profile = models.PermissionProfile{
			Preset: PresetStandard,
			AllowPatterns: []string{
				"tool:(create_file|str_replace|view):.*",
				gitSafeSubcommandsAllow,
				"tool:agent_comm:.*",
			},
			AskPatterns: []string{
				"tool:bash:.*",
				"tool:git:(push|merge_request).*",
				"tool:self_edit:.*",
			},
		}
	case PresetLocked:
		profile = models.PermissionProfile{
			Preset:        PresetLocked,
			AllowPatterns: []string{"tool:view:.*"},
			AskPatterns:   []string{},
		}
	default:
		return nil, errkind.New(errkind.UnknownPreset, fmt.Sprintf("unknown permission preset %q", name))
	}
	if err := profile.Compile(); err != nil {
		return nil, errkind.Wrap(errkind.InvalidPermissionPattern, "compiling preset "+name, err)
	}
	return &profile, nil
}
