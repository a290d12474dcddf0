// Package models provides the domain types shared across Chorus's agent
// execution core: agents, permission profiles, execution branches, messages,
// tracked processes, and audit records.
package models

import (
	"regexp"
	"time"
)

// AgentNamePattern is the validation pattern for an agent's unique name.
var AgentNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,30}[a-z0-9]$`)

// Agent is the identity and configuration bound to a single chat channel.
type Agent struct {
	// Name uniquely identifies the agent. Must match AgentNamePattern.
	Name string `json:"name"`

	// ChannelID is the chat-service channel this agent owns.
	ChannelID string `json:"channel_id"`

	// Model is the current LLM model id.
	Model string `json:"model"`

	// Permissions is the agent's permission profile: either a preset name
	// or a serialized inline pattern set.
	Permissions PermissionProfile `json:"permissions"`

	// SystemPrompt is injected as the static system prompt on every call.
	SystemPrompt string `json:"system_prompt"`

	// DocsDir is a directory whose contents are always injected alongside
	// the system prompt.
	DocsDir string `json:"docs_dir"`

	// WorkspaceRoot is the path-jailed root for file and command tools.
	WorkspaceRoot string `json:"workspace_root"`

	// Window is the rolling context window duration.
	Window time.Duration `json:"window"`

	// LastClear is the marker advanced by ContextStore.Clear; messages
	// older than this are excluded from the rolling window.
	LastClear time.Time `json:"last_clear"`

	CreatedAt time.Time `json:"created_at"`
}

// ValidName reports whether name is a legal agent name.
func ValidName(name string) bool {
	return AgentNamePattern.MatchString(name)
}

// PermissionProfile is two ordered lists of regex patterns: allow and ask.
// Everything that matches neither is denied. Patterns are compiled once at
// construction; an invalid pattern fails construction.
type PermissionProfile struct {
	// Preset is the originating preset name ("open", "standard", "locked"),
	// or "" if the profile was built from an inline pattern set.
	Preset string `json:"preset,omitempty"`

	AllowPatterns []string `json:"allow"`
	AskPatterns   []string `json:"ask"`

	allow []*regexp.Regexp
	ask   []*regexp.Regexp
}

// Compiled reports whether Compile has been called successfully.
func (p *PermissionProfile) Compiled() bool {
	return p.allow != nil || p.ask != nil || (len(p.AllowPatterns) == 0 && len(p.AskPatterns) == 0)
}

// Compile anchors and compiles every pattern in the profile. It fails
// construction (returns an error) on the first invalid pattern, matching
// spec §3's "invalid patterns fail construction."
func (p *PermissionProfile) Compile() error {
	allow, err := compilePatterns(p.AllowPatterns)
	if err != nil {
		return err
	}
	ask, err := compilePatterns(p.AskPatterns)
	if err != nil {
		return err
	}
	p.allow = allow
	p.ask = ask
	return nil
}

// AllowRegexps returns the compiled allow-list patterns.
func (p *PermissionProfile) AllowRegexps() []*regexp.Regexp { return p.allow }

// AskRegexps returns the compiled ask-list patterns.
func (p *PermissionProfile) AskRegexps() []*regexp.Regexp { return p.ask }

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		anchored := anchorPattern(pat)
		re, err := regexp.Compile(anchored)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// anchorPattern ensures full-string matching semantics (spec §4.1: "full-
// string match, not substring").
func anchorPattern(pattern string) string {
	return "^(?:" + pattern + ")$"
}
