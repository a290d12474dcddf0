package store

import (
	"context"
	"fmt"
	"time"

	"github.com/George-Strauch/Chorus/internal/config"
	"github.com/George-Strauch/Chorus/internal/contextstore"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// New opens the durable store selected by cfg.Driver ("sqlite" or
// "postgres"). cfg.validate already rejects any other driver before this is
// ever called, but New checks again so it never silently falls through.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.DSN)
	case "postgres":
		return NewPostgresStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// AgentStore persists agent configuration rows. It satisfies the narrower
// tools.AgentStore (GetAgent/UpdateAgent) consumed by SelfEditTool.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, name string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	DeleteAgent(ctx context.Context, name string) error
}

// MessageStore persists the durable copy of every message contextstore's
// in-process rolling window holds, for session rehydration after restart.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg models.Message) error
	ListMessages(ctx context.Context, agent string, since time.Time) ([]models.Message, error)
}

// BranchStore persists execution branch rows and their step history.
type BranchStore interface {
	SaveBranch(ctx context.Context, agent string, b *models.ExecutionBranch) error
	GetBranch(ctx context.Context, agent string, id int64) (*models.ExecutionBranch, error)
	ListBranches(ctx context.Context, agent string) ([]*models.ExecutionBranch, error)
	SaveBranchStep(ctx context.Context, agent string, branch int64, step models.StepRecord) error
}

// SessionRecord indexes one persisted session snapshot file.
type SessionRecord struct {
	SessionID    string
	Agent        string
	Timestamp    time.Time
	Description  string
	Summary      string
	MessageCount int
	FilePath     string
}

// SessionStore persists the session snapshot index row and the snapshot's
// JSON payload on disk, matching spec §6's "filesystem layout" and
// "sessions" table. It is the component that actually materializes
// contextstore.Snapshot to durable storage; contextstore itself never
// touches a filesystem or database.
type SessionStore interface {
	SaveSession(ctx context.Context, snap *contextstore.Snapshot, filePath string) error
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	ListSessions(ctx context.Context, agent string, limit int) ([]*SessionRecord, error)
	LoadSnapshot(ctx context.Context, sessionID string) (*contextstore.Snapshot, error)
}

// AuditStore persists one row per permission decision. It satisfies
// agentloop.Auditor.
type AuditStore interface {
	Record(ctx context.Context, rec models.AuditRecord) error
	ListAuditLog(ctx context.Context, agent string, limit int) ([]models.AuditRecord, error)
}

// ProcessStore persists tracked process rows so process.Manager can
// rebuild its table via RecoverOnStartup after a restart.
type ProcessStore interface {
	SaveProcess(ctx context.Context, p *models.TrackedProcess) error
	UpdateProcess(ctx context.Context, p *models.TrackedProcess) error
	ListRunningProcesses(ctx context.Context) ([]*models.TrackedProcess, error)
}

// SettingsStore is spec §6's generic key/value `settings` table, used for
// anything that doesn't warrant its own schema (role grants, feature
// toggles).
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error
}

// RoleStore tracks which roles may grant which permission presets via
// self_edit. It satisfies tools.RoleAuthorizer. Grants are persisted as a
// JSON blob in the settings table rather than a dedicated schema, since
// spec §6 names `settings(key PK, value)` as exactly this kind of
// extensible key/value escape hatch.
type RoleStore interface {
	AuthorizedForPreset(role, preset string) bool
	GrantRole(ctx context.Context, role, preset string) error
	RevokeRole(ctx context.Context, role, preset string) error
}

// Store aggregates every persistent DAO spec §6 names behind one
// connection/closer, mirroring nexus's storage.StoreSet.
type Store struct {
	Agents    AgentStore
	Messages  MessageStore
	Branches  BranchStore
	Sessions  SessionStore
	Audit     AuditStore
	Processes ProcessStore
	Settings  SettingsStore
	Roles     RoleStore

	closer func() error
}

// Close releases the underlying connection, if any.
func (s Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
