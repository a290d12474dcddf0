package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/George-Strauch/Chorus/internal/contextstore"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// NewSQLiteStore opens (or creates) a SQLite database at dsn and returns a
// Store backed by it. Grounded on oasis's store/sqlite/sqlite.go: a single
// connection (SetMaxOpenConns(1)) serializes all writers so SQLite never
// returns SQLITE_BUSY, and schema creation runs as an idempotent
// CREATE-TABLE-IF-NOT-EXISTS step at open time rather than via migrations.
func NewSQLiteStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
	}

	roles, err := newSQLiteRoleStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		Agents:    &sqliteAgentStore{db: db},
		Messages:  &sqliteMessageStore{db: db},
		Branches:  &sqliteBranchStore{db: db},
		Sessions:  &sqliteSessionStore{db: db},
		Audit:     &sqliteAuditStore{db: db},
		Processes: &sqliteProcessStore{db: db},
		Settings:  &sqliteSettingsStore{db: db},
		Roles:     roles,
		closer:    db.Close,
	}, nil
}

type sqliteAgentStore struct{ db *sql.DB }

func (s *sqliteAgentStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	perm, err := json.Marshal(agent.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO agents
		(name, channel_id, model, permissions, system_prompt, docs_dir, workspace_root, window_seconds, last_clear_time, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?)`,
		agent.Name, agent.ChannelID, agent.Model, string(perm), agent.SystemPrompt,
		agent.DocsDir, agent.WorkspaceRoot, int64(agent.Window.Seconds()),
		agent.LastClear.Unix(), agent.CreatedAt.Unix())
	if err != nil {
		if isSQLiteDuplicate(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *sqliteAgentStore) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, channel_id, model, permissions, system_prompt,
		docs_dir, workspace_root, window_seconds, last_clear_time, created_at
		FROM agents WHERE name = ?`, name)
	return scanAgent(row)
}

func (s *sqliteAgentStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	perm, err := json.Marshal(agent.Permissions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET channel_id=?, model=?, permissions=?,
		system_prompt=?, docs_dir=?, workspace_root=?, window_seconds=?, last_clear_time=? WHERE name=?`,
		agent.ChannelID, agent.Model, string(perm), agent.SystemPrompt, agent.DocsDir,
		agent.WorkspaceRoot, int64(agent.Window.Seconds()), agent.LastClear.Unix(), agent.Name)
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}

func (s *sqliteAgentStore) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, channel_id, model, permissions, system_prompt,
		docs_dir, workspace_root, window_seconds, last_clear_time, created_at FROM agents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (s *sqliteAgentStore) DeleteAgent(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var perm string
	var windowSeconds, lastClear, createdAt int64
	err := row.Scan(&a.Name, &a.ChannelID, &a.Model, &perm, &a.SystemPrompt,
		&a.DocsDir, &a.WorkspaceRoot, &windowSeconds, &lastClear, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(perm), &a.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions for agent %s: %w", a.Name, err)
	}
	if err := a.Permissions.Compile(); err != nil {
		return nil, fmt.Errorf("compile permissions for agent %s: %w", a.Name, err)
	}
	a.Window = time.Duration(windowSeconds) * time.Second
	a.LastClear = time.Unix(lastClear, 0).UTC()
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}

type sqliteMessageStore struct{ db *sql.DB }

func (s *sqliteMessageStore) SaveMessage(ctx context.Context, msg models.Message) error {
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO messages
		(id, agent, branch, role, content, tool_calls, tool_call_id, is_error, timestamp, outbound_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Agent, msg.Branch, string(msg.Role), msg.Content, string(toolCalls),
		msg.ToolCallID, msg.IsError, msg.Timestamp.UnixNano(), msg.OutboundMessageID)
	return err
}

func (s *sqliteMessageStore) ListMessages(ctx context.Context, agent string, since time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent, branch, role, content, tool_calls,
		tool_call_id, is_error, timestamp, outbound_message_id FROM messages
		WHERE agent = ? AND timestamp > ? ORDER BY timestamp ASC`, agent, since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		var role, toolCalls string
		var ts int64
		if err := rows.Scan(&m.ID, &m.Agent, &m.Branch, &role, &m.Content, &toolCalls,
			&m.ToolCallID, &m.IsError, &ts, &m.OutboundMessageID); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		m.Timestamp = time.Unix(0, ts).UTC()
		if toolCalls != "" && toolCalls != "null" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type sqliteBranchStore struct{ db *sql.DB }

func (s *sqliteBranchStore) SaveBranch(ctx context.Context, agent string, b *models.ExecutionBranch) error {
	metrics, err := json.Marshal(b.Metrics)
	if err != nil {
		return err
	}
	var endedAt any
	if b.EndedAt != nil {
		endedAt = b.EndedAt.Unix()
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO branches
		(agent, id, status, summary, created_at, ended_at, parent_branch, recursion_depth, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent, b.ID, string(b.Status), b.Summary, b.CreatedAt.Unix(), endedAt,
		b.ParentID, b.RecursionDepth, string(metrics))
	return err
}

func (s *sqliteBranchStore) GetBranch(ctx context.Context, agent string, id int64) (*models.ExecutionBranch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, status, summary, created_at, ended_at,
		parent_branch, recursion_depth, metrics FROM branches WHERE agent = ? AND id = ?`, agent, id)
	b, err := scanBranch(row, agent)
	if err != nil {
		return nil, err
	}
	steps, err := s.loadSteps(ctx, agent, id)
	if err != nil {
		return nil, err
	}
	b.Steps = steps
	return b, nil
}

func (s *sqliteBranchStore) ListBranches(ctx context.Context, agent string) ([]*models.ExecutionBranch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, summary, created_at, ended_at,
		parent_branch, recursion_depth, metrics FROM branches WHERE agent = ? ORDER BY id`, agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ExecutionBranch
	for rows.Next() {
		b, err := scanBranch(rows, agent)
		if err != nil {
			return nil, err
		}
		steps, err := s.loadSteps(ctx, agent, b.ID)
		if err != nil {
			return nil, err
		}
		b.Steps = steps
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqliteBranchStore) loadSteps(ctx context.Context, agent string, branch int64) ([]models.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step_number, tool_name, decision, started_at, duration_ms
		FROM branch_steps WHERE agent = ? AND branch = ? ORDER BY step_number`, agent, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.StepRecord
	for rows.Next() {
		var st models.StepRecord
		var startedAt int64
		if err := rows.Scan(&st.Iteration, &st.ToolName, &st.Decision, &startedAt, &st.DurationMS); err != nil {
			return nil, err
		}
		st.At = time.Unix(startedAt, 0).UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteBranchStore) SaveBranchStep(ctx context.Context, agent string, branch int64, step models.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO branch_steps
		(agent, branch, step_number, tool_name, decision, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agent, branch, step.Iteration, step.ToolName, step.Decision, step.At.Unix(), step.DurationMS)
	return err
}

func scanBranch(row rowScanner, agent string) (*models.ExecutionBranch, error) {
	var b models.ExecutionBranch
	var status, metrics string
	var createdAt int64
	var endedAt sql.NullInt64
	err := row.Scan(&b.ID, &status, &b.Summary, &createdAt, &endedAt, &b.ParentID, &b.RecursionDepth, &metrics)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Agent = agent
	b.Status = models.BranchStatus(status)
	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0).UTC()
		b.EndedAt = &t
	}
	if metrics != "" {
		if err := json.Unmarshal([]byte(metrics), &b.Metrics); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

type sqliteSessionStore struct{ db *sql.DB }

func (s *sqliteSessionStore) SaveSession(ctx context.Context, snap *contextstore.Snapshot, filePath string) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO sessions
		(session_id, agent, timestamp, description, summary, message_count, file_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Agent, snap.Timestamp.Unix(), snap.Description, snap.Summary,
		snap.MessageCount, filePath); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`,
		sessionSnapshotKey(snap.ID), string(payload)); err != nil {
		return err
	}
	return tx.Commit()
}

func sessionSnapshotKey(sessionID string) string {
	return "session_snapshot:" + sessionID
}

func (s *sqliteSessionStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, agent, timestamp, description, summary,
		message_count, file_path FROM sessions WHERE session_id = ?`, sessionID)
	return scanSessionRecord(row)
}

func (s *sqliteSessionStore) ListSessions(ctx context.Context, agent string, limit int) ([]*SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, agent, timestamp, description, summary,
		message_count, file_path FROM sessions WHERE agent = ? ORDER BY timestamp DESC LIMIT ?`,
		agent, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSessionRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteSessionStore) LoadSnapshot(ctx context.Context, sessionID string) (*contextstore.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`,
		sessionSnapshotKey(sessionID)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap contextstore.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func scanSessionRecord(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var ts int64
	err := row.Scan(&rec.SessionID, &rec.Agent, &ts, &rec.Description, &rec.Summary,
		&rec.MessageCount, &rec.FilePath)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Timestamp = time.Unix(ts, 0).UTC()
	return &rec, nil
}

type sqliteAuditStore struct{ db *sql.DB }

func (s *sqliteAuditStore) Record(ctx context.Context, rec models.AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log
		(timestamp, agent, branch, action_string, decision, matched_pattern, user_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.At.UnixNano(), rec.Agent, rec.Branch, rec.Action, string(rec.Decision),
		rec.MatchedPattern, "", string(rec.Detail))
	return err
}

func (s *sqliteAuditStore) ListAuditLog(ctx context.Context, agent string, limit int) ([]models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, agent, branch, action_string,
		decision, matched_pattern, detail FROM audit_log WHERE agent = ? ORDER BY id DESC LIMIT ?`,
		agent, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var decision, detail string
		var ts int64
		if err := rows.Scan(&rec.ID, &ts, &rec.Agent, &rec.Branch, &rec.Action,
			&decision, &rec.MatchedPattern, &detail); err != nil {
			return nil, err
		}
		rec.Decision = models.AuditDecision(decision)
		rec.At = time.Unix(0, ts).UTC()
		rec.Detail = json.RawMessage(detail)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type sqliteProcessStore struct{ db *sql.DB }

func (s *sqliteProcessStore) SaveProcess(ctx context.Context, p *models.TrackedProcess) error {
	callbacks, err := json.Marshal(p.Callbacks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO processes
		(pid, command, cwd, agent, parent_branch, type, started_at, ended_at, stdout_log,
		 stderr_log, status, exit_code, callbacks, context, recursion_depth, outbound_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Command, p.Cwd, p.Agent, p.Branch, string(p.Type), p.StartedAt.Unix(),
		nullableUnix(p.EndedAt), p.StdoutLogPath, p.StderrLogPath, string(p.Status),
		nullableInt(p.ExitCode), string(callbacks), p.Context, p.RecursionDepth, p.OutboundMessageID)
	return err
}

func (s *sqliteProcessStore) UpdateProcess(ctx context.Context, p *models.TrackedProcess) error {
	return s.SaveProcess(ctx, p)
}

func (s *sqliteProcessStore) ListRunningProcesses(ctx context.Context) ([]*models.TrackedProcess, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pid, command, cwd, agent, parent_branch, type,
		started_at, ended_at, stdout_log, stderr_log, status, exit_code, callbacks, context,
		recursion_depth, outbound_message_id FROM processes WHERE status = ?`, string(models.ProcessRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.TrackedProcess
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProcess(row rowScanner) (*models.TrackedProcess, error) {
	var p models.TrackedProcess
	var typ, status, callbacks string
	var startedAt int64
	var endedAt, exitCode sql.NullInt64
	err := row.Scan(&p.ID, &p.Command, &p.Cwd, &p.Agent, &p.Branch, &typ, &startedAt, &endedAt,
		&p.StdoutLogPath, &p.StderrLogPath, &status, &exitCode, &callbacks, &p.Context,
		&p.RecursionDepth, &p.OutboundMessageID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Type = models.SpawnType(typ)
	p.Status = models.ProcessStatus(status)
	p.StartedAt = time.Unix(startedAt, 0).UTC()
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0).UTC()
		p.EndedAt = &t
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		p.ExitCode = &v
	}
	if callbacks != "" && callbacks != "null" {
		if err := json.Unmarshal([]byte(callbacks), &p.Callbacks); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

type sqliteSettingsStore struct{ db *sql.DB }

func (s *sqliteSettingsStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *sqliteSettingsStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	return err
}

// sqliteRoleStore persists role grants as a JSON blob under a single
// settings key and keeps an in-memory read-through cache, since
// AuthorizedForPreset's signature (matching tools.RoleAuthorizer) has no
// context or error return and must never block on the database.
type sqliteRoleStore struct {
	settings *sqliteSettingsStore
	mu       sync.RWMutex
	grants   map[string]map[string]bool
}

const roleGrantsSettingsKey = "role_grants"

func newSQLiteRoleStore(ctx context.Context, db *sql.DB) (*sqliteRoleStore, error) {
	settings := &sqliteSettingsStore{db: db}
	grants, err := loadRoleGrants(ctx, settings)
	if err != nil {
		return nil, err
	}
	return &sqliteRoleStore{settings: settings, grants: grants}, nil
}

func loadRoleGrants(ctx context.Context, settings *sqliteSettingsStore) (map[string]map[string]bool, error) {
	raw, ok, err := settings.GetSetting(ctx, roleGrantsSettingsKey)
	if err != nil {
		return nil, err
	}
	grants := make(map[string]map[string]bool)
	if !ok {
		return grants, nil
	}
	if err := json.Unmarshal([]byte(raw), &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *sqliteRoleStore) persist(ctx context.Context) error {
	raw, err := json.Marshal(s.grants)
	if err != nil {
		return err
	}
	return s.settings.SetSetting(ctx, roleGrantsSettingsKey, string(raw))
}

func (s *sqliteRoleStore) AuthorizedForPreset(role, preset string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[role][preset]
}

func (s *sqliteRoleStore) GrantRole(ctx context.Context, role, preset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[role] == nil {
		s.grants[role] = make(map[string]bool)
	}
	s.grants[role][preset] = true
	return s.persist(ctx)
}

func (s *sqliteRoleStore) RevokeRole(ctx context.Context, role, preset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[role], preset)
	return s.persist(ctx)
}

func sqlLimit(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit)
}

func isSQLiteDuplicate(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
