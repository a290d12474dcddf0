package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/George-Strauch/Chorus/internal/config"
	"github.com/George-Strauch/Chorus/internal/contextstore"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// NewPostgresStore opens a postgres/CockroachDB connection and returns a
// Store backed by it. Grounded on nexus's storage.NewCockroachStoresFromDSN:
// configure the pool from cfg, ping with a timeout before returning, and run
// the schema as idempotent CREATE-TABLE-IF-NOT-EXISTS DDL rather than a
// separate migration tool.
func NewPostgresStore(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
	}

	roles, err := newPostgresRoleStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		Agents:    &postgresAgentStore{db: db},
		Messages:  &postgresMessageStore{db: db},
		Branches:  &postgresBranchStore{db: db},
		Sessions:  &postgresSessionStore{db: db},
		Audit:     &postgresAuditStore{db: db},
		Processes: &postgresProcessStore{db: db},
		Settings:  &postgresSettingsStore{db: db},
		Roles:     roles,
		closer:    db.Close,
	}, nil
}

type postgresAgentStore struct{ db *sql.DB }

func (s *postgresAgentStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	perm, err := json.Marshal(agent.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO agents
		(name, channel_id, model, permissions, system_prompt, docs_dir, workspace_root, window_seconds, last_clear_time, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'active', $10)`,
		agent.Name, agent.ChannelID, agent.Model, perm, agent.SystemPrompt,
		agent.DocsDir, agent.WorkspaceRoot, int64(agent.Window.Seconds()),
		agent.LastClear, agent.CreatedAt)
	if err != nil {
		if isPostgresDuplicate(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *postgresAgentStore) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, channel_id, model, permissions, system_prompt,
		docs_dir, workspace_root, window_seconds, last_clear_time, created_at
		FROM agents WHERE name = $1`, name)
	return scanAgentPG(row)
}

func (s *postgresAgentStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	perm, err := json.Marshal(agent.Permissions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET channel_id=$1, model=$2, permissions=$3,
		system_prompt=$4, docs_dir=$5, workspace_root=$6, window_seconds=$7, last_clear_time=$8 WHERE name=$9`,
		agent.ChannelID, agent.Model, perm, agent.SystemPrompt, agent.DocsDir,
		agent.WorkspaceRoot, int64(agent.Window.Seconds()), agent.LastClear, agent.Name)
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}

func (s *postgresAgentStore) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, channel_id, model, permissions, system_prompt,
		docs_dir, workspace_root, window_seconds, last_clear_time, created_at FROM agents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Agent
	for rows.Next() {
		agent, err := scanAgentPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (s *postgresAgentStore) DeleteAgent(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE name = $1`, name)
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}

func scanAgentPG(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var perm []byte
	var windowSeconds int64
	err := row.Scan(&a.Name, &a.ChannelID, &a.Model, &perm, &a.SystemPrompt,
		&a.DocsDir, &a.WorkspaceRoot, &windowSeconds, &a.LastClear, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(perm, &a.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions for agent %s: %w", a.Name, err)
	}
	if err := a.Permissions.Compile(); err != nil {
		return nil, fmt.Errorf("compile permissions for agent %s: %w", a.Name, err)
	}
	a.Window = time.Duration(windowSeconds) * time.Second
	return &a, nil
}

type postgresMessageStore struct{ db *sql.DB }

func (s *postgresMessageStore) SaveMessage(ctx context.Context, msg models.Message) error {
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO messages
		(id, agent, branch, role, content, tool_calls, tool_call_id, is_error, timestamp, outbound_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, outbound_message_id = EXCLUDED.outbound_message_id`,
		msg.ID, msg.Agent, msg.Branch, string(msg.Role), msg.Content, toolCalls,
		msg.ToolCallID, msg.IsError, msg.Timestamp, msg.OutboundMessageID)
	return err
}

func (s *postgresMessageStore) ListMessages(ctx context.Context, agent string, since time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent, branch, role, content, tool_calls,
		tool_call_id, is_error, timestamp, outbound_message_id FROM messages
		WHERE agent = $1 AND timestamp > $2 ORDER BY timestamp ASC`, agent, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		var toolCalls []byte
		if err := rows.Scan(&m.ID, &m.Agent, &m.Branch, &role, &m.Content, &toolCalls,
			&m.ToolCallID, &m.IsError, &m.Timestamp, &m.OutboundMessageID); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type postgresBranchStore struct{ db *sql.DB }

func (s *postgresBranchStore) SaveBranch(ctx context.Context, agent string, b *models.ExecutionBranch) error {
	metrics, err := json.Marshal(b.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO branches
		(agent, id, status, summary, created_at, ended_at, parent_branch, recursion_depth, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (agent, id) DO UPDATE SET status = EXCLUDED.status, summary = EXCLUDED.summary,
			ended_at = EXCLUDED.ended_at, metrics = EXCLUDED.metrics`,
		agent, b.ID, string(b.Status), b.Summary, b.CreatedAt, b.EndedAt,
		b.ParentID, b.RecursionDepth, metrics)
	return err
}

func (s *postgresBranchStore) GetBranch(ctx context.Context, agent string, id int64) (*models.ExecutionBranch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, status, summary, created_at, ended_at,
		parent_branch, recursion_depth, metrics FROM branches WHERE agent = $1 AND id = $2`, agent, id)
	b, err := scanBranchPG(row, agent)
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

func (s *postgresBranchStore) ListBranches(ctx context.Context, agent string) ([]*models.ExecutionBranch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, summary, created_at, ended_at,
		parent_branch, recursion_depth, metrics FROM branches WHERE agent = $1 ORDER BY id`, agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ExecutionBranch
	for rows.Next() {
		b, err := scanBranchPG(rows, agent)
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

func (s *postgresBranchStore) loadSteps(ctx context.Context, agent string, branch int64) ([]models.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step_number, tool_name, decision, started_at, duration_ms
		FROM branch_steps WHERE agent = $1 AND branch = $2 ORDER BY step_number`, agent, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.StepRecord
	for rows.Next() {
		var st models.StepRecord
		if err := rows.Scan(&st.Iteration, &st.ToolName, &st.Decision, &st.At, &st.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *postgresBranchStore) SaveBranchStep(ctx context.Context, agent string, branch int64, step models.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO branch_steps
		(agent, branch, step_number, tool_name, decision, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		agent, branch, step.Iteration, step.ToolName, step.Decision, step.At, step.DurationMS)
	return err
}

func scanBranchPG(row rowScanner, agent string) (*models.ExecutionBranch, error) {
	var b models.ExecutionBranch
	var status string
	var metrics []byte
	var endedAt sql.NullTime
	err := row.Scan(&b.ID, &status, &b.Summary, &b.CreatedAt, &endedAt, &b.ParentID, &b.RecursionDepth, &metrics)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Agent = agent
	b.Status = models.BranchStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		b.EndedAt = &t
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &b.Metrics); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

type postgresSessionStore struct{ db *sql.DB }

func (s *postgresSessionStore) SaveSession(ctx context.Context, snap *contextstore.Snapshot, filePath string) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO sessions
		(session_id, agent, timestamp, description, summary, message_count, file_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET summary = EXCLUDED.summary, message_count = EXCLUDED.message_count`,
		snap.ID, snap.Agent, snap.Timestamp, snap.Description, snap.Summary,
		snap.MessageCount, filePath); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		sessionSnapshotKey(snap.ID), payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *postgresSessionStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, agent, timestamp, description, summary,
		message_count, file_path FROM sessions WHERE session_id = $1`, sessionID)
	return scanSessionRecordPG(row)
}

func (s *postgresSessionStore) ListSessions(ctx context.Context, agent string, limit int) ([]*SessionRecord, error) {
	query := `SELECT session_id, agent, timestamp, description, summary, message_count, file_path
		FROM sessions WHERE agent = $1 ORDER BY timestamp DESC`
	args := []any{agent}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSessionRecordPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresSessionStore) LoadSnapshot(ctx context.Context, sessionID string) (*contextstore.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`,
		sessionSnapshotKey(sessionID)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap contextstore.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func scanSessionRecordPG(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	err := row.Scan(&rec.SessionID, &rec.Agent, &rec.Timestamp, &rec.Description, &rec.Summary,
		&rec.MessageCount, &rec.FilePath)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &rec, err
}

type postgresAuditStore struct{ db *sql.DB }

func (s *postgresAuditStore) Record(ctx context.Context, rec models.AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log
		(timestamp, agent, branch, action_string, decision, matched_pattern, user_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.At, rec.Agent, rec.Branch, rec.Action, string(rec.Decision),
		rec.MatchedPattern, "", rec.Detail)
	return err
}

func (s *postgresAuditStore) ListAuditLog(ctx context.Context, agent string, limit int) ([]models.AuditRecord, error) {
	query := `SELECT id, timestamp, agent, branch, action_string, decision, matched_pattern, detail
		FROM audit_log WHERE agent = $1 ORDER BY id DESC`
	args := []any{agent}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var decision string
		var detail []byte
		if err := rows.Scan(&rec.ID, &rec.At, &rec.Agent, &rec.Branch, &rec.Action,
			&decision, &rec.MatchedPattern, &detail); err != nil {
			return nil, err
		}
		rec.Decision = models.AuditDecision(decision)
		rec.Detail = detail
		out = append(out, rec)
	}
	return out, rows.Err()
}

type postgresProcessStore struct{ db *sql.DB }

func (s *postgresProcessStore) SaveProcess(ctx context.Context, p *models.TrackedProcess) error {
	callbacks, err := json.Marshal(p.Callbacks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO processes
		(pid, command, cwd, agent, parent_branch, type, started_at, ended_at, stdout_log,
		 stderr_log, status, exit_code, callbacks, context, recursion_depth, outbound_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (pid) DO UPDATE SET status = EXCLUDED.status, ended_at = EXCLUDED.ended_at,
			exit_code = EXCLUDED.exit_code, callbacks = EXCLUDED.callbacks,
			outbound_message_id = EXCLUDED.outbound_message_id`,
		p.ID, p.Command, p.Cwd, p.Agent, p.Branch, string(p.Type), p.StartedAt, p.EndedAt,
		p.StdoutLogPath, p.StderrLogPath, string(p.Status), p.ExitCode, callbacks, p.Context,
		p.RecursionDepth, p.OutboundMessageID)
	return err
}

func (s *postgresProcessStore) UpdateProcess(ctx context.Context, p *models.TrackedProcess) error {
	return s.SaveProcess(ctx, p)
}

func (s *postgresProcessStore) ListRunningProcesses(ctx context.Context) ([]*models.TrackedProcess, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pid, command, cwd, agent, parent_branch, type,
		started_at, ended_at, stdout_log, stderr_log, status, exit_code, callbacks, context,
		recursion_depth, outbound_message_id FROM processes WHERE status = $1`, string(models.ProcessRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.TrackedProcess
	for rows.Next() {
		p, err := scanProcessPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProcessPG(row rowScanner) (*models.TrackedProcess, error) {
	var p models.TrackedProcess
	var typ, status string
	var callbacks []byte
	var endedAt sql.NullTime
	err := row.Scan(&p.ID, &p.Command, &p.Cwd, &p.Agent, &p.Branch, &typ, &p.StartedAt, &endedAt,
		&p.StdoutLogPath, &p.StderrLogPath, &status, &p.ExitCode, &callbacks, &p.Context,
		&p.RecursionDepth, &p.OutboundMessageID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Type = models.SpawnType(typ)
	p.Status = models.ProcessStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		p.EndedAt = &t
	}
	if len(callbacks) > 0 {
		if err := json.Unmarshal(callbacks, &p.Callbacks); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

type postgresSettingsStore struct{ db *sql.DB }

func (s *postgresSettingsStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *postgresSettingsStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

type postgresRoleStore struct {
	settings *postgresSettingsStore
	mu       sync.RWMutex
	grants   map[string]map[string]bool
}

func newPostgresRoleStore(ctx context.Context, db *sql.DB) (*postgresRoleStore, error) {
	settings := &postgresSettingsStore{db: db}
	raw, ok, err := settings.GetSetting(ctx, roleGrantsSettingsKey)
	if err != nil {
		return nil, err
	}
	grants := make(map[string]map[string]bool)
	if ok {
		if err := json.Unmarshal([]byte(raw), &grants); err != nil {
			return nil, err
		}
	}
	return &postgresRoleStore{settings: settings, grants: grants}, nil
}

func (s *postgresRoleStore) persist(ctx context.Context) error {
	raw, err := json.Marshal(s.grants)
	if err != nil {
		return err
	}
	return s.settings.SetSetting(ctx, roleGrantsSettingsKey, string(raw))
}

func (s *postgresRoleStore) AuthorizedForPreset(role, preset string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[role][preset]
}

func (s *postgresRoleStore) GrantRole(ctx context.Context, role, preset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[role] == nil {
		s.grants[role] = make(map[string]bool)
	}
	s.grants[role][preset] = true
	return s.persist(ctx)
}

func (s *postgresRoleStore) RevokeRole(ctx context.Context, role, preset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[role], preset)
	return s.persist(ctx)
}

func isPostgresDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate")
}
