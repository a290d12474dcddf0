// Package store implements spec §6's persistent schema: the durable store
// the rest of Chorus treats as an external collaborator accessed only via
// narrow interfaces (AgentStore, MessageStore, BranchStore, SessionStore,
// AuditStore, ProcessStore, SettingsStore, RoleStore).
//
// Grounded on nexus's internal/storage package: sqlite.go and postgres.go
// mirror interfaces.go's StoreSet shape (a struct of narrow DAOs plus a
// closer func), cockroach.go's prepared-statement query style, and
// memory.go's RWMutex-guarded map implementation for tests.
package store

import "errors"

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// sqliteSchema creates spec §6's logical schema against SQLite/modernc's
// dialect (AUTOINCREMENT, no native array/jsonb types — JSON blobs and
// comma-joined text instead).
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		name TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		model TEXT NOT NULL,
		permissions TEXT NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		docs_dir TEXT NOT NULL DEFAULT '',
		workspace_root TEXT NOT NULL DEFAULT '',
		window_seconds INTEGER NOT NULL DEFAULT 0,
		last_clear_time INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		agent TEXT NOT NULL,
		branch INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		is_error INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		outbound_message_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_agent_timestamp ON messages(agent, timestamp)`,
	`CREATE TABLE IF NOT EXISTS branches (
		agent TEXT NOT NULL,
		id INTEGER NOT NULL,
		status TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		ended_at INTEGER,
		parent_branch INTEGER NOT NULL DEFAULT 0,
		recursion_depth INTEGER NOT NULL DEFAULT 0,
		metrics TEXT,
		PRIMARY KEY (agent, id)
	)`,
	`CREATE TABLE IF NOT EXISTS branch_steps (
		agent TEXT NOT NULL,
		branch INTEGER NOT NULL,
		step_number INTEGER NOT NULL,
		tool_name TEXT,
		decision TEXT,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_branch_steps_agent_branch ON branch_steps(agent, branch)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		agent TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		agent TEXT NOT NULL,
		branch INTEGER NOT NULL,
		action_string TEXT NOT NULL,
		decision TEXT NOT NULL,
		matched_pattern TEXT,
		user_id TEXT,
		detail TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS processes (
		pid TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		cwd TEXT,
		agent TEXT NOT NULL,
		parent_branch INTEGER NOT NULL DEFAULT 0,
		type TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		stdout_log TEXT,
		stderr_log TEXT,
		status TEXT NOT NULL,
		exit_code INTEGER,
		callbacks TEXT,
		context TEXT,
		recursion_depth INTEGER NOT NULL DEFAULT 0,
		outbound_message_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// postgresSchema is the same logical schema against lib/pq's dialect
// (BIGSERIAL, JSONB).
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		name TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		model TEXT NOT NULL,
		permissions JSONB NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		docs_dir TEXT NOT NULL DEFAULT '',
		workspace_root TEXT NOT NULL DEFAULT '',
		window_seconds BIGINT NOT NULL DEFAULT 0,
		last_clear_time TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		agent TEXT NOT NULL,
		branch BIGINT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls JSONB,
		tool_call_id TEXT,
		is_error BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp TIMESTAMPTZ NOT NULL,
		outbound_message_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_agent_timestamp ON messages(agent, timestamp)`,
	`CREATE TABLE IF NOT EXISTS branches (
		agent TEXT NOT NULL,
		id BIGINT NOT NULL,
		status TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		parent_branch BIGINT NOT NULL DEFAULT 0,
		recursion_depth INT NOT NULL DEFAULT 0,
		metrics JSONB,
		PRIMARY KEY (agent, id)
	)`,
	`CREATE TABLE IF NOT EXISTS branch_steps (
		agent TEXT NOT NULL,
		branch BIGINT NOT NULL,
		step_number INT NOT NULL,
		tool_name TEXT,
		decision TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_branch_steps_agent_branch ON branch_steps(agent, branch)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		agent TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		message_count INT NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		agent TEXT NOT NULL,
		branch BIGINT NOT NULL,
		action_string TEXT NOT NULL,
		decision TEXT NOT NULL,
		matched_pattern TEXT,
		user_id TEXT,
		detail JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS processes (
		pid TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		cwd TEXT,
		agent TEXT NOT NULL,
		parent_branch BIGINT NOT NULL DEFAULT 0,
		type TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		stdout_log TEXT,
		stderr_log TEXT,
		status TEXT NOT NULL,
		exit_code INT,
		callbacks JSONB,
		context TEXT,
		recursion_depth INT NOT NULL DEFAULT 0,
		outbound_message_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}
