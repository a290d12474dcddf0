package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/George-Strauch/Chorus/internal/contextstore"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// NewMemoryStore builds a Store backed entirely by in-process maps, for
// tests and for running Chorus without a configured database. Grounded on
// nexus's storage.MemoryAgentStore/MemoryUserStore (RWMutex-guarded map,
// deep-copy-free since callers already treat returned pointers as
// read-mostly).
func NewMemoryStore() *Store {
	return &Store{
		Agents:    newMemoryAgentStore(),
		Messages:  newMemoryMessageStore(),
		Branches:  newMemoryBranchStore(),
		Sessions:  newMemorySessionStore(),
		Audit:     newMemoryAuditStore(),
		Processes: newMemoryProcessStore(),
		Settings:  newMemorySettingsStore(),
		Roles:     newMemoryRoleStore(),
	}
}

type memoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

func newMemoryAgentStore() *memoryAgentStore {
	return &memoryAgentStore{agents: make(map[string]*models.Agent)}
}

func (s *memoryAgentStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.Name == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.Name]; exists {
		return ErrAlreadyExists
	}
	cp := *agent
	s.agents[agent.Name] = &cp
	return nil
}

func (s *memoryAgentStore) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *agent
	return &cp, nil
}

func (s *memoryAgentStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.Name == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.Name]; !exists {
		return ErrNotFound
	}
	cp := *agent
	s.agents[agent.Name] = &cp
	return nil
}

func (s *memoryAgentStore) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memoryAgentStore) DeleteAgent(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[name]; !exists {
		return ErrNotFound
	}
	delete(s.agents, name)
	return nil
}

type memoryMessageStore struct {
	mu       sync.RWMutex
	byAgent  map[string][]models.Message
}

func newMemoryMessageStore() *memoryMessageStore {
	return &memoryMessageStore{byAgent: make(map[string][]models.Message)}
}

func (s *memoryMessageStore) SaveMessage(ctx context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAgent[msg.Agent] = append(s.byAgent[msg.Agent], msg)
	return nil
}

func (s *memoryMessageStore) ListMessages(ctx context.Context, agent string, since time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.byAgent[agent] {
		if m.Timestamp.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

type branchKey struct {
	agent string
	id    int64
}

type memoryBranchStore struct {
	mu       sync.RWMutex
	branches map[branchKey]*models.ExecutionBranch
}

func newMemoryBranchStore() *memoryBranchStore {
	return &memoryBranchStore{branches: make(map[branchKey]*models.ExecutionBranch)}
}

func (s *memoryBranchStore) SaveBranch(ctx context.Context, agent string, b *models.ExecutionBranch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.branches[branchKey{agent, b.ID}] = &cp
	return nil
}

func (s *memoryBranchStore) GetBranch(ctx context.Context, agent string, id int64) (*models.ExecutionBranch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[branchKey{agent, id}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memoryBranchStore) ListBranches(ctx context.Context, agent string) ([]*models.ExecutionBranch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExecutionBranch
	for k, b := range s.branches {
		if k.agent == agent {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryBranchStore) SaveBranchStep(ctx context.Context, agent string, branch int64, step models.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[branchKey{agent, branch}]
	if !ok {
		return ErrNotFound
	}
	b.Steps = append(b.Steps, step)
	return nil
}

type memorySessionStore struct {
	mu        sync.RWMutex
	index     map[string]*SessionRecord
	snapshots map[string]*contextstore.Snapshot
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{
		index:     make(map[string]*SessionRecord),
		snapshots: make(map[string]*contextstore.Snapshot),
	}
}

func (s *memorySessionStore) SaveSession(ctx context.Context, snap *contextstore.Snapshot, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[snap.ID] = &SessionRecord{
		SessionID:    snap.ID,
		Agent:        snap.Agent,
		Timestamp:    snap.Timestamp,
		Description:  snap.Description,
		Summary:      snap.Summary,
		MessageCount: snap.MessageCount,
		FilePath:     filePath,
	}
	cp := *snap
	s.snapshots[snap.ID] = &cp
	return nil
}

func (s *memorySessionStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.index[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memorySessionStore) ListSessions(ctx context.Context, agent string, limit int) ([]*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*SessionRecord
	for _, rec := range s.index {
		if rec.Agent == agent {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memorySessionStore) LoadSnapshot(ctx context.Context, sessionID string) (*contextstore.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

type memoryAuditStore struct {
	mu      sync.Mutex
	records []models.AuditRecord
	nextID  int64
}

func newMemoryAuditStore() *memoryAuditStore {
	return &memoryAuditStore{}
}

func (s *memoryAuditStore) Record(ctx context.Context, rec models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, rec)
	return nil
}

func (s *memoryAuditStore) ListAuditLog(ctx context.Context, agent string, limit int) ([]models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Agent != agent {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type memoryProcessStore struct {
	mu    sync.RWMutex
	procs map[string]*models.TrackedProcess
}

func newMemoryProcessStore() *memoryProcessStore {
	return &memoryProcessStore{procs: make(map[string]*models.TrackedProcess)}
}

func (s *memoryProcessStore) SaveProcess(ctx context.Context, p *models.TrackedProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.procs[p.ID] = &cp
	return nil
}

func (s *memoryProcessStore) UpdateProcess(ctx context.Context, p *models.TrackedProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procs[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.procs[p.ID] = &cp
	return nil
}

func (s *memoryProcessStore) ListRunningProcesses(ctx context.Context) ([]*models.TrackedProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TrackedProcess
	for _, p := range s.procs {
		if p.Status == models.ProcessRunning {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memorySettingsStore struct {
	mu       sync.RWMutex
	settings map[string]string
}

func newMemorySettingsStore() *memorySettingsStore {
	return &memorySettingsStore{settings: make(map[string]string)}
}

func (s *memorySettingsStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *memorySettingsStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

type memoryRoleStore struct {
	mu     sync.RWMutex
	grants map[string]map[string]bool
}

func newMemoryRoleStore() *memoryRoleStore {
	return &memoryRoleStore{grants: make(map[string]map[string]bool)}
}

func (s *memoryRoleStore) AuthorizedForPreset(role, preset string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[role][preset]
}

func (s *memoryRoleStore) GrantRole(ctx context.Context, role, preset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[role] == nil {
		s.grants[role] = make(map[string]bool)
	}
	s.grants[role][preset] = true
	return nil
}

func (s *memoryRoleStore) RevokeRole(ctx context.Context, role, preset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[role], preset)
	return nil
}
