// Package orchestrator wires one agent's gateway session, branch manager,
// tool registry, and agentic loop together, and routes inbound chat
// messages to the right agent's branch per the inbound algorithm: identify
// the agent bound to the channel, route the message to an existing branch
// or start a new one, persist it, hand it to the tool loop with its full
// execution context, then persist the reply and advance metrics once the
// loop stops.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/George-Strauch/Chorus/internal/agentloop"
	"github.com/George-Strauch/Chorus/internal/branch"
	"github.com/George-Strauch/Chorus/internal/config"
	"github.com/George-Strauch/Chorus/internal/contextstore"
	"github.com/George-Strauch/Chorus/internal/gateway"
	"github.com/George-Strauch/Chorus/internal/hooks"
	"github.com/George-Strauch/Chorus/internal/llmprovider"
	"github.com/George-Strauch/Chorus/internal/observability"
	"github.com/George-Strauch/Chorus/internal/outbound"
	"github.com/George-Strauch/Chorus/internal/process"
	"github.com/George-Strauch/Chorus/internal/shell"
	"github.com/George-Strauch/Chorus/internal/store"
	"github.com/George-Strauch/Chorus/internal/tools"
	"github.com/George-Strauch/Chorus/internal/workspace"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// outboundChunkLimit is a conservative per-message character budget shared
// across chat backends. Discord caps messages at 2000 characters; Slack's
// limit is far higher, so the same budget is safe there too.
const outboundChunkLimit = 2000

// agentRuntime is everything wired to run one agent: its gateway session,
// branch manager, tool registry, process manager, hook dispatcher, and
// agentic loop.
type agentRuntime struct {
	cfg          *models.Agent
	gw           gateway.Gateway
	provider     llmprovider.Provider
	providerName string
	jail         *workspace.Jail
	executor     *shell.Executor
	registry     *tools.Registry
	branches     *branch.Manager
	procs        *process.Manager
	hooks        *hooks.Dispatcher
	loop         *agentloop.Loop

	statusMu sync.Mutex
	statuses map[int64]*outbound.StatusUpdater
}

func (rt *agentRuntime) statusFor(branchID int64) *outbound.StatusUpdater {
	rt.statusMu.Lock()
	defer rt.statusMu.Unlock()
	return rt.statuses[branchID]
}

func (rt *agentRuntime) setStatus(branchID int64, su *outbound.StatusUpdater) {
	rt.statusMu.Lock()
	rt.statuses[branchID] = su
	rt.statusMu.Unlock()
}

func (rt *agentRuntime) clearStatus(branchID int64) {
	rt.statusMu.Lock()
	delete(rt.statuses, branchID)
	rt.statusMu.Unlock()
}

// branchOrigin records which channel and user started a branch, so the
// ask-UI knows who to prompt and the outbound path knows where to reply.
type branchOrigin struct {
	channelID string
	userID    string
}

// channelThread is the reply anchor for a channel: the most recent
// outbound message id and the branch that produced it. Chorus treats a
// channel as a single active conversation thread, so any new inbound
// message is routed to this branch until it goes terminal.
type channelThread struct {
	outboundID string
	branchID   int64
}

// Orchestrator owns every agent runtime and the collaborators shared
// across all of them: the durable store, the rolling context window, the
// outbound rate limiter, and observability.
type Orchestrator struct {
	cfg     *config.Config
	store   *store.Store
	context *contextstore.Store
	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *observability.Logger
	limiter *outbound.Limiter
	asks    *askRegistry

	anthropic llmprovider.Provider
	openai    llmprovider.Provider

	mu         sync.RWMutex
	byName     map[string]*agentRuntime
	byChannel  map[string]*agentRuntime
	threads    map[string]channelThread      // channelID -> active thread
	origins    map[int64]branchOrigin        // branchID -> who started it
	hookSpawns map[int64]*hooks.Dispatcher   // branchID -> dispatcher to release on completion

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Orchestrator. metrics, tracer and logger are constructed
// once by cmd/chorusd and shared across the whole process.
func New(cfg *config.Config, st *store.Store, ctxStore *contextstore.Store, metrics *observability.Metrics, tracer *observability.Tracer, logger *observability.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:        cfg,
		store:      st,
		context:    ctxStore,
		metrics:    metrics,
		tracer:     tracer,
		logger:     logger,
		byName:     make(map[string]*agentRuntime),
		byChannel:  make(map[string]*agentRuntime),
		threads:    make(map[string]channelThread),
		origins:    make(map[int64]branchOrigin),
		hookSpawns: make(map[int64]*hooks.Dispatcher),
	}
	o.asks = newAskRegistry(120 * time.Second)
	o.limiter = outbound.NewLimiter(&routingSender{o: o}, outbound.DefaultBucketConfig())

	if cfg.LLM.AnthropicAPIKey != "" {
		p, err := llmprovider.NewAnthropicProvider(llmprovider.AnthropicConfig{APIKey: cfg.LLM.AnthropicAPIKey})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: anthropic provider: %w", err)
		}
		o.anthropic = p
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		o.openai = llmprovider.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey)
	}

	return o, nil
}

// providerFor resolves the provider bound to a model id by its naming
// convention, along with the provider label used on metrics.
func (o *Orchestrator) providerFor(model string) (llmprovider.Provider, string, error) {
	switch {
	case strings.HasPrefix(model, "claude"):
		if o.anthropic == nil {
			return nil, "", fmt.Errorf("model %q requires an anthropic API key", model)
		}
		return o.anthropic, "anthropic", nil
	case strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		if o.openai == nil {
			return nil, "", fmt.Errorf("model %q requires an openai API key", model)
		}
		return o.openai, "openai", nil
	default:
		return nil, "", fmt.Errorf("model %q matches no known provider", model)
	}
}

// AddAgent wires a full runtime for cfg — workspace jail, tool registry,
// branch manager, process manager, hook dispatcher, and agentic loop — and
// binds it to gw's channel.
func (o *Orchestrator) AddAgent(cfg *models.Agent, gw gateway.Gateway) error {
	if !models.ValidName(cfg.Name) {
		return fmt.Errorf("orchestrator: invalid agent name %q", cfg.Name)
	}
	if !cfg.Permissions.Compiled() {
		if err := cfg.Permissions.Compile(); err != nil {
			return fmt.Errorf("orchestrator: %s: compiling permissions: %w", cfg.Name, err)
		}
	}

	provider, providerName, err := o.providerFor(cfg.Model)
	if err != nil {
		return fmt.Errorf("orchestrator: %s: %w", cfg.Name, err)
	}

	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return fmt.Errorf("orchestrator: %s: creating workspace: %w", cfg.Name, err)
	}
	jail, err := workspace.NewJail(cfg.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("orchestrator: %s: workspace: %w", cfg.Name, err)
	}

	rt := &agentRuntime{
		cfg:          cfg,
		gw:           gw,
		provider:     provider,
		providerName: providerName,
		jail:         jail,
		executor:     shell.NewExecutor(jail),
		statuses:     make(map[int64]*outbound.StatusUpdater),
	}
	rt.branches = branch.NewManager(cfg.Name, func(ctx context.Context, br *models.ExecutionBranch, messages []models.Message) agentloop.Result {
		return o.runBranch(ctx, rt, br, messages)
	})

	logDir := filepath.Join(os.TempDir(), "chorus", cfg.Name, "processes")
	dh := &dispatcherHandle{metrics: o.metrics}
	rt.procs = process.NewManager(logDir, rt.branches, dh)

	sh := &spawnHandle{o: o}
	rt.hooks = hooks.NewDispatcher(
		&killProcessRecorder{inner: rt.procs, metrics: o.metrics},
		&killBranchRecorder{inner: rt.branches, metrics: o.metrics},
		&injectRecorder{inner: rt.branches, metrics: o.metrics},
		&spawnRecorder{inner: sh, metrics: o.metrics},
		nil,
	)
	dh.d = rt.hooks
	sh.source = rt.hooks

	rt.registry = o.buildRegistry(cfg, rt)
	rt.loop = o.buildLoop(rt)

	o.context.SetWindow(cfg.Name, cfg.Window)

	o.mu.Lock()
	o.byName[cfg.Name] = rt
	o.byChannel[cfg.ChannelID] = rt
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) buildRegistry(cfg *models.Agent, rt *agentRuntime) *tools.Registry {
	lockTimeout := o.cfg.Loop.LockAcquireTimeout
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	cmdTimeout := o.cfg.Process.DefaultCommandTimeout
	if cmdTimeout <= 0 {
		cmdTimeout = 5 * time.Minute
	}

	r := tools.NewRegistry()
	r.Register(tools.NewCreateFileTool(rt.jail, rt.branches, lockTimeout))
	r.Register(tools.NewStrReplaceTool(rt.jail, rt.branches, lockTimeout))
	r.Register(tools.NewViewTool(rt.jail))
	r.Register(tools.NewInsertAtTool(rt.jail, rt.branches, lockTimeout))
	r.Register(tools.NewReplaceLinesTool(rt.jail, rt.branches, lockTimeout))
	r.Register(tools.NewBashTool(rt.executor, cmdTimeout))
	r.Register(tools.NewGitTool(rt.executor, cmdTimeout, "gh"))
	r.Register(tools.NewAgentCommTool(cfg.Name, o))
	r.Register(tools.NewRunConcurrentTool(cfg.Name, rt.procs, cmdTimeout))
	r.Register(tools.NewRunBackgroundTool(cfg.Name, rt.procs))
	r.Register(tools.NewSelfEditTool(cfg.Name, o.store.Agents, o.store.Roles))
	return r
}

func (o *Orchestrator) buildLoop(rt *agentRuntime) *agentloop.Loop {
	loopCfg := agentloop.DefaultConfig()
	if o.cfg.Loop.MaxIterations > 0 {
		loopCfg.MaxIterations = o.cfg.Loop.MaxIterations
	}
	if o.cfg.Loop.DefaultAskTimeout > 0 {
		loopCfg.AskTimeout = o.cfg.Loop.DefaultAskTimeout
	}

	auditor := &auditRecorder{store: o.store.Audit, metrics: o.metrics}
	emitter := &runtimeEmitter{rt: rt, o: o}
	return agentloop.New(rt.provider, rt.registry, rt.branches, auditor, emitter, o.askFunc, loopCfg)
}

// buildSystemPrompt assembles the agent's static system prompt with its
// docs directory and workspace/model scope appended.
func (o *Orchestrator) buildSystemPrompt(cfg *models.Agent) string {
	var b strings.Builder
	b.WriteString(cfg.SystemPrompt)
	fmt.Fprintf(&b, "\n\nworkspace: %s\nmodel: %s", cfg.WorkspaceRoot, cfg.Model)

	if cfg.DocsDir == "" {
		return b.String()
	}
	entries, err := os.ReadDir(cfg.DocsDir)
	if err != nil {
		return b.String()
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cfg.DocsDir, entry.Name()))
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n\n--- %s ---\n%s", entry.Name(), data)
	}
	return b.String()
}

// buildPreamble assembles spec §4.8(b)'s view of concurrent activity: every
// other active branch (id, summary, current step, elapsed) and every
// tracked process for this agent (pid, command, last output line). Returns
// "" when nothing is running besides the branch being started, so a quiet
// agent's prompt carries no empty section.
func (o *Orchestrator) buildPreamble(rt *agentRuntime, excludeBranch int64) string {
	var active []*models.ExecutionBranch
	for _, br := range rt.branches.ListActive() {
		if br.ID != excludeBranch {
			active = append(active, br)
		}
	}
	procs := rt.procs.List(rt.cfg.Name)
	if len(active) == 0 && len(procs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nother activity:")

	for _, br := range active {
		step := "none"
		if n := len(br.Steps); n > 0 {
			step = br.Steps[n-1].ToolName
		}
		fmt.Fprintf(&b, "\n- branch %d: %q, step=%s, elapsed=%s",
			br.ID, br.Summary, step, time.Since(br.CreatedAt).Round(time.Second))
	}

	for _, p := range procs {
		last := ""
		if n := len(p.OutputTail); n > 0 {
			last = p.OutputTail[n-1]
		}
		fmt.Fprintf(&b, "\n- process pid=%d: %q, last output: %s", p.PID, p.Command, last)
	}

	return b.String()
}

// runBranch is the branch.Runner for every agent: it spans the run,
// assigns the invoking user's self-edit authority, runs the loop, then
// persists the reply and releases any hook-acquired spawn slot.
func (o *Orchestrator) runBranch(ctx context.Context, rt *agentRuntime, br *models.ExecutionBranch, messages []models.Message) agentloop.Result {
	ctx, span := o.tracer.Start(ctx, "branch.run", trace.SpanKindInternal,
		attribute.String("agent", rt.cfg.Name),
		attribute.Int64("branch", br.ID),
		attribute.Int("recursion_depth", br.RecursionDepth),
	)
	defer span.End()

	origin, hasOrigin := o.originFor(br.ID)
	// InvokingRole has no dedicated role table; the invoking user's chat
	// id is treated as their role for self_edit authorization purposes.
	if hasOrigin {
		if self, ok := rt.registry.Get("self_edit").(*tools.SelfEditTool); ok {
			self.InvokingRole = origin.userID
		}
	} else {
		// A branch started by another agent or by a hook has no chat
		// origin; its status and reply go to the agent's own channel.
		origin = branchOrigin{channelID: rt.cfg.ChannelID}
	}

	su := outbound.NewStatusUpdater(rt.gw)
	rt.setStatus(br.ID, su)
	defer rt.clearStatus(br.ID)
	if _, err := su.Start(ctx, origin.channelID, fmt.Sprintf("%s is working...", rt.cfg.Name)); err != nil {
		o.logger.Warn(ctx, "status start failed", "agent", rt.cfg.Name, "error", err)
	}

	system := o.buildSystemPrompt(rt.cfg) + o.buildPreamble(rt, br.ID)
	window := o.context.GetWindow(rt.cfg.Name, br.ID)
	if len(window) == 0 {
		// A brand-new branch's seed message hasn't been persisted to the
		// context store yet when this runs; fall back to what the branch
		// manager seeded it with so the first turn still has its prompt.
		window = messages
	}

	req := agentloop.Request{
		Agent:    rt.cfg.Name,
		Branch:   br.ID,
		System:   system,
		Model:    rt.cfg.Model,
		Messages: window,
		Profile:  &rt.cfg.Permissions,
	}
	result := rt.loop.Run(ctx, req)

	outcome := "completed"
	if result.Errored {
		outcome = "errored"
		o.tracer.RecordError(span, fmt.Errorf("%s", result.ErrKind))
	}
	o.metrics.BranchesTotal.WithLabelValues(rt.cfg.Name, outcome).Inc()

	o.deliverResult(ctx, rt, br, origin, result, su)

	if source, ok := o.releaseHookSpawn(br.ID); ok {
		source.ReleaseSpawnSlot()
	}

	return result
}

// deliverResult persists the loop's final reply and the branch's outcome,
// sends the reply to its origin channel, and updates the channel's active
// thread so a follow-up reply routes back to this branch.
func (o *Orchestrator) deliverResult(ctx context.Context, rt *agentRuntime, br *models.ExecutionBranch, origin branchOrigin, result agentloop.Result, su *outbound.StatusUpdater) {
	finalMsg := o.context.Persist(models.Message{
		Agent:   rt.cfg.Name,
		Branch:  br.ID,
		Role:    models.RoleAssistant,
		Content: result.Text,
	})
	if o.store.Messages != nil {
		if err := o.store.Messages.SaveMessage(ctx, finalMsg); err != nil {
			o.logger.Warn(ctx, "persist final message failed", "agent", rt.cfg.Name, "error", err)
		}
	}

	snapshot := *br
	if result.Errored {
		snapshot.Status = models.BranchErrored
	} else {
		snapshot.Status = models.BranchCompleted
	}
	endedAt := time.Now()
	snapshot.EndedAt = &endedAt
	if o.store.Branches != nil {
		if err := o.store.Branches.SaveBranch(ctx, rt.cfg.Name, &snapshot); err != nil {
			o.logger.Warn(ctx, "persist branch failed", "agent", rt.cfg.Name, "error", err)
		}
	}

	text := result.Text
	switch {
	case result.Errored:
		text = fmt.Sprintf("%s ran into a problem (%s) and stopped.", rt.cfg.Name, result.ErrKind)
	case result.Truncated:
		text += "\n\n(stopped after reaching its iteration limit)"
	}

	chunks := outbound.Markdown(text, outboundChunkLimit)
	o.metrics.OutboundChunkCount.Observe(float64(len(chunks)))

	var lastID string
	for _, chunk := range chunks {
		id, err := o.limiter.Send(ctx, origin.channelID, br.ID, chunk)
		if err != nil {
			o.logger.Warn(ctx, "send reply chunk failed", "agent", rt.cfg.Name, "error", err)
			continue
		}
		lastID = id
	}
	su.Finish(ctx, fmt.Sprintf("%s is done.", rt.cfg.Name))

	if lastID == "" {
		return
	}
	rt.branches.RegisterOutbound(br.ID, lastID)
	o.mu.Lock()
	o.threads[origin.channelID] = channelThread{outboundID: lastID, branchID: br.ID}
	o.mu.Unlock()
	o.metrics.MessagesRouted.WithLabelValues(origin.channelID, "outbound").Inc()
}

// SendToAgent implements tools.AgentMessenger: it seeds a new root branch
// on the target agent, bypassing any chat channel.
func (o *Orchestrator) SendToAgent(ctx context.Context, from, to, message string) (int64, error) {
	rt, ok := o.runtimeByName(to)
	if !ok {
		return 0, fmt.Errorf("orchestrator: unknown agent %q", to)
	}
	msg := o.context.Persist(models.Message{
		Agent:   to,
		Role:    models.RoleUser,
		Content: fmt.Sprintf("[message from agent %s] %s", from, message),
	})
	br := rt.branches.CreateBranch(msg)
	o.context.SetBranch(to, msg.ID, br.ID)
	return br.ID, nil
}

// spawnFromHook backs spawnHandle's hooks.BranchSpawner implementation: it
// creates a new branch on the target agent seeded from a SPAWN_BRANCH
// hook's recorded context, at the depth the seed already carries. The new
// branch has no chat origin, so asks on it are denied rather than prompted.
func (o *Orchestrator) spawnFromHook(ctx context.Context, agent string, seed hooks.HookSeed, source *hooks.Dispatcher) error {
	rt, ok := o.runtimeByName(agent)
	if !ok {
		return fmt.Errorf("orchestrator: unknown agent %q", agent)
	}

	content := fmt.Sprintf("[hook: %s]\ncommand: %s\n\nrecent output:\n%s", seed.Instruction, seed.Command, seed.RecentOutput)
	msg := o.context.Persist(models.Message{
		Agent:   agent,
		Role:    models.RoleUser,
		Content: content,
	})
	br := rt.branches.CreateChildBranch(msg, seed.SourceBranchID, seed.RecursionDepth)
	o.context.SetBranch(agent, msg.ID, br.ID)

	o.mu.Lock()
	o.hookSpawns[br.ID] = source
	o.mu.Unlock()
	return nil
}

// askFunc implements agentloop.AskFunc, resolving the branch back to the
// channel and user that started it.
func (o *Orchestrator) askFunc(ctx context.Context, agent string, branchID int64, action string) (bool, error) {
	origin, ok := o.originFor(branchID)
	if !ok {
		return false, fmt.Errorf("orchestrator: branch %d has no one to ask", branchID)
	}
	return o.asks.ask(ctx, o, origin.channelID, origin.userID, agent, branchID, action)
}

// Run starts every registered agent's gateway (once per distinct gateway
// instance — several agents may share one bot identity) and begins
// consuming inbound messages.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for _, gw := range o.distinctGateways() {
		if err := gw.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("orchestrator: starting gateway: %w", err)
		}
		o.wg.Add(1)
		go func(gw gateway.Gateway) {
			defer o.wg.Done()
			o.consume(runCtx, gw)
		}(gw)
	}
	return nil
}

// Shutdown stops every gateway, waits for their consume loops to drain,
// and shuts down the outbound limiter.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.cancel != nil {
		o.cancel()
	}
	for _, gw := range o.distinctGateways() {
		_ = gw.Stop(ctx)
	}
	o.wg.Wait()
	o.limiter.Shutdown(ctx)
	return nil
}

func (o *Orchestrator) distinctGateways() []gateway.Gateway {
	o.mu.RLock()
	defer o.mu.RUnlock()
	seen := make(map[gateway.Gateway]bool, len(o.byName))
	var out []gateway.Gateway
	for _, rt := range o.byName {
		if !seen[rt.gw] {
			seen[rt.gw] = true
			out = append(out, rt.gw)
		}
	}
	return out
}

func (o *Orchestrator) consume(ctx context.Context, gw gateway.Gateway) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-gw.Inbound():
			if !ok {
				return
			}
			o.handleInbound(ctx, msg)
		}
	}
}

// handleInbound runs the inbound algorithm: an ask-UI reply is consumed
// first and never reaches chat routing; otherwise the message routes to
// the channel's active thread or starts a new branch, is persisted, and
// its origin is recorded for the ask-UI and the eventual reply.
func (o *Orchestrator) handleInbound(ctx context.Context, msg gateway.InboundMessage) {
	if o.asks.resolve(msg.ChannelID, msg.UserID, msg.Content) {
		return
	}

	rt, ok := o.runtimeByChannel(msg.ChannelID)
	if !ok {
		return
	}
	o.metrics.MessagesRouted.WithLabelValues(msg.ChannelID, "inbound").Inc()

	o.mu.RLock()
	thread, hasThread := o.threads[msg.ChannelID]
	o.mu.RUnlock()

	raw := models.Message{
		Agent:     rt.cfg.Name,
		Role:      models.RoleUser,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
	// A reply into a known thread's branch id is known before routing even
	// happens, so it's stamped up front: Route's own branch assignment
	// races the goroutine it spawns against this function's continuation,
	// and GetWindow must see the real id from the moment that goroutine
	// starts, not after.
	if hasThread {
		raw.Branch = thread.branchID
	}
	chatMsg := o.context.Persist(raw)
	if o.store.Messages != nil {
		if err := o.store.Messages.SaveMessage(ctx, chatMsg); err != nil {
			o.logger.Warn(ctx, "persist inbound message failed", "agent", rt.cfg.Name, "error", err)
		}
	}

	var branchID int64
	if hasThread && rt.branches.Route(thread.outboundID, chatMsg) {
		branchID = thread.branchID
	} else {
		branchID = rt.branches.CreateBranch(chatMsg).ID
		o.context.SetBranch(rt.cfg.Name, chatMsg.ID, branchID)
	}

	o.mu.Lock()
	o.origins[branchID] = branchOrigin{channelID: msg.ChannelID, userID: msg.UserID}
	o.mu.Unlock()
}

func (o *Orchestrator) runtimeByName(name string) (*agentRuntime, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rt, ok := o.byName[name]
	return rt, ok
}

func (o *Orchestrator) runtimeByChannel(channelID string) (*agentRuntime, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rt, ok := o.byChannel[channelID]
	return rt, ok
}

func (o *Orchestrator) originFor(branchID int64) (branchOrigin, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	origin, ok := o.origins[branchID]
	return origin, ok
}

func (o *Orchestrator) releaseHookSpawn(branchID int64) (*hooks.Dispatcher, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.hookSpawns[branchID]
	if ok {
		delete(o.hookSpawns, branchID)
	}
	return d, ok
}

// routingSender adapts outbound.Limiter's single-Sender shape to Chorus's
// several gateway instances by resolving the bound agent's gateway per
// channel at send time.
type routingSender struct {
	o *Orchestrator
}

func (r *routingSender) Send(ctx context.Context, channelID, text string) (string, error) {
	rt, ok := r.o.runtimeByChannel(channelID)
	if !ok {
		return "", fmt.Errorf("orchestrator: no agent bound to channel %s", channelID)
	}
	return rt.gw.Send(ctx, channelID, text)
}

// dispatcherHandle breaks the constructor cycle between process.Manager
// (which needs a Dispatcher) and hooks.Dispatcher (which needs a
// ProcessKiller backed by that same process.Manager): the handle is handed
// to process.NewManager before the real dispatcher exists, then pointed at
// it once built. It also counts process lifecycle metrics.
type dispatcherHandle struct {
	d       *hooks.Dispatcher
	metrics *observability.Metrics
}

func (h *dispatcherHandle) OnSpawn(p *models.TrackedProcess) {
	h.metrics.ProcessesSpawned.WithLabelValues(p.Agent, string(p.Type)).Inc()
	h.d.OnSpawn(p)
}

func (h *dispatcherHandle) OnOutput(p *models.TrackedProcess, line string) {
	h.d.OnOutput(p, line)
}

func (h *dispatcherHandle) OnExit(p *models.TrackedProcess) {
	h.metrics.ProcessesExited.WithLabelValues(p.Agent, string(p.Status)).Inc()
	h.d.OnExit(p)
}

// spawnHandle breaks the same cycle for the BranchSpawner side: a hook
// dispatcher needs a spawner before it exists, and the spawner needs to
// know which dispatcher to release the spawn slot on afterward.
type spawnHandle struct {
	o      *Orchestrator
	source *hooks.Dispatcher
}

func (h *spawnHandle) SpawnFromHook(ctx context.Context, agent string, seed hooks.HookSeed) error {
	return h.o.spawnFromHook(ctx, agent, seed, h.source)
}

// killProcessRecorder, killBranchRecorder, injectRecorder and spawnRecorder
// count hook firings by action kind before forwarding to the real
// implementation.
type killProcessRecorder struct {
	inner   hooks.ProcessKiller
	metrics *observability.Metrics
}

func (r *killProcessRecorder) Kill(id string) bool {
	r.metrics.HookFirings.WithLabelValues("process", "stop_process").Inc()
	return r.inner.Kill(id)
}

type killBranchRecorder struct {
	inner   hooks.BranchKiller
	metrics *observability.Metrics
}

func (r *killBranchRecorder) Kill(branchID int64) bool {
	r.metrics.HookFirings.WithLabelValues("branch", "stop_branch").Inc()
	return r.inner.Kill(branchID)
}

type injectRecorder struct {
	inner   hooks.ContextInjector
	metrics *observability.Metrics
}

func (r *injectRecorder) Inject(branchID int64, text string) bool {
	r.metrics.HookFirings.WithLabelValues("branch", "inject_context").Inc()
	return r.inner.Inject(branchID, text)
}

type spawnRecorder struct {
	inner   hooks.BranchSpawner
	metrics *observability.Metrics
}

func (r *spawnRecorder) SpawnFromHook(ctx context.Context, agent string, seed hooks.HookSeed) error {
	r.metrics.HookFirings.WithLabelValues("branch", "spawn_branch").Inc()
	return r.inner.SpawnFromHook(ctx, agent, seed)
}

// auditRecorder wraps the durable audit log with metric recording so every
// permission decision both persists and counts toward
// chorus_tool_call_decisions_total.
type auditRecorder struct {
	store   store.AuditStore
	metrics *observability.Metrics
}

func (a *auditRecorder) Record(ctx context.Context, rec models.AuditRecord) error {
	a.metrics.ToolCallDecisions.WithLabelValues(rec.Agent, rec.ToolName, strings.ToLower(string(rec.Decision))).Inc()
	if a.store == nil {
		return nil
	}
	return a.store.Record(ctx, rec)
}

// runtimeEmitter forwards agentloop lifecycle events to Prometheus metrics
// and the branch's in-flight status message.
type runtimeEmitter struct {
	rt *agentRuntime
	o  *Orchestrator

	mu        sync.Mutex
	llmStarts map[int64]time.Time
}

func (e *runtimeEmitter) Emit(ev agentloop.Event) {
	switch ev.Type {
	case agentloop.EventLLMCallStart:
		e.mu.Lock()
		if e.llmStarts == nil {
			e.llmStarts = make(map[int64]time.Time)
		}
		e.llmStarts[ev.Branch] = ev.At
		e.mu.Unlock()

	case agentloop.EventLLMCallComplete:
		e.mu.Lock()
		start, ok := e.llmStarts[ev.Branch]
		delete(e.llmStarts, ev.Branch)
		e.mu.Unlock()
		if ok {
			e.o.metrics.LLMRequestDuration.WithLabelValues(e.rt.providerName, e.rt.cfg.Model).Observe(ev.At.Sub(start).Seconds())
		}
		e.o.metrics.LLMTokensUsed.WithLabelValues(e.rt.providerName, e.rt.cfg.Model, "input").Add(float64(ev.InputTokens))
		e.o.metrics.LLMTokensUsed.WithLabelValues(e.rt.providerName, e.rt.cfg.Model, "output").Add(float64(ev.OutputTokens))

	case agentloop.EventLoopComplete:
		if ev.Err != nil {
			e.o.logger.Warn(context.Background(), "loop completed with error", "agent", ev.Agent, "branch", ev.Branch, "error", ev.Err)
		}
	}

	if su := e.rt.statusFor(ev.Branch); su != nil {
		if text := statusText(ev); text != "" {
			su.Update(context.Background(), text)
		}
	}
}

func statusText(ev agentloop.Event) string {
	switch ev.Type {
	case agentloop.EventStepBegin:
		return ev.Text
	case agentloop.EventToolCallStart:
		return fmt.Sprintf("running %s...", ev.ToolName)
	case agentloop.EventPermissionAsk:
		return fmt.Sprintf("waiting on approval for %s", ev.Action)
	default:
		return ""
	}
}
