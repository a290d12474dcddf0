// Package hooks implements the hook dispatcher of spec §4.10: background
// processes carry a list of Trigger→Action callbacks, and this package is
// what actually watches for ON_EXIT, ON_OUTPUT_MATCH, and ON_TIMEOUT
// triggers firing and performs their STOP_PROCESS, STOP_BRANCH,
// INJECT_CONTEXT, and SPAWN_BRANCH actions.
//
// Grounded on nexus's internal/hooks/registry.go: a slog-backed dispatcher,
// panic-safe handler invocation, and the same "log and move on" error
// posture. Generalized from that file's open pub/sub event bus (arbitrary
// EventType keys, any number of registered handlers) to the spec's fixed,
// closed set of three process triggers and four actions scoped to a single
// process's own callback list rather than a global registry.
package hooks

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/George-Strauch/Chorus/pkg/models"
)

// defaultOutputMatchDelay is spec's default accumulation window for
// ON_OUTPUT_MATCH before it fires with the buffered trailing output.
const defaultOutputMatchDelay = 2 * time.Second

// DefaultMaxDepth is spec's default ceiling on recursion_depth for
// SPAWN_BRANCH actions.
const DefaultMaxDepth = 3

// DefaultMaxConcurrentSpawns is spec's default ceiling on in-flight
// hook-spawned branches at any one time.
const DefaultMaxConcurrentSpawns = 3

// ProcessKiller lets a STOP_PROCESS action reach the process manager.
// Satisfied by *process.Manager.
type ProcessKiller interface {
	Kill(id string) bool
}

// BranchKiller lets a STOP_BRANCH action reach the branch manager.
// Satisfied by *branch.Manager. A no-op for a BACKGROUND process with no
// live parent branch: Kill already treats an unknown or terminal branch id
// as a no-op.
type BranchKiller interface {
	Kill(branchID int64) bool
}

// ContextInjector lets an INJECT_CONTEXT action push text onto a branch's
// resume queue. Satisfied by *branch.Manager.
type ContextInjector interface {
	Inject(branchID int64, text string) bool
}

// HookSeed is the structured seed a SPAWN_BRANCH action hands to the
// orchestrator: the callback's configured instruction plus enough process
// context for the new branch to act without re-discovering what fired it.
type HookSeed struct {
	Instruction      string
	ProcessID        string
	Command          string
	RecentOutput     string
	RecursionDepth   int
	SourceBranchID   int64
	SourceBranchType models.SpawnType
}

// BranchSpawner lets a SPAWN_BRANCH action reach the orchestrator, which
// owns the permission-profile wiring a new branch needs. Hook-spawned
// branches always get the agent's normal, non-elevated profile — the
// orchestrator enforces that, not this package.
type BranchSpawner interface {
	SpawnFromHook(ctx context.Context, agent string, seed HookSeed) error
}

type callbackState struct {
	mu        sync.Mutex
	fireCount int
	pending   bool
	buffer    []string
}

// Dispatcher watches every process's callback list for its triggers and
// performs its actions. The orchestrator builds one Dispatcher per agent.
type Dispatcher struct {
	processes ProcessKiller
	branches  BranchKiller
	injector  ContextInjector
	spawner   BranchSpawner

	maxDepth            int
	maxConcurrentSpawns int

	mu       sync.Mutex
	states   map[string]map[int]*callbackState
	patterns map[string]*regexp.Regexp
	inFlight int

	logger *slog.Logger
}

// NewDispatcher builds a dispatcher. Any of processes/branches/injector/
// spawner may be nil, in which case the corresponding action is a silent
// no-op rather than a panic — a process with a dangling
// action reference shouldn't crash the host.
func NewDispatcher(processes ProcessKiller, branches BranchKiller, injector ContextInjector, spawner BranchSpawner, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		processes:           processes,
		branches:            branches,
		injector:            injector,
		spawner:             spawner,
		maxDepth:            DefaultMaxDepth,
		maxConcurrentSpawns: DefaultMaxConcurrentSpawns,
		states:              make(map[string]map[int]*callbackState),
		patterns:            make(map[string]*regexp.Regexp),
		logger:              logger.With("component", "hooks"),
	}
}

// WithLimits overrides the default MAX_DEPTH and concurrent-spawn ceiling.
func (d *Dispatcher) WithLimits(maxDepth, maxConcurrentSpawns int) *Dispatcher {
	d.maxDepth = maxDepth
	d.maxConcurrentSpawns = maxConcurrentSpawns
	return d
}

func (d *Dispatcher) stateFor(processID string, index int) *callbackState {
	d.mu.Lock()
	defer d.mu.Unlock()
	byIndex, ok := d.states[processID]
	if !ok {
		byIndex = make(map[int]*callbackState)
		d.states[processID] = byIndex
	}
	s, ok := byIndex[index]
	if !ok {
		s = &callbackState{}
		byIndex[index] = s
	}
	return s
}

func (d *Dispatcher) forget(processID string) {
	d.mu.Lock()
	delete(d.states, processID)
	d.mu.Unlock()
}

func (d *Dispatcher) compile(pattern string) (*regexp.Regexp, error) {
	d.mu.Lock()
	if re, ok := d.patterns[pattern]; ok {
		d.mu.Unlock()
		return re, nil
	}
	d.mu.Unlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.patterns[pattern] = re
	d.mu.Unlock()
	return re, nil
}

// OnSpawn implements process.Dispatcher. It arms a timer for every
// ON_TIMEOUT callback the process carries.
func (d *Dispatcher) OnSpawn(proc *models.TrackedProcess) {
	for i, cb := range proc.Callbacks {
		if cb.Trigger != models.TriggerOnTimeout {
			continue
		}
		index := i
		delay := time.Duration(cb.DelaySeconds * float64(time.Second))
		if delay <= 0 {
			continue
		}
		time.AfterFunc(delay, func() {
			d.fire(context.Background(), proc, index, "")
		})
	}
}

// OnOutput implements process.Dispatcher. Every ON_OUTPUT_MATCH callback
// whose pattern matches line starts (or extends) an accumulation window;
// the callback fires once the window elapses, carrying everything that
// arrived during it.
func (d *Dispatcher) OnOutput(proc *models.TrackedProcess, line string) {
	for i, cb := range proc.Callbacks {
		if cb.Trigger != models.TriggerOnOutputMatch {
			continue
		}
		d.observeOutputMatch(proc, i, cb, line)
	}
}

func (d *Dispatcher) observeOutputMatch(proc *models.TrackedProcess, index int, cb models.Callback, line string) {
	state := d.stateFor(proc.ID, index)

	state.mu.Lock()
	if state.pending {
		state.buffer = append(state.buffer, line)
		state.mu.Unlock()
		return
	}
	state.mu.Unlock()

	re, err := d.compile(cb.Pattern)
	if err != nil {
		d.logger.Warn("invalid hook pattern", "process", proc.ID, "pattern", cb.Pattern, "error", err)
		return
	}
	if !re.MatchString(line) {
		return
	}

	state.mu.Lock()
	if state.pending {
		// Lost the race with another goroutine's match; just accumulate.
		state.buffer = append(state.buffer, line)
		state.mu.Unlock()
		return
	}
	state.pending = true
	state.buffer = []string{line}
	state.mu.Unlock()

	delay := time.Duration(cb.DelaySeconds * float64(time.Second))
	if delay <= 0 {
		delay = defaultOutputMatchDelay
	}
	time.AfterFunc(delay, func() {
		state.mu.Lock()
		buffer := append([]string(nil), state.buffer...)
		state.pending = false
		state.mu.Unlock()
		d.fire(context.Background(), proc, index, strings.Join(buffer, "\n"))
	})
}

// OnExit implements process.Dispatcher.
func (d *Dispatcher) OnExit(proc *models.TrackedProcess) {
	for i, cb := range proc.Callbacks {
		if cb.Trigger != models.TriggerOnExit {
			continue
		}
		if !matchesExitFilter(cb.Filter, proc.ExitCode) {
			continue
		}
		d.fire(context.Background(), proc, i, "")
	}
}

func matchesExitFilter(filter models.ExitFilter, code *int) bool {
	switch filter {
	case models.ExitSuccess:
		return code != nil && *code == 0
	case models.ExitFailure:
		return code == nil || *code != 0
	default:
		return true
	}
}

// fire applies max_fires disarming, increments fire_count, and performs the
// callback's action. Safe to call from any goroutine (timers, output
// readers, the exit path).
func (d *Dispatcher) fire(ctx context.Context, proc *models.TrackedProcess, index int, buffer string) {
	if index < 0 || index >= len(proc.Callbacks) {
		return
	}
	cb := proc.Callbacks[index]

	state := d.stateFor(proc.ID, index)
	state.mu.Lock()
	max := cb.MaxFires
	if max <= 0 {
		max = 1
	}
	if state.fireCount >= max {
		state.mu.Unlock()
		return
	}
	state.fireCount++
	state.mu.Unlock()

	d.logger.Info("hook fired", "process", proc.ID, "agent", proc.Agent, "trigger", cb.Trigger, "action", cb.Action)

	switch cb.Action {
	case models.ActionStopProcess:
		d.stopProcess(proc)
	case models.ActionStopBranch:
		d.stopBranch(proc)
	case models.ActionInjectContext:
		d.injectContext(proc, cb)
	case models.ActionSpawnBranch:
		d.spawnBranch(ctx, proc, cb, buffer)
	default:
		d.logger.Warn("unknown hook action", "action", cb.Action)
	}
}

func (d *Dispatcher) stopProcess(proc *models.TrackedProcess) {
	if d.processes == nil {
		return
	}
	d.processes.Kill(proc.ID)
}

func (d *Dispatcher) stopBranch(proc *models.TrackedProcess) {
	if d.branches == nil || proc.Branch == 0 {
		return
	}
	d.branches.Kill(proc.Branch)
}

func (d *Dispatcher) injectContext(proc *models.TrackedProcess, cb models.Callback) {
	if d.injector == nil || proc.Branch == 0 {
		return
	}
	d.injector.Inject(proc.Branch, cb.Prompt)
}

// spawnBranch enforces spec §4.10's two safety valves before handing off to
// the orchestrator: recursion depth may not exceed maxDepth, and at most
// maxConcurrentSpawns hook-spawned branches may be in flight at once. The
// orchestrator must call ReleaseSpawnSlot once the branch it created from
// this seed finishes running.
func (d *Dispatcher) spawnBranch(ctx context.Context, proc *models.TrackedProcess, cb models.Callback, buffer string) {
	depth := proc.RecursionDepth + 1
	if depth > d.maxDepth {
		d.logger.Warn("spawn_branch rejected: recursion depth exceeded", "process", proc.ID, "depth", depth, "max", d.maxDepth)
		return
	}
	if !d.tryAcquireSpawnSlot() {
		d.logger.Warn("spawn_branch rejected: concurrency limit reached", "process", proc.ID, "limit", d.maxConcurrentSpawns)
		return
	}
	if d.spawner == nil {
		d.releaseSpawnSlot()
		return
	}

	seed := HookSeed{
		Instruction:      cb.Prompt,
		ProcessID:        proc.ID,
		Command:          proc.Command,
		RecentOutput:     recentOutput(proc, buffer),
		RecursionDepth:   depth,
		SourceBranchID:   proc.Branch,
		SourceBranchType: proc.Type,
	}
	if err := d.spawner.SpawnFromHook(ctx, proc.Agent, seed); err != nil {
		d.logger.Warn("spawn_branch failed", "process", proc.ID, "error", err)
		d.releaseSpawnSlot()
	}
}

func recentOutput(proc *models.TrackedProcess, buffer string) string {
	if buffer != "" {
		return buffer
	}
	return strings.Join(proc.OutputTail, "\n")
}

func (d *Dispatcher) tryAcquireSpawnSlot() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight >= d.maxConcurrentSpawns {
		return false
	}
	d.inFlight++
	return true
}

// ReleaseSpawnSlot frees one slot in the hook-spawned-branch concurrency
// gate. The orchestrator calls this when a branch it created via
// SpawnFromHook reaches a terminal status.
func (d *Dispatcher) ReleaseSpawnSlot() {
	d.mu.Lock()
	if d.inFlight > 0 {
		d.inFlight--
	}
	d.mu.Unlock()
}

func (d *Dispatcher) releaseSpawnSlot() {
	d.ReleaseSpawnSlot()
}
