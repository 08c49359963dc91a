// Package orchestrator routes inbound requests through the
// intake -> plan -> delegate -> aggregate graph. The planner picks which
// specialized agents a task needs; delegate fans their invocations out in
// parallel, honoring declared data dependencies; aggregate merges whatever
// succeeded into one response.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/graph"
	"github.com/orchard-run/orchard/internal/memory"
	"github.com/orchard-run/orchard/internal/provider"
	"github.com/orchard-run/orchard/internal/store"
	"github.com/orchard-run/orchard/internal/thread"
	"github.com/orchard-run/orchard/internal/tools"
	"github.com/orchard-run/orchard/internal/usage"
)

// GraphName identifies orchestrator checkpoints.
const GraphName = "orchestrator"

// DefaultScoreThreshold gates agent inclusion on the minimum scoring axis.
const DefaultScoreThreshold = 0.5

// State value keys. Values survive checkpoint round trips as JSON, so every
// entry here is read back through checkpoint.ValueAs rather than type-asserted.
const (
	keyRequest  = "request"
	keyOwner    = "owner_id"
	keyPriority = "priority"
	keyTask     = "task"
	keyPlan     = "plan"
	keyContext  = "context"
	keyActions  = "actions"
	keySubtasks = "subtasks"
	keyOutcome  = "outcome"
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Store     *store.Store
	Saver     *checkpoint.Saver
	Threads   *thread.Manager
	Provider  provider.CompletionProvider
	Registry  *tools.Registry
	Memories  *memory.Service
	Usage     usage.Emitter
	Cancels   *graph.CancelRegistry
	Agents    []Agent
	Threshold float64
	// FanOutLimit bounds parallel delegate invocations. Zero means all at once.
	FanOutLimit int
}

// Orchestrator drives the four-stage routing graph.
type Orchestrator struct {
	engine   *graph.Engine
	store    *store.Store
	threads  *thread.Manager
	prov     provider.CompletionProvider
	registry *tools.Registry
	memories *memory.Service
	usage    usage.Emitter

	agents      []Agent
	threshold   float64
	fanOutLimit int
}

// New builds an orchestrator on the shared graph engine plumbing.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:       cfg.Store,
		threads:     cfg.Threads,
		prov:        cfg.Provider,
		registry:    cfg.Registry,
		memories:    cfg.Memories,
		usage:       cfg.Usage,
		agents:      cfg.Agents,
		threshold:   cfg.Threshold,
		fanOutLimit: cfg.FanOutLimit,
	}
	if len(o.agents) == 0 {
		o.agents = DefaultAgents()
	}
	if o.threshold == 0 {
		o.threshold = DefaultScoreThreshold
	}
	if o.usage == nil {
		o.usage = usage.LogEmitter{}
	}
	o.engine = graph.New(GraphName, []graph.Stage{
		{Name: "intake", Run: o.intake},
		{Name: "plan", Run: o.plan},
		{Name: "delegate", Run: o.delegate},
		{Name: "aggregate", Run: o.aggregate},
	}, cfg.Saver, cfg.Threads, cfg.Cancels)
	return o
}

// Engine exposes the underlying graph engine for cancellation and resume.
func (o *Orchestrator) Engine() *graph.Engine { return o.engine }

// Handle starts a fresh orchestration on a thread. Each turn counts as
// activity on the thread, which feeds the archival sweep.
func (o *Orchestrator) Handle(ctx context.Context, threadID, ownerID, text string, priority int) (*graph.Result, error) {
	if o.threads != nil {
		if err := o.threads.Touch(ctx, threadID); err != nil {
			slog.Warn("thread touch failed", "thread_id", threadID, "error", err)
		}
	}
	st := &checkpoint.State{}
	st.Set(keyRequest, text)
	st.Set(keyOwner, ownerID)
	st.Set(keyPriority, priority)
	return o.engine.Start(ctx, threadID, st)
}

// Resume continues an orchestration from its latest checkpoint.
func (o *Orchestrator) Resume(ctx context.Context, threadID string) (*graph.Result, error) {
	return o.engine.Resume(ctx, threadID)
}

// OutcomeOf decodes the merged outcome out of a terminal state.
func OutcomeOf(st *checkpoint.State) (Outcome, bool) {
	return checkpoint.ValueAs[Outcome](st, keyOutcome)
}

func (o *Orchestrator) intake(ctx context.Context, run *graph.Run) (graph.StageResult, error) {
	text, _ := checkpoint.ValueAs[string](run.State, keyRequest)
	text = strings.TrimSpace(text)
	if text == "" {
		return graph.StageResult{Fail: "empty request"}, nil
	}
	priority, _ := checkpoint.ValueAs[int](run.State, keyPriority)
	tc := TaskContext{
		Text:     text,
		Words:    NormalizeWords(text),
		Age:      0,
		Priority: priority,
	}
	run.State.Set(keyTask, tc)
	return graph.StageResult{}, nil
}

func (o *Orchestrator) plan(ctx context.Context, run *graph.Run) (graph.StageResult, error) {
	tc, ok := checkpoint.ValueAs[TaskContext](run.State, keyTask)
	if !ok {
		return graph.StageResult{Fail: "intake produced no task"}, nil
	}

	// Recent memories give the delegated agents prior decisions and
	// preferences as context. A search failure degrades to no context.
	ownerID, _ := checkpoint.ValueAs[string](run.State, keyOwner)
	var memCtx []string
	if o.memories != nil && ownerID != "" {
		hits, err := o.memories.Search(ctx, ownerID, tc.Text, 5)
		if err != nil {
			slog.Warn("planner memory search failed", "thread_id", run.ThreadID, "error", err)
		}
		for _, h := range hits {
			memCtx = append(memCtx, h.Memory.Content)
		}
	}
	run.State.Set(keyContext, memCtx)

	var selected []string
	for _, a := range o.agents {
		sc := ScoreAgent(tc, a.matchProfile())
		if sc.Min() < o.threshold {
			continue
		}
		selected = append(selected, a.Name)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return o.agentByName(selected[i]).Priority < o.agentByName(selected[j]).Priority
	})
	run.State.Set(keyPlan, selected)

	// Each agent sees the registered actions its capability tags admit, so
	// it proposes workflow follow-ups by name instead of inventing action
	// types it could never dispatch.
	if o.registry != nil {
		catalog := o.registry.List()
		byAgent := make(map[string][]string, len(selected))
		for _, name := range selected {
			a := o.agentByName(name)
			for _, act := range catalog {
				if !a.canUse(act) {
					continue
				}
				byAgent[name] = append(byAgent[name], fmt.Sprintf("%s (%s risk): %s", act.Name, act.Risk, act.Description))
			}
		}
		run.State.Set(keyActions, byAgent)
	}
	if len(selected) == 0 {
		slog.Info("no capable agent", "thread_id", run.ThreadID)
	}
	return graph.StageResult{}, nil
}

func (o *Orchestrator) delegate(ctx context.Context, run *graph.Run) (graph.StageResult, error) {
	plan, _ := checkpoint.ValueAs[[]string](run.State, keyPlan)
	if len(plan) == 0 {
		run.State.Set(keySubtasks, []Subtask{})
		return graph.StageResult{}, nil
	}
	tc, _ := checkpoint.ValueAs[TaskContext](run.State, keyTask)
	memCtx, _ := checkpoint.ValueAs[[]string](run.State, keyContext)
	actionsByAgent, _ := checkpoint.ValueAs[map[string][]string](run.State, keyActions)

	selected := make(map[string]bool, len(plan))
	for _, name := range plan {
		selected[name] = true
	}

	// Independent agents fan out in parallel; agents with dependencies wait
	// for the first wave and run sequentially with their inputs' outputs.
	var independent, dependent []Agent
	for _, name := range plan {
		a := o.agentByName(name)
		if o.hasSelectedDependency(a, selected) {
			dependent = append(dependent, a)
		} else {
			independent = append(independent, a)
		}
	}

	var (
		mu      sync.Mutex
		byAgent = make(map[string]Subtask, len(plan))
		tokens  int
	)
	g, gctx := errgroup.WithContext(ctx)
	if o.fanOutLimit > 0 {
		g.SetLimit(o.fanOutLimit)
	}
	for _, a := range independent {
		a := a
		g.Go(func() error {
			sub, used := o.invoke(gctx, a, tc, memCtx, actionsByAgent[a.Name], nil)
			mu.Lock()
			byAgent[a.Name] = sub
			tokens += used
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return graph.StageResult{}, err
	}

	for _, a := range dependent {
		var inputs []string
		skipped := false
		for _, dep := range a.DependsOn {
			prior, ok := byAgent[dep]
			if !ok {
				continue // dependency not selected this run
			}
			if prior.Status != SubtaskCompleted {
				skipped = true
				break
			}
			inputs = append(inputs, fmt.Sprintf("%s: %s", dep, prior.Output))
		}
		if skipped {
			byAgent[a.Name] = Subtask{Agent: a.Name, Status: SubtaskSkipped, Error: "dependency failed"}
			continue
		}
		sub, used := o.invoke(ctx, a, tc, memCtx, actionsByAgent[a.Name], inputs)
		byAgent[a.Name] = sub
		tokens += used
	}

	subtasks := make([]Subtask, 0, len(plan))
	failed := 0
	for _, name := range plan {
		sub := byAgent[name]
		subtasks = append(subtasks, sub)
		if sub.Status == SubtaskFailed {
			failed++
		}
	}
	// A run where every invocation failed has produced nothing worth
	// aggregating; surface the failure so the queue retries the whole job.
	if failed == len(subtasks) {
		return graph.StageResult{}, fmt.Errorf("all %d delegated agents failed: %s", failed, subtasks[0].Error)
	}

	run.State.Set(keySubtasks, subtasks)
	o.addUsage(run.State, tokens)
	return graph.StageResult{}, nil
}

func (o *Orchestrator) aggregate(ctx context.Context, run *graph.Run) (graph.StageResult, error) {
	subtasks, _ := checkpoint.ValueAs[[]Subtask](run.State, keySubtasks)
	out := Outcome{Subtasks: subtasks}
	if len(subtasks) == 0 {
		out.NoCapableAgent = true
		out.Summary = "no capable agent for this request"
	} else {
		var parts, failures []string
		for _, sub := range subtasks {
			switch sub.Status {
			case SubtaskCompleted:
				parts = append(parts, sub.Output)
			default:
				failures = append(failures, fmt.Sprintf("%s (%s)", sub.Agent, sub.Status))
			}
		}
		out.Summary = strings.Join(parts, "\n\n")
		if len(failures) > 0 {
			out.Summary += "\n\n[incomplete: " + strings.Join(failures, ", ") + " did not produce output]"
		}
	}
	run.State.Set(keyOutcome, out)

	o.audit(ctx, run, out)
	return graph.StageResult{}, nil
}

// invoke runs one agent's completion call. Failures are recorded on the
// subtask, never returned, so a single bad agent cannot sink the fan-out.
func (o *Orchestrator) invoke(ctx context.Context, a Agent, tc TaskContext, memCtx, actions, inputs []string) (Subtask, int) {
	started := time.Now()
	msgs := []provider.Message{{Role: "system", Content: a.Persona}}
	if len(memCtx) > 0 {
		msgs = append(msgs, provider.Message{Role: "system", Content: "Relevant context:\n" + strings.Join(memCtx, "\n")})
	}
	if len(actions) > 0 {
		msgs = append(msgs, provider.Message{Role: "system", Content: "Available actions:\n" + strings.Join(actions, "\n")})
	}
	for _, in := range inputs {
		msgs = append(msgs, provider.Message{Role: "user", Content: "Upstream output from " + in})
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: tc.Text})

	comp, err := o.prov.Complete(ctx, &provider.Request{Messages: msgs})
	if err != nil {
		slog.Warn("agent invocation failed", "agent", a.Name, "error", err, "duration", time.Since(started))
		return Subtask{Agent: a.Name, Status: SubtaskFailed, Error: err.Error()}, 0
	}
	return Subtask{Agent: a.Name, Status: SubtaskCompleted, Output: comp.Text}, comp.Usage.TotalTokens
}

func (o *Orchestrator) audit(ctx context.Context, run *graph.Run, out Outcome) {
	ownerID, _ := checkpoint.ValueAs[string](run.State, keyOwner)
	status := "completed"
	if out.NoCapableAgent {
		status = "no_capable_agent"
	}
	tokens := 0
	if run.State.Usage != nil {
		tokens = run.State.Usage["total_tokens"]
	}
	o.usage.Emit(usage.Event{
		ThreadID:    run.ThreadID,
		OwnerID:     ownerID,
		Kind:        "completion",
		Status:      status,
		TotalTokens: tokens,
		At:          time.Now().UTC(),
	})
	if o.store == nil {
		return
	}
	detail, _ := json.Marshal(out.Subtasks)
	err := o.store.InsertExecutionLog(ctx, &store.ExecutionLog{
		ThreadID:    run.ThreadID,
		Stage:       "aggregate",
		Status:      status,
		Detail:      string(detail),
		TotalTokens: tokens,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("execution log write failed", "thread_id", run.ThreadID, "error", err)
	}
}

func (o *Orchestrator) addUsage(st *checkpoint.State, tokens int) {
	if st.Usage == nil {
		st.Usage = make(map[string]int)
	}
	st.Usage["total_tokens"] += tokens
}

func (o *Orchestrator) agentByName(name string) Agent {
	for _, a := range o.agents {
		if a.Name == name {
			return a
		}
	}
	return Agent{Name: name}
}

func (o *Orchestrator) hasSelectedDependency(a Agent, selected map[string]bool) bool {
	for _, dep := range a.DependsOn {
		if selected[dep] {
			return true
		}
	}
	return false
}

