// Package reactor runs the orchestrator's dispatch loop: on every
// wakeup it rescores every non-terminal task's priority, loads the
// ready queue, checks concurrency budget, spawn limits, and per-template
// circuit breakers, then runs task attempts through internal/executor.
// It both ticks on a timer and wakes early on task lifecycle events,
// rather than polling the store in a tight loop.
package reactor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/odgrim/abathur/internal/audit"
	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/egress"
	"github.com/odgrim/abathur/internal/evolution"
	"github.com/odgrim/abathur/internal/executor"
	"github.com/odgrim/abathur/internal/priority"
	"github.com/odgrim/abathur/internal/resolver"
	"github.com/odgrim/abathur/internal/shared"
	"github.com/odgrim/abathur/internal/store"
)

// Config controls the reactor's dispatch loop.
type Config struct {
	Store         *store.Store
	Bus           *bus.Bus
	Executor      *executor.Executor
	Egress        egress.Publisher // defaults to egress.NoopPublisher if nil
	Evolution     *evolution.Loop  // nil disables outcome-window tracking
	Weights       priority.Weights // defaults to priority.DefaultWeights if zero
	Logger        *slog.Logger
	Concurrency   int           // base concurrency C, before budget scaling
	PollInterval  time.Duration // tick interval; also the stall detector's check_interval
	Budget        BudgetConfig
	BreakerConfig BreakerConfig
	Limits        Limits
}

// BreakerConfig holds the per-template circuit breaker's tunables.
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Limits == (Limits{}) {
		c.Limits = DefaultLimits()
	}
	if c.Egress == nil {
		c.Egress = egress.NoopPublisher{}
	}
	if c.Weights == (priority.Weights{}) {
		c.Weights = priority.DefaultWeights()
	}
	return c
}

// Reactor is the orchestrator's single dispatch loop instance.
type Reactor struct {
	store    *store.Store
	bus      *bus.Bus
	exec     *executor.Executor
	egress   egress.Publisher
	evo      *evolution.Loop
	weights  priority.Weights
	logger   *slog.Logger
	config   Config
	budget   *BudgetTracker
	breakers *TemplateBreakers
	stalls   *StallDetector

	sem    chan struct{}
	active sync.WaitGroup

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Reactor from cfg, defaulting unset fields.
func New(cfg Config) *Reactor {
	cfg = cfg.withDefaults()
	return &Reactor{
		store:    cfg.Store,
		bus:      cfg.Bus,
		exec:     cfg.Executor,
		egress:   cfg.Egress,
		evo:      cfg.Evolution,
		weights:  cfg.Weights,
		logger:   cfg.Logger,
		config:   cfg,
		budget:   NewBudgetTracker(cfg.Budget),
		breakers: NewTemplateBreakers(cfg.BreakerConfig.Threshold, cfg.BreakerConfig.Cooldown),
		stalls:   NewStallDetector(cfg.PollInterval),
		sem:      make(chan struct{}, cfg.Concurrency),
	}
}

// RecordCost feeds a task attempt's estimated USD cost into the
// reactor's budget tracker, so later ticks dispatch with reduced
// concurrency once spend crosses the configured thresholds.
func (r *Reactor) RecordCost(usd float64) {
	r.budget.RecordCost(usd)
}

// Start runs the dispatch loop in a background goroutine until ctx is
// canceled or Stop is called.
func (r *Reactor) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop cancels the dispatch loop and waits for in-flight task attempts
// to return.
func (r *Reactor) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.active.Wait()
}

func (r *Reactor) loop(ctx context.Context) {
	defer r.wg.Done()

	sub := r.bus.Subscribe("task.")
	defer r.bus.Unsubscribe(sub)

	mergeSub := r.bus.Subscribe("merge.")
	defer r.bus.Unsubscribe(mergeSub)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			r.stalls.Touch(correlationFor(ev), time.Now())
			r.tick(ctx)
		case ev, ok := <-mergeSub.Ch():
			if !ok {
				return
			}
			r.handleMergeEvent(ctx, ev)
			r.tick(ctx)
		}
	}
}

// handleMergeEvent enqueues a merge-conflict-resolver specialist task
// whenever a two-stage merge reports an unresolved conflict. Successful
// merge-stage events (merge.stage_complete) carry no conflict payload
// and are ignored here.
func (r *Reactor) handleMergeEvent(ctx context.Context, ev bus.Event) {
	conflict, ok := ev.Payload.(bus.MergeConflictEvent)
	if !ok {
		return
	}
	if _, err := EnqueueMergeConflictResolver(ctx, r.store.Tasks, conflict.TaskID, conflict.Stage, conflict.ParentBranch, conflict.ConflictFiles); err != nil {
		r.logger.Error("reactor: enqueue merge conflict resolver failed", "task_id", conflict.TaskID, "stage", conflict.Stage, "error", err)
		return
	}
	audit.Record(ctx, "reactor", "merge_conflict_resolver_enqueued", conflict.TaskID, conflict.Stage)
}

// tick loads the ready queue up to the budget-scaled concurrency and
// dispatches every task not gated by a spawn-limit breach or a tripped
// circuit breaker. It also sweeps active goals for stalls.
func (r *Reactor) tick(ctx context.Context) {
	r.recomputePriorities(ctx)

	capacity := r.budget.Concurrency(r.config.Concurrency)
	ready, err := r.store.Tasks.ReadyQueue(ctx, capacity)
	if err != nil {
		r.logger.Error("reactor: load ready queue failed", "error", err)
		return
	}

	for _, task := range ready {
		task := task
		if r.breakers.Tripped(task.TemplateName) {
			continue
		}

		breach, err := r.config.Limits.Check(ctx, r.store.Tasks, task.ID)
		if err != nil {
			r.logger.Error("reactor: spawn limit check failed", "task_id", task.ID, "error", err)
			continue
		}
		if breach != BreachNone {
			if _, err := EnqueueLimitEvaluation(ctx, r.store.Tasks, task.ID, breach); err != nil {
				r.logger.Error("reactor: enqueue limit evaluation failed", "task_id", task.ID, "breach", string(breach), "error", err)
			} else {
				audit.Record(ctx, "reactor", "spawn_limit_breach", task.ID, string(breach))
			}
			continue
		}

		select {
		case r.sem <- struct{}{}:
		default:
			continue // at budget-scaled capacity for this tick
		}
		r.active.Add(1)
		go func() {
			defer r.active.Done()
			defer func() { <-r.sem }()
			r.dispatch(ctx, task)
		}()
	}

	r.sweepStalls(ctx)
}

// recomputePriorities rescans every non-terminal task's position in the
// dependency graph and rewrites its calculated_priority, so ReadyQueue's
// ordering reflects the current wait time, blocking count, and
// dependency depth rather than a stale score from submission time.
func (r *Reactor) recomputePriorities(ctx context.Context) {
	graph, err := resolver.Load(ctx, r.store.Deps)
	if err != nil {
		r.logger.Error("reactor: load dependency graph failed", "error", err)
		return
	}
	tasks, err := r.store.Tasks.NonTerminal(ctx)
	if err != nil {
		r.logger.Error("reactor: load non-terminal tasks failed", "error", err)
		return
	}
	now := time.Now()
	for _, task := range tasks {
		score := priority.Score(priority.Input{
			Task:            task,
			DependencyDepth: graph.Depth(task.ID),
			BlockingCount:   len(graph.DirectDependents(task.ID)),
			Now:             now,
		}, r.weights)
		if err := r.store.Tasks.SetCalculatedPriority(ctx, task.ID, score); err != nil {
			r.logger.Error("reactor: set calculated priority failed", "task_id", task.ID, "error", err)
		}
	}
}

// dispatch runs one attempt of task through the executor. Retry-worthy
// failures are handled inside executor.RunAttempt itself (it requeues
// the task to Pending on a transient failure); the reactor only tracks
// the outcome against that template's circuit breaker, since a task
// that failed its transition back out of Running is no longer Ready
// and will reappear in a later ready-queue load once it unblocks again.
func (r *Reactor) dispatch(ctx context.Context, task store.Task) {
	attempt := task.RetryCount + 1
	runErr := r.exec.RunAttempt(ctx, task.ID, attempt)
	if runErr != nil {
		r.breakers.RecordFailure(task.TemplateName)
		r.logger.Warn("reactor: task attempt failed", "task_id", task.ID, "template", task.TemplateName, "error", runErr)
	} else {
		r.breakers.RecordSuccess(task.TemplateName)
	}
	r.publishTerminal(ctx, task.ID)
}

// publishTerminal checks whether taskID landed in a terminal status
// after this attempt and, if so, hands an EgressAction to the
// configured publisher — the engine's only outbound contact with an
// external tracker — and feeds the outcome into the evolution loop's
// per-template success window.
func (r *Reactor) publishTerminal(ctx context.Context, taskID string) {
	final, err := r.store.Tasks.Get(ctx, taskID)
	if err != nil {
		r.logger.Error("reactor: reload task for egress failed", "task_id", taskID, "error", err)
		return
	}
	var status string
	var succeeded bool
	switch final.Status {
	case store.TaskStatusComplete:
		status, succeeded = "complete", true
	case store.TaskStatusFailed:
		status = "failed"
	case store.TaskStatusCancelled:
		status = "cancelled"
	default:
		return
	}
	if err := r.egress.Publish(ctx, egress.Action{Kind: egress.ActionUpdateStatus, ExternalID: taskID, NewStatus: status}); err != nil {
		r.logger.Warn("reactor: egress publish failed", "task_id", taskID, "error", err)
	}

	if r.evo != nil && final.TemplateName != "" {
		if err := r.evo.RecordOutcome(ctx, final.TemplateName, final.TemplateVersion, taskID, "task_attempt", succeeded); err != nil {
			r.logger.Error("reactor: record evolution outcome failed", "task_id", taskID, "error", err)
		}
	}
}

// sweepStalls checks every active goal's last-activity timestamp and
// emits HumanEscalationRequired (deduped per goal id) for any goal that
// has gone silent for 2x the poll interval.
func (r *Reactor) sweepStalls(ctx context.Context) {
	goals, err := r.store.Goals.ListActive(ctx)
	if err != nil {
		r.logger.Error("reactor: list active goals failed", "error", err)
		return
	}
	now := time.Now()
	for _, g := range goals {
		if r.stalls.CheckStalled(g.ID, now) {
			r.bus.PublishCorrelated(bus.TopicHumanEscalation, bus.HumanEscalationEvent{
				CorrelationID: g.ID,
				Reason:        "no state change or running tasks for 2x check interval",
			}, g.ID)
		}
	}
}

// Halt stops the dispatch loop immediately and raises a human
// escalation, the reactor-level response to a fatal error (never a
// process panic).
func (r *Reactor) Halt(reason string) {
	r.logger.Error("reactor: halting dispatch loop", "reason", reason)
	audit.Record(context.Background(), "reactor", "halt", "", reason)
	if r.bus != nil {
		r.bus.Publish(bus.TopicHumanEscalation, bus.HumanEscalationEvent{Reason: reason})
	}
	if r.cancel != nil {
		r.cancel()
	}
}

func correlationFor(ev bus.Event) string {
	if ev.CorrelationID != "" {
		return ev.CorrelationID
	}
	switch p := ev.Payload.(type) {
	case bus.TaskStateChangedEvent:
		return p.TaskID
	default:
		return shared.CorrelationID(context.Background())
	}
}
