// File: internal/orchestrator/orchestrator.go
// Description: Dependency-aware task scheduler for the content production
// funnel. It owns the task store, dispatches eligible work in priority order
// on a fixed tick, and carries the emergency-stop circuit breaker that halts
// both task dispatch and downstream spend.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/promoflow/promoflow/api/schemas"
	"github.com/promoflow/promoflow/internal/config"
)

// Executor runs a single task and reports its outcome. Implementations must
// honor ctx cancellation; the scheduler never retries a failed execution.
type Executor interface {
	Execute(ctx context.Context, task schemas.Task) (schemas.TaskResult, error)
}

// ArmFeedback receives the financial outcome of completed tasks.
type ArmFeedback interface {
	Update(armID string, revenue, spend float64, clicks, conversions int64) (schemas.Arm, error)
}

// SpendHalter is the slice of the spend governor the circuit breaker drives.
type SpendHalter interface {
	EmergencyStop(reason string)
	Resume()
}

// Orchestrator schedules tasks against their dependency graph. All task state
// lives in memory behind a single mutex; dispatch batches run concurrently
// but state transitions are serialized.
type Orchestrator struct {
	cfg       config.SchedulerConfig
	logger    *zap.Logger
	sink      schemas.LogSink
	executors map[schemas.TaskType]Executor
	arms      ArmFeedback
	governor  SpendHalter

	now func() time.Time

	mu         sync.Mutex
	tasks      map[string]*schemas.Task
	order      []string
	stopped    bool
	stopReason string

	// tickInProgress keeps slow ticks from stacking; a tick that fires while
	// the previous one is still dispatching is skipped outright.
	tickInProgress atomic.Bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the scheduler's time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator with its collaborators provided as interfaces,
// keeping the scheduler decoupled from the concrete funnel stages.
func New(
	cfg config.SchedulerConfig,
	executors map[schemas.TaskType]Executor,
	arms ArmFeedback,
	governor SpendHalter,
	logger *zap.Logger,
	sink schemas.LogSink,
	opts ...Option,
) (*Orchestrator, error) {
	if logger == nil || sink == nil {
		return nil, errors.New("cannot initialize orchestrator with nil observability")
	}
	if len(executors) == 0 {
		return nil, errors.New("cannot initialize orchestrator without executors")
	}
	if arms == nil || governor == nil {
		return nil, errors.New("cannot initialize orchestrator with nil collaborators")
	}

	o := &Orchestrator{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "orchestrator")),
		sink:      sink,
		executors: executors,
		arms:      arms,
		governor:  governor,
		now:       time.Now,
		tasks:     make(map[string]*schemas.Task),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// CreateTask validates a spec against the current graph and stores the new
// task as pending. Unknown dependency ids are rejected, as is any spec that
// would close a dependency cycle.
func (o *Orchestrator) CreateTask(spec schemas.TaskSpec) (schemas.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.createLocked(spec)
}

func (o *Orchestrator) createLocked(spec schemas.TaskSpec) (schemas.Task, error) {
	if _, ok := o.executors[spec.Type]; !ok {
		return schemas.Task{}, fmt.Errorf("no executor for task type %q: %w", spec.Type, schemas.ErrInvalidState)
	}
	for _, dep := range spec.Dependencies {
		if _, ok := o.tasks[dep]; !ok {
			return schemas.Task{}, fmt.Errorf("dependency %q: %w", dep, schemas.ErrNotFound)
		}
	}

	id := uuid.New().String()
	if o.wouldCycleLocked(id, spec.Dependencies) {
		return schemas.Task{}, fmt.Errorf("task %s: %w", id, schemas.ErrDependencyCycle)
	}

	task := &schemas.Task{
		ID:              id,
		Type:            spec.Type,
		Status:          schemas.TaskPending,
		Priority:        spec.Priority,
		StreamKey:       spec.StreamKey,
		ArmID:           spec.ArmID,
		Payload:         spec.Payload,
		Dependencies:    append([]string(nil), spec.Dependencies...),
		EstimatedCost:   spec.EstimatedCost,
		ExpectedRevenue: spec.ExpectedRevenue,
		CreatedAt:       o.now().UTC(),
	}
	o.tasks[id] = task
	o.order = append(o.order, id)

	o.logger.Debug("Task created",
		zap.String("task_id", id),
		zap.String("type", string(spec.Type)),
		zap.Strings("dependencies", spec.Dependencies),
	)
	return *task, nil
}

// wouldCycleLocked walks the dependency closure of the candidate edges and
// reports whether the new task id becomes reachable from itself.
func (o *Orchestrator) wouldCycleLocked(id string, deps []string) bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), deps...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == id {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if t, ok := o.tasks[cur]; ok {
			stack = append(stack, t.Dependencies...)
		}
	}
	return false
}

// Get returns a copy of a task by id.
func (o *Orchestrator) Get(taskID string) (schemas.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[taskID]
	if !ok {
		return schemas.Task{}, fmt.Errorf("task %q: %w", taskID, schemas.ErrNotFound)
	}
	return *t, nil
}

// List returns copies of all tasks in creation order.
func (o *Orchestrator) List() []schemas.Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]schemas.Task, 0, len(o.order))
	for _, id := range o.order {
		if t, ok := o.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// Counts returns the number of tasks per status plus the breaker state.
func (o *Orchestrator) Counts() (map[schemas.TaskStatus]int, bool, string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	counts := make(map[schemas.TaskStatus]int)
	for _, t := range o.tasks {
		counts[t.Status]++
	}
	return counts, o.stopped, o.stopReason
}

// RunTickOnce performs one scheduling pass: fail tasks whose dependencies
// failed, then dispatch the highest-priority eligible tasks up to the
// concurrency cap and wait for the batch to finish. Overlapping invocations
// are skipped rather than queued.
func (o *Orchestrator) RunTickOnce(ctx context.Context) int {
	if !o.tickInProgress.CompareAndSwap(false, true) {
		o.logger.Debug("Tick still in progress, skipping")
		return 0
	}
	defer o.tickInProgress.Store(false)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return 0
	}

	o.failDependentsLocked()

	eligible := o.eligibleLocked()
	if len(eligible) > o.cfg.MaxConcurrentTasks {
		eligible = eligible[:o.cfg.MaxConcurrentTasks]
	}

	started := o.now().UTC()
	batch := make([]schemas.Task, 0, len(eligible))
	for _, t := range eligible {
		if err := o.unmetDependencyLocked(t); err != nil {
			// Scheduler bug, not a task failure mode; eligibility just
			// verified these same dependencies under the same lock.
			o.logger.DPanic("Scheduler invariant violated", zap.Error(err))
			t.Status = schemas.TaskFailed
			t.Error = err.Error()
			t.CompletedAt = started
			continue
		}
		t.Status = schemas.TaskProcessing
		t.StartedAt = started
		batch = append(batch, *t)
	}
	o.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}
	o.logger.Info("Dispatching task batch", zap.Int("count", len(batch)))

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range batch {
		task := task
		g.Go(func() error {
			result, err := o.executors[task.Type].Execute(gctx, task)
			o.applyResult(task.ID, result, err)
			// Failures are isolated to their task; the batch always runs to
			// completion.
			return nil
		})
	}
	_ = g.Wait()
	return len(batch)
}

// eligibleLocked returns pending tasks whose dependencies are all completed,
// ordered by priority rank, then age, then id.
func (o *Orchestrator) eligibleLocked() []*schemas.Task {
	var out []*schemas.Task
	for _, id := range o.order {
		t := o.tasks[id]
		if t == nil || t.Status != schemas.TaskPending {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			d, ok := o.tasks[dep]
			if !ok || d.Status != schemas.TaskCompleted {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// unmetDependencyLocked asserts the dispatch invariant for a task about to
// run: every dependency id resolves to a completed task. Caller must hold
// o.mu.
func (o *Orchestrator) unmetDependencyLocked(t *schemas.Task) error {
	for _, dep := range t.Dependencies {
		d, ok := o.tasks[dep]
		if !ok || d.Status != schemas.TaskCompleted {
			return fmt.Errorf("task %s dispatched before dependency %s completed: %w",
				t.ID, dep, schemas.ErrDependencyUnmet)
		}
	}
	return nil
}

// failDependentsLocked fails every pending task that depends, directly or
// through its ancestors, on a task that already failed. Failing closed keeps
// half-built funnels from publishing.
func (o *Orchestrator) failDependentsLocked() {
	for {
		changed := false
		for _, t := range o.tasks {
			if t.Status != schemas.TaskPending && t.Status != schemas.TaskRequiresApproval {
				continue
			}
			for _, dep := range t.Dependencies {
				d, ok := o.tasks[dep]
				if ok && d.Status != schemas.TaskFailed {
					continue
				}
				t.Status = schemas.TaskFailed
				t.Error = fmt.Sprintf("dependency %s failed", dep)
				t.CompletedAt = o.now().UTC()
				o.logger.Warn("Task failed closed",
					zap.String("task_id", t.ID),
					zap.String("dependency", dep),
				)
				changed = true
				break
			}
		}
		if !changed {
			return
		}
	}
}

// applyResult folds an execution outcome back into the task store. Results
// arriving after an emergency stop are discarded and the task is failed.
func (o *Orchestrator) applyResult(taskID string, result schemas.TaskResult, execErr error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[taskID]
	if !ok {
		return
	}
	now := o.now().UTC()

	if o.stopped {
		t.Status = schemas.TaskFailed
		t.Error = "emergency stop: " + o.stopReason
		t.CompletedAt = now
		return
	}

	if execErr != nil {
		t.Status = schemas.TaskFailed
		t.Error = execErr.Error()
		t.CompletedAt = now
		o.logger.Error("Task failed",
			zap.String("task_id", t.ID),
			zap.String("type", string(t.Type)),
			zap.Error(execErr),
		)
		o.sink.Record("task", "task failed", "failed", map[string]any{
			"task_id": t.ID,
			"type":    string(t.Type),
			"error":   execErr.Error(),
		})
		return
	}

	if result.RequiresApproval {
		t.Status = schemas.TaskRequiresApproval
		t.ApprovalRequestID = result.ApprovalRequestID
		o.logger.Info("Task suspended for approval",
			zap.String("task_id", t.ID),
			zap.String("approval_request_id", result.ApprovalRequestID),
		)
		return
	}

	t.Status = schemas.TaskCompleted
	t.CompletedAt = now
	if len(result.Output) > 0 {
		t.Payload = result.Output
	}

	if t.ArmID != "" && (result.Revenue != 0 || result.Spend != 0 || result.Clicks != 0 || result.Conversions != 0) {
		if _, err := o.arms.Update(t.ArmID, result.Revenue, result.Spend, result.Clicks, result.Conversions); err != nil {
			o.logger.Warn("Arm feedback dropped",
				zap.String("task_id", t.ID),
				zap.String("arm_id", t.ArmID),
				zap.Error(err),
			)
		}
	}

	for _, spec := range result.Next {
		spec.Dependencies = append(spec.Dependencies, t.ID)
		if spec.StreamKey == "" {
			spec.StreamKey = t.StreamKey
		}
		if spec.ArmID == "" {
			spec.ArmID = t.ArmID
		}
		if _, err := o.createLocked(spec); err != nil {
			o.logger.Error("Follow-up task rejected",
				zap.String("parent_id", t.ID),
				zap.String("type", string(spec.Type)),
				zap.Error(err),
			)
		}
	}

	o.sink.Record("task", "task completed", "success", map[string]any{
		"task_id": t.ID,
		"type":    string(t.Type),
	})
}

// ResolveApproval resumes or fails the task suspended on the given approval
// request. An approved task returns to pending and is picked up on the next
// tick with its approval id intact, so its executor knows the gate has been
// passed.
func (o *Orchestrator) ResolveApproval(requestID string, approved bool) (schemas.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, t := range o.tasks {
		if t.ApprovalRequestID != requestID || t.Status != schemas.TaskRequiresApproval {
			continue
		}
		if approved {
			t.Status = schemas.TaskPending
		} else {
			t.Status = schemas.TaskFailed
			t.Error = "approval rejected"
			t.CompletedAt = o.now().UTC()
		}
		o.logger.Info("Approval resolved",
			zap.String("task_id", t.ID),
			zap.String("approval_request_id", requestID),
			zap.Bool("approved", approved),
		)
		return *t, nil
	}
	return schemas.Task{}, fmt.Errorf("approval request %q: %w", requestID, schemas.ErrNotFound)
}

// GC drops terminal tasks that completed before the retention window. A
// terminal task referenced by any unfinished task's dependencies is kept
// whatever its age: dropping it would make the dependent look fail-closed on
// the next tick, which matters most for tasks suspended on an approval far
// longer than the retention window.
func (o *Orchestrator) GC() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	pinned := make(map[string]bool)
	for _, t := range o.tasks {
		if t.Status.Terminal() {
			continue
		}
		for _, dep := range t.Dependencies {
			pinned[dep] = true
		}
	}

	cutoff := o.now().UTC().Add(-o.cfg.RetentionWindow)
	removed := 0
	for id, t := range o.tasks {
		if pinned[id] {
			continue
		}
		if t.Status.Terminal() && !t.CompletedAt.IsZero() && t.CompletedAt.Before(cutoff) {
			delete(o.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		kept := o.order[:0]
		for _, id := range o.order {
			if _, ok := o.tasks[id]; ok {
				kept = append(kept, id)
			}
		}
		o.order = kept
		o.logger.Debug("Task store compacted", zap.Int("removed", removed))
	}
	return removed
}

// EmergencyStop trips the circuit breaker: every unfinished task is failed,
// new dispatch is refused, and the spend governor is halted in the same
// motion. The breaker stays tripped until Resume.
func (o *Orchestrator) EmergencyStop(reason string) {
	o.mu.Lock()
	o.stopped = true
	o.stopReason = reason

	now := o.now().UTC()
	failed := 0
	for _, t := range o.tasks {
		if t.Status.Terminal() {
			continue
		}
		t.Status = schemas.TaskFailed
		t.Error = "emergency stop: " + reason
		t.CompletedAt = now
		failed++
	}
	o.mu.Unlock()

	o.governor.EmergencyStop(reason)

	o.logger.Warn("Emergency stop engaged",
		zap.String("reason", reason),
		zap.Int("failed_tasks", failed),
	)
	o.sink.Record("emergency_stop", "orchestrator halted", "success", map[string]any{
		"reason":       reason,
		"failed_tasks": failed,
	})
}

// Resume clears the circuit breaker and re-enables the spend governor. Tasks
// failed by the stop are not resurrected.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.stopped = false
	o.stopReason = ""
	o.mu.Unlock()

	o.governor.Resume()
	o.logger.Info("Orchestrator resumed")
}

// Start runs the scheduling loop until Stop is called or ctx is cancelled.
// Each tick runs one scheduling pass and a GC sweep; a slower ticker enqueues
// the periodic optimization task.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.cancel != nil {
		o.logger.Warn("Orchestrator.Start called while already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	go func() {
		defer close(o.done)

		tick := time.NewTicker(o.cfg.TickInterval)
		defer tick.Stop()
		optimize := time.NewTicker(o.cfg.OptimizeInterval)
		defer optimize.Stop()

		o.logger.Info("Scheduling loop started",
			zap.Duration("tick_interval", o.cfg.TickInterval),
			zap.Duration("optimize_interval", o.cfg.OptimizeInterval),
		)
		for {
			select {
			case <-runCtx.Done():
				o.logger.Info("Scheduling loop stopped")
				return
			case <-tick.C:
				o.RunTickOnce(runCtx)
				o.GC()
			case <-optimize.C:
				o.enqueueOptimization()
			}
		}
	}()
}

// Stop cancels the scheduling loop and waits for it to exit. In-flight task
// executions are cancelled through the loop context.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
	o.cancel = nil
	o.done = nil
}

func (o *Orchestrator) enqueueOptimization() {
	_, err := o.CreateTask(schemas.TaskSpec{
		Type:     schemas.TaskOptimization,
		Priority: schemas.PriorityHigh,
	})
	if err != nil {
		o.logger.Error("Failed to enqueue optimization task", zap.Error(err))
	}
}
