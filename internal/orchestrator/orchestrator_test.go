package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
	"github.com/promoflow/promoflow/internal/config"
	"github.com/promoflow/promoflow/internal/observability"
)

type stubExecutor struct {
	mu    sync.Mutex
	calls []string
	fn    func(task schemas.Task) (schemas.TaskResult, error)
}

func (s *stubExecutor) Execute(_ context.Context, task schemas.Task) (schemas.TaskResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, task.ID)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(task)
	}
	return schemas.TaskResult{}, nil
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubFeedback struct {
	mu      sync.Mutex
	updates []string
}

func (s *stubFeedback) Update(armID string, _, _ float64, _, _ int64) (schemas.Arm, error) {
	s.mu.Lock()
	s.updates = append(s.updates, armID)
	s.mu.Unlock()
	return schemas.Arm{ID: armID}, nil
}

type stubHalter struct {
	mu      sync.Mutex
	stops   []string
	resumes int
}

func (s *stubHalter) EmergencyStop(reason string) {
	s.mu.Lock()
	s.stops = append(s.stops, reason)
	s.mu.Unlock()
}

func (s *stubHalter) Resume() {
	s.mu.Lock()
	s.resumes++
	s.mu.Unlock()
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		TickInterval:       10 * time.Millisecond,
		OptimizeInterval:   time.Hour,
		MaxConcurrentTasks: 5,
		RetentionWindow:    24 * time.Hour,
	}
}

func newTestOrchestrator(t *testing.T, exec Executor, opts ...Option) (*Orchestrator, *stubHalter) {
	t.Helper()
	halter := &stubHalter{}
	executors := map[schemas.TaskType]Executor{
		schemas.TaskContentGeneration: exec,
		schemas.TaskOptimization:      exec,
	}
	o, err := New(testSchedulerConfig(), executors, &stubFeedback{}, halter, zap.NewNop(), observability.NopLogSink{}, opts...)
	require.NoError(t, err)
	return o, halter
}

func mustCreate(t *testing.T, o *Orchestrator, spec schemas.TaskSpec) schemas.Task {
	t.Helper()
	task, err := o.CreateTask(spec)
	require.NoError(t, err)
	return task
}

func contentSpec(deps ...string) schemas.TaskSpec {
	return schemas.TaskSpec{
		Type:         schemas.TaskContentGeneration,
		Priority:     schemas.PriorityMedium,
		StreamKey:    "gadgets",
		Dependencies: deps,
	}
}

func TestCreateTaskRejectsUnknownDependency(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubExecutor{})

	_, err := o.CreateTask(contentSpec("ghost"))
	assert.ErrorIs(t, err, schemas.ErrNotFound)
}

func TestCreateTaskRejectsUnknownType(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubExecutor{})

	_, err := o.CreateTask(schemas.TaskSpec{Type: schemas.TaskType("mystery")})
	assert.ErrorIs(t, err, schemas.ErrInvalidState)
}

func TestDependencyChainRunsOneStagePerTick(t *testing.T) {
	// A <- B <- C: each tick may only dispatch the tasks whose dependencies
	// completed on a previous tick.
	exec := &stubExecutor{}
	o, _ := newTestOrchestrator(t, exec)

	a := mustCreate(t, o, contentSpec())
	b := mustCreate(t, o, contentSpec(a.ID))
	c := mustCreate(t, o, contentSpec(b.ID))

	ctx := context.Background()
	for tick, want := range []string{a.ID, b.ID, c.ID} {
		require.Equal(t, 1, o.RunTickOnce(ctx), "tick %d", tick)
		got, err := o.Get(want)
		require.NoError(t, err)
		assert.Equal(t, schemas.TaskCompleted, got.Status)
	}
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, exec.calls)
	assert.Zero(t, o.RunTickOnce(ctx))
}

func TestDispatchHonorsPriorityAndCap(t *testing.T) {
	exec := &stubExecutor{}
	o, _ := newTestOrchestrator(t, exec)

	low := mustCreate(t, o, schemas.TaskSpec{Type: schemas.TaskContentGeneration, Priority: schemas.PriorityLow})
	mid := mustCreate(t, o, schemas.TaskSpec{Type: schemas.TaskContentGeneration, Priority: schemas.PriorityMedium})
	crit := mustCreate(t, o, schemas.TaskSpec{Type: schemas.TaskContentGeneration, Priority: schemas.PriorityCritical})
	for i := 0; i < 4; i++ {
		mustCreate(t, o, schemas.TaskSpec{Type: schemas.TaskContentGeneration, Priority: schemas.PriorityHigh})
	}

	// 7 eligible, cap 5: the critical task leads the batch while the medium
	// and low priority tasks wait for the next tick.
	require.Equal(t, 5, o.RunTickOnce(context.Background()))
	assert.Equal(t, crit.ID, exec.calls[0])

	gotLow, err := o.Get(low.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskPending, gotLow.Status)
	gotMid, err := o.Get(mid.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskPending, gotMid.Status)

	require.Equal(t, 2, o.RunTickOnce(context.Background()))
	assert.Equal(t, 7, exec.callCount())
}

func TestExecutorFailureIsIsolated(t *testing.T) {
	boom := errors.New("renderer exploded")
	exec := &stubExecutor{fn: func(task schemas.Task) (schemas.TaskResult, error) {
		if task.StreamKey == "bad" {
			return schemas.TaskResult{}, boom
		}
		return schemas.TaskResult{}, nil
	}}
	o, _ := newTestOrchestrator(t, exec)

	bad := mustCreate(t, o, schemas.TaskSpec{Type: schemas.TaskContentGeneration, StreamKey: "bad"})
	good := mustCreate(t, o, schemas.TaskSpec{Type: schemas.TaskContentGeneration, StreamKey: "good"})

	require.Equal(t, 2, o.RunTickOnce(context.Background()))

	gotBad, err := o.Get(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskFailed, gotBad.Status)
	assert.Contains(t, gotBad.Error, "renderer exploded")

	gotGood, err := o.Get(good.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskCompleted, gotGood.Status)
}

func TestDependentsFailClosed(t *testing.T) {
	exec := &stubExecutor{fn: func(schemas.Task) (schemas.TaskResult, error) {
		return schemas.TaskResult{}, errors.New("no script")
	}}
	o, _ := newTestOrchestrator(t, exec)

	parent := mustCreate(t, o, contentSpec())
	child := mustCreate(t, o, contentSpec(parent.ID))
	grandchild := mustCreate(t, o, contentSpec(child.ID))

	ctx := context.Background()
	require.Equal(t, 1, o.RunTickOnce(ctx)) // parent fails
	o.RunTickOnce(ctx)                      // sweep fails the whole chain

	for _, id := range []string{child.ID, grandchild.ID} {
		got, err := o.Get(id)
		require.NoError(t, err)
		assert.Equal(t, schemas.TaskFailed, got.Status)
		assert.Contains(t, got.Error, "dependency")
	}
	assert.Equal(t, 1, exec.callCount())
}

func TestFollowUpTasksDependOnParent(t *testing.T) {
	exec := &stubExecutor{}
	exec.fn = func(task schemas.Task) (schemas.TaskResult, error) {
		if len(task.Dependencies) > 0 {
			return schemas.TaskResult{}, nil
		}
		return schemas.TaskResult{
			Next: []schemas.TaskSpec{{Type: schemas.TaskContentGeneration, Priority: task.Priority}},
		}, nil
	}
	o, _ := newTestOrchestrator(t, exec)

	parent := mustCreate(t, o, contentSpec())

	ctx := context.Background()
	require.Equal(t, 1, o.RunTickOnce(ctx))
	require.Len(t, o.List(), 2)

	followUp := o.List()[1]
	assert.Equal(t, []string{parent.ID}, followUp.Dependencies)
	assert.Equal(t, parent.StreamKey, followUp.StreamKey)

	require.Equal(t, 1, o.RunTickOnce(ctx))
	got, err := o.Get(followUp.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskCompleted, got.Status)
}

func TestApprovalSuspendAndResolve(t *testing.T) {
	exec := &stubExecutor{fn: func(task schemas.Task) (schemas.TaskResult, error) {
		if task.ApprovalRequestID == "" {
			return schemas.TaskResult{RequiresApproval: true, ApprovalRequestID: "req-1"}, nil
		}
		return schemas.TaskResult{}, nil
	}}
	o, _ := newTestOrchestrator(t, exec)

	task := mustCreate(t, o, contentSpec())
	ctx := context.Background()

	require.Equal(t, 1, o.RunTickOnce(ctx))
	got, err := o.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, schemas.TaskRequiresApproval, got.Status)
	require.Equal(t, "req-1", got.ApprovalRequestID)

	// Suspended tasks are not eligible.
	assert.Zero(t, o.RunTickOnce(ctx))

	resumed, err := o.ResolveApproval("req-1", true)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskPending, resumed.Status)

	// The resumed run sees the approval id and completes.
	require.Equal(t, 1, o.RunTickOnce(ctx))
	got, err = o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskCompleted, got.Status)

	_, err = o.ResolveApproval("req-unknown", true)
	assert.ErrorIs(t, err, schemas.ErrNotFound)
}

func TestResolveApprovalRejectionFailsTask(t *testing.T) {
	exec := &stubExecutor{fn: func(schemas.Task) (schemas.TaskResult, error) {
		return schemas.TaskResult{RequiresApproval: true, ApprovalRequestID: "req-2"}, nil
	}}
	o, _ := newTestOrchestrator(t, exec)

	task := mustCreate(t, o, contentSpec())
	require.Equal(t, 1, o.RunTickOnce(context.Background()))

	failed, err := o.ResolveApproval("req-2", false)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskFailed, failed.Status)
	assert.Equal(t, "approval rejected", failed.Error)

	got, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskFailed, got.Status)
}

func TestEmergencyStopFailsPendingAndBlocksDispatch(t *testing.T) {
	// Three pending tasks, then a manual stop. Everything fails, nothing
	// dispatches until resume, and the governor is halted in the same motion.
	exec := &stubExecutor{}
	o, halter := newTestOrchestrator(t, exec)

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = mustCreate(t, o, contentSpec()).ID
	}

	o.EmergencyStop("manual trigger")

	for _, id := range ids {
		got, err := o.Get(id)
		require.NoError(t, err)
		assert.Equal(t, schemas.TaskFailed, got.Status)
		assert.Contains(t, got.Error, "manual trigger")
	}
	assert.Equal(t, []string{"manual trigger"}, halter.stops)

	assert.Zero(t, o.RunTickOnce(context.Background()))
	assert.Zero(t, exec.callCount())

	_, stopped, reason := o.Counts()
	assert.True(t, stopped)
	assert.Equal(t, "manual trigger", reason)

	o.Resume()
	assert.Equal(t, 1, halter.resumes)

	fresh := mustCreate(t, o, contentSpec())
	require.Equal(t, 1, o.RunTickOnce(context.Background()))
	got, err := o.Get(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskCompleted, got.Status)
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	release := make(chan struct{})
	exec := &stubExecutor{fn: func(schemas.Task) (schemas.TaskResult, error) {
		<-release
		return schemas.TaskResult{}, nil
	}}
	o, _ := newTestOrchestrator(t, exec)
	mustCreate(t, o, contentSpec())

	done := make(chan int)
	go func() { done <- o.RunTickOnce(context.Background()) }()

	// Wait until the first tick holds the in-progress flag, then verify a
	// second tick bounces off it.
	require.Eventually(t, func() bool { return o.tickInProgress.Load() }, time.Second, time.Millisecond)
	assert.Zero(t, o.RunTickOnce(context.Background()))

	close(release)
	assert.Equal(t, 1, <-done)
}

func TestGCDropsOldTerminalTasks(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exec := &stubExecutor{}
	o, _ := newTestOrchestrator(t, exec, WithClock(func() time.Time { return current }))

	done := mustCreate(t, o, contentSpec())
	require.Equal(t, 1, o.RunTickOnce(context.Background()))

	pending := mustCreate(t, o, contentSpec())

	current = current.Add(25 * time.Hour)
	assert.Equal(t, 1, o.GC())

	_, err := o.Get(done.ID)
	assert.ErrorIs(t, err, schemas.ErrNotFound)
	_, err = o.Get(pending.ID)
	assert.NoError(t, err)
	assert.Len(t, o.List(), 1)
}

func TestGCKeepsParentsOfSuspendedTasks(t *testing.T) {
	// A completed parent must outlive the retention window while a dependent
	// sits in requires_approval, or the suspension would decay into a
	// fail-closed sweep with a fabricated dependency error.
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exec := &stubExecutor{fn: func(task schemas.Task) (schemas.TaskResult, error) {
		if len(task.Dependencies) > 0 && task.ApprovalRequestID == "" {
			return schemas.TaskResult{RequiresApproval: true, ApprovalRequestID: "req-3"}, nil
		}
		return schemas.TaskResult{}, nil
	}}
	o, _ := newTestOrchestrator(t, exec, WithClock(func() time.Time { return current }))

	parent := mustCreate(t, o, contentSpec())
	child := mustCreate(t, o, contentSpec(parent.ID))

	ctx := context.Background()
	require.Equal(t, 1, o.RunTickOnce(ctx)) // parent completes
	require.Equal(t, 1, o.RunTickOnce(ctx)) // child suspends

	current = current.Add(25 * time.Hour)
	assert.Zero(t, o.GC())

	// The suspension survives GC and further ticks untouched.
	assert.Zero(t, o.RunTickOnce(ctx))
	got, err := o.Get(child.ID)
	require.NoError(t, err)
	require.Equal(t, schemas.TaskRequiresApproval, got.Status)
	assert.Empty(t, got.Error)
	_, err = o.Get(parent.ID)
	require.NoError(t, err)

	// Resolution still works and the child completes; only then may the
	// parent age out.
	_, err = o.ResolveApproval("req-3", true)
	require.NoError(t, err)
	require.Equal(t, 1, o.RunTickOnce(ctx))

	current = current.Add(25 * time.Hour)
	assert.Equal(t, 2, o.GC())
}

func TestDispatchAssertsDependenciesCompleted(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubExecutor{})

	a := mustCreate(t, o, contentSpec())
	b := mustCreate(t, o, contentSpec(a.ID))

	o.mu.Lock()
	err := o.unmetDependencyLocked(o.tasks[b.ID])
	o.mu.Unlock()
	require.ErrorIs(t, err, schemas.ErrDependencyUnmet)

	require.Equal(t, 1, o.RunTickOnce(context.Background()))

	o.mu.Lock()
	err = o.unmetDependencyLocked(o.tasks[b.ID])
	o.mu.Unlock()
	assert.NoError(t, err)
}

func TestStartStopLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := &stubExecutor{}
	o, _ := newTestOrchestrator(t, exec)
	mustCreate(t, o, contentSpec())

	o.Start(context.Background())
	require.Eventually(t, func() bool { return exec.callCount() > 0 }, time.Second, 5*time.Millisecond)
	o.Stop()

	// Stop is idempotent and Start may be called again afterwards.
	o.Stop()
	o.Start(context.Background())
	o.Stop()
}
