package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanchatmangpt/wrkflo/internal/engine"
	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// mockSchedulerStore satisfies store.Store for scheduler tests.
type mockSchedulerStore struct {
	store.Store
	mu   sync.Mutex
	jobs map[string]*store.ScheduledJob
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{jobs: make(map[string]*store.ScheduledJob)}
}

func (m *mockSchedulerStore) CreateScheduledJob(_ context.Context, job *store.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockSchedulerStore) GetScheduledJob(_ context.Context, id string) (*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	cp := *j
	return &cp, nil
}

func (m *mockSchedulerStore) UpdateScheduledJob(_ context.Context, id string, update store.ScheduledJobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	if update.Enabled != nil {
		j.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		j.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		j.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		j.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockSchedulerStore) ListScheduledJobs(_ context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.ScheduledJob
	for _, j := range m.jobs {
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		if filter.WorkflowID != "" && j.WorkflowID != filter.WorkflowID {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockSchedulerStore) DeleteScheduledJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

// mockRunner records RunFile calls.
type mockRunner struct {
	mu     sync.Mutex
	calls  []runCall
	status schema.RunStatus
	err    error
	delay  time.Duration
}

type runCall struct {
	DocumentPath string
	WorkflowID   string
	Inputs       map[string]any
}

func (r *mockRunner) RunFile(_ context.Context, documentPath, workflowID string, inputs map[string]any) (*engine.RunResult, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runCall{DocumentPath: documentPath, WorkflowID: workflowID, Inputs: inputs})
	if r.err != nil {
		return nil, r.err
	}
	status := r.status
	if status == "" {
		status = schema.RunStatusSucceeded
	}
	return &engine.RunResult{RunID: "run-1", WorkflowID: workflowID, Status: status}, nil
}

func (r *mockRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestScheduler(s store.Store, runner Runner, opts ...Option) *Scheduler {
	return NewScheduler(s, runner, slog.Default(), opts...)
}

func dueJob(id string, next *time.Time) *store.ScheduledJob {
	return &store.ScheduledJob{
		ID:             id,
		DocumentPath:   "flows/" + id + ".arazzo.yaml",
		WorkflowID:     "main",
		CronExpression: "0 * * * *",
		Enabled:        true,
		NextRunAt:      next,
	}
}

func ago(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(-d)
	return &t
}

// --- Tests ---

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), &mockRunner{})
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	next, err := sched.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("@daily", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), next)

	_, err = sched.CalculateNextRun("invalid cron", from)
	require.Error(t, err)
}

func TestAdd(t *testing.T) {
	ms := newMockSchedulerStore()
	sched := newTestScheduler(ms, &mockRunner{})
	ctx := context.Background()

	job := &store.ScheduledJob{DocumentPath: "pets.arazzo.yaml", CronExpression: "*/5 * * * *", Enabled: true}
	require.NoError(t, sched.Add(ctx, job))
	assert.NotEmpty(t, job.ID)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now().UTC()))

	got, err := ms.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "pets.arazzo.yaml", got.DocumentPath)

	err = sched.Add(ctx, &store.ScheduledJob{DocumentPath: "x.yaml", CronExpression: "every now and then"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = sched.Add(ctx, &store.ScheduledJob{CronExpression: "* * * * *"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = sched.Add(ctx, &store.ScheduledJob{DocumentPath: "x.yaml", CronExpression: "* * * * *", Inputs: json.RawMessage(`{bad`)})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	require.NoError(t, sched.Remove(ctx, job.ID))
	_, err = ms.GetScheduledJob(ctx, job.ID)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestTickRunsDueJobs(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	job := dueJob("job-1", ago(time.Hour))
	job.Inputs = json.RawMessage(`{"petId":"42"}`)
	require.NoError(t, ms.CreateScheduledJob(ctx, job))

	sched.tick(ctx)

	require.Equal(t, 1, runner.callCount())
	call := runner.calls[0]
	assert.Equal(t, "flows/job-1.arazzo.yaml", call.DocumentPath)
	assert.Equal(t, "main", call.WorkflowID)
	assert.Equal(t, "42", call.Inputs["petId"])

	got, _ := ms.GetScheduledJob(ctx, "job-1")
	assert.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC().Add(-time.Second)))
	assert.Equal(t, string(schema.RunStatusSucceeded), got.LastRunStatus)
	stats := sched.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, map[string]string{"job-1": string(schema.RunStatusSucceeded)}, stats.LastStatus)
	assert.Empty(t, stats.Running)
}

func TestTickSkipsNotDueAndDisabled(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("future", &future)))
	disabled := dueJob("disabled", ago(time.Hour))
	disabled.Enabled = false
	require.NoError(t, ms.CreateScheduledJob(ctx, disabled))

	sched.tick(ctx)
	assert.Zero(t, runner.callCount())
}

func TestTickWithNilNextRunAt(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("fresh", nil)))
	sched.tick(ctx)
	assert.Equal(t, 1, runner.callCount())
}

func TestMissedRecovery(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("missed", ago(2*time.Hour))))
	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("never-ran", nil)))

	require.NoError(t, sched.RecoverMissed(ctx))

	require.Equal(t, 1, runner.callCount(), "jobs without a next run are left to the loop")
	got, _ := ms.GetScheduledJob(ctx, "missed")
	assert.Equal(t, string(schema.RunStatusSucceeded), got.LastRunStatus)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
}

func TestJobRunError(t *testing.T) {
	ms := newMockSchedulerStore()
	sched := newTestScheduler(ms, &mockRunner{err: assert.AnError})
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-err", ago(time.Hour))))
	sched.tick(ctx)

	got, _ := ms.GetScheduledJob(ctx, "job-err")
	assert.Equal(t, StatusError, got.LastRunStatus)
	assert.NotNil(t, got.NextRunAt)
	assert.Equal(t, int64(1), sched.Stats().Failed)
}

func TestJobRunFailedStatus(t *testing.T) {
	ms := newMockSchedulerStore()
	sched := newTestScheduler(ms, &mockRunner{status: schema.RunStatusFailed})
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-failed", ago(time.Hour))))
	sched.tick(ctx)

	got, _ := ms.GetScheduledJob(ctx, "job-failed")
	assert.Equal(t, string(schema.RunStatusFailed), got.LastRunStatus)
}

func TestJobInvalidInputs(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	job := dueJob("bad-inputs", ago(time.Hour))
	job.Inputs = json.RawMessage(`[1,2]`)
	require.NoError(t, ms.CreateScheduledJob(ctx, job))
	sched.tick(ctx)

	assert.Zero(t, runner.callCount())
	got, _ := ms.GetScheduledJob(ctx, "bad-inputs")
	assert.Equal(t, StatusError, got.LastRunStatus)
}

func TestStartStop(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), &mockRunner{}, WithInterval(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))
	err := sched.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())
}

func TestLoopRunsJobs(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner, WithInterval(10*time.Millisecond))
	require.NoError(t, ms.CreateScheduledJob(context.Background(), dueJob("looped", ago(time.Minute))))

	require.NoError(t, sched.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.callCount() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sched.Stop())
}

func TestDedupPreventsDoubleRun(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-dedup", ago(time.Hour))))

	block := make(chan struct{})
	require.NoError(t, sched.pool.Submit(ctx, "job-dedup", func(ctx context.Context) (string, error) {
		<-block
		return StatusError, nil
	}))
	sched.tick(ctx)
	assert.Zero(t, runner.callCount())
	assert.Equal(t, int64(1), sched.Stats().Skipped)

	close(block)
	sched.pool.Wait()
	sched.tick(ctx)
	assert.Equal(t, 1, runner.callCount())
	assert.Equal(t, string(schema.RunStatusSucceeded), sched.Stats().LastStatus["job-dedup"])
}

func TestDedupReleasedAfterTick(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-release", ago(time.Hour))))
	sched.tick(ctx)
	require.Equal(t, 1, runner.callCount())

	require.NoError(t, ms.UpdateScheduledJob(ctx, "job-release", store.ScheduledJobUpdate{NextRunAt: ago(time.Hour)}))
	sched.tick(ctx)
	assert.Equal(t, 2, runner.callCount())
}

func TestDueJobsRunConcurrently(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{delay: 50 * time.Millisecond}
	sched := newTestScheduler(ms, runner, WithConcurrency(4))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, ms.CreateScheduledJob(ctx, dueJob(id, ago(time.Hour))))
	}
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("later", &future)))

	start := time.Now()
	sched.tick(ctx)

	assert.Equal(t, 4, runner.callCount())
	assert.Less(t, time.Since(start), 180*time.Millisecond, "jobs share the pool")
	for _, c := range runner.calls {
		assert.NotEqual(t, "flows/later.arazzo.yaml", c.DocumentPath)
	}
}
