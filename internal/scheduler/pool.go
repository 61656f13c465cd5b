package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "wrkflo_scheduled_jobs_running",
	Help: "Scheduled jobs currently executing",
})

var (
	// ErrPoolShutdown is returned when a job is submitted to a shut-down pool.
	ErrPoolShutdown = errors.New("job pool is shut down")
	// ErrJobRunning is returned when a job is submitted while an earlier
	// execution of it has not finished.
	ErrJobRunning = errors.New("scheduled job is already running")
)

// JobFunc executes one scheduled job and reports the status to record for it.
type JobFunc func(ctx context.Context) (status string, err error)

// RunningJob is a job execution in progress.
type RunningJob struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// PoolStats is a snapshot of scheduled job executions.
type PoolStats struct {
	Running   []RunningJob `json:"running"`
	Completed int64        `json:"completed"`
	Failed    int64        `json:"failed"`
	Panics    int64        `json:"panics"`
	// Skipped counts submissions rejected because the job was still running.
	Skipped int64 `json:"skipped"`
	// LastStatus maps job ID to the status of its latest finished execution.
	LastStatus map[string]string `json:"last_status,omitempty"`
}

// Pool runs scheduled jobs with bounded concurrency and never runs the same
// job twice at once.
type Pool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	done    chan struct{}
	onPanic func(jobID string, recovered any)

	mu      sync.Mutex
	closed  bool
	running map[string]time.Time
	last    map[string]string
	stats   PoolStats
}

// NewPool creates a pool running at most size jobs concurrently. onPanic, if
// non-nil, receives the job ID and the value recovered from a panicking job.
func NewPool(size int, onPanic func(jobID string, recovered any)) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:     make(chan struct{}, size),
		done:    make(chan struct{}),
		onPanic: onPanic,
		running: make(map[string]time.Time),
		last:    make(map[string]string),
	}
}

// Submit runs fn for jobID on a pool goroutine. The job is reserved before
// waiting for a slot, so a second Submit for the same ID fails with
// ErrJobRunning until the first execution finishes. Submit blocks while the
// pool is at capacity and returns early if ctx is cancelled or the pool shuts
// down.
func (p *Pool) Submit(ctx context.Context, jobID string, fn JobFunc) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	if _, ok := p.running[jobID]; ok {
		p.stats.Skipped++
		p.mu.Unlock()
		return ErrJobRunning
	}
	p.running[jobID] = time.Time{}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.release(jobID)
		return ctx.Err()
	case <-p.done:
		p.release(jobID)
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		delete(p.running, jobID)
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.running[jobID] = time.Now().UTC()
	p.mu.Unlock()
	jobsRunning.Inc()

	go func() {
		status := StatusError
		var failed, panicked bool
		defer func() {
			if r := recover(); r != nil {
				panicked, failed, status = true, true, StatusError
				if p.onPanic != nil {
					p.onPanic(jobID, fmt.Sprint(r))
				}
			}
			p.finish(jobID, status, failed, panicked)
			jobsRunning.Dec()
			<-p.sem
			p.wg.Done()
		}()

		var err error
		status, err = fn(ctx)
		failed = err != nil
	}()
	return nil
}

func (p *Pool) release(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, jobID)
}

func (p *Pool) finish(jobID, status string, failed, panicked bool) {
	jobsTotal.WithLabelValues(status).Inc()

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, jobID)
	p.last[jobID] = status
	switch {
	case panicked:
		p.stats.Panics++
		p.stats.Failed++
	case failed:
		p.stats.Failed++
	default:
		p.stats.Completed++
	}
}

// Wait blocks until all submitted jobs complete.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects new submissions and waits for running jobs.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns a snapshot of the pool. Running is ordered by job ID and
// leaves out jobs still waiting for a slot.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.stats
	out.Running = make([]RunningJob, 0, len(p.running))
	for id, started := range p.running {
		if started.IsZero() {
			continue
		}
		out.Running = append(out.Running, RunningJob{ID: id, StartedAt: started})
	}
	sort.Slice(out.Running, func(i, j int) bool { return out.Running[i].ID < out.Running[j].ID })
	if len(p.last) > 0 {
		out.LastStatus = make(map[string]string, len(p.last))
		for id, status := range p.last {
			out.LastStatus[id] = status
		}
	}
	return out
}
