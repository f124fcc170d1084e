package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taskrunner/config"
	"taskrunner/internal/model"
	"taskrunner/internal/repository"
	"taskrunner/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type WorkerState string

const (
	WorkerStateQueued  WorkerState = "queued"
	WorkerStateRunning WorkerState = "running"
	WorkerStateUnknown WorkerState = "unknown"
)

// LiveStatus is a non-blocking snapshot of a dispatched job.
type LiveStatus struct {
	State     WorkerState `json:"state"`
	Worker    int         `json:"worker,omitempty"`
	PID       int         `json:"pid,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
}

// DispatchedJob is the unit handed to a worker.
type DispatchedJob struct {
	Handle      string
	ExecutionID uint

	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	state     WorkerState
	worker    int
	startedAt *time.Time
	pid       atomic.Int64
}

// SetPID records the sandboxed process once it is running.
func (j *DispatchedJob) SetPID(pid int) {
	j.pid.Store(int64(pid))
}

func (j *DispatchedJob) snapshot() LiveStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return LiveStatus{State: j.state, Worker: j.worker, PID: int(j.pid.Load()), StartedAt: j.startedAt}
}

// JobHandler is the worker body. A returned error means the job could not be
// recorded at all; failures of the artifact itself are not errors here.
type JobHandler interface {
	Handle(ctx context.Context, job *DispatchedJob) error
}

// Dispatcher is a fixed pool of workers fed from a bounded queue.
type Dispatcher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Submit(ctx context.Context, executionID uint) (string, error)
	Cancel(handle string) bool
	LiveStatus(handle string) LiveStatus
	IsTracked(handle string) bool
}

type dispatcher struct {
	cfg           *config.Dispatcher
	log           *logger.Logger
	executionRepo repository.ExecutionRepository
	handler       JobHandler

	queue chan *DispatchedJob
	quit  chan struct{}

	mu       sync.Mutex
	jobs     map[string]*DispatchedJob
	accept   bool
	baseCtx  context.Context
	cancelFn context.CancelFunc
	group    *errgroup.Group
}

func NewDispatcher(cfg *config.Dispatcher, log *logger.Logger, executionRepo repository.ExecutionRepository, handler JobHandler) Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	return &dispatcher{
		cfg:           cfg,
		log:           log,
		executionRepo: executionRepo,
		handler:       handler,
		queue:         make(chan *DispatchedJob, size),
		quit:          make(chan struct{}),
		jobs:          make(map[string]*DispatchedJob),
	}
}

func (d *dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.group != nil {
		return errors.New("dispatcher already started")
	}

	workers := d.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	d.baseCtx, d.cancelFn = context.WithCancel(context.WithoutCancel(ctx))
	d.group = &errgroup.Group{}
	for i := 1; i <= workers; i++ {
		workerID := i
		d.group.Go(func() error {
			d.work(workerID)
			return nil
		})
	}
	d.accept = true

	d.log.Info("Dispatcher started", logger.IntField("workers", workers), logger.IntField("queue_size", cap(d.queue)))
	return nil
}

// Stop refuses new jobs and lets running ones finish until ctx expires, after
// which they are cancelled. Jobs still queued stay pending in the database.
func (d *dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.group == nil || !d.accept {
		d.mu.Unlock()
		return nil
	}
	d.accept = false
	close(d.quit)
	group, cancel := d.group, d.cancelFn
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn("Dispatcher stop deadline reached, cancelling running jobs")
		cancel()
		<-done
	}
	cancel()
	d.log.Info("Dispatcher stopped")
	return nil
}

// Submit persists a fresh handle on the pending execution and enqueues it.
// The handle is on the record before Submit returns.
func (d *dispatcher) Submit(ctx context.Context, executionID uint) (string, error) {
	d.mu.Lock()
	if !d.accept {
		d.mu.Unlock()
		return "", model.ErrDispatcherStopped
	}
	jobCtx, cancel := context.WithCancel(d.baseCtx)
	d.mu.Unlock()

	handle := uuid.NewString()
	if err := d.executionRepo.SetJobHandle(ctx, executionID, handle); err != nil {
		cancel()
		return "", fmt.Errorf("persist job handle: %w", err)
	}

	job := &DispatchedJob{
		Handle:      handle,
		ExecutionID: executionID,
		ctx:         jobCtx,
		cancel:      cancel,
		state:       WorkerStateQueued,
	}
	d.track(job)

	timeout := d.cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d.queue <- job:
		d.log.InfoContext(ctx, "Execution dispatched",
			logger.UintField("execution_id", executionID),
			logger.StringField("job_handle", handle),
		)
		return handle, nil
	case <-timer.C:
		d.untrack(job)
		return "", model.ErrQueueFull
	case <-ctx.Done():
		d.untrack(job)
		return "", ctx.Err()
	case <-d.quit:
		d.untrack(job)
		return "", model.ErrDispatcherStopped
	}
}

// Cancel requests termination of the job behind handle. It reports whether
// the handle was known; unknown handles are a no-op.
func (d *dispatcher) Cancel(handle string) bool {
	d.mu.Lock()
	job, ok := d.jobs[handle]
	d.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel()
	d.log.Info("Job cancellation requested",
		logger.StringField("job_handle", handle),
		logger.UintField("execution_id", job.ExecutionID),
	)
	return true
}

func (d *dispatcher) LiveStatus(handle string) LiveStatus {
	d.mu.Lock()
	job, ok := d.jobs[handle]
	d.mu.Unlock()
	if !ok {
		return LiveStatus{State: WorkerStateUnknown}
	}
	return job.snapshot()
}

func (d *dispatcher) IsTracked(handle string) bool {
	if handle == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.jobs[handle]
	return ok
}

func (d *dispatcher) work(workerID int) {
	for {
		select {
		case <-d.quit:
			return
		default:
		}
		select {
		case <-d.quit:
			return
		case job := <-d.queue:
			d.run(workerID, job)
		}
	}
}

func (d *dispatcher) run(workerID int, job *DispatchedJob) {
	defer d.untrack(job)
	defer job.cancel()

	if job.ctx.Err() != nil {
		d.log.Info("Skipping job cancelled while queued",
			logger.StringField("job_handle", job.Handle),
			logger.UintField("execution_id", job.ExecutionID),
		)
		return
	}

	now := time.Now().UTC()
	job.mu.Lock()
	job.state = WorkerStateRunning
	job.worker = workerID
	job.startedAt = &now
	job.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Worker recovered from panic",
				logger.IntField("worker", workerID),
				logger.StringField("job_handle", job.Handle),
				logger.Field("panic", r),
			)
		}
	}()

	if err := d.handler.Handle(job.ctx, job); err != nil {
		d.log.Error("Job handler failed",
			logger.IntField("worker", workerID),
			logger.StringField("job_handle", job.Handle),
			logger.UintField("execution_id", job.ExecutionID),
			logger.ErrorField(err),
		)
	}
}

func (d *dispatcher) track(job *DispatchedJob) {
	d.mu.Lock()
	d.jobs[job.Handle] = job
	d.mu.Unlock()
}

func (d *dispatcher) untrack(job *DispatchedJob) {
	d.mu.Lock()
	if current, ok := d.jobs[job.Handle]; ok && current == job {
		delete(d.jobs, job.Handle)
	}
	d.mu.Unlock()
	job.cancel()
}
