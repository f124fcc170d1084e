package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskrunner/config"
	"taskrunner/internal/model"
	"taskrunner/internal/repository"
	"taskrunner/internal/runner"
	"taskrunner/internal/testutil"
	"taskrunner/pkg/cache"
	"taskrunner/pkg/logger"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	cfg   *config.Config
	repo  *repository.Repository
	owner *model.User
	task  *model.Task
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := &config.Config{
		Artifact:   config.Artifact{Root: t.TempDir(), MaxSize: config.DefaultMaxArtifactSize},
		Dispatcher: config.Dispatcher{Workers: 2, QueueSize: 8, SubmitTimeout: time.Second},
		Runner:     config.Runner{WorkDir: t.TempDir(), NotebookTimeout: 600 * time.Second},
		Monitor:    config.Monitor{CacheTTL: time.Minute},
		Reaper:     config.Reaper{Schedule: "@every 1m", GracePeriod: time.Minute},
	}
	repo, err := repository.NewRepository(cfg, db)
	require.NoError(t, err)

	owner := testutil.SeedUser(t, db, "owner")
	task := testutil.SeedTask(t, db, owner, "nightly-report")
	return &fixture{db: db, cfg: cfg, repo: repo, owner: owner, task: task}
}

func (f *fixture) versions() VersionService {
	return NewVersionService(f.cfg, logger.NewNop(), f.repo.TaskRepo, f.repo.VersionRepo, f.repo.ArtifactStore, f.repo.UnitOfWork)
}

func (f *fixture) stateMachine() StateMachine {
	return NewStateMachine(logger.NewNop(), f.repo.ExecutionRepo, f.repo.VersionRepo, f.repo.TaskRepo, f.repo.UnitOfWork)
}

func (f *fixture) createVersion(t *testing.T, fileName, content string, status model.VersionStatus) *model.TaskVersion {
	t.Helper()
	v, err := f.versions().Create(context.Background(), CreateVersionParam{
		TaskID:   f.task.ID,
		FileName: fileName,
		Content:  []byte(content),
		Status:   status,
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) seedExecution(t *testing.T, version *model.TaskVersion, status model.ExecutionStatus) *model.TaskExecution {
	t.Helper()
	execution := &model.TaskExecution{TaskVersionID: version.ID, Status: status}
	if status != model.ExecutionStatusPending {
		started := time.Now().UTC().Truncate(time.Microsecond)
		execution.StartedAt = &started
	}
	require.NoError(t, f.db.Create(execution).Error)
	return execution
}

func (f *fixture) reload(t *testing.T, id uint) *model.TaskExecution {
	t.Helper()
	execution, err := f.repo.ExecutionRepo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return execution
}

func (f *fixture) reloadTask(t *testing.T) *model.Task {
	t.Helper()
	task, err := f.repo.TaskRepo.FindByID(context.Background(), f.task.ID)
	require.NoError(t, err)
	return task
}

// engine wires the full execution path around a fake runner and starts the workers.
func (f *fixture) engine(t *testing.T, run runFunc, notifier Notifier) *Service {
	t.Helper()
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	svc := NewService(f.cfg, logger.NewNop(), f.repo, cache.NewCache(time.Minute, time.Minute), run, notifier)
	require.NoError(t, svc.Dispatcher.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Dispatcher.Stop(ctx)
	})
	return svc
}

func (f *fixture) waitTerminal(t *testing.T, id uint) *model.TaskExecution {
	t.Helper()
	var execution *model.TaskExecution
	require.Eventually(t, func() bool {
		execution = f.reload(t, id)
		return execution.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return execution
}

func assertCompletedAfterStarted(t *testing.T, execution *model.TaskExecution) {
	t.Helper()
	require.NotNil(t, execution.CompletedAt)
	if execution.StartedAt != nil {
		require.False(t, execution.CompletedAt.Before(*execution.StartedAt), "completed_at %s before started_at %s", execution.CompletedAt, execution.StartedAt)
	}
}

// runFunc adapts a function to ArtifactRunner.
type runFunc func(ctx context.Context, job runner.Job) (runner.Result, error)

func (f runFunc) Run(ctx context.Context, job runner.Job) (runner.Result, error) {
	return f(ctx, job)
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []model.ExecutionStatus
}

func (n *recordingNotifier) ExecutionFinished(_ context.Context, execution *model.TaskExecution) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, execution.Status)
}

func (n *recordingNotifier) seen() []model.ExecutionStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.ExecutionStatus(nil), n.statuses...)
}

// fakeDispatcher tracks a fixed set of handles.
type fakeDispatcher struct {
	mu        sync.Mutex
	tracked   map[string]bool
	cancelled []string
	onSubmit  func(ctx context.Context, executionID uint) (string, error)
}

func newFakeDispatcher(handles ...string) *fakeDispatcher {
	d := &fakeDispatcher{tracked: map[string]bool{}}
	for _, h := range handles {
		d.tracked[h] = true
	}
	return d
}

func (d *fakeDispatcher) Start(context.Context) error { return nil }
func (d *fakeDispatcher) Stop(context.Context) error  { return nil }
func (d *fakeDispatcher) Submit(ctx context.Context, executionID uint) (string, error) {
	if d.onSubmit != nil {
		return d.onSubmit(ctx, executionID)
	}
	return "", model.ErrDispatcherStopped
}

func (d *fakeDispatcher) Cancel(handle string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, handle)
	return d.tracked[handle]
}

func (d *fakeDispatcher) LiveStatus(handle string) LiveStatus {
	if d.IsTracked(handle) {
		return LiveStatus{State: WorkerStateRunning}
	}
	return LiveStatus{State: WorkerStateUnknown}
}

func (d *fakeDispatcher) IsTracked(handle string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracked[handle]
}
