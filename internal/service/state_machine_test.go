package service

import (
	"context"
	"sync"
	"testing"

	"taskrunner/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_StartOnlyFromPending(t *testing.T) {
	f := newFixture(t)
	sm := f.stateMachine()
	version := f.createVersion(t, "job.py", "print(1)", model.VersionStatusActive)
	ctx := context.Background()

	pending := f.seedExecution(t, version, model.ExecutionStatusPending)
	require.NoError(t, sm.Start(ctx, pending, "handle-1"))
	stored := f.reload(t, pending.ID)
	assert.Equal(t, model.ExecutionStatusRunning, stored.Status)
	assert.Equal(t, "handle-1", stored.JobHandle)
	assert.NotNil(t, stored.StartedAt)

	cancelled := f.seedExecution(t, version, model.ExecutionStatusCancelled)
	assert.ErrorIs(t, sm.Start(ctx, cancelled, "handle-2"), model.ErrAlreadyTerminal)
	assert.Equal(t, model.ExecutionStatusCancelled, f.reload(t, cancelled.ID).Status)
}

func TestStateMachine_CompleteSetsLastRun(t *testing.T) {
	f := newFixture(t)
	sm := f.stateMachine()
	version := f.createVersion(t, "job.py", "print(1)", model.VersionStatusActive)
	execution := f.seedExecution(t, version, model.ExecutionStatusRunning)

	err := sm.Complete(context.Background(), execution, Outcome{
		Logs:    "done\n",
		Metrics: map[string]interface{}{"memory_used": int64(-4096), "cpu_percent": 12.5},
	})
	require.NoError(t, err)

	stored := f.reload(t, execution.ID)
	assert.Equal(t, model.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, "done\n", stored.Logs)
	assert.EqualValues(t, -4096, stored.Metrics["memory_used"])
	assertCompletedAfterStarted(t, stored)

	task := f.reloadTask(t)
	require.NotNil(t, task.LastRun)
	assert.True(t, task.LastRun.Equal(*stored.CompletedAt))
}

func TestStateMachine_FailureLeavesLastRunAlone(t *testing.T) {
	tests := []struct {
		name   string
		status model.ExecutionStatus
		apply  func(sm StateMachine, e *model.TaskExecution) error
	}{
		{
			name:   "failed",
			status: model.ExecutionStatusFailed,
			apply: func(sm StateMachine, e *model.TaskExecution) error {
				return sm.Fail(context.Background(), e, Outcome{Logs: "partial", ErrorMessage: "ValueError: boom"})
			},
		},
		{
			name:   "timeout",
			status: model.ExecutionStatusTimeout,
			apply: func(sm StateMachine, e *model.TaskExecution) error {
				return sm.TimeOut(context.Background(), e, Outcome{ErrorMessage: "execution timed out after 1s"})
			},
		},
		{
			name:   "cancelled",
			status: model.ExecutionStatusCancelled,
			apply: func(sm StateMachine, e *model.TaskExecution) error {
				return sm.Cancel(context.Background(), e, "cancelled by user")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sm := f.stateMachine()
			version := f.createVersion(t, "job.py", "print(1)", model.VersionStatusActive)
			execution := f.seedExecution(t, version, model.ExecutionStatusRunning)

			require.NoError(t, tt.apply(sm, execution))
			assert.Equal(t, tt.status, execution.Status)

			stored := f.reload(t, execution.ID)
			assert.Equal(t, tt.status, stored.Status)
			assert.NotEmpty(t, stored.ErrorMessage)
			assertCompletedAfterStarted(t, stored)
			assert.Nil(t, f.reloadTask(t).LastRun)
		})
	}
}

func TestStateMachine_TerminalIsFinal(t *testing.T) {
	f := newFixture(t)
	sm := f.stateMachine()
	version := f.createVersion(t, "job.py", "print(1)", model.VersionStatusActive)
	ctx := context.Background()

	for _, status := range []model.ExecutionStatus{
		model.ExecutionStatusCompleted,
		model.ExecutionStatusFailed,
		model.ExecutionStatusCancelled,
		model.ExecutionStatusTimeout,
	} {
		execution := f.seedExecution(t, version, status)
		before := f.reload(t, execution.ID)

		assert.ErrorIs(t, sm.Complete(ctx, execution, Outcome{Logs: "late"}), model.ErrAlreadyTerminal)
		assert.ErrorIs(t, sm.Fail(ctx, execution, Outcome{ErrorMessage: "late"}), model.ErrAlreadyTerminal)
		assert.ErrorIs(t, sm.TimeOut(ctx, execution, Outcome{}), model.ErrAlreadyTerminal)
		assert.ErrorIs(t, sm.Cancel(ctx, execution, "late"), model.ErrInvalidState)

		after := f.reload(t, execution.ID)
		assert.Equal(t, before.Status, after.Status)
		assert.Equal(t, before.Logs, after.Logs)
		assert.Equal(t, before.ErrorMessage, after.ErrorMessage)
	}
	assert.Nil(t, f.reloadTask(t).LastRun)
}

func TestStateMachine_CompleteRacesCancel(t *testing.T) {
	for i := 0; i < 10; i++ {
		f := newFixture(t)
		version := f.createVersion(t, "job.py", "print(1)", model.VersionStatusActive)
		execution := f.seedExecution(t, version, model.ExecutionStatusRunning)

		var (
			wg                     sync.WaitGroup
			completeErr, cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			e := *execution
			completeErr = f.stateMachine().Complete(context.Background(), &e, Outcome{Logs: "ok"})
		}()
		go func() {
			defer wg.Done()
			e := *execution
			cancelErr = f.stateMachine().Cancel(context.Background(), &e, "cancelled by user")
		}()
		wg.Wait()

		stored := f.reload(t, execution.ID)
		task := f.reloadTask(t)
		switch {
		case completeErr == nil:
			assert.ErrorIs(t, cancelErr, model.ErrInvalidState)
			assert.Equal(t, model.ExecutionStatusCompleted, stored.Status)
			assert.NotNil(t, task.LastRun)
		case cancelErr == nil:
			assert.ErrorIs(t, completeErr, model.ErrAlreadyTerminal)
			assert.Equal(t, model.ExecutionStatusCancelled, stored.Status)
			assert.Nil(t, task.LastRun)
		default:
			t.Fatalf("neither writer won: complete=%v cancel=%v", completeErr, cancelErr)
		}
		assertCompletedAfterStarted(t, stored)
	}
}
