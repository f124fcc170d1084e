package repository

import (
	"context"
	"testing"

	"taskrunner/internal/model"
	"taskrunner/internal/testutil"
	"taskrunner/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedExecution(t *testing.T, db *gorm.DB, status model.ExecutionStatus) (*model.TaskVersion, *model.TaskExecution) {
	t.Helper()
	owner := testutil.SeedUser(t, db, "owner")
	task := testutil.SeedTask(t, db, owner, "nightly")
	version := &model.TaskVersion{
		TaskID:        task.ID,
		VersionNumber: 1,
		FileName:      "job.py",
		ArtifactKey:   "ab/abc.py",
		Checksum:      "abc",
		Status:        model.VersionStatusActive,
	}
	require.NoError(t, db.Create(version).Error)
	execution := &model.TaskExecution{TaskVersionID: version.ID, Status: status}
	require.NoError(t, db.Create(execution).Error)
	return version, execution
}

func TestExecutionRepository_Transition(t *testing.T) {
	tests := []struct {
		name    string
		current model.ExecutionStatus
		next    model.ExecutionStatus
		want    bool
	}{
		{name: "pending to running", current: model.ExecutionStatusPending, next: model.ExecutionStatusRunning, want: true},
		{name: "pending to cancelled", current: model.ExecutionStatusPending, next: model.ExecutionStatusCancelled, want: true},
		{name: "running to completed", current: model.ExecutionStatusRunning, next: model.ExecutionStatusCompleted, want: true},
		{name: "running to timeout", current: model.ExecutionStatusRunning, next: model.ExecutionStatusTimeout, want: true},
		{name: "pending to completed is rejected", current: model.ExecutionStatusPending, next: model.ExecutionStatusCompleted, want: false},
		{name: "cancelled stays cancelled", current: model.ExecutionStatusCancelled, next: model.ExecutionStatusFailed, want: false},
		{name: "completed stays completed", current: model.ExecutionStatusCompleted, next: model.ExecutionStatusCancelled, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.NewDB(t)
			repo := NewExecutionRepository(db)
			_, execution := seedExecution(t, db, tt.current)

			won, err := repo.Transition(context.Background(), execution.ID, model.ExecutionUpdate{
				Status:       tt.next,
				ErrorMessage: utils.ToPointer("boom"),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, won)

			stored, err := repo.FindByID(context.Background(), execution.ID)
			require.NoError(t, err)
			if tt.want {
				assert.Equal(t, tt.next, stored.Status)
				assert.Equal(t, "boom", stored.ErrorMessage)
			} else {
				assert.Equal(t, tt.current, stored.Status)
				assert.Empty(t, stored.ErrorMessage)
			}
		})
	}
}

func TestExecutionRepository_TransitionToPending(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewExecutionRepository(db)
	_, execution := seedExecution(t, db, model.ExecutionStatusRunning)

	_, err := repo.Transition(context.Background(), execution.ID, model.ExecutionUpdate{Status: model.ExecutionStatusPending})
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestExecutionRepository_TransitionWritesPayload(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewExecutionRepository(db)
	_, execution := seedExecution(t, db, model.ExecutionStatusRunning)

	now := utils.TimeNow()
	won, err := repo.Transition(context.Background(), execution.ID, model.ExecutionUpdate{
		Status:      model.ExecutionStatusCompleted,
		CompletedAt: &now,
		Logs:        utils.ToPointer("hello\n"),
		Metrics:     map[string]interface{}{"exit_code": 0},
		Resources:   map[string]interface{}{"interpreter": "python3"},
	})
	require.NoError(t, err)
	require.True(t, won)

	stored, err := repo.FindByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", stored.Logs)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, now.Equal(*stored.CompletedAt))
	assert.EqualValues(t, 0, stored.Metrics["exit_code"])
	assert.Equal(t, "python3", stored.Resources["interpreter"])
}

func TestExecutionRepository_SetJobHandle(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewExecutionRepository(db)
	_, pending := seedExecution(t, db, model.ExecutionStatusPending)

	require.NoError(t, repo.SetJobHandle(context.Background(), pending.ID, "job-1"))
	stored, err := repo.FindByID(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-1", stored.JobHandle)

	require.NoError(t, db.Model(stored).Update("status", model.ExecutionStatusRunning).Error)
	err = repo.SetJobHandle(context.Background(), pending.ID, "job-2")
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestExecutionRepository_ListByTask(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewExecutionRepository(db)
	version, first := seedExecution(t, db, model.ExecutionStatusCompleted)

	earlier := utils.TimeNow()
	require.NoError(t, db.Model(first).Update("started_at", earlier).Error)
	second := &model.TaskExecution{TaskVersionID: version.ID, Status: model.ExecutionStatusPending}
	require.NoError(t, db.Create(second).Error)

	executions, err := repo.ListByTask(context.Background(), version.TaskID, 0)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, first.ID, executions[0].ID)
	assert.Equal(t, second.ID, executions[1].ID)

	limited, err := repo.ListByTask(context.Background(), version.TaskID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.ListByTask(context.Background(), version.TaskID+100, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExecutionRepository_FindByIDNotFound(t *testing.T) {
	db := testutil.NewDB(t)
	_, err := NewExecutionRepository(db).FindByID(context.Background(), 42)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
