package service

import (
	"context"
	"testing"

	"taskrunner/internal/model"
	"taskrunner/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) tasks() TaskService {
	return NewTaskService(logger.NewNop(), f.repo.UserRepo, f.repo.TaskRepo, f.repo.VersionRepo)
}

func TestTaskService_CreateTask(t *testing.T) {
	tests := []struct {
		name    string
		param   func(f *fixture) CreateTaskParam
		field   string
		wantErr bool
	}{
		{
			name: "defaults to active",
			param: func(f *fixture) CreateTaskParam {
				return CreateTaskParam{Name: "  etl  ", OwnerID: f.owner.ID}
			},
		},
		{
			name: "blank name",
			param: func(f *fixture) CreateTaskParam {
				return CreateTaskParam{Name: " ", OwnerID: f.owner.ID}
			},
			field:   "name",
			wantErr: true,
		},
		{
			name: "unknown status",
			param: func(f *fixture) CreateTaskParam {
				return CreateTaskParam{Name: "etl", OwnerID: f.owner.ID, Status: "sleeping"}
			},
			field:   "status",
			wantErr: true,
		},
		{
			name: "unknown owner",
			param: func(f *fixture) CreateTaskParam {
				return CreateTaskParam{Name: "etl", OwnerID: f.owner.ID + 100}
			},
			field:   "owner",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			task, err := f.tasks().CreateTask(context.Background(), tt.param(f))
			if tt.wantErr {
				require.ErrorIs(t, err, model.ErrValidation)
				var verr *model.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.field, verr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "etl", task.Name)
			assert.Equal(t, model.TaskStatusActive, task.Status)
			assert.Nil(t, task.LastRun)
		})
	}
}

func TestTaskService_GetTaskWithActiveVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	detail, err := f.tasks().GetTask(ctx, f.task.ID)
	require.NoError(t, err)
	assert.Nil(t, detail.ActiveVersion)

	version := f.createVersion(t, "job.py", "print(1)", model.VersionStatusActive)
	detail, err = f.tasks().GetTask(ctx, f.task.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.ActiveVersion)
	assert.Equal(t, version.ID, detail.ActiveVersion.ID)

	_, err = f.tasks().GetTask(ctx, f.task.ID+100)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTaskService_ListTasksVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.tasks()

	other, err := svc.CreateUser(ctx, "other")
	require.NoError(t, err)
	_, err = svc.CreateTask(ctx, CreateTaskParam{Name: "private", OwnerID: other.ID})
	require.NoError(t, err)
	public, err := svc.CreateTask(ctx, CreateTaskParam{Name: "shared", OwnerID: other.ID, IsPublic: true})
	require.NoError(t, err)

	visible, err := svc.ListTasks(ctx, model.GetTaskParam{VisibleTo: &f.owner.ID})
	require.NoError(t, err)
	var ids []uint
	for _, task := range visible {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []uint{f.task.ID, public.ID}, ids)

	all, err := svc.ListTasks(ctx, model.GetTaskParam{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = svc.CreateUser(ctx, "   ")
	assert.ErrorIs(t, err, model.ErrValidation)
}
