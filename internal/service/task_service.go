package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskrunner/internal/model"
	"taskrunner/internal/repository"
	"taskrunner/pkg/logger"
)

type CreateTaskParam struct {
	Name        string
	Description string
	OwnerID     uint
	Status      model.TaskStatus
	IsPublic    bool
	Tags        map[string]interface{}
}

// TaskDetail is a task together with the version that would run now.
type TaskDetail struct {
	Task          *model.Task
	ActiveVersion *model.TaskVersion
}

type TaskService interface {
	CreateUser(ctx context.Context, username string) (*model.User, error)
	CreateTask(ctx context.Context, param CreateTaskParam) (*model.Task, error)
	GetTask(ctx context.Context, id uint) (*TaskDetail, error)
	ListTasks(ctx context.Context, param model.GetTaskParam) ([]model.Task, error)
}

type taskService struct {
	log         *logger.Logger
	userRepo    repository.UserRepository
	taskRepo    repository.TaskRepository
	versionRepo repository.VersionRepository
}

func NewTaskService(
	log *logger.Logger,
	userRepo repository.UserRepository,
	taskRepo repository.TaskRepository,
	versionRepo repository.VersionRepository,
) TaskService {
	return &taskService{
		log:         log,
		userRepo:    userRepo,
		taskRepo:    taskRepo,
		versionRepo: versionRepo,
	}
}

func (s *taskService) CreateUser(ctx context.Context, username string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, model.NewValidationError("username", "username is required")
	}
	user := &model.User{Username: username}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *taskService) CreateTask(ctx context.Context, param CreateTaskParam) (*model.Task, error) {
	name := strings.TrimSpace(param.Name)
	if name == "" {
		return nil, model.NewValidationError("name", "task name is required")
	}
	if param.Status == "" {
		param.Status = model.TaskStatusActive
	}
	if !param.Status.Valid() {
		return nil, model.NewValidationError("status", fmt.Sprintf("unknown task status %q", param.Status))
	}
	if _, err := s.userRepo.FindByID(ctx, param.OwnerID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewValidationError("owner", fmt.Sprintf("user %d does not exist", param.OwnerID))
		}
		return nil, err
	}

	task := &model.Task{
		Name:        name,
		Description: param.Description,
		OwnerID:     param.OwnerID,
		Status:      param.Status,
		IsPublic:    param.IsPublic,
		Tags:        param.Tags,
	}
	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.log.InfoContext(ctx, "Task created", logger.UintField("task_id", task.ID), logger.UintField("owner_id", task.OwnerID))
	return task, nil
}

func (s *taskService) GetTask(ctx context.Context, id uint) (*TaskDetail, error) {
	task, err := s.taskRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	active, err := s.versionRepo.FindActiveByTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{Task: task, ActiveVersion: active}, nil
}

func (s *taskService) ListTasks(ctx context.Context, param model.GetTaskParam) ([]model.Task, error) {
	return s.taskRepo.Get(ctx, param)
}
