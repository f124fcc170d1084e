package dto

import (
	"time"

	"taskrunner/internal/model"
)

type CreateUserRequest struct {
	Username string `json:"username" validate:"required,max=150"`
}

type CreateTaskRequest struct {
	Name        string                 `json:"name" validate:"required,max=255"`
	Description string                 `json:"description"`
	Status      string                 `json:"status" validate:"omitempty,oneof=active paused archived"`
	IsPublic    bool                   `json:"is_public"`
	Tags        map[string]interface{} `json:"tags"`
}

type TaskResponse struct {
	ID            uint                   `json:"id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	OwnerID       uint                   `json:"owner_id"`
	Status        string                 `json:"status"`
	IsPublic      bool                   `json:"is_public"`
	Tags          map[string]interface{} `json:"tags,omitempty"`
	LastRun       *time.Time             `json:"last_run"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	ActiveVersion *VersionResponse       `json:"active_version,omitempty"`
}

func NewTaskResponse(task *model.Task, active *model.TaskVersion) TaskResponse {
	resp := TaskResponse{
		ID:          task.ID,
		Name:        task.Name,
		Description: task.Description,
		OwnerID:     task.OwnerID,
		Status:      string(task.Status),
		IsPublic:    task.IsPublic,
		Tags:        task.Tags,
		LastRun:     task.LastRun,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
	if active != nil {
		v := NewVersionResponse(active)
		resp.ActiveVersion = &v
	}
	return resp
}
