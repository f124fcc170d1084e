package dto

import (
	"time"

	"taskrunner/internal/model"
)

type ListExecutionsRequest struct {
	Limit int `query:"limit" validate:"omitempty,min=1,max=500"`
}

type ExecutionResponse struct {
	ID            uint                   `json:"id"`
	TaskVersionID uint                   `json:"task_version_id"`
	VersionNumber int                    `json:"version_number,omitempty"`
	Status        string                 `json:"status"`
	JobHandle     string                 `json:"job_handle"`
	ErrorMessage  string                 `json:"error_message"`
	Metrics       map[string]interface{} `json:"metrics"`
	Resources     map[string]interface{} `json:"resources"`
	StartedAt     *time.Time             `json:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at"`
	TriggeredByID *uint                  `json:"triggered_by_id"`
	CreatedAt     time.Time              `json:"created_at"`
}

func NewExecutionResponse(e *model.TaskExecution) ExecutionResponse {
	resp := ExecutionResponse{
		ID:            e.ID,
		TaskVersionID: e.TaskVersionID,
		Status:        string(e.Status),
		JobHandle:     e.JobHandle,
		ErrorMessage:  e.ErrorMessage,
		Metrics:       emptyIfNil(e.Metrics),
		Resources:     emptyIfNil(e.Resources),
		StartedAt:     e.StartedAt,
		CompletedAt:   e.CompletedAt,
		TriggeredByID: e.TriggeredByID,
		CreatedAt:     e.CreatedAt,
	}
	if e.TaskVersion != nil {
		resp.VersionNumber = e.TaskVersion.VersionNumber
	}
	return resp
}

func NewExecutionListResponse(executions []model.TaskExecution) []ExecutionResponse {
	resp := make([]ExecutionResponse, 0, len(executions))
	for i := range executions {
		resp = append(resp, NewExecutionResponse(&executions[i]))
	}
	return resp
}

// ExecutionStatusResponse adds the persisted logs and, while running, the
// worker state and a live resource sample.
type ExecutionStatusResponse struct {
	ExecutionResponse
	Logs             string                 `json:"logs"`
	TaskStatus       string                 `json:"task_status,omitempty"`
	CurrentResources map[string]interface{} `json:"current_resources,omitempty"`
}

type ExecutionLogsResponse struct {
	ExecutionID uint   `json:"execution_id"`
	Logs        string `json:"logs"`
}

type ExecutionMetricsResponse struct {
	ExecutionID uint                   `json:"execution_id"`
	Metrics     map[string]interface{} `json:"metrics"`
}

func emptyIfNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
