package model

import (
	"time"

	"gorm.io/datatypes"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
)

// executionTransitions lists every legal edge. Terminal states have none.
var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {ExecutionStatusRunning, ExecutionStatusCancelled},
	ExecutionStatusRunning: {ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled, ExecutionStatusTimeout},
}

func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled, ExecutionStatusTimeout:
		return true
	}
	return false
}

func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	for _, candidate := range executionTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// TransitionSources returns the states from which next may be entered.
func TransitionSources(next ExecutionStatus) []ExecutionStatus {
	var sources []ExecutionStatus
	for _, from := range []ExecutionStatus{ExecutionStatusPending, ExecutionStatusRunning} {
		if from.CanTransitionTo(next) {
			sources = append(sources, from)
		}
	}
	return sources
}

// TaskExecution is one run of a TaskVersion. It is written by a single job except
// for the terminal transition, which is a compare-and-set on Status.
type TaskExecution struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	TaskVersionID uint              `gorm:"not null;index" json:"task_version_id"`
	Status        ExecutionStatus   `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	Logs          string            `gorm:"type:text" json:"logs"`
	ErrorMessage  string            `gorm:"type:text" json:"error_message"`
	Metrics       datatypes.JSONMap `gorm:"type:jsonb" json:"metrics"`
	Resources     datatypes.JSONMap `gorm:"type:jsonb" json:"resources"`
	StartedAt     *time.Time        `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at"`
	TriggeredByID *uint             `gorm:"index" json:"triggered_by_id"`
	JobHandle     string            `gorm:"type:varchar(255);not null;default:''" json:"job_handle"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`

	TaskVersion *TaskVersion `gorm:"foreignKey:TaskVersionID" json:"-"`
	TriggeredBy *User        `gorm:"foreignKey:TriggeredByID;constraint:OnDelete:SET NULL" json:"-"`
}

func (TaskExecution) TableName() string {
	return "task_executions"
}

// ExecutionUpdate carries the columns written together with a status change.
// Nil fields are left untouched.
type ExecutionUpdate struct {
	Status       ExecutionStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	JobHandle    *string
	Logs         *string
	ErrorMessage *string
	Metrics      map[string]interface{}
	Resources    map[string]interface{}
}

// Columns renders the update as a column map for a gorm Updates call.
func (u ExecutionUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{"status": u.Status}
	if u.StartedAt != nil {
		cols["started_at"] = *u.StartedAt
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	if u.JobHandle != nil {
		cols["job_handle"] = *u.JobHandle
	}
	if u.Logs != nil {
		cols["logs"] = *u.Logs
	}
	if u.ErrorMessage != nil {
		cols["error_message"] = *u.ErrorMessage
	}
	if u.Metrics != nil {
		cols["metrics"] = datatypes.JSONMap(u.Metrics)
	}
	if u.Resources != nil {
		cols["resources"] = datatypes.JSONMap(u.Resources)
	}
	return cols
}

// Apply copies the update onto an in-memory record after it has been persisted.
func (u ExecutionUpdate) Apply(e *TaskExecution) {
	e.Status = u.Status
	if u.StartedAt != nil {
		e.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		e.CompletedAt = u.CompletedAt
	}
	if u.JobHandle != nil {
		e.JobHandle = *u.JobHandle
	}
	if u.Logs != nil {
		e.Logs = *u.Logs
	}
	if u.ErrorMessage != nil {
		e.ErrorMessage = *u.ErrorMessage
	}
	if u.Metrics != nil {
		e.Metrics = u.Metrics
	}
	if u.Resources != nil {
		e.Resources = u.Resources
	}
}
