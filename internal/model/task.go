package model

import (
	"time"

	"gorm.io/datatypes"
)

type TaskStatus string

const (
	TaskStatusActive   TaskStatus = "active"
	TaskStatusPaused   TaskStatus = "paused"
	TaskStatusArchived TaskStatus = "archived"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusActive, TaskStatusPaused, TaskStatusArchived:
		return true
	}
	return false
}

// Task owns its versions; deleting a task cascades to versions and their executions.
// LastRun is only ever set by a successful completion.
type Task struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	Name        string            `gorm:"type:varchar(255);not null" json:"name"`
	Description string            `gorm:"type:text" json:"description"`
	OwnerID     uint              `gorm:"not null;index" json:"owner_id"`
	Status      TaskStatus        `gorm:"type:varchar(20);not null;default:active" json:"status"`
	IsPublic    bool              `gorm:"not null;default:false" json:"is_public"`
	Tags        datatypes.JSONMap `gorm:"type:jsonb" json:"tags"`
	LastRun     *time.Time        `json:"last_run"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`

	Owner    *User         `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"-"`
	Versions []TaskVersion `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Task) TableName() string {
	return "tasks"
}

type GetTaskParam struct {
	VisibleTo *uint
	Limit     int
}
