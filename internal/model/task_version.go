package model

import (
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type VersionStatus string

const (
	VersionStatusDraft    VersionStatus = "draft"
	VersionStatusActive   VersionStatus = "active"
	VersionStatusArchived VersionStatus = "archived"
)

func (s VersionStatus) Valid() bool {
	switch s {
	case VersionStatusDraft, VersionStatusActive, VersionStatusArchived:
		return true
	}
	return false
}

// TaskVersion is an immutable artifact snapshot of a task. Only Status and
// Metadata change after creation. At most one version per task is active.
type TaskVersion struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	TaskID        uint              `gorm:"not null;uniqueIndex:idx_task_versions_task_number,priority:1" json:"task_id"`
	VersionNumber int               `gorm:"not null;uniqueIndex:idx_task_versions_task_number,priority:2" json:"version_number"`
	FileName      string            `gorm:"type:varchar(255);not null" json:"file_name"`
	ArtifactKey   string            `gorm:"type:varchar(255);not null" json:"artifact_key"`
	Checksum      string            `gorm:"type:varchar(64);not null" json:"checksum"`
	FileSize      int64             `gorm:"not null;default:0" json:"file_size"`
	Status        VersionStatus     `gorm:"type:varchar(20);not null;default:draft;index" json:"status"`
	ChangeNote    string            `gorm:"type:text" json:"change_note"`
	Requirements  string            `gorm:"type:text" json:"requirements"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`

	Task       *Task           `gorm:"foreignKey:TaskID" json:"-"`
	Executions []TaskExecution `gorm:"foreignKey:TaskVersionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (TaskVersion) TableName() string {
	return "task_versions"
}

// Extension returns the artifact extension without the dot, e.g. "py".
func (v *TaskVersion) Extension() string {
	return ArtifactExtension(v.FileName)
}

func ArtifactExtension(fileName string) string {
	return strings.TrimPrefix(filepath.Ext(fileName), ".")
}
