package dto

import (
	"time"

	"taskrunner/internal/model"
)

// UploadVersionRequest holds the non-file fields of a version upload form.
// Requirements is only applied when the field is present in the form.
type UploadVersionRequest struct {
	ChangeNote   string `form:"change_note"`
	Status       string `form:"status" validate:"omitempty,oneof=draft active archived"`
	Requirements string `form:"requirements"`
}

type VersionResponse struct {
	ID            uint                   `json:"id"`
	TaskID        uint                   `json:"task_id"`
	VersionNumber int                    `json:"version_number"`
	FileName      string                 `json:"file_name"`
	FileType      string                 `json:"file_type"`
	Checksum      string                 `json:"checksum"`
	FileSize      int64                  `json:"file_size"`
	Status        string                 `json:"status"`
	ChangeNote    string                 `json:"change_note"`
	Requirements  string                 `json:"requirements"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func NewVersionResponse(v *model.TaskVersion) VersionResponse {
	return VersionResponse{
		ID:            v.ID,
		TaskID:        v.TaskID,
		VersionNumber: v.VersionNumber,
		FileName:      v.FileName,
		FileType:      v.Extension(),
		Checksum:      v.Checksum,
		FileSize:      v.FileSize,
		Status:        string(v.Status),
		ChangeNote:    v.ChangeNote,
		Requirements:  v.Requirements,
		Metadata:      v.Metadata,
		CreatedAt:     v.CreatedAt,
	}
}

func NewVersionListResponse(versions []model.TaskVersion) []VersionResponse {
	resp := make([]VersionResponse, 0, len(versions))
	for i := range versions {
		resp = append(resp, NewVersionResponse(&versions[i]))
	}
	return resp
}
