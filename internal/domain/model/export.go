package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExportFormat is the rendering target for an exported output.
type ExportFormat string

// ExportStatus tracks an export request.
type ExportStatus string

const (
	ExportMarkdown      ExportFormat = "markdown"
	ExportPDF           ExportFormat = "pdf"
	ExportGitHubRelease ExportFormat = "github_release"

	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// Valid returns true if the format is known.
func (f ExportFormat) Valid() bool {
	return f == ExportMarkdown || f == ExportPDF || f == ExportGitHubRelease
}

// ArtifactName returns the storage key for an export rendered at now. PDF rendering is not
// available, so pdf exports are stored as markdown like every other format.
func (f ExportFormat) ArtifactName(repoFullName string, now time.Time) string {
	if f == ExportGitHubRelease {
		return fmt.Sprintf("release-notes-%d.md", now.UnixMilli())
	}
	return fmt.Sprintf("%s-%d.md", strings.ReplaceAll(repoFullName, "/", "-"), now.UnixMilli())
}

// ArtifactContentType is the MIME type of every stored export.
const ArtifactContentType = "text/markdown"

// ExportRequest is a request to render one output into a downloadable artifact.
type ExportRequest struct {
	ID           string       `json:"id"                      db:"id"`
	OutputID     string       `json:"output_id"               db:"output_id"`
	UserID       string       `json:"user_id"                 db:"user_id"`
	Format       ExportFormat `json:"format"                  db:"format"`
	Status       ExportStatus `json:"status"                  db:"status"`
	FileURL      *string      `json:"file_url,omitempty"      db:"file_url"`
	ErrorMessage *string      `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time    `json:"created_at"              db:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"  db:"completed_at"`
}

// CreateExportRequest represents a request to create a new export.
type CreateExportRequest struct {
	OutputID string       `json:"output_id"`
	UserID   string       `json:"user_id"`
	Format   ExportFormat `json:"format"`
}

// Validate validates the CreateExportRequest fields.
func (r *CreateExportRequest) Validate() error {
	if r.OutputID == "" {
		return errors.New("output id is required")
	}
	if r.UserID == "" {
		return errors.New("user id is required")
	}
	if !r.Format.Valid() {
		return errors.New("invalid export format")
	}
	return nil
}
