package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var payloadValidate = validator.New()

// AnalysisPayload is the unit of analysis work delivered to a worker.
type AnalysisPayload struct {
	JobID          string        `json:"job_id"                    validate:"required,uuid"`
	RepoID         string        `json:"repo_id"                   validate:"required,uuid"`
	Owner          string        `json:"owner"                     validate:"required"`
	Name           string        `json:"name"                      validate:"required"`
	Branch         string        `json:"branch"                    validate:"required"`
	Depth          AnalysisDepth `json:"depth"                     validate:"required,oneof=fast deep"`
	Tone           OutputTone    `json:"tone"                      validate:"required,oneof=concise detailed"`
	CommitSHA      string        `json:"commit_sha"                validate:"required"`
	IgnorePaths    []string      `json:"ignore_paths,omitempty"`
	InstallationID *int64        `json:"installation_id,omitempty"`
}

// ExportPayload is the unit of export work delivered to a worker.
type ExportPayload struct {
	ExportID     string       `json:"export_id"      validate:"required,uuid"`
	OutputID     string       `json:"output_id"      validate:"required,uuid"`
	Format       ExportFormat `json:"format"         validate:"required,oneof=markdown pdf github_release"`
	RepoFullName string       `json:"repo_full_name" validate:"required"`
}

// QueuePayload is a tagged union over the payload variants. Exactly one variant must be set and it
// must match Kind.
type QueuePayload struct {
	Kind     QueueKind        `json:"kind"`
	Analysis *AnalysisPayload `json:"analysis,omitempty"`
	Export   *ExportPayload   `json:"export,omitempty"`
}

// NewAnalysisPayload wraps p as a QueuePayload.
func NewAnalysisPayload(p AnalysisPayload) QueuePayload {
	return QueuePayload{Kind: QueueKindAnalysis, Analysis: &p}
}

// NewExportPayload wraps p as a QueuePayload.
func NewExportPayload(p ExportPayload) QueuePayload {
	return QueuePayload{Kind: QueueKindExport, Export: &p}
}

var (
	// ErrPayloadKind is returned when the tag does not match the populated variant.
	ErrPayloadKind = errors.New("payload kind does not match variant")
	// ErrPayloadInvalid wraps field validation failures.
	ErrPayloadInvalid = errors.New("invalid payload")
)

// Validate checks the tag and the fields of the populated variant.
func (p QueuePayload) Validate() error {
	var target any
	switch p.Kind {
	case QueueKindAnalysis:
		if p.Analysis == nil || p.Export != nil {
			return ErrPayloadKind
		}
		target = p.Analysis
	case QueueKindExport:
		if p.Export == nil || p.Analysis != nil {
			return ErrPayloadKind
		}
		target = p.Export
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrPayloadKind, p.Kind)
	}

	if err := payloadValidate.Struct(target); err != nil {
		return fmt.Errorf("%w: %w", ErrPayloadInvalid, err)
	}
	return nil
}

// DecodePayload parses raw queue bytes and validates the result. Workers call this before
// dispatching so handlers only ever see well-formed work.
func DecodePayload(raw []byte) (QueuePayload, error) {
	var p QueuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return QueuePayload{}, fmt.Errorf("%w: %w", ErrPayloadInvalid, err)
	}
	if err := p.Validate(); err != nil {
		return QueuePayload{}, err
	}
	return p, nil
}
