package core

import (
	"context"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// SnapshotFetcher pulls repository activity from the code host.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, req model.SnapshotRequest) (*model.Snapshot, error)
}

// CommitRef identifies a branch head to resolve.
type CommitRef struct {
	Owner          string
	Repo           string
	Branch         string
	InstallationID *int64
}

// CommitResolver returns the current head commit SHA of a branch.
type CommitResolver interface {
	LatestCommit(ctx context.Context, ref CommitRef) (string, error)
}

// Generator turns a snapshot into the document set.
type Generator interface {
	Generate(ctx context.Context, snapshot *model.Snapshot, tone model.OutputTone) ([]model.GeneratedOutput, error)
}

// CompletionNotifier delivers user-facing completion notices for a finished job.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, job *model.AnalysisJob, repo *model.RepoWithSettings) error
}

// ArtifactStore uploads rendered exports and returns a retrievable URL.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// SecretDecryptor reverses at-rest encryption of stored secrets such as webhook URLs.
type SecretDecryptor interface {
	Decrypt(ciphertext string) (string, error)
}
