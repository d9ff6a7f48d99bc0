// Package mocks provides gomock implementations of the core ports for service and adapter tests.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	jobs := mocks.NewMockAnalysisJobRepository(ctrl)
//	jobs.EXPECT().GetByID(gomock.Any(), id).Return(job, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=analysis_job_repository_mock.go github.com/devion-industries/maintainer-brief/internal/core AnalysisJobRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=queue_reaper_repository_mock.go github.com/devion-industries/maintainer-brief/internal/core QueueReaperRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=export_repository_mock.go github.com/devion-industries/maintainer-brief/internal/core ExportRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=repo_repository_mock.go github.com/devion-industries/maintainer-brief/internal/core RepoRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/devion-industries/maintainer-brief/internal/core CacheRepository

// Collaborator ports implemented by the GitHub, OpenAI, and export store adapters.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=commit_resolver_mock.go github.com/devion-industries/maintainer-brief/internal/core CommitResolver
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=snapshot_fetcher_mock.go github.com/devion-industries/maintainer-brief/internal/core SnapshotFetcher
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=generator_mock.go github.com/devion-industries/maintainer-brief/internal/core Generator
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=artifact_store_mock.go github.com/devion-industries/maintainer-brief/internal/core ArtifactStore
