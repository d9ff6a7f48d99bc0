package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

type exportFixture struct {
	clock   *testClock
	exports *memExports
	outputs *memOutputs
	store   *memStore
	queue   *memQueue
	svc     *ExportService
	output  *model.AnalysisOutput
}

func newExportFixture(t *testing.T) *exportFixture {
	t.Helper()
	clock := newTestClock(monday)
	f := &exportFixture{
		clock:   clock,
		exports: newMemExports(clock),
		outputs: newMemOutputs(),
		store:   newMemStore(),
		queue:   newMemQueue(clock),
	}
	require.NoError(t, f.outputs.SaveOutputs(context.Background(), core.SaveOutputsParams{
		JobID:  "job-1",
		RepoID: "repo-1",
		Outputs: []model.GeneratedOutput{
			{Kind: model.OutputReleaseSummary, Content: "## v1.2.0\n- faster"},
		},
	}))
	list, err := f.outputs.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	f.output = list[0]

	f.svc, err = NewExportService(ExportServiceOptions{
		Exports: f.exports,
		Outputs: f.outputs,
		Store:   f.store,
		Queue:   f.queue,
		Now:     clock.Now,
		Logger:  slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return f
}

func (f *exportFixture) request(t *testing.T, format model.ExportFormat) (*model.ExportRequest, model.ExportPayload) {
	t.Helper()
	exp, err := f.svc.Request(context.Background(), &model.CreateExportRequest{
		OutputID: f.output.ID,
		UserID:   "user-1",
		Format:   format,
	}, "acme/widgets")
	require.NoError(t, err)

	entry, err := f.queue.GetByID(context.Background(), exp.ID)
	require.NoError(t, err)
	payload, err := model.DecodePayload(entry.Payload)
	require.NoError(t, err)
	require.NotNil(t, payload.Export)
	return exp, *payload.Export
}

func TestExportService_Markdown(t *testing.T) {
	f := newExportFixture(t)
	exp, payload := f.request(t, model.ExportMarkdown)

	require.NoError(t, f.svc.Execute(context.Background(), ExportExecuteRequest{Payload: payload}))

	got, err := f.exports.GetByID(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExportStatusSucceeded, got.Status)
	require.NotNil(t, got.FileURL)
	key := "exports/acme-widgets-1717405200000.md"
	assert.Equal(t, "https://files.example.test/"+key, *got.FileURL)
	assert.Equal(t, "## v1.2.0\n- faster", string(f.store.objects[key]))
	assert.Equal(t, model.ArtifactContentType, f.store.types[key])
	require.NotNil(t, got.CompletedAt)
}

func TestExportService_PDFStoredAsMarkdown(t *testing.T) {
	f := newExportFixture(t)
	_, payload := f.request(t, model.ExportPDF)

	require.NoError(t, f.svc.Execute(context.Background(), ExportExecuteRequest{Payload: payload}))
	assert.Contains(t, f.store.objects, "exports/acme-widgets-1717405200000.md")
}

func TestExportService_GitHubRelease(t *testing.T) {
	f := newExportFixture(t)
	_, payload := f.request(t, model.ExportGitHubRelease)

	require.NoError(t, f.svc.Execute(context.Background(), ExportExecuteRequest{Payload: payload}))
	assert.Contains(t, f.store.objects, "exports/release-notes-1717405200000.md")
}

func TestExportService_FailureMarkedOnlyOnFinalAttempt(t *testing.T) {
	f := newExportFixture(t)
	exp, payload := f.request(t, model.ExportMarkdown)
	f.store.err = errors.New("storage: http 503")

	err := f.svc.Execute(context.Background(), ExportExecuteRequest{Payload: payload})
	require.Error(t, err)
	got, _ := f.exports.GetByID(context.Background(), exp.ID)
	assert.Equal(t, model.ExportStatusRunning, got.Status)

	err = f.svc.Execute(context.Background(), ExportExecuteRequest{Payload: payload, FinalAttempt: true})
	require.Error(t, err)
	got, _ = f.exports.GetByID(context.Background(), exp.ID)
	assert.Equal(t, model.ExportStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "storage: http 503")

	require.NoError(t, f.svc.Execute(context.Background(), ExportExecuteRequest{Payload: payload}),
		"redelivery of a finished export is acknowledged")
}

func TestExportService_RequestValidates(t *testing.T) {
	f := newExportFixture(t)
	_, err := f.svc.Request(context.Background(), &model.CreateExportRequest{
		OutputID: f.output.ID, UserID: "user-1", Format: "docx",
	}, "acme/widgets")
	assert.Error(t, err)

	_, err = f.svc.Request(context.Background(), &model.CreateExportRequest{
		OutputID: "11111111-1111-1111-1111-111111111111", UserID: "user-1", Format: model.ExportMarkdown,
	}, "acme/widgets")
	assert.Error(t, err)
}
