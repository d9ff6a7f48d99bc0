package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data/testhelpers"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	apperrors "github.com/devion-industries/maintainer-brief/internal/errors"
	"github.com/devion-industries/maintainer-brief/internal/testutil"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func TestAnalysisJobRepo_StatusTransitions(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		seeded := testhelpers.SeedRepo(t, db, testhelpers.RepoFixture{})
		clock := NewFixedTimeProvider(time.Now().UTC().Truncate(time.Millisecond))
		repo := NewAnalysisJobRepo(db, AnalysisJobRepoConfig{TimeProvider: clock})

		job, err := repo.Create(ctx, &model.CreateAnalysisJobRequest{
			RepoID: seeded.RepoID, UserID: seeded.UserID, Fingerprint: "fp", Trigger: model.TriggerManual,
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, job.Status)
		assert.Equal(t, 0, job.Progress)
		assert.Nil(t, job.StartedAt)

		started := clock.Now()
		job, err = repo.UpdateStatus(ctx, model.StatusUpdate{JobID: job.ID, Status: model.JobStatusRunning, Progress: intPtr(0)})
		require.NoError(t, err)
		require.NotNil(t, job.StartedAt)
		assert.WithinDuration(t, started, *job.StartedAt, time.Millisecond)

		clock.AddTime(time.Minute)
		job, err = repo.UpdateStatus(ctx, model.StatusUpdate{JobID: job.ID, Status: model.JobStatusRunning, Progress: intPtr(25)})
		require.NoError(t, err)
		assert.Equal(t, 25, job.Progress)
		assert.WithinDuration(t, started, *job.StartedAt, time.Millisecond, "started_at is written once")

		job, err = repo.UpdateStatus(ctx, model.StatusUpdate{JobID: job.ID, Status: model.JobStatusRunning, Progress: intPtr(10)})
		require.NoError(t, err)
		assert.Equal(t, 25, job.Progress, "progress never decreases")

		job, err = repo.UpdateStatus(ctx, model.StatusUpdate{
			JobID: job.ID, Status: model.JobStatusFailed, ErrorMessage: strPtr("rate limit exceeded"),
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, job.Status)
		assert.Equal(t, 25, job.Progress, "failure keeps last progress")
		require.NotNil(t, job.FinishedAt)
		require.NotNil(t, job.ErrorMessage)
		assert.Equal(t, "rate limit exceeded", *job.ErrorMessage)

		_, err = repo.UpdateStatus(ctx, model.StatusUpdate{JobID: job.ID, Status: model.JobStatusRunning})
		require.ErrorIs(t, err, model.ErrInvalidTransition)

		_, err = repo.UpdateStatus(ctx, model.StatusUpdate{JobID: "00000000-0000-0000-0000-000000000000", Status: model.JobStatusRunning})
		require.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestAnalysisJobRepo_CreateUnknownRepoIsForeignKeyError(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		seeded := testhelpers.SeedRepo(t, db, testhelpers.RepoFixture{})
		repo := NewAnalysisJobRepo(db, AnalysisJobRepoConfig{})

		_, err := repo.Create(context.Background(), &model.CreateAnalysisJobRequest{
			RepoID:      "00000000-0000-0000-0000-000000000000",
			UserID:      seeded.UserID,
			Fingerprint: "fp",
			Trigger:     model.TriggerManual,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsForeignKey(err), "got %v", err)
		assert.Contains(t, err.Error(), "referenced repository does not exist")
	})
}

func TestAnalysisJobRepo_FindRecentSuccess(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		seeded := testhelpers.SeedRepo(t, db, testhelpers.RepoFixture{})
		clock := NewFixedTimeProvider(time.Now().UTC().Add(-2 * time.Hour))
		repo := NewAnalysisJobRepo(db, AnalysisJobRepoConfig{TimeProvider: clock})

		succeed := func() *model.AnalysisJob {
			j, err := repo.Create(ctx, &model.CreateAnalysisJobRequest{
				RepoID: seeded.RepoID, UserID: seeded.UserID, Fingerprint: "fp", Trigger: model.TriggerSchedule,
			})
			require.NoError(t, err)
			_, err = repo.UpdateStatus(ctx, model.StatusUpdate{JobID: j.ID, Status: model.JobStatusRunning})
			require.NoError(t, err)
			j, err = repo.UpdateStatus(ctx, model.StatusUpdate{JobID: j.ID, Status: model.JobStatusSucceeded, Progress: intPtr(100)})
			require.NoError(t, err)
			return j
		}

		older := succeed()
		clock.AddTime(time.Hour)
		newer := succeed()

		found, err := repo.FindRecentSuccess(ctx, core.FindRecentSuccessParams{
			RepoID: seeded.RepoID, Fingerprint: "fp", Since: older.CreatedAt.Add(-time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, newer.ID, found.ID)

		_, err = repo.FindRecentSuccess(ctx, core.FindRecentSuccessParams{
			RepoID: seeded.RepoID, Fingerprint: "other", Since: older.CreatedAt.Add(-time.Minute),
		})
		require.ErrorIs(t, err, ErrJobNotFound)

		_, err = repo.FindRecentSuccess(ctx, core.FindRecentSuccessParams{
			RepoID: seeded.RepoID, Fingerprint: "fp", Since: newer.CreatedAt.Add(time.Second),
		})
		require.ErrorIs(t, err, ErrJobNotFound)

		latest, err := repo.LatestForRepo(ctx, seeded.RepoID)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, latest.ID)

		list, err := repo.ListForRepo(ctx, seeded.RepoID, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
	})
}

func TestOutputRepo_SaveOutputsIsAtomic(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		seeded := testhelpers.SeedRepo(t, db, testhelpers.RepoFixture{})
		jobs := NewAnalysisJobRepo(db, AnalysisJobRepoConfig{})
		outputs := NewOutputRepo(db, nil)

		job, err := jobs.Create(ctx, &model.CreateAnalysisJobRequest{
			RepoID: seeded.RepoID, UserID: seeded.UserID, Fingerprint: "fp", Trigger: model.TriggerManual,
		})
		require.NoError(t, err)

		gen := func(kind model.OutputKind, confidence float64) model.GeneratedOutput {
			return model.GeneratedOutput{
				Kind: kind, Content: "# " + string(kind), Confidence: confidence,
				Sources: model.OutputSources{Commits: []string{"abc"}, PRs: []int{1}, Issues: []int{}},
			}
		}

		err = outputs.SaveOutputs(ctx, core.SaveOutputsParams{
			JobID:  job.ID,
			RepoID: seeded.RepoID,
			Outputs: []model.GeneratedOutput{
				gen(model.OutputMaintainerBrief, 0.7),
				gen(model.OutputContributorQuickstart, 2), // violates the confidence check
			},
		})
		require.Error(t, err)

		saved, err := outputs.ListByJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Empty(t, saved, "a failed save leaves no rows behind")

		all := make([]model.GeneratedOutput, 0, 4)
		for _, k := range model.OutputKinds() {
			all = append(all, gen(k, 0.8))
		}
		params := core.SaveOutputsParams{JobID: job.ID, RepoID: seeded.RepoID, Outputs: all}
		require.NoError(t, outputs.SaveOutputs(ctx, params))
		require.NoError(t, outputs.SaveOutputs(ctx, params), "redelivery overwrites in place")

		saved, err = outputs.ListByJob(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, saved, 4)
		assert.Equal(t, model.OutputMaintainerBrief, saved[0].Kind)
		assert.Equal(t, []string{"abc"}, saved[0].Sources.Commits)

		one, err := outputs.GetByID(ctx, saved[1].ID)
		require.NoError(t, err)
		assert.Equal(t, model.OutputContributorQuickstart, one.Kind)
	})
}

func TestRepoRepo_ListScheduled(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		installation := int64(42)
		weekly := testhelpers.SeedRepo(t, db, testhelpers.RepoFixture{Schedule: model.RecurrenceWeekly, InstallationID: &installation})
		testhelpers.SeedRepo(t, db, testhelpers.RepoFixture{Schedule: model.RecurrenceManual})
		testhelpers.SeedRepo(t, db, testhelpers.RepoFixture{Schedule: model.RecurrenceBiweekly, Status: "archived"})

		repos := NewRepoRepo(db)
		list, err := repos.ListScheduled(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, weekly.RepoID, list[0].Repo.ID)
		assert.Equal(t, model.RecurrenceWeekly, list[0].Settings.Schedule)
		assert.Nil(t, list[0].LastJobAt)
		require.NotNil(t, list[0].Repo.InstallationID)
		assert.Equal(t, installation, *list[0].Repo.InstallationID)
		assert.Equal(t, weekly.Email, list[0].OwnerEmail)

		got, err := repos.GetWithSettings(ctx, weekly.RepoID)
		require.NoError(t, err)
		assert.Equal(t, "main", got.Settings.EffectiveBranch(&got.Repo))

		_, err = repos.GetWithSettings(ctx, "00000000-0000-0000-0000-000000000000")
		require.ErrorIs(t, err, ErrRepoNotFound)
	})
}
