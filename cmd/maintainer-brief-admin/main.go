package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/bootstrap"
	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	apperrors "github.com/devion-industries/maintainer-brief/internal/errors"
	"github.com/devion-industries/maintainer-brief/internal/migrate"
	"github.com/devion-industries/maintainer-brief/internal/service"
	"github.com/devion-industries/maintainer-brief/internal/util"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 30 * time.Second
	defaultSweepTimeout     = 10 * time.Minute
)

func main() {
	logger := bootstrap.InitLogger(os.Getenv("LOG_LEVEL"))
	os.Exit(run(os.Args[1:], logger, os.Stdout)) //nolint:forbidigo // CLI exit status reports the failure class to scripts
}

// run dispatches a command and returns the process exit status.
func run(args []string, logger *slog.Logger, out io.Writer) int {
	if len(args) < 1 {
		if err := printUsage(out); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		return apperrors.ExitUsage
	}

	cmdName := args[0]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(out, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(out); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		return apperrors.ExitUsage
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.Error("load config", "error", err)
		return apperrors.ExitFailure
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Out:    out,
	}
	if runErr := cmd.run(cmdCtx, args[1:]); runErr != nil {
		runErr = classifyError(runErr)
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		return apperrors.ExitCode(runErr)
	}
	return apperrors.ExitOK
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"trigger": {
			name:        "trigger",
			description: "Request an analysis for a repository through the idempotency gate",
			run:         runTrigger,
		},
		"status": {
			name:        "status",
			description: "Show the status of an analysis job",
			run:         runStatus,
		},
		"jobs": {
			name:        "jobs",
			description: "List the newest analysis jobs for a repository",
			run:         runJobs,
		},
		"cancel": {
			name:        "cancel",
			description: "Cancel an analysis job that has not started",
			run:         runCancel,
		},
		"sweep": {
			name:        "sweep",
			description: "Run one recurring-analysis sweep now",
			run:         runSweep,
		},
		"queue-stats": {
			name:        "queue-stats",
			description: "Show queue entry counts per kind and status",
			run:         runQueueStats,
		},
	}
}

func printUsage(out io.Writer) error {
	if err := writef(out, "Usage: maintainer-brief-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(out, "Available commands:\n"); err != nil {
		return err
	}
	names := make([]string, 0, len(commands()))
	for name := range commands() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(out, "  %-14s %s\n", name, commands()[name].description); err != nil {
			return err
		}
	}
	return nil
}

// classifyError attaches an application error code to the sentinels commands surface so the exit
// status reflects the failure class.
func classifyError(err error) error {
	if apperrors.GetCode(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, flag.ErrHelp), errors.Is(err, errUsage), errors.Is(err, service.ErrInvalidTrigger):
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid input")
	case errors.Is(err, data.ErrJobNotFound), errors.Is(err, data.ErrRepoNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "not found")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "timed out")
	}
	return err
}

var errUsage = errors.New("usage")

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	return nil
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: --%s is required", errUsage, name)
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
	List    bool
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := newFlagSet("migrate")
	opts := migrateOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")
	fs.BoolVar(&opts.List, "list", false, "Print the embedded migration versions and exit")
	if err := parseFlags(fs, args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, fmt.Errorf("%w: --timeout must be greater than zero", errUsage)
	}
	return opts, nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	if opts.List {
		versions, verr := migrate.Versions()
		if verr != nil {
			return fmt.Errorf("list migrations: %w", verr)
		}
		for _, v := range versions {
			if werr := writeln(cmdCtx.Out, v); werr != nil {
				return werr
			}
		}
		return nil
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

type triggerOptions struct {
	RepoID    string
	UserID    string
	CommitSHA string
	JSON      bool
}

func parseTriggerFlags(args []string) (triggerOptions, error) {
	fs := newFlagSet("trigger")
	opts := triggerOptions{}
	fs.StringVar(&opts.RepoID, "repo", "", "Repository id")
	fs.StringVar(&opts.UserID, "user", "", "Requesting user id (defaults to the repository owner)")
	fs.StringVar(&opts.CommitSHA, "commit", "", "Reference commit SHA (defaults to the latest on the branch)")
	fs.BoolVar(&opts.JSON, "json", false, "Print the result as JSON")
	if err := parseFlags(fs, args); err != nil {
		return triggerOptions{}, err
	}
	if err := requireFlag("repo", opts.RepoID); err != nil {
		return triggerOptions{}, err
	}
	return opts, nil
}

func runTrigger(cmdCtx *commandContext, args []string) error {
	opts, err := parseTriggerFlags(args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, nil, func(ctx context.Context, svc bootstrap.ServiceContainer) error {
		res, terr := svc.Analysis.Trigger(ctx, service.TriggerRequest{
			RepoID:    opts.RepoID,
			UserID:    opts.UserID,
			Trigger:   model.TriggerManual,
			CommitSHA: opts.CommitSHA,
		})
		if terr != nil {
			return terr
		}
		return printTriggerResult(cmdCtx.Out, res, opts.JSON)
	})
}

func printTriggerResult(out io.Writer, res *service.TriggerResult, asJSON bool) error {
	if asJSON {
		return writeJSON(out, map[string]any{
			"job_id":       res.JobID,
			"status":       res.Status,
			"deduplicated": res.Deduplicated,
			"fingerprint":  res.Fingerprint,
		})
	}
	verb := "queued"
	if res.Deduplicated {
		verb = "reused"
	}
	return writef(out, "%s job %s (status %s, fingerprint %s)\n", verb, res.JobID, res.Status, res.Fingerprint)
}

type jobOptions struct {
	JobID string
	JSON  bool
}

func parseJobFlags(name string, args []string) (jobOptions, error) {
	fs := newFlagSet(name)
	opts := jobOptions{}
	fs.StringVar(&opts.JobID, "job", "", "Analysis job id")
	fs.BoolVar(&opts.JSON, "json", false, "Print the result as JSON")
	if err := parseFlags(fs, args); err != nil {
		return jobOptions{}, err
	}
	if err := requireFlag("job", opts.JobID); err != nil {
		return jobOptions{}, err
	}
	return opts, nil
}

func runStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobFlags("status", args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, nil, func(ctx context.Context, svc bootstrap.ServiceContainer) error {
		view, serr := svc.Analysis.Status(ctx, opts.JobID)
		if serr != nil {
			return serr
		}
		return printStatus(cmdCtx.Out, view, opts.JSON)
	})
}

func printStatus(out io.Writer, view model.JobStatusView, asJSON bool) error {
	if asJSON {
		return writeJSON(out, view)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writef(w, "Job\t%s\n", view.ID); err != nil {
		return err
	}
	if err := writef(w, "Status\t%s\n", view.Status); err != nil {
		return err
	}
	if err := writef(w, "Progress\t%d%%\n", view.Progress); err != nil {
		return err
	}
	if err := writef(w, "Started\t%s\n", formatTime(view.StartedAt)); err != nil {
		return err
	}
	if err := writef(w, "Finished\t%s\n", formatTime(view.FinishedAt)); err != nil {
		return err
	}
	if err := writef(w, "Elapsed\t%s\n", util.FormatElapsed(view.StartedAt, view.FinishedAt, time.Now())); err != nil {
		return err
	}
	if view.ErrorMessage != nil {
		if err := writef(w, "Error\t%s\n", *view.ErrorMessage); err != nil {
			return err
		}
	}
	return w.Flush()
}

type listJobsOptions struct {
	RepoID string
	Limit  int
	JSON   bool
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := newFlagSet("jobs")
	opts := listJobsOptions{}
	fs.StringVar(&opts.RepoID, "repo", "", "Repository id")
	fs.IntVar(&opts.Limit, "limit", 20, "Maximum number of jobs to list")
	fs.BoolVar(&opts.JSON, "json", false, "Print the result as JSON")
	if err := parseFlags(fs, args); err != nil {
		return listJobsOptions{}, err
	}
	if err := requireFlag("repo", opts.RepoID); err != nil {
		return listJobsOptions{}, err
	}
	if opts.Limit <= 0 {
		return listJobsOptions{}, fmt.Errorf("%w: --limit must be greater than zero", errUsage)
	}
	return opts, nil
}

func runJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, nil, func(ctx context.Context, svc bootstrap.ServiceContainer) error {
		jobs, lerr := svc.Analysis.ListJobs(ctx, opts.RepoID, opts.Limit)
		if lerr != nil {
			return lerr
		}
		return printJobs(cmdCtx.Out, jobs, opts.JSON)
	})
}

func printJobs(out io.Writer, jobs []*model.AnalysisJob, asJSON bool) error {
	if asJSON {
		return writeJSON(out, jobs)
	}
	if len(jobs) == 0 {
		return writeln(out, "no jobs found")
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(w, "ID\tStatus\tProgress\tTrigger\tCreated\tFinished"); err != nil {
		return fmt.Errorf("write jobs header: %w", err)
	}
	for _, j := range jobs {
		if err := writef(w, "%s\t%s\t%d%%\t%s\t%s\t%s\n",
			j.ID, j.Status, j.Progress, j.Trigger, j.CreatedAt.UTC().Format(time.RFC3339), formatTime(j.FinishedAt),
		); err != nil {
			return fmt.Errorf("write job %s: %w", j.ID, err)
		}
	}
	return w.Flush()
}

func runCancel(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobFlags("cancel", args)
	if err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, nil, func(ctx context.Context, svc bootstrap.ServiceContainer) error {
		canceled, cerr := svc.Analysis.Cancel(ctx, opts.JobID)
		if cerr != nil {
			return cerr
		}
		if !canceled {
			return apperrors.Conflictf("job %s is already running or finished", opts.JobID)
		}
		return writef(cmdCtx.Out, "canceled job %s\n", opts.JobID)
	})
}

func runSweep(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("sweep")
	timeout := fs.Duration("timeout", defaultSweepTimeout, "Maximum duration of the sweep")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	modes := map[config.ServiceMode]bool{config.ServiceModeScheduler: true}
	return withServices(cmdCtx, *timeout, modes, func(ctx context.Context, svc bootstrap.ServiceContainer) error {
		res, serr := svc.Scheduler.Sweep(ctx, time.Now())
		if serr != nil {
			return serr
		}
		return printSweepResult(cmdCtx.Out, res)
	})
}

func printSweepResult(out io.Writer, res core.SweepResult) error {
	switch {
	case res.OutsideWindow:
		return writeln(out, "sweep skipped: outside the configured hour window")
	case res.LockHeld:
		return writeln(out, "sweep skipped: another instance already swept this hour")
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		n     int
	}{
		{"Considered", res.Considered},
		{"Triggered", res.Triggered},
		{"Deduplicated", res.Deduplicated},
		{"Skipped", res.Skipped},
		{"Failed", res.Failed},
	}
	for _, r := range rows {
		if err := writef(w, "%s\t%d\n", r.label, r.n); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runQueueStats(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet("queue-stats")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	return withServices(cmdCtx, defaultCommandTimeout, nil, func(ctx context.Context, svc bootstrap.ServiceContainer) error {
		stats := make(map[model.QueueKind]*model.QueueStats, 2)
		for _, kind := range []model.QueueKind{model.QueueKindAnalysis, model.QueueKindExport} {
			s, serr := svc.Queue.Stats(ctx, kind)
			if serr != nil {
				return fmt.Errorf("queue stats %s: %w", kind, serr)
			}
			stats[kind] = s
		}
		return printQueueStats(cmdCtx.Out, stats, *asJSON)
	})
}

func printQueueStats(out io.Writer, stats map[model.QueueKind]*model.QueueStats, asJSON bool) error {
	if asJSON {
		return writeJSON(out, stats)
	}
	kinds := make([]string, 0, len(stats))
	for k := range stats {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(w, "Kind\tPending\tRunning\tCompleted\tFailed"); err != nil {
		return fmt.Errorf("write queue stats header: %w", err)
	}
	for _, k := range kinds {
		s := stats[model.QueueKind(k)]
		if s == nil {
			continue
		}
		if err := writef(w, "%s\t%d\t%d\t%d\t%d\n", k, s.Pending, s.Running, s.Completed, s.Failed); err != nil {
			return fmt.Errorf("write queue stats %s: %w", k, err)
		}
	}
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
