package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data/pgxutil"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	apperrors "github.com/devion-industries/maintainer-brief/internal/errors"
)

// OutputRepo persists generated documents.
type OutputRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

var _ core.OutputRepository = (*OutputRepo)(nil)

// NewOutputRepo creates an OutputRepo. A nil TimeProvider uses the system clock.
func NewOutputRepo(db *sql.DB, tp TimeProvider) *OutputRepo {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &OutputRepo{DB: db, timeProvider: tp}
}

const outputColumns = `id, job_id, repo_id, type, content, confidence, sources, created_at`

// upsertOutputSQL is keyed by (job_id, type) so a redelivered job overwrites its own rows.
const upsertOutputSQL = `
  INSERT INTO analysis_outputs (job_id, repo_id, type, content, confidence, sources, created_at)
  VALUES ($1, $2, $3, $4, $5, $6, $7)
  ON CONFLICT (job_id, type) DO UPDATE
  SET content = EXCLUDED.content,
      confidence = EXCLUDED.confidence,
      sources = EXCLUDED.sources`

// SaveOutputs writes all outputs for a job in one transaction.
func (r *OutputRepo) SaveOutputs(ctx context.Context, params core.SaveOutputsParams) error {
	if params.JobID == "" {
		return ErrJobIDRequired
	}
	if len(params.Outputs) == 0 {
		return errors.New("no outputs to save")
	}

	now := nowUTC(r.timeProvider)
	batch := &pgx.Batch{}
	for _, out := range params.Outputs {
		if !out.Kind.Valid() {
			return fmt.Errorf("invalid output type: %q", out.Kind)
		}
		sources, err := json.Marshal(out.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources for %s: %w", out.Kind, err)
		}
		batch.Queue(upsertOutputSQL, params.JobID, params.RepoID, out.Kind, out.Content, out.Confidence, sources, now)
	}

	return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			results := tx.SendBatch(ctx, batch)
			for _, out := range params.Outputs {
				if _, err := results.Exec(); err != nil {
					_ = results.Close()
					return fmt.Errorf("save %s output: %w", out.Kind, apperrors.MapDBError(err))
				}
			}
			return results.Close()
		},
	})
}

// ListByJob returns a job's outputs in a fixed document order.
func (r *OutputRepo) ListByJob(ctx context.Context, jobID string) ([]*model.AnalysisOutput, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+outputColumns+`
		FROM analysis_outputs
		WHERE job_id = $1
		ORDER BY array_position(
			ARRAY['maintainer_brief', 'contributor_quickstart', 'release_summary', 'good_first_issues']::text[],
			type)
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	defer rows.Close()

	var out []*model.AnalysisOutput
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}
	return out, nil
}

// GetByID returns one output or ErrOutputNotFound.
func (r *OutputRepo) GetByID(ctx context.Context, id string) (*model.AnalysisOutput, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+outputColumns+` FROM analysis_outputs WHERE id = $1`, id)
	o, err := scanOutput(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOutputNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get output: %w", err)
	}
	return o, nil
}

func scanOutput(scanner rowScanner) (*model.AnalysisOutput, error) {
	var (
		o       model.AnalysisOutput
		sources []byte
	)
	if err := scanner.Scan(&o.ID, &o.JobID, &o.RepoID, &o.Kind, &o.Content, &o.Confidence, &sources, &o.CreatedAt); err != nil {
		return nil, err
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &o.Sources); err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}
