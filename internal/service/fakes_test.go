package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devion-industries/maintainer-brief/internal/core"
	"github.com/devion-industries/maintainer-brief/internal/data"
	"github.com/devion-industries/maintainer-brief/internal/domain/model"
	"github.com/devion-industries/maintainer-brief/internal/observability/notify"
)

// testClock is a settable clock shared by the in-memory stores.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memJobs mirrors the conditional update rules of the Postgres job store.
type memJobs struct {
	mu        sync.Mutex
	clock     *testClock
	jobs      map[string]*model.AnalysisJob
	progress  map[string][]int
	createErr error
}

func newMemJobs(clock *testClock) *memJobs {
	return &memJobs{clock: clock, jobs: map[string]*model.AnalysisJob{}, progress: map[string][]int{}}
}

func (m *memJobs) Create(_ context.Context, req *model.CreateAnalysisJobRequest) (*model.AnalysisJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	job := &model.AnalysisJob{
		ID:          uuid.NewString(),
		RepoID:      req.RepoID,
		UserID:      req.UserID,
		Fingerprint: req.Fingerprint,
		Trigger:     req.Trigger,
		Status:      model.JobStatusQueued,
		CreatedAt:   m.clock.Now(),
	}
	m.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (m *memJobs) GetByID(_ context.Context, id string) (*model.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobs) FindRecentSuccess(_ context.Context, p core.FindRecentSuccessParams) (*model.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.AnalysisJob
	for _, job := range m.jobs {
		if job.RepoID != p.RepoID || job.Fingerprint != p.Fingerprint || job.Status != model.JobStatusSucceeded {
			continue
		}
		if job.CreatedAt.Before(p.Since) {
			continue
		}
		if best == nil || job.CreatedAt.After(best.CreatedAt) {
			best = job
		}
	}
	if best == nil {
		return nil, data.ErrJobNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memJobs) UpdateStatus(_ context.Context, u model.StatusUpdate) (*model.AnalysisJob, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[u.JobID]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, job.Status, u.Status)
	}
	now := m.clock.Now()
	job.Status = u.Status
	if u.Status == model.JobStatusRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if u.Status.Terminal() {
		job.FinishedAt = &now
	}
	if u.Progress != nil && *u.Progress > job.Progress {
		job.Progress = *u.Progress
	}
	if u.ErrorMessage != nil {
		msg := *u.ErrorMessage
		job.ErrorMessage = &msg
	}
	if u.Progress != nil {
		m.progress[job.ID] = append(m.progress[job.ID], *u.Progress)
	}
	cp := *job
	return &cp, nil
}

func (m *memJobs) LatestForRepo(_ context.Context, repoID string) (*model.AnalysisJob, error) {
	list, _ := m.ListForRepo(context.Background(), repoID, 1)
	if len(list) == 0 {
		return nil, data.ErrJobNotFound
	}
	return list[0], nil
}

func (m *memJobs) ListForRepo(_ context.Context, repoID string, limit int) ([]*model.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AnalysisJob
	for _, job := range m.jobs {
		if job.RepoID == repoID {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// memQueue is an in-memory durable queue with the same retry arithmetic as the Postgres one.
type memQueue struct {
	mu         sync.Mutex
	clock      *testClock
	entries    map[string]*model.QueueEntry
	enqueueErr error
}

func newMemQueue(clock *testClock) *memQueue {
	return &memQueue{clock: clock, entries: map[string]*model.QueueEntry{}}
}

func (q *memQueue) Enqueue(_ context.Context, req *model.EnqueueRequest) (*model.QueueEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return nil, q.enqueueErr
	}
	raw, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, dup := q.entries[id]; dup {
		return nil, fmt.Errorf("duplicate queue entry %s", id)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	now := q.clock.Now()
	entry := &model.QueueEntry{
		ID:            id,
		Kind:          req.Payload.Kind,
		Status:        model.QueueStatusPending,
		Payload:       raw,
		MaxAttempts:   maxAttempts,
		BackoffMillis: req.Backoff.Milliseconds(),
		ScheduledAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	q.entries[id] = entry
	cp := *entry
	return &cp, nil
}

func (q *memQueue) GetByID(_ context.Context, id string) (*model.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return nil, data.ErrQueueEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (q *memQueue) ReserveNext(_ context.Context, kind model.QueueKind, lease time.Duration) (*model.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	var next *model.QueueEntry
	for _, e := range q.entries {
		if e.Kind != kind || e.Status != model.QueueStatusPending || e.ScheduledAt.After(now) {
			continue
		}
		if next == nil || e.ScheduledAt.Before(next.ScheduledAt) {
			next = e
		}
	}
	if next == nil {
		return nil, model.ErrNoJobsAvailable
	}
	expires := now.Add(lease)
	next.Status = model.QueueStatusRunning
	next.StartedAt = &now
	next.LeaseExpiresAt = &expires
	cp := *next
	return &cp, nil
}

func (q *memQueue) WaitForNotification(ctx context.Context, _ model.QueueKind) error {
	<-ctx.Done()
	return ctx.Err()
}

func (q *memQueue) Heartbeat(_ context.Context, id string, lease time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok || e.Status != model.QueueStatusRunning {
		return false, nil
	}
	expires := q.clock.Now().Add(lease)
	e.LeaseExpiresAt = &expires
	return true, nil
}

func (q *memQueue) Complete(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok || e.Status != model.QueueStatusRunning {
		return false, nil
	}
	now := q.clock.Now()
	e.Status = model.QueueStatusCompleted
	e.CompletedAt = &now
	e.LeaseExpiresAt = nil
	return true, nil
}

func (q *memQueue) Fail(_ context.Context, id, errMsg string) (model.QueueStatus, error) {
	return q.fail(id, errMsg, false)
}

func (q *memQueue) FailPermanent(_ context.Context, id, errMsg string) (model.QueueStatus, error) {
	return q.fail(id, errMsg, true)
}

func (q *memQueue) fail(id, errMsg string, permanent bool) (model.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok || e.Status != model.QueueStatusRunning {
		return "", nil
	}
	now := q.clock.Now()
	prev := e.Attempts
	e.Attempts++
	e.LastError = &errMsg
	e.LeaseExpiresAt = nil
	if !permanent && e.Attempts < e.MaxAttempts {
		e.Status = model.QueueStatusPending
		e.ScheduledAt = now.Add(time.Duration(e.BackoffMillis) * time.Millisecond << prev)
		return e.Status, nil
	}
	e.Status = model.QueueStatusFailed
	e.CompletedAt = &now
	return e.Status, nil
}

func (q *memQueue) Remove(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return false, data.ErrQueueEntryNotFound
	}
	if e.Status != model.QueueStatusPending || e.LeaseExpiresAt != nil || e.Attempts > 0 || e.StartedAt != nil {
		return false, nil
	}
	delete(q.entries, id)
	return true, nil
}

func (q *memQueue) Stats(_ context.Context, kind model.QueueKind) (*model.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s model.QueueStats
	for _, e := range q.entries {
		if e.Kind != kind {
			continue
		}
		switch e.Status {
		case model.QueueStatusPending:
			s.Pending++
		case model.QueueStatusRunning:
			s.Running++
		case model.QueueStatusCompleted:
			s.Completed++
		case model.QueueStatusFailed:
			s.Failed++
		}
	}
	return &s, nil
}

func (q *memQueue) status(id string) model.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[id]; ok {
		return e.Status
	}
	return ""
}

// memOutputs keys outputs by (job, kind) and writes each batch all-or-nothing.
type memOutputs struct {
	mu      sync.Mutex
	byJob   map[string]map[model.OutputKind]*model.AnalysisOutput
	saveErr error
	saves   int
}

func newMemOutputs() *memOutputs {
	return &memOutputs{byJob: map[string]map[model.OutputKind]*model.AnalysisOutput{}}
}

func (m *memOutputs) SaveOutputs(_ context.Context, p core.SaveOutputsParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	staged := map[model.OutputKind]*model.AnalysisOutput{}
	for k, v := range m.byJob[p.JobID] {
		staged[k] = v
	}
	for _, o := range p.Outputs {
		if !o.Kind.Valid() {
			return fmt.Errorf("invalid output kind %q", o.Kind)
		}
		staged[o.Kind] = &model.AnalysisOutput{
			ID:         uuid.NewString(),
			JobID:      p.JobID,
			RepoID:     p.RepoID,
			Kind:       o.Kind,
			Content:    o.Content,
			Confidence: o.Confidence,
			Sources:    o.Sources,
		}
	}
	m.byJob[p.JobID] = staged
	return nil
}

func (m *memOutputs) ListByJob(_ context.Context, jobID string) ([]*model.AnalysisOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AnalysisOutput
	for _, o := range m.byJob[jobID] {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (m *memOutputs) GetByID(_ context.Context, id string) (*model.AnalysisOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, outs := range m.byJob {
		for _, o := range outs {
			if o.ID == id {
				cp := *o
				return &cp, nil
			}
		}
	}
	return nil, data.ErrOutputNotFound
}

func (m *memOutputs) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, outs := range m.byJob {
		n += len(outs)
	}
	return n
}

// memRepos serves repositories and their settings.
type memRepos struct {
	mu      sync.Mutex
	repos   map[string]*model.ScheduledRepo
	listErr error
}

func newMemRepos(repos ...*model.ScheduledRepo) *memRepos {
	m := &memRepos{repos: map[string]*model.ScheduledRepo{}}
	for _, r := range repos {
		m.repos[r.Repo.ID] = r
	}
	return m
}

func (m *memRepos) GetWithSettings(_ context.Context, repoID string) (*model.RepoWithSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[repoID]
	if !ok {
		return nil, data.ErrRepoNotFound
	}
	cp := r.RepoWithSettings
	return &cp, nil
}

func (m *memRepos) ListScheduled(context.Context) ([]*model.ScheduledRepo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.ScheduledRepo
	for _, r := range m.repos {
		if r.Settings.Schedule == model.RecurrenceManual {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repo.ID < out[j].Repo.ID })
	return out, nil
}

// memExports tracks export requests.
type memExports struct {
	mu      sync.Mutex
	clock   *testClock
	exports map[string]*model.ExportRequest
}

func newMemExports(clock *testClock) *memExports {
	return &memExports{clock: clock, exports: map[string]*model.ExportRequest{}}
}

func (m *memExports) Create(_ context.Context, req *model.CreateExportRequest) (*model.ExportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &model.ExportRequest{
		ID:        uuid.NewString(),
		OutputID:  req.OutputID,
		UserID:    req.UserID,
		Format:    req.Format,
		Status:    model.ExportStatusQueued,
		CreatedAt: m.clock.Now(),
	}
	m.exports[e.ID] = e
	cp := *e
	return &cp, nil
}

func (m *memExports) GetByID(_ context.Context, id string) (*model.ExportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exports[id]
	if !ok {
		return nil, data.ErrExportNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memExports) MarkRunning(_ context.Context, id string) error {
	return m.set(id, model.ExportStatusRunning, nil, nil)
}

func (m *memExports) MarkSucceeded(_ context.Context, id, fileURL string) error {
	return m.set(id, model.ExportStatusSucceeded, &fileURL, nil)
}

func (m *memExports) MarkFailed(_ context.Context, id, errMsg string) error {
	return m.set(id, model.ExportStatusFailed, nil, &errMsg)
}

func (m *memExports) set(id string, status model.ExportStatus, url, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exports[id]
	if !ok {
		return data.ErrExportNotFound
	}
	if e.Status == model.ExportStatusSucceeded || e.Status == model.ExportStatusFailed {
		return fmt.Errorf("%w: export is %s", model.ErrInvalidTransition, e.Status)
	}
	e.Status = status
	if url != nil {
		e.FileURL = url
	}
	if errMsg != nil {
		e.ErrorMessage = errMsg
	}
	if status == model.ExportStatusSucceeded || status == model.ExportStatusFailed {
		now := m.clock.Now()
		e.CompletedAt = &now
	}
	return nil
}

// stubFetcher returns a fixed snapshot or error and counts calls.
type stubFetcher struct {
	mu       sync.Mutex
	snapshot *model.Snapshot
	err      error
	calls    int
	requests []model.SnapshotRequest
}

func (f *stubFetcher) FetchSnapshot(_ context.Context, req model.SnapshotRequest) (*model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

// stubGenerator emits one output per kind unless err is set.
type stubGenerator struct {
	mu        sync.Mutex
	err       error
	panicWith any
	calls     int
}

func (g *stubGenerator) Generate(_ context.Context, s *model.Snapshot, tone model.OutputTone) ([]model.GeneratedOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.panicWith != nil {
		panic(g.panicWith)
	}
	if g.err != nil {
		return nil, g.err
	}
	var out []model.GeneratedOutput
	for _, kind := range model.OutputKinds() {
		out = append(out, model.GeneratedOutput{
			Kind:       kind,
			Content:    fmt.Sprintf("# %s (%s)", kind, tone),
			Confidence: model.ConfidenceFor(s, kind),
			Sources:    model.SourcesFor(s),
		})
	}
	return out, nil
}

// recordingNotifier records completion notices.
type recordingNotifier struct {
	mu    sync.Mutex
	jobs  []string
	err   error
	panic any
}

func (n *recordingNotifier) NotifyCompletion(_ context.Context, job *model.AnalysisJob, _ *model.RepoWithSettings) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.panic != nil {
		panic(n.panic)
	}
	n.jobs = append(n.jobs, job.ID)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobs)
}

// stubCommits resolves every branch to sha unless err is set.
type stubCommits struct {
	sha  string
	err  error
	refs []core.CommitRef
}

func (c *stubCommits) LatestCommit(_ context.Context, ref core.CommitRef) (string, error) {
	c.refs = append(c.refs, ref)
	if c.err != nil {
		return "", c.err
	}
	return c.sha, nil
}

// memStore is an ArtifactStore that keeps uploads in memory.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStore) Put(_ context.Context, key, contentType string, body []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.objects[key] = body
	s.types[key] = contentType
	return "https://files.example.test/" + key, nil
}

// memCacheRepo is a minimal CacheRepository.
type memCacheRepo struct {
	mu     sync.Mutex
	values map[string][]byte
	setErr error
}

func newMemCacheRepo() *memCacheRepo { return &memCacheRepo{values: map[string][]byte{}} }

func (m *memCacheRepo) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func (m *memCacheRepo) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memCacheRepo) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	delete(m.values, key)
	return ok, nil
}

func (m *memCacheRepo) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok, nil
}

func (m *memCacheRepo) SetTTL(_ context.Context, key string, _ time.Duration) (bool, error) {
	return m.Exists(context.Background(), key)
}

func (m *memCacheRepo) SetIfNotExists(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return false, m.setErr
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *memCacheRepo) Health(context.Context) error { return nil }

// fixedFailureSink records operator failure alerts.
type fixedFailureSink struct {
	mu       sync.Mutex
	payloads []notify.JobFailurePayload
}

func (s *fixedFailureSink) SendJobFailure(_ context.Context, p notify.JobFailurePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *fixedFailureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

// testSnapshot returns a snapshot with n commits.
func testSnapshot(n int) *model.Snapshot {
	s := &model.Snapshot{Repo: model.RepoMetadata{Owner: "acme", Name: "widgets", FullName: "acme/widgets"}}
	for i := range n {
		s.Commits = append(s.Commits, model.Commit{SHA: fmt.Sprintf("c%02d", i), Message: "change"})
	}
	return s
}

// testRepo returns a connected repository with the given schedule.
func testRepo(schedule model.Recurrence, lastJobAt *time.Time) *model.ScheduledRepo {
	return &model.ScheduledRepo{
		RepoWithSettings: model.RepoWithSettings{
			Repo: model.Repo{
				ID:            uuid.NewString(),
				OwnerUserID:   uuid.NewString(),
				Owner:         "acme",
				Name:          "widgets",
				FullName:      "acme/widgets",
				DefaultBranch: "main",
			},
			Settings: model.RepoSettings{
				Depth:       model.DepthFast,
				Tone:        model.ToneConcise,
				Schedule:    schedule,
				NotifyEmail: true,
			},
			OwnerEmail: "owner@example.test",
		},
		LastJobAt: lastJobAt,
	}
}

var errBoom = errors.New("boom")
