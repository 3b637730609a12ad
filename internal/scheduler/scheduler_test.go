package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rightside-club/service-discount/internal/adapter"
	"github.com/rightside-club/service-discount/internal/domain/job"
	"github.com/rightside-club/service-discount/internal/pkg/domain"
	"github.com/rightside-club/service-discount/internal/pkg/kafka"
)

// memJobRepo is an in-memory job.Repository with the same optimistic
// version check as the real one.
type memJobRepo struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*job.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{nextID: 1, jobs: make(map[int64]*job.Job)}
}

func cloneJob(j *job.Job) *job.Job {
	var prev *int
	if p := j.PreviousValue(); p != nil {
		v := *p
		prev = &v
	}
	return job.Reconstruct(j.ID(), j.ClientUUID(), j.ClientPhone(), j.ClientNickname(),
		j.DiscountValue(), prev, j.StartsAt(), j.EndsAt(), j.Status(),
		j.CreatedBy(), j.LastError(), j.Version(), j.CreatedAt(), j.UpdatedAt())
}

func (r *memJobRepo) Save(ctx context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := job.Reconstruct(r.nextID, j.ClientUUID(), j.ClientPhone(), j.ClientNickname(),
		j.DiscountValue(), j.PreviousValue(), j.StartsAt(), j.EndsAt(), j.Status(),
		j.CreatedBy(), j.LastError(), j.Version(), j.CreatedAt(), j.UpdatedAt())
	r.jobs[r.nextID] = stored
	r.nextID++
	*j = *cloneJob(stored)
	return nil
}

func (r *memJobRepo) Update(ctx context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[j.ID()]
	if !ok || stored.Version() != j.Version()-1 {
		return domain.NewConflictError(fmt.Sprintf("job %d was modified by another writer", j.ID()))
	}
	r.jobs[j.ID()] = cloneJob(j)
	return nil
}

func (r *memJobRepo) FindByID(ctx context.Context, id int64) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[id]
	if !ok {
		return nil, domain.NewNotFoundError("job", fmt.Sprintf("%d", id))
	}
	return cloneJob(stored), nil
}

func (r *memJobRepo) DueScheduled(ctx context.Context, now time.Time) ([]*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*job.Job
	for _, j := range r.jobs {
		if j.DueForActivation(now) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (r *memJobRepo) DueActive(ctx context.Context, now time.Time) ([]*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*job.Job
	for _, j := range r.jobs {
		if j.DueForFinish(now) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (r *memJobRepo) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*job.Job
	for _, j := range r.jobs {
		if f.CreatedBy != "" && j.CreatedBy() != f.CreatedBy {
			continue
		}
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (r *memJobRepo) OpenByClient(ctx context.Context, clientUUID string) ([]*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*job.Job
	for _, j := range r.jobs {
		if j.ClientUUID() == clientUUID && !j.Status().IsTerminal() {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (r *memJobRepo) CountByStatus(ctx context.Context) (map[job.Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[job.Status]int64)
	for _, j := range r.jobs {
		counts[j.Status()]++
	}
	return counts, nil
}

func (r *memJobRepo) status(t *testing.T, id int64) job.Status {
	t.Helper()
	j, err := r.FindByID(context.Background(), id)
	require.NoError(t, err)
	return j.Status()
}

// fakeBilling records discount writes and can fail on demand.
type fakeBilling struct {
	mu        sync.Mutex
	discounts map[string]int
	setCalls  []string
	failSet   map[string]error
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		discounts: make(map[string]int),
		failSet:   make(map[string]error),
	}
}

func (f *fakeBilling) client(uuid string) *adapter.Client {
	return &adapter.Client{UUID: uuid, Nickname: "n-" + uuid, UserDiscount: f.discounts[uuid]}
}

func (f *fakeBilling) FindClient(ctx context.Context, query string) (*adapter.Client, error) {
	return f.FindClientByUUID(ctx, query)
}

func (f *fakeBilling) FindClientByUUID(ctx context.Context, uuid string) (*adapter.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.discounts[uuid]; !ok {
		return nil, nil
	}
	return f.client(uuid), nil
}

func (f *fakeBilling) FindClientByPhone(ctx context.Context, phone string) (*adapter.Client, error) {
	return f.FindClientByUUID(ctx, phone)
}

func (f *fakeBilling) SetDiscount(ctx context.Context, clientUUID string, value int) (*adapter.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, fmt.Sprintf("%s=%d", clientUUID, value))
	if err := f.failSet[clientUUID]; err != nil {
		return nil, err
	}
	f.discounts[clientUUID] = value
	return f.client(clientUUID), nil
}

func (f *fakeBilling) Status() adapter.Status { return adapter.Status{OK: true} }

func (f *fakeBilling) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.setCalls...)
}

func (f *fakeBilling) discount(uuid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discounts[uuid]
}

// capturePublisher records published events in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []kafka.CloudEvent
}

func (p *capturePublisher) PublishEvent(ctx context.Context, topic string, event kafka.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func newTestScheduler(repo *memJobRepo, billing *fakeBilling, pub Publisher) *DiscountScheduler {
	return New(repo, billing, pub, nil, zap.NewNop(), time.Minute)
}

func mustJob(t *testing.T, uuid string, value int, startsAt, endsAt time.Time) *job.Job {
	t.Helper()
	j, err := job.New(uuid, "", "", value, startsAt, endsAt, "100500")
	require.NoError(t, err)
	return j
}

func TestCreateJob_ImmediateActivation(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["c1"] = 5
	pub := &capturePublisher{}
	s := newTestScheduler(repo, billing, pub)

	now := time.Now().UTC()
	j := mustJob(t, "c1", 15, now, now.Add(time.Hour))
	require.NoError(t, s.CreateJob(context.Background(), j))

	stored, err := repo.FindByID(context.Background(), j.ID())
	require.NoError(t, err)
	assert.Equal(t, job.StatusActive, stored.Status())
	require.NotNil(t, stored.PreviousValue())
	assert.Equal(t, 5, *stored.PreviousValue(), "baseline discount captured before overwrite")
	assert.Equal(t, 15, billing.discount("c1"))
	assert.Equal(t, []string{"discount.job.created", "discount.job.applied"}, pub.types())
}

func TestCreateJob_FutureJobStaysScheduled(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["c1"] = 0
	s := newTestScheduler(repo, billing, &capturePublisher{})

	now := time.Now().UTC()
	j := mustJob(t, "c1", 15, now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, s.CreateJob(context.Background(), j))

	assert.Equal(t, job.StatusScheduled, repo.status(t, j.ID()))
	assert.Empty(t, billing.calls(), "no remote write before the start time")
}

func TestTick_FullLifecycle(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["c1"] = 5
	pub := &capturePublisher{}
	s := newTestScheduler(repo, billing, pub)

	start := time.Now().UTC()
	j := mustJob(t, "c1", 15, start, start.Add(time.Hour))
	require.NoError(t, s.CreateJob(context.Background(), j))
	require.Equal(t, job.StatusActive, repo.status(t, j.ID()))

	// Move the clock past ends_at; the next tick reverts to the baseline.
	s.now = func() time.Time { return start.Add(2 * time.Hour) }
	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, job.StatusFinished, repo.status(t, j.ID()))
	assert.Equal(t, 5, billing.discount("c1"), "previous discount restored")
	assert.Equal(t,
		[]string{"discount.job.created", "discount.job.applied", "discount.job.finished"},
		pub.types())
}

func TestTick_FinishedJobIsNotTouchedAgain(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["c1"] = 5
	s := newTestScheduler(repo, billing, &capturePublisher{})

	start := time.Now().UTC()
	j := mustJob(t, "c1", 15, start, start.Add(time.Hour))
	require.NoError(t, s.CreateJob(context.Background(), j))

	s.now = func() time.Time { return start.Add(2 * time.Hour) }
	require.NoError(t, s.Tick(context.Background()))
	callsAfterFinish := len(billing.calls())

	require.NoError(t, s.Tick(context.Background()))
	assert.Len(t, billing.calls(), callsAfterFinish, "terminal jobs make no remote calls")
}

func TestTick_ActivationFailureDoesNotAbortOthers(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["bad"] = 0
	billing.discounts["good"] = 0
	billing.failSet["bad"] = fmt.Errorf("billing rejected the write")
	s := newTestScheduler(repo, billing, &capturePublisher{})

	now := time.Now().UTC()
	bad := mustJob(t, "bad", 10, now, now.Add(time.Hour))
	good := mustJob(t, "good", 20, now, now.Add(time.Hour))
	require.NoError(t, repo.Save(context.Background(), bad))
	require.NoError(t, repo.Save(context.Background(), good))

	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, job.StatusFailed, repo.status(t, bad.ID()))
	assert.Equal(t, job.StatusActive, repo.status(t, good.ID()))
	assert.Equal(t, 20, billing.discount("good"))

	failed, err := repo.FindByID(context.Background(), bad.ID())
	require.NoError(t, err)
	assert.Contains(t, failed.LastError(), "billing rejected the write")
}

func TestTick_UnknownClientFailsJob(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	s := newTestScheduler(repo, billing, &capturePublisher{})

	now := time.Now().UTC()
	j := mustJob(t, "ghost", 10, now, now.Add(time.Hour))
	require.NoError(t, repo.Save(context.Background(), j))

	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, job.StatusFailed, repo.status(t, j.ID()))
	failed, err := repo.FindByID(context.Background(), j.ID())
	require.NoError(t, err)
	assert.Contains(t, failed.LastError(), "client not found")
}

func TestTick_SkipsWhilePreviousTickRuns(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["c1"] = 0
	s := newTestScheduler(repo, billing, &capturePublisher{})

	now := time.Now().UTC()
	j := mustJob(t, "c1", 15, now, now.Add(time.Hour))
	require.NoError(t, repo.Save(context.Background(), j))

	// Simulate a tick in flight.
	s.tickMu.Lock()
	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, billing.calls(), "overlapping tick must be a no-op")
	s.tickMu.Unlock()

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, job.StatusActive, repo.status(t, j.ID()))
}

func TestCancelJob_ActiveRevertsRemote(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["c1"] = 5
	pub := &capturePublisher{}
	s := newTestScheduler(repo, billing, pub)

	now := time.Now().UTC()
	j := mustJob(t, "c1", 15, now, now.Add(time.Hour))
	require.NoError(t, s.CreateJob(context.Background(), j))
	require.Equal(t, 15, billing.discount("c1"))

	canceled, err := s.CancelJob(context.Background(), j.ID())
	require.NoError(t, err)
	assert.Equal(t, job.StatusCanceled, canceled.Status())
	assert.Equal(t, 5, billing.discount("c1"), "discount restored on cancel")
	assert.Contains(t, pub.types(), "discount.job.canceled")
}

func TestCancelJob_ScheduledMakesNoRemoteCall(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["c1"] = 5
	s := newTestScheduler(repo, billing, &capturePublisher{})

	now := time.Now().UTC()
	j := mustJob(t, "c1", 15, now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, s.CreateJob(context.Background(), j))

	canceled, err := s.CancelJob(context.Background(), j.ID())
	require.NoError(t, err)
	assert.Equal(t, job.StatusCanceled, canceled.Status())
	assert.Empty(t, billing.calls())
}

func TestCancelJob_TerminalIsIdempotent(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["c1"] = 5
	s := newTestScheduler(repo, billing, &capturePublisher{})

	now := time.Now().UTC()
	j := mustJob(t, "c1", 15, now, now.Add(time.Hour))
	require.NoError(t, s.CreateJob(context.Background(), j))

	first, err := s.CancelJob(context.Background(), j.ID())
	require.NoError(t, err)
	callsAfterCancel := len(billing.calls())

	second, err := s.CancelJob(context.Background(), j.ID())
	require.NoError(t, err)
	assert.Equal(t, first.Status(), second.Status())
	assert.Len(t, billing.calls(), callsAfterCancel, "second cancel makes no remote call")
}

func TestCancelJob_RevertFailureLeavesJobActive(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["c1"] = 5
	s := newTestScheduler(repo, billing, &capturePublisher{})

	now := time.Now().UTC()
	j := mustJob(t, "c1", 15, now, now.Add(time.Hour))
	require.NoError(t, s.CreateJob(context.Background(), j))

	billing.mu.Lock()
	billing.failSet["c1"] = fmt.Errorf("billing down")
	billing.mu.Unlock()

	_, err := s.CancelJob(context.Background(), j.ID())
	require.Error(t, err)
	assert.Equal(t, job.StatusActive, repo.status(t, j.ID()),
		"job keeps its state so a retry still reverts the discount")
}

func TestCancelOpenJobsForClient(t *testing.T) {
	repo := newMemJobRepo()
	billing := newFakeBilling()
	billing.discounts["c1"] = 5
	s := newTestScheduler(repo, billing, &capturePublisher{})

	now := time.Now().UTC()
	active := mustJob(t, "c1", 15, now, now.Add(time.Hour))
	require.NoError(t, s.CreateJob(context.Background(), active))
	scheduled := mustJob(t, "c1", 20, now.Add(2*time.Hour), now.Add(3*time.Hour))
	require.NoError(t, s.CreateJob(context.Background(), scheduled))

	callsBefore := len(billing.calls())
	n, err := s.CancelOpenJobsForClient(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, job.StatusCanceled, repo.status(t, active.ID()))
	assert.Equal(t, job.StatusCanceled, repo.status(t, scheduled.ID()))
	assert.Len(t, billing.calls(), callsBefore,
		"caller already reset the discount, no extra remote writes")
}
