package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/domain"
	"github.com/ErlanBelekov/daybrief/internal/queue"
	"github.com/ErlanBelekov/daybrief/internal/repository"
	"github.com/ErlanBelekov/daybrief/internal/scheduler"
)

// ---- fakes ----

// memStore is an in-memory UserRepository with the same version-checked
// write semantics as the Postgres one. Reads and writes hand out deep
// copies; the hooks run outside the lock so tests can interleave competing
// writers deterministically.
type memStore struct {
	mu    sync.Mutex
	users map[string]*domain.User

	onGet        func(id string)
	beforeUpdate func(u *domain.User)
}

func newMemStore(users ...*domain.User) *memStore {
	s := &memStore{users: make(map[string]*domain.User)}
	for _, u := range users {
		s.users[u.ID] = cloneUser(u)
	}
	return s
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.Digests = make([]domain.DigestSchedule, len(u.Digests))
	copy(c.Digests, u.Digests)
	for i := range c.Digests {
		c.Digests[i].Days = append([]string(nil), u.Digests[i].Days...)
		c.Digests[i].Topics = append([]string(nil), u.Digests[i].Topics...)
		if lr := u.Digests[i].LastRun; lr != nil {
			t := *lr
			c.Digests[i].LastRun = &t
		}
	}
	return &c
}

func (s *memStore) Upsert(_ context.Context, id, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		s.users[id] = &domain.User{ID: id, Email: email, Timezone: "UTC", Version: 1}
	}
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	if s.onGet != nil {
		s.onGet(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *memStore) Update(_ context.Context, u *domain.User) error {
	if s.beforeUpdate != nil {
		s.beforeUpdate(u)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[u.ID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if stored.Version != u.Version {
		return domain.ErrVersionConflict
	}
	next := cloneUser(u)
	next.Version++
	s.users[u.ID] = next
	u.Version = next.Version
	return nil
}

func (s *memStore) ListDigestCandidates(_ context.Context) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.users))
	for id, u := range s.users {
		if len(u.Digests) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneUser(s.users[id]))
	}
	return out, nil
}

// mutate edits the stored record directly, simulating another process's
// committed write.
func (s *memStore) mutate(id string, fn func(u *domain.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.users[id])
	s.users[id].Version++
}

func (s *memStore) stored(t *testing.T, id string) *domain.User {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		t.Fatalf("user %s not in store", id)
	}
	return cloneUser(u)
}

// fakeLease mirrors the SQL lease semantics: free, expired, or same-holder
// rows are acquirable; contention reports (false, nil).
type fakeLease struct {
	mu  sync.Mutex
	now func() time.Time

	holder  string
	expires time.Time

	acquires   int
	contends   int
	heartbeats int
	acquireErr error
}

func newFakeLease(now func() time.Time) *fakeLease {
	return &fakeLease{now: now}
}

func (l *fakeLease) Acquire(_ context.Context, _, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	now := l.now()
	if l.holder != "" && l.holder != holder && now.Before(l.expires) {
		l.contends++
		return false, nil
	}
	l.holder = holder
	l.expires = now.Add(ttl)
	l.acquires++
	return true, nil
}

func (l *fakeLease) Heartbeat(_ context.Context, _, holder string, extend time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.holder != holder || !now.Before(l.expires) {
		return false, nil
	}
	l.expires = now.Add(extend)
	l.heartbeats++
	return true, nil
}

func (l *fakeLease) Release(_ context.Context, _, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == holder {
		l.holder = ""
	}
	return nil
}

func (l *fakeLease) CleanupExpired(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" && !l.now().Before(l.expires) {
		l.holder = ""
		return 1, nil
	}
	return 0, nil
}

func (l *fakeLease) currentHolder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// fakeExecutor records every claimed occurrence handed to it.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, user *domain.User, sched domain.DigestSchedule) (*domain.Digest, error)
}

func (e *fakeExecutor) Execute(ctx context.Context, user *domain.User, sched domain.DigestSchedule) (*domain.Digest, error) {
	e.mu.Lock()
	e.calls = append(e.calls, user.ID+"/"+sched.ID)
	e.mu.Unlock()
	if e.fn != nil {
		return e.fn(ctx, user, sched)
	}
	return &domain.Digest{UserID: user.ID, ScheduleID: sched.ID}, nil
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStartedQueue(t *testing.T, logger *slog.Logger) *queue.Queue {
	t.Helper()
	q := queue.New(1, 0, logger)
	qctx, cancel := context.WithCancel(context.Background())
	go q.Start(qctx)
	t.Cleanup(cancel)
	return q
}

func newTestSaver(store *memStore, logger *slog.Logger) *repository.Saver {
	return repository.NewSaver(store, repository.DefaultSaveAttempts, logger)
}

func newTestRunner(t *testing.T, store *memStore, lease *fakeLease, exec *fakeExecutor, now func() time.Time) *scheduler.Runner {
	t.Helper()
	logger := discardLogger()
	return scheduler.NewRunner(store, lease, newTestSaver(store, logger), exec, newStartedQueue(t, logger), logger, scheduler.Options{
		Interval:  10 * time.Minute,
		Tolerance: 5 * time.Minute,
		LeaseTTL:  5 * time.Minute,
		Now:       now,
	})
}

func digestUser(id, tz string, digests ...domain.DigestSchedule) *domain.User {
	return &domain.User{
		ID:       id,
		Email:    id + "@example.com",
		Timezone: tz,
		Digests:  digests,
		Version:  1,
	}
}

// ---- tests ----

func TestTick_FiresDueDigestAndClaimsIt(t *testing.T) {
	// 06:02 UTC on Monday 2025-03-10 is 07:02 in Berlin (CET).
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemStore(digestUser("u1", "Europe/Berlin", sched("07:00", "Monday")))
	lease := newFakeLease(clock)
	exec := &fakeExecutor{}
	r := newTestRunner(t, store, lease, exec, clock)

	r.Tick(context.Background())

	if got := exec.callCount(); got != 1 {
		t.Fatalf("executions = %d, want 1", got)
	}
	lr := store.stored(t, "u1").Digest("d1").LastRun
	if lr == nil || !lr.Equal(now) {
		t.Errorf("LastRun = %v, want claim at %v", lr, now)
	}
}

func TestTick_SameDaySecondPass_DoesNotRefire(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemStore(digestUser("u1", "Europe/Berlin", sched("07:00", "Monday")))
	lease := newFakeLease(clock)
	exec := &fakeExecutor{}
	r := newTestRunner(t, store, lease, exec, clock)

	r.Tick(context.Background())
	// Next pass still lands inside the tolerance window.
	now = now.Add(3 * time.Minute)
	r.Tick(context.Background())

	if got := exec.callCount(); got != 1 {
		t.Errorf("executions = %d, want 1 (same local day must not refire)", got)
	}
}

func TestTick_NextDay_FiresAgain(t *testing.T) {
	// The schedule covers Monday and Tuesday; after Monday's run the
	// Tuesday occurrence must go through.
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemStore(digestUser("u1", "Europe/Berlin", sched("07:00", "Monday", "Tuesday")))
	lease := newFakeLease(clock)
	exec := &fakeExecutor{}
	r := newTestRunner(t, store, lease, exec, clock)

	r.Tick(context.Background())
	now = now.Add(24 * time.Hour)
	r.Tick(context.Background())

	if got := exec.callCount(); got != 2 {
		t.Errorf("executions = %d, want 2 (new local day)", got)
	}
}

func TestTick_LeaseContended_SkipsPass(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemStore(digestUser("u1", "Europe/Berlin", sched("07:00", "Monday")))
	lease := newFakeLease(clock)
	lease.holder = "other-host-999"
	lease.expires = now.Add(5 * time.Minute)
	exec := &fakeExecutor{}
	r := newTestRunner(t, store, lease, exec, clock)

	r.Tick(context.Background())

	if got := exec.callCount(); got != 0 {
		t.Errorf("executions = %d, want 0 (lease held elsewhere)", got)
	}
	if lease.contends != 1 {
		t.Errorf("contends = %d, want 1", lease.contends)
	}
	if store.stored(t, "u1").Digest("d1").LastRun != nil {
		t.Error("claim written despite contended lease")
	}
}

func TestTick_ExpiredLease_TakenOver(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemStore(digestUser("u1", "Europe/Berlin", sched("07:00", "Monday")))
	lease := newFakeLease(clock)
	lease.holder = "crashed-host-1"
	lease.expires = now.Add(-time.Minute)
	exec := &fakeExecutor{}
	r := newTestRunner(t, store, lease, exec, clock)

	r.Tick(context.Background())

	if got := exec.callCount(); got != 1 {
		t.Errorf("executions = %d, want 1 (expired lease is free)", got)
	}
	if lease.currentHolder() == "crashed-host-1" {
		t.Error("lease still owned by the crashed holder")
	}
}

// Two engines that both believe they hold a lease (split brain) still
// produce exactly one execution: the version-checked claim write is the
// arbiter. Both claims read the same record version before either writes.
func TestTick_SplitBrain_ClaimRaceFiresOnce(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemStore(digestUser("u1", "Europe/Berlin", sched("07:00", "Monday")))
	exec := &fakeExecutor{}

	var reads atomic.Int32
	bothRead := make(chan struct{})
	store.onGet = func(string) {
		if reads.Add(1) == 2 {
			close(bothRead)
		}
	}
	store.beforeUpdate = func(*domain.User) { <-bothRead }

	r1 := newTestRunner(t, store, newFakeLease(clock), exec, clock)
	r2 := newTestRunner(t, store, newFakeLease(clock), exec, clock)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r1.Tick(context.Background()) }()
	go func() { defer wg.Done(); r2.Tick(context.Background()) }()
	wg.Wait()

	if got := exec.callCount(); got != 1 {
		t.Fatalf("executions = %d, want exactly 1", got)
	}
	if store.stored(t, "u1").Digest("d1").LastRun == nil {
		t.Error("no claim recorded")
	}
}

// A claim written between the batch read and the claim's own reload is
// honored: the reloaded record, not the stale batch copy, decides.
func TestTick_ClaimedAfterBatchRead_Abandons(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemStore(digestUser("u1", "Europe/Berlin", sched("07:00", "Monday")))
	exec := &fakeExecutor{}

	var intercepted atomic.Bool
	store.onGet = func(id string) {
		if intercepted.CompareAndSwap(false, true) {
			store.mutate(id, func(u *domain.User) {
				at := now
				u.Digest("d1").LastRun = &at
			})
		}
	}

	r := newTestRunner(t, store, newFakeLease(clock), exec, clock)
	r.Tick(context.Background())

	if got := exec.callCount(); got != 0 {
		t.Errorf("executions = %d, want 0 (claimed elsewhere)", got)
	}
}

// When every claim write loses to an interloper, the engine gives up after
// the save attempts run out and leaves the occurrence for a later tick.
func TestTick_ClaimConflictsExhausted_LeavesRecordAlone(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemStore(digestUser("u1", "Europe/Berlin", sched("07:00", "Monday")))
	exec := &fakeExecutor{}

	var attempts atomic.Int32
	store.beforeUpdate = func(u *domain.User) {
		attempts.Add(1)
		store.mutate(u.ID, func(*domain.User) {}) // interloper bumps the version
	}

	r := newTestRunner(t, store, newFakeLease(clock), exec, clock)
	r.Tick(context.Background())

	if got := attempts.Load(); got != int32(repository.DefaultSaveAttempts) {
		t.Errorf("claim attempts = %d, want %d", got, repository.DefaultSaveAttempts)
	}
	if exec.callCount() != 0 {
		t.Error("executed despite losing every claim attempt")
	}
	if store.stored(t, "u1").Digest("d1").LastRun != nil {
		t.Error("claim recorded despite exhaustion")
	}
}

// An execution failure after a durable claim loses the occurrence for the
// day. No same-day retry: a missed digest beats a duplicate email.
func TestTick_ExecutionFails_ClaimStands(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemStore(digestUser("u1", "Europe/Berlin", sched("07:00", "Monday")))
	exec := &fakeExecutor{
		fn: func(context.Context, *domain.User, domain.DigestSchedule) (*domain.Digest, error) {
			return nil, context.DeadlineExceeded
		},
	}

	r := newTestRunner(t, store, newFakeLease(clock), exec, clock)
	r.Tick(context.Background())

	if store.stored(t, "u1").Digest("d1").LastRun == nil {
		t.Fatal("claim not recorded before execution")
	}

	now = now.Add(3 * time.Minute)
	r.Tick(context.Background())

	if got := exec.callCount(); got != 1 {
		t.Errorf("executions = %d, want 1 (no same-day retry after failure)", got)
	}
}

func TestTick_DisabledDigest_NeverConsidered(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	d := sched("07:00", "Monday")
	d.Enabled = false
	store := newMemStore(digestUser("u1", "Europe/Berlin", d))
	exec := &fakeExecutor{}

	r := newTestRunner(t, store, newFakeLease(clock), exec, clock)
	r.Tick(context.Background())

	if exec.callCount() != 0 {
		t.Error("disabled digest executed")
	}
	if store.stored(t, "u1").Digest("d1").LastRun != nil {
		t.Error("disabled digest claimed")
	}
}

// A digest disabled between the batch read and the claim must not fire:
// the claim precondition sees the fresh record.
func TestTick_DisabledAfterBatchRead_Abandons(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemStore(digestUser("u1", "Europe/Berlin", sched("07:00", "Monday")))
	exec := &fakeExecutor{}

	var intercepted atomic.Bool
	store.onGet = func(id string) {
		if intercepted.CompareAndSwap(false, true) {
			store.mutate(id, func(u *domain.User) {
				u.Digest("d1").Enabled = false
			})
		}
	}

	r := newTestRunner(t, store, newFakeLease(clock), exec, clock)
	r.Tick(context.Background())

	if exec.callCount() != 0 {
		t.Error("executed a digest disabled before the claim")
	}
}

func TestTick_BadTimezone_SkipsUserContinuesPass(t *testing.T) {
	now := time.Date(2025, 3, 10, 7, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	broken := digestUser("a-broken", "Not/AZone", sched("07:00", "Monday"))
	fine := digestUser("b-fine", "UTC", sched("07:00", "Monday"))
	store := newMemStore(broken, fine)
	exec := &fakeExecutor{}

	r := newTestRunner(t, store, newFakeLease(clock), exec, clock)
	r.Tick(context.Background())

	if got := exec.callCount(); got != 1 {
		t.Fatalf("executions = %d, want 1", got)
	}
	exec.mu.Lock()
	call := exec.calls[0]
	exec.mu.Unlock()
	if call != "b-fine/d1" {
		t.Errorf("executed %s, want b-fine/d1", call)
	}
}

// Two due schedules on one record are claimed sequentially, so the second
// claim sees the first one's write instead of conflicting with it.
func TestTick_TwoDueDigestsSameUser_BothFire(t *testing.T) {
	now := time.Date(2025, 3, 10, 7, 2, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	d1 := sched("07:00", "Monday")
	d2 := sched("07:05", "Monday")
	d2.ID = "d2"
	d2.Name = "Second Brief"
	store := newMemStore(digestUser("u1", "UTC", d1, d2))
	exec := &fakeExecutor{}

	r := newTestRunner(t, store, newFakeLease(clock), exec, clock)
	r.Tick(context.Background())

	if got := exec.callCount(); got != 2 {
		t.Fatalf("executions = %d, want 2", got)
	}
	u := store.stored(t, "u1")
	if u.Digest("d1").LastRun == nil || u.Digest("d2").LastRun == nil {
		t.Error("both digests should carry claims")
	}
	if u.Version != 3 {
		t.Errorf("version = %d, want 3 (two clean claim writes)", u.Version)
	}
}
