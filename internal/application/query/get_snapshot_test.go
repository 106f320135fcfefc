package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

const querySubject = "4f2c1d8a-6b3e-47a5-9c01-2d7e85b4f6a3"

// fakeLedger serves a single canned record and counts reads.
type fakeLedger struct {
	record  *progression.SubjectRecord
	err     error
	fetches int
}

func (f *fakeLedger) Fetch(_ context.Context, subjectID shared.SubjectID) (*progression.SubjectRecord, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

func (f *fakeLedger) HasPositiveCompletion(context.Context, shared.SubjectID, shared.TaskID) (bool, error) {
	return false, nil
}

func (f *fakeLedger) EventsForTask(context.Context, shared.SubjectID, shared.TaskID) ([]progression.ExperienceEvent, error) {
	return nil, nil
}

func (f *fakeLedger) CountCompletionsBetween(context.Context, shared.SubjectID, time.Time, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeLedger) Commit(context.Context, shared.SubjectID, []progression.ExperienceEvent, *progression.State, int) error {
	return nil
}

func (f *fakeLedger) AllEvents(context.Context, shared.SubjectID) ([]progression.ExperienceEvent, error) {
	return nil, nil
}

func (f *fakeLedger) Subjects(context.Context) ([]shared.SubjectID, error) {
	return nil, nil
}

// fakeCache is a map without locking, fine for single-goroutine tests.
type fakeCache struct {
	snaps map[shared.SubjectID]*progression.Snapshot
}

func newFakeCache() *fakeCache {
	return &fakeCache{snaps: make(map[shared.SubjectID]*progression.Snapshot)}
}

func (c *fakeCache) Get(subjectID shared.SubjectID) (*progression.Snapshot, bool) {
	snap, ok := c.snaps[subjectID]
	return snap, ok
}

func (c *fakeCache) Put(subjectID shared.SubjectID, snap *progression.Snapshot) {
	c.snaps[subjectID] = snap
}

// fakeLocker records lock acquisitions and can mutate the cache while
// the caller waits, standing in for a reward commit that finishes
// just before the refresh gets the lock.
type fakeLocker struct {
	acquired int
	onLock   func()
}

func (l *fakeLocker) LockSubject(shared.SubjectID) func() {
	l.acquired++
	if l.onLock != nil {
		l.onLock()
	}
	return func() {}
}

func recordWith(subjectID shared.SubjectID, totalXP int) *progression.SubjectRecord {
	state := progression.NewState(subjectID)
	state = state.ApplyDelta(totalXP, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	return &progression.SubjectRecord{
		State: state,
		RecentEvents: []progression.ExperienceEvent{{
			ID:        "evt-1",
			SubjectID: subjectID,
			Amount:    totalXP,
			Reason:    progression.ReasonTaskComplete,
			TaskID:    "task-1",
			ItemType:  progression.ItemTypeTask,
			CreatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		}},
		UnlockedIDs: []string{"first_task"},
	}
}

func TestHandle_RejectsEmptySubject(t *testing.T) {
	h := NewGetSnapshotHandler(newFakeCache(), &fakeLedger{}, nil)

	_, err := h.Handle(context.Background(), GetSnapshotQuery{SubjectID: ""})

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidSubjectID)
}

func TestHandle_ColdCacheSeedsFromLedger(t *testing.T) {
	subjectID := shared.SubjectID(querySubject)
	ledger := &fakeLedger{record: recordWith(subjectID, 65)}
	cache := newFakeCache()
	h := NewGetSnapshotHandler(cache, ledger, nil)

	dto, err := h.Handle(context.Background(), GetSnapshotQuery{SubjectID: querySubject})

	require.NoError(t, err)
	assert.Equal(t, 65, dto.TotalXP)
	assert.Equal(t, 2, dto.Level)
	assert.False(t, dto.Loading)
	require.Len(t, dto.RecentEvents, 1)
	assert.Equal(t, "evt-1", dto.RecentEvents[0].ID)
	require.Len(t, dto.Achievements, 1)
	assert.Equal(t, "first_task", dto.Achievements[0].ID)

	// Second read is served from cache.
	_, err = h.Handle(context.Background(), GetSnapshotQuery{SubjectID: querySubject})
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.fetches)
}

func TestHandle_ForceRefreshBypassesCache(t *testing.T) {
	subjectID := shared.SubjectID(querySubject)
	ledger := &fakeLedger{record: recordWith(subjectID, 50)}
	cache := newFakeCache()
	h := NewGetSnapshotHandler(cache, ledger, nil)

	_, err := h.Handle(context.Background(), GetSnapshotQuery{SubjectID: querySubject})
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), GetSnapshotQuery{SubjectID: querySubject, ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.fetches)
}

func TestHandle_RefreshHoldsSubjectLock(t *testing.T) {
	subjectID := shared.SubjectID(querySubject)
	ledger := &fakeLedger{record: recordWith(subjectID, 50)}
	locker := &fakeLocker{}
	h := NewGetSnapshotHandler(newFakeCache(), ledger, locker)

	_, err := h.Handle(context.Background(), GetSnapshotQuery{SubjectID: querySubject, ForceRefresh: true})

	require.NoError(t, err)
	assert.Equal(t, 1, locker.acquired, "refresh must serialize with rewards in flight")
}

func TestHandle_ColdReadPrefersSnapshotCommittedWhileWaiting(t *testing.T) {
	subjectID := shared.SubjectID(querySubject)
	ledger := &fakeLedger{record: recordWith(subjectID, 50)}
	cache := newFakeCache()

	// A reward commits while the cold read waits for the lock: the
	// freshly cached snapshot wins and the store is not touched.
	locker := &fakeLocker{}
	locker.onLock = func() {
		state := progression.NewState(subjectID)
		state = state.ApplyDelta(65, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
		snap := progression.NewSnapshot(state)
		snap.Loaded = true
		cache.Put(subjectID, snap)
	}
	h := NewGetSnapshotHandler(cache, ledger, locker)

	dto, err := h.Handle(context.Background(), GetSnapshotQuery{SubjectID: querySubject})

	require.NoError(t, err)
	assert.Equal(t, 65, dto.TotalXP)
	assert.Equal(t, 0, ledger.fetches)
}

func TestHandle_LedgerDownReturnsLoadingPlaceholder(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("connection refused")}
	h := NewGetSnapshotHandler(newFakeCache(), ledger, nil)

	dto, err := h.Handle(context.Background(), GetSnapshotQuery{SubjectID: querySubject})

	require.NoError(t, err, "storage failures degrade to a placeholder, not an error")
	assert.True(t, dto.Loading)
	assert.Equal(t, 0, dto.TotalXP)
	assert.Equal(t, 1, dto.Level)
}

func TestHandle_PlaceholderIsNotCached(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("connection refused")}
	cache := newFakeCache()
	h := NewGetSnapshotHandler(cache, ledger, nil)

	_, err := h.Handle(context.Background(), GetSnapshotQuery{SubjectID: querySubject})
	require.NoError(t, err)

	// Ledger recovers; the next read must hit it again instead of
	// serving the placeholder forever.
	ledger.err = nil
	ledger.record = recordWith(querySubject, 50)

	dto, err := h.Handle(context.Background(), GetSnapshotQuery{SubjectID: querySubject})
	require.NoError(t, err)
	assert.False(t, dto.Loading)
	assert.Equal(t, 50, dto.TotalXP)
}
