package command

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studydeck/studydeck-progression/internal/domain/achievement"
	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
	"github.com/studydeck/studydeck-progression/pkg/timeutil"
)

const testSubject = "7ed99bd0-87b2-4dbb-a97b-596c3f29c49b"

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY FAKES
// ══════════════════════════════════════════════════════════════════════════════

type memLedger struct {
	states  map[shared.SubjectID]*progression.State
	events  map[shared.SubjectID][]progression.ExperienceEvent
	unlocks map[shared.SubjectID][]string

	failCommits  bool
	beforeCommit func()
	commits      int
}

func newMemLedger() *memLedger {
	return &memLedger{
		states:  make(map[shared.SubjectID]*progression.State),
		events:  make(map[shared.SubjectID][]progression.ExperienceEvent),
		unlocks: make(map[shared.SubjectID][]string),
	}
}

func (m *memLedger) Fetch(_ context.Context, subjectID shared.SubjectID) (*progression.SubjectRecord, error) {
	state, ok := m.states[subjectID]
	if !ok {
		state = progression.NewState(subjectID)
	}

	events := m.events[subjectID]
	recent := make([]progression.ExperienceEvent, 0, progression.RecentEventsWindow)
	for i := len(events) - 1; i >= 0 && len(recent) < progression.RecentEventsWindow; i-- {
		recent = append(recent, events[i])
	}

	return &progression.SubjectRecord{
		State:        state.Clone(),
		RecentEvents: recent,
		UnlockedIDs:  append([]string(nil), m.unlocks[subjectID]...),
	}, nil
}

func (m *memLedger) HasPositiveCompletion(_ context.Context, subjectID shared.SubjectID, taskID shared.TaskID) (bool, error) {
	return len(progression.FindPositiveCompletions(m.events[subjectID], taskID)) > 0, nil
}

func (m *memLedger) EventsForTask(_ context.Context, subjectID shared.SubjectID, taskID shared.TaskID) ([]progression.ExperienceEvent, error) {
	return progression.FindTaskEvents(m.events[subjectID], taskID), nil
}

func (m *memLedger) CountCompletionsBetween(_ context.Context, subjectID shared.SubjectID, from, to time.Time) (int, error) {
	count := 0
	for _, e := range m.events[subjectID] {
		if e.IsPositiveCompletion() && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func (m *memLedger) Commit(_ context.Context, subjectID shared.SubjectID, batch []progression.ExperienceEvent, newState *progression.State, expectedTotalXP int) error {
	if m.failCommits {
		return shared.ErrLedgerUnavailable
	}
	if m.beforeCommit != nil {
		m.beforeCommit()
	}

	current := 0
	if state, ok := m.states[subjectID]; ok {
		current = state.TotalXP
	}
	if current != expectedTotalXP {
		return shared.ErrLedgerConflict
	}

	m.events[subjectID] = append(m.events[subjectID], batch...)
	m.states[subjectID] = newState.Clone()
	m.commits++
	return nil
}

func (m *memLedger) AllEvents(_ context.Context, subjectID shared.SubjectID) ([]progression.ExperienceEvent, error) {
	return append([]progression.ExperienceEvent(nil), m.events[subjectID]...), nil
}

func (m *memLedger) Subjects(_ context.Context) ([]shared.SubjectID, error) {
	ids := make([]shared.SubjectID, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	return ids, nil
}

type memUnlocks struct {
	ledger *memLedger
	failed bool
}

func (m *memUnlocks) Insert(_ context.Context, rec *achievement.Unlocked) error {
	if m.failed {
		return shared.ErrLedgerUnavailable
	}
	for _, id := range m.ledger.unlocks[rec.SubjectID] {
		if id == rec.AchievementID.String() {
			return nil
		}
	}
	m.ledger.unlocks[rec.SubjectID] = append(m.ledger.unlocks[rec.SubjectID], rec.AchievementID.String())
	return nil
}

func (m *memUnlocks) ListBySubject(_ context.Context, subjectID shared.SubjectID) ([]*achievement.Unlocked, error) {
	var out []*achievement.Unlocked
	for _, id := range m.ledger.unlocks[subjectID] {
		out = append(out, &achievement.Unlocked{SubjectID: subjectID, AchievementID: achievement.ID(id)})
	}
	return out, nil
}

type memCache struct {
	snaps map[shared.SubjectID]*progression.Snapshot
}

func newMemCache() *memCache {
	return &memCache{snaps: make(map[shared.SubjectID]*progression.Snapshot)}
}

func (m *memCache) Get(subjectID shared.SubjectID) (*progression.Snapshot, bool) {
	snap, ok := m.snaps[subjectID]
	return snap, ok
}

func (m *memCache) Put(subjectID shared.SubjectID, snap *progression.Snapshot) {
	m.snaps[subjectID] = snap
}

type capturingBus struct {
	events []shared.Event
}

func (b *capturingBus) Publish(event shared.Event) error {
	b.events = append(b.events, event)
	return nil
}

func (b *capturingBus) typesSeen() []shared.EventType {
	types := make([]shared.EventType, 0, len(b.events))
	for _, e := range b.events {
		types = append(types, e.EventType())
	}
	return types
}

type fixture struct {
	ledger  *memLedger
	unlocks *memUnlocks
	cache   *memCache
	bus     *capturingBus
	award   *AwardTaskHandler
	revoke  *RevokeTaskHandler
}

func newFixture() *fixture {
	ledger := newMemLedger()
	unlocks := &memUnlocks{ledger: ledger}
	cache := newMemCache()
	bus := &capturingBus{}

	seq := 0
	orc := NewOrchestrator(ledger, unlocks, cache, bus, timeutil.UTC(), nil,
		DefaultRewardConfig(), func() string {
			seq++
			return fmt.Sprintf("evt-%04d", seq)
		})

	return &fixture{
		ledger:  ledger,
		unlocks: unlocks,
		cache:   cache,
		bus:     bus,
		award:   NewAwardTaskHandler(orc),
		revoke:  NewRevokeTaskHandler(orc),
	}
}

func awardAt(t *testing.T, f *fixture, taskID, itemType string, at time.Time) *AwardTaskResult {
	t.Helper()
	res, err := f.award.Handle(context.Background(), AwardTaskCommand{
		SubjectID: testSubject,
		TaskID:    taskID,
		ItemType:  itemType,
		Timestamp: at,
	})
	require.NoError(t, err)
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_FirstCompletion(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	res := awardAt(t, f, "task-001", "task", at)

	assert.True(t, res.Awarded)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 15, res.XPGranted)
	assert.Equal(t, map[string]int{"base": 15}, res.Breakdown)
	assert.Equal(t, 1, res.NewLevel)
	assert.False(t, res.LeveledUp)
	assert.Equal(t, 1, res.StreakCount)
	assert.False(t, res.StreakBonusGranted, "first-ever day has streak 1, no bonus")

	// Committed state matches the journal sum.
	assert.Equal(t, 15, f.ledger.states[testSubject].TotalXP)
	assert.Len(t, f.ledger.events[testSubject], 1)

	// Snapshot mirrors the committed state.
	snap, ok := f.cache.Get(testSubject)
	require.True(t, ok)
	assert.Equal(t, 15, snap.State.TotalXP)
	assert.Equal(t, 15, snap.Progress.Current)
	assert.Equal(t, 50, snap.Progress.Required)
}

func TestAward_BaseXPByItemType(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, 15, awardAt(t, f, "t1", "task", at).Breakdown["base"])
	assert.Equal(t, 25, awardAt(t, f, "e1", "event", at).Breakdown["base"])
	assert.Equal(t, 50, awardAt(t, f, "s1", "study", at).Breakdown["base"])
}

func TestAward_DuplicateIsNoOp(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	first := awardAt(t, f, "task-001", "task", at)
	require.True(t, first.Awarded)
	commitsAfterFirst := f.ledger.commits
	eventsAfterFirst := len(f.bus.events)

	second := awardAt(t, f, "task-001", "task", at.Add(time.Hour))

	assert.True(t, second.Duplicate)
	assert.False(t, second.Awarded)
	assert.Equal(t, 0, second.XPGranted)
	assert.Equal(t, commitsAfterFirst, f.ledger.commits, "duplicate must not commit")
	assert.Len(t, f.bus.events, eventsAfterFirst, "duplicate must not publish")
	assert.Equal(t, 15, f.ledger.states[testSubject].TotalXP)
}

func TestAward_StreakBonusOnConsecutiveDay(t *testing.T) {
	f := newFixture()
	day1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	awardAt(t, f, "task-001", "task", day1)
	res := awardAt(t, f, "task-002", "task", day2)

	assert.True(t, res.StreakBonusGranted)
	assert.Equal(t, 2, res.StreakCount)
	assert.Equal(t, 25, res.XPGranted)
	assert.Equal(t, map[string]int{"base": 15, "streak_bonus": 10}, res.Breakdown)
}

func TestAward_SameDaySecondTaskNoStreakBonus(t *testing.T) {
	f := newFixture()
	day1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	awardAt(t, f, "task-001", "task", day1)
	awardAt(t, f, "task-002", "task", day2)
	res := awardAt(t, f, "task-003", "task", day2.Add(2*time.Hour))

	assert.False(t, res.StreakBonusGranted, "streak bonus fires once per day")
	assert.Equal(t, 2, res.StreakCount)
	assert.Equal(t, 15, res.XPGranted)
}

func TestAward_StreakResetAfterGap(t *testing.T) {
	f := newFixture()
	day1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	day4 := day1.AddDate(0, 0, 3)

	awardAt(t, f, "task-001", "task", day1)
	res := awardAt(t, f, "task-002", "task", day4)

	assert.Equal(t, 1, res.StreakCount)
	assert.False(t, res.StreakBonusGranted)
	assert.Equal(t, 15, res.XPGranted)
}

func TestAward_DailyGoalExactlyOnFifth(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 4; i++ {
		res := awardAt(t, f, fmt.Sprintf("task-%03d", i), "task", at.Add(time.Duration(i)*time.Minute))
		assert.False(t, res.DailyGoalHit, "completion %d must not hit the goal", i)
	}

	fifth := awardAt(t, f, "task-005", "task", at.Add(5*time.Minute))
	assert.True(t, fifth.DailyGoalHit)
	assert.Equal(t, 25, fifth.Breakdown["daily_goal"])

	sixth := awardAt(t, f, "task-006", "task", at.Add(6*time.Minute))
	assert.False(t, sixth.DailyGoalHit, "the goal pays out once per day")
}

func TestAward_DailyGoalCountResetsNextDay(t *testing.T) {
	f := newFixture()
	day1 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		awardAt(t, f, fmt.Sprintf("d1-task-%d", i), "task", day1.Add(time.Duration(i)*time.Minute))
	}

	day2 := day1.AddDate(0, 0, 1)
	res := awardAt(t, f, "d2-task-1", "task", day2)
	assert.False(t, res.DailyGoalHit, "yesterday's completions must not count")
}

func TestAward_LevelUpCarriesFinalLevelOnly(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	first := awardAt(t, f, "s1", "study", at) // 50 XP crosses the level 2 boundary
	assert.True(t, first.LeveledUp)
	assert.Equal(t, 2, first.NewLevel)

	second := awardAt(t, f, "s2", "study", at.Add(time.Minute)) // 100 XP, still level 2
	assert.False(t, second.LeveledUp)

	snap, _ := f.cache.Get(testSubject)
	assert.Equal(t, 2, snap.PendingLevelUp)

	var levelUps int
	for _, e := range f.bus.events {
		if e.EventType() == shared.EventLevelUp {
			levelUps++
			lu, ok := e.(shared.LevelUpEvent)
			require.True(t, ok)
			assert.Equal(t, 2, lu.NewLevel)
		}
	}
	assert.Equal(t, 1, levelUps, "one level-up notification per boundary crossing")
}

func TestAward_AchievementUnlockedAfterCommit(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	res := awardAt(t, f, "task-001", "task", at)

	assert.Contains(t, res.UnlockedAchievements, "first_task")
	assert.Contains(t, f.ledger.unlocks[testSubject], "first_task")

	snap, _ := f.cache.Get(testSubject)
	assert.Contains(t, snap.UnlockedIDs, "first_task")

	// Never re-unlocked on later awards.
	later := awardAt(t, f, "task-002", "task", at.Add(time.Minute))
	assert.NotContains(t, later.UnlockedAchievements, "first_task")
}

func TestAward_UnlockInsertFailureDoesNotFailAward(t *testing.T) {
	f := newFixture()
	f.unlocks.failed = true
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	res := awardAt(t, f, "task-001", "task", at)

	assert.True(t, res.Awarded)
	assert.Empty(t, res.UnlockedAchievements)
	assert.Equal(t, 15, f.ledger.states[testSubject].TotalXP)
}

func TestAward_ValidationErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.award.Handle(ctx, AwardTaskCommand{SubjectID: "not-a-uuid", TaskID: "t", ItemType: "task"})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = f.award.Handle(ctx, AwardTaskCommand{SubjectID: testSubject, TaskID: "", ItemType: "task"})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = f.award.Handle(ctx, AwardTaskCommand{SubjectID: testSubject, TaskID: "t", ItemType: "quiz"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	assert.Equal(t, 0, f.ledger.commits, "invalid commands must not touch the ledger")
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMIT FAILURE / ROLLBACK
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_CommitFailureRollsBackSnapshot(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	awardAt(t, f, "task-001", "task", at)
	before, _ := f.cache.Get(testSubject)
	want := before.Clone()

	f.ledger.failCommits = true
	_, err := f.award.Handle(context.Background(), AwardTaskCommand{
		SubjectID: testSubject,
		TaskID:    "task-002",
		ItemType:  "task",
		Timestamp: at.Add(time.Minute),
	})

	require.Error(t, err)
	assert.True(t, shared.IsCommitFailure(err))

	// Snapshot restored bit-for-bit.
	after, _ := f.cache.Get(testSubject)
	assert.Equal(t, want, after)

	// Ledger untouched, no new achievements evaluated.
	assert.Len(t, f.ledger.events[testSubject], 1)
	assert.Equal(t, []string{"first_task"}, f.ledger.unlocks[testSubject])

	// The failure itself is announced.
	assert.Contains(t, f.bus.typesSeen(), shared.EventCommitFailed)
}

func TestAward_RetryAfterCommitFailureSucceeds(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	f.ledger.failCommits = true
	_, err := f.award.Handle(context.Background(), AwardTaskCommand{
		SubjectID: testSubject, TaskID: "task-001", ItemType: "task", Timestamp: at,
	})
	require.Error(t, err)

	// A failed award leaves no trace, so the retry is a fresh award,
	// not a duplicate.
	f.ledger.failCommits = false
	res := awardAt(t, f, "task-001", "task", at.Add(time.Second))
	assert.True(t, res.Awarded)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 15, f.ledger.states[testSubject].TotalXP)
}

// ══════════════════════════════════════════════════════════════════════════════
// REVOKE
// ══════════════════════════════════════════════════════════════════════════════

func TestRevoke_RoundTripRestoresTotal(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	awardAt(t, f, "task-001", "task", at)
	res, err := f.revoke.Handle(context.Background(), RevokeTaskCommand{
		SubjectID: testSubject, TaskID: "task-001", Timestamp: at.Add(time.Minute),
	})
	require.NoError(t, err)

	assert.True(t, res.Revoked)
	assert.Equal(t, 15, res.RevokedAmount)
	assert.Equal(t, 0, res.State.TotalXP)
	assert.Equal(t, 1, res.State.Level)

	// The journal is append-only: award and compensation both remain.
	assert.Len(t, f.ledger.events[testSubject], 2)
	assert.Equal(t, 0, progression.SumAmounts(f.ledger.events[testSubject]))
}

func TestRevoke_KeepsStreakAndAchievements(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	awardAt(t, f, "task-001", "task", at)
	res, err := f.revoke.Handle(context.Background(), RevokeTaskCommand{
		SubjectID: testSubject, TaskID: "task-001", Timestamp: at.Add(time.Minute),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.State.StreakCount, "revocation is not absence of activity")
	assert.Contains(t, f.ledger.unlocks[testSubject], "first_task", "unlocks are permanent")
}

func TestRevoke_UnknownTaskIsNoOp(t *testing.T) {
	f := newFixture()

	res, err := f.revoke.Handle(context.Background(), RevokeTaskCommand{
		SubjectID: testSubject, TaskID: "never-awarded",
	})
	require.NoError(t, err)

	assert.True(t, res.NotFound)
	assert.False(t, res.Revoked)
	assert.Equal(t, 0, f.ledger.commits)
	assert.Empty(t, f.bus.events)
}

func TestRevoke_IsIdempotent(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	awardAt(t, f, "task-001", "task", at)

	ctx := context.Background()
	first, err := f.revoke.Handle(ctx, RevokeTaskCommand{SubjectID: testSubject, TaskID: "task-001", Timestamp: at.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, first.Revoked)

	second, err := f.revoke.Handle(ctx, RevokeTaskCommand{SubjectID: testSubject, TaskID: "task-001", Timestamp: at.Add(2 * time.Minute)})
	require.NoError(t, err)

	assert.True(t, second.NotFound, "the award is already cancelled out")
	assert.Equal(t, 0, f.ledger.states[testSubject].TotalXP)
}

func TestRevoke_ClampsTotalAtZero(t *testing.T) {
	f := newFixture()
	subject := shared.SubjectID(testSubject)
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	// A journal damaged out-of-band: the state carries less XP than the
	// recorded grant. The revoke must clamp, not go negative.
	f.ledger.events[subject] = []progression.ExperienceEvent{{
		ID: "seed-1", SubjectID: subject, Amount: 15,
		Reason: progression.ReasonTaskComplete, TaskID: "task-001",
		ItemType: progression.ItemTypeTask, CreatedAt: at,
	}}
	state := progression.NewState(subject)
	state.TotalXP = 10
	f.ledger.states[subject] = state

	res, err := f.revoke.Handle(context.Background(), RevokeTaskCommand{
		SubjectID: testSubject, TaskID: "task-001", Timestamp: at.Add(time.Minute),
	})
	require.NoError(t, err)

	assert.Equal(t, 15, res.RevokedAmount)
	assert.Equal(t, 0, res.State.TotalXP)
	assert.Equal(t, 1, res.State.Level)
}

func TestRevoke_CommitFailureRollsBackSnapshot(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	awardAt(t, f, "task-001", "task", at)
	before, _ := f.cache.Get(testSubject)
	want := before.Clone()

	f.ledger.failCommits = true
	_, err := f.revoke.Handle(context.Background(), RevokeTaskCommand{
		SubjectID: testSubject, TaskID: "task-001", Timestamp: at.Add(time.Minute),
	})

	require.Error(t, err)
	assert.True(t, shared.IsCommitFailure(err))

	after, _ := f.cache.Get(testSubject)
	assert.Equal(t, want, after)
	assert.Equal(t, 15, f.ledger.states[testSubject].TotalXP)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICT DETECTION
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_StaleReadIsRejectedByCommit(t *testing.T) {
	f := newFixture()
	subject := shared.SubjectID(testSubject)
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	awardAt(t, f, "task-001", "task", at)

	// Another writer bumps the stored total between our fetch and commit.
	f.ledger.beforeCommit = func() {
		f.ledger.states[subject].TotalXP = 999
		f.ledger.beforeCommit = nil
	}

	_, err := f.award.Handle(context.Background(), AwardTaskCommand{
		SubjectID: testSubject, TaskID: "task-002", ItemType: "task", Timestamp: at.Add(time.Minute),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConcurrentModification))
	assert.True(t, shared.IsCommitFailure(err))
}
