package eventhandler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studydeck/studydeck-progression/internal/application/command"
	"github.com/studydeck/studydeck-progression/internal/domain/achievement"
	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
	"github.com/studydeck/studydeck-progression/pkg/timeutil"
)

const testSubject = "9ca4322d-ebd5-4ffa-a340-56fe811bbab1"

// stubLedger is a minimal in-memory ledger for transition tests.
type stubLedger struct {
	states map[shared.SubjectID]*progression.State
	events map[shared.SubjectID][]progression.ExperienceEvent
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		states: make(map[shared.SubjectID]*progression.State),
		events: make(map[shared.SubjectID][]progression.ExperienceEvent),
	}
}

func (s *stubLedger) Fetch(_ context.Context, subjectID shared.SubjectID) (*progression.SubjectRecord, error) {
	state, ok := s.states[subjectID]
	if !ok {
		state = progression.NewState(subjectID)
	}
	return &progression.SubjectRecord{State: state.Clone()}, nil
}

func (s *stubLedger) HasPositiveCompletion(_ context.Context, subjectID shared.SubjectID, taskID shared.TaskID) (bool, error) {
	return len(progression.FindPositiveCompletions(s.events[subjectID], taskID)) > 0, nil
}

func (s *stubLedger) EventsForTask(_ context.Context, subjectID shared.SubjectID, taskID shared.TaskID) ([]progression.ExperienceEvent, error) {
	return progression.FindTaskEvents(s.events[subjectID], taskID), nil
}

func (s *stubLedger) CountCompletionsBetween(_ context.Context, subjectID shared.SubjectID, from, to time.Time) (int, error) {
	count := 0
	for _, e := range s.events[subjectID] {
		if e.IsPositiveCompletion() && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func (s *stubLedger) Commit(_ context.Context, subjectID shared.SubjectID, batch []progression.ExperienceEvent, newState *progression.State, _ int) error {
	s.events[subjectID] = append(s.events[subjectID], batch...)
	s.states[subjectID] = newState.Clone()
	return nil
}

func (s *stubLedger) AllEvents(_ context.Context, subjectID shared.SubjectID) ([]progression.ExperienceEvent, error) {
	return s.events[subjectID], nil
}

func (s *stubLedger) Subjects(_ context.Context) ([]shared.SubjectID, error) {
	return nil, nil
}

type stubUnlocks struct{}

func (stubUnlocks) Insert(_ context.Context, _ *achievement.Unlocked) error { return nil }
func (stubUnlocks) ListBySubject(_ context.Context, _ shared.SubjectID) ([]*achievement.Unlocked, error) {
	return nil, nil
}

type stubCache struct {
	snaps map[shared.SubjectID]*progression.Snapshot
}

func (c *stubCache) Get(id shared.SubjectID) (*progression.Snapshot, bool) {
	snap, ok := c.snaps[id]
	return snap, ok
}

func (c *stubCache) Put(id shared.SubjectID, snap *progression.Snapshot) {
	c.snaps[id] = snap
}

func newHandler() (*OnTaskStatusChangedHandler, *stubLedger) {
	ledger := newStubLedger()
	cache := &stubCache{snaps: make(map[shared.SubjectID]*progression.Snapshot)}

	seq := 0
	orc := command.NewOrchestrator(ledger, stubUnlocks{}, cache, nil,
		timeutil.UTC(), nil, command.DefaultRewardConfig(), func() string {
			seq++
			return fmt.Sprintf("evt-%04d", seq)
		})

	h := NewOnTaskStatusChangedHandler(
		command.NewAwardTaskHandler(orc),
		command.NewRevokeTaskHandler(orc),
		nil,
	)
	return h, ledger
}

func change(prev, next string) TaskStatusChanged {
	return TaskStatusChanged{
		SubjectID:      testSubject,
		TaskID:         "task-001",
		ItemType:       "task",
		PreviousStatus: prev,
		NewStatus:      next,
		ChangedAt:      time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHandle_TransitionIntoCompletedAwards(t *testing.T) {
	h, ledger := newHandler()

	outcome, err := h.Handle(context.Background(), change("in_progress", "completed"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeAwarded, outcome)
	assert.Equal(t, 15, ledger.states[shared.SubjectID(testSubject)].TotalXP)
}

func TestHandle_TransitionOutOfCompletedRevokes(t *testing.T) {
	h, ledger := newHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, change("pending", "completed"))
	require.NoError(t, err)

	outcome, err := h.Handle(ctx, change("completed", "pending"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRevoked, outcome)
	assert.Equal(t, 0, ledger.states[shared.SubjectID(testSubject)].TotalXP)
}

func TestHandle_NonBoundaryTransitionsIgnored(t *testing.T) {
	h, ledger := newHandler()
	ctx := context.Background()

	for _, tc := range []struct{ prev, next string }{
		{"pending", "in_progress"},
		{"in_progress", "pending"},
		{"pending", "archived"},
		{"completed", "completed"},
	} {
		outcome, err := h.Handle(ctx, change(tc.prev, tc.next))
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome, "%s -> %s", tc.prev, tc.next)
	}

	assert.Empty(t, ledger.events[shared.SubjectID(testSubject)])
}

func TestHandle_RedeliveryIsNoOp(t *testing.T) {
	h, _ := newHandler()
	ctx := context.Background()

	first, err := h.Handle(ctx, change("pending", "completed"))
	require.NoError(t, err)
	require.Equal(t, OutcomeAwarded, first)

	second, err := h.Handle(ctx, change("pending", "completed"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, second)
}

func TestHandle_RevokeWithoutAwardIsNoOp(t *testing.T) {
	h, _ := newHandler()

	outcome, err := h.Handle(context.Background(), change("completed", "pending"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome)
}
