package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
	"github.com/studydeck/studydeck-progression/pkg/logger"
)

type flakyLedger struct {
	fetchErrs  []error
	fetchCalls int
	commitErr  error
}

func (f *flakyLedger) Fetch(ctx context.Context, subjectID shared.SubjectID) (*progression.SubjectRecord, error) {
	f.fetchCalls++
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &progression.SubjectRecord{State: progression.NewState(subjectID)}, nil
}

func (f *flakyLedger) HasPositiveCompletion(ctx context.Context, subjectID shared.SubjectID, taskID shared.TaskID) (bool, error) {
	return false, nil
}

func (f *flakyLedger) EventsForTask(ctx context.Context, subjectID shared.SubjectID, taskID shared.TaskID) ([]progression.ExperienceEvent, error) {
	return nil, nil
}

func (f *flakyLedger) CountCompletionsBetween(ctx context.Context, subjectID shared.SubjectID, from, to time.Time) (int, error) {
	return 0, nil
}

func (f *flakyLedger) Commit(ctx context.Context, subjectID shared.SubjectID, batch []progression.ExperienceEvent, newState *progression.State, expectedTotalXP int) error {
	return f.commitErr
}

func (f *flakyLedger) AllEvents(ctx context.Context, subjectID shared.SubjectID) ([]progression.ExperienceEvent, error) {
	return nil, nil
}

func (f *flakyLedger) Subjects(ctx context.Context) ([]shared.SubjectID, error) {
	return nil, nil
}

func testLog() *logger.Logger {
	return logger.New(logger.Options{Level: logger.LevelError})
}

func TestResilientLedger_RetriesTransientFetch(t *testing.T) {
	inner := &flakyLedger{fetchErrs: []error{errors.New("connection reset"), nil}}
	ledger := NewResilientLedger(inner, testLog())

	record, err := ledger.Fetch(context.Background(), shared.SubjectID("s1"))

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 2, inner.fetchCalls)
}

func TestResilientLedger_DoesNotRetryDomainOutcomes(t *testing.T) {
	inner := &flakyLedger{fetchErrs: []error{shared.ErrNotFound, nil}}
	ledger := NewResilientLedger(inner, testLog())

	_, err := ledger.Fetch(context.Background(), shared.SubjectID("s1"))

	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, 1, inner.fetchCalls, "a definitive answer must not be retried")
}

func TestResilientLedger_CommitConflictPassesThrough(t *testing.T) {
	inner := &flakyLedger{commitErr: shared.ErrLedgerConflict}
	ledger := NewResilientLedger(inner, testLog())

	// Conflicts are domain outcomes: repeated ones must not open the
	// breaker and must reach the caller unchanged.
	for i := 0; i < 10; i++ {
		err := ledger.Commit(context.Background(), shared.SubjectID("s1"), nil, progression.NewState(shared.SubjectID("s1")), 0)
		require.ErrorIs(t, err, shared.ErrConcurrentModification)
	}

	assert.True(t, ledger.breaker.IsClosed())
}

func TestResilientLedger_BreakerOpensOnBackendFailure(t *testing.T) {
	inner := &flakyLedger{commitErr: errors.New("dial tcp: connection refused")}
	ledger := NewResilientLedger(inner, testLog())

	subject := shared.SubjectID("s1")
	for i := 0; i < 3; i++ {
		_ = ledger.Commit(context.Background(), subject, nil, progression.NewState(subject), 0)
	}

	err := ledger.Commit(context.Background(), subject, nil, progression.NewState(subject), 0)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}
