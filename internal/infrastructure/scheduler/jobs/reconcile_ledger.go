// Package jobs contains the scheduled jobs of the progression service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
	"github.com/studydeck/studydeck-progression/pkg/logger"
	"github.com/studydeck/studydeck-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE LEDGER JOB
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotInvalidator drops a subject's cached snapshot so the next
// read is seeded from the repaired state.
type SnapshotInvalidator interface {
	Delete(subjectID shared.SubjectID)
}

// ReconcileLedgerJob replays every subject's journal and compares the
// result against the stored state. The journal is the source of truth;
// when the derived state has drifted (a partial failure, a manual data
// fix, a bug) the job rewrites it from the replay and invalidates the
// cached snapshot.
type ReconcileLedgerJob struct {
	ledger    progression.Ledger
	cache     SnapshotInvalidator
	publisher shared.EventPublisher
	clock     *timeutil.Clock
	log       *logger.Logger

	// Timeout bounds one full sweep.
	Timeout time.Duration
}

// NewReconcileLedgerJob creates the job.
func NewReconcileLedgerJob(
	ledger progression.Ledger,
	cache SnapshotInvalidator,
	publisher shared.EventPublisher,
	clock *timeutil.Clock,
	log *logger.Logger,
) *ReconcileLedgerJob {
	return &ReconcileLedgerJob{
		ledger:    ledger,
		cache:     cache,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("reconcile_ledger")),
		Timeout:   10 * time.Minute,
	}
}

// Name implements scheduler.Job.
func (j *ReconcileLedgerJob) Name() string {
	return "reconcile_ledger"
}

// Description implements scheduler.Job.
func (j *ReconcileLedgerJob) Description() string {
	return "replays XP journals and repairs drifted progression states"
}

// Run implements scheduler.Job.
func (j *ReconcileLedgerJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	subjects, err := j.ledger.Subjects(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: failed to list subjects: %w", err)
	}

	var checked, repaired, failed int
	for _, subjectID := range subjects {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		checked++
		fixed, err := j.reconcileSubject(ctx, subjectID)
		if err != nil {
			failed++
			j.log.Error("reconcile failed for subject",
				logger.SubjectID(subjectID.String()),
				logger.Err(err))
			continue
		}
		if fixed {
			repaired++
		}
	}

	j.log.Info("reconcile sweep finished",
		logger.Int("checked", checked),
		logger.Int("repaired", repaired),
		logger.Int("failed", failed))

	if j.publisher != nil {
		if err := j.publisher.Publish(shared.NewReconcileCompletedEvent(checked, repaired, failed)); err != nil {
			j.log.Warn("reconcile event publish failed", logger.Err(err))
		}
	}

	if failed > 0 {
		return fmt.Errorf("reconcile: %d of %d subjects failed", failed, checked)
	}
	return nil
}

// reconcileSubject returns true when the stored state was repaired.
func (j *ReconcileLedgerJob) reconcileSubject(ctx context.Context, subjectID shared.SubjectID) (bool, error) {
	journal, err := j.ledger.AllEvents(ctx, subjectID)
	if err != nil {
		return false, err
	}

	record, err := j.ledger.Fetch(ctx, subjectID)
	if err != nil {
		return false, err
	}

	replayed := progression.ReplayJournal(subjectID, journal, j.clock.StartOfDay)
	drifts := progression.CompareStates(record.State, replayed)
	if len(drifts) == 0 {
		return false, nil
	}

	for _, d := range drifts {
		j.log.Warn("state drift detected",
			logger.SubjectID(subjectID.String()),
			logger.String("field", d.Field),
			logger.Int("stored", d.Stored),
			logger.Int("replayed", d.Replayed))
	}

	// An empty batch with the stored total as the CAS guard: if an
	// award lands between our read and this write, the conflict wins
	// and the next sweep picks the subject up again.
	replayed.UpdatedAt = j.clock.Now()
	err = j.ledger.Commit(ctx, subjectID, nil, replayed, record.State.TotalXP)
	if err != nil {
		if errors.Is(err, shared.ErrConcurrentModification) {
			j.log.Info("repair skipped, subject is active",
				logger.SubjectID(subjectID.String()))
			return false, nil
		}
		return false, err
	}

	if j.cache != nil {
		j.cache.Delete(subjectID)
	}

	j.log.Info("state repaired from journal",
		logger.SubjectID(subjectID.String()),
		logger.XPAmount(replayed.TotalXP),
		logger.LevelField(replayed.Level))
	return true, nil
}
