// Package saga contains multi-step business processes that coordinate
// several domain operations.
package saga

import (
	"context"
	"time"

	"github.com/studydeck/studydeck-progression/internal/domain/achievement"
	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
	"github.com/studydeck/studydeck-progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Catch-up pass for achievement unlocks.
// Flow: Rebuild Derived State From Journal → Evaluate Catalog →
//
//	Persist Missing Unlocks → Publish Notifications
//
// The award pipeline evaluates achievements inline, but an unlock insert
// can fail after the XP commit succeeded. This saga re-derives the truth
// from the journal and persists whatever the inline pass missed, so an
// earned achievement is never lost, only delayed.
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowSaga reconciles persisted unlocks with the journal.
type AchievementFlowSaga struct {
	ledger    progression.Ledger
	unlocks   achievement.Repository
	evaluator *achievement.Evaluator
	publisher shared.EventPublisher
	log       *logger.Logger

	// newID generates unlock record IDs.
	newID func() string
}

// NewAchievementFlowSaga creates the saga.
func NewAchievementFlowSaga(
	ledger progression.Ledger,
	unlocks achievement.Repository,
	publisher shared.EventPublisher,
	log *logger.Logger,
	newID func() string,
) *AchievementFlowSaga {
	if log == nil {
		log = logger.Default()
	}
	return &AchievementFlowSaga{
		ledger:    ledger,
		unlocks:   unlocks,
		evaluator: achievement.NewEvaluator(),
		publisher: publisher,
		log:       log.With(logger.Component("achievement_flow")),
		newID:     newID,
	}
}

// CatchUpResult describes one subject's catch-up pass.
type CatchUpResult struct {
	// SubjectID is the subject that was checked.
	SubjectID string

	// Unlocked lists achievements persisted by this pass, in catalog
	// order.
	Unlocked []string

	// CheckedAt is when the pass ran.
	CheckedAt time.Time
}

// CatchUp evaluates the catalog for one subject against the full journal
// and persists any unlock the inline pass missed. Individual insert
// failures are logged and skipped; the next pass retries them.
func (s *AchievementFlowSaga) CatchUp(ctx context.Context, subjectID shared.SubjectID) (*CatchUpResult, error) {
	record, err := s.ledger.Fetch(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	journal, err := s.ledger.AllEvents(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	gs := progression.BuildGamificationState(record.State, journal)
	newly := s.evaluator.Evaluate(gs, record.UnlockedIDs)

	result := &CatchUpResult{
		SubjectID: subjectID.String(),
		CheckedAt: time.Now().UTC(),
	}

	for _, def := range newly {
		rec, err := achievement.NewUnlocked(s.newID(), subjectID, def.ID, result.CheckedAt)
		if err != nil {
			s.log.Error("invalid unlock record",
				logger.SubjectID(subjectID.String()),
				logger.AchievementID(def.ID.String()),
				logger.Err(err))
			continue
		}
		if err := s.unlocks.Insert(ctx, rec); err != nil {
			s.log.Warn("catch-up unlock insert failed",
				logger.SubjectID(subjectID.String()),
				logger.AchievementID(def.ID.String()),
				logger.Err(err))
			continue
		}

		result.Unlocked = append(result.Unlocked, def.ID.String())

		if s.publisher != nil {
			event := shared.NewAchievementUnlockedEvent(
				subjectID.String(), def.ID.String(), def.Title, def.Description)
			if err := s.publisher.Publish(event); err != nil {
				s.log.Warn("unlock notification failed",
					logger.AchievementID(def.ID.String()), logger.Err(err))
			}
		}
	}

	if len(result.Unlocked) > 0 {
		s.log.Info("achievement catch-up persisted unlocks",
			logger.SubjectID(subjectID.String()),
			logger.Int("count", len(result.Unlocked)))
	}

	return result, nil
}

// CatchUpAll runs the catch-up pass for every known subject. Per-subject
// failures are logged and do not stop the sweep.
func (s *AchievementFlowSaga) CatchUpAll(ctx context.Context) (int, error) {
	subjects, err := s.ledger.Subjects(ctx)
	if err != nil {
		return 0, err
	}

	unlocked := 0
	for _, subjectID := range subjects {
		if err := ctx.Err(); err != nil {
			return unlocked, err
		}
		result, err := s.CatchUp(ctx, subjectID)
		if err != nil {
			s.log.Warn("catch-up failed for subject",
				logger.SubjectID(subjectID.String()), logger.Err(err))
			continue
		}
		unlocked += len(result.Unlocked)
	}
	return unlocked, nil
}
