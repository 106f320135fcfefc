package command

import (
	"context"
	"fmt"
	"time"

	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
	"github.com/studydeck/studydeck-progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD TASK COMMAND
// The full award pipeline for a completed item: dedup check, streak
// transition, bonus grants, optimistic snapshot update, atomic commit,
// rollback on failure, achievement evaluation on success.
// ══════════════════════════════════════════════════════════════════════════════

// AwardTaskCommand contains the data to award XP for a completed item.
type AwardTaskCommand struct {
	// SubjectID is the owner of the progression state.
	SubjectID string

	// TaskID is the completed item's identifier.
	TaskID string

	// ItemType selects the base XP amount: task, event, or study.
	ItemType string

	// Timestamp is when the completion occurred (defaults to now if zero).
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AwardTaskCommand) Validate() error {
	if !shared.SubjectID(c.SubjectID).IsValid() {
		return shared.ErrInvalidSubjectID
	}
	if !shared.TaskID(c.TaskID).IsValid() {
		return shared.ErrInvalidTaskID
	}
	if _, err := progression.ParseItemType(c.ItemType); err != nil {
		return err
	}
	return nil
}

// AwardTaskResult contains the result of an award.
type AwardTaskResult struct {
	// Awarded is true when XP was granted and committed.
	Awarded bool

	// Duplicate is true when the task was already awarded; the whole
	// call was a no-op.
	Duplicate bool

	// XPGranted is the total XP granted, bonuses included.
	XPGranted int

	// Breakdown maps grant reason to amount (base, streak_bonus,
	// daily_goal).
	Breakdown map[string]int

	// PreviousLevel is the level before the award.
	PreviousLevel int

	// NewLevel is the level after the award.
	NewLevel int

	// LeveledUp is true when one or more level boundaries were crossed.
	LeveledUp bool

	// StreakCount is the streak after the award.
	StreakCount int

	// StreakBonusGranted is true when the daily streak bonus fired.
	StreakBonusGranted bool

	// DailyGoalHit is true when this award completed the daily goal.
	DailyGoalHit bool

	// UnlockedAchievements lists achievements unlocked by this award,
	// in catalog order.
	UnlockedAchievements []string

	// State is the committed progression state.
	State *progression.State

	// Events contains domain events generated.
	Events []shared.Event

	// AwardedAt is the effective completion time.
	AwardedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardTaskHandler handles the AwardTaskCommand.
type AwardTaskHandler struct {
	orc *Orchestrator
}

// NewAwardTaskHandler creates a new AwardTaskHandler.
func NewAwardTaskHandler(orc *Orchestrator) *AwardTaskHandler {
	return &AwardTaskHandler{orc: orc}
}

// Handle executes the award command.
func (h *AwardTaskHandler) Handle(ctx context.Context, cmd AwardTaskCommand) (*AwardTaskResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("award_task: validation failed: %w", err)
	}

	o := h.orc
	subjectID := shared.SubjectID(cmd.SubjectID)
	taskID := shared.TaskID(cmd.TaskID)
	itemType, _ := progression.ParseItemType(cmd.ItemType)

	timestamp := cmd.Timestamp
	if timestamp.IsZero() {
		timestamp = o.clock.Now()
	}

	// Operations on one subject are strictly serialized.
	unlock := o.locks.acquire(subjectID)
	defer unlock()

	record, err := o.ledger.Fetch(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("award_task: failed to fetch subject: %w", err)
	}

	// Dedup: an already-awarded task is a silent no-op.
	already, err := o.ledger.HasPositiveCompletion(ctx, subjectID, taskID)
	if err != nil {
		return nil, fmt.Errorf("award_task: dedup check failed: %w", err)
	}
	if already {
		o.log.Debug("duplicate award ignored",
			logger.SubjectID(cmd.SubjectID), logger.TaskID(cmd.TaskID))
		return &AwardTaskResult{
			Duplicate:     true,
			PreviousLevel: record.State.Level,
			NewLevel:      record.State.Level,
			StreakCount:   record.State.StreakCount,
			State:         record.State,
			AwardedAt:     timestamp,
		}, nil
	}

	// Streak transition happens before the grant so the bonus can ride
	// in the same batch.
	tr := progression.AdvanceStreak(record.State, timestamp, o.clock.StartOfDay)

	baseXP, err := progression.BaseXPForItem(itemType)
	if err != nil {
		return nil, fmt.Errorf("award_task: %w", err)
	}

	batch := []progression.ExperienceEvent{{
		ID:        o.newID(),
		SubjectID: subjectID,
		Amount:    baseXP,
		Reason:    progression.ReasonTaskComplete,
		TaskID:    taskID,
		ItemType:  itemType,
		CreatedAt: timestamp,
	}}
	breakdown := map[string]int{"base": baseXP}

	// A zero bonus amount disables the mechanic entirely.
	streakBonus := tr.BonusGranted && o.cfg.StreakBonusXP > 0
	if streakBonus {
		batch = append(batch, progression.ExperienceEvent{
			ID:        o.newID(),
			SubjectID: subjectID,
			Amount:    o.cfg.StreakBonusXP,
			Reason:    progression.ReasonStreakBonus,
			CreatedAt: timestamp,
		})
		breakdown["streak_bonus"] = o.cfg.StreakBonusXP
	}

	// Daily goal check is recomputed from the ledger every time, never
	// cached. A rolled-back award therefore cannot poison the count.
	dayStart, dayEnd := o.clock.DayBounds(timestamp)
	completionsToday, err := o.ledger.CountCompletionsBetween(ctx, subjectID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("award_task: daily goal check failed: %w", err)
	}
	dailyGoalHit := completionsToday+1 == o.cfg.DailyGoalThreshold && o.cfg.DailyGoalBonusXP > 0
	if dailyGoalHit {
		batch = append(batch, progression.ExperienceEvent{
			ID:        o.newID(),
			SubjectID: subjectID,
			Amount:    o.cfg.DailyGoalBonusXP,
			Reason:    progression.ReasonDailyGoal,
			CreatedAt: timestamp,
		})
		breakdown["daily_goal"] = o.cfg.DailyGoalBonusXP
	}

	totalGain := progression.SumAmounts(batch)
	previousLevel := record.State.Level

	newState := record.State.ApplyStreak(tr).ApplyDelta(totalGain, timestamp)

	// Optimistic snapshot update: save a deep copy first so a failed
	// commit can restore the previous snapshot bit-for-bit.
	snap := o.snapshotFor(subjectID, record)
	backup := snap.Clone()

	snap.ApplyEvents(newState, batch)
	if newState.Level > previousLevel {
		snap.MarkLevelUp(newState.Level)
	}

	if err := o.ledger.Commit(ctx, subjectID, batch, newState, record.State.TotalXP); err != nil {
		o.cache.Put(subjectID, backup)

		o.log.Error("award commit failed, snapshot rolled back",
			logger.SubjectID(cmd.SubjectID),
			logger.TaskID(cmd.TaskID),
			logger.XPAmount(totalGain),
			logger.Err(err))

		failed := shared.NewCommitFailedEvent(cmd.SubjectID, "award", cmd.TaskID, err.Error())
		if cmd.CorrelationID != "" {
			failed.BaseEvent = failed.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		o.publish([]shared.Event{failed})

		return nil, shared.WrapError("reward", "Award", shared.ErrCommitFailed,
			"ledger commit rejected, state unchanged", err)
	}

	result := &AwardTaskResult{
		Awarded:            true,
		XPGranted:          totalGain,
		Breakdown:          breakdown,
		PreviousLevel:      previousLevel,
		NewLevel:           newState.Level,
		LeveledUp:          newState.Level > previousLevel,
		StreakCount:        newState.StreakCount,
		StreakBonusGranted: streakBonus,
		DailyGoalHit:       dailyGoalHit,
		State:              newState,
		AwardedAt:          timestamp,
		Events:             make([]shared.Event, 0, 4),
	}

	awarded := shared.NewXPAwardedEvent(
		cmd.SubjectID, cmd.TaskID, string(itemType),
		breakdown, totalGain, newState.TotalXP, newState.Level)
	result.Events = append(result.Events, h.withCorrelation(awarded, cmd.CorrelationID))

	if tr.Fired {
		streak := shared.NewStreakUpdatedEvent(
			cmd.SubjectID, tr.PreviousStreak, tr.StreakCount, streakBonus)
		result.Events = append(result.Events, h.withCorrelation(streak, cmd.CorrelationID))
	}

	// One notification per call even when several boundaries were
	// crossed: the event carries the final level only.
	if result.LeveledUp {
		levelUp := shared.NewLevelUpEvent(cmd.SubjectID, previousLevel, newState.Level)
		result.Events = append(result.Events, h.withCorrelation(levelUp, cmd.CorrelationID))
	}

	// Achievements are evaluated only after a successful commit, against
	// the full journal so per-type counters are exact.
	newlyUnlocked := h.evaluateAchievements(ctx, subjectID, newState, record.UnlockedIDs, timestamp, cmd.CorrelationID, snap, result)
	result.UnlockedAchievements = newlyUnlocked

	o.publish(result.Events)

	o.log.Info("xp awarded",
		logger.SubjectID(cmd.SubjectID),
		logger.TaskID(cmd.TaskID),
		logger.XPAmount(totalGain),
		logger.LevelField(newState.Level),
		logger.Streak(newState.StreakCount))

	return result, nil
}

// evaluateAchievements runs catalog predicates against the post-commit
// journal and persists any new unlocks. Failures here never fail the
// award: the commit already happened, and the retry job picks up missed
// unlocks.
func (h *AwardTaskHandler) evaluateAchievements(
	ctx context.Context,
	subjectID shared.SubjectID,
	newState *progression.State,
	alreadyUnlocked []string,
	unlockedAt time.Time,
	correlationID string,
	snap *progression.Snapshot,
	result *AwardTaskResult,
) []string {
	o := h.orc

	if o.cfg.DisableAchievements {
		return nil
	}

	journal, err := o.ledger.AllEvents(ctx, subjectID)
	if err != nil {
		o.log.Warn("achievement evaluation skipped, journal unavailable",
			logger.SubjectID(subjectID.String()), logger.Err(err))
		return nil
	}

	gs := progression.BuildGamificationState(newState, journal)
	newly := o.evaluator.Evaluate(gs, alreadyUnlocked)
	if len(newly) == 0 {
		return nil
	}

	// Only unlocks that reached the store are reported and mirrored
	// into the snapshot; the rest wait for the catch-up pass.
	persisted, unlockEvents := o.persistUnlocks(ctx, subjectID, newly, unlockedAt, correlationID)
	result.Events = append(result.Events, unlockEvents...)

	ids := make([]string, 0, len(persisted))
	for _, def := range persisted {
		ids = append(ids, def.ID.String())
		snap.AddUnlocked(def.ID.String())
	}
	return ids
}

// withCorrelation attaches the correlation ID to events that carry a
// BaseEvent.
func (h *AwardTaskHandler) withCorrelation(event shared.Event, correlationID string) shared.Event {
	if correlationID == "" {
		return event
	}
	switch e := event.(type) {
	case shared.XPAwardedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		return e
	case shared.StreakUpdatedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		return e
	case shared.LevelUpEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(correlationID)
		return e
	default:
		return event
	}
}
