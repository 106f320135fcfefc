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
// REVOKE TASK COMMAND
// Compensation for an un-completed task: a single negative ledger entry
// that cancels the earlier grant. The journal stays append-only; nothing
// is deleted or rewritten. Streak and achievements are not reverted.
// ══════════════════════════════════════════════════════════════════════════════

// RevokeTaskCommand contains the data to revoke an earlier award.
type RevokeTaskCommand struct {
	// SubjectID is the owner of the progression state.
	SubjectID string

	// TaskID is the item whose award is being revoked.
	TaskID string

	// Timestamp is when the revocation occurred (defaults to now if zero).
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RevokeTaskCommand) Validate() error {
	if !shared.SubjectID(c.SubjectID).IsValid() {
		return shared.ErrInvalidSubjectID
	}
	if !shared.TaskID(c.TaskID).IsValid() {
		return shared.ErrInvalidTaskID
	}
	return nil
}

// RevokeTaskResult contains the result of a revocation.
type RevokeTaskResult struct {
	// Revoked is true when a compensating entry was committed.
	Revoked bool

	// NotFound is true when no positive award existed for the task;
	// the whole call was a no-op.
	NotFound bool

	// RevokedAmount is the XP taken back (positive number).
	RevokedAmount int

	// PreviousLevel is the level before the revocation.
	PreviousLevel int

	// NewLevel is the level after the revocation. Levels can go down.
	NewLevel int

	// State is the committed progression state.
	State *progression.State

	// Events contains domain events generated.
	Events []shared.Event

	// RevokedAt is the effective revocation time.
	RevokedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RevokeTaskHandler handles the RevokeTaskCommand.
type RevokeTaskHandler struct {
	orc *Orchestrator
}

// NewRevokeTaskHandler creates a new RevokeTaskHandler.
func NewRevokeTaskHandler(orc *Orchestrator) *RevokeTaskHandler {
	return &RevokeTaskHandler{orc: orc}
}

// Handle executes the revoke command.
func (h *RevokeTaskHandler) Handle(ctx context.Context, cmd RevokeTaskCommand) (*RevokeTaskResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("revoke_task: validation failed: %w", err)
	}

	o := h.orc
	subjectID := shared.SubjectID(cmd.SubjectID)
	taskID := shared.TaskID(cmd.TaskID)

	timestamp := cmd.Timestamp
	if timestamp.IsZero() {
		timestamp = o.clock.Now()
	}

	unlock := o.locks.acquire(subjectID)
	defer unlock()

	record, err := o.ledger.Fetch(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("revoke_task: failed to fetch subject: %w", err)
	}

	// Net every journal entry for the task: grants minus earlier
	// compensations. The journal is append-only, so a redelivered revoke
	// still sees the original grant; only the unreturned remainder may be
	// deducted, and a second delivery nets to zero and no-ops.
	taskEvents, err := o.ledger.EventsForTask(ctx, subjectID, taskID)
	if err != nil {
		return nil, fmt.Errorf("revoke_task: lookup failed: %w", err)
	}

	grantedTotal := progression.SumAmounts(taskEvents)
	if grantedTotal <= 0 {
		o.log.Debug("revoke ignored, no award on record",
			logger.SubjectID(cmd.SubjectID), logger.TaskID(cmd.TaskID))
		return &RevokeTaskResult{
			NotFound:      true,
			PreviousLevel: record.State.Level,
			NewLevel:      record.State.Level,
			State:         record.State,
			RevokedAt:     timestamp,
		}, nil
	}

	batch := []progression.ExperienceEvent{{
		ID:        o.newID(),
		SubjectID: subjectID,
		Amount:    -grantedTotal,
		Reason:    progression.ReasonTaskRevoked,
		TaskID:    taskID,
		CreatedAt: timestamp,
	}}

	previousLevel := record.State.Level

	// Streak, best streak, and unlocked achievements survive revocation.
	// Only the XP total (and the level derived from it) moves.
	newState := record.State.ApplyDelta(-grantedTotal, timestamp)

	snap := o.snapshotFor(subjectID, record)
	backup := snap.Clone()
	snap.ApplyEvents(newState, batch)

	if err := o.ledger.Commit(ctx, subjectID, batch, newState, record.State.TotalXP); err != nil {
		o.cache.Put(subjectID, backup)

		o.log.Error("revoke commit failed, snapshot rolled back",
			logger.SubjectID(cmd.SubjectID),
			logger.TaskID(cmd.TaskID),
			logger.XPAmount(grantedTotal),
			logger.Err(err))

		failed := shared.NewCommitFailedEvent(cmd.SubjectID, "revoke", cmd.TaskID, err.Error())
		if cmd.CorrelationID != "" {
			failed.BaseEvent = failed.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		o.publish([]shared.Event{failed})

		return nil, shared.WrapError("reward", "Revoke", shared.ErrCommitFailed,
			"ledger commit rejected, state unchanged", err)
	}

	revoked := shared.NewXPRevokedEvent(
		cmd.SubjectID, cmd.TaskID, grantedTotal, newState.TotalXP, newState.Level)
	if cmd.CorrelationID != "" {
		revoked.BaseEvent = revoked.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}

	result := &RevokeTaskResult{
		Revoked:       true,
		RevokedAmount: grantedTotal,
		PreviousLevel: previousLevel,
		NewLevel:      newState.Level,
		State:         newState,
		Events:        []shared.Event{revoked},
		RevokedAt:     timestamp,
	}

	o.publish(result.Events)

	o.log.Info("xp revoked",
		logger.SubjectID(cmd.SubjectID),
		logger.TaskID(cmd.TaskID),
		logger.XPAmount(grantedTotal),
		logger.LevelField(newState.Level))

	return result, nil
}
