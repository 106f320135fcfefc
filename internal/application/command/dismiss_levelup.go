package command

import (
	"context"
	"fmt"

	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISMISS LEVEL UP COMMAND
// Clears the pending level-up banner for a subject. Level-up notice is
// sticky until explicitly dismissed, so a banner never disappears before
// the subject has seen it.
// ══════════════════════════════════════════════════════════════════════════════

// DismissLevelUpCommand identifies the subject whose banner to clear.
type DismissLevelUpCommand struct {
	// SubjectID is the owner of the snapshot.
	SubjectID string
}

// Validate validates the command.
func (c DismissLevelUpCommand) Validate() error {
	if !shared.SubjectID(c.SubjectID).IsValid() {
		return shared.ErrInvalidSubjectID
	}
	return nil
}

// DismissLevelUpHandler handles the DismissLevelUpCommand.
type DismissLevelUpHandler struct {
	orc *Orchestrator
}

// NewDismissLevelUpHandler creates a new DismissLevelUpHandler.
func NewDismissLevelUpHandler(orc *Orchestrator) *DismissLevelUpHandler {
	return &DismissLevelUpHandler{orc: orc}
}

// Handle clears the pending level-up notice. Dismissing when no notice
// is pending is a no-op.
func (h *DismissLevelUpHandler) Handle(_ context.Context, cmd DismissLevelUpCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("dismiss_levelup: validation failed: %w", err)
	}

	subjectID := shared.SubjectID(cmd.SubjectID)

	unlock := h.orc.locks.acquire(subjectID)
	defer unlock()

	if snap, ok := h.orc.cache.Get(subjectID); ok {
		snap.DismissLevelUp()
	}
	return nil
}
