package achievement

import (
	"context"
	"time"

	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// Unlocked is a persisted record of an achievement a subject has earned.
// Unlocks are permanent: revoking the XP that triggered one does not
// remove it.
type Unlocked struct {
	ID            string
	SubjectID     shared.SubjectID
	AchievementID ID
	UnlockedAt    time.Time
}

// NewUnlocked creates a new unlock record.
func NewUnlocked(id string, subjectID shared.SubjectID, achievementID ID, unlockedAt time.Time) (*Unlocked, error) {
	if id == "" {
		return nil, shared.ErrValidation
	}
	if !subjectID.IsValid() {
		return nil, shared.ErrInvalidSubjectID
	}
	if !achievementID.IsValid() {
		return nil, shared.ErrUnknownAchievement
	}
	if _, ok := Lookup(achievementID); !ok {
		return nil, shared.ErrUnknownAchievement
	}

	return &Unlocked{
		ID:            id,
		SubjectID:     subjectID,
		AchievementID: achievementID,
		UnlockedAt:    unlockedAt,
	}, nil
}

// Repository is the persistence contract for unlock records.
type Repository interface {
	// Insert persists an unlock. Inserting an already-present
	// (subject, achievement) pair is a no-op, not an error.
	Insert(ctx context.Context, unlocked *Unlocked) error

	// ListBySubject returns all unlocks for a subject, oldest first.
	ListBySubject(ctx context.Context, subjectID shared.SubjectID) ([]*Unlocked, error)
}
