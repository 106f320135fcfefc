package postgres

import (
	"context"
	"fmt"

	"github.com/studydeck/studydeck-progression/internal/domain/achievement"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// UnlockRepository implements achievement.Repository. The UNIQUE
// (subject_id, achievement_id) constraint makes Insert idempotent,
// which is what the catch-up saga relies on.
type UnlockRepository struct {
	conn *Connection
}

// NewUnlockRepository creates a new UnlockRepository.
func NewUnlockRepository(conn *Connection) *UnlockRepository {
	return &UnlockRepository{conn: conn}
}

// Insert persists an unlock record. A duplicate (subject, achievement)
// pair is silently skipped.
func (r *UnlockRepository) Insert(ctx context.Context, unlocked *achievement.Unlocked) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO achievement_unlocks (id, subject_id, achievement_id, unlocked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id, achievement_id) DO NOTHING`,
		unlocked.ID, unlocked.SubjectID.String(), string(unlocked.AchievementID), unlocked.UnlockedAt)
	if err != nil {
		return fmt.Errorf("unlocks: failed to insert: %w", err)
	}
	return nil
}

// ListBySubject returns all unlocks for a subject, oldest first.
func (r *UnlockRepository) ListBySubject(ctx context.Context, subjectID shared.SubjectID) ([]*achievement.Unlocked, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, subject_id, achievement_id, unlocked_at
		FROM achievement_unlocks
		WHERE subject_id = $1
		ORDER BY unlocked_at`,
		subjectID.String())
	if err != nil {
		return nil, fmt.Errorf("unlocks: failed to list: %w", err)
	}
	defer rows.Close()

	var result []*achievement.Unlocked
	for rows.Next() {
		var (
			u             achievement.Unlocked
			subject       string
			achievementID string
		)
		if err := rows.Scan(&u.ID, &subject, &achievementID, &u.UnlockedAt); err != nil {
			return nil, fmt.Errorf("unlocks: failed to scan: %w", err)
		}
		u.SubjectID = shared.SubjectID(subject)
		u.AchievementID = achievement.ID(achievementID)
		result = append(result, &u)
	}
	return result, rows.Err()
}
