package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY
// Implements progression.Ledger on top of PostgreSQL. The commit path is
// a single transaction: batch insert into xp_events plus state upsert,
// guarded by a compare on the previously read total. Either everything
// lands or nothing does.
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository persists the XP journal and derived state.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

const stateColumns = `subject_id, total_xp, level, streak_count, best_streak, last_active_date, updated_at`
const eventColumns = `id, subject_id, amount, reason, task_id, item_type, created_at`

// Fetch loads the subject's state, the recent event window, and the set
// of unlocked achievements. An unknown subject yields a fresh state,
// not an error.
func (r *LedgerRepository) Fetch(ctx context.Context, subjectID shared.SubjectID) (*progression.SubjectRecord, error) {
	state, err := r.fetchState(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	events, err := r.recentEvents(ctx, subjectID, progression.RecentEventsWindow)
	if err != nil {
		return nil, err
	}

	unlocked, err := r.unlockedIDs(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	return &progression.SubjectRecord{
		State:        state,
		RecentEvents: events,
		UnlockedIDs:  unlocked,
	}, nil
}

func (r *LedgerRepository) fetchState(ctx context.Context, subjectID shared.SubjectID) (*progression.State, error) {
	query := fmt.Sprintf(`SELECT %s FROM progression_states WHERE subject_id = $1`, stateColumns)

	row := r.conn.QueryRow(ctx, query, subjectID.String())
	state, err := scanState(row)
	if IsNoRows(err) {
		return progression.NewState(subjectID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to fetch state: %w", err)
	}
	return state, nil
}

func (r *LedgerRepository) recentEvents(ctx context.Context, subjectID shared.SubjectID, limit int) ([]progression.ExperienceEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM xp_events
		WHERE subject_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, eventColumns)

	rows, err := r.conn.Query(ctx, query, subjectID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to fetch recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (r *LedgerRepository) unlockedIDs(ctx context.Context, subjectID shared.SubjectID) ([]string, error) {
	query := `
		SELECT achievement_id FROM achievement_unlocks
		WHERE subject_id = $1
		ORDER BY unlocked_at`

	rows, err := r.conn.Query(ctx, query, subjectID.String())
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to fetch unlocks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasPositiveCompletion checks the dedup invariant in the journal.
func (r *LedgerRepository) HasPositiveCompletion(ctx context.Context, subjectID shared.SubjectID, taskID shared.TaskID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM xp_events
			WHERE subject_id = $1 AND task_id = $2
			  AND reason = $3 AND amount > 0
		)`

	var exists bool
	err := r.conn.QueryRow(ctx, query,
		subjectID.String(), taskID.String(), string(progression.ReasonTaskComplete),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger: dedup check failed: %w", err)
	}
	return exists, nil
}

// EventsForTask returns every journal entry for the task, grants and
// compensations alike, oldest first.
func (r *LedgerRepository) EventsForTask(ctx context.Context, subjectID shared.SubjectID, taskID shared.TaskID) ([]progression.ExperienceEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM xp_events
		WHERE subject_id = $1 AND task_id = $2
		ORDER BY created_at, id`, eventColumns)

	rows, err := r.conn.Query(ctx, query, subjectID.String(), taskID.String())
	if err != nil {
		return nil, fmt.Errorf("ledger: task event lookup failed: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CountCompletionsBetween counts positive completions in [from, to).
func (r *LedgerRepository) CountCompletionsBetween(ctx context.Context, subjectID shared.SubjectID, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM xp_events
		WHERE subject_id = $1
		  AND reason = $2 AND amount > 0
		  AND created_at >= $3 AND created_at < $4`

	var count int
	err := r.conn.QueryRow(ctx, query,
		subjectID.String(), string(progression.ReasonTaskComplete), from, to,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ledger: completion count failed: %w", err)
	}
	return count, nil
}

// Commit atomically appends the batch and upserts the new state. The
// stored total is compared against expectedTotalXP under a row lock;
// a mismatch means another writer got there first and the commit is
// rejected without side effects.
func (r *LedgerRepository) Commit(ctx context.Context, subjectID shared.SubjectID, batch []progression.ExperienceEvent, newState *progression.State, expectedTotalXP int) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		var currentTotal int
		err := tx.QueryRow(ctx,
			`SELECT total_xp FROM progression_states WHERE subject_id = $1 FOR UPDATE`,
			subjectID.String(),
		).Scan(&currentTotal)
		if err != nil && !IsNoRows(err) {
			return fmt.Errorf("ledger: failed to lock state: %w", err)
		}

		if currentTotal != expectedTotalXP {
			return shared.ErrLedgerConflict
		}

		for _, e := range batch {
			_, err := tx.Exec(ctx, fmt.Sprintf(
				`INSERT INTO xp_events (%s) VALUES ($1, $2, $3, $4, $5, $6, $7)`, eventColumns),
				e.ID, e.SubjectID.String(), e.Amount, string(e.Reason),
				e.TaskID.String(), string(e.ItemType), e.CreatedAt)
			if err != nil {
				if IsUniqueViolation(err) {
					// A concurrent award slipped the same completion in.
					return shared.ErrLedgerConflict
				}
				return fmt.Errorf("ledger: failed to append event: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO progression_states
				(subject_id, total_xp, level, streak_count, best_streak, last_active_date, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (subject_id) DO UPDATE SET
				total_xp = EXCLUDED.total_xp,
				level = EXCLUDED.level,
				streak_count = EXCLUDED.streak_count,
				best_streak = EXCLUDED.best_streak,
				last_active_date = EXCLUDED.last_active_date,
				updated_at = EXCLUDED.updated_at`,
			newState.SubjectID.String(), newState.TotalXP, newState.Level,
			newState.StreakCount, newState.BestStreak, newState.LastActiveDate, newState.UpdatedAt)
		if err != nil {
			return fmt.Errorf("ledger: failed to upsert state: %w", err)
		}

		return nil
	})
	if err != nil {
		if IsSerializationFailure(err) {
			return shared.ErrLedgerConflict
		}
		return err
	}
	return nil
}

// AllEvents returns the full journal for a subject, oldest first.
func (r *LedgerRepository) AllEvents(ctx context.Context, subjectID shared.SubjectID) ([]progression.ExperienceEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM xp_events
		WHERE subject_id = $1
		ORDER BY created_at, id`, eventColumns)

	rows, err := r.conn.Query(ctx, query, subjectID.String())
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to fetch journal: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Subjects returns every subject with persisted state.
func (r *LedgerRepository) Subjects(ctx context.Context) ([]shared.SubjectID, error) {
	rows, err := r.conn.Query(ctx, `SELECT subject_id FROM progression_states ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to list subjects: %w", err)
	}
	defer rows.Close()

	var ids []shared.SubjectID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, shared.SubjectID(id))
	}
	return ids, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW SCANNING
// ══════════════════════════════════════════════════════════════════════════════

func scanState(row pgx.Row) (*progression.State, error) {
	var (
		subjectID      string
		state          progression.State
		lastActiveDate *time.Time
	)
	err := row.Scan(&subjectID, &state.TotalXP, &state.Level,
		&state.StreakCount, &state.BestStreak, &lastActiveDate, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}
	state.SubjectID = shared.SubjectID(subjectID)
	state.LastActiveDate = lastActiveDate
	return &state, nil
}

func scanEvents(rows pgx.Rows) ([]progression.ExperienceEvent, error) {
	var events []progression.ExperienceEvent
	for rows.Next() {
		var (
			e         progression.ExperienceEvent
			subjectID string
			reason    string
			taskID    string
			itemType  string
		)
		if err := rows.Scan(&e.ID, &subjectID, &e.Amount, &reason, &taskID, &itemType, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: failed to scan event: %w", err)
		}
		e.SubjectID = shared.SubjectID(subjectID)
		e.Reason = progression.Reason(reason)
		e.TaskID = shared.TaskID(taskID)
		e.ItemType = progression.ItemType(itemType)
		events = append(events, e)
	}
	return events, rows.Err()
}
