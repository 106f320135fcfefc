package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/studydeck/studydeck-progression/internal/application/saga"
	"github.com/studydeck/studydeck-progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RETRY ACHIEVEMENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RetryAchievementsJob sweeps every subject through the achievement
// catch-up saga. Unlock inserts that failed after a successful XP
// commit are re-derived here: the evaluator over the full journal is
// idempotent, so running the sweep repeatedly is safe.
type RetryAchievementsJob struct {
	flow *saga.AchievementFlowSaga
	log  *logger.Logger

	// Timeout bounds one full sweep.
	Timeout time.Duration
}

// NewRetryAchievementsJob creates the job.
func NewRetryAchievementsJob(flow *saga.AchievementFlowSaga, log *logger.Logger) *RetryAchievementsJob {
	return &RetryAchievementsJob{
		flow:    flow,
		log:     log.With(logger.Component("retry_achievements")),
		Timeout: 5 * time.Minute,
	}
}

// Name implements scheduler.Job.
func (j *RetryAchievementsJob) Name() string {
	return "retry_achievements"
}

// Description implements scheduler.Job.
func (j *RetryAchievementsJob) Description() string {
	return "re-evaluates achievements for all subjects and inserts missed unlocks"
}

// Run implements scheduler.Job.
func (j *RetryAchievementsJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	unlocked, err := j.flow.CatchUpAll(ctx)
	if err != nil {
		return fmt.Errorf("achievement catch-up sweep: %w", err)
	}

	j.log.Info("achievement catch-up finished", logger.Int("unlocked", unlocked))
	return nil
}
