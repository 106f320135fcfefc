// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"sync"
	"time"

	"github.com/studydeck/studydeck-progression/internal/domain/achievement"
	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
	"github.com/studydeck/studydeck-progression/pkg/logger"
	"github.com/studydeck/studydeck-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REWARD ORCHESTRATOR
// Shared machinery of the reward write path: per-subject serialization,
// the client snapshot cache, bonus configuration, and the clock. Award and
// revoke handlers are thin wrappers around this state.
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotCache is the port for the in-memory client snapshot mirror.
// Implementations must never block on I/O: display surfaces read from
// this cache on every frame.
type SnapshotCache interface {
	// Get returns the cached snapshot for a subject, if present.
	Get(subjectID shared.SubjectID) (*progression.Snapshot, bool)

	// Put stores the snapshot for a subject, replacing any previous one.
	Put(subjectID shared.SubjectID, snap *progression.Snapshot)
}

// RewardConfig holds the tunable amounts of the reward pipeline.
type RewardConfig struct {
	// StreakBonusXP is granted once per calendar day when the streak
	// advances to 2 or more.
	StreakBonusXP int

	// DailyGoalBonusXP is granted on the completion that brings the
	// day's positive completion count to exactly DailyGoalThreshold.
	DailyGoalBonusXP int

	// DailyGoalThreshold is the number of completions that make the
	// daily goal.
	DailyGoalThreshold int

	// DisableAchievements turns off catalog evaluation. Unlocked
	// achievements stay unlocked; no new ones are granted.
	DisableAchievements bool
}

// DefaultRewardConfig returns default bonus amounts.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		StreakBonusXP:      10,
		DailyGoalBonusXP:   25,
		DailyGoalThreshold: 5,
	}
}

// subjectLocks serializes reward operations per subject. Operations on
// different subjects proceed independently.
type subjectLocks struct {
	mu    sync.Mutex
	locks map[shared.SubjectID]*sync.Mutex
}

func newSubjectLocks() *subjectLocks {
	return &subjectLocks{locks: make(map[shared.SubjectID]*sync.Mutex)}
}

// acquire locks the subject and returns the unlock function.
func (l *subjectLocks) acquire(subjectID shared.SubjectID) func() {
	l.mu.Lock()
	lock, ok := l.locks[subjectID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[subjectID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Orchestrator bundles the dependencies shared by the reward handlers.
type Orchestrator struct {
	ledger    progression.Ledger
	unlocks   achievement.Repository
	evaluator *achievement.Evaluator
	cache     SnapshotCache
	publisher shared.EventPublisher
	clock     *timeutil.Clock
	log       *logger.Logger
	cfg       RewardConfig

	locks *subjectLocks

	// newID generates ledger event IDs. Overridable in tests.
	newID func() string
}

// NewOrchestrator creates the shared reward machinery.
func NewOrchestrator(
	ledger progression.Ledger,
	unlocks achievement.Repository,
	cache SnapshotCache,
	publisher shared.EventPublisher,
	clock *timeutil.Clock,
	log *logger.Logger,
	cfg RewardConfig,
	newID func() string,
) *Orchestrator {
	if cfg.DailyGoalThreshold <= 0 {
		cfg = DefaultRewardConfig()
	}
	if clock == nil {
		clock = timeutil.UTC()
	}
	if log == nil {
		log = logger.Default()
	}

	return &Orchestrator{
		ledger:    ledger,
		unlocks:   unlocks,
		evaluator: achievement.NewEvaluator(),
		cache:     cache,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("reward_orchestrator")),
		cfg:       cfg,
		locks:     newSubjectLocks(),
		newID:     newID,
	}
}

// LockSubject takes the per-subject lock and returns the unlock
// function. The read side uses it to refresh the snapshot cache
// without racing a reward in flight.
func (o *Orchestrator) LockSubject(subjectID shared.SubjectID) func() {
	return o.locks.acquire(subjectID)
}

// snapshotFor returns the cached snapshot for the subject, seeding the
// cache from the fetched record on first access.
func (o *Orchestrator) snapshotFor(subjectID shared.SubjectID, record *progression.SubjectRecord) *progression.Snapshot {
	if snap, ok := o.cache.Get(subjectID); ok && snap.Loaded {
		return snap
	}

	snap := progression.NewSnapshot(record.State.Clone())
	snap.RecentEvents = append([]progression.ExperienceEvent(nil), record.RecentEvents...)
	snap.UnlockedIDs = append([]string(nil), record.UnlockedIDs...)
	snap.Loaded = true
	o.cache.Put(subjectID, snap)
	return snap
}

// publish sends events to the bus, attaching the correlation ID where
// the event supports it. Publish errors are logged, never propagated:
// the commit already happened.
func (o *Orchestrator) publish(events []shared.Event) {
	if o.publisher == nil {
		return
	}
	for _, event := range events {
		if err := o.publisher.Publish(event); err != nil {
			o.log.Warn("event publish failed",
				logger.String("event_type", string(event.EventType())),
				logger.Err(err))
		}
	}
}

// persistUnlocks inserts unlock records and returns the definitions
// that actually made it to the store, with their events, in catalog
/// order. Insert failures are logged and skipped: the unlock will be
// retried by the background pass, and a skipped definition must not be
// reported or mirrored into the snapshot, or the catch-up pass would
// notify it a second time.
func (o *Orchestrator) persistUnlocks(
	ctx context.Context,
	subjectID shared.SubjectID,
	newly []achievement.Definition,
	unlockedAt time.Time,
	correlationID string,
) ([]achievement.Definition, []shared.Event) {
	persisted := make([]achievement.Definition, 0, len(newly))
	events := make([]shared.Event, 0, len(newly))
	for _, def := range newly {
		rec, err := achievement.NewUnlocked(o.newID(), subjectID, def.ID, unlockedAt)
		if err != nil {
			o.log.Error("invalid unlock record",
				logger.SubjectID(subjectID.String()),
				logger.AchievementID(def.ID.String()),
				logger.Err(err))
			continue
		}
		if err := o.unlocks.Insert(ctx, rec); err != nil {
			o.log.Warn("achievement unlock insert failed",
				logger.SubjectID(subjectID.String()),
				logger.AchievementID(def.ID.String()),
				logger.Err(err))
			continue
		}

		event := shared.NewAchievementUnlockedEvent(
			subjectID.String(), def.ID.String(), def.Title, def.Description)
		if correlationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(correlationID)
		}
		persisted = append(persisted, def)
		events = append(events, event)
	}
	return persisted, events
}
