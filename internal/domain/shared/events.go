// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Progression events
	EventXPAwarded     EventType = "progression.xp_awarded"
	EventXPRevoked     EventType = "progression.xp_revoked"
	EventLevelUp       EventType = "progression.level_up"
	EventStreakUpdated EventType = "progression.streak_updated"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// Commit events
	EventCommitFailed EventType = "ledger.commit_failed"

	// System events
	EventReconcileCompleted EventType = "system.reconcile_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted after a successful award commit.
// Breakdown carries the composed batch itemised by reason so that display
// surfaces can render "base + streak bonus + daily goal" in one notification.
type XPAwardedEvent struct {
	BaseEvent
	SubjectID string         `json:"subject_id"`
	TaskID    string         `json:"task_id"`
	ItemType  string         `json:"item_type"`
	Breakdown map[string]int `json:"breakdown"` // reason -> amount
	TotalGain int            `json:"total_gain"`
	NewTotal  int            `json:"new_total"`
	NewLevel  int            `json:"new_level"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subject_id": e.SubjectID,
		"task_id":    e.TaskID,
		"item_type":  e.ItemType,
		"breakdown":  e.Breakdown,
		"total_gain": e.TotalGain,
		"new_total":  e.NewTotal,
		"new_level":  e.NewLevel,
	}
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(subjectID, taskID, itemType string, breakdown map[string]int, totalGain, newTotal, newLevel int) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent: NewBaseEvent(EventXPAwarded, subjectID),
		SubjectID: subjectID,
		TaskID:    taskID,
		ItemType:  itemType,
		Breakdown: breakdown,
		TotalGain: totalGain,
		NewTotal:  newTotal,
		NewLevel:  newLevel,
	}
}

// XPRevokedEvent is emitted after a successful revoke commit.
type XPRevokedEvent struct {
	BaseEvent
	SubjectID     string `json:"subject_id"`
	TaskID        string `json:"task_id"`
	RevokedAmount int    `json:"revoked_amount"`
	NewTotal      int    `json:"new_total"`
	NewLevel      int    `json:"new_level"`
}

// Payload implements Event interface.
func (e XPRevokedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subject_id":     e.SubjectID,
		"task_id":        e.TaskID,
		"revoked_amount": e.RevokedAmount,
		"new_total":      e.NewTotal,
		"new_level":      e.NewLevel,
	}
}

// NewXPRevokedEvent creates a new XPRevokedEvent.
func NewXPRevokedEvent(subjectID, taskID string, revokedAmount, newTotal, newLevel int) XPRevokedEvent {
	return XPRevokedEvent{
		BaseEvent:     NewBaseEvent(EventXPRevoked, subjectID),
		SubjectID:     subjectID,
		TaskID:        taskID,
		RevokedAmount: revokedAmount,
		NewTotal:      newTotal,
		NewLevel:      newLevel,
	}
}

// LevelUpEvent is emitted at most once per award call, carrying the final
// level reached even when the award crossed several level boundaries.
type LevelUpEvent struct {
	BaseEvent
	SubjectID string `json:"subject_id"`
	OldLevel  int    `json:"old_level"`
	NewLevel  int    `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subject_id": e.SubjectID,
		"old_level":  e.OldLevel,
		"new_level":  e.NewLevel,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(subjectID string, oldLevel, newLevel int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, subjectID),
		SubjectID: subjectID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// StreakUpdatedEvent is emitted when the daily streak transition fires.
type StreakUpdatedEvent struct {
	BaseEvent
	SubjectID      string `json:"subject_id"`
	PreviousStreak int    `json:"previous_streak"`
	CurrentStreak  int    `json:"current_streak"`
	BonusGranted   bool   `json:"bonus_granted"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subject_id":      e.SubjectID,
		"previous_streak": e.PreviousStreak,
		"current_streak":  e.CurrentStreak,
		"bonus_granted":   e.BonusGranted,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(subjectID string, previousStreak, currentStreak int, bonusGranted bool) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:      NewBaseEvent(EventStreakUpdated, subjectID),
		SubjectID:      subjectID,
		PreviousStreak: previousStreak,
		CurrentStreak:  currentStreak,
		BonusGranted:   bonusGranted,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per newly unlocked achievement,
// in catalog order.
type AchievementUnlockedEvent struct {
	BaseEvent
	SubjectID     string `json:"subject_id"`
	AchievementID string `json:"achievement_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subject_id":     e.SubjectID,
		"achievement_id": e.AchievementID,
		"title":          e.Title,
		"description":    e.Description,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(subjectID, achievementID, title, description string) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, subjectID),
		SubjectID:     subjectID,
		AchievementID: achievementID,
		Title:         title,
		Description:   description,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Commit Events
// ═══════════════════════════════════════════════════════════════════════════

// CommitFailedEvent is emitted when a durable commit is rejected and the
// optimistic snapshot has been rolled back.
type CommitFailedEvent struct {
	BaseEvent
	SubjectID string `json:"subject_id"`
	Operation string `json:"operation"` // "award" or "revoke"
	TaskID    string `json:"task_id"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e CommitFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subject_id": e.SubjectID,
		"operation":  e.Operation,
		"task_id":    e.TaskID,
		"reason":     e.Reason,
	}
}

// NewCommitFailedEvent creates a new CommitFailedEvent.
func NewCommitFailedEvent(subjectID, operation, taskID, reason string) CommitFailedEvent {
	return CommitFailedEvent{
		BaseEvent: NewBaseEvent(EventCommitFailed, subjectID),
		SubjectID: subjectID,
		Operation: operation,
		TaskID:    taskID,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// ReconcileCompletedEvent is emitted after a ledger reconciliation sweep.
type ReconcileCompletedEvent struct {
	BaseEvent
	SubjectsChecked  int `json:"subjects_checked"`
	SubjectsRepaired int `json:"subjects_repaired"`
	SubjectsFailed   int `json:"subjects_failed"`
}

// Payload implements Event interface.
func (e ReconcileCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subjects_checked":  e.SubjectsChecked,
		"subjects_repaired": e.SubjectsRepaired,
		"subjects_failed":   e.SubjectsFailed,
	}
}

// NewReconcileCompletedEvent creates a new ReconcileCompletedEvent.
func NewReconcileCompletedEvent(checked, repaired, failed int) ReconcileCompletedEvent {
	return ReconcileCompletedEvent{
		BaseEvent:        NewBaseEvent(EventReconcileCompleted, "system"),
		SubjectsChecked:  checked,
		SubjectsRepaired: repaired,
		SubjectsFailed:   failed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
